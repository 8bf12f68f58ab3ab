// downloads.go — скачивание содержимого по трём каналам:
// владелец (/api/v1/files/{locator}/download), адресат
// (/api/v1/shared/{locator}/download) и публичная ссылка (/d/{locator}).
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/fileshare/internal/api/middleware"
	"github.com/bigkaa/fileshare/internal/domain/model"
	"github.com/bigkaa/fileshare/internal/domain/policy"
	"github.com/bigkaa/fileshare/internal/service"
	"github.com/bigkaa/fileshare/internal/ui/pages"
)

// DownloadOwner — GET /api/v1/files/{locator}/download.
func (h *APIHandler) DownloadOwner(w http.ResponseWriter, r *http.Request) {
	h.serveDownload(w, r, middleware.IdentityFromContext(r.Context()), policy.ChannelOwner)
}

// DownloadShared — GET /api/v1/shared/{locator}/download.
func (h *APIHandler) DownloadShared(w http.ResponseWriter, r *http.Request) {
	h.serveDownload(w, r, middleware.IdentityFromContext(r.Context()), policy.ChannelRecipient)
}

// DownloadPublic — GET /d/{locator}. Личность не проверяется.
// Браузер при отказе получает HTML-страницу вместо JSON.
func (h *APIHandler) DownloadPublic(w http.ResponseWriter, r *http.Request) {
	h.serveDownload(w, r, nil, policy.ChannelPublic)
}

func (h *APIHandler) serveDownload(w http.ResponseWriter, r *http.Request, who *model.Identity, channel policy.Channel) {
	loc := chi.URLParam(r, "locator")

	d, err := h.files.Retrieve(r.Context(), who, loc, channel)
	if err != nil {
		if channel == policy.ChannelPublic && acceptsHTML(r) {
			h.writeNotice(w, r, err)
			return
		}
		h.writeServiceError(w, r, "download_"+string(channel), err)
		return
	}
	defer d.Body.Close()

	w.Header().Set("Content-Type", contentTypeFor(d.DisplayName))
	w.Header().Set("Content-Disposition", attachment(d.DisplayName))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)

	// Счётчик уже учтён; обрыв передачи только логируется
	if n, err := io.Copy(w, d.Body); err != nil {
		h.logger.Warn("Передача содержимого прервана",
			slog.String("locator", loc),
			slog.String("channel", string(channel)),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
	}
}

// writeNotice отдаёт HTML-страницу с тем же статусом, что и JSON-ошибка.
func (h *APIHandler) writeNotice(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	data := pages.NoticeData{Kind: pages.NoticeUnavailable}

	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
		data.Kind = pages.NoticeNotFound
	case errors.Is(err, service.ErrExpired):
		status = http.StatusGone
		data.Kind = pages.NoticeExpired
		var de *service.DeniedError
		if errors.As(err, &de) {
			data.ExpiredAt = de.ExpiresAt
		}
	default:
		h.logger.Error("Ошибка скачивания по публичной ссылке",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pages.LinkNotice(data).Render(r.Context(), w); err != nil {
		h.logger.Error("Ошибка рендеринга страницы", slog.String("error", err.Error()))
	}
}

// acceptsHTML — клиент явно принимает text/html (браузер).
func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// contentTypeFor определяет MIME-тип по расширению имени файла.
func contentTypeFor(displayName string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(displayName))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// attachment формирует Content-Disposition с именем файла (RFC 6266).
func attachment(displayName string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": displayName}); v != "" {
		return v
	}
	return "attachment"
}
