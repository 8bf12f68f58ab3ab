// files.go — обработчики /api/v1/files: загрузка, список, метаданные, отправка ссылки.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/fileshare/internal/api/errors"
	"github.com/bigkaa/fileshare/internal/api/middleware"
	"github.com/bigkaa/fileshare/internal/service"
)

// formFieldFile — имя поля multipart с содержимым файла.
const formFieldFile = "file"

// maxShareBodySize — предельный размер тела запроса отправки ссылки.
const maxShareBodySize = 64 << 10

// shareRequest — тело POST /api/v1/files/{locator}/share.
type shareRequest struct {
	RecipientEmail openapi_types.Email `json:"recipient_email"`
}

// UploadFile — POST /api/v1/files.
// Содержимое читается потоком из multipart без буферизации в памяти.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	who := middleware.IdentityFromContext(r.Context())
	if who == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			h.writeServiceError(w, r, "upload", service.ErrNoFileProvided)
			return
		}
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				apierrors.PayloadTooLarge(w, "Превышен максимальный размер файла")
				return
			}
			apierrors.ValidationError(w, "Некорректное тело multipart")
			return
		}
		if part.FormName() != formFieldFile || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		view, err := h.files.Ingest(r.Context(), who, part, part.FileName())
		_ = part.Close()
		if err != nil {
			h.writeServiceError(w, r, "upload", err)
			return
		}

		w.Header().Set("Location", "/api/v1/files/"+view.Record.Locator)
		writeJSON(w, http.StatusCreated, toFileInfo(view))
		return
	}
}

// ListFiles — GET /api/v1/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	views, err := h.files.ListMine(r.Context(), middleware.IdentityFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, "list", err)
		return
	}

	resp := fileListResponse{Files: make([]fileInfoResponse, 0, len(views))}
	for _, v := range views {
		resp.Files = append(resp.Files, toFileInfo(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFileInfo — GET /api/v1/files/{locator}.
func (h *APIHandler) GetFileInfo(w http.ResponseWriter, r *http.Request) {
	view, err := h.files.Info(r.Context(), middleware.IdentityFromContext(r.Context()), chi.URLParam(r, "locator"))
	if err != nil {
		h.writeServiceError(w, r, "info", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileInfo(view))
}

// ShareFile — POST /api/v1/files/{locator}/share.
func (h *APIHandler) ShareFile(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxShareBodySize)).Decode(&req); err != nil {
		if errors.Is(err, openapi_types.ErrValidationEmail) {
			h.writeServiceError(w, r, "share", service.ErrInvalidEmail)
			return
		}
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	view, err := h.files.Share(r.Context(), middleware.IdentityFromContext(r.Context()),
		chi.URLParam(r, "locator"), string(req.RecipientEmail))
	if err != nil {
		h.writeServiceError(w, r, "share", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileInfo(view))
}
