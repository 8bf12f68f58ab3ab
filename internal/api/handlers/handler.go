// handler.go — основной обработчик API. Объединяет health и бизнес-обработчики,
// делегируя запросы в сервисный слой. Субъект запроса берётся из контекста
// (JWT middleware) и передаётся в сервис явно.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/fileshare/internal/api/errors"
	"github.com/bigkaa/fileshare/internal/domain/model"
	"github.com/bigkaa/fileshare/internal/domain/policy"
	"github.com/bigkaa/fileshare/internal/service"
)

// FileService — операции жизненного цикла файла (service.FileService).
type FileService interface {
	Ingest(ctx context.Context, who *model.Identity, r io.Reader, displayName string) (*service.FileView, error)
	Share(ctx context.Context, who *model.Identity, loc, recipientEmail string) (*service.FileView, error)
	Retrieve(ctx context.Context, who *model.Identity, loc string, channel policy.Channel) (*service.Download, error)
	ListMine(ctx context.Context, who *model.Identity) ([]*service.FileView, error)
	Info(ctx context.Context, who *model.Identity, loc string) (*service.FileView, error)
}

// APIHandler — основной обработчик API.
type APIHandler struct {
	files         FileService
	health        *HealthHandler
	contract      http.Handler
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// contract — обработчик GET /api/v1/openapi.yaml (может быть nil).
// maxUploadSize — предельный размер тела запроса загрузки в байтах.
func NewAPIHandler(
	files FileService,
	health *HealthHandler,
	contract http.Handler,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		files:         files,
		health:        health,
		contract:      contract,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetOpenAPI — OpenAPI контракт.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, r *http.Request) {
	if h.contract == nil {
		apierrors.NotFound(w, "Контракт не загружен")
		return
	}
	h.contract.ServeHTTP(w, r)
}

// --- Вспомогательные функции ---

// fileInfoResponse — JSON-представление FileView (схема FileInfo).
type fileInfoResponse struct {
	Locator          openapi_types.UUID `json:"locator"`
	DisplayName      string             `json:"display_name"`
	CreatedBy        string             `json:"created_by"`
	CreatedAt        string             `json:"created_at"`
	ExpiresAt        string             `json:"expires_at"`
	Expired          bool               `json:"expired"`
	DownloadCount    int64              `json:"download_count"`
	RecipientEmail   *string            `json:"recipient_email,omitempty"`
	RetrievalAddress string             `json:"retrieval_address"`
	RecipientAddress string             `json:"recipient_address,omitempty"`
}

// fileListResponse — схема FileList.
type fileListResponse struct {
	Files []fileInfoResponse `json:"files"`
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func toFileInfo(v *service.FileView) fileInfoResponse {
	rec := v.Record
	resp := fileInfoResponse{
		Locator:          parseUUID(rec.Locator),
		DisplayName:      rec.DisplayName,
		CreatedBy:        rec.OwnerID,
		CreatedAt:        rec.CreatedAt.UTC().Format(timeFormat),
		ExpiresAt:        rec.ExpiresAt.UTC().Format(timeFormat),
		Expired:          v.Expired,
		DownloadCount:    rec.DownloadCount,
		RecipientEmail:   rec.RecipientEmail,
		RetrievalAddress: v.RetrievalAddress,
	}
	if rec.RecipientEmail != nil {
		resp.RecipientAddress = v.RecipientAddress
	}
	return resp
}

// parseUUID конвертирует строку в UUID. Невалидная строка — uuid.Nil.
func parseUUID(s string) openapi_types.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Сообщения отказов. Отказ владельца и адресата неразличимы.
const (
	msgNotFound  = "Файл не найден"
	msgExpired   = "Срок действия ссылки истёк"
	msgForbidden = "Доступ к файлу запрещён"
)

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		apierrors.PayloadTooLarge(w, "Превышен максимальный размер файла")
	case errors.Is(err, service.ErrUnauthenticated):
		apierrors.Unauthorized(w, "Требуется аутентификация")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, msgNotFound)
	case errors.Is(err, service.ErrExpired):
		apierrors.Expired(w, msgExpired)
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, msgForbidden)
	case errors.Is(err, service.ErrNoFileProvided):
		apierrors.ValidationError(w, "Файл не передан")
	case errors.Is(err, service.ErrInvalidEmail):
		apierrors.ValidationError(w, "Некорректный email получателя")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrBlobMissing):
		h.logger.Error("Содержимое файла отсутствует",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
		)
		apierrors.BlobMissing(w, "Содержимое файла недоступно")
	default:
		h.logger.Error("Ошибка обработки запроса",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
