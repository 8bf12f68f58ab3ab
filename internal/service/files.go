// Пакет service — бизнес-логика сервиса обмена файлами.
// files.go — жизненный цикл файла: загрузка, отправка ссылки, скачивание,
// список файлов владельца и просмотр метаданных.
package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"path"
	"strings"
	"time"

	"github.com/bigkaa/fileshare/internal/domain/locator"
	"github.com/bigkaa/fileshare/internal/domain/model"
	"github.com/bigkaa/fileshare/internal/domain/policy"
	"github.com/bigkaa/fileshare/internal/events"
	"github.com/bigkaa/fileshare/internal/notify"
	"github.com/bigkaa/fileshare/internal/repository"
	"github.com/bigkaa/fileshare/internal/storage/filestore"
)

// maxDisplayNameLen — предельная длина имени файла в символах.
const maxDisplayNameLen = 255

// BlobStore — хранилище содержимого файлов.
type BlobStore interface {
	Save(ctx context.Context, r io.Reader, displayName, ownerID string) (*filestore.SaveResult, error)
	Open(blobLocator string) (io.ReadCloser, error)
	Exists(blobLocator string) bool
	Delete(blobLocator string) error
}

// Notifier — постановка письма в очередь доставки.
type Notifier interface {
	Enqueue(ctx context.Context, msg notify.Message) error
}

// FileServiceConfig — параметры FileService.
type FileServiceConfig struct {
	// BaseURL — внешний адрес сервиса без trailing slash
	BaseURL string
	// AllowedExtensions — разрешённые расширения (пусто — любые)
	AllowedExtensions []string
}

// FileView — запись о файле с вычисленными на момент запроса полями.
type FileView struct {
	Record *model.FileRecord
	// Expired — истёк ли срок жизни на момент запроса
	Expired bool
	// RetrievalAddress — публичная ссылка на скачивание
	RetrievalAddress string
	// RecipientAddress — ссылка для адресата (требует входа)
	RecipientAddress string
}

// Download — открытый поток содержимого. Вызывающий код обязан закрыть Body.
type Download struct {
	Body        io.ReadCloser
	DisplayName string
	Record      *model.FileRecord
}

// FileService — контроллер жизненного цикла файлов.
// Каждая операция принимает субъекта запроса явно (nil — анонимный).
type FileService struct {
	repo      repository.FileRepository
	blobs     BlobStore
	cache     *CacheService
	notifier  Notifier
	publisher events.Publisher
	cfg       FileServiceConfig
	allowed   map[string]struct{}
	logger    *slog.Logger
	now       func() time.Time
}

// NewFileService создаёт FileService. cache может быть nil.
func NewFileService(
	repo repository.FileRepository,
	blobs BlobStore,
	cache *CacheService,
	notifier Notifier,
	publisher events.Publisher,
	cfg FileServiceConfig,
	logger *slog.Logger,
) *FileService {
	var allowed map[string]struct{}
	if len(cfg.AllowedExtensions) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedExtensions))
		for _, ext := range cfg.AllowedExtensions {
			allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &FileService{
		repo:      repo,
		blobs:     blobs,
		cache:     cache,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		allowed:   allowed,
		logger:    logger.With(slog.String("component", "file_service")),
		now:       time.Now,
	}
}

// RetrievalAddress — публичная ссылка на файл.
func (s *FileService) RetrievalAddress(loc string) string {
	return s.cfg.BaseURL + "/d/" + loc
}

// RecipientAddress — ссылка для адресата письма.
func (s *FileService) RecipientAddress(loc string) string {
	return s.cfg.BaseURL + "/api/v1/shared/" + loc + "/download"
}

// Ingest сохраняет содержимое и создаёт запись о файле.
//
// Поток:
//  1. Проверка имени и расширения, проверка что поток не пуст
//  2. Генерация адреса, expiresAt = now + TTL
//  3. Запись содержимого (ErrBlobWriteFailed — запись не создаётся)
//  4. Создание записи; при ошибке содержимое удаляется
func (s *FileService) Ingest(ctx context.Context, who *model.Identity, r io.Reader, displayName string) (*FileView, error) {
	if who == nil || who.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if r == nil {
		return nil, ErrNoFileProvided
	}

	name, err := s.normalizeDisplayName(displayName)
	if err != nil {
		ingestTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// Пустой поток равносилен отсутствию файла
	br := bufio.NewReader(r)
	if _, err := br.Peek(1); err != nil {
		ingestTotal.WithLabelValues("rejected").Inc()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoFileProvided
		}
		return nil, fmt.Errorf("%w: %w", ErrBlobWriteFailed, err)
	}

	loc := locator.Generate()
	now := s.now().UTC()

	saved, err := s.blobs.Save(ctx, br, name, who.UserID)
	if err != nil {
		ingestTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка записи содержимого",
			slog.String("locator", loc),
			slog.String("owner_id", who.UserID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrBlobWriteFailed, err)
	}

	rec := &model.FileRecord{
		Locator:     loc,
		OwnerID:     who.UserID,
		OwnerEmail:  who.Email,
		DisplayName: name,
		BlobLocator: saved.BlobLocator,
		CreatedAt:   now,
		ExpiresAt:   now.Add(model.TTL),
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		ingestTotal.WithLabelValues("error").Inc()
		if delErr := s.blobs.Delete(saved.BlobLocator); delErr != nil {
			s.logger.Error("Не удалось удалить содержимое после ошибки создания записи",
				slog.String("blob_locator", saved.BlobLocator),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("создание записи файла: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(rec)
	}
	ingestTotal.WithLabelValues("success").Inc()
	ingestBytesTotal.Add(float64(saved.Size))

	s.logger.Info("Файл загружен",
		slog.String("locator", loc),
		slog.String("owner_id", who.UserID),
		slog.String("display_name", name),
		slog.Int64("size", saved.Size),
		slog.String("checksum", saved.Checksum),
	)
	s.emit(ctx, events.Event{
		Type:       events.TypeFileIngested,
		Locator:    loc,
		ActorID:    who.UserID,
		OccurredAt: now,
	})

	return s.view(rec, now), nil
}

// Share привязывает адресата к файлу и отправляет ему письмо со ссылкой.
// Ошибка постановки письма в очередь только логируется.
// Повторная отправка перезаписывает адресата.
func (s *FileService) Share(ctx context.Context, who *model.Identity, loc, recipientEmail string) (*FileView, error) {
	email, err := normalizeEmail(recipientEmail)
	if err != nil {
		sharesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	rec, err := s.load(ctx, loc)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	d := policy.Decide(policy.Input{
		Record:    rec,
		Requester: who,
		Action:    policy.ActionShare,
		Now:       now,
	})
	if !d.Allowed {
		s.deny(policy.ActionShare, "", d, loc)
		sharesTotal.WithLabelValues("denied").Inc()
		return nil, denied(policy.ActionShare, d, rec)
	}

	sender := rec.OwnerEmail
	if who.Email != "" {
		sender = who.Email
	}
	msg, err := notify.RenderShare(ctx, email, notify.ShareData{
		SenderEmail: sender,
		DisplayName: rec.DisplayName,
		ExpiresAt:   rec.ExpiresAt,
		Link:        s.RecipientAddress(rec.Locator),
	})
	if err != nil {
		s.logger.Error("Ошибка рендеринга письма",
			slog.String("locator", loc),
			slog.String("error", err.Error()),
		)
	} else if err := s.notifier.Enqueue(ctx, msg); err != nil {
		s.logger.Warn("Письмо адресату не поставлено в очередь",
			slog.String("locator", loc),
			slog.String("recipient", email),
			slog.String("error", err.Error()),
		)
	}

	updated, err := s.repo.SetRecipient(ctx, rec.Locator, email)
	if err != nil {
		sharesTotal.WithLabelValues("error").Inc()
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("запись адресата: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(updated)
	}
	sharesTotal.WithLabelValues("success").Inc()

	s.logger.Info("Ссылка на файл отправлена",
		slog.String("locator", loc),
		slog.String("owner_id", who.UserID),
		slog.String("recipient", email),
	)
	s.emit(ctx, events.Event{
		Type:       events.TypeFileShared,
		Locator:    loc,
		ActorID:    who.UserID,
		OccurredAt: now,
	})

	return s.view(updated, now), nil
}

// Retrieve выдаёт содержимое файла по одному из каналов.
// Счётчик скачиваний увеличивается до чтения содержимого и не
// откатывается при последующей ошибке чтения или обрыве передачи.
func (s *FileService) Retrieve(ctx context.Context, who *model.Identity, loc string, channel policy.Channel) (*Download, error) {
	rec, cached, err := s.loadForDownload(ctx, loc)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	d := s.decideDownload(rec, who, channel, now)

	// Адресат мог смениться на другом экземпляре: решение по адресату
	// принимается только по свежей записи
	if cached && dependsOnRecipient(rec, who, channel, d) {
		rec, err = s.load(ctx, loc)
		if err != nil {
			return nil, err
		}
		s.refreshCache(loc, rec)
		d = s.decideDownload(rec, who, channel, now)
	}

	if !d.Allowed {
		s.deny(policy.ActionDownload, channel, d, loc)
		downloadsTotal.WithLabelValues(string(channel), "denied").Inc()
		return nil, denied(policy.ActionDownload, d, rec)
	}

	updated, err := s.repo.IncrementDownloadCount(ctx, rec.Locator)
	if err != nil {
		downloadsTotal.WithLabelValues(string(channel), "error").Inc()
		if errors.Is(err, repository.ErrNotFound) {
			s.refreshCache(loc, nil)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("учёт скачивания: %w", err)
	}
	s.refreshCache(loc, updated)

	body, err := s.blobs.Open(updated.BlobLocator)
	if err != nil {
		downloadsTotal.WithLabelValues(string(channel), "error").Inc()
		s.logger.Error("Ошибка чтения содержимого",
			slog.String("locator", loc),
			slog.String("blob_locator", updated.BlobLocator),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrBlobReadFailed, err)
	}

	downloadsTotal.WithLabelValues(string(channel), "success").Inc()

	actor := ""
	if who != nil {
		actor = who.UserID
	}
	s.logger.Debug("Скачивание выдано",
		slog.String("locator", loc),
		slog.String("channel", string(channel)),
		slog.String("actor_id", actor),
		slog.Int64("download_count", updated.DownloadCount),
	)
	s.emit(ctx, events.Event{
		Type:          events.TypeFileDownloaded,
		Locator:       loc,
		ActorID:       actor,
		Channel:       string(channel),
		DownloadCount: updated.DownloadCount,
		OccurredAt:    now,
	})

	return &Download{Body: body, DisplayName: updated.DisplayName, Record: updated}, nil
}

// ListMine возвращает файлы субъекта, новые первыми, включая истёкшие.
func (s *FileService) ListMine(ctx context.Context, who *model.Identity) ([]*FileView, error) {
	if who == nil || who.UserID == "" {
		return nil, ErrUnauthenticated
	}

	records, err := s.repo.ListByOwner(ctx, who.UserID)
	if err != nil {
		return nil, fmt.Errorf("список файлов: %w", err)
	}

	now := s.now().UTC()
	result := make([]*FileView, 0, len(records))
	for _, rec := range records {
		result = append(result, s.view(rec, now))
	}
	return result, nil
}

// Info возвращает метаданные файла владельцу, в том числе после истечения срока.
func (s *FileService) Info(ctx context.Context, who *model.Identity, loc string) (*FileView, error) {
	rec, err := s.load(ctx, loc)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	d := policy.Decide(policy.Input{
		Record:    rec,
		Requester: who,
		Action:    policy.ActionView,
		Now:       now,
	})
	if !d.Allowed {
		s.deny(policy.ActionView, "", d, loc)
		return nil, denied(policy.ActionView, d, rec)
	}
	return s.view(rec, now), nil
}

// load читает запись из хранилища. Отсутствующая запись — (nil, nil):
// решение NotFound принимает политика.
func (s *FileService) load(ctx context.Context, loc string) (*model.FileRecord, error) {
	if !locator.Valid(loc) {
		return nil, nil
	}
	rec, err := s.repo.GetByLocator(ctx, loc)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("чтение записи файла: %w", err)
	}
	return rec, nil
}

// loadForDownload — load с кэшем. Второе значение — запись взята из кэша.
func (s *FileService) loadForDownload(ctx context.Context, loc string) (*model.FileRecord, bool, error) {
	if s.cache != nil {
		if rec, ok := s.cache.Get(loc); ok {
			return rec, true, nil
		}
	}
	rec, err := s.load(ctx, loc)
	if err != nil {
		return nil, false, err
	}
	if rec != nil && s.cache != nil {
		s.cache.Set(rec)
	}
	return rec, false, nil
}

func (s *FileService) decideDownload(rec *model.FileRecord, who *model.Identity, channel policy.Channel, now time.Time) policy.Decision {
	blobExists := false
	if rec != nil && !rec.IsExpired(now) {
		blobExists = s.blobs.Exists(rec.BlobLocator)
	}
	return policy.Decide(policy.Input{
		Record:     rec,
		Requester:  who,
		Action:     policy.ActionDownload,
		Channel:    channel,
		Now:        now,
		BlobExists: blobExists,
	})
}

// refreshCache кладёт свежую запись в кэш; nil — запись исчезла, вытесняем.
func (s *FileService) refreshCache(loc string, rec *model.FileRecord) {
	if s.cache == nil {
		return
	}
	if rec == nil {
		s.cache.Delete(loc)
		return
	}
	s.cache.Set(rec)
}

// dependsOnRecipient — исход скачивания определяется полем адресата:
// допуск адресата (не владельца) или отказ NotRecipientOrOwner.
func dependsOnRecipient(rec *model.FileRecord, who *model.Identity, channel policy.Channel, d policy.Decision) bool {
	if channel != policy.ChannelRecipient {
		return false
	}
	if !d.Allowed {
		return d.Reason == policy.ReasonNotRecipientOrOwner
	}
	return rec != nil && (who == nil || !rec.IsOwnedBy(who.UserID))
}

func (s *FileService) view(rec *model.FileRecord, now time.Time) *FileView {
	return &FileView{
		Record:           rec,
		Expired:          rec.IsExpired(now),
		RetrievalAddress: s.RetrievalAddress(rec.Locator),
		RecipientAddress: s.RecipientAddress(rec.Locator),
	}
}

func (s *FileService) deny(action policy.Action, channel policy.Channel, d policy.Decision, loc string) {
	accessDeniedTotal.WithLabelValues(string(action), string(d.Reason)).Inc()
	s.logger.Debug("Доступ запрещён",
		slog.String("action", string(action)),
		slog.String("channel", string(channel)),
		slog.String("reason", string(d.Reason)),
		slog.String("locator", loc),
	)
}

// emit публикует событие; ошибка только логируется.
func (s *FileService) emit(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := events.Emit(ctx, s.publisher, ev); err != nil {
		s.logger.Warn("Событие не опубликовано",
			slog.String("event_type", ev.Type),
			slog.String("locator", ev.Locator),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeDisplayName оставляет только имя файла без пути и проверяет расширение.
func (s *FileService) normalizeDisplayName(displayName string) (string, error) {
	name := strings.TrimSpace(strings.ReplaceAll(displayName, `\`, "/"))
	if name == "" {
		return "", ErrNoFileProvided
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return "", ErrNoFileProvided
	}
	if len([]rune(name)) > maxDisplayNameLen {
		return "", fmt.Errorf("%w: имя файла длиннее %d символов", ErrValidation, maxDisplayNameLen)
	}

	if s.allowed != nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
		if _, ok := s.allowed[ext]; !ok {
			return "", fmt.Errorf("%w: недопустимый тип файла %q", ErrValidation, name)
		}
	}
	return name, nil
}

// normalizeEmail проверяет адрес получателя и приводит его к нижнему регистру.
// Допускается только голый адрес без отображаемого имени.
func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	if !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".") {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}
