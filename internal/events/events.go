// Пакет events — публикация событий доступа к файлам
// (загрузка, отправка ссылки, скачивание) во внешнюю шину.
// Ошибки публикации не влияют на исход операции: вызывающий код их только логирует.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Типы событий.
const (
	TypeFileIngested   = "file.ingested"
	TypeFileShared     = "file.shared"
	TypeFileDownloaded = "file.downloaded"
)

// Event — событие доступа к файлу.
type Event struct {
	// Type — тип события (TypeFile*)
	Type string `json:"type"`
	// Locator — адрес файла, он же ключ партиционирования
	Locator string `json:"locator"`
	// ActorID — идентификатор субъекта (пусто для анонимного скачивания)
	ActorID string `json:"actor_id,omitempty"`
	// Channel — канал скачивания (только для file.downloaded)
	Channel string `json:"channel,omitempty"`
	// DownloadCount — значение счётчика после скачивания
	DownloadCount int64 `json:"download_count,omitempty"`
	// OccurredAt — время события
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher — публикация сырых сообщений.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
	Close() error
}

// Emit сериализует событие и публикует его через p.
func Emit(ctx context.Context, p Publisher, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события %s: %w", ev.Type, err)
	}
	if err := p.Publish(ctx, ev.Type, payload, ev.Locator); err != nil {
		return fmt.Errorf("ошибка публикации события %s: %w", ev.Type, err)
	}
	return nil
}

// LoggingPublisher пишет события в лог. Используется, когда брокеры не заданы.
type LoggingPublisher struct {
	logger *slog.Logger
}

// NewLoggingPublisher создаёт публикатор в лог.
func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger.With(slog.String("component", "events"))}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.DebugContext(ctx, "Событие",
		slog.String("event_type", eventType),
		slog.String("partition_key", partitionKey),
		slog.Int("payload_bytes", len(payload)),
	)
	return nil
}

func (p *LoggingPublisher) Close() error { return nil }
