// Пакет notify — доставка уведомлений о переданных файлах.
//
// Сервис только ставит готовое сообщение в очередь (Dispatcher.Enqueue)
// и не ждёт доставки. Воркеры диспетчера забирают сообщения из очереди
// и передают их отправителю (SMTP или лог). Ошибки доставки логируются
// и учитываются в метриках, повторных попыток нет.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики уведомлений.
var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_notifications_total",
		Help: "Количество уведомлений по результату (enqueued, rejected, sent, failed).",
	}, []string{"result"})

	notifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fs_notify_queue_depth",
		Help: "Число писем в локальной очереди (только для очереди в памяти).",
	})
)

// depthReporter — очередь, знающая свою текущую длину.
type depthReporter interface {
	Len() int
}

// ErrQueueFull — очередь уведомлений переполнена.
var ErrQueueFull = errors.New("очередь уведомлений переполнена")

// ErrQueueClosed — очередь закрыта.
var ErrQueueClosed = errors.New("очередь уведомлений закрыта")

// sendTimeout — предельное время доставки одного сообщения.
const sendTimeout = 30 * time.Second

// Message — готовое к отправке письмо.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

// Sender — транспорт доставки.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Queue — очередь сообщений между сервисом и воркерами.
type Queue interface {
	// Push ставит сообщение в очередь, не дожидаясь обработки.
	Push(ctx context.Context, msg Message) error
	// Pop блокируется до появления сообщения или отмены ctx.
	Pop(ctx context.Context) (Message, error)
	Close() error
}

// LogSender пишет письма в лог вместо отправки. Используется без SMTP.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender создаёт отправитель в лог.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "notify.log_sender"))}
}

// Send логирует письмо.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "Письмо не отправлено: SMTP не настроен",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.HTMLBody)),
	)
	return nil
}

// Dispatcher — пул воркеров доставки.
type Dispatcher struct {
	queue   Queue
	sender  Sender
	workers int
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher создаёт диспетчер. Воркеры запускаются в Start.
func NewDispatcher(queue Queue, sender Sender, workers int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queue:   queue,
		sender:  sender,
		workers: workers,
		logger:  logger.With(slog.String("component", "notify")),
	}
}

// Enqueue ставит сообщение в очередь. Не блокируется на доставке.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) error {
	if err := d.queue.Push(ctx, msg); err != nil {
		notificationsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	notificationsTotal.WithLabelValues("enqueued").Inc()
	d.observeDepth()
	return nil
}

func (d *Dispatcher) observeDepth() {
	if q, ok := d.queue.(depthReporter); ok {
		notifyQueueDepth.Set(float64(q.Len()))
	}
}

// Start запускает воркеров. Работают до Stop или отмены ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, i)
	}
	d.logger.Info("Воркеры уведомлений запущены", slog.Int("workers", d.workers))
}

// Stop останавливает воркеров и ждёт их завершения.
// Сообщение, уже взятое из очереди, дожидается окончания отправки.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("Воркеры уведомлений остановлены")
}

func (d *Dispatcher) run(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		msg, err := d.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			d.logger.Warn("Ошибка чтения очереди уведомлений",
				slog.Int("worker", id),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		d.observeDepth()
		d.deliver(id, msg)
	}
}

// deliver отправляет одно сообщение. Контекст не наследует отмену воркера,
// чтобы начатая отправка завершилась при остановке.
func (d *Dispatcher) deliver(id int, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg); err != nil {
		notificationsTotal.WithLabelValues("failed").Inc()
		d.logger.Error("Ошибка отправки уведомления",
			slog.Int("worker", id),
			slog.String("to", msg.To),
			slog.String("error", err.Error()),
		)
		return
	}
	notificationsTotal.WithLabelValues("sent").Inc()
	d.logger.Debug("Уведомление отправлено",
		slog.Int("worker", id),
		slog.String("to", msg.To),
	)
}
