package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryQueue — очередь в памяти процесса (буферизованный канал).
// Сообщения теряются при перезапуске.
type MemoryQueue struct {
	ch     chan Message
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue создаёт очередь заданной ёмкости.
func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan Message, size)}
}

// Push не блокируется: при заполненной очереди возвращает ErrQueueFull.
func (q *MemoryQueue) Push(_ context.Context, msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case msg, ok := <-q.ch:
		if !ok {
			return Message{}, ErrQueueClosed
		}
		return msg, nil
	}
}

// Len — количество сообщений в очереди.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}

// RedisQueue — общая очередь в списке Redis (LPUSH / BRPOP).
// Позволяет нескольким экземплярам сервиса делить доставку.
type RedisQueue struct {
	client *redis.Client
	key    string
	// pollTimeout — таймаут одного BRPOP, после которого проверяется ctx
	pollTimeout time.Duration
}

// ConnectRedis создаёт клиент Redis из URL (redis://...) или host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора URL Redis: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}
	return client, nil
}

// NewRedisQueue создаёт очередь поверх клиента. Клиент закрывается в Close.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, pollTimeout: time.Second}
}

func (q *RedisQueue) Push(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ошибка сериализации уведомления: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("ошибка записи в очередь Redis: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, redis.ErrClosed) {
				return Message{}, ErrQueueClosed
			}
			return Message{}, fmt.Errorf("ошибка чтения очереди Redis: %w", err)
		}
		// BRPOP возвращает [ключ, значение]
		if len(res) != 2 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			return Message{}, fmt.Errorf("повреждённое уведомление в очереди: %w", err)
		}
		return msg, nil
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
