// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/fileshare/internal/domain/model"
	"github.com/bigkaa/fileshare/internal/domain/policy"
)

var (
	// ErrNotFound — адрес неизвестен.
	ErrNotFound = errors.New("файл не найден")
	// ErrExpired — адрес известен, но срок жизни файла истёк.
	ErrExpired = errors.New("срок действия ссылки истёк")
	// ErrForbidden — нет прав на операцию (владелец или адресат не совпали).
	// Сообщение одинаково для обоих случаев.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrUnauthenticated — операция требует аутентифицированного субъекта.
	ErrUnauthenticated = errors.New("требуется аутентификация")
	// ErrBlobMissing — запись есть, содержимого в хранилище нет.
	ErrBlobMissing = errors.New("содержимое файла отсутствует в хранилище")
	// ErrBlobWriteFailed — хранилище не смогло сохранить содержимое.
	ErrBlobWriteFailed = errors.New("ошибка записи содержимого файла")
	// ErrBlobReadFailed — хранилище не смогло отдать содержимое.
	ErrBlobReadFailed = errors.New("ошибка чтения содержимого файла")
	// ErrNoFileProvided — файл не передан или пуст.
	ErrNoFileProvided = errors.New("файл не передан")
	// ErrInvalidEmail — некорректный адрес получателя.
	ErrInvalidEmail = errors.New("некорректный email получателя")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)

// DeniedError — отказ политики доступа с конкретной причиной.
// errors.Is сопоставляет его с ErrNotFound, ErrExpired, ErrForbidden или ErrBlobMissing.
type DeniedError struct {
	Action policy.Action
	Reason policy.Reason
	// ExpiresAt — срок жизни файла; заполняется только при ReasonExpired
	ExpiresAt time.Time
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Unwrap().Error(), e.Reason, e.Action)
}

// Unwrap возвращает sentinel-ошибку, соответствующую причине отказа.
func (e *DeniedError) Unwrap() error {
	switch e.Reason {
	case policy.ReasonNotFound:
		return ErrNotFound
	case policy.ReasonExpired:
		return ErrExpired
	case policy.ReasonBlobMissing:
		return ErrBlobMissing
	default:
		return ErrForbidden
	}
}

func denied(action policy.Action, d policy.Decision, rec *model.FileRecord) error {
	e := &DeniedError{Action: action, Reason: d.Reason}
	if d.Reason == policy.ReasonExpired && rec != nil {
		e.ExpiresAt = rec.ExpiresAt
	}
	return e
}
