// Пакет policy — решение о доступе к файлу.
//
// Чистая функция без ввода-вывода: по записи файла, субъекту запроса,
// действию и каналу возвращает разрешение или конкретную причину отказа.
// Правила проверяются сверху вниз, срабатывает первое совпадение:
//
//	view, share         — запись есть → субъект аутентифицирован и владелец
//	download/owner      — запись есть → не истёк → владелец → blob есть
//	download/public     — запись есть → не истёк → blob есть (без проверки личности)
//	download/recipient  — запись есть → не истёк → владелец или адресат → blob есть
package policy

import (
	"strings"
	"time"

	"github.com/bigkaa/fileshare/internal/domain/model"
)

// Action — действие над файлом.
type Action string

const (
	ActionView     Action = "view"
	ActionShare    Action = "share"
	ActionDownload Action = "download"
)

// Channel — канал скачивания.
type Channel string

const (
	// ChannelOwner — владелец скачивает свой файл из личного кабинета.
	ChannelOwner Channel = "owner"
	// ChannelPublic — любой обладатель адреса, без аутентификации.
	// Безопасность держится только на непредсказуемости адреса.
	ChannelPublic Channel = "public"
	// ChannelRecipient — адресат письма, личность подтверждается токеном.
	ChannelRecipient Channel = "recipient"
)

// Reason — причина отказа.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonNotFound            Reason = "not_found"
	ReasonExpired             Reason = "expired"
	ReasonNotOwner            Reason = "not_owner"
	ReasonNotRecipientOrOwner Reason = "not_recipient_or_owner"
	ReasonBlobMissing         Reason = "blob_missing"
)

// Decision — результат проверки доступа.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Input — данные для принятия решения.
type Input struct {
	// Record — запись файла (nil — не найдена)
	Record *model.FileRecord
	// Requester — субъект запроса (nil — анонимный)
	Requester *model.Identity
	// Action — запрашиваемое действие
	Action Action
	// Channel — канал скачивания (только для ActionDownload)
	Channel Channel
	// Now — момент проверки
	Now time.Time
	// BlobExists — наличие содержимого во внешнем хранилище (только для ActionDownload)
	BlobExists bool
}

var allow = Decision{Allowed: true}

func deny(r Reason) Decision {
	return Decision{Reason: r}
}

// Decide вычисляет решение о доступе. Никогда не возвращает ошибку.
func Decide(in Input) Decision {
	if in.Record == nil {
		return deny(ReasonNotFound)
	}

	switch in.Action {
	case ActionView, ActionShare:
		if !isOwner(in.Record, in.Requester) {
			return deny(ReasonNotOwner)
		}
		return allow

	case ActionDownload:
		return decideDownload(in)

	default:
		// Неизвестное действие трактуется как чужое
		return deny(ReasonNotOwner)
	}
}

// decideDownload — правила трёх каналов скачивания.
// Проверка срока жизни общая для всех каналов и идёт перед проверкой личности.
func decideDownload(in Input) Decision {
	if in.Record.IsExpired(in.Now) {
		return deny(ReasonExpired)
	}

	switch in.Channel {
	case ChannelOwner:
		if !isOwner(in.Record, in.Requester) {
			return deny(ReasonNotOwner)
		}
	case ChannelPublic:
		// Проверки личности нет намеренно
	case ChannelRecipient:
		if !isOwner(in.Record, in.Requester) && !isRecipient(in.Record, in.Requester) {
			return deny(ReasonNotRecipientOrOwner)
		}
	default:
		return deny(ReasonNotOwner)
	}

	if !in.BlobExists {
		return deny(ReasonBlobMissing)
	}
	return allow
}

// isOwner — субъект аутентифицирован и является владельцем.
func isOwner(rec *model.FileRecord, who *model.Identity) bool {
	return who != nil && rec.IsOwnedBy(who.UserID)
}

// isRecipient — субъект аутентифицирован и его email совпадает с адресатом.
func isRecipient(rec *model.FileRecord, who *model.Identity) bool {
	if who == nil || who.Email == "" || rec.RecipientEmail == nil {
		return false
	}
	return strings.EqualFold(who.Email, *rec.RecipientEmail)
}
