// Пакет model — доменные модели сервиса обмена файлами.
// FileRecord — маппинг таблицы files.
package model

import "time"

// TTL — время жизни файла после загрузки.
// Общесистемная константа: не настраивается и не продлевается.
const TTL = 24 * time.Hour

// FileRecord — запись о загруженном файле.
// Создаётся один раз при загрузке; изменяются только DownloadCount
// (при скачивании) и RecipientEmail (при отправке ссылки).
type FileRecord struct {
	// ID — суррогатный идентификатор записи (BIGSERIAL)
	ID int64
	// Locator — публичный адрес файла (UUID), первичный ключ
	Locator string
	// OwnerID — идентификатор загрузившего (из токена)
	OwnerID string
	// OwnerEmail — email загрузившего на момент загрузки
	OwnerEmail string
	// DisplayName — оригинальное имя файла
	DisplayName string
	// BlobLocator — путь к содержимому во внешнем хранилище
	BlobLocator string
	// CreatedAt — время загрузки
	CreatedAt time.Time
	// ExpiresAt — CreatedAt + TTL
	ExpiresAt time.Time
	// DownloadCount — количество выданных скачиваний
	DownloadCount int64
	// RecipientEmail — адресат последней отправки ссылки (nil — не отправлялась)
	RecipientEmail *string
}

// IsExpired сообщает, истёк ли срок жизни файла на момент now.
// Вычисляется при каждом обращении и нигде не хранится.
func (f *FileRecord) IsExpired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}

// IsOwnedBy проверяет, что userID — владелец файла.
func (f *FileRecord) IsOwnedBy(userID string) bool {
	return userID != "" && f.OwnerID == userID
}

// Identity — проверенный субъект запроса, полученный от Identity Provider.
// Единственное каноническое представление пользователя внутри сервиса.
type Identity struct {
	// UserID — стабильный идентификатор пользователя
	UserID string
	// Email — email пользователя (в нижнем регистре)
	Email string
	// Username — отображаемое имя (опционально)
	Username string
}
