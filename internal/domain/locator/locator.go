// Пакет locator — генерация публичных адресов файлов.
// Адрес — случайный UUIDv4 (122 бита из crypto/rand): не содержит
// сведений о владельце, порядке загрузки или содержимом.
package locator

import (
	"github.com/google/uuid"
)

// Generate возвращает новый уникальный адрес файла.
// При отказе источника энтропии uuid.New паникует — это фатально для процесса.
func Generate() string {
	return uuid.New().String()
}

// Valid проверяет, что строка является корректным адресом (UUID).
// Используется для отсечения заведомо неверных адресов до обращения к БД.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
