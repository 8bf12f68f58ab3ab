// Пакет filestore — хранилище содержимого файлов на локальном диске.
// Запись потоковая, SHA-256 считается на лету; содержимое не анализируется.
// Путь blob'а непрозрачен для остального сервиса и неизменен после записи.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound — blob отсутствует на диске.
var ErrNotFound = errors.New("blob не найден")

// ErrInvalidPath — путь выходит за пределы каталога данных.
var ErrInvalidPath = errors.New("недопустимый путь blob")

// FileStore — управление содержимым файлов на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (FS_DATA_DIR)
	dataDir string
	// now — источник времени для имён файлов
	now func() time.Time
}

// SaveResult — результат сохранения blob'а.
type SaveResult struct {
	// BlobLocator — путь относительно dataDir, сохраняется в записи файла
	BlobLocator string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir, now: time.Now}, nil
}

// Save записывает данные из reader в новый blob.
// Формат пути: {yyyymmdd}/{name}_{owner}_{timestamp}_{uuid}.{ext}
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке или отмене ctx temp файл удаляется, blob не появляется.
func (fs *FileStore) Save(ctx context.Context, reader io.Reader, displayName, ownerID string) (*SaveResult, error) {
	now := fs.now().UTC()
	dir := now.Format("20060102")
	if err := os.MkdirAll(filepath.Join(fs.dataDir, dir), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога %s: %w", dir, err)
	}

	blobLocator := filepath.ToSlash(filepath.Join(dir, generateStorageName(displayName, ownerID, now)))
	fullPath := filepath.Join(fs.dataDir, filepath.FromSlash(blobLocator))
	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	tee := io.TeeReader(&ctxReader{ctx: ctx, r: reader}, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		BlobLocator: blobLocator,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть ReadCloser.
func (fs *FileStore) Open(blobLocator string) (io.ReadCloser, error) {
	fullPath, err := fs.resolve(blobLocator)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, blobLocator)
		}
		return nil, fmt.Errorf("ошибка открытия blob %s: %w", blobLocator, err)
	}
	return f, nil
}

// Exists проверяет наличие blob'а. Некорректный путь считается отсутствующим.
func (fs *FileStore) Exists(blobLocator string) bool {
	fullPath, err := fs.resolve(blobLocator)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// Delete удаляет blob. Возвращает nil, если blob уже отсутствует.
// Используется только для отката неудачной загрузки.
func (fs *FileStore) Delete(blobLocator string) error {
	fullPath, err := fs.resolve(blobLocator)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления blob %s: %w", blobLocator, err)
	}
	return nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// resolve переводит путь blob'а в абсолютный путь внутри dataDir.
func (fs *FileStore) resolve(blobLocator string) (string, error) {
	if blobLocator == "" || filepath.IsAbs(blobLocator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, blobLocator)
	}
	clean := filepath.Clean(filepath.FromSlash(blobLocator))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, blobLocator)
	}
	return filepath.Join(fs.dataDir, clean), nil
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// generateStorageName генерирует имя файла для хранения на диске.
// Формат: {name}_{owner}_{timestamp}_{uuid}.{ext}
// Пример: report_user-a_20260221150405_a1b2c3d4.pdf
func generateStorageName(displayName, ownerID string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(displayName))
	name := strings.TrimSuffix(filepath.Base(displayName), filepath.Ext(displayName))

	name = sanitize(name)
	owner := sanitize(ownerID)
	ext = sanitizeExt(ext)

	if len([]rune(name)) > 50 {
		name = string([]rune(name)[:50])
	}
	if len([]rune(owner)) > 20 {
		owner = string([]rune(owner)[:20])
	}

	ts := now.UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%s_%s_%s%s", name, owner, ts, uid, ext)
}

// sanitize убирает небезопасные символы из строки для использования в имени файла.
// Оставляет только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// sanitizeExt оставляет расширение только из латиницы и цифр.
func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.Len() > 10 {
		return ""
	}
	return "." + b.String()
}
