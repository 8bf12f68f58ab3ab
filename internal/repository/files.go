package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/fileshare/internal/domain/model"
)

// FileRepository — хранилище записей о файлах (таблица files).
type FileRepository interface {
	// Create сохраняет новую запись и заполняет ID.
	// Существующую запись с тем же адресом не перезаписывает (ErrConflict).
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByLocator возвращает запись по адресу или ErrNotFound.
	GetByLocator(ctx context.Context, locator string) (*model.FileRecord, error)
	// ListByOwner возвращает записи владельца, новые первыми.
	ListByOwner(ctx context.Context, ownerID string) ([]*model.FileRecord, error)
	// IncrementDownloadCount атомарно увеличивает счётчик скачиваний на 1
	// и возвращает обновлённую запись.
	IncrementDownloadCount(ctx context.Context, locator string) (*model.FileRecord, error)
	// SetRecipient записывает (перезаписывает) адресата и возвращает обновлённую запись.
	SetRecipient(ctx context.Context, locator, email string) (*model.FileRecord, error)
}

const fileColumns = `id, locator, owner_id, owner_email, display_name, blob_locator,
	created_at, expires_at, download_count, recipient_email`

// fileRepo — реализация FileRepository.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий записей о файлах.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (locator, owner_id, owner_email, display_name, blob_locator,
			created_at, expires_at, download_count, recipient_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		f.Locator, f.OwnerID, f.OwnerEmail, f.DisplayName, f.BlobLocator,
		f.CreatedAt, f.ExpiresAt, f.DownloadCount, f.RecipientEmail,
	).Scan(&f.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с адресом %s уже существует", ErrConflict, f.Locator)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByLocator(ctx context.Context, locator string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE locator = $1`

	f, err := scanFile(r.db.QueryRow(ctx, query, locator))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения списка файлов: %w", err)
	}
	return result, nil
}

// IncrementDownloadCount выполняется одним UPDATE: параллельные вызовы
// сериализуются блокировкой строки, потерянных инкрементов нет.
func (r *fileRepo) IncrementDownloadCount(ctx context.Context, locator string) (*model.FileRecord, error) {
	query := `
		UPDATE files SET download_count = download_count + 1
		WHERE locator = $1
		RETURNING ` + fileColumns

	f, err := scanFile(r.db.QueryRow(ctx, query, locator))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка увеличения счётчика скачиваний: %w", err)
	}
	return f, nil
}

func (r *fileRepo) SetRecipient(ctx context.Context, locator, email string) (*model.FileRecord, error) {
	query := `
		UPDATE files SET recipient_email = $2
		WHERE locator = $1
		RETURNING ` + fileColumns

	f, err := scanFile(r.db.QueryRow(ctx, query, locator, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка записи адресата: %w", err)
	}
	return f, nil
}

// scanFile сканирует строку в FileRecord. Подходит для pgx.Row и pgx.Rows.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	var createdAt, expiresAt time.Time
	err := row.Scan(
		&f.ID, &f.Locator, &f.OwnerID, &f.OwnerEmail, &f.DisplayName, &f.BlobLocator,
		&createdAt, &expiresAt, &f.DownloadCount, &f.RecipientEmail,
	)
	if err != nil {
		return nil, err
	}
	f.CreatedAt = createdAt.UTC()
	f.ExpiresAt = expiresAt.UTC()
	return f, nil
}
