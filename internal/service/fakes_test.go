package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/fileshare/internal/domain/model"
	"github.com/bigkaa/fileshare/internal/events"
	"github.com/bigkaa/fileshare/internal/notify"
	"github.com/bigkaa/fileshare/internal/repository"
	"github.com/bigkaa/fileshare/internal/storage/filestore"
)

// --- Mock FileRepository (в памяти) ---

type memFileRepo struct {
	mu      sync.Mutex
	records map[string]*model.FileRecord
	nextID  int64

	// Внедрение ошибок
	createErr error
	getErr    error
	incErr    error
	setErr    error

	getCalls int
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{records: make(map[string]*model.FileRecord)}
}

func (m *memFileRepo) Create(_ context.Context, f *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.records[f.Locator]; ok {
		return repository.ErrConflict
	}
	m.nextID++
	f.ID = m.nextID
	m.records[f.Locator] = cloneRecord(f)
	return nil
}

func (m *memFileRepo) GetByLocator(_ context.Context, loc string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[loc]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *memFileRepo) ListByOwner(_ context.Context, ownerID string) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.FileRecord
	for _, rec := range m.records {
		if rec.OwnerID == ownerID {
			result = append(result, cloneRecord(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *memFileRepo) IncrementDownloadCount(_ context.Context, loc string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incErr != nil {
		return nil, m.incErr
	}
	rec, ok := m.records[loc]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec.DownloadCount++
	return cloneRecord(rec), nil
}

func (m *memFileRepo) SetRecipient(_ context.Context, loc, email string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return nil, m.setErr
	}
	rec, ok := m.records[loc]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec.RecipientEmail = &email
	return cloneRecord(rec), nil
}

func (m *memFileRepo) get(loc string) *model.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecord(m.records[loc])
}

// --- Mock BlobStore (в памяти) ---

type memBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	n       int
	saveErr error
	openErr error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (b *memBlobStore) Save(_ context.Context, r io.Reader, displayName, ownerID string) (*filestore.SaveResult, error) {
	if b.saveErr != nil {
		return nil, b.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	loc := fmt.Sprintf("blob/%s_%s_%d", ownerID, displayName, b.n)
	b.blobs[loc] = data
	return &filestore.SaveResult{BlobLocator: loc, Size: int64(len(data)), Checksum: "test"}, nil
}

func (b *memBlobStore) Open(loc string) (io.ReadCloser, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[loc]
	if !ok {
		return nil, filestore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobStore) Exists(loc string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[loc]
	return ok
}

func (b *memBlobStore) Delete(loc string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, loc)
	return nil
}

func (b *memBlobStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

// --- Mock Notifier ---

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (n *recordingNotifier) Enqueue(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, msg)
	return nil
}

// --- Mock Publisher ---

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

var _ events.Publisher = (*recordingPublisher)(nil)

// --- Управляемые часы ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// --- Окружение теста ---

type testEnv struct {
	svc       *FileService
	repo      *memFileRepo
	blobs     *memBlobStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
	clock     *testClock
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	alice = &model.Identity{UserID: "user-a", Email: "alice@example.com", Username: "alice"}
	bob   = &model.Identity{UserID: "user-b", Email: "bob@example.com", Username: "bob"}
	eve   = &model.Identity{UserID: "user-e", Email: "eve@example.com", Username: "eve"}
)

func newTestEnv(t *testing.T, withCache bool) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:      newMemFileRepo(),
		blobs:     newMemBlobStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		clock:     &testClock{now: t0},
	}
	var cache *CacheService
	if withCache {
		cache = NewCacheService(100, time.Hour)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.svc = NewFileService(env.repo, env.blobs, cache, env.notifier, env.publisher, FileServiceConfig{
		BaseURL:           "https://files.example.com/",
		AllowedExtensions: []string{"jpeg", "jpg", "png", "pdf", "zip"},
	}, logger)
	env.svc.now = env.clock.Now
	return env
}

// ingest загружает файл и падает при ошибке.
func (e *testEnv) ingest(t *testing.T, who *model.Identity, name, content string) *FileView {
	t.Helper()
	v, err := e.svc.Ingest(context.Background(), who, bytes.NewBufferString(content), name)
	if err != nil {
		t.Fatalf("Ingest() ошибка: %v", err)
	}
	return v
}

var errStore = errors.New("хранилище недоступно")
