package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/fileshare/internal/api/handlers"
	"github.com/bigkaa/fileshare/internal/api/middleware"
	"github.com/bigkaa/fileshare/internal/config"
	"github.com/bigkaa/fileshare/internal/domain/model"
	"github.com/bigkaa/fileshare/internal/domain/policy"
	"github.com/bigkaa/fileshare/internal/service"
)

const testSecret = "server-test-secret"

// stubFiles — FileService, фиксирующий вызванную операцию.
type stubFiles struct {
	called string
	who    *model.Identity
}

func (s *stubFiles) Ingest(_ context.Context, who *model.Identity, _ io.Reader, _ string) (*service.FileView, error) {
	s.called, s.who = "ingest", who
	return nil, service.ErrNoFileProvided
}

func (s *stubFiles) Share(_ context.Context, who *model.Identity, _, _ string) (*service.FileView, error) {
	s.called, s.who = "share", who
	return nil, service.ErrNotFound
}

func (s *stubFiles) Retrieve(_ context.Context, who *model.Identity, _ string, ch policy.Channel) (*service.Download, error) {
	s.called, s.who = "retrieve_"+string(ch), who
	return nil, service.ErrNotFound
}

func (s *stubFiles) ListMine(_ context.Context, who *model.Identity) ([]*service.FileView, error) {
	s.called, s.who = "list", who
	return nil, nil
}

func (s *stubFiles) Info(_ context.Context, who *model.Identity, _ string) (*service.FileView, error) {
	s.called, s.who = "info", who
	return nil, service.ErrNotFound
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRouter(files *stubFiles) http.Handler {
	h := handlers.NewAPIHandler(files, handlers.NewHealthHandler(nil, nil), nil, 1<<20, testLogger())
	auth := middleware.NewJWTAuthHMAC(testSecret, "", time.Second, testLogger())
	return NewRouter(h, auth.Middleware(), middleware.MetricsMiddleware())
}

func bearer(t *testing.T) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user": map[string]any{"id": "user-a", "email": "alice@example.com", "username": "alice"},
		"exp":  jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + s
}

const loc = "0b7f6c1e-4a55-4bb8-9b1b-2b0f3c0d9e11"

func TestRouter_Routes(t *testing.T) {
	tests := []struct {
		method     string
		path       string
		auth       bool
		wantCalled string
		wantStatus int
	}{
		{http.MethodGet, "/api/v1/files", true, "list", http.StatusOK},
		{http.MethodGet, "/api/v1/files/" + loc, true, "info", http.StatusNotFound},
		{http.MethodPost, "/api/v1/files/" + loc + "/share", true, "", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/files/" + loc + "/download", true, "retrieve_owner", http.StatusNotFound},
		{http.MethodGet, "/api/v1/shared/" + loc + "/download", true, "retrieve_recipient", http.StatusNotFound},
		{http.MethodGet, "/d/" + loc, false, "retrieve_public", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			files := &stubFiles{}
			router := newTestRouter(files)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.Header.Set("Authorization", bearer(t))
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d; тело: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if files.called != tt.wantCalled {
				t.Errorf("вызвана операция %q, ожидалась %q", files.called, tt.wantCalled)
			}
			if tt.auth && tt.wantCalled != "" && (files.who == nil || files.who.UserID != "user-a") {
				t.Errorf("субъект = %+v, ожидался user-a", files.who)
			}
			if !tt.auth && files.who != nil {
				t.Errorf("публичный канал получил субъекта %+v", files.who)
			}
		})
	}
}

func TestRouter_ProtectedRequireToken(t *testing.T) {
	paths := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/files"},
		{http.MethodGet, "/api/v1/files"},
		{http.MethodGet, "/api/v1/files/" + loc},
		{http.MethodPost, "/api/v1/files/" + loc + "/share"},
		{http.MethodGet, "/api/v1/files/" + loc + "/download"},
		{http.MethodGet, "/api/v1/shared/" + loc + "/download"},
	}

	for _, p := range paths {
		files := &stubFiles{}
		rec := httptest.NewRecorder()
		newTestRouter(files).ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: статус = %d, ожидался 401", p.method, p.path, rec.Code)
		}
		if files.called != "" {
			t.Errorf("%s %s: сервис вызван без токена", p.method, p.path)
		}
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := newTestRouter(&stubFiles{})

	for _, path := range []string{"/health/live", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: статус = %d, ожидался 200", path, rec.Code)
		}
	}

	// Без PostgreSQL checker readiness — fail
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/ready: статус = %d, ожидался 503", rec.Code)
	}
}

func TestRouter_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&stubFiles{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("статус = %d, ожидался 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"NOT_FOUND"`) {
		t.Errorf("тело = %s", rec.Body.String())
	}
}

func TestServer_RunStopsOnContextCancel(t *testing.T) {
	cfg := &config.Config{
		Port:            0,
		HTTPReadTimeout: time.Second,
		ShutdownTimeout: time.Second,
	}
	srv := New(cfg, testLogger(), handlers.NewAPIHandler(&stubFiles{}, handlers.NewHealthHandler(nil, nil), nil, 0, testLogger()),
		func(next http.Handler) http.Handler { return next })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() ошибка: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() не завершился после отмены контекста")
	}
}
