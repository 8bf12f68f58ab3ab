package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/fileshare/internal/domain/model"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-fs"

const (
	testIssuer = "https://idp.test/realms/fileshare"
	testSecret = "test-secret-please-change"
)

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWKSAuth создаёт RS256 JWTAuth с mock JWKS.
func newTestJWKSAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, 5*time.Second, testLogger())
}

// baseClaims — обязательные claims с указанным сроком.
func baseClaims(expired bool) jwt.MapClaims {
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	return jwt.MapClaims{
		"iss": testIssuer,
		"exp": jwt.NewNumericDate(exp),
		"iat": jwt.NewNumericDate(time.Now()),
	}
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func with(claims jwt.MapClaims, kv map[string]any) jwt.MapClaims {
	for k, v := range kv {
		claims[k] = v
	}
	return claims
}

// serveWithAuth пропускает запрос через middleware и возвращает субъекта из контекста.
func serveWithAuth(auth *JWTAuth, header string) (*httptest.ResponseRecorder, *model.Identity) {
	var got *model.Identity
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, got
}

func TestJWTAuth_TokenShapes(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWKSAuth(t, key)

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   model.Identity
	}{
		{
			name: "вложенный user",
			claims: with(baseClaims(false), map[string]any{
				"user": map[string]any{"id": "u-1", "email": "alice@example.com", "username": "alice"},
			}),
			want: model.Identity{UserID: "u-1", Email: "alice@example.com", Username: "alice"},
		},
		{
			name: "плоские поля",
			claims: with(baseClaims(false), map[string]any{
				"id": "u-2", "email": "bob@example.com", "username": "bob",
			}),
			want: model.Identity{UserID: "u-2", Email: "bob@example.com", Username: "bob"},
		},
		{
			name: "OIDC sub",
			claims: with(baseClaims(false), map[string]any{
				"sub": "u-3", "email": "carol@example.com", "preferred_username": "carol",
			}),
			want: model.Identity{UserID: "u-3", Email: "carol@example.com", Username: "carol"},
		},
		{
			name: "user приоритетнее sub",
			claims: with(baseClaims(false), map[string]any{
				"sub":  "other",
				"user": map[string]any{"id": "u-4", "email": "dave@example.com"},
			}),
			want: model.Identity{UserID: "u-4", Email: "dave@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, got := serveWithAuth(auth, "Bearer "+signRS256(t, key, tt.claims))
			if rec.Code != http.StatusOK {
				t.Fatalf("статус = %d, ожидался 200; тело: %s", rec.Code, rec.Body.String())
			}
			if got == nil {
				t.Fatal("субъект не помещён в контекст")
			}
			if *got != tt.want {
				t.Errorf("Identity = %+v, ожидалось %+v", *got, tt.want)
			}
		})
	}
}

func TestJWTAuth_Rejections(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWKSAuth(t, key)

	valid := with(baseClaims(false), map[string]any{"sub": "u-1"})

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not.a.jwt"},
		{"просрочен", "Bearer " + signRS256(t, key, with(baseClaims(true), map[string]any{"sub": "u-1"}))},
		{"чужой ключ", "Bearer " + signRS256(t, otherKey, valid)},
		{"чужой issuer", "Bearer " + signRS256(t, key, with(baseClaims(false), map[string]any{"sub": "u-1", "iss": "https://evil"}))},
		{"нет субъекта", "Bearer " + signRS256(t, key, baseClaims(false))},
		{"HS256 вместо RS256", "Bearer " + signHS256(t, testSecret, valid)},
		{"без exp", "Bearer " + signRS256(t, key, jwt.MapClaims{"sub": "u-1", "iss": testIssuer})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, got := serveWithAuth(auth, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("статус = %d, ожидался 401", rec.Code)
			}
			if got != nil {
				t.Error("обработчик вызван несмотря на отказ")
			}
			if !strings.Contains(rec.Body.String(), `"UNAUTHORIZED"`) {
				t.Errorf("тело = %s, ожидался код UNAUTHORIZED", rec.Body.String())
			}
		})
	}
}

func TestJWTAuth_HMAC(t *testing.T) {
	auth := NewJWTAuthHMAC(testSecret, "", 5*time.Second, testLogger())

	claims := with(baseClaims(false), map[string]any{
		"user": map[string]any{"id": "u-1", "email": "alice@example.com", "username": "alice"},
	})

	rec, got := serveWithAuth(auth, "Bearer "+signHS256(t, testSecret, claims))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	if got == nil || got.UserID != "u-1" {
		t.Fatalf("Identity = %+v, ожидался u-1", got)
	}

	rec, _ = serveWithAuth(auth, "Bearer "+signHS256(t, "wrong-secret", claims))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("неверный секрет: статус = %d, ожидался 401", rec.Code)
	}
}

func TestJWTAuth_Leeway(t *testing.T) {
	auth := NewJWTAuthHMAC(testSecret, "", 30*time.Second, testLogger())
	claims := jwt.MapClaims{
		"sub": "u-1",
		"exp": jwt.NewNumericDate(time.Now().Add(-10 * time.Second)),
	}

	rec, _ := serveWithAuth(auth, "Bearer "+signHS256(t, testSecret, claims))
	if rec.Code != http.StatusOK {
		t.Errorf("статус = %d, ожидался 200 в пределах leeway", rec.Code)
	}
}

func TestJWTAuth_AuthenticateError(t *testing.T) {
	auth := NewJWTAuthHMAC(testSecret, "", 0, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := auth.Authenticate(req)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authenticate() ошибка = %v, ожидалась ErrInvalidToken", err)
	}
}

func TestIdentityFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if IdentityFromContext(req.Context()) != nil {
		t.Error("ожидался nil для анонимного запроса")
	}
}

func TestJWKSReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"ключи есть", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(jwks) }, "ok"},
		{"нет ключей", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"keys":[]}`)) }, "degraded"},
		{"невалидный JSON", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{`)) }, "degraded"},
		{"500", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			status, msg := NewJWKSReadinessChecker(srv.URL, time.Second).CheckReady()
			if status != tt.want {
				t.Errorf("CheckReady() = %q (%s), ожидалось %q", status, msg, tt.want)
			}
		})
	}
}
