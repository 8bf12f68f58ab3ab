// auth.go — JWT middleware: проверка токена и извлечение субъекта запроса.
// Подпись проверяется общим секретом (HS256) или ключами JWKS провайдера
// идентичности (RS256). Middleware только извлекает model.Identity и кладёт
// его в контекст; решения о доступе принимает сервисный слой.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/fileshare/internal/api/errors"
	"github.com/bigkaa/fileshare/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyIdentity — субъект запроса в контексте.
	ContextKeyIdentity contextKey = "identity"
)

// ErrInvalidToken — токен не прошёл проверку или не содержит субъекта.
var ErrInvalidToken = errors.New("невалидный токен")

// tokenUser — вложенный субъект токена: {"user": {"id", "email", "username"}}.
type tokenUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// tokenClaims — claims токена. Поддерживаются три формы субъекта:
// вложенный объект user, плоские id/email/username и стандартные OIDC sub/email.
type tokenClaims struct {
	jwt.RegisteredClaims
	User              *tokenUser `json:"user,omitempty"`
	ID                string     `json:"id,omitempty"`
	Email             string     `json:"email,omitempty"`
	Username          string     `json:"username,omitempty"`
	PreferredUsername string     `json:"preferred_username,omitempty"`
}

// identity сводит все формы субъекта к model.Identity.
func (c *tokenClaims) identity() (*model.Identity, error) {
	switch {
	case c.User != nil && c.User.ID != "":
		return &model.Identity{UserID: c.User.ID, Email: c.User.Email, Username: c.User.Username}, nil
	case c.ID != "":
		return &model.Identity{UserID: c.ID, Email: c.Email, Username: c.Username}, nil
	case c.Subject != "":
		username := c.PreferredUsername
		if username == "" {
			username = c.Username
		}
		return &model.Identity{UserID: c.Subject, Email: c.Email, Username: username}, nil
	default:
		return nil, fmt.Errorf("%w: нет субъекта", ErrInvalidToken)
	}
}

// JWTAuth — middleware для JWT-аутентификации.
type JWTAuth struct {
	keyfunc func(ctx context.Context) jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
	logger  *slog.Logger
}

// NewJWTAuthHMAC создаёт middleware, проверяющий HS256-подпись общим секретом.
func NewJWTAuthHMAC(secret, issuer string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	key := []byte(secret)
	return &JWTAuth{
		keyfunc: func(context.Context) jwt.Keyfunc {
			return func(*jwt.Token) (any, error) { return key, nil }
		},
		methods: []string{"HS256"},
		issuer:  issuer,
		leeway:  leeway,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}
}

// NewJWTAuthJWKS создаёт middleware с ключами из JWKS провайдера идентичности.
// jwksClientTimeout — таймаут HTTP-клиента JWKS.
// jwksRefreshInterval — интервал фонового обновления ключей.
func NewJWTAuthJWKS(
	jwksURL string,
	issuer string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — стартуем даже если провайдер ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, issuer, leeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт RS256 middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		keyfunc: kf.KeyfuncCtx,
		methods: []string{"RS256"},
		issuer:  issuer,
		leeway:  leeway,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}
}

// Authenticate проверяет Bearer-токен запроса и возвращает субъекта.
func (j *JWTAuth) Authenticate(r *http.Request) (*model.Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("%w: отсутствует заголовок Authorization", ErrInvalidToken)
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return nil, fmt.Errorf("%w: ожидается Bearer <token>", ErrInvalidToken)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(j.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, j.keyfunc(r.Context()), parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims.identity()
}

// Middleware возвращает HTTP middleware, требующий валидный токен.
// Субъект помещается в контекст (IdentityFromContext).
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, err := j.Authenticate(r)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), who)))
		})
	}
}

// --- Context helpers ---

// WithIdentity возвращает контекст с субъектом запроса.
func WithIdentity(ctx context.Context, who *model.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, who)
}

// IdentityFromContext извлекает субъекта запроса из контекста.
// Возвращает nil для анонимного запроса.
func IdentityFromContext(ctx context.Context) *model.Identity {
	who, _ := ctx.Value(ContextKeyIdentity).(*model.Identity)
	return who
}

// --- ReadinessChecker для JWKS ---

// JWKSReadinessChecker — проверка доступности JWKS провайдера идентичности.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
func NewJWKSReadinessChecker(jwksURL string, timeout time.Duration) *JWKSReadinessChecker {
	return &JWKSReadinessChecker{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: timeout},
	}
}

const statusFail = "fail"

// CheckReady проверяет, что JWKS отдаёт хотя бы один ключ.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return statusFail, fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
