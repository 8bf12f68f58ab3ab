// Пакет config — загрузка и валидация конфигурации сервиса обмена файлами
// из переменных окружения (префикс FS_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultAllowedExtensions — расширения, разрешённые к загрузке по умолчанию.
const DefaultAllowedExtensions = "jpeg,jpg,png,pdf,zip"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Внешний адрес сервиса для построения ссылок (без trailing slash)
	BaseURL string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Хранилище содержимого ---

	// Каталог для файлов
	DataDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Разрешённые расширения в нижнем регистре без точки (пусто — любые)
	AllowedExtensions []string

	// --- JWT ---

	// Общий секрет HS256 (взаимоисключающий с JWTJWKSURL)
	JWTSecret string
	// URL JWKS endpoint для RS256
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допуск рассинхронизации часов
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration

	// --- SMTP ---

	// Хост SMTP (пусто — письма только логируются)
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	// Отображаемое имя отправителя
	SMTPFromName string

	// --- Уведомления ---

	// Количество воркеров отправки
	NotifyWorkers int
	// Ёмкость in-memory очереди
	NotifyQueueSize int
	// URL Redis для общей очереди уведомлений (опционально)
	RedisURL string
	// Ключ списка в Redis
	NotifyRedisKey string

	// --- События ---

	// Брокеры Kafka (пусто — события не публикуются)
	KafkaBrokers []string
	// Топик событий доступа
	KafkaTopic string

	// --- Кэш ---

	// Максимальное число записей в кэше
	CacheMaxSize int
	// TTL записи в кэше
	CacheTTL time.Duration

	// --- Topologymetrics ---

	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Группа сервиса в метриках зависимостей
	DephealthGroup string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FS_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("FS_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("FS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FS_LOG_LEVEL: %w", err)
	}

	// FS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// FS_HTTP_READ_TIMEOUT — таймаут чтения (по умолчанию 60s, загрузки бывают крупными)
	cfg.HTTPReadTimeout, err = getEnvDuration("FS_HTTP_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FS_HTTP_READ_TIMEOUT: %w", err)
	}

	// FS_HTTP_WRITE_TIMEOUT — таймаут записи (по умолчанию 5m)
	cfg.HTTPWriteTimeout, err = getEnvDuration("FS_HTTP_WRITE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FS_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// FS_HTTP_IDLE_TIMEOUT — таймаут простоя (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("FS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// FS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("FS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// FS_BASE_URL — внешний адрес сервиса (по умолчанию http://localhost:<port>)
	cfg.BaseURL = strings.TrimRight(
		getEnvDefault("FS_BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
	if u, perr := url.Parse(cfg.BaseURL); perr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("FS_BASE_URL: некорректный URL %q", cfg.BaseURL)
	}

	// --- PostgreSQL ---

	// FS_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("FS_DB_HOST")
	if err != nil {
		return nil, err
	}

	// FS_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("FS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FS_DB_PORT: %w", err)
	}

	// FS_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("FS_DB_NAME")
	if err != nil {
		return nil, err
	}

	// FS_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("FS_DB_USER")
	if err != nil {
		return nil, err
	}

	// FS_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("FS_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// FS_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("FS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище ---

	// FS_DATA_DIR — каталог для файлов (по умолчанию /data)
	cfg.DataDir = getEnvDefault("FS_DATA_DIR", "/data")

	// FS_MAX_UPLOAD_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	maxUpload, err := getEnvInt("FS_MAX_UPLOAD_SIZE", 100<<20)
	if err != nil {
		return nil, fmt.Errorf("FS_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload < 1 {
		return nil, fmt.Errorf("FS_MAX_UPLOAD_SIZE: значение %d должно быть положительным", maxUpload)
	}
	cfg.MaxUploadSize = int64(maxUpload)

	// FS_ALLOWED_EXTENSIONS — разрешённые расширения через запятую ("*" — любые)
	exts := getEnvDefault("FS_ALLOWED_EXTENSIONS", DefaultAllowedExtensions)
	if exts != "*" {
		for _, e := range parseCSV(exts) {
			cfg.AllowedExtensions = append(cfg.AllowedExtensions, strings.ToLower(strings.TrimPrefix(e, ".")))
		}
	}

	// --- JWT ---

	// FS_JWT_SECRET / FS_JWT_JWKS_URL — ровно один из двух
	cfg.JWTSecret = getEnvDefault("FS_JWT_SECRET", "")
	cfg.JWTJWKSURL = getEnvDefault("FS_JWT_JWKS_URL", "")
	switch {
	case cfg.JWTSecret == "" && cfg.JWTJWKSURL == "":
		return nil, fmt.Errorf("FS_JWT_SECRET или FS_JWT_JWKS_URL: обязательна одна из переменных")
	case cfg.JWTSecret != "" && cfg.JWTJWKSURL != "":
		return nil, fmt.Errorf("FS_JWT_SECRET и FS_JWT_JWKS_URL: допускается только одна из переменных")
	}

	// FS_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = getEnvDefault("FS_JWT_ISSUER", "")

	// FS_JWT_LEEWAY — допуск рассинхронизации часов (по умолчанию 5s)
	cfg.JWTLeeway, err = getEnvDuration("FS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FS_JWT_LEEWAY: %w", err)
	}

	// FS_JWKS_CLIENT_TIMEOUT — таймаут загрузки JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("FS_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FS_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// FS_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 15m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("FS_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FS_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- SMTP ---

	// FS_SMTP_HOST — хост SMTP (опционально)
	cfg.SMTPHost = getEnvDefault("FS_SMTP_HOST", "")

	// FS_SMTP_PORT — порт SMTP (по умолчанию 587)
	cfg.SMTPPort, err = getEnvInt("FS_SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("FS_SMTP_PORT: %w", err)
	}

	cfg.SMTPUser = getEnvDefault("FS_SMTP_USER", "")
	cfg.SMTPPassword = getEnvDefault("FS_SMTP_PASSWORD", "")
	if cfg.SMTPHost != "" && cfg.SMTPUser == "" {
		return nil, fmt.Errorf("FS_SMTP_USER: обязателен при заданном FS_SMTP_HOST (используется как адрес отправителя)")
	}

	// FS_SMTP_FROM_NAME — имя отправителя (по умолчанию "File Sharing App")
	cfg.SMTPFromName = getEnvDefault("FS_SMTP_FROM_NAME", "File Sharing App")

	// --- Уведомления ---

	// FS_NOTIFY_WORKERS — количество воркеров (по умолчанию 2)
	cfg.NotifyWorkers, err = getEnvInt("FS_NOTIFY_WORKERS", 2)
	if err != nil {
		return nil, fmt.Errorf("FS_NOTIFY_WORKERS: %w", err)
	}
	if cfg.NotifyWorkers < 1 || cfg.NotifyWorkers > 64 {
		return nil, fmt.Errorf("FS_NOTIFY_WORKERS: значение %d вне допустимого диапазона 1-64", cfg.NotifyWorkers)
	}

	// FS_NOTIFY_QUEUE_SIZE — ёмкость in-memory очереди (по умолчанию 1000)
	cfg.NotifyQueueSize, err = getEnvInt("FS_NOTIFY_QUEUE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("FS_NOTIFY_QUEUE_SIZE: %w", err)
	}
	if cfg.NotifyQueueSize < 1 {
		return nil, fmt.Errorf("FS_NOTIFY_QUEUE_SIZE: значение %d должно быть положительным", cfg.NotifyQueueSize)
	}

	// FS_REDIS_URL — общая очередь уведомлений (опционально)
	cfg.RedisURL = getEnvDefault("FS_REDIS_URL", "")

	// FS_NOTIFY_REDIS_KEY — ключ списка (по умолчанию fileshare:notifications)
	cfg.NotifyRedisKey = getEnvDefault("FS_NOTIFY_REDIS_KEY", "fileshare:notifications")

	// --- События ---

	// FS_KAFKA_BROKERS — брокеры через запятую (опционально)
	cfg.KafkaBrokers = parseCSV(getEnvDefault("FS_KAFKA_BROKERS", ""))

	// FS_KAFKA_TOPIC — топик событий (по умолчанию fileshare.access)
	cfg.KafkaTopic = getEnvDefault("FS_KAFKA_TOPIC", "fileshare.access")

	// --- Кэш ---

	// FS_CACHE_MAX_SIZE — размер кэша записей (по умолчанию 10000)
	cfg.CacheMaxSize, err = getEnvInt("FS_CACHE_MAX_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("FS_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("FS_CACHE_MAX_SIZE: значение %d должно быть положительным", cfg.CacheMaxSize)
	}

	// FS_CACHE_TTL — TTL записи в кэше (по умолчанию 30s)
	cfg.CacheTTL, err = getEnvDuration("FS_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FS_CACHE_TTL: %w", err)
	}

	// --- Topologymetrics ---

	// FS_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("FS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// FS_DEPHEALTH_GROUP — группа сервиса (по умолчанию fileshare)
	cfg.DephealthGroup = getEnvDefault("FS_DEPHEALTH_GROUP", "fileshare")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (postgres://...).
// Используется для метрик зависимостей.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SMTPEnabled — настроена ли реальная отправка писем.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
