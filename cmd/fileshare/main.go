// Точка входа fileshare — временного файлового хранилища со ссылками.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// поднимает доставку уведомлений и публикацию событий,
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bigkaa/fileshare/internal/api/handlers"
	"github.com/bigkaa/fileshare/internal/api/middleware"
	"github.com/bigkaa/fileshare/internal/api/openapi"
	"github.com/bigkaa/fileshare/internal/config"
	"github.com/bigkaa/fileshare/internal/database"
	"github.com/bigkaa/fileshare/internal/events"
	"github.com/bigkaa/fileshare/internal/notify"
	"github.com/bigkaa/fileshare/internal/repository"
	"github.com/bigkaa/fileshare/internal/server"
	"github.com/bigkaa/fileshare/internal/service"
	"github.com/bigkaa/fileshare/internal/storage/filestore"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("fileshare запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := database.SQLDB(pool)
	defer pgDB.Close()

	// 5. Хранилище содержимого
	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Хранилище инициализировано", slog.String("data_dir", store.DataDir()))

	// 6. Очередь и отправитель уведомлений
	var queue notify.Queue
	if cfg.RedisURL != "" {
		rdb, redisErr := notify.ConnectRedis(ctx, cfg.RedisURL)
		if redisErr != nil {
			logger.Error("Ошибка подключения к Redis", slog.String("error", redisErr.Error()))
			os.Exit(1)
		}
		queue = notify.NewRedisQueue(rdb, cfg.NotifyRedisKey)
		logger.Info("Очередь уведомлений: Redis", slog.String("key", cfg.NotifyRedisKey))
	} else {
		queue = notify.NewMemoryQueue(cfg.NotifyQueueSize)
		logger.Info("Очередь уведомлений: память процесса", slog.Int("size", cfg.NotifyQueueSize))
	}
	defer queue.Close()

	var sender notify.Sender
	if cfg.SMTPEnabled() {
		smtpSender, smtpErr := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			FromName: cfg.SMTPFromName,
		})
		if smtpErr != nil {
			logger.Error("Ошибка создания SMTP-отправителя", slog.String("error", smtpErr.Error()))
			os.Exit(1)
		}
		sender = smtpSender
		logger.Info("Уведомления отправляются по SMTP", slog.String("host", cfg.SMTPHost))
	} else {
		sender = notify.NewLogSender(logger)
		logger.Warn("FS_SMTP_HOST не задан, письма только логируются")
	}

	dispatcher := notify.NewDispatcher(queue, sender, cfg.NotifyWorkers, logger)

	// 7. Публикация событий
	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp, kafkaErr := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if kafkaErr != nil {
			logger.Error("Ошибка создания Kafka publisher", slog.String("error", kafkaErr.Error()))
			os.Exit(1)
		}
		publisher = kp
		logger.Info("События публикуются в Kafka", slog.String("topic", cfg.KafkaTopic))
	} else {
		publisher = events.NewLoggingPublisher(logger)
	}
	defer publisher.Close()

	// 8. Repository и сервисы
	fileRepo := repository.NewFileRepository(pool)
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	filesSvc := service.NewFileService(
		fileRepo, store, cache, dispatcher, publisher,
		service.FileServiceConfig{
			BaseURL:           cfg.BaseURL,
			AllowedExtensions: cfg.AllowedExtensions,
		},
		logger,
	)

	// 9. OpenAPI контракт
	contract, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. JWT middleware и readiness checkers
	pgChecker := database.NewReadinessChecker(pool)
	var idpChecker handlers.ReadinessChecker
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuthJWKS(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		idpChecker = middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout)
		logger.Info("JWT middleware инициализирован (RS256, JWKS)",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		jwtAuth = middleware.NewJWTAuthHMAC(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTLeeway, logger)
		logger.Info("JWT middleware инициализирован (HS256)", slog.String("issuer", cfg.JWTIssuer))
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, idpChecker)

	// 11. API handler
	apiHandler := handlers.NewAPIHandler(filesSvc, healthHandler, contract, cfg.MaxUploadSize, logger)

	// 12. Запуск фоновых задач
	dispatcher.Start(ctx)

	// 12.1 topologymetrics — мониторинг зависимостей (PostgreSQL + JWKS)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "fileshare",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth.Middleware(),
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	runErr := srv.Run(ctx)

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	dispatcher.Stop()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("fileshare остановлен")
}
