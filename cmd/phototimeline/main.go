// Точка входа Photo Timeline — персональная лента фото и видео.
// Загружает конфигурацию, открывает хранилища метаданных и содержимого,
// восстанавливает состояние (WAL, legacy-импорт), запускает фоновую сверку,
// topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/phototimeline/internal/api/handlers"
	"github.com/bigkaa/phototimeline/internal/api/middleware"
	"github.com/bigkaa/phototimeline/internal/api/openapi"
	"github.com/bigkaa/phototimeline/internal/config"
	"github.com/bigkaa/phototimeline/internal/handle"
	"github.com/bigkaa/phototimeline/internal/server"
	"github.com/bigkaa/phototimeline/internal/service"
	"github.com/bigkaa/phototimeline/internal/storage/blobstore"
	"github.com/bigkaa/phototimeline/internal/storage/blobstore/filestore"
	"github.com/bigkaa/phototimeline/internal/storage/blobstore/s3store"
	"github.com/bigkaa/phototimeline/internal/storage/kv"
	"github.com/bigkaa/phototimeline/internal/storage/kv/filekv"
	"github.com/bigkaa/phototimeline/internal/storage/kv/pgkv"
	"github.com/bigkaa/phototimeline/internal/storage/kv/rediskv"
	"github.com/bigkaa/phototimeline/internal/storage/kv/sqlitekv"
	"github.com/bigkaa/phototimeline/internal/storage/metastore"
	"github.com/bigkaa/phototimeline/internal/storage/wal"
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
	logger.Info("Photo Timeline запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("meta_backend", cfg.MetaBackend),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("PT_DEPHEALTH_GROUP") == "" {
		logger.Warn("PT_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}
	if !cfg.AuthEnabled() {
		logger.Warn("PT_JWKS_URL не задан, API доступен без аутентификации")
	}

	ctx := context.Background()

	// 3. Хранилище метаданных
	slots, pgDB, err := openKV(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища метаданных", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer slots.Close()
	if pgDB != nil {
		defer pgDB.Close()
	}

	// 4. Хранилище содержимого
	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища содержимого", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Журнал намерений и реестр сессионных ссылок
	journal, err := wal.Open(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка открытия журнала намерений", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handles, err := handle.New(cfg.HandleTTL)
	if err != nil {
		logger.Error("Ошибка создания реестра ссылок", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Менеджер состояния и загрузка коллекции
	media := service.NewMediaManager(
		metastore.New(slots, logger),
		blobs,
		journal,
		handles,
		service.MediaConfig{
			MaxFileSize:       cfg.MaxFileSize,
			Location:          cfg.Location,
			LongPressDuration: cfg.LongPressDuration,
			PresignTTL:        cfg.S3PresignTTL,
			RedirectPresigned: cfg.S3RedirectPresigned,
		},
		logger,
	)
	defer media.Close()

	report, err := media.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки состояния", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Состояние загружено",
		slog.Int("records", report.Records),
		slog.Int("resolved", report.Resolved),
		slog.Int("missing_blobs", report.MissingBlobs),
		slog.Int("legacy_imported", report.LegacyImported),
		slog.Int("recovered", report.Recovered),
	)

	// 7. Фоновая сверка метаданных и содержимого
	reconcileSvc := service.NewReconcileService(media, cfg.ReconcileInterval, logger)
	reconcileSvc.Start(ctx)

	// 8. topologymetrics — мониторинг зависимостей
	depCfg := service.DependencyConfig{
		ServiceID:     cfg.ServiceID,
		Group:         cfg.DephealthGroup,
		CheckInterval: cfg.DephealthCheckInterval,
		PostgresDB:    pgDB,
		PostgresURL:   cfg.DBDSN,
		JWKSURL:       cfg.JWKSURL,
		TLSSkipVerify: cfg.TLSSkipVerify,
	}
	if cfg.BlobBackend == config.BlobBackendS3 {
		depCfg.S3Endpoint = cfg.S3Endpoint
	}

	var dephealthSvc *service.DephealthService
	var depReporter handlers.DependencyReporter
	if depCfg.Empty() {
		logger.Info("Внешние зависимости не настроены, topologymetrics не запускается")
	} else {
		var dephealthErr error
		dephealthSvc, dephealthErr = service.NewDephealthService(depCfg, logger)
		if dephealthErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dephealthErr.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealthSvc = nil
		} else {
			depReporter = dephealthSvc
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 9. Middleware /api/v1: JWT и валидация по OpenAPI контракту
	var apiMiddlewares []func(http.Handler) http.Handler
	if cfg.AuthEnabled() {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSURL,
			CACertPath:      cfg.JWKSCACert,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
			Issuer:          cfg.JWTIssuer,
			Audience:        cfg.JWTAudience,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		apiMiddlewares = append(apiMiddlewares,
			jwtAuth.Middleware(),
			middleware.RequireAccess(cfg.JWTReadScope, cfg.JWTWriteScope),
		)
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWKSURL),
			slog.String("read_scope", cfg.JWTReadScope),
			slog.String("write_scope", cfg.JWTWriteScope),
		)
	}

	doc, err := openapi.Load()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	apiMiddlewares = append(apiMiddlewares, validator.Middleware())

	// 10. Handlers
	blobDir := ""
	if cfg.BlobBackend == config.BlobBackendFS {
		blobDir = cfg.BlobDir
	}
	apiHandler := handlers.NewAPIHandler(
		handlers.NewMediaHandler(media, cfg.MaxFileSize, logger),
		handlers.NewStateHandler(media),
		handlers.NewBlobsHandler(media, logger),
		handlers.NewMaintenanceHandler(reconcileSvc),
		handlers.NewHealthHandler(slots, blobDir, cfg.WALDir, depReporter),
		server.MetricsHandler(),
	)

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, apiMiddlewares,
		chimw.RequestID,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	runErr := srv.Run()
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// 12. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	reconcileSvc.Stop()
	if err := journal.Close(); err != nil {
		logger.Warn("Ошибка закрытия журнала намерений", slog.String("error", err.Error()))
	}

	logger.Info("Photo Timeline остановлен")
	if runErr != nil {
		os.Exit(1)
	}
}

// openKV открывает слоты метаданных выбранного бэкенда.
// Для postgres дополнительно возвращает *sql.DB поверх пула для topologymetrics.
func openKV(ctx context.Context, cfg *config.Config, logger *slog.Logger) (kv.Store, *sql.DB, error) {
	switch cfg.MetaBackend {
	case config.MetaBackendRedis:
		s, err := rediskv.Open(ctx, rediskv.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Метаданные в Redis", slog.String("addr", cfg.RedisAddr))
		return s, nil, nil

	case config.MetaBackendPostgres:
		s, err := pgkv.Open(ctx, cfg.DBDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		// Проверка здоровья PostgreSQL идёт через существующий пул соединений.
		return s, stdlib.OpenDBFromPool(s.Pool()), nil

	case config.MetaBackendSQLite:
		s, err := sqlitekv.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Метаданные в SQLite", slog.String("path", cfg.SQLitePath))
		return s, nil, nil

	case config.MetaBackendFile:
		s, err := filekv.New(cfg.MetaDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Метаданные в файлах", slog.String("dir", cfg.MetaDir))
		return s, nil, nil
	}
	return nil, nil, fmt.Errorf("неизвестный бэкенд метаданных %q", cfg.MetaBackend)
}

// openBlobStore открывает хранилище содержимого и при необходимости
// оборачивает его LRU-кэшем небольших объектов.
func openBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobstore.Store, error) {
	var store blobstore.Store
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		s, err := s3store.New(ctx, s3store.Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Содержимое в S3",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("prefix", cfg.S3Prefix),
		)
		store = s
	default:
		s, err := filestore.New(cfg.BlobDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Содержимое в файловой системе", slog.String("dir", cfg.BlobDir))
		store = s
	}

	if cfg.BlobCacheSize > 0 {
		logger.Info("Кэш содержимого включён",
			slog.Int("size", cfg.BlobCacheSize),
			slog.Int64("max_item_bytes", cfg.BlobCacheMaxItemBytes),
		)
		return blobstore.NewCached(store, cfg.BlobCacheSize, cfg.BlobCacheTTL, cfg.BlobCacheMaxItemBytes), nil
	}
	return store, nil
}
