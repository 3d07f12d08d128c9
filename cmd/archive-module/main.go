// Точка входа Archive Module — управляемого архива файлов.
// Загружает конфигурацию, открывает журнал импорта и реестр метаданных,
// восстанавливает незавершённые транзакции, запускает фоновую сверку,
// мониторинг зависимостей и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/archive-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/archive-module/internal/config"
	"github.com/bigkaa/goartstore/archive-module/internal/database"
	"github.com/bigkaa/goartstore/archive-module/internal/repository"
	"github.com/bigkaa/goartstore/archive-module/internal/server"
	"github.com/bigkaa/goartstore/archive-module/internal/service"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/contentstore"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/pathplan"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/wal"
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
	logger.Info("Archive Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_root", cfg.StorageRoot),
		slog.String("registry", cfg.Registry),
	)

	ctx := context.Background()

	// 3. Корень хранилища
	gw := fsgateway.New()
	if err := gw.MkdirAll(cfg.StorageRoot); err != nil {
		logger.Error("Ошибка создания корня хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Журнал импорта
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Реестр метаданных
	var (
		registry    repository.Registry
		pgDB        *sql.DB
		readyChecks []handlers.ReadinessChecker
	)
	switch cfg.Registry {
	case config.RegistryPostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		registry = repository.NewPostgresRegistry(pool)
		readyChecks = append(readyChecks, database.NewReadinessChecker(pool))
	default:
		logger.Warn("Реестр в памяти: метаданные не сохраняются между перезапусками")
		registry = repository.NewMemoryRegistry()
	}

	// 6. Хранилище содержимого и сервисы
	store := contentstore.New(gw, registry, logger)
	planner := pathplan.New(cfg.StorageRoot)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	importSvc := service.NewImportService(gw, registry, planner, store, journal, logger)
	fileSvc := service.NewFileService(cfg.StorageRoot, registry, store, gw, journal, cache, logger)

	// 7. Восстановление незавершённых транзакций журнала
	recoverySvc := service.NewRecoveryService(journal, gw, registry, cfg.WALRetention, logger)
	if _, err := recoverySvc.Recover(ctx); err != nil {
		logger.Error("Ошибка восстановления журнала", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Фоновая сверка
	reconcileSvc := service.NewReconcileService(
		cfg.StorageRoot, gw, registry, store,
		cfg.ReconcileInterval, cfg.ReconcileVerifyChecksums, logger,
	)
	reconcileSvc.Start(ctx)

	// 9. topologymetrics — мониторинг зависимостей
	var dephealthSvc *service.DephealthService
	dephealthSvc, err = service.NewDephealthService(service.DephealthConfig{
		ServiceID:      serviceID(),
		Group:          cfg.DephealthGroup,
		DB:             pgDB,
		PgConnURL:      cfg.DatabaseURL(),
		JWKSURL:        cfg.JWKSUrl,
		JWKSSkipVerify: cfg.TLSSkipVerify,
		CheckInterval:  cfg.DephealthCheckInterval,
	}, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("Внешних зависимостей нет, topologymetrics не запускается")
		dephealthSvc = nil
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
			dephealthSvc = nil
		}
	}

	// 10. JWT-аутентификация
	var auth func(http.Handler) http.Handler
	if cfg.AuthEnabled() {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
			os.Exit(1)
		}
		auth = jwtAuth.Middleware()
		logger.Info("JWT-аутентификация включена", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("AR_JWKS_URL не задан, API доступен без аутентификации")
	}

	// 11. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, server.Handlers{
		Health:      handlers.NewHealthHandler(cfg.StorageRoot, cfg.WALDir, readyChecks...),
		API:         handlers.NewAPIHandler(importSvc, fileSvc, cfg.StorageRoot, cfg.MaxRequestBytes, logger),
		Maintenance: handlers.NewMaintenanceHandler(reconcileSvc, logger),
	}, auth)

	runErr := srv.Run(ctx)

	// 12. Остановка фоновых процессов
	reconcileSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Archive Module остановлен")
}
