// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Archive Module мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (режим AR_REGISTRY=postgres, critical)
//   - JWKS endpoint — HTTP checker (при включённой аутентификации, critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — не задано ни одной зависимости для мониторинга.
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — AR_DEPHEALTH_GROUP
	Group string
	// DB — адаптер pgxpool (stdlib.OpenDBFromPool); nil при AR_REGISTRY=memory
	DB *sql.DB
	// PgConnURL — только для лейблов метрик
	PgConnURL string
	// JWKSURL — пустой, если аутентификация выключена
	JWKSURL        string
	JWKSSkipVerify bool
	CheckInterval  time.Duration
	// Registerer — nil означает глобальный Prometheus registry
	Registerer prometheus.Registerer
}

// DephealthService — периодическая проверка внешних зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService собирает список зависимостей из cfg.
// Если мониторить нечего, возвращает ErrNoDependencies.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	var deps []dephealth.Option
	if cfg.DB != nil {
		deps = append(deps, postgresDependency(cfg))
	}
	if cfg.JWKSURL != "" {
		deps = append(deps, jwksDependency(cfg))
	}
	if len(deps) == 0 {
		return nil, ErrNoDependencies
	}

	opts := append([]dephealth.Option{dephealth.WithLogger(logger)}, deps...)
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, fmt.Errorf("инициализация dephealth: %w", err)
	}
	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// postgresDependency — проверка через пул приложения, а не отдельное соединение.
func postgresDependency(cfg DephealthConfig) dephealth.Option {
	return dephealth.AddDependency("postgresql", dephealth.TypePostgres,
		pgcheck.New(pgcheck.WithDB(cfg.DB)),
		dephealth.FromURL(cfg.PgConnURL),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	)
}

// jwksDependency проверяет тот же путь, с которого загружаются ключи.
func jwksDependency(cfg DephealthConfig) dephealth.Option {
	opts := []dephealth.DependencyOption{
		dephealth.FromURL(cfg.JWKSURL),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	if u, err := url.Parse(cfg.JWKSURL); err == nil {
		if u.Path != "" {
			opts = append(opts, dephealth.WithHTTPHealthPath(u.Path))
		}
		if u.Scheme == "https" {
			opts = append(opts, dephealth.WithHTTPTLSSkipVerify(cfg.JWKSSkipVerify))
		}
	}
	return dephealth.HTTP("jwks", opts...)
}

func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Int("dependencies", len(ds.dh.Health())))
	return nil
}

func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health — последнее состояние по каждой зависимости, true значит ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
