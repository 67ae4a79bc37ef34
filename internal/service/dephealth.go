// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Photo Timeline мониторит подключённые внешние хранилища:
//   - PostgreSQL — SQL checker через существующий pgxpool (слот метаданных postgres)
//   - S3 endpoint — HTTP checker (хранилище содержимого s3)
//   - JWKS endpoint — HTTP checker (аутентификация API)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для S3 и JWKS
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — нет внешних зависимостей для мониторинга.
var ErrNoDependencies = errors.New("нет внешних зависимостей для мониторинга")

// DependencyConfig — набор отслеживаемых зависимостей.
// Пустые поля отключают соответствующую проверку.
type DependencyConfig struct {
	ServiceID     string
	Group         string
	CheckInterval time.Duration

	// PostgresDB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	PostgresDB *sql.DB
	// PostgresURL — URL подключения (для меток, не для подключения)
	PostgresURL string

	S3Endpoint string
	JWKSURL    string
	// TLSSkipVerify — не проверять сертификаты HTTP-зависимостей
	TLSSkipVerify bool
}

// Empty сообщает, что ни одна зависимость не задана.
func (c DependencyConfig) Empty() bool {
	return c.PostgresDB == nil && c.S3Endpoint == "" && c.JWKSURL == ""
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(cfg DependencyConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(cfg DependencyConfig, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DependencyConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	if cfg.Empty() {
		return nil, ErrNoDependencies
	}

	opts := []dephealth.Option{dephealth.WithLogger(logger)}

	if cfg.PostgresDB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.PostgresDB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		))
	}

	if cfg.S3Endpoint != "" {
		opts = append(opts, dephealth.HTTP("s3",
			dephealth.FromURL(cfg.S3Endpoint),
			dephealth.WithHTTPHealthPath(healthPath(cfg.S3Endpoint, "/minio/health/live")),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(cfg.TLSSkipVerify),
		))
	}

	if cfg.JWKSURL != "" {
		// Проверяем путь самого JWKS URL: у IdP /health обычно отсутствует.
		opts = append(opts, dephealth.HTTP("jwks",
			dephealth.FromURL(cfg.JWKSURL),
			dephealth.WithHTTPHealthPath(healthPath(cfg.JWKSURL, "/health")),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(false),
			dephealth.WithHTTPTLSSkipVerify(cfg.TLSSkipVerify),
		))
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPath возвращает path из URL или fallback.
func healthPath(rawURL, fallback string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" && parsed.Path != "/" {
		return parsed.Path
	}
	return fallback
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
