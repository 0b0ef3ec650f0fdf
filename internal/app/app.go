// Package app wires configuration, storage, services and workers into one
// process. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/boddenberg/faturas-core/internal/config"
	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/handler"
	"github.com/boddenberg/faturas-core/internal/infra/cache"
	"github.com/boddenberg/faturas-core/internal/infra/events"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/infra/resilience"
	"github.com/boddenberg/faturas-core/internal/infra/sqlstore"
	"github.com/boddenberg/faturas-core/internal/port"
	"github.com/boddenberg/faturas-core/internal/service"
	"github.com/boddenberg/faturas-core/internal/worker"

	"go.uber.org/zap"
)

// Task names accepted by Worker.RunOnce.
const (
	TaskGenerate = "generate"
	TaskCloseDue = "close-due"
	TaskRelay    = "relay"
	TaskAudit    = "audit"
)

// App holds every long-lived collaborator of the process.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     *sqlstore.Store
	Metrics   *observability.Metrics
	Tenants   *cache.InMemory[[]string]
	Publisher port.EventPublisher

	Accrual     *service.AccrualService
	Invoices    *service.InvoiceService
	Recurrences *service.RecurrenceService
	Checker     *service.ConsistencyService
	Relay       *service.OutboxRelay
	Worker      *worker.Worker
}

// New connects to the database (migrating it when configured), picks the
// event publisher and builds the services and the worker.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	dialect, err := sqlstore.ParseDialect(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	dsn := DSN(dialect, cfg.DatabaseURL)

	if cfg.RunMigrations {
		if err := sqlstore.RunMigrations(dialect, dsn); err != nil {
			return nil, err
		}
		logger.Info("migrations applied", zap.String("driver", string(dialect)))
	}

	store, err := sqlstore.Open(ctx, dialect, dsn, logger)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	retry := resilience.Config{
		MaxRetries:     cfg.StorageConflictRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Metrics:   metrics,
		Tenants:   cache.New[[]string](cfg.TenantCacheTTL),
		Publisher: newPublisher(ctx, cfg, logger),

		Accrual:     service.NewAccrualService(store, retry, metrics, logger),
		Invoices:    service.NewInvoiceService(store, cfg.PaymentTolerance, retry, metrics, logger),
		Recurrences: service.NewRecurrenceService(store, retry, metrics, logger),
		Checker:     service.NewConsistencyService(store, retry, metrics, logger),
	}
	a.Relay = service.NewOutboxRelay(store, a.Publisher, retry, metrics, logger)
	a.Worker = a.newWorker()
	return a, nil
}

// DSN adapts the configured database URL to the dialect.
func DSN(dialect sqlstore.Dialect, url string) string {
	if dialect == sqlstore.SQLite {
		return sqlstore.SQLiteDSN(url)
	}
	return url
}

// newPublisher dials the broker when one is configured. A broker that is
// unreachable at startup degrades to logging; events stay in the outbox.
func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) port.EventPublisher {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled, outbox events will be logged")
		return events.NewLogPublisher(logger)
	}
	pub, err := events.NewAMQPPublisher(ctx, cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		logger.Warn("failed to connect to AMQP, outbox events will be logged", zap.Error(err))
		return events.NewLogPublisher(logger)
	}
	logger.Info("AMQP publisher ready", zap.String("exchange", cfg.AMQPExchange))
	return pub
}

// tenants prefers the configured list and falls back to the store. The
// store lookup is cached: a new tenant is picked up within the TTL.
func (a *App) tenants(ctx context.Context) ([]string, error) {
	if len(a.Config.Tenants) > 0 {
		return a.Config.Tenants, nil
	}
	tenants, hit, err := a.Tenants.GetOrLoad(ctx, "all", a.Store.Tenants)
	if hit {
		a.Metrics.IncrCacheHit(observability.CacheTenants)
	} else {
		a.Metrics.IncrCacheMiss(observability.CacheTenants)
	}
	return tenants, err
}

func (a *App) newWorker() *worker.Worker {
	w := worker.New(a.tenants, a.Config.MaxConcurrency, a.Logger)

	w.Add(worker.Task{
		Name:      TaskGenerate,
		Interval:  a.Config.GenerationInterval,
		PerTenant: true,
		Run: func(ctx context.Context, tenantID string, now time.Time) error {
			res, err := a.Recurrences.GenerateForMonth(ctx, tenantID, domain.CompetenciaOf(now))
			if err != nil {
				return err
			}
			if len(res.Failures) > 0 {
				return fmt.Errorf("%d recurrence(s) failed", len(res.Failures))
			}
			return nil
		},
	})
	w.Add(worker.Task{
		Name:      TaskCloseDue,
		Interval:  a.Config.SweepInterval,
		PerTenant: true,
		Run: func(ctx context.Context, tenantID string, now time.Time) error {
			_, err := a.Invoices.CloseDueInvoices(ctx, tenantID, now)
			return err
		},
	})
	w.Add(worker.Task{
		Name:     TaskRelay,
		Interval: a.Config.RelayInterval,
		Run: func(ctx context.Context, _ string, _ time.Time) error {
			// drain full batches before waiting for the next tick
			for {
				n, err := a.Relay.RelayOnce(ctx, a.Config.RelayBatchSize)
				if err != nil || n == 0 || n < a.Config.RelayBatchSize {
					return err
				}
			}
		},
	})
	w.Add(worker.Task{
		Name:      TaskAudit,
		Interval:  a.Config.AuditInterval,
		PerTenant: true,
		Run: func(ctx context.Context, tenantID string, _ time.Time) error {
			_, err := a.Checker.Audit(ctx, tenantID)
			return err
		},
	})
	return w
}

// Router builds the operational HTTP handler.
func (a *App) Router() http.Handler {
	return handler.NewRouter(a.Store, a.Checker, a.Metrics, a.Logger)
}

// Close releases the publisher, the tenant cache and the database.
func (a *App) Close() error {
	a.Tenants.Stop()
	return errors.Join(a.Publisher.Close(), a.Store.Close())
}
