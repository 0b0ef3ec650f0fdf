// Package worker runs the periodic jobs of the core: monthly recurrence
// generation, the billing-cycle close sweep, the outbox relay and the
// consistency audit.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/faturas-core/internal/infra/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("worker")

// Task is one periodic job. A per-tenant task runs once for every tenant
// returned by the tenant source; a global task runs with an empty tenant.
type Task struct {
	Name      string
	Interval  time.Duration
	PerTenant bool
	Run       func(ctx context.Context, tenantID string, now time.Time) error
}

// TenantSource lists the tenants a per-tenant task fans out to.
type TenantSource func(ctx context.Context) ([]string, error)

// StaticTenants returns a source that always yields the given tenants.
func StaticTenants(tenants ...string) TenantSource {
	return func(context.Context) ([]string, error) {
		return tenants, nil
	}
}

// Worker schedules tasks on tickers and fans per-tenant work out under a
// bulkhead.
type Worker struct {
	mu       sync.Mutex
	tasks    []Task
	tenants  TenantSource
	bulkhead *resilience.Bulkhead
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a worker. maxConcurrency bounds how many tenants run at once.
func New(tenants TenantSource, maxConcurrency int, logger *zap.Logger) *Worker {
	return &Worker{
		tenants:  tenants,
		bulkhead: resilience.NewBulkhead(maxConcurrency),
		now:      time.Now,
		logger:   logger,
	}
}

// Add registers a task. Tasks with a non-positive interval only run through
// RunOnce.
func (w *Worker) Add(t Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, t)
}

// Start runs every scheduled task once and then on its interval until ctx
// is cancelled. It blocks until all loops have returned.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	tasks := append([]Task(nil), w.tasks...)
	w.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		if t.Interval <= 0 {
			w.logger.Info("worker: task not scheduled", zap.String("task", t.Name))
			continue
		}
		g.Go(func() error {
			w.loop(ctx, t)
			return nil
		})
	}

	w.logger.Info("worker started", zap.Int("tasks", len(tasks)))
	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	w.runLogged(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runLogged(ctx, t)
		}
	}
}

func (w *Worker) runLogged(ctx context.Context, t Task) {
	start := time.Now()
	if err := w.run(ctx, t); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("worker: task failed",
			zap.String("task", t.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("worker: task done",
		zap.String("task", t.Name),
		zap.Duration("duration", time.Since(start)),
	)
}

// RunOnce runs the named task immediately and returns the joined errors of
// every tenant it ran for.
func (w *Worker) RunOnce(ctx context.Context, name string) error {
	w.mu.Lock()
	var task *Task
	for i := range w.tasks {
		if w.tasks[i].Name == name {
			task = &w.tasks[i]
			break
		}
	}
	w.mu.Unlock()

	if task == nil {
		return fmt.Errorf("worker: unknown task %q", name)
	}
	return w.run(ctx, *task)
}

func (w *Worker) run(ctx context.Context, t Task) error {
	ctx, span := tracer.Start(ctx, "Worker."+t.Name)
	defer span.End()

	now := w.now()
	if !t.PerTenant {
		return t.Run(ctx, "", now)
	}

	tenants, err := w.tenants(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list tenants: %w", err)
	}
	span.SetAttributes(attribute.Int("worker.tenants", len(tenants)))

	// one tenant failing never stops the others
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, tenant := range tenants {
		g.Go(func() error {
			if err := w.bulkhead.Acquire(ctx); err != nil {
				return err
			}
			defer w.bulkhead.Release()

			if err := t.Run(ctx, tenant, now); err != nil {
				w.logger.Warn("worker: tenant failed",
					zap.String("task", t.Name),
					zap.String("tenant_id", tenant),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("tenant %s: %w", tenant, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
