// Package service provides the business logic layer (use cases) of the
// faturas core: accrual, invoice lifecycle, recurrence generation and
// consistency audits. Every operation runs as one unit of work against the
// store; storage conflicts are retried here and nowhere else.
package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/infra/resilience"
	"github.com/boddenberg/faturas-core/internal/port"
)

// DefaultRetry bounds the retries of a conflicting unit of work.
var DefaultRetry = resilience.Config{
	MaxRetries:     3,
	InitialBackoff: 50 * time.Millisecond,
}

// unitOfWork runs closures in a store transaction and retries the whole
// closure on ErrStorageConflict. Closures must not carry state between
// attempts.
type unitOfWork struct {
	store   port.Store
	retry   resilience.Config
	metrics *observability.Metrics
	logger  *zap.Logger
}

// run reports cancellation and deadline errors as ErrStorage so callers
// always see a taxonomy kind.
func (u *unitOfWork) run(ctx context.Context, op string, fn func(tx port.Tx) error) error {
	attempt := 0
	err := resilience.RetryIf(ctx, u.retry, domain.IsStorageConflict, func() error {
		attempt++
		err := u.store.WithTx(ctx, fn)
		if domain.IsStorageConflict(err) {
			u.metrics.IncrStorageConflict(op)
			u.logger.Warn("storage conflict, retrying unit of work",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if domain.KindOf(err) == domain.KindUnknown {
			return &domain.ErrStorage{Op: op, Err: err}
		}
	}
	return err
}

// observe records duration, error kind and span status for an operation.
func (u *unitOfWork) observe(span trace.Span, op string, start time.Time, err error) {
	u.metrics.RecordOperation(op, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.KindOf(err))
	}
}

// appendEvent records a domain event in the outbox of the current unit of work.
func appendEvent(ctx context.Context, tx port.Tx, tenantID, eventType, aggregateID string, payload any) error {
	ev, err := domain.NewEvent(tenantID, eventType, aggregateID, payload)
	if err != nil {
		return &domain.ErrValidation{Field: "event", Message: err.Error()}
	}
	return tx.Events().AppendEvent(ctx, ev)
}

func today(now func() time.Time) time.Time {
	return domain.DateOnly(now())
}
