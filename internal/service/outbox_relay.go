package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/infra/resilience"
	"github.com/boddenberg/faturas-core/internal/port"
)

var relayTracer = otel.Tracer("service/outbox")

// OutboxRelay hands pending outbox events to the publisher. Delivery is at
// least once: events are read in one short unit of work, published with no
// transaction open, and marked published in a second unit. A crash between
// the two republishes the batch.
type OutboxRelay struct {
	uow       *unitOfWork
	publisher port.EventPublisher
	now       func() time.Time
}

func NewOutboxRelay(store port.Store, publisher port.EventPublisher, retry resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *OutboxRelay {
	return &OutboxRelay{
		uow:       &unitOfWork{store: store, retry: retry, metrics: metrics, logger: logger},
		publisher: publisher,
		now:       time.Now,
	}
}

// RelayOnce publishes up to batch pending events, oldest first, and returns
// how many were published. It stops at the first publish failure; the
// remaining events stay pending for the next run.
func (r *OutboxRelay) RelayOnce(ctx context.Context, batch int) (int, error) {
	ctx, span := relayTracer.Start(ctx, "OutboxRelay.RelayOnce")
	defer span.End()
	start := time.Now()

	var pending []domain.Event
	err := r.uow.run(ctx, "relay_outbox", func(tx port.Tx) error {
		var err error
		pending, err = tx.Events().ListUnpublished(ctx, batch)
		return err
	})

	var publishErr error
	ids := make([]string, 0, len(pending))
	if err == nil {
		for _, ev := range pending {
			if err := r.publisher.Publish(ctx, ev); err != nil {
				publishErr = err
				r.uow.logger.Warn("event publish failed",
					zap.String("event_id", ev.ID),
					zap.String("type", ev.Type),
					zap.String("kind", domain.KindOf(err)),
					zap.Error(err),
				)
				break
			}
			ids = append(ids, ev.ID)
		}
	}

	var published, failed int
	if len(ids) > 0 {
		err = r.uow.run(ctx, "relay_outbox", func(tx port.Tx) error {
			return tx.Events().MarkPublished(ctx, ids, r.now().UTC())
		})
		if err == nil {
			published = len(ids)
		}
	}
	if publishErr != nil {
		failed = len(pending) - len(ids)
	}
	if err == nil {
		err = publishErr
	}

	r.uow.metrics.AddEventsRelayed("published", published)
	r.uow.metrics.AddEventsRelayed("failed", failed)
	span.SetAttributes(
		attribute.Int("events.published", published),
		attribute.Int("events.failed", failed),
	)
	r.uow.observe(span, "relay_outbox", start, err)
	if published > 0 {
		r.uow.logger.Info("outbox relayed", zap.Int("published", published))
	}
	return published, err
}
