package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/port"
)

var _ port.EventPublisher = (*LogPublisher)(nil)

// LogPublisher writes events to the logger. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event domain.Event) error {
	p.logger.Info("domain event",
		zap.String("event_id", event.ID),
		zap.String("tenant_id", event.TenantID),
		zap.String("type", event.Type),
		zap.String("aggregate_id", event.AggregateID),
		zap.ByteString("payload", event.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
