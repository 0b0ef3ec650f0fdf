// Package events delivers outbox events to the outside world.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/resilience"
	"github.com/boddenberg/faturas-core/internal/port"
)

var _ port.EventPublisher = (*AMQPPublisher)(nil)

// AMQPPublisher publishes events to a durable topic exchange, routed by
// event type. Calls go through a circuit breaker so a dead broker fails
// fast instead of stalling the relay.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// dialRetry covers a broker that starts a little after the process.
var dialRetry = resilience.Config{MaxRetries: 3, InitialBackoff: 500 * time.Millisecond}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(ctx context.Context, url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	var conn *amqp091.Connection
	err := resilience.RetryWithBackoff(ctx, dialRetry, func() error {
		c, err := amqp091.Dial(url)
		if err != nil {
			logger.Debug("AMQP dial failed", zap.Error(err))
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		cb:       resilience.NewCircuitBreaker("amqp"),
		logger:   logger,
	}, nil
}

// Publish sends one event as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, event domain.Event) error {
	msg, err := newPublishing(event)
	if err != nil {
		return err
	}

	return resilience.Guard(p.cb, func() error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		// amqp channels are not safe for concurrent publishing
		p.mu.Lock()
		defer p.mu.Unlock()

		err := p.channel.PublishWithContext(
			ctx,
			p.exchange, // exchange
			event.Type, // routing key
			false,      // mandatory
			false,      // immediate
			msg,
		)
		if err != nil {
			return fmt.Errorf("publish %s: %w", event.ID, err)
		}

		p.logger.Debug("event published",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
			zap.String("exchange", p.exchange),
		)
		return nil
	})
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// envelope is the message body consumers receive.
type envelope struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

func newPublishing(event domain.Event) (amqp091.Publishing, error) {
	payload := event.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	body, err := json.Marshal(envelope{
		ID:          event.ID,
		TenantID:    event.TenantID,
		Type:        event.Type,
		AggregateID: event.AggregateID,
		OccurredAt:  event.OccurredAt.UTC(),
		Payload:     payload,
	})
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.OccurredAt.UTC(),
		Headers:      amqp091.Table{"tenant_id": event.TenantID},
		Body:         body,
	}, nil
}
