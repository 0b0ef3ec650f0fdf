package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/port"
	"github.com/boddenberg/faturas-core/internal/service"
)

// recordingPublisher remembers published events and fails after failAfter
// successful calls when failAfter >= 0.
type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.Event
	failAfter int
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAfter >= 0 && len(p.published) >= p.failAfter {
		return &domain.ErrCircuitOpen{Service: "amqp"}
	}
	p.published = append(p.published, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestRelayOnce_PublishesPendingEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.accrue(t, "Mercado", "10.00", date(2025, 3, 1))
	env.accrue(t, "Posto", "20.00", date(2025, 3, 2))

	pub := &recordingPublisher{failAfter: -1}
	relay := service.NewOutboxRelay(env.store, pub, fastRetry, env.metrics, zap.NewNop())

	n, err := relay.RelayOnce(ctx, 100)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// one invoice.opened plus two invoice.item_accrued
	if n != 3 || len(pub.published) != 3 {
		t.Fatalf("expected 3 events, got %d (%d published)", n, len(pub.published))
	}
	if pub.published[0].Type != domain.EventInvoiceOpened {
		t.Errorf("events should go out in order, first was %s", pub.published[0].Type)
	}
	if pending := env.events(t); len(pending) != 0 {
		t.Errorf("expected no pending events, got %d", len(pending))
	}

	n, err = relay.RelayOnce(ctx, 100)
	if err != nil || n != 0 {
		t.Errorf("second run should publish nothing, got %d %v", n, err)
	}
	if got := env.metrics.Snapshot().EventsPublished; got != 3 {
		t.Errorf("expected 3 published in stats, got %v", got)
	}
}

func TestRelayOnce_StopsAtFirstFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.accrue(t, "Mercado", "10.00", date(2025, 3, 1))
	env.accrue(t, "Posto", "20.00", date(2025, 3, 2))

	pub := &recordingPublisher{failAfter: 1}
	relay := service.NewOutboxRelay(env.store, pub, fastRetry, env.metrics, zap.NewNop())

	n, err := relay.RelayOnce(ctx, 100)
	var open *domain.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected the publish error, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 event published before the failure, got %d", n)
	}
	if pending := env.events(t); len(pending) != 2 {
		t.Errorf("unpublished events must stay pending, got %d", len(pending))
	}

	pub.failAfter = -1
	n, err = relay.RelayOnce(ctx, 100)
	if err != nil || n != 2 {
		t.Errorf("expected the remaining 2 events, got %d %v", n, err)
	}
}

func TestRelayOnce_RespectsBatchSize(t *testing.T) {
	env := newTestEnv(t)
	env.accrue(t, "Mercado", "10.00", date(2025, 3, 1))
	env.accrue(t, "Posto", "20.00", date(2025, 3, 2))

	pub := &recordingPublisher{failAfter: -1}
	relay := service.NewOutboxRelay(env.store, pub, fastRetry, env.metrics, zap.NewNop())

	n, err := relay.RelayOnce(context.Background(), 2)
	if err != nil || n != 2 {
		t.Errorf("expected a batch of 2, got %d %v", n, err)
	}
}

// storeCheckingPublisher opens its own transaction while publishing. The test
// store has a single connection, so this blocks if the relay still holds one.
type storeCheckingPublisher struct {
	store   port.Store
	pending []int
}

func (p *storeCheckingPublisher) Publish(ctx context.Context, _ domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.store.WithTx(ctx, func(tx port.Tx) error {
		events, err := tx.Events().ListUnpublished(ctx, 100)
		p.pending = append(p.pending, len(events))
		return err
	})
}

func (p *storeCheckingPublisher) Close() error { return nil }

func TestRelayOnce_PublishesOutsideTransaction(t *testing.T) {
	env := newTestEnv(t)
	env.accrue(t, "Mercado", "10.00", date(2025, 3, 1))

	pub := &storeCheckingPublisher{store: env.store}
	relay := service.NewOutboxRelay(env.store, pub, fastRetry, env.metrics, zap.NewNop())

	n, err := relay.RelayOnce(context.Background(), 100)
	if err != nil {
		t.Fatalf("publisher could not reach the store during publish: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}
	// events are marked only after the whole batch went out
	if len(pub.pending) != 2 || pub.pending[0] != 2 || pub.pending[1] != 2 {
		t.Errorf("expected both events pending while publishing, got %v", pub.pending)
	}
	if pending := env.events(t); len(pending) != 0 {
		t.Errorf("expected no pending events, got %d", len(pending))
	}
}
