package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/faturas-core/internal/domain"
)

// eventRepo is the transactional outbox.
type eventRepo struct {
	c conn
}

const eventColumns = `id, tenant_id, type, aggregate_id, payload, occurred_at, published_at`

func (r *eventRepo) AppendEvent(ctx context.Context, e domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := r.c.exec(ctx,
		`INSERT INTO domain_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		e.ID, e.TenantID, e.Type, e.AggregateID, payload, tsArg(e.OccurredAt))
	return mapError("append event", err)
}

func (r *eventRepo) ListUnpublished(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.c.query(ctx, `
		SELECT `+eventColumns+` FROM domain_events
		WHERE published_at IS NULL
		ORDER BY occurred_at, id
		LIMIT ?`+r.c.dialect.skipLocked(),
		limit)
	if err != nil {
		return nil, mapError("list unpublished events", err)
	}
	return collect(rows, "list unpublished events", scanEvent)
}

func (r *eventRepo) MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(eventIDs)), ", ")
	args := make([]any, 0, len(eventIDs)+1)
	args = append(args, tsArg(at))
	for _, id := range eventIDs {
		args = append(args, id)
	}
	_, err := r.c.exec(ctx,
		`UPDATE domain_events SET published_at = ? WHERE published_at IS NULL AND id IN (`+placeholders+`)`, args...)
	return mapError("mark events published", err)
}

func scanEvent(s scanner) (domain.Event, error) {
	var (
		e                   domain.Event
		payload             []byte
		occurred, published timeCol
	)
	if err := s.Scan(&e.ID, &e.TenantID, &e.Type, &e.AggregateID, &payload, &occurred, &published); err != nil {
		return e, err
	}
	e.Payload = payload
	e.OccurredAt = occurred.Time
	e.PublishedAt = published.ptr()
	return e, nil
}
