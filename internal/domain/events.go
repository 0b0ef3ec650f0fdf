package domain

import (
	"encoding/json"
	"time"
)

// ============================================================
// Domain events (outbox)
// ============================================================

const (
	EventInvoiceOpened       = "invoice.opened"
	EventInvoiceItemAccrued  = "invoice.item_accrued"
	EventInvoiceClosed       = "invoice.closed"
	EventInvoicePaid         = "invoice.paid"
	EventRecurrenceGenerated = "recurrence.generated"
)

// Event is a domain event recorded in the same unit of work as the change it
// describes, and relayed to the broker afterwards.
type Event struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// NewEvent marshals payload into an event. ID and timestamps are assigned by the store.
func NewEvent(tenantID, eventType, aggregateID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		TenantID:    tenantID,
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     raw,
	}, nil
}
