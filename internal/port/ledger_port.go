package port

import (
	"context"
	"time"

	"github.com/boddenberg/faturas-core/internal/domain"
)

// TransactionStore handles ledger transaction data operations.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, tenantID, transactionID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, tenantID string, filter domain.TransactionFilter) ([]domain.Transaction, error)
	// OccurrenceExists is the recurrence idempotency guard. A nil date matches
	// any transaction of the reference month.
	OccurrenceExists(ctx context.Context, tenantID, origin string, month domain.Competencia, date *time.Time) (bool, error)
}

// RecurrenceStore handles recurrence template data operations.
type RecurrenceStore interface {
	CreateRecurrence(ctx context.Context, rec *domain.Recurrence) error
	GetRecurrence(ctx context.Context, tenantID, recurrenceID string) (*domain.Recurrence, error)
	GetRecurrenceForUpdate(ctx context.Context, tenantID, recurrenceID string) (*domain.Recurrence, error)
	// ListActiveRecurrences returns templates that are neither paused nor deleted.
	ListActiveRecurrences(ctx context.Context, tenantID string) ([]domain.Recurrence, error)
	UpdateRecurrence(ctx context.Context, rec *domain.Recurrence) error
}

// EventStore is the transactional outbox.
type EventStore interface {
	AppendEvent(ctx context.Context, event domain.Event) error
	// ListUnpublished returns up to limit pending events, oldest first.
	ListUnpublished(ctx context.Context, limit int) ([]domain.Event, error)
	MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error
}

// AuditStore runs the read-only consistency queries.
type AuditStore interface {
	FindOrphanItems(ctx context.Context, tenantID string) ([]domain.OrphanItem, error)
	FindEmptyOpenInvoices(ctx context.Context, tenantID string) ([]domain.Invoice, error)
	FindInconsistentTotals(ctx context.Context, tenantID string) ([]domain.TotalDrift, error)
	FindDuplicateAccrual(ctx context.Context, tenantID string) ([]domain.DuplicateAccrual, error)
}
