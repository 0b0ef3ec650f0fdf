// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/faturas-core/internal/domain"
)

// Store is the storage collaborator. Every read and write of the core goes
// through a unit of work.
type Store interface {
	// WithTx runs fn inside one transaction. It commits when fn returns nil
	// and rolls back on error or panic.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	// Tenants lists tenants that own at least one card or recurrence.
	Tenants(ctx context.Context) ([]string, error)
	Close() error
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Accounts() AccountStore
	Categories() CategoryStore
	Cards() CardStore
	Invoices() InvoiceStore
	Items() InvoiceItemStore
	Transactions() TransactionStore
	Recurrences() RecurrenceStore
	Events() EventStore
	Audit() AuditStore
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	// GetOrLoad returns the cached value or loads and caches it. hit reports
	// whether the value came from the cache.
	GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (value T, hit bool, err error)
}

// EventPublisher delivers outbox events to the outside world.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}
