package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/faturas-core/internal/domain"
)

// CardStore handles credit card data operations.
type CardStore interface {
	CreateCard(ctx context.Context, card *domain.Card) error
	GetCard(ctx context.Context, tenantID, cardID string) (*domain.Card, error)
	// UpdateCard changes the nickname, brand, billing days and payment account.
	UpdateCard(ctx context.Context, card *domain.Card) error
	ListCards(ctx context.Context, tenantID string) ([]domain.Card, error)
}

// InvoiceStore handles invoice data operations.
type InvoiceStore interface {
	// EnsureInvoice fetches the invoice for (tenant, card, competência) or
	// creates it from inv. The returned row is locked for the rest of the
	// unit of work; created reports whether this call inserted it.
	EnsureInvoice(ctx context.Context, inv *domain.Invoice) (invoice *domain.Invoice, created bool, err error)
	GetInvoice(ctx context.Context, tenantID, invoiceID string) (*domain.Invoice, error)
	// GetInvoiceForUpdate is GetInvoice plus a row lock.
	GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, tenantID string, filter domain.InvoiceFilter) ([]domain.Invoice, error)
	MarkInvoiceClosed(ctx context.Context, invoiceID string, total decimal.Decimal, closingDate time.Time) error
	MarkInvoicePaid(ctx context.Context, invoiceID string, amount decimal.Decimal, paymentDate time.Time, transactionID string) error
}

// InvoiceItemStore handles invoice item data operations.
type InvoiceItemStore interface {
	CreateItem(ctx context.Context, item *domain.InvoiceItem) error
	GetItem(ctx context.Context, tenantID, itemID string) (*domain.InvoiceItem, error)
	// ListItems returns the non-deleted items of an invoice.
	ListItems(ctx context.Context, tenantID, invoiceID string) ([]domain.InvoiceItem, error)
	SoftDeleteItem(ctx context.Context, tenantID, itemID string) error
}
