package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Credit Cards
// ============================================================

// Card is a credit card with its billing terms.
type Card struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Nickname         string    `json:"nickname"`
	Brand            string    `json:"brand"` // Visa, Mastercard, Elo
	ClosingDay       int       `json:"closing_day"`
	DueDay           int       `json:"due_day"`
	PaymentAccountID string    `json:"payment_account_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate checks the card's billing days.
func (c Card) Validate() error {
	if c.ClosingDay < 1 || c.ClosingDay > 31 {
		return &ErrValidation{Field: "closing_day", Message: "must be between 1 and 31"}
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return &ErrValidation{Field: "due_day", Message: "must be between 1 and 31"}
	}
	return nil
}

// ============================================================
// Invoices (faturas)
// ============================================================

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceOpen   InvoiceStatus = "open"
	InvoiceClosed InvoiceStatus = "closed"
	InvoicePaid   InvoiceStatus = "paid"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceOpen, InvoiceClosed, InvoicePaid:
		return true
	}
	return false
}

// Invoice aggregates a card's purchases for one competência.
type Invoice struct {
	ID                   string           `json:"id"`
	TenantID             string           `json:"tenant_id"`
	CardID               string           `json:"card_id"`
	Competencia          Competencia      `json:"competencia"`
	Status               InvoiceStatus    `json:"status"`
	ClosedTotal          *decimal.Decimal `json:"closed_total,omitempty"`
	PaidAmount           *decimal.Decimal `json:"paid_amount,omitempty"`
	DueDate              time.Time        `json:"due_date"`
	ClosingDate          *time.Time       `json:"closing_date,omitempty"`
	PaymentDate          *time.Time       `json:"payment_date,omitempty"`
	PaymentTransactionID *string          `json:"payment_transaction_id,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Origin is the provenance tag of ledger entries derived from this invoice.
func (i Invoice) Origin() string {
	return InvoiceOrigin(i.ID)
}

// InvoiceItem is one purchase (or installment) accrued into an invoice.
type InvoiceItem struct {
	ID                 string          `json:"id"`
	TenantID           string          `json:"tenant_id"`
	InvoiceID          *string         `json:"invoice_id"`
	CardID             string          `json:"card_id"`
	Description        string          `json:"description"`
	Amount             decimal.Decimal `json:"amount"`
	PurchaseDate       time.Time       `json:"purchase_date"`
	Competencia        Competencia     `json:"competencia"`
	CategoryID         *string         `json:"category_id,omitempty"`
	InstallmentGroupID *string         `json:"installment_group_id,omitempty"`
	InstallmentIndex   *int            `json:"installment_index,omitempty"`
	InstallmentTotal   *int            `json:"installment_total,omitempty"`
	Deleted            bool            `json:"deleted"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Installment renders "n/N" for installment items, "" otherwise.
func (it InvoiceItem) Installment() string {
	if it.InstallmentIndex == nil || it.InstallmentTotal == nil {
		return ""
	}
	return fmt.Sprintf("%d/%d", *it.InstallmentIndex, *it.InstallmentTotal)
}

// InvoiceWithItems is an invoice plus its non-deleted items.
type InvoiceWithItems struct {
	Invoice
	Items []InvoiceItem `json:"items"`
	// Total is the running sum of the listed items; equal to ClosedTotal
	// for consistent closed invoices.
	Total decimal.Decimal `json:"total"`
}

// Purchase is a card purchase to be accrued.
type Purchase struct {
	TenantID     string
	CardID       string
	Description  string
	Amount       decimal.Decimal
	PurchaseDate time.Time
	CategoryID   *string
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	CardID string
	Status *InvoiceStatus
}
