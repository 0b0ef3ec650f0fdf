package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Consistency findings
// ============================================================

// Orphan reasons.
const (
	OrphanMissingInvoice      = "missing_invoice"
	OrphanDanglingInvoice     = "dangling_invoice"
	OrphanCompetenciaMismatch = "competencia_mismatch"
)

// OrphanItem is a non-deleted item without a valid invoice.
type OrphanItem struct {
	Item   InvoiceItem `json:"item"`
	Reason string      `json:"reason"`
}

// TotalDrift is a closed or paid invoice whose items no longer add up to the
// closed total.
type TotalDrift struct {
	Invoice    Invoice         `json:"invoice"`
	ItemsTotal decimal.Decimal `json:"items_total"`
}

// Difference is items total minus closed total.
func (d TotalDrift) Difference() decimal.Decimal {
	if d.Invoice.ClosedTotal == nil {
		return d.ItemsTotal
	}
	return d.ItemsTotal.Sub(*d.Invoice.ClosedTotal)
}

// DuplicateAccrual groups items sharing card, competência, description,
// amount and purchase date.
type DuplicateAccrual struct {
	CardID       string          `json:"card_id"`
	Competencia  Competencia     `json:"competencia"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	PurchaseDate time.Time       `json:"purchase_date"`
	ItemIDs      []string        `json:"item_ids"`
}

// AuditReport bundles the four consistency checks for a tenant.
type AuditReport struct {
	TenantID          string             `json:"tenant_id"`
	OrphanItems       []OrphanItem       `json:"orphan_items"`
	EmptyOpenInvoices []Invoice          `json:"empty_open_invoices"`
	TotalDrift        []TotalDrift       `json:"total_drift"`
	Duplicates        []DuplicateAccrual `json:"duplicates"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// Clean reports whether no check produced findings.
func (r AuditReport) Clean() bool {
	return len(r.OrphanItems) == 0 && len(r.EmptyOpenInvoices) == 0 &&
		len(r.TotalDrift) == 0 && len(r.Duplicates) == 0
}
