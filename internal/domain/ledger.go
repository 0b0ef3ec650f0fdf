package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Ledger transactions
// ============================================================

// TransactionKind is the direction of a ledger entry.
type TransactionKind string

const (
	KindCredit   TransactionKind = "credit"
	KindDebit    TransactionKind = "debit"
	KindTransfer TransactionKind = "transfer"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindCredit, KindDebit, KindTransfer:
		return true
	}
	return false
}

// TransactionStatus tracks whether an entry is scheduled ("previsto") or settled.
type TransactionStatus string

const (
	TxScheduled TransactionStatus = "scheduled"
	TxSettled   TransactionStatus = "settled"
	TxCancelled TransactionStatus = "cancelled"
	TxOverdue   TransactionStatus = "overdue"
)

// Transaction is a ledger entry.
type Transaction struct {
	ID                   string            `json:"id"`
	TenantID             string            `json:"tenant_id"`
	Kind                 TransactionKind   `json:"kind"`
	Amount               decimal.Decimal   `json:"amount"`
	Description          string            `json:"description"`
	TransactionDate      time.Time         `json:"transaction_date"`
	DueDate              *time.Time        `json:"due_date,omitempty"`
	AccountID            string            `json:"account_id"`
	DestinationAccountID *string           `json:"destination_account_id,omitempty"`
	CategoryID           *string           `json:"category_id,omitempty"`
	Origin               string            `json:"origin"`
	Status               TransactionStatus `json:"status"`
	InstallmentGroupID   *string           `json:"installment_group_id,omitempty"`
	InstallmentIndex     *int              `json:"installment_index,omitempty"`
	InstallmentTotal     *int              `json:"installment_total,omitempty"`
	ReferenceMonth       *Competencia      `json:"reference_month,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	Origin         string
	ReferenceMonth *Competencia
}

// ============================================================
// Origin tags
// ============================================================

const (
	originRecurrencePrefix = "recurrence:"
	originInvoicePrefix    = "invoice:"
)

func RecurrenceOrigin(recurrenceID string) string { return originRecurrencePrefix + recurrenceID }

func InvoiceOrigin(invoiceID string) string { return originInvoicePrefix + invoiceID }

// RecurrenceIDFromOrigin extracts the recurrence id of a "recurrence:<id>" tag.
func RecurrenceIDFromOrigin(origin string) (string, bool) {
	if !strings.HasPrefix(origin, originRecurrencePrefix) {
		return "", false
	}
	return strings.TrimPrefix(origin, originRecurrencePrefix), true
}

// ============================================================
// Money
// ============================================================

// Money rounds an amount to cents.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SplitInstallments divides total into n shares truncated to cents. The
// rounding remainder goes to the first share so the shares always add up
// to total.
func SplitInstallments(total decimal.Decimal, n int) []decimal.Decimal {
	if n < 1 {
		return nil
	}
	total = Money(total)
	count := decimal.NewFromInt(int64(n))
	share := total.Div(count).Truncate(2)
	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = share
	}
	shares[0] = total.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	return shares
}

// Sum adds up item amounts.
func Sum(items []InvoiceItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Deleted {
			continue
		}
		total = total.Add(it.Amount)
	}
	return Money(total)
}
