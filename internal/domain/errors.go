package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the faturas core.
// Callers match them with errors.As; KindOf gives a stable label for logs
// and metrics.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInvalidAmount indicates a non-positive purchase or installment amount.
type ErrInvalidAmount struct {
	Amount decimal.Decimal
}

func (e *ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount: %s (must be > 0)", e.Amount.StringFixed(2))
}

// ErrUnknownCard indicates the card reference does not resolve for the tenant.
type ErrUnknownCard struct {
	CardID string
}

func (e *ErrUnknownCard) Error() string {
	return fmt.Sprintf("unknown card: %s", e.CardID)
}

// ErrInvoiceNotOpen is returned when accrual targets a closed or paid invoice.
type ErrInvoiceNotOpen struct {
	InvoiceID   string
	Competencia Competencia
	Status      InvoiceStatus
}

func (e *ErrInvoiceNotOpen) Error() string {
	return fmt.Sprintf("invoice %s (%s) is %s, not open", e.InvoiceID, e.Competencia, e.Status)
}

// ErrInvalidTransition indicates a lifecycle transition not allowed from the
// invoice's current status.
type ErrInvalidTransition struct {
	InvoiceID string
	From      InvoiceStatus
	To        InvoiceStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition for invoice %s: %s -> %s", e.InvoiceID, e.From, e.To)
}

// ErrAmountMismatch indicates a payment that does not match the closed total.
type ErrAmountMismatch struct {
	InvoiceID string
	Expected  decimal.Decimal
	Got       decimal.Decimal
}

func (e *ErrAmountMismatch) Error() string {
	return fmt.Sprintf("amount mismatch for invoice %s: expected=%s got=%s",
		e.InvoiceID, e.Expected.StringFixed(2), e.Got.StringFixed(2))
}

// ErrInvalidRecurrence indicates a recurrence template that cannot be expanded.
type ErrInvalidRecurrence struct {
	RecurrenceID string
	Reason       string
}

func (e *ErrInvalidRecurrence) Error() string {
	return fmt.Sprintf("invalid recurrence %s: %s", e.RecurrenceID, e.Reason)
}

// ErrStorageConflict signals a serialization failure, deadlock or lost
// insert race. The whole operation can be retried.
type ErrStorageConflict struct {
	Op  string
	Err error
}

func (e *ErrStorageConflict) Error() string {
	return fmt.Sprintf("storage conflict [%s]: %v", e.Op, e.Err)
}

func (e *ErrStorageConflict) Unwrap() error {
	return e.Err
}

// ErrStorage wraps any other storage failure so driver errors never reach callers raw.
type ErrStorage struct {
	Op  string
	Err error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage error [%s]: %v", e.Op, e.Err)
}

func (e *ErrStorage) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ============================================================
// Kinds
// ============================================================

const (
	KindNotFound          = "not_found"
	KindValidation        = "validation"
	KindInvalidAmount     = "invalid_amount"
	KindUnknownCard       = "unknown_card"
	KindInvoiceNotOpen    = "invoice_not_open"
	KindInvalidTransition = "invalid_transition"
	KindAmountMismatch    = "amount_mismatch"
	KindInvalidRecurrence = "invalid_recurrence"
	KindStorageConflict   = "storage_conflict"
	KindStorage           = "storage"
	KindCircuitOpen       = "circuit_open"
	KindUnknown           = "unknown"
)

// KindOf returns the taxonomy label of err, or "" for a nil error.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var (
		notFound   *ErrNotFound
		validation *ErrValidation
		amount     *ErrInvalidAmount
		card       *ErrUnknownCard
		notOpen    *ErrInvoiceNotOpen
		transition *ErrInvalidTransition
		mismatch   *ErrAmountMismatch
		recurrence *ErrInvalidRecurrence
		conflict   *ErrStorageConflict
		storage    *ErrStorage
		circuit    *ErrCircuitOpen
	)
	switch {
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &amount):
		return KindInvalidAmount
	case errors.As(err, &card):
		return KindUnknownCard
	case errors.As(err, &notOpen):
		return KindInvoiceNotOpen
	case errors.As(err, &transition):
		return KindInvalidTransition
	case errors.As(err, &mismatch):
		return KindAmountMismatch
	case errors.As(err, &recurrence):
		return KindInvalidRecurrence
	case errors.As(err, &conflict):
		return KindStorageConflict
	case errors.As(err, &storage):
		return KindStorage
	case errors.As(err, &circuit):
		return KindCircuitOpen
	}
	return KindUnknown
}

// IsStorageConflict reports whether err is a retryable storage conflict.
func IsStorageConflict(err error) bool {
	var conflict *ErrStorageConflict
	return errors.As(err, &conflict)
}
