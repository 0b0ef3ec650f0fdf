package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/infra/resilience"
	"github.com/boddenberg/faturas-core/internal/port"
)

var invoiceTracer = otel.Tracer("service/invoice")

// InvoiceService drives invoices through open → closed → paid.
type InvoiceService struct {
	uow       *unitOfWork
	tolerance decimal.Decimal
	now       func() time.Time
}

// NewInvoiceService creates a new invoice lifecycle service. tolerance is
// the largest accepted difference between a payment and the closed total.
func NewInvoiceService(store port.Store, tolerance decimal.Decimal, retry resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		uow:       &unitOfWork{store: store, retry: retry, metrics: metrics, logger: logger},
		tolerance: tolerance.Abs(),
		now:       time.Now,
	}
}

// PayInvoiceRequest carries the settlement of a closed invoice.
type PayInvoiceRequest struct {
	TenantID    string
	InvoiceID   string
	AccountID   string
	Amount      decimal.Decimal
	PaymentDate time.Time // zero means today
}

type invoiceClosedPayload struct {
	CardID      string             `json:"card_id"`
	Competencia domain.Competencia `json:"competencia"`
	ClosedTotal decimal.Decimal    `json:"closed_total"`
	ClosingDate string             `json:"closing_date"`
	Items       int                `json:"items"`
}

type invoicePaidPayload struct {
	CardID        string             `json:"card_id"`
	Competencia   domain.Competencia `json:"competencia"`
	PaidAmount    decimal.Decimal    `json:"paid_amount"`
	PaymentDate   string             `json:"payment_date"`
	AccountID     string             `json:"account_id"`
	TransactionID string             `json:"transaction_id"`
}

// ============================================================
// Lifecycle
// ============================================================

// Close freezes an open invoice: the closed total is the sum of its
// non-deleted items (zero for an empty invoice). closingDate defaults to today.
func (s *InvoiceService) Close(ctx context.Context, tenantID, invoiceID string, closingDate *time.Time) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Close")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("invoice.id", invoiceID),
	)
	start := time.Now()

	date := today(s.now)
	if closingDate != nil {
		date = domain.DateOnly(*closingDate)
	}

	var closed *domain.Invoice
	err := s.uow.run(ctx, "close_invoice", func(tx port.Tx) error {
		inv, err := s.close(ctx, tx, tenantID, invoiceID, date)
		if err != nil {
			return err
		}
		closed = inv
		return nil
	})
	s.uow.observe(span, "close_invoice", start, err)
	if err != nil {
		s.uow.logger.Warn("invoice close failed",
			zap.String("tenant_id", tenantID),
			zap.String("invoice_id", invoiceID),
			zap.String("kind", domain.KindOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.closedLog(closed)
	return closed, nil
}

// Pay settles a closed invoice from an account. A settled debit with origin
// "invoice:<id>" is written together with the invoice update.
func (s *InvoiceService) Pay(ctx context.Context, req PayInvoiceRequest) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Pay")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("invoice.id", req.InvoiceID),
		attribute.String("account.id", req.AccountID),
	)
	start := time.Now()

	amount := domain.Money(req.Amount)
	paymentDate := today(s.now)
	if !req.PaymentDate.IsZero() {
		paymentDate = domain.DateOnly(req.PaymentDate)
	}

	var (
		paid *domain.Invoice
		err  error
	)
	if req.AccountID == "" {
		err = &domain.ErrValidation{Field: "account_id", Message: "required"}
	} else if amount.IsNegative() {
		// zero is accepted: it settles an invoice closed empty
		err = &domain.ErrInvalidAmount{Amount: req.Amount}
	} else {
		err = s.uow.run(ctx, "pay_invoice", func(tx port.Tx) error {
			inv, err := tx.Invoices().GetInvoiceForUpdate(ctx, req.TenantID, req.InvoiceID)
			if err != nil {
				return err
			}
			if inv.Status != domain.InvoiceClosed {
				return &domain.ErrInvalidTransition{InvoiceID: inv.ID, From: inv.Status, To: domain.InvoicePaid}
			}
			account, err := tx.Accounts().GetAccount(ctx, req.TenantID, req.AccountID)
			if err != nil {
				return err
			}

			expected := decimal.Zero
			if inv.ClosedTotal != nil {
				expected = *inv.ClosedTotal
			}
			if amount.Sub(expected).Abs().GreaterThan(s.tolerance) {
				return &domain.ErrAmountMismatch{InvoiceID: inv.ID, Expected: expected, Got: amount}
			}

			due := inv.DueDate
			payment := &domain.Transaction{
				TenantID:        req.TenantID,
				Kind:            domain.KindDebit,
				Amount:          amount,
				Description:     "Fatura " + inv.Competencia.String(),
				TransactionDate: paymentDate,
				DueDate:         &due,
				AccountID:       account.ID,
				Origin:          inv.Origin(),
				Status:          domain.TxSettled,
			}
			if err := tx.Transactions().CreateTransaction(ctx, payment); err != nil {
				return err
			}
			if err := tx.Invoices().MarkInvoicePaid(ctx, inv.ID, amount, paymentDate, payment.ID); err != nil {
				return err
			}
			err = appendEvent(ctx, tx, inv.TenantID, domain.EventInvoicePaid, inv.ID, invoicePaidPayload{
				CardID:        inv.CardID,
				Competencia:   inv.Competencia,
				PaidAmount:    amount,
				PaymentDate:   paymentDate.Format(time.DateOnly),
				AccountID:     account.ID,
				TransactionID: payment.ID,
			})
			if err != nil {
				return err
			}

			inv.Status = domain.InvoicePaid
			inv.PaidAmount = &amount
			inv.PaymentDate = &paymentDate
			inv.PaymentTransactionID = &payment.ID
			paid = inv
			return nil
		})
	}
	s.uow.observe(span, "pay_invoice", start, err)
	if err != nil {
		s.uow.logger.Warn("invoice payment failed",
			zap.String("tenant_id", req.TenantID),
			zap.String("invoice_id", req.InvoiceID),
			zap.String("kind", domain.KindOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.uow.metrics.IncrInvoiceTransition(observability.TransitionPaid)
	s.uow.logger.Info("invoice paid",
		zap.String("tenant_id", paid.TenantID),
		zap.String("invoice_id", paid.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("transaction_id", *paid.PaymentTransactionID),
	)
	return paid, nil
}

// CloseDueInvoices closes every open invoice of the tenant whose closing date
// is on or before asOf. Empty invoices close at zero. Invoices that fail are
// logged and skipped; the ones closed are returned.
func (s *InvoiceService) CloseDueInvoices(ctx context.Context, tenantID string, asOf time.Time) ([]domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.CloseDueInvoices")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))
	start := time.Now()
	asOf = domain.DateOnly(asOf)

	type candidate struct {
		invoice     domain.Invoice
		closingDate time.Time
	}
	var due []candidate
	err := s.uow.run(ctx, "close_due_invoices", func(tx port.Tx) error {
		open := domain.InvoiceOpen
		invoices, err := tx.Invoices().ListInvoices(ctx, tenantID, domain.InvoiceFilter{Status: &open})
		if err != nil {
			return err
		}
		cards := make(map[string]*domain.Card)
		found := make([]candidate, 0, len(invoices))
		for _, inv := range invoices {
			card, ok := cards[inv.CardID]
			if !ok {
				card, err = tx.Cards().GetCard(ctx, tenantID, inv.CardID)
				if err != nil {
					return err
				}
				cards[inv.CardID] = card
			}
			closing := domain.CycleFor(inv.Competencia, *card).ClosingDate
			if !closing.After(asOf) {
				found = append(found, candidate{invoice: inv, closingDate: closing})
			}
		}
		due = found
		return nil
	})
	if err != nil {
		s.uow.observe(span, "close_due_invoices", start, err)
		return nil, err
	}

	closed := make([]domain.Invoice, 0, len(due))
	for _, c := range due {
		var inv *domain.Invoice
		err := s.uow.run(ctx, "close_invoice", func(tx port.Tx) error {
			got, err := s.close(ctx, tx, tenantID, c.invoice.ID, c.closingDate)
			if err != nil {
				return err
			}
			inv = got
			return nil
		})
		var transition *domain.ErrInvalidTransition
		switch {
		case err == nil:
			s.closedLog(inv)
			closed = append(closed, *inv)
		case errors.As(err, &transition):
			// closed by someone else since the scan
		case ctx.Err() != nil:
			s.uow.observe(span, "close_due_invoices", start, ctx.Err())
			return closed, ctx.Err()
		default:
			s.uow.logger.Error("billing-cycle close failed",
				zap.String("tenant_id", tenantID),
				zap.String("invoice_id", c.invoice.ID),
				zap.Error(err),
			)
		}
	}

	span.SetAttributes(attribute.Int("invoices.closed", len(closed)))
	s.uow.observe(span, "close_due_invoices", start, nil)
	return closed, nil
}

// ============================================================
// Queries
// ============================================================

// ListInvoices lists a tenant's invoices, optionally narrowed to one card
// and one status.
func (s *InvoiceService) ListInvoices(ctx context.Context, tenantID, cardID string, status *domain.InvoiceStatus) ([]domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.ListInvoices")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("card.id", cardID),
	)

	if status != nil && !status.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: "unknown invoice status " + string(*status)}
	}

	var invoices []domain.Invoice
	err := s.uow.run(ctx, "list_invoices", func(tx port.Tx) error {
		list, err := tx.Invoices().ListInvoices(ctx, tenantID, domain.InvoiceFilter{CardID: cardID, Status: status})
		if err != nil {
			return err
		}
		invoices = list
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// GetInvoiceWithItems returns an invoice with its non-deleted items and their
// running total.
func (s *InvoiceService) GetInvoiceWithItems(ctx context.Context, tenantID, invoiceID string) (*domain.InvoiceWithItems, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.GetInvoiceWithItems")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("invoice.id", invoiceID),
	)

	var out *domain.InvoiceWithItems
	err := s.uow.run(ctx, "get_invoice", func(tx port.Tx) error {
		inv, err := tx.Invoices().GetInvoice(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		items, err := tx.Items().ListItems(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		out = &domain.InvoiceWithItems{Invoice: *inv, Items: items, Total: domain.Sum(items)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================
// Internals
// ============================================================

func (s *InvoiceService) close(ctx context.Context, tx port.Tx, tenantID, invoiceID string, closingDate time.Time) (*domain.Invoice, error) {
	inv, err := tx.Invoices().GetInvoiceForUpdate(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvoiceOpen {
		return nil, &domain.ErrInvalidTransition{InvoiceID: inv.ID, From: inv.Status, To: domain.InvoiceClosed}
	}

	items, err := tx.Items().ListItems(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	total := domain.Sum(items)
	if err := tx.Invoices().MarkInvoiceClosed(ctx, inv.ID, total, closingDate); err != nil {
		return nil, err
	}
	err = appendEvent(ctx, tx, inv.TenantID, domain.EventInvoiceClosed, inv.ID, invoiceClosedPayload{
		CardID:      inv.CardID,
		Competencia: inv.Competencia,
		ClosedTotal: total,
		ClosingDate: closingDate.Format(time.DateOnly),
		Items:       len(items),
	})
	if err != nil {
		return nil, err
	}

	inv.Status = domain.InvoiceClosed
	inv.ClosedTotal = &total
	inv.ClosingDate = &closingDate
	return inv, nil
}

func (s *InvoiceService) closedLog(inv *domain.Invoice) {
	s.uow.metrics.IncrInvoiceTransition(observability.TransitionClosed)
	s.uow.logger.Info("invoice closed",
		zap.String("tenant_id", inv.TenantID),
		zap.String("invoice_id", inv.ID),
		zap.String("competencia", inv.Competencia.String()),
		zap.String("closed_total", inv.ClosedTotal.StringFixed(2)),
	)
}
