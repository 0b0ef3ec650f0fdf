package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/infra/resilience"
	"github.com/boddenberg/faturas-core/internal/port"
)

var accrualTracer = otel.Tracer("service/accrual")

// AccrualService assigns purchases and installments to their invoices.
type AccrualService struct {
	uow *unitOfWork
}

// NewAccrualService creates a new accrual service.
func NewAccrualService(store port.Store, retry resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *AccrualService {
	return &AccrualService{
		uow: &unitOfWork{store: store, retry: retry, metrics: metrics, logger: logger},
	}
}

type invoiceOpenedPayload struct {
	CardID      string             `json:"card_id"`
	Competencia domain.Competencia `json:"competencia"`
	DueDate     string             `json:"due_date"`
}

type itemAccruedPayload struct {
	InvoiceID   string             `json:"invoice_id"`
	ItemID      string             `json:"item_id"`
	CardID      string             `json:"card_id"`
	Competencia domain.Competencia `json:"competencia"`
	Amount      decimal.Decimal    `json:"amount"`
	Installment string             `json:"installment,omitempty"`
}

// ============================================================
// Accrual
// ============================================================

// AccruePurchase records a single purchase on the invoice of its competência,
// creating the invoice on first use.
func (s *AccrualService) AccruePurchase(ctx context.Context, p domain.Purchase) (*domain.InvoiceItem, error) {
	ctx, span := accrualTracer.Start(ctx, "AccrualService.AccruePurchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", p.TenantID),
		attribute.String("card.id", p.CardID),
	)
	start := time.Now()

	var (
		item   *domain.InvoiceItem
		opened []*domain.Invoice
	)
	err := s.validatePurchase(p)
	if err == nil {
		err = s.uow.run(ctx, "accrue_purchase", func(tx port.Tx) error {
			card, err := s.card(ctx, tx, p.TenantID, p.CardID)
			if err != nil {
				return err
			}
			it := domain.InvoiceItem{
				TenantID:     p.TenantID,
				CardID:       p.CardID,
				Description:  p.Description,
				Amount:       domain.Money(p.Amount),
				PurchaseDate: domain.DateOnly(p.PurchaseDate),
				CategoryID:   p.CategoryID,
			}
			inv, err := s.accrue(ctx, tx, card, &it)
			if err != nil {
				return err
			}
			item, opened = &it, nil
			if inv != nil {
				opened = []*domain.Invoice{inv}
			}
			return nil
		})
	}
	s.uow.observe(span, "accrue_purchase", start, err)
	if err != nil {
		s.uow.logger.Warn("purchase accrual failed",
			zap.String("tenant_id", p.TenantID),
			zap.String("card_id", p.CardID),
			zap.String("kind", domain.KindOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.invoicesOpened(opened)
	s.uow.metrics.AddItemsAccrued(1)
	s.uow.logger.Info("purchase accrued",
		zap.String("tenant_id", p.TenantID),
		zap.String("card_id", p.CardID),
		zap.String("item_id", item.ID),
		zap.String("competencia", item.Competencia.String()),
	)
	return item, nil
}

// AccrueInstallmentPlan splits a purchase into installments. Installment n
// is dated n-1 months after the purchase and resolves its own competência,
// so the plan spreads over consecutive invoices. All installments are
// written in one unit of work or none is.
func (s *AccrualService) AccrueInstallmentPlan(ctx context.Context, p domain.Purchase, installments int) ([]domain.InvoiceItem, error) {
	ctx, span := accrualTracer.Start(ctx, "AccrualService.AccrueInstallmentPlan")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", p.TenantID),
		attribute.String("card.id", p.CardID),
		attribute.Int("installments", installments),
	)
	start := time.Now()

	var (
		items  []domain.InvoiceItem
		opened []*domain.Invoice
	)
	err := s.validatePlan(p, installments)
	if err == nil {
		err = s.uow.run(ctx, "accrue_installment_plan", func(tx port.Tx) error {
			card, err := s.card(ctx, tx, p.TenantID, p.CardID)
			if err != nil {
				return err
			}

			groupID := uuid.NewString()
			shares := domain.SplitInstallments(p.Amount, installments)
			anchor := domain.DateOnly(p.PurchaseDate)
			written := make([]domain.InvoiceItem, 0, installments)
			var created []*domain.Invoice
			for i, share := range shares {
				index, total := i+1, installments
				it := domain.InvoiceItem{
					TenantID:           p.TenantID,
					CardID:             p.CardID,
					Description:        p.Description,
					Amount:             share,
					PurchaseDate:       domain.AddMonthsClamped(anchor, i),
					CategoryID:         p.CategoryID,
					InstallmentGroupID: &groupID,
					InstallmentIndex:   &index,
					InstallmentTotal:   &total,
				}
				inv, err := s.accrue(ctx, tx, card, &it)
				if err != nil {
					return err
				}
				if inv != nil {
					created = append(created, inv)
				}
				written = append(written, it)
			}
			items, opened = written, created
			return nil
		})
	}
	s.uow.observe(span, "accrue_installment_plan", start, err)
	if err != nil {
		s.uow.logger.Warn("installment plan accrual failed",
			zap.String("tenant_id", p.TenantID),
			zap.String("card_id", p.CardID),
			zap.Int("installments", installments),
			zap.String("kind", domain.KindOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.invoicesOpened(opened)
	s.uow.metrics.AddItemsAccrued(len(items))
	s.uow.logger.Info("installment plan accrued",
		zap.String("tenant_id", p.TenantID),
		zap.String("card_id", p.CardID),
		zap.String("group_id", *items[0].InstallmentGroupID),
		zap.Int("installments", len(items)),
	)
	return items, nil
}

// EnsureInvoice fetches or creates the invoice of a card for a competência.
func (s *AccrualService) EnsureInvoice(ctx context.Context, tenantID, cardID string, comp domain.Competencia) (*domain.Invoice, error) {
	ctx, span := accrualTracer.Start(ctx, "AccrualService.EnsureInvoice")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("card.id", cardID),
		attribute.String("competencia", comp.String()),
	)
	start := time.Now()

	var (
		inv     *domain.Invoice
		created bool
		err     error
	)
	if comp.IsZero() {
		err = &domain.ErrValidation{Field: "competencia", Message: "required"}
	} else {
		err = s.uow.run(ctx, "ensure_invoice", func(tx port.Tx) error {
			card, err := s.card(ctx, tx, tenantID, cardID)
			if err != nil {
				return err
			}
			got, isNew, err := s.ensureInvoice(ctx, tx, card, domain.CycleFor(comp, *card))
			if err != nil {
				return err
			}
			inv, created = got, isNew
			return nil
		})
	}
	s.uow.observe(span, "ensure_invoice", start, err)
	if err != nil {
		return nil, err
	}
	if created {
		s.invoicesOpened([]*domain.Invoice{inv})
	}
	return inv, nil
}

// ============================================================
// Internals
// ============================================================

func (s *AccrualService) validatePurchase(p domain.Purchase) error {
	if p.TenantID == "" {
		return &domain.ErrValidation{Field: "tenant_id", Message: "required"}
	}
	if p.CardID == "" {
		return &domain.ErrUnknownCard{CardID: p.CardID}
	}
	if p.PurchaseDate.IsZero() {
		return &domain.ErrValidation{Field: "purchase_date", Message: "required"}
	}
	if !domain.Money(p.Amount).IsPositive() {
		return &domain.ErrInvalidAmount{Amount: p.Amount}
	}
	return nil
}

func (s *AccrualService) validatePlan(p domain.Purchase, installments int) error {
	if installments < 1 {
		return &domain.ErrValidation{Field: "installments", Message: "must be at least 1"}
	}
	if err := s.validatePurchase(p); err != nil {
		return err
	}
	// every share must carry at least one cent
	for _, share := range domain.SplitInstallments(p.Amount, installments) {
		if !share.IsPositive() {
			return &domain.ErrInvalidAmount{Amount: share}
		}
	}
	return nil
}

// accrue attaches it to the invoice of its competência and records the
// outbox events. it.PurchaseDate drives the cycle resolution. The invoice is
// returned when this call created it.
func (s *AccrualService) accrue(ctx context.Context, tx port.Tx, card *domain.Card, it *domain.InvoiceItem) (*domain.Invoice, error) {
	cycle := domain.ResolveCycle(it.PurchaseDate, *card)
	inv, created, err := s.ensureInvoice(ctx, tx, card, cycle)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvoiceOpen {
		return nil, &domain.ErrInvoiceNotOpen{InvoiceID: inv.ID, Competencia: inv.Competencia, Status: inv.Status}
	}

	it.InvoiceID = &inv.ID
	it.Competencia = inv.Competencia
	if err := tx.Items().CreateItem(ctx, it); err != nil {
		return nil, err
	}
	err = appendEvent(ctx, tx, it.TenantID, domain.EventInvoiceItemAccrued, inv.ID, itemAccruedPayload{
		InvoiceID:   inv.ID,
		ItemID:      it.ID,
		CardID:      it.CardID,
		Competencia: it.Competencia,
		Amount:      it.Amount,
		Installment: it.Installment(),
	})
	if err != nil || !created {
		return nil, err
	}
	return inv, nil
}

func (s *AccrualService) ensureInvoice(ctx context.Context, tx port.Tx, card *domain.Card, cycle domain.Cycle) (*domain.Invoice, bool, error) {
	inv, created, err := tx.Invoices().EnsureInvoice(ctx, &domain.Invoice{
		TenantID:    card.TenantID,
		CardID:      card.ID,
		Competencia: cycle.Competencia,
		Status:      domain.InvoiceOpen,
		DueDate:     cycle.DueDate,
	})
	if err != nil || !created {
		return inv, false, err
	}

	err = appendEvent(ctx, tx, inv.TenantID, domain.EventInvoiceOpened, inv.ID, invoiceOpenedPayload{
		CardID:      inv.CardID,
		Competencia: inv.Competencia,
		DueDate:     inv.DueDate.Format(time.DateOnly),
	})
	if err != nil {
		return nil, false, err
	}
	return inv, true, nil
}

// invoicesOpened reports invoices created by a committed unit of work.
func (s *AccrualService) invoicesOpened(opened []*domain.Invoice) {
	for _, inv := range opened {
		s.uow.metrics.IncrInvoiceTransition(observability.TransitionOpened)
		s.uow.logger.Info("invoice opened",
			zap.String("tenant_id", inv.TenantID),
			zap.String("invoice_id", inv.ID),
			zap.String("card_id", inv.CardID),
			zap.String("competencia", inv.Competencia.String()),
		)
	}
}

// card reads the card inside the unit of work. Billing days can change at
// any time, so the cycle is always resolved from the stored row.
func (s *AccrualService) card(ctx context.Context, tx port.Tx, tenantID, cardID string) (*domain.Card, error) {
	c, err := tx.Cards().GetCard(ctx, tenantID, cardID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return nil, &domain.ErrUnknownCard{CardID: cardID}
		}
		return nil, err
	}
	return c, nil
}
