package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/infra/resilience"
	"github.com/boddenberg/faturas-core/internal/port"
)

var consistencyTracer = otel.Tracer("service/consistency")

// ConsistencyService audits the ledger invariants. It only reads; fixing a
// finding is a separate, explicit operation.
type ConsistencyService struct {
	uow *unitOfWork
}

func NewConsistencyService(store port.Store, retry resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *ConsistencyService {
	return &ConsistencyService{
		uow: &unitOfWork{store: store, retry: retry, metrics: metrics, logger: logger},
	}
}

// FindOrphanItems lists non-deleted items whose invoice is missing or
// belongs to another competência.
func (s *ConsistencyService) FindOrphanItems(ctx context.Context, tenantID string) ([]domain.OrphanItem, error) {
	ctx, span := consistencyTracer.Start(ctx, "ConsistencyService.FindOrphanItems")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	return audit(ctx, s.uow, "find_orphan_items", func(a port.AuditStore) ([]domain.OrphanItem, error) {
		return a.FindOrphanItems(ctx, tenantID)
	})
}

// FindEmptyOpenInvoices lists open invoices without non-deleted items.
func (s *ConsistencyService) FindEmptyOpenInvoices(ctx context.Context, tenantID string) ([]domain.Invoice, error) {
	ctx, span := consistencyTracer.Start(ctx, "ConsistencyService.FindEmptyOpenInvoices")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	return audit(ctx, s.uow, "find_empty_open_invoices", func(a port.AuditStore) ([]domain.Invoice, error) {
		return a.FindEmptyOpenInvoices(ctx, tenantID)
	})
}

// FindInconsistentTotals lists closed or paid invoices whose closed total
// differs from the sum of their non-deleted items.
func (s *ConsistencyService) FindInconsistentTotals(ctx context.Context, tenantID string) ([]domain.TotalDrift, error) {
	ctx, span := consistencyTracer.Start(ctx, "ConsistencyService.FindInconsistentTotals")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	return audit(ctx, s.uow, "find_inconsistent_totals", func(a port.AuditStore) ([]domain.TotalDrift, error) {
		return a.FindInconsistentTotals(ctx, tenantID)
	})
}

// FindDuplicateAccrual groups items that look like the same purchase accrued
// twice. Legitimate repeat purchases match too; this is a heuristic.
func (s *ConsistencyService) FindDuplicateAccrual(ctx context.Context, tenantID string) ([]domain.DuplicateAccrual, error) {
	ctx, span := consistencyTracer.Start(ctx, "ConsistencyService.FindDuplicateAccrual")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	return audit(ctx, s.uow, "find_duplicate_accrual", func(a port.AuditStore) ([]domain.DuplicateAccrual, error) {
		return a.FindDuplicateAccrual(ctx, tenantID)
	})
}

// Audit runs the four checks concurrently and publishes the finding counts.
func (s *ConsistencyService) Audit(ctx context.Context, tenantID string) (*domain.AuditReport, error) {
	ctx, span := consistencyTracer.Start(ctx, "ConsistencyService.Audit")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))
	start := time.Now()

	report := &domain.AuditReport{TenantID: tenantID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := s.FindOrphanItems(gctx, tenantID)
		report.OrphanItems = found
		return err
	})
	g.Go(func() error {
		found, err := s.FindEmptyOpenInvoices(gctx, tenantID)
		report.EmptyOpenInvoices = found
		return err
	})
	g.Go(func() error {
		found, err := s.FindInconsistentTotals(gctx, tenantID)
		report.TotalDrift = found
		return err
	})
	g.Go(func() error {
		found, err := s.FindDuplicateAccrual(gctx, tenantID)
		report.Duplicates = found
		return err
	})
	err := g.Wait()
	s.uow.observe(span, "audit", start, err)
	if err != nil {
		return nil, err
	}
	report.GeneratedAt = time.Now().UTC()

	m := s.uow.metrics
	m.SetConsistencyFinding(tenantID, observability.CheckOrphanItems, len(report.OrphanItems))
	m.SetConsistencyFinding(tenantID, observability.CheckEmptyOpenInvoices, len(report.EmptyOpenInvoices))
	m.SetConsistencyFinding(tenantID, observability.CheckTotalDrift, len(report.TotalDrift))
	m.SetConsistencyFinding(tenantID, observability.CheckDuplicateAccrual, len(report.Duplicates))

	fields := []zap.Field{
		zap.String("tenant_id", tenantID),
		zap.Int("orphan_items", len(report.OrphanItems)),
		zap.Int("empty_open_invoices", len(report.EmptyOpenInvoices)),
		zap.Int("total_drift", len(report.TotalDrift)),
		zap.Int("duplicates", len(report.Duplicates)),
	}
	if report.Clean() {
		s.uow.logger.Info("consistency audit clean", fields...)
	} else {
		s.uow.logger.Warn("consistency audit found issues", fields...)
	}
	return report, nil
}

// audit runs one read-only check in its own unit of work.
func audit[T any](ctx context.Context, uow *unitOfWork, op string, check func(a port.AuditStore) ([]T, error)) ([]T, error) {
	start := time.Now()
	var found []T
	err := uow.run(ctx, op, func(tx port.Tx) error {
		list, err := check(tx.Audit())
		if err != nil {
			return err
		}
		found = list
		return nil
	})
	uow.metrics.RecordOperation(op, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return found, nil
}
