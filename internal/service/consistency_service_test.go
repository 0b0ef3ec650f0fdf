package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/port"
)

func TestAudit_CleanLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	item := env.accrue(t, "Mercado", "10.00", date(2025, 3, 1))
	if _, err := env.invoices.Close(ctx, tenant, *item.InvoiceID, nil); err != nil {
		t.Fatal(err)
	}
	env.accrue(t, "Posto", "20.00", date(2025, 4, 1))

	report, err := env.checker.Audit(ctx, tenant)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected a clean report, got %+v", report)
	}
	if report.GeneratedAt.IsZero() {
		t.Error("report should carry its generation time")
	}
}

func TestAudit_ReportsEveryCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// two identical purchases
	env.accrue(t, "Uber", "23.90", date(2025, 3, 2))
	env.accrue(t, "Uber", "23.90", date(2025, 3, 2))

	// an abandoned open invoice
	empty, err := env.accrual.EnsureInvoice(ctx, tenant, env.card.ID, comp(2025, time.August))
	if err != nil {
		t.Fatal(err)
	}

	// a closed invoice that later received an item behind the engine's back
	closedItem := env.accrue(t, "Livraria", "60.00", date(2025, 5, 2))
	if _, err := env.invoices.Close(ctx, tenant, *closedItem.InvoiceID, nil); err != nil {
		t.Fatal(err)
	}
	dangling := "no-such-invoice"
	env.tx(t, func(ctx context.Context, tx port.Tx) error {
		late := &domain.InvoiceItem{
			TenantID: tenant, InvoiceID: closedItem.InvoiceID, CardID: env.card.ID, Description: "tardio",
			Amount: money("5.00"), PurchaseDate: date(2025, 5, 3), Competencia: comp(2025, time.May),
		}
		if err := tx.Items().CreateItem(ctx, late); err != nil {
			return err
		}
		orphan := &domain.InvoiceItem{
			TenantID: tenant, CardID: env.card.ID, Description: "sem fatura",
			Amount: money("1.00"), PurchaseDate: date(2025, 6, 1), Competencia: comp(2025, time.June),
		}
		if err := tx.Items().CreateItem(ctx, orphan); err != nil {
			return err
		}
		lost := &domain.InvoiceItem{
			TenantID: tenant, InvoiceID: &dangling, CardID: env.card.ID, Description: "fatura apagada",
			Amount: money("2.00"), PurchaseDate: date(2025, 6, 2), Competencia: comp(2025, time.June),
		}
		if err := tx.Items().CreateItem(ctx, lost); err != nil {
			return err
		}
		misfiled := &domain.InvoiceItem{
			TenantID: tenant, InvoiceID: &empty.ID, CardID: env.card.ID, Description: "competencia errada",
			Amount: money("3.00"), PurchaseDate: date(2025, 6, 3), Competencia: comp(2025, time.June),
		}
		return tx.Items().CreateItem(ctx, misfiled)
	})

	report, err := env.checker.Audit(ctx, tenant)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	reasons := map[string]int{}
	for _, o := range report.OrphanItems {
		reasons[o.Reason]++
	}
	if reasons[domain.OrphanMissingInvoice] != 1 || reasons[domain.OrphanDanglingInvoice] != 1 || reasons[domain.OrphanCompetenciaMismatch] != 1 {
		t.Errorf("unexpected orphan reasons %v", reasons)
	}

	if len(report.TotalDrift) != 1 {
		t.Fatalf("expected 1 drifted invoice, got %d", len(report.TotalDrift))
	}
	if diff := report.TotalDrift[0].Difference().StringFixed(2); diff != "5.00" {
		t.Errorf("expected drift of 5.00, got %s", diff)
	}

	if len(report.Duplicates) != 1 || len(report.Duplicates[0].ItemIDs) != 2 {
		t.Errorf("expected one duplicate pair, got %+v", report.Duplicates)
	}

	// the misfiled item keeps the August invoice from being empty
	for _, inv := range report.EmptyOpenInvoices {
		if inv.ID == empty.ID {
			t.Error("invoice with a (misfiled) item should not be reported as empty")
		}
	}

	stats := env.metrics.Snapshot()
	if stats.ConsistencyFindings[observability.CheckOrphanItems] != 3 {
		t.Errorf("expected orphan gauge 3, got %v", stats.ConsistencyFindings[observability.CheckOrphanItems])
	}
	if stats.ConsistencyFindings[observability.CheckTotalDrift] != 1 {
		t.Errorf("expected drift gauge 1, got %v", stats.ConsistencyFindings[observability.CheckTotalDrift])
	}
}

func TestFindEmptyOpenInvoices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	empty, err := env.accrual.EnsureInvoice(ctx, tenant, env.card.ID, comp(2025, time.July))
	if err != nil {
		t.Fatal(err)
	}
	removed := env.accrue(t, "Estorno", "10.00", date(2025, 3, 1))
	env.tx(t, func(ctx context.Context, tx port.Tx) error {
		return tx.Items().SoftDeleteItem(ctx, tenant, removed.ID)
	})
	env.accrue(t, "Mercado", "10.00", date(2025, 4, 1))

	found, err := env.checker.FindEmptyOpenInvoices(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, inv := range found {
		ids[inv.ID] = true
	}
	if len(found) != 2 || !ids[empty.ID] || !ids[*removed.InvoiceID] {
		t.Errorf("expected the untouched and the emptied invoice, got %+v", found)
	}
}
