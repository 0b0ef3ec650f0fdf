package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/port"
	"github.com/boddenberg/faturas-core/internal/service"
)

func TestClose_SumsNonDeletedItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.accrue(t, "Mercado", "100.10", date(2025, 3, 1))
	env.accrue(t, "Posto", "50.25", date(2025, 3, 2))
	removed := env.accrue(t, "Estornado", "999.99", date(2025, 3, 3))
	env.tx(t, func(ctx context.Context, tx port.Tx) error {
		return tx.Items().SoftDeleteItem(ctx, tenant, removed.ID)
	})

	closingDate := date(2025, 3, 10)
	inv, err := env.invoices.Close(ctx, tenant, *a.InvoiceID, &closingDate)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if inv.Status != domain.InvoiceClosed {
		t.Errorf("expected closed, got %s", inv.Status)
	}
	if inv.ClosedTotal.StringFixed(2) != "150.35" {
		t.Errorf("expected closed total 150.35, got %s", inv.ClosedTotal.StringFixed(2))
	}

	stored, err := env.invoices.GetInvoiceWithItems(ctx, tenant, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ClosingDate == nil || stored.ClosingDate.Format(time.DateOnly) != "2025-03-10" {
		t.Errorf("unexpected closing date %v", stored.ClosingDate)
	}
	if !stored.Total.Equal(*stored.ClosedTotal) {
		t.Errorf("closed total %s must equal items total %s", stored.ClosedTotal, stored.Total)
	}
	if n := countEvents(env.events(t), domain.EventInvoiceClosed); n != 1 {
		t.Errorf("expected 1 invoice.closed event, got %d", n)
	}
}

func TestClose_EmptyInvoiceClosesAtZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inv, err := env.accrual.EnsureInvoice(ctx, tenant, env.card.ID, comp(2025, time.March))
	if err != nil {
		t.Fatal(err)
	}
	closed, err := env.invoices.Close(ctx, tenant, inv.ID, nil)
	if err != nil {
		t.Fatalf("closing an empty invoice is allowed, got %v", err)
	}
	if closed.Status != domain.InvoiceClosed || !closed.ClosedTotal.IsZero() {
		t.Errorf("expected closed at zero, got %s %s", closed.Status, closed.ClosedTotal)
	}
	if closed.ClosingDate == nil {
		t.Error("closing date should default to today")
	}
}

func TestClose_TwiceIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	item := env.accrue(t, "Mercado", "10.00", date(2025, 3, 1))
	if _, err := env.invoices.Close(ctx, tenant, *item.InvoiceID, nil); err != nil {
		t.Fatal(err)
	}
	_, err := env.invoices.Close(ctx, tenant, *item.InvoiceID, nil)

	var transition *domain.ErrInvalidTransition
	if !errors.As(err, &transition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if transition.From != domain.InvoiceClosed || transition.To != domain.InvoiceClosed {
		t.Errorf("unexpected transition %s -> %s", transition.From, transition.To)
	}
}

func TestClose_UnknownInvoice(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.invoices.Close(context.Background(), tenant, "missing", nil)
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPay_BeforeCloseIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)

	item := env.accrue(t, "Mercado", "10.00", date(2025, 3, 1))
	_, err := env.invoices.Pay(context.Background(), service.PayInvoiceRequest{
		TenantID:  tenant,
		InvoiceID: *item.InvoiceID,
		AccountID: env.account.ID,
		Amount:    money("10.00"),
	})

	var transition *domain.ErrInvalidTransition
	if !errors.As(err, &transition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if transition.From != domain.InvoiceOpen || transition.To != domain.InvoicePaid {
		t.Errorf("unexpected transition %s -> %s", transition.From, transition.To)
	}
}

func TestPay_Settles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	item := env.accrue(t, "Mercado", "250.00", date(2025, 3, 1))
	if _, err := env.invoices.Close(ctx, tenant, *item.InvoiceID, nil); err != nil {
		t.Fatal(err)
	}

	paid, err := env.invoices.Pay(ctx, service.PayInvoiceRequest{
		TenantID:    tenant,
		InvoiceID:   *item.InvoiceID,
		AccountID:   env.account.ID,
		Amount:      money("250.00"),
		PaymentDate: date(2025, 4, 18),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if paid.Status != domain.InvoicePaid || paid.PaidAmount.StringFixed(2) != "250.00" {
		t.Errorf("unexpected paid invoice %+v", paid)
	}

	var txs []domain.Transaction
	env.tx(t, func(ctx context.Context, tx port.Tx) error {
		var err error
		txs, err = tx.Transactions().ListTransactions(ctx, tenant, domain.TransactionFilter{Origin: domain.InvoiceOrigin(paid.ID)})
		return err
	})
	if len(txs) != 1 {
		t.Fatalf("expected 1 payment transaction, got %d", len(txs))
	}
	payment := txs[0]
	if payment.ID != *paid.PaymentTransactionID {
		t.Error("invoice must link the payment transaction")
	}
	if payment.Kind != domain.KindDebit || payment.Status != domain.TxSettled || payment.AccountID != env.account.ID {
		t.Errorf("unexpected payment %+v", payment)
	}
	if payment.TransactionDate.Format(time.DateOnly) != "2025-04-18" || payment.Amount.StringFixed(2) != "250.00" {
		t.Errorf("unexpected payment date/amount %s %s", payment.TransactionDate, payment.Amount)
	}

	stored, err := env.invoices.GetInvoiceWithItems(ctx, tenant, paid.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.InvoicePaid || stored.PaymentDate == nil {
		t.Errorf("stored invoice not paid: %+v", stored.Invoice)
	}

	_, err = env.invoices.Pay(ctx, service.PayInvoiceRequest{
		TenantID: tenant, InvoiceID: paid.ID, AccountID: env.account.ID, Amount: money("250.00"),
	})
	var transition *domain.ErrInvalidTransition
	if !errors.As(err, &transition) {
		t.Errorf("paying twice should fail with ErrInvalidTransition, got %v", err)
	}
}

func TestPay_AmountMismatchLeavesInvoiceClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	item := env.accrue(t, "Mercado", "100.00", date(2025, 3, 1))
	if _, err := env.invoices.Close(ctx, tenant, *item.InvoiceID, nil); err != nil {
		t.Fatal(err)
	}

	_, err := env.invoices.Pay(ctx, service.PayInvoiceRequest{
		TenantID: tenant, InvoiceID: *item.InvoiceID, AccountID: env.account.ID, Amount: money("99.99"),
	})
	var mismatch *domain.ErrAmountMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if mismatch.Expected.StringFixed(2) != "100.00" || mismatch.Got.StringFixed(2) != "99.99" {
		t.Errorf("unexpected mismatch details %+v", mismatch)
	}

	stored, err := env.invoices.GetInvoiceWithItems(ctx, tenant, *item.InvoiceID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.InvoiceClosed || stored.PaymentTransactionID != nil {
		t.Errorf("failed payment must not change the invoice: %+v", stored.Invoice)
	}
	var txs []domain.Transaction
	env.tx(t, func(ctx context.Context, tx port.Tx) error {
		var err error
		txs, err = tx.Transactions().ListTransactions(ctx, tenant, domain.TransactionFilter{Origin: domain.InvoiceOrigin(stored.ID)})
		return err
	})
	if len(txs) != 0 {
		t.Errorf("failed payment must not leave a transaction, got %d", len(txs))
	}
}

func TestPay_WithinTolerance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	invoices := service.NewInvoiceService(env.store, money("0.05"), fastRetry, env.metrics, zap.NewNop())

	item := env.accrue(t, "Mercado", "100.00", date(2025, 3, 1))
	if _, err := invoices.Close(ctx, tenant, *item.InvoiceID, nil); err != nil {
		t.Fatal(err)
	}
	paid, err := invoices.Pay(ctx, service.PayInvoiceRequest{
		TenantID: tenant, InvoiceID: *item.InvoiceID, AccountID: env.account.ID, Amount: money("100.03"),
	})
	if err != nil {
		t.Fatalf("payment within tolerance should succeed, got %v", err)
	}
	if paid.PaidAmount.StringFixed(2) != "100.03" {
		t.Errorf("paid amount should record what was paid, got %s", paid.PaidAmount)
	}
}

func TestPay_UnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	item := env.accrue(t, "Mercado", "10.00", date(2025, 3, 1))
	if _, err := env.invoices.Close(ctx, tenant, *item.InvoiceID, nil); err != nil {
		t.Fatal(err)
	}
	_, err := env.invoices.Pay(ctx, service.PayInvoiceRequest{
		TenantID: tenant, InvoiceID: *item.InvoiceID, AccountID: "nope", Amount: money("10.00"),
	})
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListInvoices_StatusFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	march := env.accrue(t, "a", "10.00", date(2025, 3, 1))
	env.accrue(t, "b", "10.00", date(2025, 4, 1))
	if _, err := env.invoices.Close(ctx, tenant, *march.InvoiceID, nil); err != nil {
		t.Fatal(err)
	}

	closed := domain.InvoiceClosed
	list, err := env.invoices.ListInvoices(ctx, tenant, env.card.ID, &closed)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != *march.InvoiceID {
		t.Errorf("expected only the closed March invoice, got %+v", list)
	}

	bogus := domain.InvoiceStatus("archived")
	_, err = env.invoices.ListInvoices(ctx, tenant, env.card.ID, &bogus)
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Errorf("expected ErrValidation for unknown status, got %v", err)
	}
}

func TestCloseDueInvoices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	march := env.accrue(t, "a", "40.00", date(2025, 3, 1))
	april, err := env.accrual.EnsureInvoice(ctx, tenant, env.card.ID, comp(2025, time.April))
	if err != nil {
		t.Fatal(err)
	}

	closed, err := env.invoices.CloseDueInvoices(ctx, tenant, date(2025, 3, 9))
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 0 {
		t.Fatalf("nothing is due before the closing day, got %d", len(closed))
	}

	closed, err = env.invoices.CloseDueInvoices(ctx, tenant, date(2025, 3, 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 || closed[0].ID != *march.InvoiceID {
		t.Fatalf("expected the March invoice to close, got %+v", closed)
	}
	if closed[0].ClosingDate.Format(time.DateOnly) != "2025-03-10" || closed[0].ClosedTotal.StringFixed(2) != "40.00" {
		t.Errorf("unexpected closed invoice %+v", closed[0])
	}

	closed, err = env.invoices.CloseDueInvoices(ctx, tenant, date(2025, 4, 30))
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 || closed[0].ID != april.ID || !closed[0].ClosedTotal.IsZero() {
		t.Errorf("expected the empty April invoice to close at zero, got %+v", closed)
	}
}

func TestClosedTotalsMatchItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.accrual.AccrueInstallmentPlan(ctx, env.purchase("TV", "1000.00", date(2025, 2, 20)), 6); err != nil {
		t.Fatal(err)
	}
	env.accrue(t, "Mercado", "77.77", date(2025, 3, 1))
	if _, err := env.invoices.CloseDueInvoices(ctx, tenant, date(2025, 12, 31)); err != nil {
		t.Fatal(err)
	}

	for _, inv := range env.listInvoices(t) {
		full, err := env.invoices.GetInvoiceWithItems(ctx, tenant, inv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if full.Status == domain.InvoiceOpen {
			t.Errorf("invoice %s should be closed", inv.Competencia)
			continue
		}
		if !full.ClosedTotal.Equal(full.Total) {
			t.Errorf("invoice %s: closed total %s != items %s", inv.Competencia, full.ClosedTotal, full.Total)
		}
		for _, it := range full.Items {
			if it.Competencia != full.Competencia {
				t.Errorf("item %s competência %s differs from invoice %s", it.ID, it.Competencia, full.Competencia)
			}
		}
	}

	drift, err := env.checker.FindInconsistentTotals(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if len(drift) != 0 {
		t.Errorf("expected no drift, got %d", len(drift))
	}
}
