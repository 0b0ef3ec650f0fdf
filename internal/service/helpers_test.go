package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/domain"
	"github.com/boddenberg/faturas-core/internal/infra/observability"
	"github.com/boddenberg/faturas-core/internal/infra/resilience"
	"github.com/boddenberg/faturas-core/internal/infra/sqlstore"
	"github.com/boddenberg/faturas-core/internal/port"
	"github.com/boddenberg/faturas-core/internal/service"
)

const tenant = "acme"

var fastRetry = resilience.Config{MaxRetries: 5, InitialBackoff: time.Millisecond}

// testEnv wires the services against a migrated SQLite database.
type testEnv struct {
	store       *sqlstore.Store
	metrics     *observability.Metrics
	accrual     *service.AccrualService
	invoices    *service.InvoiceService
	recurrences *service.RecurrenceService
	checker     *service.ConsistencyService
	account     domain.Account
	card        domain.Card
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := sqlstore.SQLiteDSN(filepath.Join(t.TempDir(), "faturas.db"))
	if err := sqlstore.RunMigrations(sqlstore.SQLite, dsn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	store, err := sqlstore.Open(context.Background(), sqlstore.SQLite, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	env := &testEnv{
		store:       store,
		metrics:     metrics,
		accrual:     service.NewAccrualService(store, fastRetry, metrics, logger),
		invoices:    service.NewInvoiceService(store, decimal.Zero, fastRetry, metrics, logger),
		recurrences: service.NewRecurrenceService(store, fastRetry, metrics, logger),
		checker:     service.NewConsistencyService(store, fastRetry, metrics, logger),
	}
	env.account, env.card = env.seedCard(t, 10, 20)
	return env
}

func (e *testEnv) seedCard(t *testing.T, closingDay, dueDay int) (domain.Account, domain.Card) {
	t.Helper()
	acc := domain.Account{TenantID: tenant, Name: "Conta corrente", Kind: "checking"}
	card := domain.Card{TenantID: tenant, Nickname: "Nubank", Brand: "Mastercard", ClosingDay: closingDay, DueDay: dueDay}
	e.tx(t, func(ctx context.Context, tx port.Tx) error {
		if err := tx.Accounts().CreateAccount(ctx, &acc); err != nil {
			return err
		}
		card.PaymentAccountID = acc.ID
		return tx.Cards().CreateCard(ctx, &card)
	})
	return acc, card
}

func (e *testEnv) tx(t *testing.T, fn func(ctx context.Context, tx port.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.WithTx(ctx, func(tx port.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("unit of work: %v", err)
	}
}

func (e *testEnv) purchase(description, amount string, date time.Time) domain.Purchase {
	return domain.Purchase{
		TenantID:     tenant,
		CardID:       e.card.ID,
		Description:  description,
		Amount:       decimal.RequireFromString(amount),
		PurchaseDate: date,
	}
}

func (e *testEnv) accrue(t *testing.T, description, amount string, date time.Time) *domain.InvoiceItem {
	t.Helper()
	item, err := e.accrual.AccruePurchase(context.Background(), e.purchase(description, amount, date))
	if err != nil {
		t.Fatalf("accrue %s: %v", description, err)
	}
	return item
}

func (e *testEnv) listInvoices(t *testing.T) []domain.Invoice {
	t.Helper()
	invoices, err := e.invoices.ListInvoices(context.Background(), tenant, e.card.ID, nil)
	if err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	return invoices
}

func (e *testEnv) events(t *testing.T) []domain.Event {
	t.Helper()
	var events []domain.Event
	e.tx(t, func(ctx context.Context, tx port.Tx) error {
		var err error
		events, err = tx.Events().ListUnpublished(ctx, 1000)
		return err
	})
	return events
}

func countEvents(events []domain.Event, eventType string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func comp(y int, m time.Month) domain.Competencia {
	return domain.Competencia{Year: y, Month: m}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
