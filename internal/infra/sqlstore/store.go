package sqlstore

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/port"
)

// Store implements port.Store over database/sql.
type Store struct {
	db     *DB
	logger *zap.Logger
}

var _ port.Store = (*Store)(nil)

// Open connects to the database. Migrations are applied separately with
// RunMigrations.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := OpenDB(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected", zap.String("driver", string(dialect)))
	return &Store{db: db, logger: logger}, nil
}

// Dialect reports which SQL dialect the store speaks.
func (s *Store) Dialect() Dialect {
	return s.db.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return mapError("ping", err)
	}
	return nil
}

// WithTx runs fn in one database transaction. A panic inside fn rolls back
// and is re-raised.
func (s *Store) WithTx(ctx context.Context, fn func(tx port.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(newUnit(conn{x: sqlTx, dialect: s.db.dialect})); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError("commit", err)
	}
	return nil
}

func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	c := conn{x: s.db.DB, dialect: s.db.dialect}
	rows, err := c.query(ctx, `
		SELECT tenant_id FROM cards
		UNION
		SELECT tenant_id FROM recurrences WHERE deleted = FALSE
		ORDER BY 1`)
	if err != nil {
		return nil, mapError("tenants", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, mapError("tenants", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("tenants", err)
	}
	return tenants, nil
}

// ============================================================
// Unit of work
// ============================================================

type unit struct {
	accounts     *accountRepo
	cards        *cardRepo
	invoices     *invoiceRepo
	items        *itemRepo
	transactions *transactionRepo
	recurrences  *recurrenceRepo
	events       *eventRepo
	audit        *auditRepo
}

func newUnit(c conn) *unit {
	return &unit{
		accounts:     &accountRepo{c: c},
		cards:        &cardRepo{c: c},
		invoices:     &invoiceRepo{c: c},
		items:        &itemRepo{c: c},
		transactions: &transactionRepo{c: c},
		recurrences:  &recurrenceRepo{c: c},
		events:       &eventRepo{c: c},
		audit:        &auditRepo{c: c},
	}
}

func (u *unit) Accounts() port.AccountStore         { return u.accounts }
func (u *unit) Categories() port.CategoryStore      { return u.accounts }
func (u *unit) Cards() port.CardStore               { return u.cards }
func (u *unit) Invoices() port.InvoiceStore         { return u.invoices }
func (u *unit) Items() port.InvoiceItemStore        { return u.items }
func (u *unit) Transactions() port.TransactionStore { return u.transactions }
func (u *unit) Recurrences() port.RecurrenceStore   { return u.recurrences }
func (u *unit) Events() port.EventStore             { return u.events }
func (u *unit) Audit() port.AuditStore              { return u.audit }

// collect drains rows through scan.
func collect[T any](rows *sql.Rows, op string, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}
