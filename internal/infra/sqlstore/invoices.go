package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/boddenberg/faturas-core/internal/domain"
)

type invoiceRepo struct {
	c conn
}

const invoiceColumns = `id, tenant_id, card_id, competencia, status, closed_total, paid_amount,
	due_date, closing_date, payment_date, payment_transaction_id, created_at, updated_at`

// errRowChanged means a guarded UPDATE matched nothing because another unit
// of work changed the row first.
var errRowChanged = errors.New("row changed concurrently")

// EnsureInvoice is an insert-or-fetch on the (tenant, card, competência)
// unique constraint. The insert never fails on the race; the loser simply
// reads the winner's row.
func (r *invoiceRepo) EnsureInvoice(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, bool, error) {
	now := time.Now().UTC()
	res, err := r.c.exec(ctx, `
		INSERT INTO invoices (id, tenant_id, card_id, competencia, status, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, card_id, competencia) DO NOTHING`,
		uuid.NewString(), inv.TenantID, inv.CardID, inv.Competencia, string(domain.InvoiceOpen),
		dateArg(inv.DueDate), tsArg(now), tsArg(now))
	if err != nil {
		return nil, false, mapError("ensure invoice", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, mapError("ensure invoice", err)
	}

	row := r.c.queryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = ? AND card_id = ? AND competencia = ?`+r.c.dialect.forUpdate(),
		inv.TenantID, inv.CardID, inv.Competencia)
	got, err := scanInvoice(row)
	if err != nil {
		// the conflicting row is not visible yet; let the caller retry
		return nil, false, &domain.ErrStorageConflict{Op: "ensure invoice", Err: err}
	}
	return &got, n == 1, nil
}

func (r *invoiceRepo) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*domain.Invoice, error) {
	return r.get(ctx, tenantID, invoiceID, "")
}

func (r *invoiceRepo) GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID string) (*domain.Invoice, error) {
	return r.get(ctx, tenantID, invoiceID, r.c.dialect.forUpdate())
}

func (r *invoiceRepo) get(ctx context.Context, tenantID, invoiceID, lock string) (*domain.Invoice, error) {
	row := r.c.queryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = ? AND id = ?`+lock,
		tenantID, invoiceID)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, notFoundOr("get invoice", "invoice", invoiceID, err)
	}
	return &inv, nil
}

func (r *invoiceRepo) ListInvoices(ctx context.Context, tenantID string, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}
	if filter.CardID != "" {
		where = append(where, "card_id = ?")
		args = append(args, filter.CardID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	rows, err := r.c.query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE `+strings.Join(where, " AND ")+` ORDER BY competencia, card_id`,
		args...)
	if err != nil {
		return nil, mapError("list invoices", err)
	}
	return collect(rows, "list invoices", scanInvoice)
}

func (r *invoiceRepo) MarkInvoiceClosed(ctx context.Context, invoiceID string, total decimal.Decimal, closingDate time.Time) error {
	res, err := r.c.exec(ctx, `
		UPDATE invoices SET status = ?, closed_total = ?, closing_date = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.InvoiceClosed), moneyArg(total), dateArg(closingDate), tsArg(time.Now()),
		invoiceID, string(domain.InvoiceOpen))
	return guardUpdate("close invoice", res, err)
}

func (r *invoiceRepo) MarkInvoicePaid(ctx context.Context, invoiceID string, amount decimal.Decimal, paymentDate time.Time, transactionID string) error {
	res, err := r.c.exec(ctx, `
		UPDATE invoices SET status = ?, paid_amount = ?, payment_date = ?, payment_transaction_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.InvoicePaid), moneyArg(amount), dateArg(paymentDate), transactionID, tsArg(time.Now()),
		invoiceID, string(domain.InvoiceClosed))
	return guardUpdate("pay invoice", res, err)
}

func guardUpdate(op string, res interface{ RowsAffected() (int64, error) }, err error) error {
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n != 1 {
		return &domain.ErrStorageConflict{Op: op, Err: errRowChanged}
	}
	return nil
}

func scanInvoice(s scanner) (domain.Invoice, error) {
	var (
		inv                            domain.Invoice
		status                         string
		closedTotal, paidAmount        decimal.NullDecimal
		dueDate, closingDate, paidDate timeCol
		paymentTx                      sql.NullString
		created, updated               timeCol
	)
	err := s.Scan(&inv.ID, &inv.TenantID, &inv.CardID, &inv.Competencia, &status,
		&closedTotal, &paidAmount, &dueDate, &closingDate, &paidDate, &paymentTx,
		&created, &updated)
	if err != nil {
		return inv, err
	}
	inv.Status = domain.InvoiceStatus(status)
	inv.ClosedTotal = nullDecimalPtr(closedTotal)
	inv.PaidAmount = nullDecimalPtr(paidAmount)
	inv.DueDate = dueDate.date()
	inv.ClosingDate = closingDate.datePtr()
	inv.PaymentDate = paidDate.datePtr()
	inv.PaymentTransactionID = nullStringPtr(paymentTx)
	inv.CreatedAt = created.Time
	inv.UpdatedAt = updated.Time
	return inv, nil
}
