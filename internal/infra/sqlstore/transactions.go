package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/faturas-core/internal/domain"
)

type transactionRepo struct {
	c conn
}

const transactionColumns = `id, tenant_id, kind, amount, description, transaction_date, due_date,
	account_id, destination_account_id, category_id, origin, status,
	installment_group_id, installment_index, installment_total, reference_month, created_at`

func (r *transactionRepo) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Amount = domain.Money(t.Amount)

	_, err := r.c.exec(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, string(t.Kind), moneyArg(t.Amount), t.Description, dateArg(t.TransactionDate),
		nullDateArg(t.DueDate), t.AccountID, nullStringArg(t.DestinationAccountID), nullStringArg(t.CategoryID),
		t.Origin, string(t.Status), nullStringArg(t.InstallmentGroupID), nullIntArg(t.InstallmentIndex),
		nullIntArg(t.InstallmentTotal), t.ReferenceMonth, tsArg(t.CreatedAt))
	return mapError("create transaction", err)
}

func (r *transactionRepo) GetTransaction(ctx context.Context, tenantID, transactionID string) (*domain.Transaction, error) {
	row := r.c.queryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE tenant_id = ? AND id = ?`,
		tenantID, transactionID)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, notFoundOr("get transaction", "transaction", transactionID, err)
	}
	return &t, nil
}

func (r *transactionRepo) ListTransactions(ctx context.Context, tenantID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}
	if filter.Origin != "" {
		where = append(where, "origin = ?")
		args = append(args, filter.Origin)
	}
	if filter.ReferenceMonth != nil {
		where = append(where, "reference_month = ?")
		args = append(args, *filter.ReferenceMonth)
	}

	rows, err := r.c.query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE `+strings.Join(where, " AND ")+
			` ORDER BY transaction_date, created_at, id`,
		args...)
	if err != nil {
		return nil, mapError("list transactions", err)
	}
	return collect(rows, "list transactions", scanTransaction)
}

func (r *transactionRepo) OccurrenceExists(ctx context.Context, tenantID, origin string, month domain.Competencia, date *time.Time) (bool, error) {
	q := `SELECT COUNT(*) FROM transactions WHERE tenant_id = ? AND origin = ? AND reference_month = ?`
	args := []any{tenantID, origin, month}
	if date != nil {
		q += ` AND transaction_date = ?`
		args = append(args, dateArg(*date))
	}

	var n int
	if err := r.c.queryRow(ctx, q, args...).Scan(&n); err != nil {
		return false, mapError("occurrence exists", err)
	}
	return n > 0, nil
}

func scanTransaction(s scanner) (domain.Transaction, error) {
	var (
		t                        domain.Transaction
		kind, status             string
		txDate, dueDate, created timeCol
		destination, category    sql.NullString
		group                    sql.NullString
		index, total             sql.NullInt64
		refMonth                 sql.Null[domain.Competencia]
	)
	err := s.Scan(&t.ID, &t.TenantID, &kind, &t.Amount, &t.Description, &txDate, &dueDate,
		&t.AccountID, &destination, &category, &t.Origin, &status,
		&group, &index, &total, &refMonth, &created)
	if err != nil {
		return t, err
	}
	t.Kind = domain.TransactionKind(kind)
	t.Status = domain.TransactionStatus(status)
	t.Amount = domain.Money(t.Amount)
	t.TransactionDate = txDate.date()
	t.DueDate = dueDate.datePtr()
	t.DestinationAccountID = nullStringPtr(destination)
	t.CategoryID = nullStringPtr(category)
	t.InstallmentGroupID = nullStringPtr(group)
	t.InstallmentIndex = nullIntPtr(index)
	t.InstallmentTotal = nullIntPtr(total)
	t.ReferenceMonth = nullCompetenciaPtr(refMonth)
	t.CreatedAt = created.Time
	return t, nil
}
