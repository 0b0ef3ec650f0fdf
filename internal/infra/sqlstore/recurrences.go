package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/faturas-core/internal/domain"
)

type recurrenceRepo struct {
	c conn
}

const recurrenceColumns = `id, tenant_id, account_id, category_id, kind, amount, description, frequency,
	due_day, start_date, end_date, paused, deleted, next_occurrence, created_at, updated_at`

// CreateRecurrence stores the template as given; validation is the caller's.
func (r *recurrenceRepo) CreateRecurrence(ctx context.Context, rec *domain.Recurrence) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := r.c.exec(ctx,
		`INSERT INTO recurrences (`+recurrenceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.AccountID, nullStringArg(rec.CategoryID), string(rec.Kind),
		moneyArg(rec.Amount), rec.Description, string(rec.Frequency), rec.DueDay,
		dateArg(rec.StartDate), nullDateArg(rec.EndDate), rec.Paused, rec.Deleted,
		nullDateArg(rec.NextOccurrence), tsArg(rec.CreatedAt), tsArg(rec.UpdatedAt))
	return mapError("create recurrence", err)
}

func (r *recurrenceRepo) GetRecurrence(ctx context.Context, tenantID, recurrenceID string) (*domain.Recurrence, error) {
	return r.get(ctx, tenantID, recurrenceID, "")
}

func (r *recurrenceRepo) GetRecurrenceForUpdate(ctx context.Context, tenantID, recurrenceID string) (*domain.Recurrence, error) {
	return r.get(ctx, tenantID, recurrenceID, r.c.dialect.forUpdate())
}

func (r *recurrenceRepo) get(ctx context.Context, tenantID, recurrenceID, lock string) (*domain.Recurrence, error) {
	row := r.c.queryRow(ctx,
		`SELECT `+recurrenceColumns+` FROM recurrences WHERE tenant_id = ? AND id = ?`+lock,
		tenantID, recurrenceID)
	rec, err := scanRecurrence(row)
	if err != nil {
		return nil, notFoundOr("get recurrence", "recurrence", recurrenceID, err)
	}
	return &rec, nil
}

func (r *recurrenceRepo) ListActiveRecurrences(ctx context.Context, tenantID string) ([]domain.Recurrence, error) {
	rows, err := r.c.query(ctx, `
		SELECT `+recurrenceColumns+` FROM recurrences
		WHERE tenant_id = ? AND paused = FALSE AND deleted = FALSE
		ORDER BY created_at, id`,
		tenantID)
	if err != nil {
		return nil, mapError("list recurrences", err)
	}
	return collect(rows, "list recurrences", scanRecurrence)
}

func (r *recurrenceRepo) UpdateRecurrence(ctx context.Context, rec *domain.Recurrence) error {
	rec.UpdatedAt = time.Now().UTC()
	res, err := r.c.exec(ctx, `
		UPDATE recurrences SET account_id = ?, category_id = ?, kind = ?, amount = ?, description = ?,
			frequency = ?, due_day = ?, start_date = ?, end_date = ?, paused = ?, deleted = ?,
			next_occurrence = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		rec.AccountID, nullStringArg(rec.CategoryID), string(rec.Kind), moneyArg(rec.Amount), rec.Description,
		string(rec.Frequency), rec.DueDay, dateArg(rec.StartDate), nullDateArg(rec.EndDate), rec.Paused, rec.Deleted,
		nullDateArg(rec.NextOccurrence), tsArg(rec.UpdatedAt),
		rec.TenantID, rec.ID)
	if err != nil {
		return mapError("update recurrence", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.ErrNotFound{Resource: "recurrence", ID: rec.ID}
	}
	return nil
}

func scanRecurrence(s scanner) (domain.Recurrence, error) {
	var (
		rec              domain.Recurrence
		category         sql.NullString
		kind, frequency  string
		start, end, next timeCol
		created, updated timeCol
	)
	err := s.Scan(&rec.ID, &rec.TenantID, &rec.AccountID, &category, &kind, &rec.Amount, &rec.Description,
		&frequency, &rec.DueDay, &start, &end, &rec.Paused, &rec.Deleted, &next, &created, &updated)
	if err != nil {
		return rec, err
	}
	rec.CategoryID = nullStringPtr(category)
	rec.Kind = domain.TransactionKind(kind)
	rec.Frequency = domain.Frequency(frequency)
	rec.Amount = domain.Money(rec.Amount)
	rec.StartDate = start.date()
	rec.EndDate = end.datePtr()
	rec.NextOccurrence = next.datePtr()
	rec.CreatedAt = created.Time
	rec.UpdatedAt = updated.Time
	return rec, nil
}
