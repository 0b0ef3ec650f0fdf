package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/faturas-core/internal/domain"
)

type itemRepo struct {
	c conn
}

const itemColumns = `id, tenant_id, invoice_id, card_id, description, amount, purchase_date, competencia,
	category_id, installment_group_id, installment_index, installment_total, deleted, created_at`

func (r *itemRepo) CreateItem(ctx context.Context, it *domain.InvoiceItem) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	it.Amount = domain.Money(it.Amount)

	_, err := r.c.exec(ctx,
		`INSERT INTO invoice_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.TenantID, nullStringArg(it.InvoiceID), it.CardID, it.Description, moneyArg(it.Amount),
		dateArg(it.PurchaseDate), it.Competencia, nullStringArg(it.CategoryID),
		nullStringArg(it.InstallmentGroupID), nullIntArg(it.InstallmentIndex), nullIntArg(it.InstallmentTotal),
		it.Deleted, tsArg(it.CreatedAt))
	return mapError("create invoice item", err)
}

func (r *itemRepo) GetItem(ctx context.Context, tenantID, itemID string) (*domain.InvoiceItem, error) {
	row := r.c.queryRow(ctx,
		`SELECT `+itemColumns+` FROM invoice_items WHERE tenant_id = ? AND id = ?`, tenantID, itemID)
	it, err := scanItem(row)
	if err != nil {
		return nil, notFoundOr("get invoice item", "invoice_item", itemID, err)
	}
	return &it, nil
}

func (r *itemRepo) ListItems(ctx context.Context, tenantID, invoiceID string) ([]domain.InvoiceItem, error) {
	rows, err := r.c.query(ctx, `
		SELECT `+itemColumns+` FROM invoice_items
		WHERE tenant_id = ? AND invoice_id = ? AND deleted = FALSE
		ORDER BY purchase_date, created_at, id`,
		tenantID, invoiceID)
	if err != nil {
		return nil, mapError("list invoice items", err)
	}
	return collect(rows, "list invoice items", scanItem)
}

// SoftDeleteItem hides an item from totals. Items on a closed or paid
// invoice are frozen and yield ErrInvoiceNotOpen; unassigned items can always
// be removed.
func (r *itemRepo) SoftDeleteItem(ctx context.Context, tenantID, itemID string) error {
	res, err := r.c.exec(ctx, `
		UPDATE invoice_items SET deleted = TRUE
		WHERE tenant_id = ? AND id = ?
		  AND (invoice_id IS NULL OR invoice_id IN (
		      SELECT id FROM invoices WHERE tenant_id = ? AND status = ?))`,
		tenantID, itemID, tenantID, string(domain.InvoiceOpen))
	if err != nil {
		return mapError("delete invoice item", err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return nil
	}

	it, err := r.GetItem(ctx, tenantID, itemID)
	if err != nil {
		return err
	}
	if it.InvoiceID == nil {
		return &domain.ErrNotFound{Resource: "invoice_item", ID: itemID}
	}
	inv, err := (&invoiceRepo{c: r.c}).GetInvoice(ctx, tenantID, *it.InvoiceID)
	if err != nil {
		return err
	}
	return &domain.ErrInvoiceNotOpen{InvoiceID: inv.ID, Competencia: inv.Competencia, Status: inv.Status}
}

func scanItem(s scanner) (domain.InvoiceItem, error) {
	var (
		it                domain.InvoiceItem
		invoiceID         sql.NullString
		category, group   sql.NullString
		index, total      sql.NullInt64
		purchase, created timeCol
	)
	err := s.Scan(&it.ID, &it.TenantID, &invoiceID, &it.CardID, &it.Description, &it.Amount,
		&purchase, &it.Competencia, &category, &group, &index, &total, &it.Deleted, &created)
	if err != nil {
		return it, err
	}
	it.Amount = domain.Money(it.Amount)
	it.InvoiceID = nullStringPtr(invoiceID)
	it.PurchaseDate = purchase.date()
	it.CategoryID = nullStringPtr(category)
	it.InstallmentGroupID = nullStringPtr(group)
	it.InstallmentIndex = nullIntPtr(index)
	it.InstallmentTotal = nullIntPtr(total)
	it.CreatedAt = created.Time
	return it, nil
}
