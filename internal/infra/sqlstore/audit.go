package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/faturas-core/internal/domain"
)

// auditRepo runs the consistency queries. Money is summed in Go: SQLite keeps
// amounts as text and would sum them as floats.
type auditRepo struct {
	c conn
}

// withExtra appends destinations for columns selected after an entity's own.
type withExtra struct {
	s     scanner
	extra []any
}

func (w withExtra) Scan(dest ...any) error {
	return w.s.Scan(append(dest, w.extra...)...)
}

func qualified(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (r *auditRepo) FindOrphanItems(ctx context.Context, tenantID string) ([]domain.OrphanItem, error) {
	rows, err := r.c.query(ctx, `
		SELECT `+qualified(itemColumns, "i")+`, inv.id
		FROM invoice_items i
		LEFT JOIN invoices inv ON inv.id = i.invoice_id AND inv.tenant_id = i.tenant_id
		WHERE i.tenant_id = ? AND i.deleted = FALSE
		  AND (i.invoice_id IS NULL OR inv.id IS NULL OR inv.competencia <> i.competencia)
		ORDER BY i.purchase_date, i.id`,
		tenantID)
	if err != nil {
		return nil, mapError("find orphan items", err)
	}

	return collect(rows, "find orphan items", func(s scanner) (domain.OrphanItem, error) {
		var found sql.NullString
		it, err := scanItem(withExtra{s: s, extra: []any{&found}})
		if err != nil {
			return domain.OrphanItem{}, err
		}
		reason := domain.OrphanCompetenciaMismatch
		switch {
		case it.InvoiceID == nil:
			reason = domain.OrphanMissingInvoice
		case !found.Valid:
			reason = domain.OrphanDanglingInvoice
		}
		return domain.OrphanItem{Item: it, Reason: reason}, nil
	})
}

func (r *auditRepo) FindEmptyOpenInvoices(ctx context.Context, tenantID string) ([]domain.Invoice, error) {
	rows, err := r.c.query(ctx, `
		SELECT `+qualified(invoiceColumns, "inv")+`
		FROM invoices inv
		WHERE inv.tenant_id = ? AND inv.status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM invoice_items i
			WHERE i.tenant_id = inv.tenant_id AND i.invoice_id = inv.id AND i.deleted = FALSE
		  )
		ORDER BY inv.competencia, inv.card_id`,
		tenantID, string(domain.InvoiceOpen))
	if err != nil {
		return nil, mapError("find empty open invoices", err)
	}
	return collect(rows, "find empty open invoices", scanInvoice)
}

func (r *auditRepo) FindInconsistentTotals(ctx context.Context, tenantID string) ([]domain.TotalDrift, error) {
	rows, err := r.c.query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE tenant_id = ? AND status IN (?, ?)
		ORDER BY competencia, card_id`,
		tenantID, string(domain.InvoiceClosed), string(domain.InvoicePaid))
	if err != nil {
		return nil, mapError("find inconsistent totals", err)
	}
	invoices, err := collect(rows, "find inconsistent totals", scanInvoice)
	if err != nil || len(invoices) == 0 {
		return nil, err
	}

	rows, err = r.c.query(ctx, `
		SELECT i.invoice_id, i.amount
		FROM invoice_items i
		JOIN invoices inv ON inv.id = i.invoice_id AND inv.tenant_id = i.tenant_id
		WHERE i.tenant_id = ? AND i.deleted = FALSE AND inv.status IN (?, ?)`,
		tenantID, string(domain.InvoiceClosed), string(domain.InvoicePaid))
	if err != nil {
		return nil, mapError("find inconsistent totals", err)
	}
	type line struct {
		invoiceID string
		amount    decimal.Decimal
	}
	lines, err := collect(rows, "find inconsistent totals", func(s scanner) (line, error) {
		var l line
		err := s.Scan(&l.invoiceID, &l.amount)
		return l, err
	})
	if err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal, len(invoices))
	for _, l := range lines {
		sums[l.invoiceID] = sums[l.invoiceID].Add(l.amount)
	}

	var drift []domain.TotalDrift
	for _, inv := range invoices {
		sum := domain.Money(sums[inv.ID])
		closed := decimal.Zero
		if inv.ClosedTotal != nil {
			closed = *inv.ClosedTotal
		}
		if inv.ClosedTotal == nil || !sum.Equal(closed) {
			drift = append(drift, domain.TotalDrift{Invoice: inv, ItemsTotal: sum})
		}
	}
	return drift, nil
}

func (r *auditRepo) FindDuplicateAccrual(ctx context.Context, tenantID string) ([]domain.DuplicateAccrual, error) {
	rows, err := r.c.query(ctx, `
		SELECT `+itemColumns+` FROM invoice_items
		WHERE tenant_id = ? AND deleted = FALSE
		ORDER BY card_id, competencia, description, purchase_date, id`,
		tenantID)
	if err != nil {
		return nil, mapError("find duplicate accrual", err)
	}
	items, err := collect(rows, "find duplicate accrual", scanItem)
	if err != nil {
		return nil, err
	}

	type key struct {
		cardID, competencia, description, amount, date string
	}
	groups := make(map[key]*domain.DuplicateAccrual)
	var order []key
	for _, it := range items {
		k := key{it.CardID, it.Competencia.String(), it.Description, it.Amount.StringFixed(2), dateArg(it.PurchaseDate)}
		g, ok := groups[k]
		if !ok {
			g = &domain.DuplicateAccrual{
				CardID:       it.CardID,
				Competencia:  it.Competencia,
				Description:  it.Description,
				Amount:       it.Amount,
				PurchaseDate: it.PurchaseDate,
			}
			groups[k] = g
			order = append(order, k)
		}
		g.ItemIDs = append(g.ItemIDs, it.ID)
	}

	var dups []domain.DuplicateAccrual
	for _, k := range order {
		if g := groups[k]; len(g.ItemIDs) > 1 {
			dups = append(dups, *g)
		}
	}
	return dups, nil
}
