package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/faturas-core/internal/domain"
)

// accountRepo serves both accounts and categories.
type accountRepo struct {
	c conn
}

func (r *accountRepo) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Kind == "" {
		a.Kind = "checking"
	}
	_, err := r.c.exec(ctx,
		`INSERT INTO accounts (id, tenant_id, name, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.Name, a.Kind, tsArg(a.CreatedAt))
	return mapError("create account", err)
}

func (r *accountRepo) GetAccount(ctx context.Context, tenantID, accountID string) (*domain.Account, error) {
	row := r.c.queryRow(ctx,
		`SELECT id, tenant_id, name, kind, created_at FROM accounts WHERE tenant_id = ? AND id = ?`,
		tenantID, accountID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFoundOr("get account", "account", accountID, err)
	}
	return &a, nil
}

func (r *accountRepo) ListAccounts(ctx context.Context, tenantID string) ([]domain.Account, error) {
	rows, err := r.c.query(ctx,
		`SELECT id, tenant_id, name, kind, created_at FROM accounts WHERE tenant_id = ? ORDER BY name`,
		tenantID)
	if err != nil {
		return nil, mapError("list accounts", err)
	}
	return collect(rows, "list accounts", scanAccount)
}

func scanAccount(s scanner) (domain.Account, error) {
	var (
		a       domain.Account
		created timeCol
	)
	if err := s.Scan(&a.ID, &a.TenantID, &a.Name, &a.Kind, &created); err != nil {
		return a, err
	}
	a.CreatedAt = created.Time
	return a, nil
}

// ============================================================
// Categories
// ============================================================

func (r *accountRepo) CreateCategory(ctx context.Context, c *domain.Category) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.c.exec(ctx,
		`INSERT INTO categories (id, tenant_id, name, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.Name, string(c.Kind), tsArg(c.CreatedAt))
	return mapError("create category", err)
}

func (r *accountRepo) GetCategory(ctx context.Context, tenantID, categoryID string) (*domain.Category, error) {
	var (
		c       domain.Category
		kind    string
		created timeCol
	)
	err := r.c.queryRow(ctx,
		`SELECT id, tenant_id, name, kind, created_at FROM categories WHERE tenant_id = ? AND id = ?`,
		tenantID, categoryID).Scan(&c.ID, &c.TenantID, &c.Name, &kind, &created)
	if err != nil {
		return nil, notFoundOr("get category", "category", categoryID, err)
	}
	c.Kind = domain.TransactionKind(kind)
	c.CreatedAt = created.Time
	return &c, nil
}
