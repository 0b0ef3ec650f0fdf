package port

import (
	"context"

	"github.com/boddenberg/faturas-core/internal/domain"
)

// AccountStore handles account data operations.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, tenantID, accountID string) (*domain.Account, error)
	ListAccounts(ctx context.Context, tenantID string) ([]domain.Account, error)
}

// CategoryStore handles category data operations.
type CategoryStore interface {
	CreateCategory(ctx context.Context, category *domain.Category) error
	GetCategory(ctx context.Context, tenantID, categoryID string) (*domain.Category, error)
}
