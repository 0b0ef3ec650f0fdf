package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/faturas-core/internal/domain"
)

type cardRepo struct {
	c conn
}

const cardColumns = `id, tenant_id, nickname, brand, closing_day, due_day, payment_account_id, created_at`

func (r *cardRepo) CreateCard(ctx context.Context, card *domain.Card) error {
	if err := card.Validate(); err != nil {
		return err
	}
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}

	var paymentAccount any
	if card.PaymentAccountID != "" {
		paymentAccount = card.PaymentAccountID
	}
	_, err := r.c.exec(ctx,
		`INSERT INTO cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.TenantID, card.Nickname, card.Brand, card.ClosingDay, card.DueDay,
		paymentAccount, tsArg(card.CreatedAt))
	return mapError("create card", err)
}

func (r *cardRepo) GetCard(ctx context.Context, tenantID, cardID string) (*domain.Card, error) {
	row := r.c.queryRow(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE tenant_id = ? AND id = ?`, tenantID, cardID)
	card, err := scanCard(row)
	if err != nil {
		return nil, notFoundOr("get card", "card", cardID, err)
	}
	return &card, nil
}

func (r *cardRepo) UpdateCard(ctx context.Context, card *domain.Card) error {
	if err := card.Validate(); err != nil {
		return err
	}

	var paymentAccount any
	if card.PaymentAccountID != "" {
		paymentAccount = card.PaymentAccountID
	}
	res, err := r.c.exec(ctx, `
		UPDATE cards SET nickname = ?, brand = ?, closing_day = ?, due_day = ?, payment_account_id = ?
		WHERE tenant_id = ? AND id = ?`,
		card.Nickname, card.Brand, card.ClosingDay, card.DueDay, paymentAccount,
		card.TenantID, card.ID)
	if err != nil {
		return mapError("update card", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.ErrNotFound{Resource: "card", ID: card.ID}
	}
	return nil
}

func (r *cardRepo) ListCards(ctx context.Context, tenantID string) ([]domain.Card, error) {
	rows, err := r.c.query(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE tenant_id = ? ORDER BY nickname, id`, tenantID)
	if err != nil {
		return nil, mapError("list cards", err)
	}
	return collect(rows, "list cards", scanCard)
}

func scanCard(s scanner) (domain.Card, error) {
	var (
		c       domain.Card
		payment sql.NullString
		created timeCol
	)
	err := s.Scan(&c.ID, &c.TenantID, &c.Nickname, &c.Brand, &c.ClosingDay, &c.DueDay, &payment, &created)
	if err != nil {
		return c, err
	}
	c.PaymentAccountID = payment.String
	c.CreatedAt = created.Time
	return c, nil
}
