package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/autobill/internal/models"
)

const accountColumns = `id, email, tier, billing_customer_id, created_at, updated_at`

// EnsureAccount создаёт аккаунт, если его нет. Непустой email обновляет сохранённый.
func (s *Storage) EnsureAccount(ctx context.Context, accountID, email string) error {
	const op = "storage.EnsureAccount"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO accounts (id, email)
			  VALUES ($1, $2)
			  ON CONFLICT (id) DO UPDATE
			  SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE accounts.email END`
	if _, err := s.DB.ExecContext(ctx, query, accountID, email); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetAccount возвращает аккаунт по идентификатору.
func (s *Storage) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	const op = "storage.GetAccount"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	return s.scanAccount(ctx, op, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
}

// GetAccountByEmail ищет аккаунт по email без учёта регистра.
func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	const op = "storage.GetAccountByEmail"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	return s.scanAccount(ctx, op,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1) ORDER BY created_at LIMIT 1`, email)
}

// GetAccountByBillingCustomer ищет аккаунт по идентификатору клиента у провайдера подписок.
func (s *Storage) GetAccountByBillingCustomer(ctx context.Context, customerID string) (*models.Account, error) {
	const op = "storage.GetAccountByBillingCustomer"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	return s.scanAccount(ctx, op, `SELECT `+accountColumns+` FROM accounts WHERE billing_customer_id = $1`, customerID)
}

func (s *Storage) scanAccount(ctx context.Context, op, query string, arg any) (*models.Account, error) {
	var (
		a          models.Account
		tier       sql.NullString
		customerID sql.NullString
		updatedAt  sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, query, arg).
		Scan(&a.ID, &a.Email, &tier, &customerID, &a.CreatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: account: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tier.Valid {
		if t, ok := models.ParseTier(tier.String); ok {
			a.Tier = &t
		}
	}
	a.BillingCustomerID = stringPtr(customerID)
	if updatedAt.Valid {
		a.UpdatedAt = &updatedAt.Time
	}
	return &a, nil
}

// SetAccountTier сохраняет тариф и, если передан, идентификатор клиента провайдера.
// tier == nil сбрасывает сохранённый тариф.
func (s *Storage) SetAccountTier(ctx context.Context, accountID string, tier *models.Tier, customerID *string) error {
	const op = "storage.SetAccountTier"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	var tierValue sql.NullString
	if tier != nil {
		tierValue = sql.NullString{String: string(*tier), Valid: true}
	}
	query := `UPDATE accounts
			  SET tier = $2,
			      billing_customer_id = COALESCE($3, billing_customer_id),
			      updated_at = NOW()
			  WHERE id = $1`
	res, err := s.DB.ExecContext(ctx, query, accountID, tierValue, nullString(customerID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: account %s: %w", op, accountID, models.ErrNotFound)
	}
	return nil
}
