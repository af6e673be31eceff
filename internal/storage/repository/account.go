package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// CreateAccount заводит кредитный аккаунт с нулевым балансом.
// Повторный вызов для существующего аккаунта — no-op: аккаунты
// создаются один раз при регистрации и никогда не удаляются.
func (s *Storage) CreateAccount(ctx context.Context, userUID string) error {
	const op = "storage.CreateAccount"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO accounts (user_uid, balance, status)
		 VALUES ($1, 0, $2)
		 ON CONFLICT (user_uid) DO NOTHING`,
		userUID, models.AccountActive)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetAccount возвращает кредитный аккаунт по UID пользователя.
func (s *Storage) GetAccount(ctx context.Context, userUID string) (*models.CreditAccount, error) {
	const op = "storage.GetAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT user_uid, balance, status, subscription_id, next_billing_date,
	              created_at, updated_at
	          FROM accounts WHERE user_uid = $1`
	row := s.DB.QueryRowContext(ctx, query, userUID)

	var acc models.CreditAccount
	var subID sql.NullInt64
	var nextBilling sql.NullTime
	err := row.Scan(&acc.UserUID, &acc.Balance, &acc.Status, &subID, &nextBilling,
		&acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if subID.Valid {
		v := int(subID.Int64)
		acc.SubscriptionID = &v
	}
	if nextBilling.Valid {
		acc.NextBillingDate = &nextBilling.Time
	}
	return &acc, nil
}

// UpdateAccountStatus меняет статус аккаунта и возвращает количество
// изменённых строк. Баланс при этом не затрагивается.
func (s *Storage) UpdateAccountStatus(ctx context.Context, userUID, status string) (int, error) {
	const op = "storage.UpdateAccountStatus"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx,
		`UPDATE accounts SET status = $1, updated_at = now() WHERE user_uid = $2`,
		status, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// SetAccountSubscription привязывает подписку к аккаунту (nil — отвязка)
// и обновляет дату следующего списания.
func (s *Storage) SetAccountSubscription(ctx context.Context, userUID string, subscriptionID *int, nextBillingDate *time.Time) error {
	const op = "storage.SetAccountSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := s.DB.ExecContext(ctx,
		`UPDATE accounts SET subscription_id = $1, next_billing_date = $2, updated_at = now()
		 WHERE user_uid = $3`,
		subscriptionID, nextBillingDate, userUID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
