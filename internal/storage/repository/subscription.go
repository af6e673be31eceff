package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// CreateSubscription вставляет новую подписку и возвращает её ID.
// Частичный уникальный индекс гарантирует не более одной незакрытой
// подписки на аккаунт; нарушение даёт ErrSubscriptionExists.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (int, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_uid, package_id, status, start_date,
	              next_billing_date, monthly_credit_limit, credits_granted_this_cycle,
	              rollover_credits, payment_subscription_ref, pause_reason, admin_notes)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		sub.UserUID, sub.PackageID, sub.Status, sub.StartDate, sub.NextBillingDate,
		sub.MonthlyCreditLimit, sub.CreditsGrantedThisCycle, sub.RolloverCredits,
		sub.PaymentSubscriptionRef, sub.PauseReason, sub.AdminNotes).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapConstraintErr(err))
	}
	return newID, nil
}

// GetOpenSubscription возвращает незакрытую подписку аккаунта.
func (s *Storage) GetOpenSubscription(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "storage.GetOpenSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := subscriptionColumns + `
	          FROM subscriptions
	          WHERE user_uid = $1 AND status IN ($2, $3, $4)`
	row := s.DB.QueryRowContext(ctx, query, userUID,
		models.SubscriptionTrial, models.SubscriptionActive, models.SubscriptionPaused)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNoActiveSubscription)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// GetSubscriptionSummary возвращает краткую сводку незакрытой подписки
// вместе с названием пакета. Отсутствие подписки не является ошибкой.
func (s *Storage) GetSubscriptionSummary(ctx context.Context, userUID string) (*models.SubscriptionSummary, error) {
	const op = "storage.GetSubscriptionSummary"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT s.id, s.package_id, p.name, s.status, s.monthly_credit_limit,
	              s.rollover_credits, s.next_billing_date
	          FROM subscriptions s
	          JOIN packages p ON p.id = s.package_id
	          WHERE s.user_uid = $1 AND s.status IN ($2, $3, $4)`
	row := s.DB.QueryRowContext(ctx, query, userUID,
		models.SubscriptionTrial, models.SubscriptionActive, models.SubscriptionPaused)

	var sum models.SubscriptionSummary
	err := row.Scan(&sum.ID, &sum.PackageID, &sum.PackageName, &sum.Status,
		&sum.MonthlyCredits, &sum.RolloverCredits, &sum.NextBillingDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sum, nil
}

// UpdateSubscriptionStatus переводит подписку из expectedStatus в newStatus.
// Возвращает количество изменённых строк: ноль означает, что подписка
// уже не в ожидаемом статусе (конкурентный переход).
func (s *Storage) UpdateSubscriptionStatus(ctx context.Context, id int, expectedStatus []string, newStatus, pauseReason string, endDate *time.Time) (int, error) {
	const op = "storage.UpdateSubscriptionStatus"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx,
		`UPDATE subscriptions
		 SET status = $1, pause_reason = $2, end_date = COALESCE($3, end_date)
		 WHERE id = $4 AND status = ANY($5)`,
		newStatus, pauseReason, endDate, id, expectedStatus)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// FindDueSubscriptions находит подписки, подлежащие начислению:
// дата следующего списания наступила, статус trial или active.
func (s *Storage) FindDueSubscriptions(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	const op = "storage.FindDueSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := subscriptionColumns + `
	          FROM subscriptions
	          WHERE next_billing_date <= $1
	            AND status IN ($2, $3)`
	rows, err := s.DB.QueryContext(ctx, query, now,
		models.SubscriptionTrial, models.SubscriptionActive)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

const subscriptionColumns = `SELECT id, user_uid, package_id, status, start_date,
	              next_billing_date, end_date, monthly_credit_limit,
	              credits_granted_this_cycle, rollover_credits,
	              payment_subscription_ref, pause_reason, admin_notes`

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var endDate sql.NullTime
	if err := row.Scan(&sub.ID, &sub.UserUID, &sub.PackageID, &sub.Status, &sub.StartDate,
		&sub.NextBillingDate, &endDate, &sub.MonthlyCreditLimit,
		&sub.CreditsGrantedThisCycle, &sub.RolloverCredits,
		&sub.PaymentSubscriptionRef, &sub.PauseReason, &sub.AdminNotes); err != nil {
		return nil, err
	}
	if endDate.Valid {
		sub.EndDate = &endDate.Time
	}
	return &sub, nil
}
