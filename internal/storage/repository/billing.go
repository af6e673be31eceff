package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// ApplyBillingCycle атомарно применяет один биллинговый цикл подписки.
// Идемпотентность обеспечивается вставкой в billing_runs: повтор по той же
// паре (подписка, начало периода) завершается ErrCycleAlreadyBilled до
// каких-либо изменений баланса, поэтому конкурентные запуски планировщика
// безопасны. Сгорание остатка, начисление лимита и обновление подписки
// происходят в одной транзакции.
func (s *Storage) ApplyBillingCycle(ctx context.Context, params models.CycleParams) (*models.CycleResult, error) {
	const op = "storage.ApplyBillingCycle"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	sub := params.Subscription
	result, err := tx.ExecContext(ctx,
		`INSERT INTO billing_runs (subscription_id, period_start)
		 VALUES ($1, $2)
		 ON CONFLICT (subscription_id, period_start) DO NOTHING`,
		sub.ID, params.PeriodStart)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%s: %w", op, models.ErrCycleAlreadyBilled)
	}

	// Неиспользованный остаток прошлого цикла считается под блокировкой
	// строки аккаунта: конкурентные списания его не искажают.
	var balance int
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_uid = $1 FOR UPDATE`,
		sub.UserUID).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	unused := sub.CreditsGrantedThisCycle + sub.RolloverCredits
	if unused > balance {
		unused = balance
	}
	if unused < 0 {
		unused = 0
	}
	carry := 0
	if params.RolloverEnabled {
		carry = unused
		if carry > params.RolloverCeiling {
			carry = params.RolloverCeiling
		}
	}
	expired := unused - carry

	if expired > 0 {
		params.ExpireEntry.Amount = -expired
		if _, err = applyEntryTx(ctx, tx, params.ExpireEntry, models.ApplyOptions{}); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	newBalance, err := applyEntryTx(ctx, tx, params.GrantEntry, models.ApplyOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE subscriptions
		 SET status = $1, next_billing_date = $2,
		     credits_granted_this_cycle = $3, rollover_credits = $4
		 WHERE id = $5`,
		params.NewStatus, params.NextBillingDate, params.GrantEntry.Amount, carry, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET next_billing_date = $1, updated_at = now() WHERE user_uid = $2`,
		params.NextBillingDate, sub.UserUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &models.CycleResult{
		NewBalance:      newBalance,
		Expired:         expired,
		RolloverCredits: carry,
	}, nil
}
