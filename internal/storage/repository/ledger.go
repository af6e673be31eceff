package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// ApplyEntry атомарно добавляет запись леджера и обновляет материализованный
// баланс аккаунта. Строка аккаунта блокируется на время транзакции, поэтому
// операции по одному аккаунту линеаризуемы; разные аккаунты друг друга
// не блокируют. Либо записываются обе половины (строка леджера и баланс),
// либо ни одна.
func (s *Storage) ApplyEntry(ctx context.Context, entry *models.Transaction, opts models.ApplyOptions) (int, error) {
	const op = "storage.ApplyEntry"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	newBalance, err := applyEntryTx(ctx, tx, entry, opts)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newBalance, nil
}

// applyEntryTx — общая часть применения записи внутри открытой транзакции.
// Используется также биллинговым циклом и резолюцией диспутов.
func applyEntryTx(ctx context.Context, tx *sql.Tx, entry *models.Transaction, opts models.ApplyOptions) (int, error) {
	var balance int
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT balance, status FROM accounts WHERE user_uid = $1 FOR UPDATE`,
		entry.UserUID).Scan(&balance, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}

	if opts.EnforceActive && status != models.AccountActive {
		return 0, models.ErrAccountSuspended
	}
	if entry.Amount < 0 && !opts.AllowNegative && balance+entry.Amount < 0 {
		return 0, models.ErrInsufficientCredits
	}

	var metadata []byte
	if len(entry.Metadata) > 0 {
		if metadata, err = json.Marshal(entry.Metadata); err != nil {
			return 0, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_uid, amount, kind, description, job_id,
		     subscription_id, amount_usd, external_payment_ref, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.UserUID, entry.Amount, entry.Kind, entry.Description, entry.JobID,
		entry.SubscriptionID, entry.AmountUSD, entry.ExternalPaymentRef, metadata, entry.CreatedAt)
	if err != nil {
		return 0, mapConstraintErr(err)
	}

	newBalance := balance + entry.Amount
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = now() WHERE user_uid = $2`,
		newBalance, entry.UserUID)
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// ListEntries возвращает страницу транзакций аккаунта и их общее количество
// с учётом фильтров. Порядок фиксированный: по убыванию времени создания.
func (s *Storage) ListEntries(ctx context.Context, userUID string, limit, offset int, filter models.EntryFilter) ([]*models.Transaction, int, error) {
	const op = "storage.ListEntries"
	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_uid, amount, kind, description, job_id, subscription_id,
	              amount_usd, external_payment_ref, metadata, created_at
	          FROM transactions
	          WHERE user_uid = $1
	            AND ($2::text IS NULL OR kind = $2)
	            AND ($3::timestamptz IS NULL OR created_at >= $3)
	            AND ($4::timestamptz IS NULL OR created_at <= $4)
	          ORDER BY created_at DESC, id DESC
	          LIMIT $5 OFFSET $6`
	rows, err := s.DB.QueryContext(ctx, query, userUID, filter.Kind, filter.From, filter.To, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Transaction
	for rows.Next() {
		item, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, item)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	var total int
	err = s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE user_uid = $1
		   AND ($2::text IS NULL OR kind = $2)
		   AND ($3::timestamptz IS NULL OR created_at >= $3)
		   AND ($4::timestamptz IS NULL OR created_at <= $4)`,
		userUID, filter.Kind, filter.From, filter.To).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return result, total, nil
}

// GetEntry возвращает транзакцию по её ID.
func (s *Storage) GetEntry(ctx context.Context, id string) (*models.Transaction, error) {
	const op = "storage.GetEntry"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_uid, amount, kind, description, job_id, subscription_id,
		     amount_usd, external_payment_ref, metadata, created_at
		 FROM transactions WHERE id = $1`, id)
	item, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}

// SumEntries считает сумму всех записей аккаунта. Используется для
// сверки с материализованным балансом: значения обязаны совпадать.
func (s *Storage) SumEntries(ctx context.Context, userUID string) (int, error) {
	const op = "storage.SumEntries"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var sum int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_uid = $1`,
		userUID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return sum, nil
}

// MonthlyTotals возвращает сумму зачислений и списаний аккаунта
// начиная с момента since, а также общее число транзакций.
func (s *Storage) MonthlyTotals(ctx context.Context, userUID string, since time.Time) (added, spent, total int, err error) {
	const op = "storage.MonthlyTotals"
	select {
	case <-ctx.Done():
		return 0, 0, 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err = s.DB.QueryRowContext(ctx,
		`SELECT
		     COALESCE(SUM(CASE WHEN amount > 0 AND created_at >= $2 THEN amount ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN amount < 0 AND created_at >= $2 THEN -amount ELSE 0 END), 0),
		     COUNT(*)
		 FROM transactions WHERE user_uid = $1`,
		userUID, since).Scan(&added, &spent, &total)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	return added, spent, total, nil
}

// FindByPaymentRef ищет уже зачисленную транзакцию по внешнему
// платёжному референсу.
func (s *Storage) FindByPaymentRef(ctx context.Context, ref string) (*models.Transaction, bool, error) {
	const op = "storage.FindByPaymentRef"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_uid, amount, kind, description, job_id, subscription_id,
		     amount_usd, external_payment_ref, metadata, created_at
		 FROM transactions WHERE external_payment_ref = $1`, ref)
	item, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return item, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var item models.Transaction
	var metadata []byte
	if err := row.Scan(&item.ID, &item.UserUID, &item.Amount, &item.Kind, &item.Description,
		&item.JobID, &item.SubscriptionID, &item.AmountUSD, &item.ExternalPaymentRef,
		&metadata, &item.CreatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, err
		}
	}
	return &item, nil
}
