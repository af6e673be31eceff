package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// CreateDispute вставляет новый диспут в статусе pending и возвращает его ID.
func (s *Storage) CreateDispute(ctx context.Context, d models.Dispute) (int, error) {
	const op = "storage.CreateDispute"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO disputes (user_uid, transaction_id, reason, description,
	              requested_amount, status, submitted_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		d.UserUID, d.TransactionID, d.Reason, d.Description, d.RequestedAmount,
		models.DisputePending, d.SubmittedAt).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetDispute возвращает диспут по ID.
func (s *Storage) GetDispute(ctx context.Context, id int) (*models.Dispute, error) {
	const op = "storage.GetDispute"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx, disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

// UpdateDisputeReview переводит диспут в under_review либо сразу в rejected.
// Переход выполняется только из ожидаемых статусов; ноль изменённых строк
// означает конкурентный переход и трактуется вызывающим как ErrInvalidTransition.
func (s *Storage) UpdateDisputeReview(ctx context.Context, id int, adminUID, newStatus, notes string, expectedStatus []string) (int, error) {
	const op = "storage.UpdateDisputeReview"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx,
		`UPDATE disputes
		 SET status = $1, admin_uid = $2, admin_notes = $3, reviewed_at = now()
		 WHERE id = $4 AND status = ANY($5)`,
		newStatus, adminUID, notes, id, expectedStatus)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rowsAffected), nil
}

// ResolveDispute применяет резолюцию диспута. Статус диспута блокируется
// на время транзакции: повторная резолюция получает ErrAlreadyResolved,
// поэтому компенсирующая запись леджера создаётся не более одного раза.
// refundEntry may be nil: explanation и rejected не трогают леджер.
func (s *Storage) ResolveDispute(ctx context.Context, id int, adminUID, resolution string, resolvedAmount *int, notes, finalStatus string, refundEntry *models.Transaction) (*models.Dispute, int, error) {
	const op = "storage.ResolveDispute"
	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM disputes WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	if status == models.DisputeResolved || status == models.DisputeRejected {
		return nil, 0, fmt.Errorf("%s: %w", op, models.ErrAlreadyResolved)
	}

	newBalance := 0
	if refundEntry != nil {
		if newBalance, err = applyEntryTx(ctx, tx, refundEntry, models.ApplyOptions{}); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
	}

	row := tx.QueryRowContext(ctx,
		`UPDATE disputes
		 SET status = $1, resolution = $2, resolved_amount = $3, admin_uid = $4,
		     admin_notes = $5, resolved_at = now()
		 WHERE id = $6
		 RETURNING `+disputeFields, finalStatus, resolution, resolvedAmount, adminUID, notes, id)
	d, err := scanDispute(row)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return d, newBalance, nil
}

const disputeFields = `id, user_uid, transaction_id, reason, description, requested_amount,
	              status, resolution, resolved_amount, admin_uid, admin_notes,
	              submitted_at, reviewed_at, resolved_at`

const disputeColumns = `SELECT ` + disputeFields

func scanDispute(row rowScanner) (*models.Dispute, error) {
	var d models.Dispute
	var reviewedAt, resolvedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.UserUID, &d.TransactionID, &d.Reason, &d.Description,
		&d.RequestedAmount, &d.Status, &d.Resolution, &d.ResolvedAmount, &d.AdminUID,
		&d.AdminNotes, &d.SubmittedAt, &reviewedAt, &resolvedAt); err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		d.ReviewedAt = &reviewedAt.Time
	}
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return &d, nil
}
