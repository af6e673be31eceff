// Package dispute реализует машину состояний диспутов: подача, взятие
// в работу, резолюция с компенсирующей записью леджера, апелляция.
package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/credit-ledger/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// DisputeRepository определяет методы хранилища для резолвера диспутов.
type DisputeRepository interface {
	CreateDispute(ctx context.Context, d models.Dispute) (int, error)
	GetDispute(ctx context.Context, id int) (*models.Dispute, error)
	UpdateDisputeReview(ctx context.Context, id int, adminUID, newStatus, notes string, expectedStatus []string) (int, error)
	ResolveDispute(ctx context.Context, id int, adminUID, resolution string, resolvedAmount *int, notes, finalStatus string, refundEntry *models.Transaction) (*models.Dispute, int, error)
	GetEntry(ctx context.Context, id string) (*models.Transaction, error)
}

// BalanceInvalidator сбрасывает кэш баланса аккаунта после возврата.
type BalanceInvalidator interface {
	InvalidateBalance(userUID string)
}

// Service — резолвер диспутов.
type Service struct {
	repo        DisputeRepository
	log         *slog.Logger
	channel     *amqp.Channel
	invalidator BalanceInvalidator
}

// New создает новый экземпляр сервиса диспутов.
func New(repo DisputeRepository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// WithChannel включает публикацию событий о возвратах в очередь.
func (s *Service) WithChannel(channel *amqp.Channel) *Service {
	s.channel = channel
	return s
}

// WithBalanceInvalidator включает сброс кэша баланса после возвратов.
// Компенсирующая запись применяется хранилищем мимо движка баланса,
// поэтому кэш сбрасывается отсюда.
func (s *Service) WithBalanceInvalidator(inv BalanceInvalidator) *Service {
	s.invalidator = inv
	return s
}

// refundEvent публикуется в очередь после резолюции с возвратом кредитов.
type refundEvent struct {
	UserUID   string `json:"user_uid"`
	DisputeID int    `json:"dispute_id"`
	Amount    int    `json:"amount"`
	Balance   int    `json:"balance"`
}

// Submit регистрирует диспут пользователя в статусе pending.
// Транзакция необязательна: часть диспутов касается отсутствующих
// списаний. Указанная транзакция должна принадлежать заявителю.
func (s *Service) Submit(ctx context.Context, userUID string, req models.DummyDisputeRequest) (*models.Dispute, error) {
	d := models.Dispute{
		UserUID:     userUID,
		Reason:      req.Reason,
		Description: req.Description,
		Status:      models.DisputePending,
		SubmittedAt: time.Now().UTC(),
	}
	if req.TransactionID != "" {
		entry, err := s.repo.GetEntry(ctx, req.TransactionID)
		if err != nil {
			return nil, err
		}
		if entry.UserUID != userUID {
			return nil, fmt.Errorf("transaction %s does not belong to the account", req.TransactionID)
		}
		d.TransactionID = &req.TransactionID
	}
	if req.RequestedAmount > 0 {
		d.RequestedAmount = &req.RequestedAmount
	}

	newID, err := s.repo.CreateDispute(ctx, d)
	if err != nil {
		return nil, err
	}
	d.ID = newID

	s.log.Info("dispute submitted", sl.UID(userUID),
		slog.Int("dispute_id", newID), slog.String("reason", req.Reason))
	return &d, nil
}

// Review берёт диспут в работу либо сразу отклоняет его.
// Допустимые исходные статусы: pending и appealed.
func (s *Service) Review(ctx context.Context, id int, adminUID string, req models.DummyReviewRequest) (*models.Dispute, error) {
	rows, err := s.repo.UpdateDisputeReview(ctx, id, adminUID, req.Status, req.Notes,
		[]string{models.DisputePending, models.DisputeAppealed})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: dispute %d is not reviewable", models.ErrInvalidTransition, id)
	}

	s.log.Info("dispute reviewed", slog.Int("dispute_id", id),
		slog.String("admin_uid", adminUID), slog.String("status", req.Status))
	return s.repo.GetDispute(ctx, id)
}

// Resolve применяет резолюцию диспута. Полный и частичный возврат создают
// ровно одну компенсирующую запись леджера вида dispute; explanation и
// rejected леджер не трогают. Повторная резолюция даёт ErrAlreadyResolved.
func (s *Service) Resolve(ctx context.Context, id int, adminUID string, req models.DummyResolveRequest) (*models.Dispute, int, error) {
	d, err := s.repo.GetDispute(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	refundAmount, err := s.refundAmount(ctx, d, req)
	if err != nil {
		return nil, 0, err
	}

	finalStatus := models.DisputeResolved
	if req.Resolution == models.ResolutionRejected {
		finalStatus = models.DisputeRejected
	}

	var resolvedAmount *int
	var refundEntry *models.Transaction
	if refundAmount > 0 {
		resolvedAmount = &refundAmount
		disputeID := fmt.Sprintf("%d", id)
		refundEntry = &models.Transaction{
			ID:          uuid.New().String(),
			UserUID:     d.UserUID,
			Amount:      refundAmount,
			Kind:        models.KindDispute,
			Description: fmt.Sprintf("dispute refund: %s", d.Reason),
			Metadata:    map[string]string{"dispute_id": disputeID},
			CreatedAt:   time.Now().UTC(),
		}
		if d.TransactionID != nil {
			refundEntry.Metadata["disputed_transaction"] = *d.TransactionID
		}
	}

	resolved, newBalance, err := s.repo.ResolveDispute(ctx, id, adminUID, req.Resolution,
		resolvedAmount, req.Notes, finalStatus, refundEntry)
	if err != nil {
		return nil, 0, err
	}

	if refundAmount > 0 && s.invalidator != nil {
		s.invalidator.InvalidateBalance(d.UserUID)
	}

	s.log.Info("dispute resolved", sl.UID(d.UserUID), slog.Int("dispute_id", id),
		slog.String("resolution", req.Resolution), slog.Int("refunded", refundAmount))

	if s.channel != nil && refundAmount > 0 {
		event := refundEvent{UserUID: d.UserUID, DisputeID: id, Amount: refundAmount, Balance: newBalance}
		if err := rabbitmq.PublishMessage(s.channel, rabbitmq.Exchange, rabbitmq.RoutingRefunded, event); err != nil {
			s.log.Error("failed to publish refund event", sl.Err(err))
		}
	}
	return resolved, newBalance, nil
}

// Appeal возвращает отклонённый диспут на повторное рассмотрение.
// Леджер при этом не затрагивается.
func (s *Service) Appeal(ctx context.Context, userUID string, id int) (*models.Dispute, error) {
	d, err := s.repo.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserUID != userUID {
		return nil, fmt.Errorf("dispute %d does not belong to the account", id)
	}

	adminUID := ""
	if d.AdminUID != nil {
		adminUID = *d.AdminUID
	}
	rows, err := s.repo.UpdateDisputeReview(ctx, id, adminUID, models.DisputeAppealed,
		d.AdminNotes, []string{models.DisputeRejected})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: only rejected disputes can be appealed", models.ErrInvalidTransition)
	}

	s.log.Info("dispute appealed", sl.UID(userUID), slog.Int("dispute_id", id))
	return s.repo.GetDispute(ctx, id)
}

// refundAmount вычисляет сумму возврата для выбранной резолюции.
// Полный возврат берёт величину оспоренного списания, а без привязанной
// транзакции — запрошенную пользователем сумму.
func (s *Service) refundAmount(ctx context.Context, d *models.Dispute, req models.DummyResolveRequest) (int, error) {
	switch req.Resolution {
	case models.ResolutionFullRefund:
		if d.TransactionID != nil {
			entry, err := s.repo.GetEntry(ctx, *d.TransactionID)
			if err != nil {
				return 0, err
			}
			if entry.Amount < 0 {
				return -entry.Amount, nil
			}
			return 0, fmt.Errorf("transaction %s is not a debit", *d.TransactionID)
		}
		if d.RequestedAmount != nil && *d.RequestedAmount > 0 {
			return *d.RequestedAmount, nil
		}
		return 0, fmt.Errorf("%w: full refund requires a disputed transaction or requested amount", models.ErrInvalidAmount)
	case models.ResolutionPartialRefund:
		if req.ResolvedAmount <= 0 {
			return 0, fmt.Errorf("%w: partial refund requires a positive resolved amount", models.ErrInvalidAmount)
		}
		return req.ResolvedAmount, nil
	default:
		return 0, nil
	}
}
