// Package admin реализует привилегированные операции над кредитными
// аккаунтами. Все изменения балансов проходят через движок баланса и
// остаются в леджере; причина операции фиксируется в метаданных записи.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// AccountRepository определяет методы хранилища для админских операций.
type AccountRepository interface {
	GetAccount(ctx context.Context, userUID string) (*models.CreditAccount, error)
	UpdateAccountStatus(ctx context.Context, userUID, status string) (int, error)
}

// CreditEngine — операции движка баланса от имени администратора.
type CreditEngine interface {
	Credit(ctx context.Context, userUID string, amount int, kind, description string, refs models.EntryRefs) (*models.Transaction, int, error)
	Debit(ctx context.Context, userUID string, amount int, kind, description string, refs models.EntryRefs) (*models.Transaction, int, error)
	InvalidateBalance(userUID string)
}

// Service — сервис админских операций.
type Service struct {
	repo   AccountRepository
	engine CreditEngine
	log    *slog.Logger
}

// New создает новый экземпляр админского сервиса.
func New(repo AccountRepository, engine CreditEngine, log *slog.Logger) *Service {
	return &Service{repo: repo, engine: engine, log: log}
}

// AddCredits зачисляет кредиты на аккаунт по решению администратора.
func (s *Service) AddCredits(ctx context.Context, adminUID string, req models.DummyAdminCreditsRequest) (*models.AdminOpResult, error) {
	entry, newBalance, err := s.engine.Credit(ctx, req.UserUID, req.Amount, models.KindAdmin,
		fmt.Sprintf("admin credit: %s", req.Reason), adminRefs(adminUID, req.Reason, req.Notes))
	if err != nil {
		return nil, err
	}
	s.log.Info("admin credits added", sl.UID(req.UserUID),
		slog.String("admin_uid", adminUID), slog.Int("amount", req.Amount))
	return &models.AdminOpResult{
		Success:     true,
		Message:     fmt.Sprintf("added %d credits", req.Amount),
		Transaction: entry,
		NewBalance:  &newBalance,
	}, nil
}

// RemoveCredits снимает кредиты с аккаунта. Может увести баланс в минус,
// если овердрафт для админских списаний разрешён конфигурацией движка.
func (s *Service) RemoveCredits(ctx context.Context, adminUID string, req models.DummyAdminCreditsRequest) (*models.AdminOpResult, error) {
	entry, newBalance, err := s.engine.Debit(ctx, req.UserUID, req.Amount, models.KindAdmin,
		fmt.Sprintf("admin debit: %s", req.Reason), adminRefs(adminUID, req.Reason, req.Notes))
	if err != nil {
		return nil, err
	}
	s.log.Info("admin credits removed", sl.UID(req.UserUID),
		slog.String("admin_uid", adminUID), slog.Int("amount", req.Amount))
	return &models.AdminOpResult{
		Success:     true,
		Message:     fmt.Sprintf("removed %d credits", req.Amount),
		Transaction: entry,
		NewBalance:  &newBalance,
	}, nil
}

// PauseCreditService приостанавливает кредитное обслуживание аккаунта:
// сервисные списания блокируются до возобновления, баланс сохраняется.
func (s *Service) PauseCreditService(ctx context.Context, adminUID string, req models.DummyAdminServiceRequest) (*models.AdminOpResult, error) {
	return s.setStatus(ctx, adminUID, req, models.AccountPaused, "credit service paused")
}

// ResumeCreditService возобновляет кредитное обслуживание аккаунта.
func (s *Service) ResumeCreditService(ctx context.Context, adminUID string, req models.DummyAdminServiceRequest) (*models.AdminOpResult, error) {
	return s.setStatus(ctx, adminUID, req, models.AccountActive, "credit service resumed")
}

func (s *Service) setStatus(ctx context.Context, adminUID string, req models.DummyAdminServiceRequest, status, message string) (*models.AdminOpResult, error) {
	rows, err := s.repo.UpdateAccountStatus(ctx, req.UserUID, status)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, models.ErrAccountNotFound
	}
	// GetBalance кэширует статус аккаунта, без сброса он останется старым.
	s.engine.InvalidateBalance(req.UserUID)
	s.log.Info(message, sl.UID(req.UserUID),
		slog.String("admin_uid", adminUID), slog.String("reason", req.Reason))
	return &models.AdminOpResult{Success: true, Message: message}, nil
}

func adminRefs(adminUID, reason, notes string) models.EntryRefs {
	metadata := map[string]string{
		"admin_uid": adminUID,
		"reason":    reason,
	}
	if notes != "" {
		metadata["notes"] = notes
	}
	return models.EntryRefs{Metadata: metadata}
}
