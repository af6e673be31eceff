// Package billing управляет жизненным циклом подписок: оформление,
// ежемесячные начисления кредитов, пауза, возобновление и отмена.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/credit-ledger/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// SubscriptionRepository определяет методы хранилища для сервиса подписок.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub models.Subscription) (int, error)
	GetOpenSubscription(ctx context.Context, userUID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id int, expectedStatus []string, newStatus, pauseReason string, endDate *time.Time) (int, error)
	FindDueSubscriptions(ctx context.Context, now time.Time) ([]*models.Subscription, error)
	GetPackage(ctx context.Context, id int) (*models.Package, error)
	CreateAccount(ctx context.Context, userUID string) error
	SetAccountSubscription(ctx context.Context, userUID string, subscriptionID *int, nextBillingDate *time.Time) error
}

// CreditEngine — операции движка баланса, через которые проходят все
// начисления. Биллер сам балансы не трогает.
type CreditEngine interface {
	Credit(ctx context.Context, userUID string, amount int, kind, description string, refs models.EntryRefs) (*models.Transaction, int, error)
	ApplyCycle(ctx context.Context, sub *models.Subscription, pkg *models.Package, periodStart, nextBillingDate time.Time, rolloverCeiling int) (*models.CycleResult, error)
	InvalidateBalance(userUID string)
}

// Service — сервис подписочного биллинга.
type Service struct {
	repo            SubscriptionRepository
	engine          CreditEngine
	log             *slog.Logger
	rolloverCeiling int
}

// New создает новый экземпляр биллингового сервиса.
func New(repo SubscriptionRepository, engine CreditEngine, log *slog.Logger, rolloverCeiling int) *Service {
	return &Service{
		repo:            repo,
		engine:          engine,
		log:             log,
		rolloverCeiling: rolloverCeiling,
	}
}

// grantEvent публикуется в очередь после каждого начисления цикла.
type grantEvent struct {
	UserUID        string    `json:"user_uid"`
	SubscriptionID int       `json:"subscription_id"`
	Amount         int       `json:"amount"`
	NewBalance     int       `json:"new_balance"`
	PeriodStart    time.Time `json:"period_start"`
}

// Subscribe оформляет подписку на пакет и сразу начисляет месячные кредиты.
// Без платёжного референса подписка стартует в статусе trial и становится
// активной после первого успешного биллингового цикла.
func (s *Service) Subscribe(ctx context.Context, userUID string, req models.DummySubscribeRequest) (*models.Subscription, error) {
	pkg, err := s.repo.GetPackage(ctx, req.PackageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, fmt.Errorf("package %q is not available", pkg.Name)
	}

	if err := s.repo.CreateAccount(ctx, userUID); err != nil {
		return nil, err
	}

	status := models.SubscriptionTrial
	var paymentRef *string
	if req.PaymentRef != "" {
		status = models.SubscriptionActive
		paymentRef = &req.PaymentRef
	}

	now := time.Now().UTC()
	sub := models.Subscription{
		UserUID:                 userUID,
		PackageID:               pkg.ID,
		Status:                  status,
		StartDate:               now,
		NextBillingDate:         now.AddDate(0, 1, 0),
		MonthlyCreditLimit:      pkg.MonthlyCredits,
		CreditsGrantedThisCycle: pkg.MonthlyCredits,
		PaymentSubscriptionRef:  paymentRef,
	}
	newID, err := s.repo.CreateSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}
	sub.ID = newID

	_, _, err = s.engine.Credit(ctx, userUID, pkg.MonthlyCredits, models.KindSubscription,
		fmt.Sprintf("monthly credits: %s", pkg.Name), models.EntryRefs{SubscriptionID: &newID})
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetAccountSubscription(ctx, userUID, &newID, &sub.NextBillingDate); err != nil {
		return nil, err
	}
	s.engine.InvalidateBalance(userUID)

	s.log.Info("subscription created", sl.UID(userUID),
		slog.Int("subscription_id", newID), slog.String("package", pkg.Name),
		slog.String("status", status))
	return &sub, nil
}

// RunBillingCycle обходит все подписки с наступившей датой списания и
// применяет биллинговый цикл каждой. Ошибка по одной подписке не
// останавливает прогон: начисление повторится на следующем тике.
// Возвращает количество успешно начисленных подписок.
func (s *Service) RunBillingCycle(ctx context.Context, now time.Time, channel *amqp.Channel) (int, error) {
	due, err := s.repo.FindDueSubscriptions(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		s.log.Info("no subscriptions due for billing")
		return 0, nil
	}
	s.log.Info("found subscriptions due for billing", slog.Int("count", len(due)))

	billed := 0
	for _, sub := range due {
		pkg, err := s.repo.GetPackage(ctx, sub.PackageID)
		if err != nil {
			s.log.Error("failed to load package", slog.Int("subscription_id", sub.ID), sl.Err(err))
			continue
		}
		periodStart := sub.NextBillingDate
		result, err := s.engine.ApplyCycle(ctx, sub, pkg, periodStart,
			periodStart.AddDate(0, 1, 0), s.rolloverCeiling)
		if errors.Is(err, models.ErrCycleAlreadyBilled) {
			s.log.Info("cycle already billed, skipping", slog.Int("subscription_id", sub.ID))
			continue
		}
		if err != nil {
			s.log.Error("failed to apply billing cycle", slog.Int("subscription_id", sub.ID), sl.Err(err))
			continue
		}
		billed++
		s.log.Info("billing cycle applied", sl.UID(sub.UserUID),
			slog.Int("subscription_id", sub.ID),
			slog.Int("granted", sub.MonthlyCreditLimit),
			slog.Int("expired", result.Expired),
			slog.Int("rollover", result.RolloverCredits))

		if channel == nil {
			continue
		}
		event := grantEvent{
			UserUID:        sub.UserUID,
			SubscriptionID: sub.ID,
			Amount:         sub.MonthlyCreditLimit,
			NewBalance:     result.NewBalance,
			PeriodStart:    periodStart,
		}
		if err := rabbitmq.PublishMessage(channel, rabbitmq.Exchange, rabbitmq.RoutingGranted, event); err != nil {
			s.log.Error("failed to publish grant event", sl.Err(err))
		}
	}
	return billed, nil
}

// Pause приостанавливает активную подписку. Начисления прекращаются,
// баланс не затрагивается.
func (s *Service) Pause(ctx context.Context, userUID, reason string) (*models.Subscription, error) {
	return s.transition(ctx, userUID,
		[]string{models.SubscriptionActive}, models.SubscriptionPaused, reason, nil)
}

// Resume возобновляет приостановленную подписку.
func (s *Service) Resume(ctx context.Context, userUID string) (*models.Subscription, error) {
	return s.transition(ctx, userUID,
		[]string{models.SubscriptionPaused}, models.SubscriptionActive, "", nil)
}

// Cancel отменяет подписку и отвязывает её от аккаунта. Уже начисленные
// кредиты остаются на балансе.
func (s *Service) Cancel(ctx context.Context, userUID string) (*models.Subscription, error) {
	now := time.Now().UTC()
	sub, err := s.transition(ctx, userUID,
		[]string{models.SubscriptionTrial, models.SubscriptionActive, models.SubscriptionPaused},
		models.SubscriptionCancelled, "", &now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetAccountSubscription(ctx, userUID, nil, nil); err != nil {
		return nil, err
	}
	s.engine.InvalidateBalance(userUID)
	return sub, nil
}

// transition выполняет переход подписки между статусами. Хранилище
// сравнивает текущий статус со списком ожидаемых, так что конкурентный
// переход даёт ноль изменённых строк и ErrInvalidTransition.
func (s *Service) transition(ctx context.Context, userUID string, expected []string, newStatus, reason string, endDate *time.Time) (*models.Subscription, error) {
	sub, err := s.repo.GetOpenSubscription(ctx, userUID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, st := range expected {
		if sub.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, sub.Status, newStatus)
	}

	rows, err := s.repo.UpdateSubscriptionStatus(ctx, sub.ID, expected, newStatus, reason, endDate)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, sub.Status, newStatus)
	}

	sub.Status = newStatus
	sub.PauseReason = reason
	if endDate != nil {
		sub.EndDate = endDate
	}
	// Сводка подписки входит в кэшированный баланс.
	s.engine.InvalidateBalance(userUID)
	s.log.Info("subscription status changed", sl.UID(userUID),
		slog.Int("subscription_id", sub.ID), slog.String("status", newStatus))
	return sub, nil
}
