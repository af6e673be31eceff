// Package purchase отвечает за разовые покупки кредитов: предварительную
// проверку, создание платежа во внешнем шлюзе и зачисление по подтверждению.
package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
	"github.com/magabrotheeeer/credit-ledger/internal/paymentprovider"
)

// AccountRepository определяет методы хранилища для валидатора покупок.
type AccountRepository interface {
	GetAccount(ctx context.Context, userUID string) (*models.CreditAccount, error)
	GetSubscriptionSummary(ctx context.Context, userUID string) (*models.SubscriptionSummary, error)
	GetPackage(ctx context.Context, id int) (*models.Package, error)
	GetPromotionByCode(ctx context.Context, code string) (*models.Promotion, bool, error)
	ListPackages(ctx context.Context) ([]*models.Package, error)
}

// CreditEngine — зачисление кредитов через движок баланса.
type CreditEngine interface {
	Credit(ctx context.Context, userUID string, amount int, kind, description string, refs models.EntryRefs) (*models.Transaction, int, error)
}

// ProviderClient — клиент внешнего платёжного шлюза.
type ProviderClient interface {
	CreatePayment(reqParams paymentprovider.CreatePaymentRequest) (*paymentprovider.CreatePaymentResponse, error)
}

// Service — валидатор и процессор покупок кредитов.
type Service struct {
	repo              AccountRepository
	engine            CreditEngine
	provider          ProviderClient
	log               *slog.Logger
	defaultCreditRate int
}

// New создает новый экземпляр сервиса покупок.
func New(repo AccountRepository, engine CreditEngine, provider ProviderClient, log *slog.Logger, defaultCreditRate int) *Service {
	return &Service{
		repo:              repo,
		engine:            engine,
		provider:          provider,
		log:               log,
		defaultCreditRate: defaultCreditRate,
	}
}

// Validate — предварительная проверка покупки для UI. Отказ не является
// ошибкой: возвращается CanPurchase=false с причиной. Стоимость считается
// по ставке пакета текущей подписки, промокод применяется к стоимости.
func (s *Service) Validate(ctx context.Context, userUID string, req models.DummyValidateRequest) (*models.ValidateResult, error) {
	if req.Amount <= 0 {
		return &models.ValidateResult{Reason: "amount must be positive"}, nil
	}

	acc, err := s.repo.GetAccount(ctx, userUID)
	if err != nil {
		return nil, err
	}
	if acc.Status == models.AccountSuspended {
		return &models.ValidateResult{Reason: "credit service is suspended"}, nil
	}

	rate, err := s.creditRate(ctx, userUID)
	if err != nil {
		return nil, err
	}
	cost := req.Amount * rate

	if req.PromoCode != "" {
		promo, found, err := s.repo.GetPromotionByCode(ctx, req.PromoCode)
		if err != nil {
			return nil, err
		}
		if !found || !promo.Applies(time.Now().UTC()) {
			return &models.ValidateResult{Reason: "promo code is not valid"}, nil
		}
		cost = promo.Discount(cost)
	}

	return &models.ValidateResult{
		CanPurchase:   true,
		EstimatedCost: cost,
		CreditRate:    rate,
		CreditsToAdd:  req.Amount,
	}, nil
}

// Result — итог операции покупки: либо созданный платёж шлюза,
// ожидающий подтверждения вебхуком, либо сразу зачисленная транзакция,
// когда платёжный референс уже известен вызывающему.
type Result struct {
	Payment     *paymentprovider.CreatePaymentResponse `json:"payment,omitempty"`
	Transaction *models.Transaction                    `json:"transaction,omitempty"`
	NewBalance  *int                                   `json:"new_balance,omitempty"`
}

// Create проводит покупку кредитов. С платёжным референсом в запросе
// зачисление происходит сразу через Settle; без него создаётся платёж
// во внешнем шлюзе, и кредиты зачислит вебхук подтверждения.
func (s *Service) Create(ctx context.Context, userUID string, req models.DummyPurchaseRequest) (*Result, error) {
	check, err := s.Validate(ctx, userUID, models.DummyValidateRequest{Amount: req.Amount})
	if err != nil {
		return nil, err
	}
	if !check.CanPurchase {
		return nil, fmt.Errorf("purchase rejected: %s", check.Reason)
	}

	if req.PaymentRef != "" {
		entry, newBalance, err := s.Settle(ctx, userUID, req.Amount, req.Description,
			req.PaymentRef, check.EstimatedCost)
		if err != nil {
			return nil, err
		}
		return &Result{Transaction: entry, NewBalance: &newBalance}, nil
	}

	resp, err := s.provider.CreatePayment(paymentprovider.CreatePaymentRequest{
		Amount: paymentprovider.Amount{
			Value:    centsToValue(check.EstimatedCost),
			Currency: "USD",
		},
		Description: req.Description,
		Metadata: map[string]string{
			"user_uid": userUID,
			"credits":  strconv.Itoa(req.Amount),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	s.log.Info("payment created", sl.UID(userUID),
		slog.String("payment_id", resp.ID), slog.Int("credits", req.Amount))
	return &Result{Payment: resp}, nil
}

// Settle зачисляет купленные кредиты по подтверждённому платежу.
// Это граница идемпотентности при дублировании вебхука: повторное
// зачисление того же paymentRef даёт ErrDuplicatePayment.
func (s *Service) Settle(ctx context.Context, userUID string, amount int, description, paymentRef string, amountUSD int) (*models.Transaction, int, error) {
	if paymentRef == "" {
		return nil, 0, fmt.Errorf("payment reference is required: %w", models.ErrInvalidAmount)
	}
	entry, newBalance, err := s.engine.Credit(ctx, userUID, amount, models.KindPurchase, description,
		models.EntryRefs{ExternalPaymentRef: &paymentRef, AmountUSD: &amountUSD})
	if err != nil {
		return nil, 0, err
	}
	s.log.Info("purchase settled", sl.UID(userUID),
		slog.String("payment_ref", paymentRef), slog.Int("credits", amount))
	return entry, newBalance, nil
}

// ListPackages возвращает активные тарифные пакеты каталога.
func (s *Service) ListPackages(ctx context.Context) ([]*models.Package, error) {
	return s.repo.ListPackages(ctx)
}

func (s *Service) creditRate(ctx context.Context, userUID string) (int, error) {
	sub, err := s.repo.GetSubscriptionSummary(ctx, userUID)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		return s.defaultCreditRate, nil
	}
	pkg, err := s.repo.GetPackage(ctx, sub.PackageID)
	if err != nil {
		return 0, err
	}
	return pkg.CreditRate, nil
}

// centsToValue форматирует сумму в центах как строку "49.00".
func centsToValue(cents int) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
