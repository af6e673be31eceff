// Package balance реализует движок баланса — единственный компонент,
// которому разрешено изменять балансы. Каждое зачисление и списание
// проходит через него: он добавляет запись леджера и обновляет
// материализованный баланс одной атомарной операцией хранилища.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/credit-ledger/internal/lib/sl"
	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// LedgerRepository определяет методы хранилища, нужные движку баланса.
type LedgerRepository interface {
	// ApplyEntry атомарно добавляет запись леджера и обновляет баланс.
	ApplyEntry(ctx context.Context, entry *models.Transaction, opts models.ApplyOptions) (int, error)
	// ApplyBillingCycle атомарно применяет биллинговый цикл подписки.
	ApplyBillingCycle(ctx context.Context, params models.CycleParams) (*models.CycleResult, error)
	// GetAccount возвращает кредитный аккаунт.
	GetAccount(ctx context.Context, userUID string) (*models.CreditAccount, error)
	// GetSubscriptionSummary возвращает сводку незакрытой подписки, nil если её нет.
	GetSubscriptionSummary(ctx context.Context, userUID string) (*models.SubscriptionSummary, error)
	// GetPackage возвращает тарифный пакет.
	GetPackage(ctx context.Context, id int) (*models.Package, error)
	// ListEntries возвращает страницу транзакций и общее количество.
	ListEntries(ctx context.Context, userUID string, limit, offset int, filter models.EntryFilter) ([]*models.Transaction, int, error)
	// SumEntries считает сумму всех записей аккаунта.
	SumEntries(ctx context.Context, userUID string) (int, error)
	// MonthlyTotals возвращает зачисления и списания с момента since.
	MonthlyTotals(ctx context.Context, userUID string, since time.Time) (added, spent, total int, err error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Engine — движок баланса. Политика овердрафта задаётся конфигурацией:
// allowNegativeAdmin разрешает админским списаниям уводить баланс в минус.
type Engine struct {
	repo               LedgerRepository
	cache              Cache
	log                *slog.Logger
	allowNegativeAdmin bool
	defaultCreditRate  int
}

// New создает новый экземпляр движка баланса.
func New(repo LedgerRepository, cache Cache, log *slog.Logger, allowNegativeAdmin bool, defaultCreditRate int) *Engine {
	return &Engine{
		repo:               repo,
		cache:              cache,
		log:                log,
		allowNegativeAdmin: allowNegativeAdmin,
		defaultCreditRate:  defaultCreditRate,
	}
}

// Debit списывает amount кредитов с аккаунта. Сумма строго положительная;
// в леджер попадает отрицательная запись. Сервисные списания требуют
// активного аккаунта; админские могут уйти в минус, если это разрешено
// конфигурацией.
func (e *Engine) Debit(ctx context.Context, userUID string, amount int, kind, description string, refs models.EntryRefs) (*models.Transaction, int, error) {
	if amount <= 0 {
		return nil, 0, models.ErrInvalidAmount
	}
	entry := e.newEntry(userUID, -amount, kind, description, refs)
	opts := models.ApplyOptions{
		EnforceActive: kind == models.KindService,
		AllowNegative: kind == models.KindAdmin && e.allowNegativeAdmin,
	}
	newBalance, err := e.repo.ApplyEntry(ctx, entry, opts)
	if err != nil {
		return nil, 0, err
	}
	e.log.Info("debit applied", sl.UID(userUID),
		slog.String("kind", kind), slog.Int("amount", amount), slog.Int("balance", newBalance))
	e.invalidate(userUID)
	return entry, newBalance, nil
}

// Credit зачисляет amount кредитов на аккаунт. Идемпотентность по внешнему
// платёжному референсу обеспечивает хранилище: повторное зачисление того же
// референса возвращает ErrDuplicatePayment.
func (e *Engine) Credit(ctx context.Context, userUID string, amount int, kind, description string, refs models.EntryRefs) (*models.Transaction, int, error) {
	if amount <= 0 {
		return nil, 0, models.ErrInvalidAmount
	}
	entry := e.newEntry(userUID, amount, kind, description, refs)
	newBalance, err := e.repo.ApplyEntry(ctx, entry, models.ApplyOptions{})
	if err != nil {
		return nil, 0, err
	}
	e.log.Info("credit applied", sl.UID(userUID),
		slog.String("kind", kind), slog.Int("amount", amount), slog.Int("balance", newBalance))
	e.invalidate(userUID)
	return entry, newBalance, nil
}

// ApplyCycle применяет биллинговый цикл подписки. Записи цикла строит
// движок, чтобы весь формат леджера оставался в одних руках.
func (e *Engine) ApplyCycle(ctx context.Context, sub *models.Subscription, pkg *models.Package, periodStart, nextBillingDate time.Time, rolloverCeiling int) (*models.CycleResult, error) {
	subID := sub.ID
	grant := e.newEntry(sub.UserUID, sub.MonthlyCreditLimit, models.KindSubscription,
		fmt.Sprintf("monthly credits: %s", pkg.Name), models.EntryRefs{SubscriptionID: &subID})
	expire := e.newEntry(sub.UserUID, 0, models.KindSubscription,
		"expired unused credits", models.EntryRefs{SubscriptionID: &subID})

	result, err := e.repo.ApplyBillingCycle(ctx, models.CycleParams{
		Subscription:    sub,
		PeriodStart:     periodStart,
		NextBillingDate: nextBillingDate,
		NewStatus:       models.SubscriptionActive,
		RolloverEnabled: pkg.RolloverEnabled,
		RolloverCeiling: rolloverCeiling,
		GrantEntry:      grant,
		ExpireEntry:     expire,
	})
	if err != nil {
		return nil, err
	}
	e.invalidate(sub.UserUID)
	return result, nil
}

// GetBalance возвращает баланс, статус и сводку подписки аккаунта.
func (e *Engine) GetBalance(ctx context.Context, userUID string) (*models.BalanceInfo, error) {
	var cached models.BalanceInfo
	cacheKey := balanceKey(userUID)
	found, err := e.cache.Get(cacheKey, &cached)
	if err != nil {
		e.log.Warn("cache lookup failed", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	acc, err := e.repo.GetAccount(ctx, userUID)
	if err != nil {
		return nil, err
	}
	sub, err := e.repo.GetSubscriptionSummary(ctx, userUID)
	if err != nil {
		return nil, err
	}
	info := &models.BalanceInfo{
		UserUID:         acc.UserUID,
		Balance:         acc.Balance,
		Status:          acc.Status,
		Subscription:    sub,
		NextBillingDate: acc.NextBillingDate,
	}
	if err := e.cache.Set(cacheKey, info, 5*time.Minute); err != nil {
		e.log.Warn("failed to cache balance", slog.String("key", cacheKey), sl.Err(err))
	}
	return info, nil
}

// GetSummary возвращает месячную сводку по счёту: зачислено, потрачено,
// оценка месячных расходов по текущей ставке кредита.
func (e *Engine) GetSummary(ctx context.Context, userUID string, now time.Time) (*models.SummaryInfo, error) {
	acc, err := e.repo.GetAccount(ctx, userUID)
	if err != nil {
		return nil, err
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	added, spent, total, err := e.repo.MonthlyTotals(ctx, userUID, monthStart)
	if err != nil {
		return nil, err
	}
	sub, err := e.repo.GetSubscriptionSummary(ctx, userUID)
	if err != nil {
		return nil, err
	}

	rate := e.defaultCreditRate
	if sub != nil {
		pkg, err := e.repo.GetPackage(ctx, sub.PackageID)
		if err != nil {
			return nil, err
		}
		rate = pkg.CreditRate
	}

	return &models.SummaryInfo{
		Balance:              acc.Balance,
		Status:               acc.Status,
		MonthlyAdded:         added,
		MonthlySpent:         spent,
		MonthlyNet:           added - spent,
		Subscription:         sub,
		TotalTransactions:    total,
		CreditRate:           rate,
		EstimatedMonthlyCost: spent * rate,
	}, nil
}

// ListTransactions возвращает страницу истории транзакций аккаунта.
func (e *Engine) ListTransactions(ctx context.Context, userUID string, page, pageSize int, filter models.EntryFilter) ([]*models.Transaction, int, error) {
	offset := (page - 1) * pageSize
	return e.repo.ListEntries(ctx, userUID, pageSize, offset, filter)
}

// Reconcile сверяет материализованный баланс с суммой леджера.
// Расхождение — признак повреждения данных, а не ошибка операции.
func (e *Engine) Reconcile(ctx context.Context, userUID string) (bool, error) {
	acc, err := e.repo.GetAccount(ctx, userUID)
	if err != nil {
		return false, err
	}
	sum, err := e.repo.SumEntries(ctx, userUID)
	if err != nil {
		return false, err
	}
	if sum != acc.Balance {
		e.log.Error("balance mismatch", sl.UID(userUID),
			slog.Int("materialized", acc.Balance), slog.Int("ledger_sum", sum))
		return false, nil
	}
	return true, nil
}

func (e *Engine) newEntry(userUID string, amount int, kind, description string, refs models.EntryRefs) *models.Transaction {
	return &models.Transaction{
		ID:                 uuid.New().String(),
		UserUID:            userUID,
		Amount:             amount,
		Kind:               kind,
		Description:        description,
		JobID:              refs.JobID,
		SubscriptionID:     refs.SubscriptionID,
		AmountUSD:          refs.AmountUSD,
		ExternalPaymentRef: refs.ExternalPaymentRef,
		Metadata:           refs.Metadata,
		CreatedAt:          time.Now().UTC(),
	}
}

// InvalidateBalance сбрасывает кэш баланса аккаунта. Вызывается сервисами
// после мутаций статуса, которые не проходят через леджер.
func (e *Engine) InvalidateBalance(userUID string) {
	e.invalidate(userUID)
}

func (e *Engine) invalidate(userUID string) {
	cacheKey := balanceKey(userUID)
	if err := e.cache.Invalidate(cacheKey); err != nil {
		e.log.Warn("failed to invalidate cache", slog.String("key", cacheKey), sl.Err(err))
	}
}

func balanceKey(userUID string) string {
	return fmt.Sprintf("balance:%s", userUID)
}
