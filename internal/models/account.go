package models

import "time"

// Статусы кредитного аккаунта.
const (
	AccountActive    = "active"
	AccountPaused    = "paused"
	AccountSuspended = "suspended"
)

// CreditAccount представляет кредитный счёт пользователя.
// Поле Balance — материализованный кеш суммы всех записей леджера:
// оно никогда не редактируется напрямую и всегда восстановимо
// повторным проигрыванием транзакций.
type CreditAccount struct {
	UserUID         string     // Уникальный идентификатор пользователя
	Balance         int        // Текущий баланс в кредитах (целое, без дробей)
	Status          string     // active, paused или suspended
	SubscriptionID  *int       // ID действующей подписки, nil если её нет
	NextBillingDate *time.Time // Дата следующего списания по подписке
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BalanceInfo — ответ на запрос баланса.
type BalanceInfo struct {
	UserUID         string               `json:"user_uid"`
	Balance         int                  `json:"balance"`
	Status          string               `json:"status"`
	Subscription    *SubscriptionSummary `json:"subscription,omitempty"`
	NextBillingDate *time.Time           `json:"next_billing_date,omitempty"`
}

// SummaryInfo — агрегированная сводка по счёту за текущий месяц.
type SummaryInfo struct {
	Balance              int                  `json:"balance"`
	Status               string               `json:"status"`
	MonthlyAdded         int                  `json:"monthly_added"`
	MonthlySpent         int                  `json:"monthly_spent"`
	MonthlyNet           int                  `json:"monthly_net"`
	Subscription         *SubscriptionSummary `json:"subscription,omitempty"`
	TotalTransactions    int                  `json:"total_transactions"`
	CreditRate           int                  `json:"credit_rate"`
	EstimatedMonthlyCost int                  `json:"estimated_monthly_cost"`
}
