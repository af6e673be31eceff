package models

import "time"

// Статусы подписки. Из cancelled и expired переходов нет.
const (
	SubscriptionTrial     = "trial"
	SubscriptionActive    = "active"
	SubscriptionPaused    = "paused"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// Subscription связывает аккаунт с тарифным пакетом.
// Инвариант: не более одной незакрытой подписки на аккаунт
// (обеспечивается частичным уникальным индексом в хранилище).
type Subscription struct {
	ID                      int        `json:"id"`
	UserUID                 string     `json:"user_uid"`
	PackageID               int        `json:"package_id"`
	Status                  string     `json:"status"`
	StartDate               time.Time  `json:"start_date"`
	NextBillingDate         time.Time  `json:"next_billing_date"`
	EndDate                 *time.Time `json:"end_date,omitempty"`
	MonthlyCreditLimit      int        `json:"monthly_credit_limit"`
	CreditsGrantedThisCycle int        `json:"credits_granted_this_cycle"`
	RolloverCredits         int        `json:"rollover_credits"` // Перенос с прошлых циклов
	PaymentSubscriptionRef  *string    `json:"payment_subscription_ref,omitempty"`
	PauseReason             string     `json:"pause_reason,omitempty"`
	AdminNotes              string     `json:"admin_notes,omitempty"`
}

// SubscriptionSummary — краткая сводка подписки для ответов о балансе.
type SubscriptionSummary struct {
	ID              int       `json:"id"`
	PackageID       int       `json:"package_id"`
	PackageName     string    `json:"package_name"`
	Status          string    `json:"status"`
	MonthlyCredits  int       `json:"monthly_credits"`
	RolloverCredits int       `json:"rollover_credits"`
	NextBillingDate time.Time `json:"next_billing_date"`
}

// DummySubscribeRequest используется для приёма запроса на оформление подписки.
type DummySubscribeRequest struct {
	PackageID  int    `json:"package_id" validate:"required,gt=0"`
	PaymentRef string `json:"payment_ref,omitempty" validate:"omitempty"` // Референс платёжной подписки провайдера
}

// DummyPauseRequest — запрос на приостановку подписки.
type DummyPauseRequest struct {
	Reason string `json:"reason" validate:"required"`
}
