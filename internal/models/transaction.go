package models

import "time"

// Виды транзакций леджера.
const (
	KindService      = "service"
	KindSubscription = "subscription"
	KindAdmin        = "admin"
	KindDispute      = "dispute"
	KindPurchase     = "purchase"
)

// Transaction — неизменяемая запись леджера. Положительная сумма — зачисление,
// отрицательная — списание. Записи никогда не изменяются и не удаляются:
// исправления оформляются новыми компенсирующими записями.
//
// Семантические ссылки вынесены в типизированные поля (JobID, SubscriptionID,
// ExternalPaymentRef, AmountUSD); Metadata — небольшой непрозрачный словарь
// только для аудиторских пометок, инварианты движка от него не зависят.
type Transaction struct {
	ID                 string            `json:"id"`          // Глобально уникальный идентификатор (uuid)
	UserUID            string            `json:"user_uid"`    // Аккаунт, к которому относится запись
	Amount             int               `json:"amount"`      // Сумма в кредитах, со знаком
	Kind               string            `json:"kind"`        // service, subscription, admin, dispute, purchase
	Description        string            `json:"description"` // Человекочитаемое описание
	JobID              *string           `json:"job_id,omitempty"`
	SubscriptionID     *int              `json:"subscription_id,omitempty"`
	AmountUSD          *int              `json:"amount_usd,omitempty"` // Долларовый эквивалент в центах
	ExternalPaymentRef *string           `json:"external_payment_ref,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// EntryRefs группирует необязательные ссылки транзакции,
// чтобы не тянуть длинные списки аргументов через движок баланса.
type EntryRefs struct {
	JobID              *string
	SubscriptionID     *int
	AmountUSD          *int
	ExternalPaymentRef *string
	Metadata           map[string]string
}

// EntryFilter задаёт фильтры выборки транзакций по аккаунту.
type EntryFilter struct {
	Kind *string    // Вид транзакции, nil — без фильтра
	From *time.Time // Начало периода включительно
	To   *time.Time // Конец периода включительно
}

// CycleKey — ключ идемпотентности биллингового цикла.
// Повторное начисление по той же паре (подписка, начало периода) — no-op.
type CycleKey struct {
	SubscriptionID int
	PeriodStart    time.Time
}
