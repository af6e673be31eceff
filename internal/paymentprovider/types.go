package paymentprovider

import "time"

// Amount представляет денежную сумму.
type Amount struct {
	Value    string `json:"value"`    // сумма, например "49.00"
	Currency string `json:"currency"` // валюта, например "USD"
}

// CreatePaymentRequest представляет запрос на создание платежа.
type CreatePaymentRequest struct {
	Amount      Amount            `json:"amount"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"` // дополнительная инфа: user_uid, credits
}

// CreatePaymentResponse представляет ответ на создание платежа.
// ID платежа становится внешним платёжным референсом транзакции
// при подтверждении через вебхук.
type CreatePaymentResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"` // например "pending" или "succeeded"
	Amount    Amount    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookEvent — уведомление платёжного шлюза о смене статуса платежа.
type WebhookEvent struct {
	Event  string `json:"event"` // например "payment.succeeded"
	Object struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Amount   Amount            `json:"amount"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"object"`
}
