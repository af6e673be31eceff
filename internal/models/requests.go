package models

// DummyValidateRequest используется для предварительной проверки покупки кредитов.
type DummyValidateRequest struct {
	Amount    int    `json:"amount" validate:"required,gt=0"` // Количество кредитов
	PromoCode string `json:"promo_code,omitempty" validate:"omitempty,alphanum"`
}

// ValidateResult — ответ предварительной проверки покупки.
// Отказ не является ошибкой: CanPurchase=false с причиной.
type ValidateResult struct {
	CanPurchase   bool   `json:"can_purchase"`
	Reason        string `json:"reason,omitempty"`
	EstimatedCost int    `json:"estimated_cost"` // В центах, со скидкой
	CreditRate    int    `json:"credit_rate"`
	CreditsToAdd  int    `json:"credits_to_add"`
}

// DummyPurchaseRequest — запрос на покупку кредитов.
type DummyPurchaseRequest struct {
	Amount      int    `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"required"`
	PaymentRef  string `json:"payment_ref,omitempty" validate:"omitempty"`
}

// DummyAdminCreditsRequest — привилегированная операция добавления
// или снятия кредитов. Причина обязательна: она попадает в метаданные
// транзакции и остаётся в аудиторской истории.
type DummyAdminCreditsRequest struct {
	UserUID string `json:"user_uid" validate:"required,uuid"`
	Amount  int    `json:"amount" validate:"required,gt=0"`
	Reason  string `json:"reason" validate:"required"`
	Notes   string `json:"notes,omitempty"`
}

// DummyAdminServiceRequest — приостановка или возобновление кредитного
// обслуживания аккаунта администратором.
type DummyAdminServiceRequest struct {
	UserUID string `json:"user_uid" validate:"required,uuid"`
	Reason  string `json:"reason,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// AdminOpResult — результат привилегированной операции.
type AdminOpResult struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Transaction *Transaction `json:"transaction,omitempty"`
	NewBalance  *int         `json:"new_balance,omitempty"`
}
