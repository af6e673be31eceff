// Package models содержит доменные структуры кредитного леджера,
// а также вспомогательные типы для приёма данных из JSON-запросов.
package models

import "errors"

// Сентинельные ошибки бизнес-правил. Ошибки хранилища и сети
// оборачиваются через fmt.Errorf и не входят в этот список:
// они транзиентны и повторяются на границе вызывающего компонента.
var (
	// ErrInsufficientCredits — списание превышает баланс, овердрафт запрещён политикой.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrDuplicatePayment — внешний платёжный референс уже был зачислен.
	ErrDuplicatePayment = errors.New("duplicate payment reference")
	// ErrInvalidTransition — недопустимый переход состояния подписки или диспута.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyResolved — диспут уже находится в терминальном статусе.
	ErrAlreadyResolved = errors.New("dispute already resolved")
	// ErrAccountSuspended — аккаунт заблокирован, операция запрещена.
	ErrAccountSuspended = errors.New("account is suspended")
	// ErrAccountNotFound — кредитный аккаунт не найден.
	ErrAccountNotFound = errors.New("credit account not found")
	// ErrCycleAlreadyBilled — биллинговый период уже начислен, повтор — no-op.
	ErrCycleAlreadyBilled = errors.New("billing cycle already applied")
	// ErrSubscriptionExists — у аккаунта уже есть действующая подписка.
	ErrSubscriptionExists = errors.New("active subscription already exists")
	// ErrNoActiveSubscription — действующая подписка не найдена.
	ErrNoActiveSubscription = errors.New("no active subscription")
	// ErrInvalidAmount — сумма операции должна быть строго положительной.
	ErrInvalidAmount = errors.New("amount must be positive")
)
