package models

import "time"

// ApplyOptions задаёт политику применения записи леджера.
type ApplyOptions struct {
	// AllowNegative разрешает уход баланса в минус (админский write-off).
	AllowNegative bool
	// EnforceActive запрещает операцию на заблокированном аккаунте.
	EnforceActive bool
}

// CycleParams описывает одно применение биллингового цикла.
// GrantEntry — начисление месячного лимита; ExpireEntry — заготовка записи
// сгорания неиспользованных кредитов, её сумма вычисляется под блокировкой
// строки аккаунта и может оказаться нулевой (тогда запись не создаётся).
type CycleParams struct {
	Subscription    *Subscription
	PeriodStart     time.Time
	NextBillingDate time.Time
	NewStatus       string // active: trial конвертируется первым начислением
	RolloverEnabled bool
	RolloverCeiling int
	GrantEntry      *Transaction
	ExpireEntry     *Transaction
}

// CycleResult — итог применения цикла.
type CycleResult struct {
	NewBalance      int
	Expired         int // Сгоревшие кредиты
	RolloverCredits int // Перенесённые на следующий цикл
}
