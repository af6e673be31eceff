package models

// Package — покупаемый тарифный пакет подписки.
// Цены хранятся в центах, кредиты — целыми числами.
type Package struct {
	ID              int      `json:"id"`
	Name            string   `json:"name"`
	PriceMonthly    int      `json:"price_monthly"` // Цена за месяц в центах
	MonthlyCredits  int      `json:"monthly_credits"`
	CreditRate      int      `json:"credit_rate"` // Цена одного кредита в центах
	Features        []string `json:"features"`
	RolloverEnabled bool     `json:"rollover_enabled"`
	IsActive        bool     `json:"is_active"`
	IsFeatured      bool     `json:"is_featured"`
	DisplayOrder    int      `json:"display_order"`
}
