package models

import "time"

// Типы скидок промоакций.
const (
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

// Promotion — правило скидки, применяемое при покупке кредитов
// или оформлении подписки. Для валидатора покупок это данные
// только для чтения: ядро их не изменяет.
type Promotion struct {
	ID            int       `json:"id"`
	Code          string    `json:"code"`
	DiscountType  string    `json:"discount_type"`  // percent или fixed
	DiscountValue int       `json:"discount_value"` // Проценты либо центы
	PackageIDs    []int     `json:"package_ids,omitempty"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	MaxUses       int       `json:"max_uses"` // 0 — без ограничения
	Uses          int       `json:"uses"`
	IsActive      bool      `json:"is_active"`
}

// Applies сообщает, действует ли промоакция в момент now.
func (p *Promotion) Applies(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if now.Before(p.StartsAt) || now.After(p.EndsAt) {
		return false
	}
	if p.MaxUses > 0 && p.Uses >= p.MaxUses {
		return false
	}
	return true
}

// Discount применяет скидку к стоимости в центах.
func (p *Promotion) Discount(cost int) int {
	switch p.DiscountType {
	case DiscountPercent:
		cost -= cost * p.DiscountValue / 100
	case DiscountFixed:
		cost -= p.DiscountValue
	}
	if cost < 0 {
		return 0
	}
	return cost
}
