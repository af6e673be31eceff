package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// ListPackages возвращает активные тарифные пакеты в порядке display_order.
func (s *Storage) ListPackages(ctx context.Context) ([]*models.Package, error) {
	const op = "storage.ListPackages"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, name, price_monthly, monthly_credits, credit_rate, features,
	              rollover_enabled, is_active, is_featured, display_order
	          FROM packages
	          WHERE is_active = true
	          ORDER BY display_order, id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, pkg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// GetPackage возвращает тарифный пакет по ID.
func (s *Storage) GetPackage(ctx context.Context, id int) (*models.Package, error) {
	const op = "storage.GetPackage"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT id, name, price_monthly, monthly_credits, credit_rate, features,
		     rollover_enabled, is_active, is_featured, display_order
		 FROM packages WHERE id = $1`, id)
	pkg, err := scanPackage(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pkg, nil
}

func scanPackage(row rowScanner) (*models.Package, error) {
	var pkg models.Package
	var features []byte
	if err := row.Scan(&pkg.ID, &pkg.Name, &pkg.PriceMonthly, &pkg.MonthlyCredits,
		&pkg.CreditRate, &features, &pkg.RolloverEnabled, &pkg.IsActive,
		&pkg.IsFeatured, &pkg.DisplayOrder); err != nil {
		return nil, err
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &pkg.Features); err != nil {
			return nil, err
		}
	}
	return &pkg, nil
}

// GetPromotionByCode возвращает промоакцию по коду.
// Отсутствие кода не является ошибкой.
func (s *Storage) GetPromotionByCode(ctx context.Context, code string) (*models.Promotion, bool, error) {
	const op = "storage.GetPromotionByCode"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT id, code, discount_type, discount_value, package_ids, starts_at,
		     ends_at, max_uses, uses, is_active
		 FROM promotions WHERE code = $1`, code)

	var p models.Promotion
	var packageIDs []byte
	err := row.Scan(&p.ID, &p.Code, &p.DiscountType, &p.DiscountValue, &packageIDs,
		&p.StartsAt, &p.EndsAt, &p.MaxUses, &p.Uses, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if len(packageIDs) > 0 {
		if err := json.Unmarshal(packageIDs, &p.PackageIDs); err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &p, true, nil
}
