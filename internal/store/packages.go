package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	fnerrors "github.com/fieldnote-crm/fieldnote/internal/errors"
	"github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

const packageColumns = `id, name, display_name, pricing_model, price_monthly, price_yearly,
	stripe_price_id_monthly, stripe_price_id_yearly, features, is_active, created_at, updated_at`

// UpsertPackage inserts a package or updates the existing one with the
// same name. p.ID is set to the stored ID.
func (s *Store) UpsertPackage(ctx context.Context, p *entitlements.Package) error {
	if p == nil {
		return fmt.Errorf("package is nil")
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fnerrors.Invalidf("package name is required")
	}
	if !p.PricingModel.Valid() {
		return fnerrors.Invalidf("package %s: unknown pricing model %q", p.Name, p.PricingModel)
	}
	features, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("encode package features: %w", err)
	}
	if p.ID == "" {
		p.ID = newID("pkg")
	}
	now := nowFn()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	row := s.queryRow(ctx, s.db, `
		INSERT INTO packages (`+packageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			display_name = excluded.display_name,
			pricing_model = excluded.pricing_model,
			price_monthly = excluded.price_monthly,
			price_yearly = excluded.price_yearly,
			stripe_price_id_monthly = excluded.stripe_price_id_monthly,
			stripe_price_id_yearly = excluded.stripe_price_id_yearly,
			features = excluded.features,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		RETURNING id`,
		p.ID, p.Name, p.DisplayName, string(p.PricingModel),
		nullableFloat(p.PriceMonthly), nullableFloat(p.PriceYearly),
		p.StripePriceIDMonthly, p.StripePriceIDYearly, string(features),
		boolToInt(p.IsActive), p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err := row.Scan(&p.ID); err != nil {
		return fmt.Errorf("upsert package: %w", mapError(err))
	}
	return nil
}

// GetPackage retrieves a package by ID. It returns nil, nil when none
// exists.
func (s *Store) GetPackage(ctx context.Context, id string) (*entitlements.Package, error) {
	return s.getPackage(ctx, s.db, id)
}

func (s *Store) getPackage(ctx context.Context, q querier, id string) (*entitlements.Package, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	row := s.queryRow(ctx, q, `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id)
	return scanPackage(row)
}

// GetPackageByName retrieves a package by its unique name.
func (s *Store) GetPackageByName(ctx context.Context, name string) (*entitlements.Package, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+packageColumns+` FROM packages WHERE name = ?`, name)
	return scanPackage(row)
}

// GetPackageByStripePriceID finds the package whose monthly or yearly
// Stripe price matches priceID.
func (s *Store) GetPackageByStripePriceID(ctx context.Context, priceID string) (*entitlements.Package, error) {
	if strings.TrimSpace(priceID) == "" {
		return nil, nil
	}
	row := s.queryRow(ctx, s.db, `SELECT `+packageColumns+` FROM packages
		WHERE stripe_price_id_monthly = ? OR stripe_price_id_yearly = ?
		ORDER BY is_active DESC, updated_at DESC LIMIT 1`, priceID, priceID)
	return scanPackage(row)
}

// ListPackages returns packages ordered by name.
func (s *Store) ListPackages(ctx context.Context, activeOnly bool) ([]*entitlements.Package, error) {
	query := `SELECT ` + packageColumns + ` FROM packages`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.query(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []*entitlements.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PackageInUse reports whether any entitling subscription references the
// package.
func (s *Store) PackageInUse(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM subscriptions
		WHERE package_id = ? AND status IN ('active', 'trialing', 'past_due')`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check package usage: %w", err)
	}
	return n > 0, nil
}

func scanPackage(sc scanner) (*entitlements.Package, error) {
	var p entitlements.Package
	var pricingModel, features string
	var priceMonthly, priceYearly sql.NullFloat64
	var isActive int
	var createdAt, updatedAt int64

	err := sc.Scan(
		&p.ID, &p.Name, &p.DisplayName, &pricingModel, &priceMonthly, &priceYearly,
		&p.StripePriceIDMonthly, &p.StripePriceIDYearly, &features, &isActive, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan package: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return nil, fmt.Errorf("decode features for package %s: %w", p.ID, err)
	}
	p.PricingModel = entitlements.PricingModel(pricingModel)
	p.PriceMonthly = floatFromNullable(priceMonthly)
	p.PriceYearly = floatFromNullable(priceYearly)
	p.IsActive = isActive != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}
