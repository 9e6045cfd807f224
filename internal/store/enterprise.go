package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	fnerrors "github.com/fieldnote-crm/fieldnote/internal/errors"
	"github.com/fieldnote-crm/fieldnote/pkg/entitlements"
	"github.com/fieldnote-crm/fieldnote/pkg/pricing"
)

const customPackageColumns = `id, organization_id, base_package_id, custom_price_per_user_monthly,
	custom_price_per_user_yearly, volume_discount_rules, notes, is_active, created_at, updated_at`

// GetActiveCustomPackage returns the organization's active custom
// enterprise package, or nil when there is none.
func (s *Store) GetActiveCustomPackage(ctx context.Context, orgID string) (*entitlements.CustomEnterprisePackage, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+customPackageColumns+` FROM custom_enterprise_packages
		WHERE organization_id = ? AND is_active = 1`, orgID)
	return scanCustomPackage(row)
}

// SaveCustomPackage stores cp as the organization's active override,
// deactivating any previous one in the same transaction. Rules must have
// been validated by the caller.
func (s *Store) SaveCustomPackage(ctx context.Context, cp *entitlements.CustomEnterprisePackage) error {
	if cp == nil {
		return fmt.Errorf("custom package is nil")
	}
	if cp.OrganizationID == "" {
		return fnerrors.Invalidf("custom package organization is required")
	}
	rules := cp.VolumeDiscountRules
	if rules == nil {
		rules = []pricing.VolumeDiscountRule{}
	}
	encoded, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encode volume discount rules: %w", err)
	}

	now := nowFn()
	cp.ID = newID("cep")
	cp.IsActive = true
	cp.CreatedAt = now
	cp.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `UPDATE custom_enterprise_packages SET is_active = 0, updated_at = ?
			WHERE organization_id = ? AND is_active = 1`, now.Unix(), cp.OrganizationID); err != nil {
			return fmt.Errorf("deactivate custom package: %w", err)
		}
		if _, err := s.exec(ctx, tx, `INSERT INTO custom_enterprise_packages (`+customPackageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.ID, cp.OrganizationID, cp.BasePackageID,
			nullableFloat(cp.CustomPricePerUserMonthly), nullableFloat(cp.CustomPricePerUserYearly),
			string(encoded), cp.Notes, boolToInt(cp.IsActive), cp.CreatedAt.Unix(), cp.UpdatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert custom package: %w", err)
		}
		return nil
	})
}

// DeactivateCustomPackage removes the organization's active override.
func (s *Store) DeactivateCustomPackage(ctx context.Context, orgID string) error {
	res, err := s.exec(ctx, s.db, `UPDATE custom_enterprise_packages SET is_active = 0, updated_at = ?
		WHERE organization_id = ? AND is_active = 1`, nowFn().Unix(), orgID)
	if err != nil {
		return fmt.Errorf("deactivate custom package: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("deactivate custom package: %w", fnerrors.ErrNotFound)
	}
	return nil
}

func scanCustomPackage(sc scanner) (*entitlements.CustomEnterprisePackage, error) {
	var cp entitlements.CustomEnterprisePackage
	var monthly, yearly sql.NullFloat64
	var rules string
	var isActive int
	var createdAt, updatedAt int64

	err := sc.Scan(&cp.ID, &cp.OrganizationID, &cp.BasePackageID, &monthly, &yearly,
		&rules, &cp.Notes, &isActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan custom package: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &cp.VolumeDiscountRules); err != nil {
		return nil, fmt.Errorf("decode volume discount rules for %s: %w", cp.ID, err)
	}
	cp.CustomPricePerUserMonthly = floatFromNullable(monthly)
	cp.CustomPricePerUserYearly = floatFromNullable(yearly)
	cp.IsActive = isActive != 0
	cp.CreatedAt = time.Unix(createdAt, 0).UTC()
	cp.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &cp, nil
}
