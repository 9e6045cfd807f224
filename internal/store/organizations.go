package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	fnerrors "github.com/fieldnote-crm/fieldnote/internal/errors"
	"github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

const organizationColumns = `id, name, status, stripe_customer_id, created_at, updated_at`

// CreateOrganization inserts a new organization. ID is generated when empty.
func (s *Store) CreateOrganization(ctx context.Context, org *entitlements.Organization) error {
	if org == nil {
		return fmt.Errorf("organization is nil")
	}
	org.Name = strings.TrimSpace(org.Name)
	if org.Name == "" {
		return fnerrors.Invalidf("organization name is required")
	}
	if org.ID == "" {
		org.ID = newID("org")
	}
	if org.Status == "" {
		org.Status = entitlements.OrganizationActive
	}
	now := nowFn()
	org.CreatedAt = now
	org.UpdatedAt = now

	_, err := s.exec(ctx, s.db, `
		INSERT INTO organizations (`+organizationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, string(org.Status), org.StripeCustomerID,
		org.CreatedAt.Unix(), org.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID. It returns nil, nil
// when none exists.
func (s *Store) GetOrganization(ctx context.Context, id string) (*entitlements.Organization, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+organizationColumns+` FROM organizations WHERE id = ?`, id)
	return scanOrganization(row)
}

// GetOrganizationByStripeCustomerID retrieves an organization by its
// Stripe customer ID.
func (s *Store) GetOrganizationByStripeCustomerID(ctx context.Context, customerID string) (*entitlements.Organization, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, nil
	}
	row := s.queryRow(ctx, s.db, `SELECT `+organizationColumns+` FROM organizations WHERE stripe_customer_id = ?`, customerID)
	return scanOrganization(row)
}

// SetOrganizationStatus changes the soft lifecycle status.
func (s *Store) SetOrganizationStatus(ctx context.Context, id string, status entitlements.OrganizationStatus) error {
	return s.updateOrganization(ctx, "set organization status", id, `status = ?`, string(status))
}

// SetOrganizationStripeCustomer records the Stripe customer for an
// organization.
func (s *Store) SetOrganizationStripeCustomer(ctx context.Context, id, customerID string) error {
	return s.updateOrganization(ctx, "set organization stripe customer", id, `stripe_customer_id = ?`, customerID)
}

func (s *Store) updateOrganization(ctx context.Context, op, id, set string, value any) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE organizations SET `+set+`, updated_at = ? WHERE id = ?`,
		value, nowFn().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%s: organization %q: %w", op, id, fnerrors.ErrNotFound)
	}
	return nil
}

func scanOrganization(sc scanner) (*entitlements.Organization, error) {
	var org entitlements.Organization
	var status string
	var createdAt, updatedAt int64

	err := sc.Scan(&org.ID, &org.Name, &status, &org.StripeCustomerID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	org.Status = entitlements.OrganizationStatus(status)
	org.CreatedAt = time.Unix(createdAt, 0).UTC()
	org.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &org, nil
}
