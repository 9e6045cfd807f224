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

const subscriptionColumns = `id, organization_id, package_id, stripe_subscription_id, stripe_customer_id,
	stripe_price_id, status, billing_interval, quantity, current_period_start, current_period_end,
	cancel_at_period_end, created_at, updated_at`

const entitlingStatusList = `('active', 'trialing', 'past_due')`

// GetEntitlingSubscription returns the organization's subscription in an
// active, trialing or past_due state, or nil when there is none.
func (s *Store) GetEntitlingSubscription(ctx context.Context, orgID string) (*entitlements.Subscription, error) {
	return s.getEntitlingSubscription(ctx, s.db, orgID)
}

func (s *Store) getEntitlingSubscription(ctx context.Context, q querier, orgID string) (*entitlements.Subscription, error) {
	row := s.queryRow(ctx, q, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE organization_id = ? AND status IN `+entitlingStatusList+`
		ORDER BY updated_at DESC LIMIT 1`, orgID)
	return scanSubscription(row)
}

// GetSubscriptionByStripeID retrieves a subscription by its Stripe ID.
func (s *Store) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*entitlements.Subscription, error) {
	if strings.TrimSpace(stripeSubscriptionID) == "" {
		return nil, nil
	}
	row := s.queryRow(ctx, s.db, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE stripe_subscription_id = ?`, stripeSubscriptionID)
	return scanSubscription(row)
}

// ListSubscriptions returns an organization's subscriptions, newest first.
func (s *Store) ListSubscriptions(ctx context.Context, orgID string) ([]*entitlements.Subscription, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE organization_id = ? ORDER BY created_at DESC, id DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*entitlements.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ReplaceEntitlingSubscription records sub as the organization's entitling
// subscription. A row with the same Stripe subscription ID is updated in
// place. Any other entitling subscription of the organization is marked
// canceled in the same transaction.
func (s *Store) ReplaceEntitlingSubscription(ctx context.Context, sub *entitlements.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	if sub.OrganizationID == "" {
		return fnerrors.Invalidf("subscription organization is required")
	}
	if sub.BillingInterval == "" {
		sub.BillingInterval = entitlements.IntervalMonth
	}
	now := nowFn()
	sub.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		if sub.StripeSubscriptionID != "" {
			err := s.queryRow(ctx, tx, `SELECT id FROM subscriptions WHERE stripe_subscription_id = ?`,
				sub.StripeSubscriptionID).Scan(&existingID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lookup subscription: %w", err)
			}
		}

		if sub.Status.Entitling() {
			if _, err := s.exec(ctx, tx, `UPDATE subscriptions SET status = ?, updated_at = ?
				WHERE organization_id = ? AND status IN `+entitlingStatusList+` AND id <> ?`,
				string(entitlements.StatusCanceled), now.Unix(), sub.OrganizationID, existingID,
			); err != nil {
				return fmt.Errorf("cancel superseded subscriptions: %w", err)
			}
		}

		if existingID != "" {
			sub.ID = existingID
			_, err := s.exec(ctx, tx, `UPDATE subscriptions SET
				organization_id = ?, package_id = ?, stripe_customer_id = ?, stripe_price_id = ?,
				status = ?, billing_interval = ?, quantity = ?, current_period_start = ?,
				current_period_end = ?, cancel_at_period_end = ?, updated_at = ?
				WHERE id = ?`,
				sub.OrganizationID, sub.PackageID, sub.StripeCustomerID, sub.StripePriceID,
				string(sub.Status), string(sub.BillingInterval), sub.Quantity,
				nullableTimeUnix(sub.CurrentPeriodStart), nullableTimeUnix(sub.CurrentPeriodEnd),
				boolToInt(sub.CancelAtPeriodEnd), now.Unix(), sub.ID,
			)
			if err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
			return nil
		}

		if sub.ID == "" {
			sub.ID = newID("sub")
		}
		sub.CreatedAt = now
		_, err := s.exec(ctx, tx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sub.ID, sub.OrganizationID, sub.PackageID, sub.StripeSubscriptionID, sub.StripeCustomerID,
			sub.StripePriceID, string(sub.Status), string(sub.BillingInterval), sub.Quantity,
			nullableTimeUnix(sub.CurrentPeriodStart), nullableTimeUnix(sub.CurrentPeriodEnd),
			boolToInt(sub.CancelAtPeriodEnd), sub.CreatedAt.Unix(), sub.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		return nil
	})
}

// SyncSubscription mirrors provider state onto the subscription with the
// given Stripe ID. When the new status is entitling, other entitling
// subscriptions of the same organization are canceled first. It returns
// the updated row, or nil when no row matches.
func (s *Store) SyncSubscription(ctx context.Context, stripeSubscriptionID string, sync SubscriptionSync) (*entitlements.Subscription, error) {
	var updated *entitlements.Subscription
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := s.queryRow(ctx, tx, `SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE stripe_subscription_id = ?`, stripeSubscriptionID)
		sub, err := scanSubscription(row)
		if err != nil || sub == nil {
			return err
		}

		now := nowFn()
		if sync.Status != "" {
			status := entitlements.SubscriptionStatus(sync.Status)
			if status.Entitling() && !sub.Status.Entitling() {
				if _, err := s.exec(ctx, tx, `UPDATE subscriptions SET status = ?, updated_at = ?
					WHERE organization_id = ? AND status IN `+entitlingStatusList+` AND id <> ?`,
					string(entitlements.StatusCanceled), now.Unix(), sub.OrganizationID, sub.ID,
				); err != nil {
					return fmt.Errorf("cancel superseded subscriptions: %w", err)
				}
			}
			sub.Status = status
		}
		if sync.BillingInterval != "" {
			sub.BillingInterval = entitlements.BillingInterval(sync.BillingInterval)
		}
		if sync.StripePriceID != "" {
			sub.StripePriceID = sync.StripePriceID
		}
		if sync.PackageID != "" {
			sub.PackageID = sync.PackageID
		}
		if sync.Quantity != nil {
			sub.Quantity = *sync.Quantity
		}
		if sync.CurrentPeriodStart != nil {
			sub.CurrentPeriodStart = sync.CurrentPeriodStart
		}
		if sync.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = sync.CurrentPeriodEnd
		}
		if sync.CancelAtPeriodEnd != nil {
			sub.CancelAtPeriodEnd = *sync.CancelAtPeriodEnd
		}
		sub.UpdatedAt = now

		if _, err := s.exec(ctx, tx, `UPDATE subscriptions SET
			package_id = ?, stripe_price_id = ?, status = ?, billing_interval = ?, quantity = ?,
			current_period_start = ?, current_period_end = ?, cancel_at_period_end = ?, updated_at = ?
			WHERE id = ?`,
			sub.PackageID, sub.StripePriceID, string(sub.Status), string(sub.BillingInterval), sub.Quantity,
			nullableTimeUnix(sub.CurrentPeriodStart), nullableTimeUnix(sub.CurrentPeriodEnd),
			boolToInt(sub.CancelAtPeriodEnd), now.Unix(), sub.ID,
		); err != nil {
			return fmt.Errorf("sync subscription: %w", err)
		}
		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetSubscriptionQuantity mirrors the provider quantity locally.
func (s *Store) SetSubscriptionQuantity(ctx context.Context, id string, quantity int64) error {
	res, err := s.exec(ctx, s.db, `UPDATE subscriptions SET quantity = ?, updated_at = ? WHERE id = ?`,
		quantity, nowFn().Unix(), id)
	if err != nil {
		return fmt.Errorf("set subscription quantity: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("set subscription quantity: subscription %q: %w", id, fnerrors.ErrNotFound)
	}
	return nil
}

// ListReconcilableOrganizations returns the IDs of organizations on a
// per-user package with an active or trialing Stripe subscription.
func (s *Store) ListReconcilableOrganizations(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, s.db, `SELECT DISTINCT s.organization_id
		FROM subscriptions s
		JOIN packages p ON p.id = s.package_id
		JOIN organizations o ON o.id = s.organization_id
		WHERE s.status IN ('active', 'trialing')
			AND s.stripe_subscription_id <> ''
			AND p.pricing_model = ?
			AND o.status = ?
		ORDER BY s.organization_id`,
		string(entitlements.PricingPerUser), string(entitlements.OrganizationActive))
	if err != nil {
		return nil, fmt.Errorf("list reconcilable organizations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organization id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanSubscription(sc scanner) (*entitlements.Subscription, error) {
	var sub entitlements.Subscription
	var status, interval string
	var periodStart, periodEnd sql.NullInt64
	var cancelAtPeriodEnd int
	var createdAt, updatedAt int64

	err := sc.Scan(
		&sub.ID, &sub.OrganizationID, &sub.PackageID, &sub.StripeSubscriptionID, &sub.StripeCustomerID,
		&sub.StripePriceID, &status, &interval, &sub.Quantity, &periodStart, &periodEnd,
		&cancelAtPeriodEnd, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Status = entitlements.SubscriptionStatus(status)
	sub.BillingInterval = entitlements.BillingInterval(interval)
	sub.CurrentPeriodStart = timeFromNullable(periodStart)
	sub.CurrentPeriodEnd = timeFromNullable(periodEnd)
	sub.CancelAtPeriodEnd = cancelAtPeriodEnd != 0
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sub, nil
}
