package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	fnerrors "github.com/fieldnote-crm/fieldnote/internal/errors"
	"github.com/fieldnote-crm/fieldnote/internal/metrics"
	"github.com/fieldnote-crm/fieldnote/internal/telemetry"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

// Reconciler failure messages.
const (
	ErrMsgNotConfigured   = "billing provider not configured"
	ErrMsgNoPackage       = "No package found for organization"
	ErrMsgNoSubscription  = "No active subscription with a billing provider ID found"
	ErrMsgUserCountTooLow = "User count must be at least 1"
	ErrMsgNoLineItems     = "Billing provider subscription has no line items"
	ErrMsgLookupFailed    = "Failed to load subscription details"
	ErrMsgCountFailed     = "Failed to count active users"
)

// ContextResolver loads an organization's entitling subscription and
// package.
type ContextResolver interface {
	ResolvePackageContext(ctx context.Context, orgID string) (*ent.PackageContext, error)
}

// UsageReader counts live resources for an organization.
type UsageReader interface {
	CountUsage(ctx context.Context, orgID string, kind ent.ResourceKind) (int, error)
}

// QuantityMirror records a reconciled quantity on the local subscription.
type QuantityMirror interface {
	SetSubscriptionQuantity(ctx context.Context, subscriptionID string, quantity int64) error
}

// QuantityResult is the outcome of one reconciliation. NewQuantity is nil
// when nothing was pushed to the provider.
type QuantityResult struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	NewQuantity *int64 `json:"new_quantity,omitempty"`
}

// Reconciler pushes an organization's live user count to its per-user
// provider subscription as the item quantity. Concurrent reconciliations
// for the same organization are last-write-wins.
type Reconciler struct {
	provider Provider
	resolver ContextResolver
	usage    UsageReader
	mirror   QuantityMirror
}

// NewReconciler creates a Reconciler. provider may be nil when billing is
// not configured; mirror may be nil to skip the local quantity update.
func NewReconciler(provider Provider, resolver ContextResolver, usage UsageReader, mirror QuantityMirror) *Reconciler {
	return &Reconciler{provider: provider, resolver: resolver, usage: usage, mirror: mirror}
}

// UpdateSubscriptionQuantityForUsers sets the provider subscription
// quantity to the organization's active user count. It never returns a Go
// error: every failure is logged and reported in the result, so callers
// can run it after a member change without aborting that change.
func (r *Reconciler) UpdateSubscriptionQuantityForUsers(ctx context.Context, orgID string) QuantityResult {
	ctx, span := telemetry.Tracer().Start(ctx, "billing.reconcile_quantity")
	defer span.End()
	span.SetAttributes(attribute.String("org_id", orgID))

	logger := log.With().Str("org_id", orgID).Logger()
	fail := func(outcome, msg string, err error) QuantityResult {
		if err != nil {
			logger.Error().Err(fnerrors.NewBillingError("reconcile_quantity", orgID, err)).Msg("Subscription quantity reconciliation failed")
			span.RecordError(err)
		} else {
			logger.Warn().Str("reason", msg).Msg("Subscription quantity reconciliation failed")
		}
		span.SetStatus(codes.Error, msg)
		metrics.ReconciliationsTotal.WithLabelValues(outcome).Inc()
		return QuantityResult{Success: false, Error: msg}
	}

	if r == nil || r.provider == nil {
		return fail(metrics.ReconcileNotConfigured, ErrMsgNotConfigured, nil)
	}
	if r.resolver == nil || r.usage == nil {
		return fail(metrics.ReconcileFailed, ErrMsgNotConfigured, nil)
	}

	pc, err := r.resolver.ResolvePackageContext(ctx, orgID)
	if err != nil {
		return fail(metrics.ReconcileFailed, ErrMsgLookupFailed, fmt.Errorf("resolve package context: %w", err))
	}
	if pc == nil || pc.Package == nil {
		return fail(metrics.ReconcileFailed, ErrMsgNoPackage, nil)
	}

	if pc.Package.PricingModel != ent.PricingPerUser {
		metrics.ReconciliationsTotal.WithLabelValues(metrics.ReconcileSkipped).Inc()
		logger.Debug().Str("pricing_model", string(pc.Package.PricingModel)).Msg("Package not priced per user, skipping reconciliation")
		return QuantityResult{Success: true}
	}

	sub := pc.Subscription
	if sub == nil || !sub.Status.Reconcilable() || sub.StripeSubscriptionID == "" {
		return fail(metrics.ReconcileFailed, ErrMsgNoSubscription, nil)
	}
	span.SetAttributes(attribute.String("subscription_id", sub.StripeSubscriptionID))

	users, err := r.usage.CountUsage(ctx, orgID, ent.ResourceUsers)
	if err != nil {
		return fail(metrics.ReconcileFailed, ErrMsgCountFailed, fmt.Errorf("count users: %w", err))
	}
	if users < 1 {
		return fail(metrics.ReconcileFailed, ErrMsgUserCountTooLow, nil)
	}
	quantity := int64(users)

	live, err := r.provider.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return fail(metrics.ReconcileFailed, err.Error(), err)
	}
	if live == nil || len(live.Items) == 0 {
		return fail(metrics.ReconcileFailed, ErrMsgNoLineItems, errors.New(ErrMsgNoLineItems))
	}

	item := live.Items[0]
	if err := r.provider.UpdateSubscriptionItemQuantity(ctx, item.ID, quantity, ProrationAlwaysInvoice); err != nil {
		return fail(metrics.ReconcileFailed, err.Error(), err)
	}

	if r.mirror != nil {
		if err := r.mirror.SetSubscriptionQuantity(ctx, sub.ID, quantity); err != nil {
			logger.Warn().Err(err).Str("subscription_id", sub.StripeSubscriptionID).Msg("Failed to mirror subscription quantity locally")
		}
	}

	metrics.ReconciliationsTotal.WithLabelValues(metrics.ReconcileUpdated).Inc()
	span.SetAttributes(attribute.Int64("quantity", quantity))
	logger.Info().
		Str("subscription_id", sub.StripeSubscriptionID).
		Int64("previous_quantity", item.Quantity).
		Int64("quantity", quantity).
		Msg("Subscription quantity updated")
	return QuantityResult{Success: true, NewQuantity: &quantity}
}
