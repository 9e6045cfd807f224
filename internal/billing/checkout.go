package billing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldnote-crm/fieldnote/internal/entitlements"
	fnerrors "github.com/fieldnote-crm/fieldnote/internal/errors"
	"github.com/fieldnote-crm/fieldnote/internal/telemetry"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

// Checkout metadata keys. The webhook handler reads them back from the
// completed session and the subscription.
const (
	MetadataOrganizationID = "organization_id"
	MetadataPackageID      = "package_id"
	MetadataInterval       = "interval"
)

// PackageReader loads packages by ID.
type PackageReader interface {
	GetPackage(ctx context.Context, id string) (*ent.Package, error)
}

// OrganizationReader loads organizations by ID.
type OrganizationReader interface {
	GetOrganization(ctx context.Context, id string) (*ent.Organization, error)
}

// Pricer resolves enterprise pricing for an organization.
type Pricer interface {
	GetEffectivePricing(ctx context.Context, orgID string, userCount int, interval ent.BillingInterval) entitlements.EffectivePricing
}

// CheckoutRequest selects the package and interval to subscribe to.
// Empty URLs fall back to the configured base URL.
type CheckoutRequest struct {
	PackageID     string `json:"package_id" validate:"required"`
	Interval      string `json:"interval" validate:"omitempty,oneof=month year"`
	SuccessURL    string `json:"success_url" validate:"omitempty,url"`
	CancelURL     string `json:"cancel_url" validate:"omitempty,url"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
}

// CheckoutConfig holds checkout defaults.
type CheckoutConfig struct {
	Currency string
	BaseURL  string
}

// Checkout opens provider checkout sessions for organizations.
type Checkout struct {
	provider Provider
	packages PackageReader
	orgs     OrganizationReader
	usage    UsageReader
	pricer   Pricer
	cfg      CheckoutConfig
}

// NewCheckout creates a Checkout. provider may be nil when billing is not
// configured.
func NewCheckout(provider Provider, packages PackageReader, orgs OrganizationReader, usage UsageReader, pricer Pricer, cfg CheckoutConfig) *Checkout {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Checkout{
		provider: provider,
		packages: packages,
		orgs:     orgs,
		usage:    usage,
		pricer:   pricer,
		cfg:      cfg,
	}
}

// CreateSession creates a subscription checkout for orgID. Per-user
// packages are billed for the live member count (at least 1). An
// organization with a custom enterprise package is charged its effective
// per-user price inline instead of the package's provider price, unless
// that price comes to zero.
func (c *Checkout) CreateSession(ctx context.Context, orgID string, req CheckoutRequest) (*CheckoutSessionResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "billing.create_checkout")
	defer span.End()
	span.SetAttributes(attribute.String("org_id", orgID), attribute.String("package_id", req.PackageID))

	if c == nil || c.provider == nil {
		return nil, fmt.Errorf("billing provider: %w", fnerrors.ErrNotConfigured)
	}
	interval, ok := ent.ParseInterval(req.Interval)
	if !ok {
		return nil, fnerrors.Invalidf("interval must be month or year, got %q", req.Interval)
	}
	if strings.TrimSpace(req.PackageID) == "" {
		return nil, fnerrors.Invalidf("package_id is required")
	}

	org, err := c.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	if org == nil {
		return nil, fmt.Errorf("organization %q: %w", orgID, fnerrors.ErrNotFound)
	}
	if org.Status != ent.OrganizationActive {
		return nil, fnerrors.Invalidf("organization %q is %s", orgID, org.Status)
	}

	pkg, err := c.packages.GetPackage(ctx, req.PackageID)
	if err != nil {
		return nil, fmt.Errorf("load package: %w", err)
	}
	if pkg == nil || !pkg.IsActive {
		return nil, fmt.Errorf("package %q: %w", req.PackageID, fnerrors.ErrNotFound)
	}

	users, err := c.usage.CountUsage(ctx, orgID, ent.ResourceUsers)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	successURL, cancelURL, err := c.redirectURLs(req)
	if err != nil {
		return nil, err
	}

	sessionReq := CheckoutSessionRequest{
		CustomerID:        org.StripeCustomerID,
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		ClientReferenceID: orgID,
		Quantity:          1,
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		Metadata: map[string]string{
			MetadataOrganizationID: orgID,
			MetadataPackageID:      pkg.ID,
			MetadataInterval:       string(interval),
		},
	}
	seats := max(1, users)
	if pkg.PricingModel == ent.PricingPerUser {
		sessionReq.Quantity = int64(seats)
	}

	var effective entitlements.EffectivePricing
	if c.pricer != nil {
		effective = c.pricer.GetEffectivePricing(ctx, orgID, seats, interval)
	}
	var unitCents int64
	if effective.IsEnterprise && effective.Quote != nil {
		unitCents = int64(math.Round(effective.Quote.EffectivePricePerUser * 100))
		if unitCents <= 0 {
			log.Warn().
				Str("org_id", orgID).
				Str("package", pkg.Name).
				Msg("Enterprise package resolves to no price, using standard package pricing")
		}
	}
	if unitCents > 0 {
		sessionReq.Quantity = int64(seats)
		sessionReq.PriceData = &InlinePrice{
			Currency:        c.cfg.Currency,
			UnitAmountCents: unitCents,
			ProductName:     displayName(pkg) + " (Enterprise)",
			Interval:        string(interval),
		}
	} else {
		sessionReq.PriceID = pkg.StripePriceIDFor(interval)
		if sessionReq.PriceID == "" {
			return nil, fnerrors.Invalidf("package %q has no billing price for interval %s", pkg.Name, interval)
		}
	}

	result, err := c.provider.CreateCheckoutSession(ctx, sessionReq)
	if err != nil {
		return nil, fnerrors.NewBillingError("create_checkout", orgID, err)
	}

	log.Info().
		Str("org_id", orgID).
		Str("package", pkg.Name).
		Str("interval", string(interval)).
		Int64("quantity", sessionReq.Quantity).
		Bool("enterprise", sessionReq.PriceData != nil).
		Str("session_id", result.ID).
		Msg("Checkout session created")
	return result, nil
}

func (c *Checkout) redirectURLs(req CheckoutRequest) (string, string, error) {
	success := strings.TrimSpace(req.SuccessURL)
	cancel := strings.TrimSpace(req.CancelURL)
	if success == "" && c.cfg.BaseURL != "" {
		success = c.cfg.BaseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if cancel == "" && c.cfg.BaseURL != "" {
		cancel = c.cfg.BaseURL + "/billing/cancel"
	}
	if success == "" || cancel == "" {
		return "", "", fnerrors.Invalidf("success_url and cancel_url are required when no base URL is configured")
	}
	return success, cancel, nil
}

func displayName(p *ent.Package) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}
