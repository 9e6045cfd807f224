package entitlements

import (
	"context"

	"github.com/rs/zerolog/log"

	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
	"github.com/fieldnote-crm/fieldnote/pkg/pricing"
)

// EffectivePricing is the enterprise price resolution for an organization.
// IsEnterprise is false when the organization has no custom package, in
// which case standard package pricing applies and the other fields are
// zero.
type EffectivePricing struct {
	PricePerUser  float64                      `json:"price_per_user"`
	Quote         *pricing.EnterpriseQuote     `json:"quote"`
	IsEnterprise  bool                         `json:"is_enterprise"`
	CustomPackage *ent.CustomEnterprisePackage `json:"custom_package"`
}

// GetEffectivePricing resolves the per-user base price for an organization
// with a custom enterprise package and applies its volume discount rules.
// The base price is the custom price for the interval, then the base
// package price for the interval, then 0; a base package that no longer
// exists counts as unpriced. Lookup errors degrade to the non-enterprise
// result.
func (s *Service) GetEffectivePricing(ctx context.Context, orgID string, userCount int, interval ent.BillingInterval) EffectivePricing {
	logger := log.With().Str("org_id", orgID).Logger()

	if s == nil || s.pricing == nil {
		return EffectivePricing{}
	}
	if userCount < 0 {
		logger.Warn().Int("users", userCount).Msg("Negative user count for pricing, using standard pricing")
		return EffectivePricing{}
	}

	custom, err := s.pricing.GetActiveCustomPackage(ctx, orgID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load custom enterprise package")
		return EffectivePricing{}
	}
	if custom == nil {
		return EffectivePricing{}
	}

	base, err := s.basePricePerUser(ctx, custom, interval)
	if err != nil {
		logger.Error().Err(err).Str("base_package_id", custom.BasePackageID).Msg("Failed to resolve base package price")
		return EffectivePricing{}
	}

	quote := pricing.CalculateEnterprisePrice(userCount, base, custom.VolumeDiscountRules)
	return EffectivePricing{
		PricePerUser:  base,
		Quote:         &quote,
		IsEnterprise:  true,
		CustomPackage: custom,
	}
}

func (s *Service) basePricePerUser(ctx context.Context, custom *ent.CustomEnterprisePackage, interval ent.BillingInterval) (float64, error) {
	if price := custom.CustomPriceFor(interval); price != nil {
		return *price, nil
	}
	if custom.BasePackageID == "" {
		return 0, nil
	}
	pkg, err := s.pricing.GetPackage(ctx, custom.BasePackageID)
	if err != nil {
		return 0, err
	}
	if pkg == nil {
		log.Warn().
			Str("org_id", custom.OrganizationID).
			Str("base_package_id", custom.BasePackageID).
			Msg("Base package for enterprise pricing not found, pricing at 0")
		return 0, nil
	}
	if price := pkg.PriceFor(interval); price != nil {
		return *price, nil
	}
	return 0, nil
}
