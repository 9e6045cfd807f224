package entitlements

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fieldnote-crm/fieldnote/internal/metrics"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

// HasFeature reports whether the organization's package enables feature.
// Unknown features and any resolution failure report false.
func (s *Service) HasFeature(ctx context.Context, orgID, feature string) bool {
	pkg := s.resolvePackage(ctx, orgID, feature)
	if pkg == nil {
		metrics.FeatureChecksTotal.WithLabelValues(feature, metrics.BoolLabel(false)).Inc()
		return false
	}
	enabled, known := pkg.Features.Enabled(feature)
	if !known {
		log.Warn().Str("org_id", orgID).Str("feature", feature).Msg("Unknown feature requested")
	}
	enabled = enabled && known
	metrics.FeatureChecksTotal.WithLabelValues(feature, metrics.BoolLabel(enabled)).Inc()
	return enabled
}

func (s *Service) HasAIFeatures(ctx context.Context, orgID string) bool {
	return s.HasFeature(ctx, orgID, ent.FeatureAI)
}

func (s *Service) HasExportFeatures(ctx context.Context, orgID string) bool {
	return s.HasFeature(ctx, orgID, ent.FeatureExport)
}

func (s *Service) HasOpsTool(ctx context.Context, orgID string) bool {
	return s.HasFeature(ctx, orgID, ent.FeatureOpsTool)
}

func (s *Service) HasAnalytics(ctx context.Context, orgID string) bool {
	return s.HasFeature(ctx, orgID, ent.FeatureAnalytics)
}

func (s *Service) HasAPIAccess(ctx context.Context, orgID string) bool {
	return s.HasFeature(ctx, orgID, ent.FeatureAPIAccess)
}

func (s *Service) HasCustomDashboards(ctx context.Context, orgID string) bool {
	return s.HasFeature(ctx, orgID, ent.FeatureCustomDashboards)
}

// SupportLevel returns the package support tier, or "" when it cannot be
// resolved.
func (s *Service) SupportLevel(ctx context.Context, orgID string) ent.SupportLevel {
	pkg := s.resolvePackage(ctx, orgID, "support_level")
	if pkg == nil {
		return ""
	}
	return pkg.Features.SupportLevel
}

func (s *Service) resolvePackage(ctx context.Context, orgID, feature string) *ent.Package {
	if s == nil || s.resolver == nil {
		return nil
	}
	pc, err := s.resolver.ResolvePackageContext(ctx, orgID)
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID).Str("feature", feature).Msg("Failed to resolve package for feature check")
		return nil
	}
	if pc == nil {
		return nil
	}
	return pc.Package
}
