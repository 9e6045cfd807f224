// Package entitlements enforces package limits and feature gates and
// resolves enterprise pricing for organizations.
//
// Every check fails closed: lookup errors deny the operation or report the
// feature as disabled. Checks read fresh state on each call and take no
// locks, so two concurrent creates may both pass a check that only one
// should have passed.
package entitlements

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fieldnote-crm/fieldnote/internal/metrics"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

// ContextResolver loads an organization's entitling subscription and
// package. It returns nil, nil when the organization has none.
type ContextResolver interface {
	ResolvePackageContext(ctx context.Context, orgID string) (*ent.PackageContext, error)
}

// UsageReader counts live resources for an organization.
type UsageReader interface {
	CountUsage(ctx context.Context, orgID string, kind ent.ResourceKind) (int, error)
}

// PricingSource loads enterprise overrides and their base packages.
type PricingSource interface {
	GetActiveCustomPackage(ctx context.Context, orgID string) (*ent.CustomEnterprisePackage, error)
	GetPackage(ctx context.Context, id string) (*ent.Package, error)
}

// Service is the limit evaluator, feature gate and effective pricing
// resolver.
type Service struct {
	resolver ContextResolver
	usage    UsageReader
	pricing  PricingSource
}

// NewService creates a Service. A nil dependency makes the checks that
// need it fail closed.
func NewService(resolver ContextResolver, usage UsageReader, pricing PricingSource) *Service {
	return &Service{resolver: resolver, usage: usage, pricing: pricing}
}

// CanCreateProject checks the project cap.
func (s *Service) CanCreateProject(ctx context.Context, orgID string) ent.LimitCheckResult {
	return s.checkLimit(ctx, orgID, ent.ResourceProjects, false)
}

// CanCreateTemplate checks the template cap.
func (s *Service) CanCreateTemplate(ctx context.Context, orgID string) ent.LimitCheckResult {
	return s.checkLimit(ctx, orgID, ent.ResourceTemplates, false)
}

// CanAddUser checks the user cap. With allowPaidUsers the cap is soft: an
// organization at or over its included seats is allowed with a cost
// warning in Reason. Without it the cap is enforced like projects.
func (s *Service) CanAddUser(ctx context.Context, orgID string, allowPaidUsers bool) ent.LimitCheckResult {
	return s.checkLimit(ctx, orgID, ent.ResourceUsers, allowPaidUsers)
}

// CanAddPaidUser is CanAddUser with paid seats allowed.
func (s *Service) CanAddPaidUser(ctx context.Context, orgID string) ent.LimitCheckResult {
	return s.CanAddUser(ctx, orgID, true)
}

// CheckLimit dispatches to the check for kind. Users are checked with paid
// seats allowed when allowPaidUsers is set.
func (s *Service) CheckLimit(ctx context.Context, orgID string, kind ent.ResourceKind, allowPaidUsers bool) ent.LimitCheckResult {
	switch kind {
	case ent.ResourceProjects:
		return s.CanCreateProject(ctx, orgID)
	case ent.ResourceTemplates:
		return s.CanCreateTemplate(ctx, orgID)
	case ent.ResourceUsers:
		return s.CanAddUser(ctx, orgID, allowPaidUsers)
	}
	return ent.LimitCheckResult{Allowed: false, Reason: ent.LimitCheckErrorMessage(kind)}
}

func (s *Service) checkLimit(ctx context.Context, orgID string, kind ent.ResourceKind, softCap bool) ent.LimitCheckResult {
	logger := log.With().Str("org_id", orgID).Str("resource", string(kind)).Logger()
	fail := func(err error, msg string) ent.LimitCheckResult {
		logger.Error().Err(err).Msg(msg)
		metrics.LimitChecksTotal.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
		return ent.LimitCheckResult{Allowed: false, Reason: ent.LimitCheckErrorMessage(kind)}
	}

	if s == nil || s.resolver == nil {
		return fail(nil, "Limit check without package resolver")
	}

	pc, err := s.resolver.ResolvePackageContext(ctx, orgID)
	if err != nil {
		return fail(err, "Failed to resolve package context")
	}
	if pc == nil {
		metrics.LimitChecksTotal.WithLabelValues(string(kind), metrics.OutcomeNoSubscription).Inc()
		return ent.LimitCheckResult{Allowed: false, Reason: ent.ReasonNoActiveSubscription}
	}
	if pc.Package == nil {
		return fail(nil, "Subscription references a package that does not exist")
	}

	limit := pc.Package.Features.Limit(kind)
	if limit == nil {
		metrics.LimitChecksTotal.WithLabelValues(string(kind), metrics.OutcomeAllowed).Inc()
		return ent.LimitCheckResult{Allowed: true}
	}

	if s.usage == nil {
		return fail(nil, "Limit check without usage reader")
	}
	current, err := s.usage.CountUsage(ctx, orgID, kind)
	if err != nil {
		return fail(err, "Failed to count usage")
	}

	limitValue := *limit
	result := ent.LimitCheckResult{Current: &current, Limit: &limitValue}
	switch {
	case !ent.ExceedsLimit(current, limit):
		result.Allowed = true
		metrics.LimitChecksTotal.WithLabelValues(string(kind), metrics.OutcomeAllowed).Inc()
	case softCap:
		result.Allowed = true
		result.Reason = ent.PaidUserWarningMessage(limitValue)
		metrics.LimitChecksTotal.WithLabelValues(string(kind), metrics.OutcomeAllowedOverLimit).Inc()
		logger.Info().Int("current", current).Int("limit", limitValue).Msg("Seat added beyond included users")
	default:
		result.Allowed = false
		result.Reason = ent.LimitReachedMessage(kind, limitValue)
		metrics.LimitChecksTotal.WithLabelValues(string(kind), metrics.OutcomeDenied).Inc()
		logger.Debug().Int("current", current).Int("limit", limitValue).Msg("Limit reached")
	}
	return result
}
