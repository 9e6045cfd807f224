// Package metrics registers the Prometheus collectors for entitlement
// checks and billing reconciliation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Limit check outcomes.
const (
	OutcomeAllowed          = "allowed"
	OutcomeAllowedOverLimit = "allowed_over_limit"
	OutcomeDenied           = "denied"
	OutcomeError            = "error"
	OutcomeNoSubscription   = "no_subscription"
)

// Reconciliation outcomes.
const (
	ReconcileUpdated       = "updated"
	ReconcileSkipped       = "skipped"
	ReconcileFailed        = "failed"
	ReconcileNotConfigured = "not_configured"
)

var (
	// LimitChecksTotal counts limit evaluations by resource and outcome.
	LimitChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldnote",
		Subsystem: "entitlements",
		Name:      "limit_checks_total",
		Help:      "Total resource limit checks by resource and outcome.",
	}, []string{"resource", "outcome"})

	// FeatureChecksTotal counts feature gate lookups.
	FeatureChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldnote",
		Subsystem: "entitlements",
		Name:      "feature_checks_total",
		Help:      "Total feature gate checks by feature and result.",
	}, []string{"feature", "result"})

	// ReconciliationsTotal counts subscription quantity reconciliations.
	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldnote",
		Subsystem: "billing",
		Name:      "reconciliations_total",
		Help:      "Total subscription quantity reconciliations by outcome.",
	}, []string{"outcome"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldnote",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fieldnote",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})
)

// BoolLabel renders a boolean as a metric label value.
func BoolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
