package entitlements

import "strings"

// SubscriptionStatus is the locally tracked lifecycle state of a
// subscription.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusPaused     SubscriptionStatus = "paused"
)

// EntitlingStatuses are the states in which a subscription grants its
// package. At most one subscription per organization may be in one of them.
var EntitlingStatuses = []SubscriptionStatus{StatusActive, StatusTrialing, StatusPastDue}

// Entitling reports whether the status grants package entitlements.
func (s SubscriptionStatus) Entitling() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// Reconcilable reports whether provider quantity should track seat count.
func (s SubscriptionStatus) Reconcilable() bool {
	return s == StatusActive || s == StatusTrialing
}

// MapStripeSubscriptionStatus converts a Stripe subscription status to the
// local status. Unknown values fail closed.
func MapStripeSubscriptionStatus(status string) SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due", "unpaid":
		return StatusPastDue
	case "canceled", "incomplete_expired":
		return StatusCanceled
	case "paused":
		return StatusPaused
	default:
		return StatusIncomplete
	}
}
