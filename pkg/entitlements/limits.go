package entitlements

import (
	"fmt"
	"strings"
)

// ReasonNoActiveSubscription is returned when an organization has no
// entitling subscription.
const ReasonNoActiveSubscription = "No active subscription found"

// LimitReachedMessage is the hard-cap denial reason shown to end users.
func LimitReachedMessage(kind ResourceKind, limit int) string {
	noun := kind.Singular()
	return fmt.Sprintf("%s limit reached. Maximum %d %ss allowed.", capitalize(noun), limit, noun)
}

// PaidUserWarningMessage is attached when a seat is added beyond the
// included user count under pay-as-you-grow pricing.
func PaidUserWarningMessage(limit int) string {
	return fmt.Sprintf("User limit reached. Your package includes %d users. Adding more users will increase your monthly subscription cost.", limit)
}

// LimitCheckErrorMessage is the generic reason used when a check fails on
// an infrastructure error.
func LimitCheckErrorMessage(kind ResourceKind) string {
	return fmt.Sprintf("Error checking %s limit", kind.Singular())
}

// ExceedsLimit reports whether current usage is at or beyond a cap. A nil
// cap is unlimited.
func ExceedsLimit(current int, limit *int) bool {
	if limit == nil {
		return false
	}
	return current >= *limit
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
