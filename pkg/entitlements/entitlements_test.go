package entitlements

import "testing"

func intPtr(v int) *int { return &v }

func TestMapStripeSubscriptionStatus(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   SubscriptionStatus
	}{
		{name: "active", status: "active", want: StatusActive},
		{name: "trialing", status: "trialing", want: StatusTrialing},
		{name: "past due", status: "past_due", want: StatusPastDue},
		{name: "unpaid", status: "unpaid", want: StatusPastDue},
		{name: "canceled", status: "canceled", want: StatusCanceled},
		{name: "incomplete expired", status: "incomplete_expired", want: StatusCanceled},
		{name: "paused", status: "paused", want: StatusPaused},
		{name: "incomplete", status: "incomplete", want: StatusIncomplete},
		{name: "unknown", status: "mystery", want: StatusIncomplete},
		{name: "trim and case", status: "  TRIALING ", want: StatusTrialing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapStripeSubscriptionStatus(tt.status); got != tt.want {
				t.Fatalf("status=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubscriptionStatusPredicates(t *testing.T) {
	tests := []struct {
		status       SubscriptionStatus
		entitling    bool
		reconcilable bool
	}{
		{StatusActive, true, true},
		{StatusTrialing, true, true},
		{StatusPastDue, true, false},
		{StatusCanceled, false, false},
		{StatusIncomplete, false, false},
		{StatusPaused, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Entitling(); got != tt.entitling {
				t.Fatalf("Entitling()=%t, want %t", got, tt.entitling)
			}
			if got := tt.status.Reconcilable(); got != tt.reconcilable {
				t.Fatalf("Reconcilable()=%t, want %t", got, tt.reconcilable)
			}
		})
	}
}

func TestLimitMessages(t *testing.T) {
	if got, want := LimitReachedMessage(ResourceProjects, 3), "Project limit reached. Maximum 3 projects allowed."; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := LimitReachedMessage(ResourceTemplates, 10), "Template limit reached. Maximum 10 templates allowed."; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := LimitCheckErrorMessage(ResourceUsers), "Error checking user limit"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := PaidUserWarningMessage(5); got == "" {
		t.Fatal("expected non-empty paid user warning")
	}
}

func TestExceedsLimit(t *testing.T) {
	tests := []struct {
		name    string
		current int
		limit   *int
		want    bool
	}{
		{name: "unlimited", current: 1000, limit: nil, want: false},
		{name: "below", current: 2, limit: intPtr(3), want: false},
		{name: "at", current: 3, limit: intPtr(3), want: true},
		{name: "over", current: 4, limit: intPtr(3), want: true},
		{name: "zero cap", current: 0, limit: intPtr(0), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExceedsLimit(tt.current, tt.limit); got != tt.want {
				t.Fatalf("ExceedsLimit(%d)=%t, want %t", tt.current, got, tt.want)
			}
		})
	}
}

func TestPackageFeaturesLookups(t *testing.T) {
	f := PackageFeatures{
		MaxProjects:       intPtr(5),
		AIFeaturesEnabled: true,
		APIAccessEnabled:  true,
		SupportLevel:      SupportPriority,
	}

	if got := f.Limit(ResourceProjects); got == nil || *got != 5 {
		t.Fatalf("projects limit = %v, want 5", got)
	}
	if got := f.Limit(ResourceUsers); got != nil {
		t.Fatalf("users limit = %v, want nil", *got)
	}
	if on, ok := f.Enabled(FeatureAI); !ok || !on {
		t.Fatalf("ai enabled=%t ok=%t", on, ok)
	}
	if on, ok := f.Enabled(FeatureExport); !ok || on {
		t.Fatalf("export enabled=%t ok=%t", on, ok)
	}
	if _, ok := f.Enabled("teleport"); ok {
		t.Fatal("unknown feature should not resolve")
	}
	flags := f.FlagMap()
	if len(flags) != len(AllFeatures) || !flags[FeatureAPIAccess] {
		t.Fatalf("unexpected flag map %#v", flags)
	}
}

func TestPackagePriceFor(t *testing.T) {
	monthly, yearly := 12.0, 120.0
	p := &Package{PriceMonthly: &monthly, PriceYearly: &yearly, StripePriceIDMonthly: "price_m", StripePriceIDYearly: "price_y"}

	if got := p.PriceFor(IntervalMonth); got == nil || *got != 12 {
		t.Fatalf("monthly price = %v", got)
	}
	if got := p.PriceFor(IntervalYear); got == nil || *got != 120 {
		t.Fatalf("yearly price = %v", got)
	}
	if got := p.StripePriceIDFor(IntervalYear); got != "price_y" {
		t.Fatalf("yearly price id = %q", got)
	}
	var nilPkg *Package
	if nilPkg.PriceFor(IntervalMonth) != nil {
		t.Fatal("nil package should have no price")
	}
}

func TestParseInterval(t *testing.T) {
	if got, ok := ParseInterval(""); !ok || got != IntervalMonth {
		t.Fatalf("empty interval -> %q %t", got, ok)
	}
	if got, ok := ParseInterval("year"); !ok || got != IntervalYear {
		t.Fatalf("year -> %q %t", got, ok)
	}
	if _, ok := ParseInterval("week"); ok {
		t.Fatal("week should be rejected")
	}
}
