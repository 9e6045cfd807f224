// Package pricing implements enterprise volume-discount pricing.
//
// The calculator is pure: it trusts rules that have already passed
// ValidateVolumeDiscountRules and never consults a store.
package pricing

import (
	"fmt"
	"sort"
	"strconv"
)

// VolumeDiscountRule is a discount tier applied once an organization reaches
// MinUsers seats.
type VolumeDiscountRule struct {
	MinUsers        float64 `json:"min_users" yaml:"min_users"`
	DiscountPercent float64 `json:"discount_percent" yaml:"discount_percent"`
}

// EnterpriseQuote is the result of pricing a seat count against a rule set.
type EnterpriseQuote struct {
	UserCount             int                 `json:"user_count"`
	BasePricePerUser      float64             `json:"base_price_per_user"`
	BasePrice             float64             `json:"base_price"`
	DiscountPercent       float64             `json:"discount_percent"`
	DiscountAmount        float64             `json:"discount_amount"`
	DiscountedPrice       float64             `json:"discounted_price"`
	EffectivePricePerUser float64             `json:"effective_price_per_user"`
	AppliedRule           *string             `json:"applied_rule"`
	SelectedRule          *VolumeDiscountRule `json:"-"`
}

// CalculateEnterprisePrice applies the highest qualifying discount tier to
// userCount seats at basePricePerUser.
func CalculateEnterprisePrice(userCount int, basePricePerUser float64, rules []VolumeDiscountRule) EnterpriseQuote {
	sorted := make([]VolumeDiscountRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinUsers > sorted[j].MinUsers
	})

	var selected *VolumeDiscountRule
	for i := range sorted {
		if float64(userCount) >= sorted[i].MinUsers {
			rule := sorted[i]
			selected = &rule
			break
		}
	}

	basePrice := basePricePerUser * float64(userCount)
	discountPercent := 0.0
	if selected != nil {
		discountPercent = selected.DiscountPercent
	}
	discountAmount := basePrice * discountPercent / 100
	discountedPrice := basePrice - discountAmount

	effective := 0.0
	if userCount > 0 {
		effective = discountedPrice / float64(userCount)
	}

	quote := EnterpriseQuote{
		UserCount:             userCount,
		BasePricePerUser:      basePricePerUser,
		BasePrice:             basePrice,
		DiscountPercent:       discountPercent,
		DiscountAmount:        discountAmount,
		DiscountedPrice:       discountedPrice,
		EffectivePricePerUser: effective,
		SelectedRule:          selected,
	}
	if selected != nil {
		label := FormatRule(*selected)
		quote.AppliedRule = &label
	}
	return quote
}

// FormatRule renders a rule the way quotes display it, e.g. "50+ users: 15% off".
func FormatRule(rule VolumeDiscountRule) string {
	return fmt.Sprintf("%s+ users: %s%% off", formatNumber(rule.MinUsers), formatNumber(rule.DiscountPercent))
}

// SortRules returns a copy of rules ordered by ascending threshold.
func SortRules(rules []VolumeDiscountRule) []VolumeDiscountRule {
	sorted := make([]VolumeDiscountRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinUsers < sorted[j].MinUsers
	})
	return sorted
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
