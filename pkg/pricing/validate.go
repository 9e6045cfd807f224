package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ValidationResult reports whether a rule set is acceptable. Error names the
// first violation, with 1-indexed rule positions.
type ValidationResult struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{IsValid: false, Error: fmt.Sprintf(format, args...)}
}

// ValidateVolumeDiscountRules checks thresholds, percentages and threshold
// uniqueness. The first violation short-circuits.
func ValidateVolumeDiscountRules(rules []VolumeDiscountRule) ValidationResult {
	if rules == nil {
		return invalid("Volume discount rules must be an array")
	}

	seen := make(map[float64]int, len(rules))
	for i, rule := range rules {
		pos := i + 1
		if math.IsNaN(rule.MinUsers) || math.IsInf(rule.MinUsers, 0) || rule.MinUsers < 1 {
			return invalid("Rule %d: min_users must be a number greater than or equal to 1", pos)
		}
		if math.IsNaN(rule.DiscountPercent) || math.IsInf(rule.DiscountPercent, 0) ||
			rule.DiscountPercent < 0 || rule.DiscountPercent > 100 {
			return invalid("Rule %d: discount_percent must be a number between 0 and 100", pos)
		}
		if first, dup := seen[rule.MinUsers]; dup {
			return invalid("Rule %d: min_users %s duplicates rule %d", pos, formatNumber(rule.MinUsers), first)
		}
		seen[rule.MinUsers] = pos
	}
	return ValidationResult{IsValid: true}
}

// ParseVolumeDiscountRules decodes an untyped JSON rule list, rejecting
// non-array input and non-numeric fields before running the typed checks.
func ParseVolumeDiscountRules(raw json.RawMessage) ([]VolumeDiscountRule, ValidationResult) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, invalid("Volume discount rules must be an array")
	}

	var items []map[string]any
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, invalid("Volume discount rules must be an array of objects")
	}

	rules := make([]VolumeDiscountRule, 0, len(items))
	for i, item := range items {
		pos := i + 1
		minUsers, ok := item["min_users"].(float64)
		if !ok {
			return nil, invalid("Rule %d: min_users must be a number greater than or equal to 1", pos)
		}
		discount, ok := item["discount_percent"].(float64)
		if !ok {
			return nil, invalid("Rule %d: discount_percent must be a number between 0 and 100", pos)
		}
		rules = append(rules, VolumeDiscountRule{MinUsers: minUsers, DiscountPercent: discount})
	}

	result := ValidateVolumeDiscountRules(rules)
	if !result.IsValid {
		return nil, result
	}
	return rules, result
}
