package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/fieldnote-crm/fieldnote/internal/billing"
	"github.com/fieldnote-crm/fieldnote/internal/entitlements"
	"github.com/fieldnote-crm/fieldnote/internal/logging"
	"github.com/fieldnote-crm/fieldnote/internal/quote"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
	"github.com/fieldnote-crm/fieldnote/pkg/pricing"
)

type enterprisePackageRequest struct {
	BasePackageID             string          `json:"base_package_id"`
	CustomPricePerUserMonthly *float64        `json:"custom_price_per_user_monthly" validate:"omitempty,gte=0"`
	CustomPricePerUserYearly  *float64        `json:"custom_price_per_user_yearly" validate:"omitempty,gte=0"`
	VolumeDiscountRules       json.RawMessage `json:"volume_discount_rules"`
	Notes                     string          `json:"notes" validate:"max=2000"`
}

type calculatePricingRequest struct {
	Users               int             `json:"users" validate:"gte=0"`
	BasePricePerUser    float64         `json:"base_price_per_user" validate:"gte=0"`
	VolumeDiscountRules json.RawMessage `json:"volume_discount_rules"`
}

type effectivePricingResponse struct {
	OrganizationID string                        `json:"organization_id"`
	Users          int                           `json:"users"`
	Interval       ent.BillingInterval           `json:"interval"`
	Pricing        entitlements.EffectivePricing `json:"pricing"`
}

func (rt *Router) handleEffectivePricing(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadOrg(w, r)
	if !ok {
		return
	}
	users, interval, ok := rt.pricingParams(w, r, org.ID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, effectivePricingResponse{
		OrganizationID: org.ID,
		Users:          users,
		Interval:       interval,
		Pricing:        rt.entitlements.GetEffectivePricing(r.Context(), org.ID, users, interval),
	})
}

func (rt *Router) handleQuotePDF(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadOrg(w, r)
	if !ok {
		return
	}
	users, interval, ok := rt.pricingParams(w, r, org.ID)
	if !ok {
		return
	}

	effective := rt.entitlements.GetEffectivePricing(r.Context(), org.ID, users, interval)
	if !effective.IsEnterprise || effective.Quote == nil {
		writeErrorResponse(w, r, http.StatusNotFound, "no_enterprise_package",
			"Organization has no custom enterprise package", nil)
		return
	}

	doc, err := quote.Render(quote.Quote{
		OrganizationName: org.Name,
		OrganizationID:   org.ID,
		Interval:         string(interval),
		Currency:         rt.currency,
		Rules:            effective.CustomPackage.VolumeDiscountRules,
		Result:           *effective.Quote,
	})
	if err != nil {
		writeError(w, r, err, "Failed to render quote")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="quote-%s.pdf"`, org.ID))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// pricingParams reads ?users= (default: live member count) and ?interval=.
func (rt *Router) pricingParams(w http.ResponseWriter, r *http.Request, orgID string) (int, ent.BillingInterval, bool) {
	q := r.URL.Query()
	interval, ok := ent.ParseInterval(q.Get("interval"))
	if !ok {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_parameter", "interval must be month or year", nil)
		return 0, "", false
	}

	raw := strings.TrimSpace(q.Get("users"))
	if raw == "" {
		users, err := rt.store.CountUsage(r.Context(), orgID, ent.ResourceUsers)
		if err != nil {
			writeError(w, r, err, "Failed to count users")
			return 0, "", false
		}
		return users, interval, true
	}
	users, err := strconv.Atoi(raw)
	if err != nil || users < 0 {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_parameter", "users must be a non-negative integer", nil)
		return 0, "", false
	}
	return users, interval, true
}

func (rt *Router) handleSaveEnterprisePackage(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadActiveOrg(w, r)
	if !ok {
		return
	}
	var req enterprisePackageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rules, result := parseRules(req.VolumeDiscountRules)
	if !result.IsValid {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_rules", result.Error, nil)
		return
	}

	if req.BasePackageID != "" {
		base, err := rt.store.GetPackage(r.Context(), req.BasePackageID)
		if err != nil {
			writeError(w, r, err, "Failed to load base package")
			return
		}
		if base == nil {
			writeErrorResponse(w, r, http.StatusBadRequest, "invalid_input", "Base package not found", nil)
			return
		}
	}

	cp := &ent.CustomEnterprisePackage{
		OrganizationID:            org.ID,
		BasePackageID:             req.BasePackageID,
		CustomPricePerUserMonthly: req.CustomPricePerUserMonthly,
		CustomPricePerUserYearly:  req.CustomPricePerUserYearly,
		VolumeDiscountRules:       rules,
		Notes:                     req.Notes,
	}
	if err := rt.store.SaveCustomPackage(r.Context(), cp); err != nil {
		writeError(w, r, err, "Failed to save enterprise package")
		return
	}
	logging.FromContext(r.Context()).Info().
		Str("org_id", org.ID).
		Int("rules", len(rules)).
		Msg("Custom enterprise package saved")
	writeJSON(w, http.StatusOK, cp)
}

func (rt *Router) handleDeleteEnterprisePackage(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadActiveOrg(w, r)
	if !ok {
		return
	}
	if err := rt.store.DeactivateCustomPackage(r.Context(), org.ID); err != nil {
		writeError(w, r, err, "Failed to remove enterprise package")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleReconcile(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadOrg(w, r)
	if !ok {
		return
	}
	result := rt.reconciler.UpdateSubscriptionQuantityForUsers(r.Context(), org.ID)
	switch {
	case result.Success:
		writeJSON(w, http.StatusOK, result)
	case result.Error == billing.ErrMsgNotConfigured:
		writeJSON(w, http.StatusServiceUnavailable, result)
	default:
		writeJSON(w, http.StatusUnprocessableEntity, result)
	}
}

func (rt *Router) handleCheckout(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadActiveOrg(w, r)
	if !ok {
		return
	}
	var req billing.CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	session, err := rt.checkout.CreateSession(r.Context(), org.ID, req)
	if err != nil {
		writeError(w, r, err, "Failed to create checkout session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (rt *Router) handleCalculatePricing(w http.ResponseWriter, r *http.Request) {
	var req calculatePricingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rules, result := parseRules(req.VolumeDiscountRules)
	if !result.IsValid {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_rules", result.Error, nil)
		return
	}
	writeJSON(w, http.StatusOK, pricing.CalculateEnterprisePrice(req.Users, req.BasePricePerUser, rules))
}

// parseRules treats a missing rule list as empty.
func parseRules(raw json.RawMessage) ([]pricing.VolumeDiscountRule, pricing.ValidationResult) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		raw = json.RawMessage("[]")
	}
	return pricing.ParseVolumeDiscountRules(raw)
}
