package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fieldnote-crm/fieldnote/internal/billing"
	"github.com/fieldnote-crm/fieldnote/internal/logging"
	"github.com/fieldnote-crm/fieldnote/internal/store"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

type createOrganizationRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type namedResourceRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type addMemberRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Role      string `json:"role" validate:"omitempty,oneof=owner admin member"`
	AllowPaid *bool  `json:"allow_paid"`
}

type entitlementsResponse struct {
	OrganizationID string            `json:"organization_id"`
	Package        *ent.Package      `json:"package"`
	Subscription   *ent.Subscription `json:"subscription"`
	Features       map[string]bool   `json:"features"`
	SupportLevel   ent.SupportLevel  `json:"support_level"`
	Usage          ent.UsageSnapshot `json:"usage"`
}

type featureResponse struct {
	Feature     string `json:"feature"`
	DisplayName string `json:"display_name"`
	Enabled     bool   `json:"enabled"`
}

type resourceCreatedResponse struct {
	Resource any                  `json:"resource"`
	Limit    ent.LimitCheckResult `json:"limit"`
}

type memberChangeResponse struct {
	Member         *store.Member          `json:"member,omitempty"`
	Removed        bool                   `json:"removed,omitempty"`
	Limit          *ent.LimitCheckResult  `json:"limit,omitempty"`
	Reconciliation billing.QuantityResult `json:"reconciliation"`
}

func (rt *Router) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	org := &ent.Organization{Name: req.Name}
	if err := rt.store.CreateOrganization(r.Context(), org); err != nil {
		writeError(w, r, err, "Failed to create organization")
		return
	}
	logging.FromContext(r.Context()).Info().Str("org_id", org.ID).Msg("Organization created")
	writeJSON(w, http.StatusCreated, org)
}

func (rt *Router) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadOrg(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (rt *Router) handleListPackages(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	pkgs, err := rt.store.ListPackages(r.Context(), activeOnly)
	if err != nil {
		writeError(w, r, err, "Failed to list packages")
		return
	}
	if pkgs == nil {
		pkgs = []*ent.Package{}
	}
	writeJSON(w, http.StatusOK, pkgs)
}

func (rt *Router) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadOrg(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	pc, err := rt.store.ResolvePackageContext(ctx, org.ID)
	if err != nil {
		writeError(w, r, err, "Failed to resolve package")
		return
	}
	usage, err := rt.store.UsageSnapshot(ctx, org.ID)
	if err != nil {
		writeError(w, r, err, "Failed to load usage")
		return
	}

	resp := entitlementsResponse{
		OrganizationID: org.ID,
		Features:       ent.PackageFeatures{}.FlagMap(),
		SupportLevel:   ent.SupportCommunity,
		Usage:          usage,
	}
	if pc != nil {
		resp.Subscription = pc.Subscription
		if pc.Package != nil {
			resp.Package = pc.Package
			resp.Features = pc.Package.Features.FlagMap()
			if pc.Package.Features.SupportLevel != "" {
				resp.SupportLevel = pc.Package.Features.SupportLevel
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) handleCheckLimit(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadOrg(w, r)
	if !ok {
		return
	}
	kind, ok := ent.ParseResourceKind(r.PathValue("resource"))
	if !ok {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_resource",
			"Resource must be one of: projects, users, templates", nil)
		return
	}
	allowPaid, ok := parseBoolParam(w, r, "allow_paid", true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rt.entitlements.CheckLimit(r.Context(), org.ID, kind, allowPaid))
}

func (rt *Router) handleFeature(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadOrg(w, r)
	if !ok {
		return
	}
	feature := r.PathValue("feature")
	if _, known := (ent.PackageFeatures{}).Enabled(feature); !known {
		writeErrorResponse(w, r, http.StatusNotFound, "unknown_feature", "Unknown feature", nil)
		return
	}
	writeJSON(w, http.StatusOK, featureResponse{
		Feature:     feature,
		DisplayName: ent.GetFeatureDisplayName(feature),
		Enabled:     rt.entitlements.HasFeature(r.Context(), org.ID, feature),
	})
}

func (rt *Router) handleUsage(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadOrg(w, r)
	if !ok {
		return
	}
	usage, err := rt.store.UsageSnapshot(r.Context(), org.ID)
	if err != nil {
		writeError(w, r, err, "Failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (rt *Router) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadActiveOrg(w, r)
	if !ok {
		return
	}
	var req namedResourceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	check := rt.entitlements.CanCreateProject(r.Context(), org.ID)
	if !check.Allowed {
		writeJSON(w, http.StatusPaymentRequired, check)
		return
	}
	project := &store.Project{OrganizationID: org.ID, Name: req.Name}
	if err := rt.store.CreateProject(r.Context(), project); err != nil {
		writeError(w, r, err, "Failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, resourceCreatedResponse{Resource: project, Limit: check})
}

func (rt *Router) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadActiveOrg(w, r)
	if !ok {
		return
	}
	var req namedResourceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	check := rt.entitlements.CanCreateTemplate(r.Context(), org.ID)
	if !check.Allowed {
		writeJSON(w, http.StatusPaymentRequired, check)
		return
	}
	tmpl := &store.Template{OrganizationID: org.ID, Name: req.Name}
	if err := rt.store.CreateTemplate(r.Context(), tmpl); err != nil {
		writeError(w, r, err, "Failed to create template")
		return
	}
	writeJSON(w, http.StatusCreated, resourceCreatedResponse{Resource: tmpl, Limit: check})
}

func (rt *Router) handleAddMember(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadActiveOrg(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	allowPaid := req.AllowPaid == nil || *req.AllowPaid

	check := rt.entitlements.CanAddUser(r.Context(), org.ID, allowPaid)
	if !check.Allowed {
		writeJSON(w, http.StatusPaymentRequired, check)
		return
	}
	member := &store.Member{OrganizationID: org.ID, Email: req.Email, Role: req.Role}
	if err := rt.store.CreateMember(r.Context(), member); err != nil {
		writeError(w, r, err, "Failed to add member")
		return
	}

	writeJSON(w, http.StatusCreated, memberChangeResponse{
		Member:         member,
		Limit:          &check,
		Reconciliation: rt.reconciler.UpdateSubscriptionQuantityForUsers(r.Context(), org.ID),
	})
}

func (rt *Router) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	org, ok := rt.loadActiveOrg(w, r)
	if !ok {
		return
	}
	if err := rt.store.RemoveMember(r.Context(), org.ID, r.PathValue("memberID")); err != nil {
		writeError(w, r, err, "Failed to remove member")
		return
	}
	writeJSON(w, http.StatusOK, memberChangeResponse{
		Removed:        true,
		Reconciliation: rt.reconciler.UpdateSubscriptionQuantityForUsers(r.Context(), org.ID),
	})
}

func parseBoolParam(w http.ResponseWriter, r *http.Request, name string, fallback bool) (bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_parameter", name+" must be true or false", nil)
		return false, false
	}
	return v, true
}
