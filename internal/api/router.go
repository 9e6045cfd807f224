// Package api serves the entitlement and billing HTTP API.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fieldnote-crm/fieldnote/internal/billing"
	"github.com/fieldnote-crm/fieldnote/internal/entitlements"
	"github.com/fieldnote-crm/fieldnote/internal/logging"
	"github.com/fieldnote-crm/fieldnote/internal/store"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

// Store is the persistence the API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	CreateOrganization(ctx context.Context, org *ent.Organization) error
	GetOrganization(ctx context.Context, id string) (*ent.Organization, error)
	GetPackage(ctx context.Context, id string) (*ent.Package, error)
	ListPackages(ctx context.Context, activeOnly bool) ([]*ent.Package, error)
	ResolvePackageContext(ctx context.Context, orgID string) (*ent.PackageContext, error)
	UsageSnapshot(ctx context.Context, orgID string) (ent.UsageSnapshot, error)
	CountUsage(ctx context.Context, orgID string, kind ent.ResourceKind) (int, error)
	CreateMember(ctx context.Context, m *store.Member) error
	RemoveMember(ctx context.Context, orgID, memberID string) error
	CreateProject(ctx context.Context, p *store.Project) error
	CreateTemplate(ctx context.Context, t *store.Template) error
	GetActiveCustomPackage(ctx context.Context, orgID string) (*ent.CustomEnterprisePackage, error)
	SaveCustomPackage(ctx context.Context, cp *ent.CustomEnterprisePackage) error
	DeactivateCustomPackage(ctx context.Context, orgID string) error
}

// Deps wires the router. Webhook may be nil when billing is not
// configured.
type Deps struct {
	Store        Store
	Entitlements *entitlements.Service
	Reconciler   *billing.Reconciler
	Checkout     *billing.Checkout
	Webhook      http.Handler
	AdminKey     string
	Currency     string
}

// Router holds the handler dependencies.
type Router struct {
	store        Store
	entitlements *entitlements.Service
	reconciler   *billing.Reconciler
	checkout     *billing.Checkout
	currency     string
}

// NewRouter builds the HTTP handler with request logging and tracing.
func NewRouter(d Deps) http.Handler {
	rt := &Router{
		store:        d.Store,
		entitlements: d.Entitlements,
		reconciler:   d.Reconciler,
		checkout:     d.Checkout,
		currency:     d.Currency,
	}
	if rt.currency == "" {
		rt.currency = "usd"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.handleHealthz)
	mux.HandleFunc("GET /readyz", rt.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	webhook := d.Webhook
	if webhook == nil {
		webhook = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeErrorResponse(w, r, http.StatusServiceUnavailable, "not_configured", "Billing is not configured", nil)
		})
	}
	mux.Handle("POST /api/stripe/webhook", webhook)

	admin := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, requireAdmin(d.AdminKey, h))
	}
	admin("GET /api/packages", rt.handleListPackages)
	admin("POST /api/pricing/calculate", rt.handleCalculatePricing)
	admin("POST /api/orgs", rt.handleCreateOrganization)
	admin("GET /api/orgs/{orgID}", rt.handleGetOrganization)
	admin("GET /api/orgs/{orgID}/entitlements", rt.handleEntitlements)
	admin("GET /api/orgs/{orgID}/limits/{resource}", rt.handleCheckLimit)
	admin("GET /api/orgs/{orgID}/features/{feature}", rt.handleFeature)
	admin("GET /api/orgs/{orgID}/usage", rt.handleUsage)
	admin("POST /api/orgs/{orgID}/projects", rt.handleCreateProject)
	admin("POST /api/orgs/{orgID}/templates", rt.handleCreateTemplate)
	admin("POST /api/orgs/{orgID}/members", rt.handleAddMember)
	admin("DELETE /api/orgs/{orgID}/members/{memberID}", rt.handleRemoveMember)
	admin("GET /api/orgs/{orgID}/pricing", rt.handleEffectivePricing)
	admin("GET /api/orgs/{orgID}/quote.pdf", rt.handleQuotePDF)
	admin("PUT /api/orgs/{orgID}/enterprise-package", rt.handleSaveEnterprisePackage)
	admin("DELETE /api/orgs/{orgID}/enterprise-package", rt.handleDeleteEnterprisePackage)
	admin("POST /api/orgs/{orgID}/subscription/reconcile", rt.handleReconcile)
	admin("POST /api/orgs/{orgID}/checkout", rt.handleCheckout)

	var h http.Handler = mux
	h = recoverer(h)
	h = logging.Middleware(h)
	return otelhttp.NewHandler(h, "fieldnote.api")
}

func (rt *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := rt.store.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Warn().Err(err).Msg("Readiness check failed")
		writeErrorResponse(w, r, http.StatusServiceUnavailable, "not_ready", "Database unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// loadOrg resolves the {orgID} path value, writing 404 when it does not
// exist.
func (rt *Router) loadOrg(w http.ResponseWriter, r *http.Request) (*ent.Organization, bool) {
	orgID := r.PathValue("orgID")
	org, err := rt.store.GetOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err, "Failed to load organization")
		return nil, false
	}
	if org == nil {
		writeErrorResponse(w, r, http.StatusNotFound, "not_found", "Organization not found", nil)
		return nil, false
	}
	return org, true
}

// loadActiveOrg is loadOrg for write paths: disabled organizations are
// rejected.
func (rt *Router) loadActiveOrg(w http.ResponseWriter, r *http.Request) (*ent.Organization, bool) {
	org, ok := rt.loadOrg(w, r)
	if !ok {
		return nil, false
	}
	if org.Status != ent.OrganizationActive {
		writeErrorResponse(w, r, http.StatusForbidden, "organization_disabled", "Organization is disabled", nil)
		return nil, false
	}
	return org, true
}
