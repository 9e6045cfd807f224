package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote-crm/fieldnote/internal/billing"
	"github.com/fieldnote-crm/fieldnote/internal/entitlements"
	"github.com/fieldnote-crm/fieldnote/internal/store"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
	"github.com/fieldnote-crm/fieldnote/pkg/pricing"
)

const testAdminKey = "admin-secret"

type stubProvider struct {
	quantities []int64
	sessions   []billing.CheckoutSessionRequest
}

func (p *stubProvider) GetSubscription(_ context.Context, id string) (*billing.ProviderSubscription, error) {
	return &billing.ProviderSubscription{
		ID:     id,
		Status: "active",
		Items:  []billing.ProviderItem{{ID: "si_1", PriceID: "price_team_m", Quantity: 1}},
	}, nil
}

func (p *stubProvider) UpdateSubscriptionItemQuantity(_ context.Context, _ string, quantity int64, _ string) error {
	p.quantities = append(p.quantities, quantity)
	return nil
}

func (p *stubProvider) CreateCheckoutSession(_ context.Context, req billing.CheckoutSessionRequest) (*billing.CheckoutSessionResult, error) {
	p.sessions = append(p.sessions, req)
	return &billing.CheckoutSessionResult{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil
}

type testServer struct {
	t        *testing.T
	store    *store.Store
	provider *stubProvider
	handler  http.Handler
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func newTestServer(t *testing.T, withProvider bool) *testServer {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "fieldnote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	svc := entitlements.NewService(st, st, st)
	ts := &testServer{t: t, store: st}
	var provider billing.Provider
	if withProvider {
		ts.provider = &stubProvider{}
		provider = ts.provider
	}
	ts.handler = NewRouter(Deps{
		Store:        st,
		Entitlements: svc,
		Reconciler:   billing.NewReconciler(provider, st, st, st),
		Checkout:     billing.NewCheckout(provider, st, st, st, svc, billing.CheckoutConfig{BaseURL: "https://app.example.com"}),
		AdminKey:     testAdminKey,
	})
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedSubscribedOrg creates an organization on a package with the given
// limits and an active subscription.
func (ts *testServer) seedSubscribedOrg(model ent.PricingModel, features ent.PackageFeatures) *ent.Organization {
	ts.t.Helper()
	ctx := context.Background()
	org := &ent.Organization{Name: "Acme"}
	require.NoError(ts.t, ts.store.CreateOrganization(ctx, org))
	pkg := &ent.Package{
		Name:                 "pkg-" + org.ID,
		PricingModel:         model,
		PriceMonthly:         floatPtr(10),
		StripePriceIDMonthly: "price_team_m",
		Features:             features,
		IsActive:             true,
	}
	require.NoError(ts.t, ts.store.UpsertPackage(ctx, pkg))
	require.NoError(ts.t, ts.store.ReplaceEntitlingSubscription(ctx, &ent.Subscription{
		OrganizationID:       org.ID,
		PackageID:            pkg.ID,
		StripeSubscriptionID: "sub_" + org.ID,
		Status:               ent.StatusActive,
		Quantity:             1,
	}))
	return org
}

func TestHealthEndpointsAreUnauthenticated(t *testing.T) {
	ts := newTestServer(t, false)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReadyzReportsDatabaseFailure(t *testing.T) {
	ts := newTestServer(t, false)
	require.NoError(t, ts.store.Close())
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	ts := newTestServer(t, false)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/packages", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/packages", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/packages", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestWebhookRouteWithoutBilling(t *testing.T) {
	ts := newTestServer(t, false)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateOrganization(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(http.MethodPost, "/api/orgs", map[string]string{"name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	org := decode[ent.Organization](t, rec)
	assert.Equal(t, "Acme", org.Name)
	assert.Equal(t, ent.OrganizationActive, org.Status)

	rec = ts.do(http.MethodGet, "/api/orgs/"+org.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/orgs", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decode[APIError](t, rec)
	assert.Equal(t, "validation_failed", apiErr.Code)
	assert.Equal(t, "is required", apiErr.Details["name"])

	rec = ts.do(http.MethodPost, "/api/orgs", map[string]string{"name": "x", "extra": "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownOrganization(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(http.MethodGet, "/api/orgs/org_missing/usage", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntitlementsWithoutSubscription(t *testing.T) {
	ts := newTestServer(t, false)
	org := &ent.Organization{Name: "Free"}
	require.NoError(t, ts.store.CreateOrganization(context.Background(), org))

	rec := ts.do(http.MethodGet, "/api/orgs/"+org.ID+"/entitlements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[entitlementsResponse](t, rec)
	assert.Nil(t, resp.Package)
	assert.Nil(t, resp.Subscription)
	assert.False(t, resp.Features[ent.FeatureAI])
	assert.Equal(t, ent.SupportCommunity, resp.SupportLevel)

	rec = ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/projects", map[string]string{"name": "P"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	check := decode[ent.LimitCheckResult](t, rec)
	assert.False(t, check.Allowed)
	assert.Equal(t, ent.ReasonNoActiveSubscription, check.Reason)
}

func TestProjectLimitEnforced(t *testing.T) {
	ts := newTestServer(t, false)
	org := ts.seedSubscribedOrg(ent.PricingFlatRate, ent.PackageFeatures{
		MaxProjects:       intPtr(1),
		AIFeaturesEnabled: true,
		SupportLevel:      ent.SupportPriority,
	})

	rec := ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/projects", map[string]string{"name": "First"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/projects", map[string]string{"name": "Second"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	check := decode[ent.LimitCheckResult](t, rec)
	assert.Contains(t, check.Reason, "Project limit reached")
	assert.Equal(t, 1, *check.Current)

	rec = ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/templates", map[string]string{"name": "T"})
	assert.Equal(t, http.StatusCreated, rec.Code, "templates are unlimited")

	rec = ts.do(http.MethodGet, "/api/orgs/"+org.ID+"/limits/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ent.LimitCheckResult](t, rec).Allowed)

	rec = ts.do(http.MethodGet, "/api/orgs/"+org.ID+"/limits/widgets", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/orgs/"+org.ID+"/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ent.UsageSnapshot{Projects: 1, Templates: 1}, decode[ent.UsageSnapshot](t, rec))

	rec = ts.do(http.MethodGet, "/api/orgs/"+org.ID+"/entitlements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[entitlementsResponse](t, rec)
	assert.True(t, resp.Features[ent.FeatureAI])
	assert.Equal(t, ent.SupportPriority, resp.SupportLevel)
}

func TestFeatureEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	org := ts.seedSubscribedOrg(ent.PricingFlatRate, ent.PackageFeatures{ExportFeaturesEnabled: true})

	rec := ts.do(http.MethodGet, "/api/orgs/"+org.ID+"/features/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[featureResponse](t, rec)
	assert.True(t, resp.Enabled)
	assert.NotEmpty(t, resp.DisplayName)

	rec = ts.do(http.MethodGet, "/api/orgs/"+org.ID+"/features/ai", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[featureResponse](t, rec).Enabled)

	rec = ts.do(http.MethodGet, "/api/orgs/"+org.ID+"/features/teleport", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMembersReconcileQuantity(t *testing.T) {
	ts := newTestServer(t, true)
	org := ts.seedSubscribedOrg(ent.PricingPerUser, ent.PackageFeatures{MaxUsers: intPtr(2)})
	base := "/api/orgs/" + org.ID + "/members"

	var memberID string
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		rec := ts.do(http.MethodPost, base, map[string]any{"email": email})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[memberChangeResponse](t, rec)
		require.True(t, resp.Reconciliation.Success, resp.Reconciliation.Error)
		assert.Equal(t, int64(i+1), *resp.Reconciliation.NewQuantity)
		if i == 2 {
			assert.Contains(t, resp.Limit.Reason, "increase your monthly subscription cost")
			memberID = resp.Member.ID
		}
	}

	rec := ts.do(http.MethodPost, base, map[string]any{"email": "d@example.com", "allow_paid": false})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = ts.do(http.MethodPost, base, map[string]any{"email": "a@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, base, map[string]any{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodDelete, base+"/"+memberID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[memberChangeResponse](t, rec)
	assert.True(t, resp.Removed)
	assert.Equal(t, int64(2), *resp.Reconciliation.NewQuantity)
	assert.Equal(t, []int64{1, 2, 3, 2}, ts.provider.quantities)

	rec = ts.do(http.MethodDelete, base+"/"+memberID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMemberAddSucceedsWhenBillingNotConfigured(t *testing.T) {
	ts := newTestServer(t, false)
	org := ts.seedSubscribedOrg(ent.PricingPerUser, ent.PackageFeatures{})

	rec := ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/members", map[string]any{"email": "a@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[memberChangeResponse](t, rec)
	assert.False(t, resp.Reconciliation.Success)
	assert.Equal(t, billing.ErrMsgNotConfigured, resp.Reconciliation.Error)

	rec = ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/subscription/reconcile", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	ts := newTestServer(t, true)
	org := ts.seedSubscribedOrg(ent.PricingPerUser, ent.PackageFeatures{})

	rec := ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/subscription/reconcile", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, billing.ErrMsgUserCountTooLow, decode[billing.QuantityResult](t, rec).Error)

	require.NoError(t, ts.store.CreateMember(context.Background(), &store.Member{OrganizationID: org.ID, Email: "a@example.com"}))
	rec = ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/subscription/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), *decode[billing.QuantityResult](t, rec).NewQuantity)
}

func TestEnterprisePackageAndPricing(t *testing.T) {
	ts := newTestServer(t, false)
	org := ts.seedSubscribedOrg(ent.PricingPerUser, ent.PackageFeatures{})
	base := "/api/orgs/" + org.ID

	rec := ts.do(http.MethodGet, base+"/pricing?users=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[effectivePricingResponse](t, rec).Pricing.IsEnterprise)

	rec = ts.do(http.MethodGet, base+"/quote.pdf?users=10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPut, base+"/enterprise-package", map[string]any{
		"custom_price_per_user_monthly": 20,
		"volume_discount_rules":         []map[string]any{{"min_users": 0, "discount_percent": 10}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[APIError](t, rec).ErrorMessage, "Rule 1: min_users")

	rec = ts.do(http.MethodPut, base+"/enterprise-package", map[string]any{
		"custom_price_per_user_monthly": 20,
		"volume_discount_rules": []map[string]any{
			{"min_users": 10, "discount_percent": 10},
			{"min_users": 50, "discount_percent": 25},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, base+"/pricing?users=60&interval=month", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[effectivePricingResponse](t, rec)
	require.True(t, resp.Pricing.IsEnterprise)
	assert.Equal(t, 20.0, resp.Pricing.PricePerUser)
	assert.InDelta(t, 15.0, resp.Pricing.Quote.EffectivePricePerUser, 1e-9)

	rec = ts.do(http.MethodGet, base+"/pricing?users=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodGet, base+"/pricing?interval=week", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, base+"/quote.pdf?users=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = ts.do(http.MethodDelete, base+"/enterprise-package", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodDelete, base+"/enterprise-package", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalculatePricing(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(http.MethodPost, "/api/pricing/calculate", map[string]any{
		"users":               100,
		"base_price_per_user": 10,
		"volume_discount_rules": []map[string]any{
			{"min_users": 50, "discount_percent": 10},
			{"min_users": 100, "discount_percent": 20},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q := decode[pricing.EnterpriseQuote](t, rec)
	assert.InDelta(t, 800.0, q.DiscountedPrice, 1e-9)
	require.NotNil(t, q.AppliedRule)
	assert.Equal(t, "100+ users: 20% off", *q.AppliedRule)

	rec = ts.do(http.MethodPost, "/api/pricing/calculate", map[string]any{
		"users":                 5,
		"base_price_per_user":   10,
		"volume_discount_rules": map[string]any{"min_users": 1},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Volume discount rules must be an array", decode[APIError](t, rec).ErrorMessage)
}

func TestCheckout(t *testing.T) {
	ts := newTestServer(t, true)
	org := ts.seedSubscribedOrg(ent.PricingPerUser, ent.PackageFeatures{})
	pc, err := ts.store.ResolvePackageContext(context.Background(), org.ID)
	require.NoError(t, err)

	rec := ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/checkout", map[string]any{"package_id": pc.Package.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "cs_1", decode[billing.CheckoutSessionResult](t, rec).ID)
	require.Len(t, ts.provider.sessions, 1)
	assert.Equal(t, "price_team_m", ts.provider.sessions[0].PriceID)

	rec = ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/checkout", map[string]any{"package_id": "pkg_missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/checkout", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutUnpricedEnterprisePackageUsesPackagePrice(t *testing.T) {
	ts := newTestServer(t, true)
	org := ts.seedSubscribedOrg(ent.PricingPerUser, ent.PackageFeatures{})
	pc, err := ts.store.ResolvePackageContext(context.Background(), org.ID)
	require.NoError(t, err)

	rec := ts.do(http.MethodPut, "/api/orgs/"+org.ID+"/enterprise-package", map[string]any{
		"volume_discount_rules": []map[string]any{},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/checkout", map[string]any{"package_id": pc.Package.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, ts.provider.sessions, 1)
	assert.Nil(t, ts.provider.sessions[0].PriceData)
	assert.Equal(t, "price_team_m", ts.provider.sessions[0].PriceID)
}

func TestCheckoutWithoutBilling(t *testing.T) {
	ts := newTestServer(t, false)
	org := ts.seedSubscribedOrg(ent.PricingPerUser, ent.PackageFeatures{})

	rec := ts.do(http.MethodPost, "/api/orgs/"+org.ID+"/checkout", map[string]any{"package_id": "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDisabledOrganizationRejectsWrites(t *testing.T) {
	ts := newTestServer(t, false)
	org := ts.seedSubscribedOrg(ent.PricingFlatRate, ent.PackageFeatures{})
	require.NoError(t, ts.store.SetOrganizationStatus(context.Background(), org.ID, ent.OrganizationDisabled))

	writes := []struct{ method, path string }{
		{http.MethodPost, "/api/orgs/" + org.ID + "/projects"},
		{http.MethodDelete, "/api/orgs/" + org.ID + "/members/mem_1"},
		{http.MethodDelete, "/api/orgs/" + org.ID + "/enterprise-package"},
	}
	for _, w := range writes {
		var body any
		if w.method == http.MethodPost {
			body = map[string]string{"name": "P"}
		}
		rec := ts.do(w.method, w.path, body)
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", w.method, w.path)
		assert.Equal(t, "organization_disabled", decode[APIError](t, rec).Code)
	}

	rec := ts.do(http.MethodGet, "/api/orgs/"+org.ID+"/usage", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecovererHandlesPanics(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[APIError](t, rec).Code)
}
