package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote-crm/fieldnote/internal/metrics"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

type updateCall struct {
	itemID    string
	quantity  int64
	proration string
}

type fakeProvider struct {
	subs       map[string]*ProviderSubscription
	getErr     error
	updateErr  error
	updates    []updateCall
	getCalls   int
	sessions   []CheckoutSessionRequest
	sessionErr error
}

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (*ProviderSubscription, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if sub, ok := f.subs[id]; ok {
		return sub, nil
	}
	return nil, errors.New("no such subscription: " + id)
}

func (f *fakeProvider) UpdateSubscriptionItemQuantity(_ context.Context, itemID string, quantity int64, proration string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updateCall{itemID: itemID, quantity: quantity, proration: proration})
	return nil
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req CheckoutSessionRequest) (*CheckoutSessionResult, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.sessions = append(f.sessions, req)
	return &CheckoutSessionResult{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

type fakeResolver struct {
	contexts map[string]*ent.PackageContext
	err      error
}

func (f *fakeResolver) ResolvePackageContext(_ context.Context, orgID string) (*ent.PackageContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.contexts[orgID], nil
}

type fakeUsage struct {
	users map[string]int
	err   error
}

func (f *fakeUsage) CountUsage(_ context.Context, orgID string, kind ent.ResourceKind) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if kind != ent.ResourceUsers {
		return 0, nil
	}
	return f.users[orgID], nil
}

type fakeMirror struct {
	quantities map[string]int64
	err        error
}

func (f *fakeMirror) SetSubscriptionQuantity(_ context.Context, id string, quantity int64) error {
	if f.err != nil {
		return f.err
	}
	if f.quantities == nil {
		f.quantities = map[string]int64{}
	}
	f.quantities[id] = quantity
	return nil
}

func perUserContext(status ent.SubscriptionStatus) *ent.PackageContext {
	return &ent.PackageContext{
		Package: &ent.Package{ID: "pkg_team", Name: "team", PricingModel: ent.PricingPerUser},
		Subscription: &ent.Subscription{
			ID:                   "sub_local_1",
			OrganizationID:       "org_1",
			PackageID:            "pkg_team",
			StripeSubscriptionID: "sub_stripe_1",
			Status:               status,
		},
	}
}

func liveSubscription() *ProviderSubscription {
	return &ProviderSubscription{
		ID:     "sub_stripe_1",
		Status: "active",
		Items:  []ProviderItem{{ID: "si_1", PriceID: "price_team_m", Quantity: 2}},
	}
}

func TestReconcileUpdatesQuantity(t *testing.T) {
	provider := &fakeProvider{subs: map[string]*ProviderSubscription{"sub_stripe_1": liveSubscription()}}
	mirror := &fakeMirror{}
	r := NewReconciler(provider,
		&fakeResolver{contexts: map[string]*ent.PackageContext{"org_1": perUserContext(ent.StatusActive)}},
		&fakeUsage{users: map[string]int{"org_1": 7}},
		mirror,
	)

	before := testutil.ToFloat64(metrics.ReconciliationsTotal.WithLabelValues(metrics.ReconcileUpdated))
	res := r.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")

	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.NewQuantity)
	assert.Equal(t, int64(7), *res.NewQuantity)
	require.Len(t, provider.updates, 1)
	assert.Equal(t, updateCall{itemID: "si_1", quantity: 7, proration: ProrationAlwaysInvoice}, provider.updates[0])
	assert.Equal(t, int64(7), mirror.quantities["sub_local_1"])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ReconciliationsTotal.WithLabelValues(metrics.ReconcileUpdated)))
}

func TestReconcileTrialingSubscription(t *testing.T) {
	provider := &fakeProvider{subs: map[string]*ProviderSubscription{"sub_stripe_1": liveSubscription()}}
	r := NewReconciler(provider,
		&fakeResolver{contexts: map[string]*ent.PackageContext{"org_1": perUserContext(ent.StatusTrialing)}},
		&fakeUsage{users: map[string]int{"org_1": 1}},
		nil,
	)

	res := r.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(1), *res.NewQuantity)
}

func TestReconcileNotConfigured(t *testing.T) {
	r := NewReconciler(nil, &fakeResolver{}, &fakeUsage{}, nil)
	res := r.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")
	assert.False(t, res.Success)
	assert.Equal(t, ErrMsgNotConfigured, res.Error)
	assert.Nil(t, res.NewQuantity)

	var nilReconciler *Reconciler
	res = nilReconciler.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")
	assert.Equal(t, ErrMsgNotConfigured, res.Error)
}

func TestReconcileFlatRateSkipsProvider(t *testing.T) {
	pc := perUserContext(ent.StatusActive)
	pc.Package.PricingModel = ent.PricingFlatRate
	provider := &fakeProvider{}
	r := NewReconciler(provider,
		&fakeResolver{contexts: map[string]*ent.PackageContext{"org_1": pc}},
		&fakeUsage{users: map[string]int{"org_1": 40}},
		nil,
	)

	res := r.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")
	assert.True(t, res.Success)
	assert.Nil(t, res.NewQuantity)
	assert.Empty(t, res.Error)
	assert.Zero(t, provider.getCalls)
	assert.Empty(t, provider.updates)
}

func TestReconcileFailures(t *testing.T) {
	tests := []struct {
		name     string
		pc       *ent.PackageContext
		users    int
		provider *fakeProvider
		wantErr  string
	}{
		{
			name:     "no package context",
			pc:       nil,
			provider: &fakeProvider{},
			wantErr:  ErrMsgNoPackage,
		},
		{
			name:     "package missing",
			pc:       &ent.PackageContext{Subscription: perUserContext(ent.StatusActive).Subscription},
			provider: &fakeProvider{},
			wantErr:  ErrMsgNoPackage,
		},
		{
			name:     "past due subscription",
			pc:       perUserContext(ent.StatusPastDue),
			users:    3,
			provider: &fakeProvider{},
			wantErr:  ErrMsgNoSubscription,
		},
		{
			name: "subscription without provider id",
			pc: func() *ent.PackageContext {
				pc := perUserContext(ent.StatusActive)
				pc.Subscription.StripeSubscriptionID = ""
				return pc
			}(),
			users:    3,
			provider: &fakeProvider{},
			wantErr:  ErrMsgNoSubscription,
		},
		{
			name:     "zero users",
			pc:       perUserContext(ent.StatusActive),
			users:    0,
			provider: &fakeProvider{},
			wantErr:  ErrMsgUserCountTooLow,
		},
		{
			name:  "no line items",
			pc:    perUserContext(ent.StatusActive),
			users: 2,
			provider: &fakeProvider{subs: map[string]*ProviderSubscription{
				"sub_stripe_1": {ID: "sub_stripe_1", Status: "active"},
			}},
			wantErr: ErrMsgNoLineItems,
		},
		{
			name:     "provider error",
			pc:       perUserContext(ent.StatusActive),
			users:    2,
			provider: &fakeProvider{getErr: errors.New("stripe unavailable")},
			wantErr:  "stripe unavailable",
		},
		{
			name:  "update error",
			pc:    perUserContext(ent.StatusActive),
			users: 2,
			provider: &fakeProvider{
				subs:      map[string]*ProviderSubscription{"sub_stripe_1": liveSubscription()},
				updateErr: errors.New("card declined"),
			},
			wantErr: "card declined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(tt.provider,
				&fakeResolver{contexts: map[string]*ent.PackageContext{"org_1": tt.pc}},
				&fakeUsage{users: map[string]int{"org_1": tt.users}},
				nil,
			)
			res := r.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantErr)
			assert.Nil(t, res.NewQuantity)
			assert.Empty(t, tt.provider.updates)
		})
	}
}

func TestReconcileZeroUsersNeverCallsProvider(t *testing.T) {
	provider := &fakeProvider{subs: map[string]*ProviderSubscription{"sub_stripe_1": liveSubscription()}}
	r := NewReconciler(provider,
		&fakeResolver{contexts: map[string]*ent.PackageContext{"org_1": perUserContext(ent.StatusActive)}},
		&fakeUsage{users: map[string]int{}},
		nil,
	)

	res := r.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")
	assert.Equal(t, ErrMsgUserCountTooLow, res.Error)
	assert.Zero(t, provider.getCalls)
}

func TestReconcileResolverAndUsageErrors(t *testing.T) {
	provider := &fakeProvider{}
	r := NewReconciler(provider, &fakeResolver{err: errors.New("db down: pq password for fieldnote")}, &fakeUsage{}, nil)
	res := r.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")
	assert.False(t, res.Success)
	assert.Equal(t, ErrMsgLookupFailed, res.Error)
	assert.NotContains(t, res.Error, "db down")

	r = NewReconciler(provider,
		&fakeResolver{contexts: map[string]*ent.PackageContext{"org_1": perUserContext(ent.StatusActive)}},
		&fakeUsage{err: errors.New("count failed")},
		nil,
	)
	res = r.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")
	assert.False(t, res.Success)
	assert.Equal(t, ErrMsgCountFailed, res.Error)
	assert.Zero(t, provider.getCalls)
}

func TestReconcileMirrorFailureStillSucceeds(t *testing.T) {
	provider := &fakeProvider{subs: map[string]*ProviderSubscription{"sub_stripe_1": liveSubscription()}}
	r := NewReconciler(provider,
		&fakeResolver{contexts: map[string]*ent.PackageContext{"org_1": perUserContext(ent.StatusActive)}},
		&fakeUsage{users: map[string]int{"org_1": 4}},
		&fakeMirror{err: errors.New("locked")},
	)

	res := r.UpdateSubscriptionQuantityForUsers(context.Background(), "org_1")
	assert.True(t, res.Success)
	assert.Equal(t, int64(4), *res.NewQuantity)
}
