package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/subscriptionitem"

	fnerrors "github.com/fieldnote-crm/fieldnote/internal/errors"
)

// StripeProvider implements Provider with its own API key and backend.
// It never touches the package-level stripe.Key.
type StripeProvider struct {
	getSubscription        func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	updateSubscriptionItem func(id string, params *stripelib.SubscriptionItemParams) (*stripelib.SubscriptionItem, error)
	createCheckoutSession  func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

// NewStripeProvider builds a provider for apiKey. httpClient may be nil to
// use the stripe-go default.
func NewStripeProvider(apiKey string, httpClient *http.Client) (*StripeProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("stripe api key: %w", fnerrors.ErrNotConfigured)
	}

	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, &stripelib.BackendConfig{
		HTTPClient: httpClient,
	})
	subs := &subscription.Client{B: backend, Key: apiKey}
	items := &subscriptionitem.Client{B: backend, Key: apiKey}
	sessions := &session.Client{B: backend, Key: apiKey}

	return &StripeProvider{
		getSubscription:        subs.Get,
		updateSubscriptionItem: items.Update,
		createCheckoutSession:  sessions.New,
	}, nil
}

// GetSubscription retrieves a live subscription with its line items.
func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.getSubscription(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve stripe subscription %s: %w", id, err)
	}

	out := &ProviderSubscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			pi := ProviderItem{ID: item.ID, Quantity: item.Quantity}
			if item.Price != nil {
				pi.PriceID = item.Price.ID
			}
			out.Items = append(out.Items, pi)
		}
	}
	return out, nil
}

// UpdateSubscriptionItemQuantity sets an item's quantity.
func (p *StripeProvider) UpdateSubscriptionItemQuantity(ctx context.Context, itemID string, quantity int64, prorationBehavior string) error {
	params := &stripelib.SubscriptionItemParams{
		Quantity: stripelib.Int64(quantity),
	}
	if prorationBehavior != "" {
		params.ProrationBehavior = stripelib.String(prorationBehavior)
	}
	params.Context = ctx

	if _, err := p.updateSubscriptionItem(itemID, params); err != nil {
		return fmt.Errorf("update stripe subscription item %s: %w", itemID, err)
	}
	return nil
}

// CreateCheckoutSession opens a hosted subscription checkout.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSessionResult, error) {
	lineItem := &stripelib.CheckoutSessionLineItemParams{
		Quantity: stripelib.Int64(req.Quantity),
	}
	if req.PriceData != nil {
		lineItem.PriceData = &stripelib.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripelib.String(req.PriceData.Currency),
			UnitAmount: stripelib.Int64(req.PriceData.UnitAmountCents),
			ProductData: &stripelib.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripelib.String(req.PriceData.ProductName),
			},
			Recurring: &stripelib.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripelib.String(req.PriceData.Interval),
			},
		}
	} else {
		lineItem.Price = stripelib.String(req.PriceID)
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL: stripelib.String(req.SuccessURL),
		CancelURL:  stripelib.String(req.CancelURL),
		LineItems:  []*stripelib.CheckoutSessionLineItemParams{lineItem},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripelib.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripelib.String(req.CustomerEmail)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripelib.String(req.ClientReferenceID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := p.createCheckoutSession(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	return &CheckoutSessionResult{ID: sess.ID, URL: sess.URL}, nil
}
