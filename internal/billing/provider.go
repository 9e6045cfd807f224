// Package billing keeps billing-provider subscriptions in step with
// organization usage: quantity reconciliation, scheduled drift repair,
// checkout session creation and webhook-driven status sync.
package billing

import (
	"context"
)

// ProrationAlwaysInvoice bills quantity changes immediately, pro rata.
const ProrationAlwaysInvoice = "always_invoice"

// ProviderSubscription is the provider-side view of a subscription.
type ProviderSubscription struct {
	ID         string
	CustomerID string
	Status     string
	Items      []ProviderItem
}

// ProviderItem is one line item of a provider subscription.
type ProviderItem struct {
	ID       string
	PriceID  string
	Quantity int64
}

// InlinePrice describes a recurring per-unit price created at checkout.
type InlinePrice struct {
	Currency        string
	UnitAmountCents int64
	ProductName     string
	Interval        string
}

// CheckoutSessionRequest holds everything needed to open a hosted
// subscription checkout. Exactly one of PriceID and PriceData is set.
type CheckoutSessionRequest struct {
	CustomerID        string
	CustomerEmail     string
	ClientReferenceID string
	PriceID           string
	PriceData         *InlinePrice
	Quantity          int64
	SuccessURL        string
	CancelURL         string
	Metadata          map[string]string
}

// CheckoutSessionResult identifies a created checkout session.
type CheckoutSessionResult struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Provider is the billing provider boundary.
type Provider interface {
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)
	UpdateSubscriptionItemQuantity(ctx context.Context, itemID string, quantity int64, prorationBehavior string) error
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSessionResult, error)
}
