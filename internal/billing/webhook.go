package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/fieldnote-crm/fieldnote/internal/metrics"
	"github.com/fieldnote-crm/fieldnote/internal/store"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookStore is the persistence the webhook handler writes through.
type WebhookStore interface {
	GetOrganization(ctx context.Context, id string) (*ent.Organization, error)
	SetOrganizationStripeCustomer(ctx context.Context, id, customerID string) error
	GetPackageByStripePriceID(ctx context.Context, priceID string) (*ent.Package, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*ent.Subscription, error)
	ReplaceEntitlingSubscription(ctx context.Context, sub *ent.Subscription) error
	SyncSubscription(ctx context.Context, stripeSubscriptionID string, sync store.SubscriptionSync) (*ent.Subscription, error)
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	secret   string
	store    WebhookStore
	provider Provider
	routes   []webhookRoute
}

type webhookRoute struct {
	pattern string
	handle  func(ctx context.Context, event *stripelib.Event) error
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler. provider is
// optional; when set, completed checkouts are enriched with the live
// subscription state.
func NewWebhookHandler(secret string, st WebhookStore, provider Provider) *WebhookHandler {
	h := &WebhookHandler{
		secret:   secret,
		store:    st,
		provider: provider,
	}
	h.routes = []webhookRoute{
		{pattern: "checkout.session.completed", handle: h.handleCheckoutCompleted},
		{pattern: "customer.subscription.*", handle: h.handleSubscriptionEvent},
		{pattern: "invoice.payment_*", handle: h.handleInvoiceEvent},
	}
	return h
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, http.StatusMethodNotAllowed, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, http.StatusServiceUnavailable, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	if err := h.handleEvent(r.Context(), &event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", eventType).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	eventType := string(event.Type)
	for _, route := range h.routes {
		if wildcard.Match(route.pattern, eventType) {
			return route.handle(ctx, event)
		}
	}
	log.Info().
		Str("type", eventType).
		Str("event_id", event.ID).
		Msg("Stripe webhook ignored (unhandled type)")
	return nil
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripelib.Event) error {
	var session CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("decode checkout.session: %w", err)
	}
	if session.Mode != "" && session.Mode != "subscription" {
		return nil
	}

	orgID := session.OrganizationID()
	logger := log.With().Str("session_id", session.ID).Str("org_id", orgID).Logger()
	if orgID == "" || session.Subscription == "" {
		logger.Warn().Msg("Checkout session missing organization or subscription, ignoring")
		return nil
	}

	org, err := h.store.GetOrganization(ctx, orgID)
	if err != nil {
		return fmt.Errorf("load organization: %w", err)
	}
	if org == nil {
		logger.Warn().Msg("Checkout session references unknown organization, ignoring")
		return nil
	}

	interval, ok := ent.ParseInterval(session.Metadata[MetadataInterval])
	if !ok {
		interval = ent.IntervalMonth
	}
	sub := &ent.Subscription{
		OrganizationID:       orgID,
		PackageID:            session.Metadata[MetadataPackageID],
		StripeSubscriptionID: session.Subscription,
		StripeCustomerID:     session.Customer,
		Status:               ent.StatusActive,
		BillingInterval:      interval,
		Quantity:             1,
	}

	if h.provider != nil {
		live, err := h.provider.GetSubscription(ctx, session.Subscription)
		if err != nil {
			return fmt.Errorf("retrieve subscription: %w", err)
		}
		sub.Status = ent.MapStripeSubscriptionStatus(live.Status)
		if len(live.Items) > 0 {
			sub.StripePriceID = live.Items[0].PriceID
			sub.Quantity = live.Items[0].Quantity
		}
	}
	if sub.PackageID == "" && sub.StripePriceID != "" {
		if sub.PackageID, err = h.packageIDForPrice(ctx, sub.StripePriceID); err != nil {
			return err
		}
	}

	if err := h.store.ReplaceEntitlingSubscription(ctx, sub); err != nil {
		return fmt.Errorf("record subscription: %w", err)
	}
	if session.Customer != "" && org.StripeCustomerID != session.Customer {
		if err := h.store.SetOrganizationStripeCustomer(ctx, orgID, session.Customer); err != nil {
			return fmt.Errorf("record stripe customer: %w", err)
		}
	}

	logger.Info().
		Str("subscription_id", sub.StripeSubscriptionID).
		Str("package_id", sub.PackageID).
		Str("status", string(sub.Status)).
		Msg("Checkout completed, subscription recorded")
	return nil
}

func (h *WebhookHandler) handleSubscriptionEvent(ctx context.Context, event *stripelib.Event) error {
	var payload Subscription
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	if payload.ID == "" {
		return fmt.Errorf("subscription event without subscription id")
	}

	status := ent.MapStripeSubscriptionStatus(payload.Status)
	if event.Type == "customer.subscription.deleted" {
		status = ent.StatusCanceled
	}

	sync := store.SubscriptionSync{
		Status:            string(status),
		CancelAtPeriodEnd: &payload.CancelAtPeriodEnd,
	}
	if start, end := payload.PeriodBounds(); start != nil {
		sync.CurrentPeriodStart = start
		sync.CurrentPeriodEnd = end
	}
	if item := payload.FirstItem(); item != nil {
		sync.StripePriceID = item.Price.ID
		if interval, ok := ent.ParseInterval(item.Price.Recurring.Interval); ok && item.Price.Recurring.Interval != "" {
			sync.BillingInterval = string(interval)
		}
		if item.Quantity > 0 {
			quantity := item.Quantity
			sync.Quantity = &quantity
		}
	}
	if sync.StripePriceID != "" {
		packageID, err := h.packageIDForPrice(ctx, sync.StripePriceID)
		if err != nil {
			return err
		}
		sync.PackageID = packageID
	}

	updated, err := h.store.SyncSubscription(ctx, payload.ID, sync)
	if err != nil {
		return fmt.Errorf("sync subscription %s: %w", payload.ID, err)
	}
	if updated == nil {
		return h.adoptSubscription(ctx, payload, sync)
	}

	log.Info().
		Str("org_id", updated.OrganizationID).
		Str("subscription_id", payload.ID).
		Str("stripe_status", payload.Status).
		Str("status", string(updated.Status)).
		Str("type", string(event.Type)).
		Msg("Subscription synchronized")
	return nil
}

// adoptSubscription records a subscription event that arrived before the
// checkout completion, using the organization carried in its metadata.
func (h *WebhookHandler) adoptSubscription(ctx context.Context, payload Subscription, sync store.SubscriptionSync) error {
	orgID := strings.TrimSpace(payload.Metadata[MetadataOrganizationID])
	if orgID == "" {
		log.Info().Str("subscription_id", payload.ID).Msg("Subscription event for unknown subscription, ignoring")
		return nil
	}
	org, err := h.store.GetOrganization(ctx, orgID)
	if err != nil {
		return fmt.Errorf("load organization: %w", err)
	}
	if org == nil {
		log.Warn().Str("subscription_id", payload.ID).Str("org_id", orgID).Msg("Subscription metadata references unknown organization, ignoring")
		return nil
	}

	sub := &ent.Subscription{
		OrganizationID:       orgID,
		PackageID:            sync.PackageID,
		StripeSubscriptionID: payload.ID,
		StripeCustomerID:     payload.Customer,
		StripePriceID:        sync.StripePriceID,
		Status:               ent.SubscriptionStatus(sync.Status),
		BillingInterval:      ent.BillingInterval(sync.BillingInterval),
		Quantity:             1,
		CurrentPeriodStart:   sync.CurrentPeriodStart,
		CurrentPeriodEnd:     sync.CurrentPeriodEnd,
		CancelAtPeriodEnd:    payload.CancelAtPeriodEnd,
	}
	if sub.PackageID == "" {
		sub.PackageID = payload.Metadata[MetadataPackageID]
	}
	if sync.Quantity != nil {
		sub.Quantity = *sync.Quantity
	}
	if err := h.store.ReplaceEntitlingSubscription(ctx, sub); err != nil {
		return fmt.Errorf("record subscription: %w", err)
	}
	log.Info().
		Str("org_id", orgID).
		Str("subscription_id", payload.ID).
		Str("status", string(sub.Status)).
		Msg("Subscription recorded from subscription event")
	return nil
}

func (h *WebhookHandler) handleInvoiceEvent(ctx context.Context, event *stripelib.Event) error {
	var invoice Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}
	subID := invoice.SubscriptionID()
	if subID == "" {
		return nil
	}

	sub, err := h.store.GetSubscriptionByStripeID(ctx, subID)
	if err != nil {
		return fmt.Errorf("lookup subscription %s: %w", subID, err)
	}
	if sub == nil {
		log.Info().Str("subscription_id", subID).Str("invoice_id", invoice.ID).Msg("Invoice for unknown subscription, ignoring")
		return nil
	}

	var next ent.SubscriptionStatus
	switch event.Type {
	case "invoice.payment_failed":
		if sub.Status == ent.StatusActive || sub.Status == ent.StatusTrialing {
			next = ent.StatusPastDue
		}
	case "invoice.payment_succeeded":
		if sub.Status == ent.StatusPastDue {
			next = ent.StatusActive
		}
	}
	if next == "" {
		return nil
	}

	if _, err := h.store.SyncSubscription(ctx, subID, store.SubscriptionSync{Status: string(next)}); err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	log.Info().
		Str("org_id", sub.OrganizationID).
		Str("subscription_id", subID).
		Str("invoice_id", invoice.ID).
		Str("from", string(sub.Status)).
		Str("to", string(next)).
		Msg("Subscription status changed by invoice")
	return nil
}

func (h *WebhookHandler) packageIDForPrice(ctx context.Context, priceID string) (string, error) {
	pkg, err := h.store.GetPackageByStripePriceID(ctx, priceID)
	if err != nil {
		return "", fmt.Errorf("lookup package by price: %w", err)
	}
	if pkg == nil {
		return "", nil
	}
	return pkg.ID, nil
}

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// OrganizationID returns the organization the session was opened for.
func (s *CheckoutSession) OrganizationID() string {
	if id := strings.TrimSpace(s.Metadata[MetadataOrganizationID]); id != "" {
		return id
	}
	return strings.TrimSpace(s.ClientReferenceID)
}

// SubscriptionItem is one item of a Stripe subscription payload.
type SubscriptionItem struct {
	ID                 string `json:"id"`
	Quantity           int64  `json:"quantity"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Price              struct {
		ID        string `json:"id"`
		Recurring struct {
			Interval string `json:"interval"`
		} `json:"recurring"`
	} `json:"price"`
}

// Subscription is a minimal representation of a Stripe subscription event.
// Period bounds moved from the subscription to its items in newer API
// versions; both are read.
type Subscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// FirstItem returns the first subscription item with a price, or nil.
func (s *Subscription) FirstItem() *SubscriptionItem {
	for i := range s.Items.Data {
		if strings.TrimSpace(s.Items.Data[i].Price.ID) != "" {
			return &s.Items.Data[i]
		}
	}
	return nil
}

// PeriodBounds returns the current billing period, or nils when the
// payload carries none.
func (s *Subscription) PeriodBounds() (*time.Time, *time.Time) {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if start == 0 {
		if item := s.FirstItem(); item != nil {
			start, end = item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
	}
	if start == 0 || end == 0 {
		return nil, nil
	}
	from := time.Unix(start, 0).UTC()
	to := time.Unix(end, 0).UTC()
	return &from, &to
}

// Invoice is a minimal representation of a Stripe invoice event.
type Invoice struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID returns the subscription the invoice bills, if any.
func (i *Invoice) SubscriptionID() string {
	if id := strings.TrimSpace(i.Parent.SubscriptionDetails.Subscription); id != "" {
		return id
	}
	return strings.TrimSpace(i.Subscription)
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("billing: encode webhook response")
	}
}
