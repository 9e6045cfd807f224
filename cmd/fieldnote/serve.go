package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fieldnote-crm/fieldnote/internal/api"
	"github.com/fieldnote-crm/fieldnote/internal/billing"
	"github.com/fieldnote-crm/fieldnote/internal/catalog"
	"github.com/fieldnote-crm/fieldnote/internal/config"
	"github.com/fieldnote-crm/fieldnote/internal/entitlements"
	"github.com/fieldnote-crm/fieldnote/internal/netutil"
	"github.com/fieldnote-crm/fieldnote/internal/store"
	"github.com/fieldnote-crm/fieldnote/internal/telemetry"
)

const (
	shutdownTimeout     = 30 * time.Second
	stripeClientTimeout = 80 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateServe(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("version", Version).Msg("Starting Fieldnote server")

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, "fieldnote", Version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if _, err := catalog.Apply(ctx, st, cat); err != nil {
		return err
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}

	svc := entitlements.NewService(st, st, st)
	reconciler := billing.NewReconciler(provider, st, st, st)
	checkout := billing.NewCheckout(provider, st, st, st, svc, billing.CheckoutConfig{
		Currency: cfg.Currency,
		BaseURL:  cfg.BaseURL,
	})

	deps := api.Deps{
		Store:        st,
		Entitlements: svc,
		Reconciler:   reconciler,
		Checkout:     checkout,
		AdminKey:     cfg.AdminKey,
		Currency:     cfg.Currency,
	}
	if provider != nil {
		deps.Webhook = billing.NewWebhookHandler(cfg.StripeWebhookSecret, st, provider)
	}

	if cfg.ReconcileSchedule != "" {
		sweeper, err := billing.NewSweeper(reconciler, st, cfg.ReconcileSchedule)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			sweeper.Stop(stopCtx)
		}()
		log.Info().Str("schedule", cfg.ReconcileSchedule).Msg("Reconcile sweep scheduled")
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port)),
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("host", cfg.BindAddress).
			Int("port", cfg.Port).
			Bool("billing", provider != nil).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
	return nil
}

// newProvider returns a Stripe provider behind a DNS-caching client, or
// nil when no API key is configured.
func newProvider(ctx context.Context, cfg *config.Config) (billing.Provider, error) {
	if !cfg.BillingConfigured() {
		log.Warn().Msg("STRIPE_API_KEY not set, billing provider not configured")
		return nil, nil
	}
	resolver := netutil.NewResolver(ctx, cfg.DNSCacheTTL)
	provider, err := billing.NewStripeProvider(cfg.StripeAPIKey, netutil.NewHTTPClient(resolver, stripeClientTimeout))
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// openBilling opens the store and the reconciler for one-shot commands.
func openBilling(ctx context.Context, cfg *config.Config) (*store.Store, *billing.Reconciler, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return st, billing.NewReconciler(provider, st, st, st), nil
}
