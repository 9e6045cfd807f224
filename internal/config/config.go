package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for the fieldnote service.
type Config struct {
	DataDir             string
	DatabaseURL         string
	BindAddress         string
	Port                int
	AdminKey            string
	BaseURL             string
	LogLevel            string
	LogFormat           string
	ReconcileSchedule   string // cron spec; empty disables the sweeper
	CatalogPath         string // optional YAML package catalog
	Currency            string
	DNSCacheTTL         time.Duration
	StripeAPIKey        string
	StripeWebhookSecret string
	OTLPEndpoint        string
}

// BillingConfigured reports whether a billing provider key is present.
func (c *Config) BillingConfigured() bool {
	return c.StripeAPIKey != ""
}

// Load loads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("FIELDNOTE_PORT", 8080)
	if err != nil {
		return nil, err
	}
	dnsTTL, err := envOrDefaultDuration("FIELDNOTE_DNS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	dataDir := envOrDefault("FIELDNOTE_DATA_DIR", "./data")
	cfg := &Config{
		DataDir:             dataDir,
		DatabaseURL:         envOrDefault("FIELDNOTE_DATABASE_URL", filepath.Join(dataDir, "fieldnote.db")),
		BindAddress:         envOrDefault("FIELDNOTE_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("FIELDNOTE_ADMIN_KEY")),
		BaseURL:             strings.TrimRight(strings.TrimSpace(os.Getenv("FIELDNOTE_BASE_URL")), "/"),
		LogLevel:            envOrDefault("FIELDNOTE_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("FIELDNOTE_LOG_FORMAT", "auto"),
		ReconcileSchedule:   strings.TrimSpace(os.Getenv("FIELDNOTE_RECONCILE_SCHEDULE")),
		CatalogPath:         strings.TrimSpace(os.Getenv("FIELDNOTE_CATALOG_PATH")),
		Currency:            strings.ToLower(envOrDefault("FIELDNOTE_CURRENCY", "usd")),
		DNSCacheTTL:         dnsTTL,
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		OTLPEndpoint:        strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ValidateServe checks the settings only the HTTP server needs.
func (c *Config) ValidateServe() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "FIELDNOTE_ADMIN_KEY")
	}
	if c.StripeAPIKey != "" && c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("FIELDNOTE_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DNSCacheTTL <= 0 {
		return fmt.Errorf("FIELDNOTE_DNS_CACHE_TTL must be greater than 0, got %s", c.DNSCacheTTL)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("FIELDNOTE_CURRENCY must be a three-letter ISO code, got %q", c.Currency)
	}
	if c.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
			return fmt.Errorf("FIELDNOTE_RECONCILE_SCHEDULE must be a valid cron spec: %w", err)
		}
	}
	if c.BaseURL != "" {
		parsed, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("FIELDNOTE_BASE_URL must be a valid URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("FIELDNOTE_BASE_URL must use http or https scheme")
		}
		if parsed.Host == "" {
			return fmt.Errorf("FIELDNOTE_BASE_URL must include a host")
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
