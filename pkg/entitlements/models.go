// Package entitlements defines the shared package, subscription and usage
// contracts used by limit enforcement and billing reconciliation.
package entitlements

import (
	"time"

	"github.com/fieldnote-crm/fieldnote/pkg/pricing"
)

// PricingModel determines whether a package price scales with seats.
type PricingModel string

const (
	PricingPerUser  PricingModel = "per_user"
	PricingFlatRate PricingModel = "flat_rate"
)

// Valid reports whether m is a known pricing model.
func (m PricingModel) Valid() bool {
	return m == PricingPerUser || m == PricingFlatRate
}

// BillingInterval is the recurring billing period of a subscription.
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// ParseInterval normalises an interval string, defaulting to monthly.
func ParseInterval(s string) (BillingInterval, bool) {
	switch BillingInterval(s) {
	case "", IntervalMonth:
		return IntervalMonth, true
	case IntervalYear:
		return IntervalYear, true
	default:
		return "", false
	}
}

// SupportLevel is the support tier bundled with a package.
type SupportLevel string

const (
	SupportCommunity SupportLevel = "community"
	SupportEmail     SupportLevel = "email"
	SupportPriority  SupportLevel = "priority"
	SupportDedicated SupportLevel = "dedicated"
)

// Valid reports whether l is a known support level.
func (l SupportLevel) Valid() bool {
	switch l {
	case SupportCommunity, SupportEmail, SupportPriority, SupportDedicated:
		return true
	}
	return false
}

// PackageFeatures holds the resource caps and feature flags of a package.
// A nil cap means unlimited.
type PackageFeatures struct {
	MaxProjects             *int         `json:"max_projects" yaml:"max_projects"`
	MaxUsers                *int         `json:"max_users" yaml:"max_users"`
	MaxTemplates            *int         `json:"max_templates" yaml:"max_templates"`
	AIFeaturesEnabled       bool         `json:"ai_features_enabled" yaml:"ai_features_enabled"`
	ExportFeaturesEnabled   bool         `json:"export_features_enabled" yaml:"export_features_enabled"`
	OpsToolEnabled          bool         `json:"ops_tool_enabled" yaml:"ops_tool_enabled"`
	AnalyticsEnabled        bool         `json:"analytics_enabled" yaml:"analytics_enabled"`
	APIAccessEnabled        bool         `json:"api_access_enabled" yaml:"api_access_enabled"`
	CustomDashboardsEnabled bool         `json:"custom_dashboards_enabled" yaml:"custom_dashboards_enabled"`
	SupportLevel            SupportLevel `json:"support_level" yaml:"support_level"`
}

// Limit returns the cap for a resource kind.
func (f PackageFeatures) Limit(kind ResourceKind) *int {
	switch kind {
	case ResourceProjects:
		return f.MaxProjects
	case ResourceUsers:
		return f.MaxUsers
	case ResourceTemplates:
		return f.MaxTemplates
	}
	return nil
}

// Package is a named tier bundling price and feature limits. Packages are
// treated as immutable once referenced by a subscription.
type Package struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	DisplayName          string          `json:"display_name"`
	PricingModel         PricingModel    `json:"pricing_model"`
	PriceMonthly         *float64        `json:"price_monthly"`
	PriceYearly          *float64        `json:"price_yearly"`
	StripePriceIDMonthly string          `json:"stripe_price_id_monthly,omitempty"`
	StripePriceIDYearly  string          `json:"stripe_price_id_yearly,omitempty"`
	Features             PackageFeatures `json:"features"`
	IsActive             bool            `json:"is_active"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// PriceFor returns the package price for an interval, or nil when unset.
func (p *Package) PriceFor(interval BillingInterval) *float64 {
	if p == nil {
		return nil
	}
	if interval == IntervalYear {
		return p.PriceYearly
	}
	return p.PriceMonthly
}

// StripePriceIDFor returns the provider price ID for an interval.
func (p *Package) StripePriceIDFor(interval BillingInterval) string {
	if p == nil {
		return ""
	}
	if interval == IntervalYear {
		return p.StripePriceIDYearly
	}
	return p.StripePriceIDMonthly
}

// OrganizationStatus is the soft lifecycle state of a tenant.
type OrganizationStatus string

const (
	OrganizationActive   OrganizationStatus = "active"
	OrganizationDisabled OrganizationStatus = "disabled"
)

// Organization is a tenant. Organizations are never hard-deleted.
type Organization struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Status           OrganizationStatus `json:"status"`
	StripeCustomerID string             `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Subscription links one organization to one package through a provider
// subscription.
type Subscription struct {
	ID                   string             `json:"id"`
	OrganizationID       string             `json:"organization_id"`
	PackageID            string             `json:"package_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripePriceID        string             `json:"stripe_price_id,omitempty"`
	Status               SubscriptionStatus `json:"status"`
	BillingInterval      BillingInterval    `json:"billing_interval"`
	Quantity             int64              `json:"quantity"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// CustomEnterprisePackage is a per-organization pricing override.
type CustomEnterprisePackage struct {
	ID                        string                       `json:"id"`
	OrganizationID            string                       `json:"organization_id"`
	BasePackageID             string                       `json:"base_package_id,omitempty"`
	CustomPricePerUserMonthly *float64                     `json:"custom_price_per_user_monthly"`
	CustomPricePerUserYearly  *float64                     `json:"custom_price_per_user_yearly"`
	VolumeDiscountRules       []pricing.VolumeDiscountRule `json:"volume_discount_rules"`
	Notes                     string                       `json:"notes,omitempty"`
	IsActive                  bool                         `json:"is_active"`
	CreatedAt                 time.Time                    `json:"created_at"`
	UpdatedAt                 time.Time                    `json:"updated_at"`
}

// CustomPriceFor returns the override price for an interval, or nil.
func (c *CustomEnterprisePackage) CustomPriceFor(interval BillingInterval) *float64 {
	if c == nil {
		return nil
	}
	if interval == IntervalYear {
		return c.CustomPricePerUserYearly
	}
	return c.CustomPricePerUserMonthly
}

// PackageContext is an organization's entitling subscription together with
// its package. Package may be nil when the subscription references a package
// that no longer resolves.
type PackageContext struct {
	Package      *Package      `json:"package"`
	Subscription *Subscription `json:"subscription"`
}

// ResourceKind names a capped, counted resource.
type ResourceKind string

const (
	ResourceProjects  ResourceKind = "projects"
	ResourceUsers     ResourceKind = "users"
	ResourceTemplates ResourceKind = "templates"
)

// ParseResourceKind accepts plural resource names.
func ParseResourceKind(s string) (ResourceKind, bool) {
	switch ResourceKind(s) {
	case ResourceProjects, ResourceUsers, ResourceTemplates:
		return ResourceKind(s), true
	}
	return "", false
}

// Singular returns the lower-case singular noun, e.g. "project".
func (k ResourceKind) Singular() string {
	switch k {
	case ResourceProjects:
		return "project"
	case ResourceUsers:
		return "user"
	case ResourceTemplates:
		return "template"
	}
	return string(k)
}

// UsageSnapshot is a point-in-time count of live resources.
type UsageSnapshot struct {
	Projects  int `json:"projects"`
	Users     int `json:"users"`
	Templates int `json:"templates"`
}

// LimitCheckResult is the evaluator's decision for one create operation.
type LimitCheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Current *int   `json:"current,omitempty"`
	Limit   *int   `json:"limit,omitempty"`
}
