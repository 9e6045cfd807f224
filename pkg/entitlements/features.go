package entitlements

// Feature keys gated by package flags.
const (
	FeatureAI               = "ai"
	FeatureExport           = "export"
	FeatureOpsTool          = "ops_tool"
	FeatureAnalytics        = "analytics"
	FeatureAPIAccess        = "api_access"
	FeatureCustomDashboards = "custom_dashboards"
)

// AllFeatures lists the boolean feature keys in display order.
var AllFeatures = []string{
	FeatureAI,
	FeatureExport,
	FeatureOpsTool,
	FeatureAnalytics,
	FeatureAPIAccess,
	FeatureCustomDashboards,
}

// Enabled reports the flag for a feature key. The second result is false
// for unknown keys.
func (f PackageFeatures) Enabled(feature string) (bool, bool) {
	switch feature {
	case FeatureAI:
		return f.AIFeaturesEnabled, true
	case FeatureExport:
		return f.ExportFeaturesEnabled, true
	case FeatureOpsTool:
		return f.OpsToolEnabled, true
	case FeatureAnalytics:
		return f.AnalyticsEnabled, true
	case FeatureAPIAccess:
		return f.APIAccessEnabled, true
	case FeatureCustomDashboards:
		return f.CustomDashboardsEnabled, true
	}
	return false, false
}

// FlagMap returns every boolean flag keyed by feature.
func (f PackageFeatures) FlagMap() map[string]bool {
	out := make(map[string]bool, len(AllFeatures))
	for _, key := range AllFeatures {
		out[key], _ = f.Enabled(key)
	}
	return out
}

// GetFeatureDisplayName returns a human-readable name for a feature.
func GetFeatureDisplayName(feature string) string {
	switch feature {
	case FeatureAI:
		return "AI Assistant"
	case FeatureExport:
		return "Data Export"
	case FeatureOpsTool:
		return "Ops Tool"
	case FeatureAnalytics:
		return "Analytics"
	case FeatureAPIAccess:
		return "API Access"
	case FeatureCustomDashboards:
		return "Custom Dashboards"
	default:
		return feature
	}
}
