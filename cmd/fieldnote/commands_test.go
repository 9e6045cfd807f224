package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote-crm/fieldnote/pkg/pricing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// isolateEnv points the config at a temp data dir with billing disabled.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("FIELDNOTE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("FIELDNOTE_DATABASE_URL", "")
	t.Setenv("FIELDNOTE_CATALOG_PATH", "")
	t.Setenv("FIELDNOTE_RECONCILE_SCHEDULE", "")
	t.Setenv("FIELDNOTE_BASE_URL", "")
	t.Setenv("FIELDNOTE_PORT", "")
	t.Setenv("FIELDNOTE_CURRENCY", "")
	t.Setenv("FIELDNOTE_DNS_CACHE_TTL", "")
	t.Setenv("FIELDNOTE_LOG_LEVEL", "error")
	t.Setenv("STRIPE_API_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	return dir
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() {
		Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	Version = "1.2.3"
	BuildTime = "2026-01-01"
	GitCommit = "abcdef"

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Fieldnote 1.2.3")
	assert.Contains(t, out, "Built: 2026-01-01")
	assert.Contains(t, out, "Commit: abcdef")

	BuildTime = "unknown"
	GitCommit = "unknown"
	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.NotContains(t, out, "Built:")
}

func TestParseRuleFlags(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []pricing.VolumeDiscountRule
		wantErr bool
	}{
		{name: "empty", in: nil, want: []pricing.VolumeDiscountRule{}},
		{
			name: "pairs",
			in:   []string{"50:10", " 100 : 15% "},
			want: []pricing.VolumeDiscountRule{{MinUsers: 50, DiscountPercent: 10}, {MinUsers: 100, DiscountPercent: 15}},
		},
		{name: "missing separator", in: []string{"50"}, wantErr: true},
		{name: "bad min", in: []string{"many:10"}, wantErr: true},
		{name: "bad percent", in: []string{"50:lots"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRuleFlags(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunQuote(t *testing.T) {
	var out bytes.Buffer
	err := runQuote(&out, quoteOptions{
		users:    120,
		price:    10,
		rules:    []string{"50:10", "100:15"},
		interval: "month",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "100+ users: 15% off")
	assert.Contains(t, out.String(), "1020.00")
	assert.Contains(t, out.String(), "8.50")
}

func TestRunQuoteWritesPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quote.pdf")
	var out bytes.Buffer
	err := runQuote(&out, quoteOptions{
		users:    10,
		price:    20,
		rules:    []string{"5:5"},
		interval: "year",
		currency: "eur",
		org:      "Acme",
		pdfPath:  path,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestRunQuoteRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		opts quoteOptions
	}{
		{name: "negative users", opts: quoteOptions{users: -1, interval: "month"}},
		{name: "negative price", opts: quoteOptions{price: -1, interval: "month"}},
		{name: "interval", opts: quoteOptions{interval: "week"}},
		{name: "rule range", opts: quoteOptions{interval: "month", rules: []string{"0:10"}}},
		{name: "duplicate rule", opts: quoteOptions{interval: "month", rules: []string{"10:5", "10:6"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, runQuote(&bytes.Buffer{}, tt.opts))
		})
	}
}

func TestMigrateAndCatalogApply(t *testing.T) {
	isolateEnv(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema up to date (sqlite)")

	out, err = execute(t, "catalog", "apply")
	require.NoError(t, err)
	assert.Contains(t, out, `"created"`)
	assert.Contains(t, out, `"team"`)

	out, err = execute(t, "catalog", "apply")
	require.NoError(t, err)
	assert.Contains(t, out, `"created": null`)

	_, err = execute(t, "catalog", "apply", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReconcileFlags(t *testing.T) {
	isolateEnv(t)
	defer func() {
		reconcileOrg = ""
		reconcileAll = false
	}()

	_, err := execute(t, "reconcile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of --org or --all")

	_, err = execute(t, "reconcile", "--org", "org_1", "--all")
	require.Error(t, err)

	reconcileAll = false
	out, err := execute(t, "reconcile", "--org", "org_1")
	require.Error(t, err)
	assert.Contains(t, out, "billing provider not configured")
}

func TestReconcileAllWithoutSubscriptions(t *testing.T) {
	isolateEnv(t)
	defer func() {
		reconcileOrg = ""
		reconcileAll = false
	}()

	out, err := execute(t, "reconcile", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 0`)
}
