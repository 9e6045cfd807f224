package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fieldnote-crm/fieldnote/internal/billing"
	"github.com/fieldnote-crm/fieldnote/internal/catalog"
	"github.com/fieldnote-crm/fieldnote/internal/quote"
	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
	"github.com/fieldnote-crm/fieldnote/pkg/pricing"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s)\n", st.Dialect())
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the package catalog",
}

var catalogApplyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Upsert packages from a YAML catalog (default: built-in catalog)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.CatalogPath
		if len(args) == 1 {
			path = args[0]
		}
		cat, err := catalog.Load(path)
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := catalog.Apply(cmd.Context(), st, cat)
		if err != nil {
			return err
		}
		return writeIndentedJSON(cmd.OutOrStdout(), res)
	},
}

type quoteOptions struct {
	users    int
	price    float64
	rules    []string
	interval string
	currency string
	org      string
	pdfPath  string
}

var quoteOpts quoteOptions

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Calculate an enterprise volume-discount quote",
	Example: `  fieldnote quote --users 120 --price 10 --rule 50:10 --rule 100:15
  fieldnote quote --users 120 --price 10 --rule 100:15 --pdf quote.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuote(cmd.OutOrStdout(), quoteOpts)
	},
}

var (
	reconcileOrg string
	reconcileAll bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Push live seat counts to billing provider subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (reconcileOrg == "") == !reconcileAll {
			return fmt.Errorf("exactly one of --org or --all is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, reconciler, err := openBilling(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		out := cmd.OutOrStdout()
		if reconcileOrg != "" {
			result := reconciler.UpdateSubscriptionQuantityForUsers(cmd.Context(), reconcileOrg)
			if err := writeIndentedJSON(out, result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("reconcile %s: %s", reconcileOrg, result.Error)
			}
			return nil
		}

		sweeper, err := billing.NewSweeper(reconciler, st, "")
		if err != nil {
			return err
		}
		summary, err := sweeper.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		if err := writeIndentedJSON(out, summary); err != nil {
			return err
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d organizations failed to reconcile", summary.Failed, summary.Total)
		}
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogApplyCmd)

	f := quoteCmd.Flags()
	f.IntVar(&quoteOpts.users, "users", 0, "number of users to price")
	f.Float64Var(&quoteOpts.price, "price", 0, "base price per user")
	f.StringArrayVar(&quoteOpts.rules, "rule", nil, "volume discount tier as min_users:percent (repeatable)")
	f.StringVar(&quoteOpts.interval, "interval", "month", "billing interval (month or year)")
	f.StringVar(&quoteOpts.currency, "currency", "usd", "ISO currency code for the PDF")
	f.StringVar(&quoteOpts.org, "org", "", "organization name printed on the PDF")
	f.StringVar(&quoteOpts.pdfPath, "pdf", "", "also write the quote as a PDF to this path")
	_ = quoteCmd.MarkFlagRequired("users")
	_ = quoteCmd.MarkFlagRequired("price")

	reconcileCmd.Flags().StringVar(&reconcileOrg, "org", "", "organization ID to reconcile")
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "reconcile every per-user subscription")
}

func runQuote(out io.Writer, opts quoteOptions) error {
	if opts.users < 0 {
		return fmt.Errorf("--users must not be negative")
	}
	if opts.price < 0 {
		return fmt.Errorf("--price must not be negative")
	}
	interval, ok := ent.ParseInterval(opts.interval)
	if !ok {
		return fmt.Errorf("--interval must be month or year")
	}
	rules, err := parseRuleFlags(opts.rules)
	if err != nil {
		return err
	}
	if result := pricing.ValidateVolumeDiscountRules(rules); !result.IsValid {
		return fmt.Errorf("invalid rules: %s", result.Error)
	}

	q := pricing.CalculateEnterprisePrice(opts.users, opts.price, rules)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Users:\t%d\n", q.UserCount)
	fmt.Fprintf(tw, "Price per user:\t%.2f\n", q.BasePricePerUser)
	fmt.Fprintf(tw, "Base price:\t%.2f\n", q.BasePrice)
	applied := "none"
	if q.AppliedRule != nil {
		applied = *q.AppliedRule
	}
	fmt.Fprintf(tw, "Applied tier:\t%s\n", applied)
	fmt.Fprintf(tw, "Discount:\t%.2f (%s%%)\n", q.DiscountAmount, strconv.FormatFloat(q.DiscountPercent, 'f', -1, 64))
	fmt.Fprintf(tw, "Total:\t%.2f\n", q.DiscountedPrice)
	fmt.Fprintf(tw, "Effective per user:\t%.2f\n", q.EffectivePricePerUser)
	if err := tw.Flush(); err != nil {
		return err
	}

	if opts.pdfPath == "" {
		return nil
	}
	doc, err := quote.Render(quote.Quote{
		OrganizationName: opts.org,
		Interval:         string(interval),
		Currency:         opts.currency,
		Rules:            rules,
		Result:           q,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.pdfPath, doc, 0o644); err != nil {
		return fmt.Errorf("write quote pdf: %w", err)
	}
	log.Info().Str("path", opts.pdfPath).Int("bytes", len(doc)).Msg("Quote PDF written")
	return nil
}

// parseRuleFlags parses "min_users:percent" pairs.
func parseRuleFlags(raw []string) ([]pricing.VolumeDiscountRule, error) {
	rules := make([]pricing.VolumeDiscountRule, 0, len(raw))
	for _, r := range raw {
		minStr, pctStr, ok := strings.Cut(r, ":")
		if !ok {
			return nil, fmt.Errorf("rule %q must be min_users:percent", r)
		}
		minUsers, err := strconv.ParseFloat(strings.TrimSpace(minStr), 64)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid min_users: %w", r, err)
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(pctStr), "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid percent: %w", r, err)
		}
		rules = append(rules, pricing.VolumeDiscountRule{MinUsers: minUsers, DiscountPercent: pct})
	}
	return rules, nil
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
