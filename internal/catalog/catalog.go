// Package catalog loads the package catalog from YAML and applies it to
// the store.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	ent "github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

//go:embed default_packages.yaml
var defaultCatalog []byte

// Catalog is the set of packages offered for sale.
type Catalog struct {
	Packages []PackageSpec `yaml:"packages"`
}

// PackageSpec is one package entry. Active defaults to true.
type PackageSpec struct {
	Name                 string              `yaml:"name"`
	DisplayName          string              `yaml:"display_name"`
	PricingModel         ent.PricingModel    `yaml:"pricing_model"`
	PriceMonthly         *float64            `yaml:"price_monthly"`
	PriceYearly          *float64            `yaml:"price_yearly"`
	StripePriceIDMonthly string              `yaml:"stripe_price_id_monthly"`
	StripePriceIDYearly  string              `yaml:"stripe_price_id_yearly"`
	Active               *bool               `yaml:"active"`
	Features             ent.PackageFeatures `yaml:"features"`
}

// Package converts the entry to a domain package.
func (p PackageSpec) Package() *ent.Package {
	active := p.Active == nil || *p.Active
	display := p.DisplayName
	if display == "" {
		display = p.Name
	}
	return &ent.Package{
		Name:                 p.Name,
		DisplayName:          display,
		PricingModel:         p.PricingModel,
		PriceMonthly:         p.PriceMonthly,
		PriceYearly:          p.PriceYearly,
		StripePriceIDMonthly: p.StripePriceIDMonthly,
		StripePriceIDYearly:  p.StripePriceIDYearly,
		Features:             p.Features,
		IsActive:             active,
	}
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path loads the built-in catalog.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes and validates a YAML catalog. Unknown keys are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cat Catalog
	if err := dec.Decode(&cat); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks names are unique and prices, limits and enums are sane.
// All problems are reported together.
func (c *Catalog) Validate() error {
	if len(c.Packages) == 0 {
		return errors.New("catalog has no packages")
	}
	var errs []error
	seen := make(map[string]bool, len(c.Packages))
	for i, p := range c.Packages {
		name := strings.TrimSpace(p.Name)
		where := fmt.Sprintf("packages[%d]", i)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", where))
		} else {
			where = fmt.Sprintf("package %q", name)
			if seen[name] {
				errs = append(errs, fmt.Errorf("%s: duplicate name", where))
			}
			seen[name] = true
		}
		if !p.PricingModel.Valid() {
			errs = append(errs, fmt.Errorf("%s: pricing_model must be per_user or flat_rate, got %q", where, p.PricingModel))
		}
		if p.PriceMonthly != nil && *p.PriceMonthly < 0 {
			errs = append(errs, fmt.Errorf("%s: price_monthly must not be negative", where))
		}
		if p.PriceYearly != nil && *p.PriceYearly < 0 {
			errs = append(errs, fmt.Errorf("%s: price_yearly must not be negative", where))
		}
		for _, kind := range []ent.ResourceKind{ent.ResourceProjects, ent.ResourceUsers, ent.ResourceTemplates} {
			if limit := p.Features.Limit(kind); limit != nil && *limit < 0 {
				errs = append(errs, fmt.Errorf("%s: max_%s must not be negative", where, kind))
			}
		}
		if p.Features.SupportLevel == "" {
			c.Packages[i].Features.SupportLevel = ent.SupportCommunity
		} else if !p.Features.SupportLevel.Valid() {
			errs = append(errs, fmt.Errorf("%s: unknown support_level %q", where, p.Features.SupportLevel))
		}
	}
	return errors.Join(errs...)
}

// PackageStore is the persistence Apply writes through.
type PackageStore interface {
	GetPackageByName(ctx context.Context, name string) (*ent.Package, error)
	UpsertPackage(ctx context.Context, p *ent.Package) error
	PackageInUse(ctx context.Context, id string) (bool, error)
}

// ApplyResult counts what Apply did, by package name.
type ApplyResult struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
	Skipped   []string `json:"skipped"`
}

// Apply upserts every catalog package. A package referenced by a
// subscription keeps its pricing and limits: only its display name and
// active flag are updated, and the entry is reported as skipped when
// anything else differs.
func Apply(ctx context.Context, st PackageStore, cat *Catalog) (ApplyResult, error) {
	var res ApplyResult
	for _, entry := range cat.Packages {
		want := entry.Package()

		existing, err := st.GetPackageByName(ctx, want.Name)
		if err != nil {
			return res, fmt.Errorf("load package %s: %w", want.Name, err)
		}
		if existing == nil {
			if err := st.UpsertPackage(ctx, want); err != nil {
				return res, fmt.Errorf("create package %s: %w", want.Name, err)
			}
			res.Created = append(res.Created, want.Name)
			continue
		}

		billingChanged := !sameBilling(existing, want)
		cosmeticChanged := existing.DisplayName != want.DisplayName || existing.IsActive != want.IsActive
		if !billingChanged && !cosmeticChanged {
			res.Unchanged = append(res.Unchanged, want.Name)
			continue
		}

		if billingChanged {
			inUse, err := st.PackageInUse(ctx, existing.ID)
			if err != nil {
				return res, fmt.Errorf("check package %s usage: %w", want.Name, err)
			}
			if inUse {
				log.Warn().
					Str("package", want.Name).
					Msg("Package is referenced by subscriptions, keeping its pricing and limits")
				res.Skipped = append(res.Skipped, want.Name)
				if !cosmeticChanged {
					continue
				}
				cosmetic := *existing
				cosmetic.DisplayName = want.DisplayName
				cosmetic.IsActive = want.IsActive
				if err := st.UpsertPackage(ctx, &cosmetic); err != nil {
					return res, fmt.Errorf("update package %s: %w", want.Name, err)
				}
				continue
			}
		}

		want.ID = existing.ID
		want.CreatedAt = existing.CreatedAt
		if err := st.UpsertPackage(ctx, want); err != nil {
			return res, fmt.Errorf("update package %s: %w", want.Name, err)
		}
		res.Updated = append(res.Updated, want.Name)
	}

	log.Info().
		Int("created", len(res.Created)).
		Int("updated", len(res.Updated)).
		Int("unchanged", len(res.Unchanged)).
		Int("skipped", len(res.Skipped)).
		Msg("Package catalog applied")
	return res, nil
}

func sameBilling(a, b *ent.Package) bool {
	return a.PricingModel == b.PricingModel &&
		reflect.DeepEqual(a.PriceMonthly, b.PriceMonthly) &&
		reflect.DeepEqual(a.PriceYearly, b.PriceYearly) &&
		a.StripePriceIDMonthly == b.StripePriceIDMonthly &&
		a.StripePriceIDYearly == b.StripePriceIDYearly &&
		reflect.DeepEqual(a.Features, b.Features)
}
