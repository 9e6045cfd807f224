package store

import (
	"context"
	"fmt"

	"github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

// ResolvePackageContext returns the organization's entitling subscription
// and its package. It returns nil, nil when the organization has no
// entitling subscription. Package is nil when the subscription's package
// no longer resolves.
func (s *Store) ResolvePackageContext(ctx context.Context, orgID string) (*entitlements.PackageContext, error) {
	sub, err := s.GetEntitlingSubscription(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("resolve subscription: %w", err)
	}
	if sub == nil {
		return nil, nil
	}

	pkg, err := s.GetPackage(ctx, sub.PackageID)
	if err != nil {
		return nil, fmt.Errorf("resolve package %s: %w", sub.PackageID, err)
	}
	return &entitlements.PackageContext{Package: pkg, Subscription: sub}, nil
}
