// Package netutil builds the outbound HTTP client used for billing
// provider calls.
package netutil

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTTL = 5 * time.Minute

// Resolver wraps a dnscache.Resolver with a refresh loop tied to a context.
type Resolver struct {
	cache *dnscache.Resolver
	ttl   time.Duration
}

// NewResolver returns a caching resolver and starts refreshing it every
// ttl until ctx is done.
func NewResolver(ctx context.Context, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	r := &Resolver{cache: &dnscache.Resolver{}, ttl: ttl}

	log.Info().
		Dur("ttl", ttl).
		Msg("Initializing DNS resolver cache")

	go r.refreshLoop(ctx)
	return r
}

func (r *Resolver) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cache.Refresh(true)
			log.Debug().
				Dur("ttl", r.ttl).
				Msg("DNS cache refreshed")
		}
	}
}

// DialContext dials address using the cached resolver.
func (r *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := r.cache.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Try each resolved address in turn; the first success wins.
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// NewHTTPClient returns an HTTP client that dials through the cached
// resolver and records client spans.
func NewHTTPClient(r *Resolver, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = r.DialContext

	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}
