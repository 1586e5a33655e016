package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cyberinferno/minerproxy/cacher"
)

// LookupFunc resolves a host name to addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver resolves upstream host names, caching answers for a TTL so a
// burst of new miners does not turn into a burst of DNS queries.
type Resolver struct {
	cache  cacher.Cacher[[]string]
	ttl    time.Duration
	lookup LookupFunc
}

// NewResolver creates a Resolver. A nil cache or a non-positive ttl
// disables caching.
//
// Parameters:
//   - cache: Where answers are kept
//   - ttl: How long an answer is reused
//
// Returns:
//   - A *Resolver using the system resolver
func NewResolver(cache cacher.Cacher[[]string], ttl time.Duration) *Resolver {
	return &Resolver{
		cache:  cache,
		ttl:    ttl,
		lookup: net.DefaultResolver.LookupHost,
	}
}

// Resolve returns the addresses for host. IP literals are returned as is.
//
// Parameters:
//   - ctx: Context bounding the lookup
//   - host: Host name or IP literal
//
// Returns:
//   - One or more addresses
//   - An error if the lookup fails or yields nothing
func (r *Resolver) Resolve(ctx context.Context, host string) ([]string, error) {
	if net.ParseIP(host) != nil {
		return []string{host}, nil
	}

	fetch := func(ctx context.Context) ([]string, error) {
		addrs, err := r.lookup(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("no addresses for %s", host)
		}
		return addrs, nil
	}

	if r.cache == nil || r.ttl <= 0 {
		return fetch(ctx)
	}

	return r.cache.GetOrFetch(ctx, host, r.ttl, fetch)
}

// Invalidate drops the cached answer for host so the next Resolve looks it
// up again. It does nothing for IP literals or when caching is disabled.
func (r *Resolver) Invalidate(ctx context.Context, host string) error {
	if r.cache == nil || r.ttl <= 0 || net.ParseIP(host) != nil {
		return nil
	}

	if err := r.cache.Delete(ctx, host); err != nil {
		return fmt.Errorf("invalidate %s: %w", host, err)
	}

	return nil
}
