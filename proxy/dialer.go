package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Dialer opens upstream connections.
type Dialer struct {
	resolver *Resolver
	timeout  time.Duration
}

// NewDialer creates a Dialer. A nil resolver means uncached system lookups;
// timeout bounds each connection attempt, 0 means no limit.
func NewDialer(resolver *Resolver, timeout time.Duration) *Dialer {
	if resolver == nil {
		resolver = NewResolver(nil, 0)
	}

	return &Dialer{resolver: resolver, timeout: timeout}
}

// Dial resolves address and connects to each resolved IP in turn, returning
// the first connection that succeeds. When every address refuses, the cached
// answer for the host is dropped so the next Dial resolves it again.
//
// Parameters:
//   - ctx: Context bounding resolution and all attempts
//   - address: "host:port" of the upstream
//
// Returns:
//   - The connection, or an error joining every failed attempt
func (d *Dialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream address %q: %w", address, err)
	}

	addrs, err := d.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve upstream %s: %w", host, err)
	}

	dialer := net.Dialer{Timeout: d.timeout}
	var errs []error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}

		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	if len(errs) == len(addrs) {
		if err := d.resolver.Invalidate(ctx, host); err != nil {
			errs = append(errs, err)
		}
	}

	return nil, fmt.Errorf("dial upstream %s: %w", address, errors.Join(errs...))
}
