package sessioncore

import (
	"context"
	"net/netip"
)

type identityContextKey struct{}
type clientAddrContextKey struct{}

// WithIdentity attaches a verified identity to ctx. The auth middleware
// stage does this after a successful Authenticate so handlers behind it
// can read who is calling.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the verified identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// WithClientAddr attaches the resolved client address to ctx.
func WithClientAddr(ctx context.Context, addr netip.Addr) context.Context {
	return context.WithValue(ctx, clientAddrContextKey{}, addr)
}

// ClientAddrFromContext returns the resolved client address, if any.
func ClientAddrFromContext(ctx context.Context) (netip.Addr, bool) {
	if ctx == nil {
		return netip.Addr{}, false
	}
	addr, ok := ctx.Value(clientAddrContextKey{}).(netip.Addr)
	return addr, ok
}
