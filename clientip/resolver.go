// Package clientip resolves the real client address behind a chain of
// trusted reverse proxies. Forwarded headers are attacker-controlled
// unless the immediate peer is trusted, so resolution walks the
// X-Forwarded-For chain right to left, skipping addresses inside the
// trusted set, and stops at the first untrusted hop.
package clientip

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Resolver decides which forwarded addresses to believe.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver builds a resolver from a list of trusted proxy entries,
// each either a single IP or a CIDR range.
func NewResolver(proxies []string) (*Resolver, error) {
	trusted := make([]netip.Prefix, 0, len(proxies))
	for _, entry := range proxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			trusted = append(trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		trusted = append(trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return &Resolver{trusted: trusted}, nil
}

// Trusted reports whether addr belongs to the trusted proxy set.
func (r *Resolver) Trusted(addr netip.Addr) bool {
	for _, prefix := range r.trusted {
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// Resolve returns the client address for a connection from remoteAddr
// carrying the given X-Forwarded-For and X-Real-IP header values.
//
// The forwarded chain is only consulted when the direct peer is trusted.
// Entries are walked right to left; trusted addresses are skipped as
// intermediate hops and malformed entries are discarded. The first
// untrusted address wins. When every entry is trusted or the chain is
// empty, X-Real-IP is tried, then the peer address itself.
func (r *Resolver) Resolve(remoteAddr, forwardedFor, realIP string) (netip.Addr, error) {
	peer, err := parseHostPort(remoteAddr)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(r.trusted) == 0 || !r.Trusted(peer) {
		return peer, nil
	}

	entries := strings.Split(forwardedFor, ",")
	for i := len(entries) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(entries[i]))
		if err != nil {
			continue
		}
		if !r.Trusted(addr) {
			return addr.Unmap(), nil
		}
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(realIP)); err == nil {
		return addr.Unmap(), nil
	}
	return peer, nil
}

// FromRequest resolves the client address from a request's peer and
// forwarded headers.
func (r *Resolver) FromRequest(req *http.Request) (netip.Addr, error) {
	return r.Resolve(req.RemoteAddr, req.Header.Get("X-Forwarded-For"), req.Header.Get("X-Real-Ip"))
}

func parseHostPort(remoteAddr string) (netip.Addr, error) {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, errors.New("unparseable remote address")
	}
	return addr.Unmap(), nil
}
