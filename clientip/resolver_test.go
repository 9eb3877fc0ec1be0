package clientip

import (
	"net/http/httptest"
	"testing"
)

func mustResolver(t *testing.T, proxies []string) *Resolver {
	t.Helper()
	r, err := NewResolver(proxies)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func TestResolveUntrustedPeerIgnoresHeaders(t *testing.T) {
	r := mustResolver(t, []string{"10.0.0.0/8"})

	addr, err := r.Resolve("203.0.113.7:55412", "198.51.100.1, 10.0.0.2", "198.51.100.9")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr.String() != "203.0.113.7" {
		t.Fatalf("expected peer address, got %s", addr)
	}
}

func TestResolveWalksRightToLeft(t *testing.T) {
	r := mustResolver(t, []string{"10.0.0.0/8", "192.168.1.5"})

	addr, err := r.Resolve("10.0.0.2:443", "198.51.100.1, 203.0.113.7, 10.0.0.3, 192.168.1.5", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr.String() != "203.0.113.7" {
		t.Fatalf("expected first untrusted from the right, got %s", addr)
	}
}

func TestResolveDiscardsMalformedEntries(t *testing.T) {
	r := mustResolver(t, []string{"10.0.0.0/8"})

	addr, err := r.Resolve("10.0.0.2:443", "203.0.113.7, not-an-ip, 10.0.0.3", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr.String() != "203.0.113.7" {
		t.Fatalf("expected malformed entry skipped, got %s", addr)
	}
}

func TestResolveAllTrustedFallsBackToRealIP(t *testing.T) {
	r := mustResolver(t, []string{"10.0.0.0/8"})

	addr, err := r.Resolve("10.0.0.2:443", "10.0.0.3, 10.0.0.4", "203.0.113.7")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr.String() != "203.0.113.7" {
		t.Fatalf("expected X-Real-IP fallback, got %s", addr)
	}
}

func TestResolveAllTrustedNoRealIPReturnsPeer(t *testing.T) {
	r := mustResolver(t, []string{"10.0.0.0/8"})

	addr, err := r.Resolve("10.0.0.2:443", "10.0.0.3", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr.String() != "10.0.0.2" {
		t.Fatalf("expected peer address, got %s", addr)
	}
}

func TestResolveNoTrustedProxies(t *testing.T) {
	r := mustResolver(t, nil)

	addr, err := r.Resolve("203.0.113.7:1234", "198.51.100.1", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if addr.String() != "203.0.113.7" {
		t.Fatalf("expected peer address, got %s", addr)
	}
}

func TestResolveBadRemoteAddr(t *testing.T) {
	r := mustResolver(t, nil)
	if _, err := r.Resolve("garbage", "", ""); err == nil {
		t.Fatal("expected error for unparseable peer")
	}
}

func TestFromRequest(t *testing.T) {
	r := mustResolver(t, []string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "/x", nil)
	req.RemoteAddr = "10.0.0.2:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.3")

	addr, err := r.FromRequest(req)
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if addr.String() != "203.0.113.7" {
		t.Fatalf("expected forwarded client, got %s", addr)
	}
}

func TestNewResolverRejectsInvalidEntry(t *testing.T) {
	if _, err := NewResolver([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
	if _, err := NewResolver([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected error for invalid address")
	}
}
