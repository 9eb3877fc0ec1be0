package sessioncore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SunnyX6/Datapillar-sub011/assertion"
)

func openTestPair(t *testing.T, engine *Engine) *TokenPair {
	t.Helper()
	pair, err := engine.OpenSession(context.Background(), testIdentity(), false)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return pair
}

func authedRequest(method, path string, pair *TokenPair, bearer bool) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = "203.0.113.7:44321"
	if pair == nil {
		return r
	}
	if bearer {
		r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	} else {
		r.AddCookie(&http.Cookie{Name: "auth-token", Value: pair.AccessToken})
	}
	return r
}

func TestAuthenticateBearer(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	decision, err := engine.Authenticate(authedRequest("GET", "/billing/invoices", pair, true))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if decision.Bypass {
		t.Fatal("expected an authenticated decision, not a bypass")
	}
	if decision.Identity.Subject != "u-1" {
		t.Fatalf("unexpected identity: %+v", decision.Identity)
	}
	if decision.Assertion == "" {
		t.Fatal("expected an assertion")
	}
	if decision.ClientAddr.String() != "203.0.113.7" {
		t.Fatalf("unexpected client addr %s", decision.ClientAddr)
	}
}

func TestAuthenticateCookieFallback(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	decision, err := engine.Authenticate(authedRequest("GET", "/billing/invoices", pair, false))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if decision.Identity.Subject != "u-1" {
		t.Fatalf("unexpected identity: %+v", decision.Identity)
	}
}

func TestAuthenticateHeaderWinsOverCookie(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	// Valid cookie, garbage header: the header is authoritative.
	r := authedRequest("GET", "/billing/invoices", pair, false)
	r.Header.Set("Authorization", "Bearer garbage")
	if _, err := engine.Authenticate(r); !errors.Is(err, ErrCredentialInvalid) {
		t.Fatalf("expected header to win and fail, got %v", err)
	}
}

func TestAuthenticateWhitelistBypass(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()

	for _, path := range []string{"/auth/login", "/health/live", "/health/ready/deep"} {
		decision, err := engine.Authenticate(authedRequest("POST", path, nil, false))
		if err != nil {
			t.Fatalf("authenticate %s: %v", path, err)
		}
		if !decision.Bypass {
			t.Fatalf("expected bypass for %s", path)
		}
	}
}

func TestAuthenticateMissingCredential(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()

	if _, err := engine.Authenticate(authedRequest("GET", "/billing/invoices", nil, false)); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
}

func TestAuthenticateRevokedCredential(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	if err := engine.Logout(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := engine.Authenticate(authedRequest("GET", "/billing/invoices", pair, true)); !errors.Is(err, ErrCredentialInvalid) {
		t.Fatalf("expected ErrCredentialInvalid, got %v", err)
	}
}

func TestAuthenticateAssertionBinding(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	decision, err := engine.Authenticate(authedRequest("POST", "/billing/invoices", pair, true))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	pub := engine.cfg.Assertion.PrivateKey[32:]
	verifier, err := assertion.NewVerifier(pub, "auth-core", 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	// Longest matching prefix resolves the audience.
	claims, err := verifier.Verify(decision.Assertion, "billing", "POST", "/billing/invoices")
	if err != nil {
		t.Fatalf("verify assertion: %v", err)
	}
	if claims.Subject != "u-1" || claims.TenantID != "t-1" {
		t.Fatalf("unexpected assertion identity: %+v", claims)
	}

	// The same assertion fails for any other audience or call shape.
	if _, err := verifier.Verify(decision.Assertion, "core", "POST", "/billing/invoices"); err == nil {
		t.Fatal("expected audience mismatch")
	}
	if _, err := verifier.Verify(decision.Assertion, "billing", "GET", "/billing/invoices"); err == nil {
		t.Fatal("expected method mismatch")
	}
}

func TestAuthenticateAudienceUnresolvable(t *testing.T) {
	engine, _, done := newEngineTest(t, func(cfg *Config) {
		cfg.Assertion.Audiences = map[string]string{"/billing": "billing"}
	})
	defer done()
	pair := openTestPair(t, engine)

	if _, err := engine.Authenticate(authedRequest("GET", "/reports/x", pair, true)); !errors.Is(err, ErrAudienceUnresolvable) {
		t.Fatalf("expected ErrAudienceUnresolvable, got %v", err)
	}
}

func TestAuthenticateRequireHTTPS(t *testing.T) {
	engine, _, done := newEngineTest(t, func(cfg *Config) {
		cfg.Gateway.RequireHTTPS = true
	})
	defer done()
	pair := openTestPair(t, engine)

	if _, err := engine.Authenticate(authedRequest("GET", "/billing/invoices", pair, true)); !errors.Is(err, ErrInsecureTransport) {
		t.Fatalf("expected ErrInsecureTransport, got %v", err)
	}

	r := authedRequest("GET", "/billing/invoices", pair, true)
	r.Header.Set("X-Forwarded-Proto", "https")
	if _, err := engine.Authenticate(r); err != nil {
		t.Fatalf("forwarded https rejected: %v", err)
	}
}

func TestAuthenticateResolvesForwardedClient(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	r := authedRequest("GET", "/billing/invoices", pair, true)
	r.RemoteAddr = "10.0.0.2:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.3")

	decision, err := engine.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if decision.ClientAddr.String() != "198.51.100.9" {
		t.Fatalf("expected forwarded client, got %s", decision.ClientAddr)
	}
}

func csrfRequest(t *testing.T, engine *Engine, pair *TokenPair, method, path string, mutate func(*http.Request)) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = "203.0.113.7:44321"
	if pair != nil {
		r.AddCookie(&http.Cookie{Name: "auth-token", Value: pair.AccessToken})
		r.AddCookie(&http.Cookie{Name: "refresh-token", Value: pair.RefreshToken})
		r.AddCookie(&http.Cookie{Name: "csrf-token", Value: pair.CSRFToken})
		r.AddCookie(&http.Cookie{Name: "refresh-csrf-token", Value: pair.RefreshCSRFToken})
		r.Header.Set(engine.cfg.CSRF.HeaderName, pair.CSRFToken)
		r.Header.Set("Origin", "https://app.example.com")
	}
	if mutate != nil {
		mutate(r)
	}
	return r
}

func TestCheckCSRFHappyPath(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	if err := engine.CheckCSRF(csrfRequest(t, engine, pair, "POST", "/billing/invoices", nil)); err != nil {
		t.Fatalf("check csrf: %v", err)
	}
}

func TestCheckCSRFBypassLadder(t *testing.T) {
	engine, _, done := newEngineTest(t, func(cfg *Config) {
		cfg.CSRF.WhitelistPaths = []string{"/webhooks/**"}
	})
	defer done()
	pair := openTestPair(t, engine)

	// Safe method, no header needed.
	r := csrfRequest(t, engine, pair, "GET", "/billing/invoices", func(r *http.Request) {
		r.Header.Del(engine.cfg.CSRF.HeaderName)
	})
	if err := engine.CheckCSRF(r); err != nil {
		t.Fatalf("safe method must bypass: %v", err)
	}

	// TRACE is not a safe method; without the header it is rejected.
	r = csrfRequest(t, engine, pair, "TRACE", "/billing/invoices", func(r *http.Request) {
		r.Header.Del(engine.cfg.CSRF.HeaderName)
	})
	if err := engine.CheckCSRF(r); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected TRACE rejected, got %v", err)
	}

	// Whitelisted path.
	r = csrfRequest(t, engine, pair, "POST", "/webhooks/github", func(r *http.Request) {
		r.Header.Del(engine.cfg.CSRF.HeaderName)
	})
	if err := engine.CheckCSRF(r); err != nil {
		t.Fatalf("whitelisted path must bypass: %v", err)
	}

	// Bearer header present: not cookie-authenticated.
	r = csrfRequest(t, engine, pair, "POST", "/billing/invoices", func(r *http.Request) {
		r.Header.Del(engine.cfg.CSRF.HeaderName)
		r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	})
	if err := engine.CheckCSRF(r); err != nil {
		t.Fatalf("bearer request must bypass: %v", err)
	}

	// No auth cookies at all.
	r = httptest.NewRequest("POST", "/billing/invoices", nil)
	if err := engine.CheckCSRF(r); err != nil {
		t.Fatalf("cookieless request must bypass: %v", err)
	}

	// Guard disabled entirely.
	disabled, _, doneDisabled := newEngineTest(t, func(cfg *Config) {
		cfg.CSRF.Enabled = false
	})
	defer doneDisabled()
	dpair := openTestPair(t, disabled)
	r = csrfRequest(t, disabled, dpair, "POST", "/billing/invoices", func(r *http.Request) {
		r.Header.Del(disabled.cfg.CSRF.HeaderName)
	})
	if err := disabled.CheckCSRF(r); err != nil {
		t.Fatalf("disabled guard must bypass: %v", err)
	}
}

func TestCheckCSRFRejections(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	// Missing header.
	r := csrfRequest(t, engine, pair, "POST", "/billing/invoices", func(r *http.Request) {
		r.Header.Del(engine.cfg.CSRF.HeaderName)
	})
	if err := engine.CheckCSRF(r); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("missing header: expected ErrCSRFRejected, got %v", err)
	}

	// Header and cookie disagree.
	r = csrfRequest(t, engine, pair, "POST", "/billing/invoices", func(r *http.Request) {
		r.Header.Set(engine.cfg.CSRF.HeaderName, "something-else")
	})
	if err := engine.CheckCSRF(r); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("mismatched pair: expected ErrCSRFRejected, got %v", err)
	}

	// Header and cookie agree but neither matches the stored digest.
	r = httptest.NewRequest("POST", "/billing/invoices", nil)
	r.AddCookie(&http.Cookie{Name: "auth-token", Value: pair.AccessToken})
	r.AddCookie(&http.Cookie{Name: "csrf-token", Value: "forged"})
	r.Header.Set(engine.cfg.CSRF.HeaderName, "forged")
	r.Header.Set("Origin", "https://app.example.com")
	if err := engine.CheckCSRF(r); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("forged pair: expected ErrCSRFRejected, got %v", err)
	}
}

func TestCheckCSRFOriginAllowList(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	r := csrfRequest(t, engine, pair, "POST", "/billing/invoices", func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example.net")
	})
	if err := engine.CheckCSRF(r); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected foreign origin rejected, got %v", err)
	}

	r = csrfRequest(t, engine, pair, "POST", "/billing/invoices", func(r *http.Request) {
		r.Header.Set("Origin", "https://app.example.com")
	})
	if err := engine.CheckCSRF(r); err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}

	// Referer substitutes for a missing Origin.
	r = csrfRequest(t, engine, pair, "POST", "/billing/invoices", func(r *http.Request) {
		r.Header.Del("Origin")
		r.Header.Set("Referer", "https://app.example.com/billing")
	})
	if err := engine.CheckCSRF(r); err != nil {
		t.Fatalf("allowed referer rejected: %v", err)
	}

	// A request that discloses neither Origin nor Referer is rejected even
	// when its double-submit pair is valid.
	r = csrfRequest(t, engine, pair, "POST", "/billing/invoices", func(r *http.Request) {
		r.Header.Del("Origin")
		r.Header.Del("Referer")
	})
	if err := engine.CheckCSRF(r); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected missing origin rejected, got %v", err)
	}

	// A Referer that does not parse into scheme://host counts as missing.
	r = csrfRequest(t, engine, pair, "POST", "/billing/invoices", func(r *http.Request) {
		r.Header.Del("Origin")
		r.Header.Set("Referer", "not a url")
	})
	if err := engine.CheckCSRF(r); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected malformed referer rejected, got %v", err)
	}
}

func TestCheckCSRFRefreshPathUsesRefreshPair(t *testing.T) {
	engine, _, done := newEngineTest(t, nil)
	defer done()
	pair := openTestPair(t, engine)

	// Business token on the refresh path fails.
	r := csrfRequest(t, engine, pair, "POST", "/auth/refresh", func(r *http.Request) {
		r.Header.Del(engine.cfg.CSRF.HeaderName)
		r.Header.Set(engine.cfg.CSRF.RefreshHeaderName, pair.CSRFToken)
	})
	if err := engine.CheckCSRF(r); !errors.Is(err, ErrCSRFRejected) {
		t.Fatalf("expected business token rejected on refresh path, got %v", err)
	}

	// The refresh token pair passes, even without the access cookie.
	r = httptest.NewRequest("POST", "/auth/refresh", nil)
	r.AddCookie(&http.Cookie{Name: "refresh-token", Value: pair.RefreshToken})
	r.AddCookie(&http.Cookie{Name: "refresh-csrf-token", Value: pair.RefreshCSRFToken})
	r.Header.Set(engine.cfg.CSRF.RefreshHeaderName, pair.RefreshCSRFToken)
	r.Header.Set("Origin", "https://app.example.com")
	if err := engine.CheckCSRF(r); err != nil {
		t.Fatalf("refresh pair rejected: %v", err)
	}
}
