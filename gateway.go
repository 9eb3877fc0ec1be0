package sessioncore

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/SunnyX6/Datapillar-sub011/assertion"
	"github.com/SunnyX6/Datapillar-sub011/csrf"
	"github.com/SunnyX6/Datapillar-sub011/token"
)

// AuthDecision is the outcome of authenticating one request at the edge.
// Bypass means the path is whitelisted and the request proceeds
// anonymously; otherwise Identity is set and, when assertions are
// enabled, Assertion carries the signed statement for the downstream
// service.
type AuthDecision struct {
	Bypass     bool
	Identity   *Identity
	Assertion  string
	ClientAddr netip.Addr
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// Authenticate makes the edge authentication decision for one request:
// resolve the client address, honor the path whitelist, extract the
// access credential (Authorization header wins over the cookie), verify
// it against both validity layers, and mint the downstream assertion.
//
// Every failure maps to a sentinel the caller turns into one generic 401.
func (e *Engine) Authenticate(r *http.Request) (*AuthDecision, error) {
	if e.cfg.Gateway.RequireHTTPS && !requestSecure(r) {
		return nil, ErrInsecureTransport
	}

	addr, err := e.resolver.FromRequest(r)
	if err != nil {
		e.log.Debug().Err(err).Str("path", r.URL.Path).Msg("client address unresolvable")
	}

	if matchAny(e.cfg.Gateway.WhitelistPaths, r.URL.Path) {
		return &AuthDecision{Bypass: true, ClientAddr: addr}, nil
	}

	credential := bearerToken(r)
	if credential == "" {
		credential = e.cookies.AccessFromCookie(r)
	}
	if credential == "" {
		return nil, ErrCredentialMissing
	}

	id, err := e.Validate(r.Context(), credential)
	if err != nil {
		return nil, err
	}

	decision := &AuthDecision{Identity: id, ClientAddr: addr}
	if e.signer != nil {
		audience, ok := e.resolveAudience(r.URL.Path)
		if !ok {
			e.log.Warn().Str("path", r.URL.Path).Msg("no assertion audience for path")
			return nil, ErrAudienceUnresolvable
		}
		signed, err := e.signer.Sign(assertion.Identity{
			Subject:       id.Subject,
			TenantID:      id.TenantID,
			Roles:         id.Roles,
			Impersonation: id.Impersonation,
			ActorSubject:  id.ActorSubject,
			ActorTenantID: id.ActorTenantID,
		}, audience, r.Method, r.URL.Path)
		if err != nil {
			return nil, err
		}
		decision.Assertion = signed
	}
	return decision, nil
}

// resolveAudience picks the audience whose path prefix matches the
// request path; the longest matching prefix wins.
func (e *Engine) resolveAudience(path string) (string, bool) {
	best := ""
	audience := ""
	for prefix, aud := range e.cfg.Assertion.Audiences {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best = prefix
			audience = aud
		}
	}
	return audience, best != ""
}

// requestSecure accepts direct TLS connections and requests a trusted
// proxy marked as forwarded from HTTPS.
func requestSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// CheckCSRF enforces the double-submit contract on one request. The
// bypass ladder runs in order: guard disabled, safe method, whitelisted
// path, bearer Authorization header, no auth cookies at all. A request
// that clears none of those must present a matching origin and a CSRF
// header equal to the CSRF cookie and to the stored digest for the
// identity its own credential names.
//
// Every rejection returns ErrCSRFRejected; the distinguishing detail goes
// to the debug log only.
func (e *Engine) CheckCSRF(r *http.Request) error {
	if !e.cfg.CSRF.Enabled {
		return nil
	}
	if safeMethod(r.Method) {
		return nil
	}
	if matchAny(e.cfg.CSRF.WhitelistPaths, r.URL.Path) {
		return nil
	}
	if bearerToken(r) != "" {
		return nil
	}
	accessCookie := e.cookies.AccessFromCookie(r)
	refreshCookie := e.cookies.RefreshFromCookie(r)
	if accessCookie == "" && refreshCookie == "" {
		return nil
	}

	if !e.originAllowed(r) {
		e.log.Debug().Str("path", r.URL.Path).Str("origin", r.Header.Get("Origin")).Msg("csrf origin rejected")
		return ErrCSRFRejected
	}

	purpose := csrf.PurposeBusiness
	headerName := e.cfg.CSRF.HeaderName
	cookieName := e.cfg.CSRF.CookieName
	credential := accessCookie
	credentialType := token.TypeAccess
	if matchAny(e.cfg.CSRF.RefreshPaths, r.URL.Path) {
		purpose = csrf.PurposeRefresh
		headerName = e.cfg.CSRF.RefreshHeaderName
		cookieName = e.cfg.CSRF.RefreshCookieName
		if refreshCookie != "" {
			credential = refreshCookie
			credentialType = token.TypeRefresh
		}
	}
	if credential == "" {
		credential = refreshCookie
		credentialType = token.TypeRefresh
	}

	claims, err := e.codec.VerifyAllowExpired(credential, credentialType)
	if err != nil {
		e.log.Debug().Str("path", r.URL.Path).Msg("csrf identity credential unverifiable")
		return ErrCSRFRejected
	}

	headerToken := r.Header.Get(headerName)
	cookieToken := ""
	if c, err := r.Cookie(cookieName); err == nil {
		cookieToken = c.Value
	}
	if headerToken == "" || cookieToken == "" || headerToken != cookieToken {
		e.log.Debug().Str("path", r.URL.Path).Msg("csrf token pair mismatch")
		return ErrCSRFRejected
	}

	ok, err := e.csrf.Validate(r.Context(), purpose, claims.TenantID, claims.Subject, headerToken)
	if err != nil || !ok {
		e.log.Debug().Err(err).Str("path", r.URL.Path).Msg("csrf digest validation failed")
		return ErrCSRFRejected
	}
	return nil
}

// originAllowed accepts requests whose Origin, or failing that parsed
// Referer, is in the allow-list. A request carrying neither header is
// rejected: a browser sends one of them on cross-capable requests, so
// their absence means the caller stripped them.
func (e *Engine) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		referer := r.Header.Get("Referer")
		if referer == "" {
			return false
		}
		u, err := url.Parse(referer)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		origin = u.Scheme + "://" + u.Host
	}
	for _, allowed := range e.cfg.CSRF.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// IsSessionActive is a thin passthrough for callers that only need the
// session-level liveness answer.
func (e *Engine) IsSessionActive(ctx context.Context, sid string) (bool, error) {
	return e.store.IsSessionActive(ctx, sid)
}
