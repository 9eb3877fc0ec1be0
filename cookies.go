package sessioncore

import (
	"net/http"
	"time"
)

// CookieWriter writes and clears the four cookies the session core uses:
// both credentials as HttpOnly cookies, both CSRF tokens as
// script-readable ones (the double-submit pattern requires the page to
// echo them back in a header).
type CookieWriter struct {
	cfg      CookieConfig
	csrf     CSRFConfig
	sameSite http.SameSite
}

// NewCookieWriter builds a writer from a validated Config.
func NewCookieWriter(cfg Config) (*CookieWriter, error) {
	sameSite, err := cfg.Cookies.sameSite()
	if err != nil {
		return nil, err
	}
	return &CookieWriter{cfg: cfg.Cookies, csrf: cfg.CSRF, sameSite: sameSite}, nil
}

func (w *CookieWriter) cookie(name, value string, httpOnly bool, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     w.cfg.Path,
		Domain:   w.cfg.Domain,
		Secure:   w.cfg.Secure,
		HttpOnly: httpOnly,
		SameSite: w.sameSite,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
	} else {
		c.MaxAge = -1
	}
	return c
}

// SetSessionCookies writes all cookies for a freshly opened or refreshed
// session. Credential cookies live as long as their tokens; CSRF cookies
// follow the refresh lifetime since their server-side digests do.
func (w *CookieWriter) SetSessionCookies(rw http.ResponseWriter, pair *TokenPair) {
	http.SetCookie(rw, w.cookie(w.cfg.AccessName, pair.AccessToken, true, pair.AccessTTL))
	http.SetCookie(rw, w.cookie(w.cfg.RefreshName, pair.RefreshToken, true, pair.RefreshTTL))
	if pair.CSRFToken != "" {
		http.SetCookie(rw, w.cookie(w.csrf.CookieName, pair.CSRFToken, false, pair.RefreshTTL))
	}
	if pair.RefreshCSRFToken != "" {
		http.SetCookie(rw, w.cookie(w.csrf.RefreshCookieName, pair.RefreshCSRFToken, false, pair.RefreshTTL))
	}
}

// SetAccessCookie replaces only the access credential cookie. Used after
// an impersonation swap.
func (w *CookieWriter) SetAccessCookie(rw http.ResponseWriter, accessToken string, ttl time.Duration) {
	http.SetCookie(rw, w.cookie(w.cfg.AccessName, accessToken, true, ttl))
}

// ClearSessionCookies expires every cookie this package writes.
func (w *CookieWriter) ClearSessionCookies(rw http.ResponseWriter) {
	for _, name := range []string{w.cfg.AccessName, w.cfg.RefreshName, w.csrf.CookieName, w.csrf.RefreshCookieName} {
		if name == "" {
			continue
		}
		http.SetCookie(rw, w.cookie(name, "", true, 0))
	}
}

// AccessFromCookie extracts the access credential from a request's
// cookies, if present.
func (w *CookieWriter) AccessFromCookie(r *http.Request) string {
	if c, err := r.Cookie(w.cfg.AccessName); err == nil {
		return c.Value
	}
	return ""
}

// RefreshFromCookie extracts the refresh credential from a request's
// cookies, if present.
func (w *CookieWriter) RefreshFromCookie(r *http.Request) string {
	if c, err := r.Cookie(w.cfg.RefreshName); err == nil {
		return c.Value
	}
	return ""
}
