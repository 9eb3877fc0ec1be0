package middleware

import (
	"net/http"
	"strings"

	sessioncore "github.com/SunnyX6/Datapillar-sub011"
)

// Identity headers the gateway owns. They are stripped from every inbound
// request before the trusted values are set, so a client can never smuggle
// its own.
const (
	HeaderUserID        = "X-User-Id"
	HeaderTenantID      = "X-Tenant-Id"
	HeaderRoles         = "X-User-Roles"
	HeaderImpersonation = "X-Impersonation"
	HeaderActorUserID   = "X-Actor-User-Id"
	HeaderActorTenantID = "X-Actor-Tenant-Id"
)

var identityHeaders = []string{
	HeaderUserID,
	HeaderTenantID,
	HeaderRoles,
	HeaderImpersonation,
	HeaderActorUserID,
	HeaderActorTenantID,
}

// Auth returns the edge authentication stage. It delegates the decision
// to Engine.Authenticate, rejects failures with one generic 401, and on
// success rewrites the request the downstream sees: forwarded address
// headers collapse to the resolved client address, client-supplied
// identity and assertion headers are dropped, and the verified identity
// is set both as headers and in the request context.
func Auth(engine *sessioncore.Engine) Stage {
	assertionHeader := engine.Config().Assertion.HeaderName
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := engine.Authenticate(r)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			for _, h := range identityHeaders {
				r.Header.Del(h)
			}
			if assertionHeader != "" {
				r.Header.Del(assertionHeader)
			}

			ctx := r.Context()
			if decision.ClientAddr.IsValid() {
				r.Header.Set("X-Forwarded-For", decision.ClientAddr.String())
				r.Header.Set("X-Real-Ip", decision.ClientAddr.String())
				ctx = sessioncore.WithClientAddr(ctx, decision.ClientAddr)
			}

			if decision.Bypass {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			id := decision.Identity
			r.Header.Set(HeaderUserID, id.Subject)
			r.Header.Set(HeaderTenantID, id.TenantID)
			if len(id.Roles) > 0 {
				r.Header.Set(HeaderRoles, strings.Join(id.Roles, ","))
			}
			if id.Impersonation {
				r.Header.Set(HeaderImpersonation, "true")
				r.Header.Set(HeaderActorUserID, id.ActorSubject)
				r.Header.Set(HeaderActorTenantID, id.ActorTenantID)
			}
			if decision.Assertion != "" {
				r.Header.Set(assertionHeader, decision.Assertion)
			}

			ctx = sessioncore.WithIdentity(ctx, *id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
