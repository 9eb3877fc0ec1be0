package middleware

import (
	"net/http"

	sessioncore "github.com/SunnyX6/Datapillar-sub011"
)

// CSRF returns the double-submit enforcement stage. Engine.CheckCSRF
// holds the bypass ladder and the token comparison; every rejection
// becomes the same 403 with the same body.
func CSRF(engine *sessioncore.Engine) Stage {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := engine.CheckCSRF(r); err != nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
