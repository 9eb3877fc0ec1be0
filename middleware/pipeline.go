package middleware

import "net/http"

// Stage is one link of the gateway pipeline.
type Stage func(http.Handler) http.Handler

// Chain composes stages so that the first argument runs first. The
// composition order is the declaration order, visible at the call site.
func Chain(stages ...Stage) Stage {
	return func(next http.Handler) http.Handler {
		h := next
		for i := len(stages) - 1; i >= 0; i-- {
			h = stages[i](h)
		}
		return h
	}
}
