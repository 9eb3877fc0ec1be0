// Package middleware exposes the gateway pipeline as ordinary
// func(http.Handler) http.Handler stages composed with [Chain].
//
// Stage order is fixed at startup by the order arguments are passed to
// Chain; the gateway wires [Auth] before [CSRF] so the CSRF stage runs
// against an already-normalized request.
//
// This package translates HTTP semantics into Engine calls. It does not
// implement authentication or CSRF logic itself; all decisions come from
// Engine.Authenticate and Engine.CheckCSRF.
package middleware
