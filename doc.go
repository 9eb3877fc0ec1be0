// Package sessioncore is the session security core for a multi-tenant
// platform: credential minting and verification, Redis-backed session
// liveness, atomic refresh rotation with reuse detection, CSRF
// double-submit protection, signed cross-service assertions, and
// trusted-proxy client address resolution.
//
// The package splits credential validity into two layers. The codec in
// package token answers "was this signed by us and is it unexpired".
// The store in package session answers "is this credential still the
// current one for a live session". Both must pass before a request is
// trusted; revocation and rotation act on the second layer only, so a
// cryptographically valid token dies the moment its session state says
// so.
//
// Engine ties the layers together for an auth service (OpenSession,
// Refresh, Logout, Impersonate) and for an edge gateway (Authenticate,
// CheckCSRF), with the middleware package providing ready-made HTTP
// stages on top.
package sessioncore
