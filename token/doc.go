// Package token implements the signed credential codec: self-contained,
// time-bound access and refresh tokens carrying subject, tenant, roles, a
// session id, and a unique token id.
//
// The codec decides cryptographic validity only. A token that verifies here
// can still be dead: rotation and revocation are tracked by the session
// store against the sid and jti claims, which is why tokens missing either
// claim are rejected outright.
package token
