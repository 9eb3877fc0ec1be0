// Package session is the authoritative liveness store for sessions and the
// credentials they issue. All mutable state lives here, in Redis, so the
// services sharing it scale out without any coordination beyond the store.
//
// Layout: one TTL-bound string key per attribute. A session owns its status,
// tenant, user, and the ids of its current access and refresh tokens. Each
// activated token gets a status key and a weak back-reference to its session;
// a dangling token record whose session is gone simply resolves to inactive.
//
// Failure semantics are fail-closed throughout: a missing key is "not
// active", a store outage is a deny, and writes to already-revoked records
// are no-ops rather than errors.
package session
