package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable wraps every Redis transport failure. Callers must
	// treat it as "deny", never as "retry the mutation blindly".
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrSessionInactive is returned when rotation finds the session missing,
	// expired, or revoked. The caller must force full re-authentication.
	ErrSessionInactive = errors.New("session inactive")
	// ErrRefreshReused signals that a superseded refresh token id was
	// presented again. This is a security event: the refresh credential has
	// leaked and the whole session must be revoked, not just the request.
	ErrRefreshReused = errors.New("refresh token reused")
)

const (
	statusActive  = "active"
	statusRevoked = "revoked"

	// Revocation markers outlive the keys they shadow so an expired marker
	// cannot race a liveness check back to "active".
	defaultRevokedMarkTTL = 7 * 24 * time.Hour
)

const (
	rotateStatusInactive int64 = 0
	rotateStatusReused   int64 = 1
	rotateStatusRotated  int64 = 2
)

// rotateScript is the one multi-key atomic transaction in the subsystem:
// compare session status, compare the current refresh id against the
// presented one, then swap both current token ids and extend every session
// key's TTL. Split across round-trips, two concurrent refreshes of the same
// stale token could both appear to succeed, defeating reuse detection.
//
// KEYS: status, refresh jti, access jti, tenant, user
// ARGV: active status, presented refresh jti, new refresh jti, new access jti, session TTL seconds
const rotateScript = `
local status = redis.call("GET", KEYS[1])
if status ~= ARGV[1] then
  return {0}
end
local refresh = redis.call("GET", KEYS[2])
if (not refresh) or refresh ~= ARGV[2] then
  return {1}
end
local old = redis.call("GET", KEYS[3])
redis.call("SET", KEYS[2], ARGV[3], "EX", ARGV[5])
redis.call("SET", KEYS[3], ARGV[4], "EX", ARGV[5])
redis.call("EXPIRE", KEYS[1], ARGV[5])
redis.call("EXPIRE", KEYS[4], ARGV[5])
redis.call("EXPIRE", KEYS[5], ARGV[5])
if old then
  return {2, old}
end
return {2, ""}
`

var rotateLua = redis.NewScript(rotateScript)

// Store holds session and token liveness state in Redis: one small string
// key per attribute, every key TTL-bound. It is the only writer of this
// state; other components observe it through the read methods.
type Store struct {
	rdb            redis.UniversalClient
	prefix         string
	revokedMarkTTL time.Duration
}

// NewStore creates a [Store] on the given Redis client. prefix namespaces
// every key.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "auth"
	}
	return &Store{
		rdb:            rdb,
		prefix:         prefix,
		revokedMarkTTL: defaultRevokedMarkTTL,
	}
}

// SetRevokedMarkTTL overrides the minimum lifetime of revoked marks.
// Values <= 0 keep the default.
func (s *Store) SetRevokedMarkTTL(d time.Duration) {
	if d > 0 {
		s.revokedMarkTTL = d
	}
}

func (s *Store) sessionStatusKey(sid string) string  { return s.prefix + ":sess:" + sid + ":status" }
func (s *Store) sessionTenantKey(sid string) string  { return s.prefix + ":sess:" + sid + ":tenant" }
func (s *Store) sessionUserKey(sid string) string    { return s.prefix + ":sess:" + sid + ":user" }
func (s *Store) sessionAccessKey(sid string) string  { return s.prefix + ":sess:" + sid + ":access" }
func (s *Store) sessionRefreshKey(sid string) string { return s.prefix + ":sess:" + sid + ":refresh" }
func (s *Store) tokenStatusKey(jti string) string    { return s.prefix + ":tok:" + jti + ":status" }
func (s *Store) tokenSessionKey(jti string) string   { return s.prefix + ":tok:" + jti + ":sid" }

// OpenParams describes a freshly authenticated session.
type OpenParams struct {
	SessionID  string
	TenantID   string
	UserID     string
	AccessJTI  string
	RefreshJTI string
	SessionTTL time.Duration
	AccessTTL  time.Duration
}

// Open creates the session record and both liveness records. Called once,
// at login.
func (s *Store) Open(ctx context.Context, p OpenParams) error {
	sessionTTL := clampTTL(p.SessionTTL)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionStatusKey(p.SessionID), statusActive, sessionTTL)
		pipe.Set(ctx, s.sessionTenantKey(p.SessionID), p.TenantID, sessionTTL)
		pipe.Set(ctx, s.sessionUserKey(p.SessionID), p.UserID, sessionTTL)
		pipe.Set(ctx, s.sessionAccessKey(p.SessionID), p.AccessJTI, sessionTTL)
		pipe.Set(ctx, s.sessionRefreshKey(p.SessionID), p.RefreshJTI, sessionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.ActivateAccessToken(ctx, p.SessionID, p.AccessJTI, p.AccessTTL)
}

// IsSessionActive reports whether the session exists and has not been
// revoked. A missing key reads as inactive, never as unknown.
func (s *Store) IsSessionActive(ctx context.Context, sid string) (bool, error) {
	status, err := s.rdb.Get(ctx, s.sessionStatusKey(sid)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return status == statusActive, nil
}

// IsAccessTokenActive is the per-request liveness check: the session must be
// active, the token record must be active, and the token's back-reference
// must still point at this session. Three GETs, no scans.
func (s *Store) IsAccessTokenActive(ctx context.Context, sid, jti string) (bool, error) {
	active, err := s.IsSessionActive(ctx, sid)
	if err != nil || !active {
		return false, err
	}

	status, err := s.rdb.Get(ctx, s.tokenStatusKey(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if status != statusActive {
		return false, nil
	}

	tokenSID, err := s.rdb.Get(ctx, s.tokenSessionKey(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return tokenSID == sid, nil
}

// RevokeSession marks the session revoked and kills its current access
// token. Idempotent: revoking an already-revoked session is a no-op.
func (s *Store) RevokeSession(ctx context.Context, sid string) error {
	statusKey := s.sessionStatusKey(sid)

	currentAccess, err := s.rdb.Get(ctx, s.sessionAccessKey(sid)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ttl, err := s.markTTL(ctx, statusKey)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, statusKey, statusRevoked, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if currentAccess != "" {
		return s.RevokeAccessToken(ctx, currentAccess)
	}
	return nil
}

// RevokeAccessToken kills a single token liveness record, independent of
// session state. Used after rotation to retire the superseded access token
// while the session stays active.
func (s *Store) RevokeAccessToken(ctx context.Context, jti string) error {
	key := s.tokenStatusKey(jti)
	ttl, err := s.markTTL(ctx, key)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, statusRevoked, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ActivateAccessToken creates the liveness record for a newly issued access
// token, back-referencing its session.
func (s *Store) ActivateAccessToken(ctx context.Context, sid, jti string, accessTTL time.Duration) error {
	ttl := clampTTL(accessTTL)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenStatusKey(jti), statusActive, ttl)
		pipe.Set(ctx, s.tokenSessionKey(jti), sid, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RotateParams describes one refresh rotation attempt.
type RotateParams struct {
	SessionID           string
	PresentedRefreshJTI string
	NewRefreshJTI       string
	NewAccessJTI        string
	SessionTTL          time.Duration
	AccessTTL           time.Duration
}

// RotateForRefresh atomically swaps the session's current token ids,
// activates the new access token, and revokes the superseded one. It
// returns the previous access jti. Of two concurrent calls presenting the
// same refresh id, exactly one succeeds; the loser observes
// [ErrSessionInactive] or [ErrRefreshReused], never a silent double-success.
func (s *Store) RotateForRefresh(ctx context.Context, p RotateParams) (string, error) {
	result, err := rotateLua.Run(
		ctx,
		s.rdb,
		[]string{
			s.sessionStatusKey(p.SessionID),
			s.sessionRefreshKey(p.SessionID),
			s.sessionAccessKey(p.SessionID),
			s.sessionTenantKey(p.SessionID),
			s.sessionUserKey(p.SessionID),
		},
		statusActive,
		p.PresentedRefreshJTI,
		p.NewRefreshJTI,
		p.NewAccessJTI,
		ttlSeconds(p.SessionTTL),
	).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return "", fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return "", fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch code {
	case rotateStatusInactive:
		return "", ErrSessionInactive
	case rotateStatusReused:
		return "", ErrRefreshReused
	case rotateStatusRotated:
	default:
		return "", fmt.Errorf("%w: unknown rotate script status %d", ErrStoreUnavailable, code)
	}

	var previousAccess string
	if len(parts) > 1 {
		switch v := parts[1].(type) {
		case string:
			previousAccess = v
		case []byte:
			previousAccess = string(v)
		}
	}

	if err := s.ActivateAccessToken(ctx, p.SessionID, p.NewAccessJTI, p.AccessTTL); err != nil {
		return "", err
	}
	if previousAccess != "" && previousAccess != p.NewAccessJTI {
		if err := s.RevokeAccessToken(ctx, previousAccess); err != nil {
			return "", err
		}
	}
	return previousAccess, nil
}

// ReplaceAccessToken swaps only the access token for a session, leaving the
// refresh token untouched. Returns false when the expected id no longer
// matches, signaling that a concurrent rotation already happened.
func (s *Store) ReplaceAccessToken(ctx context.Context, sid, expectedJTI, newJTI string, accessTTL time.Duration) (bool, error) {
	active, err := s.IsSessionActive(ctx, sid)
	if err != nil || !active {
		return false, err
	}

	current, err := s.rdb.Get(ctx, s.sessionAccessKey(sid)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if expectedJTI != "" && expectedJTI != current {
		return false, nil
	}

	sessionTTL, err := s.remainingTTL(ctx, s.sessionStatusKey(sid))
	if err != nil {
		return false, err
	}
	if err := s.rdb.Set(ctx, s.sessionAccessKey(sid), newJTI, sessionTTL).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.ActivateAccessToken(ctx, sid, newJTI, accessTTL); err != nil {
		return false, err
	}
	if current != "" && current != newJTI {
		if err := s.RevokeAccessToken(ctx, current); err != nil {
			return false, err
		}
	}
	return true, nil
}

// remainingTTL reports the key's remaining lifetime, falling back to the
// revoked-mark window when the key has no expiry left.
func (s *Store) remainingTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl <= 0 {
		return s.revokedMarkTTL, nil
	}
	return ttl, nil
}

// markTTL is remainingTTL with the revoked-mark window as a minimum, so a
// revocation marker outlives the key it shadows.
func (s *Store) markTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.remainingTTL(ctx, key)
	if err != nil {
		return 0, err
	}
	if ttl < s.revokedMarkTTL {
		return s.revokedMarkTTL, nil
	}
	return ttl, nil
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
