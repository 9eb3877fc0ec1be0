// Package csrf issues and validates the double-submit tokens that protect
// cookie-authenticated state-changing requests. The raw token travels in a
// header and a same-site-readable cookie; only a SHA-256 digest is kept
// server-side, scoped to (tenant, user, purpose) and TTL-bound to the
// credential it shadows.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Purpose separates the two independent token pairs: one for ordinary
// business requests, one for the token-refresh endpoint, which stays
// reachable after the access credential has expired.
type Purpose string

const (
	PurposeBusiness Purpose = "business"
	PurposeRefresh  Purpose = "refresh"
)

// ErrStoreUnavailable wraps Redis transport failures; validation treats it
// as a deny.
var ErrStoreUnavailable = errors.New("csrf store unavailable")

const secretSize = 32

// Store keeps the server-side copies of issued CSRF tokens.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewStore creates a [Store] on the given Redis client.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "auth"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(purpose Purpose, tenantID, userID string) string {
	return s.prefix + ":csrf:" + string(purpose) + ":" + tenantID + ":" + userID
}

// Issue mints a fresh opaque token for the identity, replacing any previous
// one for the same purpose, and returns the raw value for the cookie and
// header. Rotation of the paired credential reissues through this same path.
func (s *Store) Issue(ctx context.Context, purpose Purpose, tenantID, userID string, ttl time.Duration) (string, error) {
	token, err := newSecret()
	if err != nil {
		return "", err
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.rdb.Set(ctx, s.key(purpose, tenantID, userID), digest(token), ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// Validate reports whether the presented token matches the stored digest
// for the identity. A missing key reads as invalid.
func (s *Store) Validate(ctx context.Context, purpose Purpose, tenantID, userID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	stored, err := s.rdb.Get(ctx, s.key(purpose, tenantID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	presented := digest(token)
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1, nil
}

// Clear drops both token digests for the identity. Used on logout.
func (s *Store) Clear(ctx context.Context, tenantID, userID string) error {
	err := s.rdb.Del(ctx,
		s.key(PurposeBusiness, tenantID, userID),
		s.key(PurposeRefresh, tenantID, userID),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func newSecret() (string, error) {
	var raw [secretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
