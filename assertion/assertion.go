// Package assertion converts an already-verified request identity into a
// short-lived, asymmetrically signed statement that downstream services can
// check against the signer's public key. Receivers never see or re-validate
// the original bearer credential; they trust the gateway's authentication
// decision instead, bounded by the assertion's audience, method, and path.
//
// Ed25519 keeps verification cheap and one-way: any internal service can
// verify, none can forge.
package assertion

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const assertionType = "assertion"

var (
	// ErrAssertionInvalid covers malformed assertions and bad signatures.
	ErrAssertionInvalid = errors.New("assertion invalid")
	// ErrAssertionExpired is returned past the assertion's seconds-scale TTL.
	ErrAssertionExpired = errors.New("assertion expired")
	// ErrBindingMismatch is returned when audience, method, or path do not
	// match the call the assertion was minted for.
	ErrBindingMismatch = errors.New("assertion binding mismatch")
)

// Identity is the verified principal an assertion vouches for.
type Identity struct {
	Subject       string
	TenantID      string
	Roles         []string
	Impersonation bool
	ActorSubject  string
	ActorTenantID string
}

// Claims is the assertion payload. Method and path bind it to the exact
// call it was issued for; the uuid jti makes each assertion single-use by
// construction (a fresh one is minted per request, never persisted).
type Claims struct {
	TenantID      string   `json:"tid"`
	Roles         []string `json:"roles,omitempty"`
	Impersonation bool     `json:"imp,omitempty"`
	ActorSubject  string   `json:"act_uid,omitempty"`
	ActorTenantID string   `json:"act_tid,omitempty"`
	Method        string   `json:"mth"`
	Path          string   `json:"pth"`
	TokenType     string   `json:"typ"`
	jwt.RegisteredClaims
}

// Signer mints assertions with an Ed25519 private key.
type Signer struct {
	key    ed25519.PrivateKey
	issuer string
	ttl    time.Duration
}

// NewSigner parses the private key (raw seed-length bytes or PEM) and
// returns a signer issuing assertions with the given TTL.
func NewSigner(privateKey []byte, issuer string, ttl time.Duration) (*Signer, error) {
	if ttl <= 0 || ttl > time.Minute {
		return nil, errors.New("assertion TTL must be positive and seconds-scale")
	}
	key, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, issuer: issuer, ttl: ttl}, nil
}

// Sign mints one assertion for the identity, bound to audience, method,
// and path.
func (s *Signer) Sign(id Identity, audience, method, path string) (string, error) {
	if audience == "" {
		return "", errors.New("assertion audience is required")
	}
	now := time.Now()
	claims := Claims{
		TenantID:      id.TenantID,
		Roles:         id.Roles,
		Impersonation: id.Impersonation,
		ActorSubject:  id.ActorSubject,
		ActorTenantID: id.ActorTenantID,
		Method:        method,
		Path:          path,
		TokenType:     assertionType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.Subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
}

// Verifier checks assertions against the signer's public key.
type Verifier struct {
	key    ed25519.PublicKey
	issuer string
	leeway time.Duration
}

// NewVerifier parses the public key (raw bytes or PEM). leeway absorbs
// clock skew between signer and receiver; it may be zero.
func NewVerifier(publicKey []byte, issuer string, leeway time.Duration) (*Verifier, error) {
	if leeway < 0 || leeway > 30*time.Second {
		return nil, errors.New("invalid assertion leeway")
	}
	key, err := parsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return &Verifier{key: key, issuer: issuer, leeway: leeway}, nil
}

// Verify checks the signature and expiry, then binds the assertion to the
// receiving call: audience, method, and path must all match. An assertion
// minted for one audience or path fails for any other, even within TTL.
func (v *Verifier) Verify(tokenStr, audience, method, path string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(audience),
	}
	if v.leeway > 0 {
		options = append(options, jwt.WithLeeway(v.leeway))
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrAssertionExpired
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrBindingMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
		}
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrAssertionInvalid
	}
	if claims.TokenType != assertionType {
		return nil, ErrAssertionInvalid
	}
	if claims.Method != method || claims.Path != path {
		return nil, ErrBindingMismatch
	}
	return claims, nil
}

func parsePrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parsePublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
