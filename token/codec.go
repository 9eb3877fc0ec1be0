package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Type classifies a credential. A token is only honored when its embedded
// type matches the class the caller expects.
type Type string

const (
	// TypeAccess marks a short-lived bearer credential for protected requests.
	TypeAccess Type = "access"
	// TypeRefresh marks the credential presented to the rotation endpoint.
	TypeRefresh Type = "refresh"
)

// SigningMethod selects the signature algorithm for issued credentials.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrTokenInvalid is returned for malformed tokens, bad signatures, and
	// tokens missing the session or token identifier claims.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned when the token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenWrongType is returned when a token of the wrong class is
	// presented, e.g. a refresh token on the access path.
	ErrTokenWrongType = errors.New("token type mismatch")
)

// Claims is the self-contained payload of an issued credential. The session
// id and token id tie the otherwise stateless token to the session store.
type Claims struct {
	TenantID      string   `json:"tid"`
	Roles         []string `json:"roles,omitempty"`
	SessionID     string   `json:"sid"`
	TokenType     string   `json:"typ"`
	RememberMe    bool     `json:"rem,omitempty"`
	Impersonation bool     `json:"imp,omitempty"`
	ActorSubject  string   `json:"act_uid,omitempty"`
	ActorTenantID string   `json:"act_tid,omitempty"`
	jwt.RegisteredClaims
}

// Config holds the signing material for a codec. Instances are configured
// once and treated as immutable afterwards.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Codec issues and verifies signed session credentials. A cryptographically
// valid token is not necessarily live; liveness is the session store's call.
type Codec struct {
	config Config
}

// IssueParams describes one credential to mint. TTL is mandatory; the rest
// mirrors the identity the credential vouches for.
type IssueParams struct {
	Subject       string
	TenantID      string
	Roles         []string
	SessionID     string
	TokenID       string
	Type          Type
	TTL           time.Duration
	RememberMe    bool
	Impersonation bool
	ActorSubject  string
	ActorTenantID string
}

// NewCodec validates the signing configuration and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PrivateKey) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires a private or public key")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Codec{config: cfg}, nil
}

// Issue mints a signed credential. Pure function of its inputs and the
// signing key; it performs no I/O.
func (c *Codec) Issue(p IssueParams) (string, error) {
	if p.TTL <= 0 {
		return "", errors.New("invalid token TTL")
	}
	if p.SessionID == "" || p.TokenID == "" {
		return "", fmt.Errorf("%w: session id and token id are required", ErrTokenInvalid)
	}
	if p.Type != TypeAccess && p.Type != TypeRefresh {
		return "", fmt.Errorf("%w: unknown token type %q", ErrTokenInvalid, p.Type)
	}

	now := time.Now()
	claims := Claims{
		TenantID:      p.TenantID,
		Roles:         p.Roles,
		SessionID:     p.SessionID,
		TokenType:     string(p.Type),
		RememberMe:    p.RememberMe,
		Impersonation: p.Impersonation,
		ActorSubject:  p.ActorSubject,
		ActorTenantID: p.ActorTenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.TokenID,
			Subject:   p.Subject,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
		},
	}

	tok := jwt.NewWithClaims(c.method(), claims)
	key, err := c.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(key)
}

// Verify checks signature, expiry, and token class, and requires the
// session and token identifier claims the store tracks liveness by.
func (c *Codec) Verify(tokenStr string, want Type) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != string(want) {
		return nil, ErrTokenWrongType
	}
	if strings.TrimSpace(claims.SessionID) == "" || strings.TrimSpace(claims.ID) == "" {
		return nil, fmt.Errorf("%w: missing session or token id", ErrTokenInvalid)
	}
	return claims, nil
}

// VerifyAllowExpired behaves like Verify but tolerates tokens past their
// expiry. The signature, token class, and identifier claims are still
// enforced. Used where an expired credential still names state to act on,
// such as logout.
func (c *Codec) VerifyAllowExpired(tokenStr string, want Type) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.verifyKey()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != string(want) {
		return nil, ErrTokenWrongType
	}
	if strings.TrimSpace(claims.SessionID) == "" || strings.TrimSpace(claims.ID) == "" {
		return nil, fmt.Errorf("%w: missing session or token id", ErrTokenInvalid)
	}
	return claims, nil
}

func (c *Codec) method() jwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (c *Codec) signKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(c.config.PrivateKey)
	}
}

func (c *Codec) verifyKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		if len(c.config.PublicKey) > 0 {
			return parseEdPublicKey(c.config.PublicKey)
		}
		priv, err := parseEdPrivateKey(c.config.PrivateKey)
		if err != nil {
			return nil, err
		}
		return priv.Public(), nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
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

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
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
