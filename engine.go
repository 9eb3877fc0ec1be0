package sessioncore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/SunnyX6/Datapillar-sub011/assertion"
	"github.com/SunnyX6/Datapillar-sub011/clientip"
	"github.com/SunnyX6/Datapillar-sub011/csrf"
	"github.com/SunnyX6/Datapillar-sub011/session"
	"github.com/SunnyX6/Datapillar-sub011/token"
)

// Identity is a verified principal: who is acting, in which tenant, under
// which session. When Impersonation is set, Subject and TenantID describe
// the assumed identity and the Actor fields the real one.
type Identity struct {
	Subject       string
	TenantID      string
	Roles         []string
	SessionID     string
	RememberMe    bool
	Impersonation bool
	ActorSubject  string
	ActorTenantID string
}

// TokenPair is the result of opening or refreshing a session: both
// credentials, their lifetimes, and the CSRF tokens covering them.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	CSRFToken        string
	RefreshCSRFToken string
}

// Engine wires the credential codec, the liveness store, the CSRF store,
// the assertion signer, and the client address resolver behind one API.
// An auth service uses OpenSession, Refresh, Logout, and Impersonate; an
// edge gateway uses Authenticate and CheckCSRF, usually through the
// middleware package.
type Engine struct {
	cfg      Config
	codec    *token.Codec
	store    *session.Store
	csrf     *csrf.Store
	signer   *assertion.Signer
	resolver *clientip.Resolver
	cookies  *CookieWriter
	log      zerolog.Logger
}

// NewEngine validates cfg and builds an Engine on the given Redis client.
func NewEngine(cfg Config, rdb redis.UniversalClient, logger zerolog.Logger) (*Engine, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	method := token.MethodEd25519
	if cfg.JWT.SigningMethod == "hs256" {
		method = token.MethodHS256
	}
	codec, err := token.NewCodec(token.Config{
		SigningMethod: method,
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("build token codec: %w", err)
	}

	store := session.NewStore(rdb, cfg.Session.RedisPrefix)
	store.SetRevokedMarkTTL(cfg.Session.RevokedMarkTTL)

	var signer *assertion.Signer
	if cfg.Assertion.Enabled {
		signer, err = assertion.NewSigner(cfg.Assertion.PrivateKey, cfg.JWT.Issuer, cfg.Assertion.TTL)
		if err != nil {
			return nil, fmt.Errorf("build assertion signer: %w", err)
		}
	}

	resolver, err := clientip.NewResolver(cfg.Gateway.TrustedProxies)
	if err != nil {
		return nil, err
	}

	cookies, err := NewCookieWriter(cfg)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		codec:    codec,
		store:    store,
		csrf:     csrf.NewStore(rdb, cfg.Session.RedisPrefix),
		signer:   signer,
		resolver: resolver,
		cookies:  cookies,
		log:      logger,
	}, nil
}

// Config returns the validated configuration the Engine runs with.
func (e *Engine) Config() Config { return e.cfg }

// Cookies returns the cookie writer matching the Engine's configuration.
func (e *Engine) Cookies() *CookieWriter { return e.cookies }

// Resolver returns the client address resolver.
func (e *Engine) Resolver() *clientip.Resolver { return e.resolver }

func (e *Engine) refreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return e.cfg.JWT.RememberMeTTL
	}
	return e.cfg.JWT.RefreshTTL
}

// OpenSession finalizes a login: it mints a fresh session with one
// current access and one current refresh credential, records them in the
// store, and issues both CSRF secrets. The caller has already
// authenticated the user by whatever means apply.
func (e *Engine) OpenSession(ctx context.Context, id Identity, rememberMe bool) (*TokenPair, error) {
	id.SessionID = uuid.NewString()
	id.RememberMe = rememberMe
	refreshTTL := e.refreshTTL(rememberMe)

	accessJTI := uuid.NewString()
	refreshJTI := uuid.NewString()

	pair, err := e.mintPair(id, accessJTI, refreshJTI, refreshTTL)
	if err != nil {
		return nil, err
	}

	err = e.store.Open(ctx, session.OpenParams{
		SessionID:  id.SessionID,
		TenantID:   id.TenantID,
		UserID:     id.Subject,
		AccessJTI:  accessJTI,
		RefreshJTI: refreshJTI,
		SessionTTL: refreshTTL,
		AccessTTL:  e.cfg.JWT.AccessTTL,
	})
	if err != nil {
		return nil, err
	}

	if err := e.issueCSRF(ctx, id, refreshTTL, pair); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("event", "session_opened").
		Str("sid", id.SessionID).
		Str("tenant_id", id.TenantID).
		Str("user_id", id.Subject).
		Bool("remember_me", rememberMe).
		Msg("session opened")
	return pair, nil
}

// Validate verifies an access token cryptographically and then against
// the liveness store. Both layers must pass.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := e.codec.Verify(accessToken, token.TypeAccess)
	if err != nil {
		return nil, mapTokenError(err)
	}
	active, err := e.store.IsAccessTokenActive(ctx, claims.SessionID, claims.ID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrCredentialInvalid
	}
	return identityFromClaims(claims), nil
}

// Logout revokes the whole session behind an access token. The token only
// needs to be well-formed and signed; an expired or already-revoked
// credential still names the session to tear down, and revocation is
// idempotent.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	claims, err := e.codec.VerifyAllowExpired(accessToken, token.TypeAccess)
	if err != nil {
		return mapTokenError(err)
	}
	if err := e.RevokeSession(ctx, claims.SessionID); err != nil {
		return err
	}
	if cerr := e.csrf.Clear(ctx, claims.TenantID, claims.Subject); cerr != nil {
		e.log.Warn().Err(cerr).Str("sid", claims.SessionID).Msg("csrf clear failed during logout")
	}
	return nil
}

// RevokeSession marks a session and its current access credential revoked.
// Safe to call repeatedly and on unknown sessions.
func (e *Engine) RevokeSession(ctx context.Context, sid string) error {
	if err := e.store.RevokeSession(ctx, sid); err != nil {
		return err
	}
	e.log.Info().Str("event", "session_revoked").Str("sid", sid).Msg("session revoked")
	return nil
}

// Impersonate swaps only the access credential of a live session for one
// carrying the target identity, with the caller recorded as actor. The
// refresh credential is untouched, so the next rotation restores the
// caller's own identity. The swap is a compare-and-set against the
// session's current access jti; losing that race to a concurrent
// rotation returns ErrImpersonationConflict.
func (e *Engine) Impersonate(ctx context.Context, accessToken string, target Identity) (string, error) {
	claims, err := e.codec.Verify(accessToken, token.TypeAccess)
	if err != nil {
		return "", mapTokenError(err)
	}
	active, err := e.store.IsAccessTokenActive(ctx, claims.SessionID, claims.ID)
	if err != nil {
		return "", err
	}
	if !active {
		return "", ErrCredentialInvalid
	}

	newJTI := uuid.NewString()
	impersonated, err := e.codec.Issue(token.IssueParams{
		Subject:       target.Subject,
		TenantID:      target.TenantID,
		Roles:         target.Roles,
		SessionID:     claims.SessionID,
		TokenID:       newJTI,
		Type:          token.TypeAccess,
		TTL:           e.cfg.JWT.AccessTTL,
		RememberMe:    claims.RememberMe,
		Impersonation: true,
		ActorSubject:  claims.Subject,
		ActorTenantID: claims.TenantID,
	})
	if err != nil {
		return "", err
	}

	swapped, err := e.store.ReplaceAccessToken(ctx, claims.SessionID, claims.ID, newJTI, e.cfg.JWT.AccessTTL)
	if err != nil {
		return "", err
	}
	if !swapped {
		return "", ErrImpersonationConflict
	}

	e.log.Info().
		Str("event", "impersonation_started").
		Str("sid", claims.SessionID).
		Str("actor_user_id", claims.Subject).
		Str("actor_tenant_id", claims.TenantID).
		Str("target_user_id", target.Subject).
		Str("target_tenant_id", target.TenantID).
		Msg("access credential swapped for impersonation")
	return impersonated, nil
}

func (e *Engine) mintPair(id Identity, accessJTI, refreshJTI string, refreshTTL time.Duration) (*TokenPair, error) {
	access, err := e.codec.Issue(token.IssueParams{
		Subject:       id.Subject,
		TenantID:      id.TenantID,
		Roles:         id.Roles,
		SessionID:     id.SessionID,
		TokenID:       accessJTI,
		Type:          token.TypeAccess,
		TTL:           e.cfg.JWT.AccessTTL,
		RememberMe:    id.RememberMe,
		Impersonation: id.Impersonation,
		ActorSubject:  id.ActorSubject,
		ActorTenantID: id.ActorTenantID,
	})
	if err != nil {
		return nil, err
	}
	refresh, err := e.codec.Issue(token.IssueParams{
		Subject:    id.Subject,
		TenantID:   id.TenantID,
		Roles:      id.Roles,
		SessionID:  id.SessionID,
		TokenID:    refreshJTI,
		Type:       token.TypeRefresh,
		TTL:        refreshTTL,
		RememberMe: id.RememberMe,
	})
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessTTL:    e.cfg.JWT.AccessTTL,
		RefreshTTL:   refreshTTL,
	}, nil
}

func (e *Engine) issueCSRF(ctx context.Context, id Identity, refreshTTL time.Duration, pair *TokenPair) error {
	if !e.cfg.CSRF.Enabled {
		return nil
	}
	business, err := e.csrf.Issue(ctx, csrf.PurposeBusiness, id.TenantID, id.Subject, refreshTTL)
	if err != nil {
		return err
	}
	refresh, err := e.csrf.Issue(ctx, csrf.PurposeRefresh, id.TenantID, id.Subject, refreshTTL)
	if err != nil {
		return err
	}
	pair.CSRFToken = business
	pair.RefreshCSRFToken = refresh
	return nil
}

func identityFromClaims(claims *token.Claims) *Identity {
	return &Identity{
		Subject:       claims.Subject,
		TenantID:      claims.TenantID,
		Roles:         claims.Roles,
		SessionID:     claims.SessionID,
		RememberMe:    claims.RememberMe,
		Impersonation: claims.Impersonation,
		ActorSubject:  claims.ActorSubject,
		ActorTenantID: claims.ActorTenantID,
	}
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrCredentialExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
}
