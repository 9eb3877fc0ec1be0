package sessioncore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/SunnyX6/Datapillar-sub011/session"
	"github.com/SunnyX6/Datapillar-sub011/token"
)

// Refresh rotates a session's credential pair. The presented refresh
// token must be cryptographically valid AND the session's current one;
// rotation swaps both jtis atomically so concurrent presentations of the
// same token produce exactly one winner.
//
// A presented token that is valid but already superseded is treated as
// stolen: the whole session is revoked, a security event is logged, and
// session.ErrRefreshReused is returned. That state is terminal for the
// session.
//
// Store outages fail closed without retrying the mutation, so an
// ambiguous write never turns into a double rotation.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := e.codec.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, mapTokenError(err)
	}

	id := *identityFromClaims(claims)
	refreshTTL := e.refreshTTL(id.RememberMe)
	newAccessJTI := uuid.NewString()
	newRefreshJTI := uuid.NewString()

	_, err = e.store.RotateForRefresh(ctx, session.RotateParams{
		SessionID:           id.SessionID,
		PresentedRefreshJTI: claims.ID,
		NewRefreshJTI:       newRefreshJTI,
		NewAccessJTI:        newAccessJTI,
		SessionTTL:          refreshTTL,
		AccessTTL:           e.cfg.JWT.AccessTTL,
	})
	switch {
	case errors.Is(err, session.ErrRefreshReused):
		e.handleRefreshReuse(ctx, id, claims.ID)
		return nil, err
	case errors.Is(err, session.ErrSessionInactive):
		return nil, ErrCredentialInvalid
	case err != nil:
		return nil, err
	}

	pair, err := e.mintPair(id, newAccessJTI, newRefreshJTI, refreshTTL)
	if err != nil {
		return nil, err
	}

	if err := e.issueCSRF(ctx, id, refreshTTL, pair); err != nil {
		return nil, err
	}

	e.log.Debug().
		Str("event", "refresh_rotated").
		Str("sid", id.SessionID).
		Str("tenant_id", id.TenantID).
		Str("user_id", id.Subject).
		Msg("credential pair rotated")
	return pair, nil
}

// handleRefreshReuse tears the session down after a superseded refresh
// token was presented. Revocation failures are logged but do not mask the
// reuse signal; the keys expire on their own either way.
func (e *Engine) handleRefreshReuse(ctx context.Context, id Identity, presentedJTI string) {
	event := e.log.Warn().
		Str("event", "refresh_token_reused").
		Str("security_event", "refresh_token_reused").
		Str("sid", id.SessionID).
		Str("tenant_id", id.TenantID).
		Str("user_id", id.Subject).
		Str("jti", presentedJTI)

	if err := e.store.RevokeSession(ctx, id.SessionID); err != nil {
		event.AnErr("revoke_error", err).Msg("refresh token reuse detected; session revocation failed")
		return
	}
	if err := e.csrf.Clear(ctx, id.TenantID, id.Subject); err != nil {
		e.log.Warn().Err(err).Str("sid", id.SessionID).Msg("csrf clear failed after reuse revocation")
	}
	event.Msg("refresh token reuse detected; session revoked")
}
