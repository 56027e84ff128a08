package gatewarden

import (
	"context"
	"errors"
	"time"

	"github.com/gatewarden/gatewarden/internal"
	"github.com/gatewarden/gatewarden/session"
	"github.com/gatewarden/gatewarden/token"
)

// Logout revokes the presented token ahead of its natural expiry and
// deactivates its session record. Already-invalidated sessions are fine;
// revoking twice is idempotent.
func (e *Engine) Logout(ctx context.Context, tokenStr string) error {
	if tokenStr == "" {
		return ErrTokenMissing
	}

	claims, err := e.codec.Verify(tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}

	tokenHash := internal.HashSecret(tokenStr)

	var remaining time.Duration
	if claims.ExpiresAt != nil {
		remaining = time.Until(claims.ExpiresAt.Time)
	}
	if remaining > 0 {
		if err := e.revocations.Revoke(ctx, tokenHash, remaining); err != nil {
			return e.failClosed()
		}
		e.metricInc(MetricTokenRevoked)
		e.emitAudit(ctx, EventTokenRevoked, true, claims.IdentityID, claims.SessionID, nil, nil)
	}

	if err := e.sessions.Invalidate(ctx, tokenHash); err != nil {
		return e.failClosed()
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, EventLogout, true, claims.IdentityID, claims.SessionID, nil, nil)

	return nil
}

// LogoutAll deactivates every session of the presented token's identity
// except the current one.
func (e *Engine) LogoutAll(ctx context.Context, tokenStr string) (int, error) {
	if tokenStr == "" {
		return 0, ErrTokenMissing
	}

	claims, err := e.codec.Verify(tokenStr)
	if err != nil {
		return 0, ErrTokenInvalid
	}

	tokenHash := internal.HashSecret(tokenStr)

	count, err := e.sessions.InvalidateAllForIdentity(ctx, claims.IdentityID, &tokenHash)
	if err != nil {
		return 0, e.failClosed()
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, EventLogoutAll, true, claims.IdentityID, claims.SessionID, nil, nil)

	return count, nil
}

// LogoutAllForIdentity deactivates every session of an identity,
// including the current one. Administrative forced revocation.
func (e *Engine) LogoutAllForIdentity(ctx context.Context, identityID string) (int, error) {
	count, err := e.sessions.InvalidateAllForIdentity(ctx, identityID, nil)
	if err != nil {
		return 0, e.failClosed()
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, EventLogoutAll, true, identityID, "", nil, nil)

	return count, nil
}

// Sessions lists an identity's active sessions, oldest first.
func (e *Engine) Sessions(ctx context.Context, identityID string) ([]SessionInfo, error) {
	entries, err := e.sessions.ActiveByIdentity(ctx, identityID, time.Now())
	if err != nil {
		return nil, e.failClosed()
	}

	infos := make([]SessionInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, sessionInfo(entry.Record))
	}
	return infos, nil
}

func sessionInfo(r *session.Record) SessionInfo {
	return SessionInfo{
		SessionID:     r.SessionID,
		IP:            r.IP,
		Device:        r.Device,
		Active:        r.Active,
		TwoFactorDone: r.TwoFactorDone,
		CreatedAt:     time.Unix(r.CreatedAt, 0),
		ExpiresAt:     time.Unix(r.ExpiresAt, 0),
		LastSeenAt:    time.Unix(r.LastSeenAt, 0),
	}
}
