package gatewarden

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gatewarden/gatewarden/internal"
	"github.com/gatewarden/gatewarden/session"
	"github.com/gatewarden/gatewarden/token"
)

// Authenticate runs the ordered gate pipeline over a presented bearer
// token. Each step fails with its own sentinel so callers can branch on
// Code(err) without string matching. Backend failures on any
// authentication-relevant read reject the request.
func (e *Engine) Authenticate(ctx context.Context, tokenStr string) (*AuthResult, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricAuthLatency, time.Since(start))
	}()

	result, err := e.authenticate(ctx, tokenStr)
	if err != nil {
		e.metricInc(MetricAuthFailure)
		return nil, err
	}
	e.metricInc(MetricAuthSuccess)
	return result, nil
}

// AuthenticateOptional runs the same pipeline but swallows every
// failure, returning an anonymous result instead. Backend errors are
// treated the same as rejections: the request proceeds unauthenticated.
func (e *Engine) AuthenticateOptional(ctx context.Context, tokenStr string) *AuthResult {
	if e == nil || e.codec == nil {
		return &AuthResult{Anonymous: true}
	}
	result, err := e.authenticate(ctx, tokenStr)
	if err != nil {
		return &AuthResult{Anonymous: true}
	}
	return result
}

func (e *Engine) authenticate(ctx context.Context, tokenStr string) (*AuthResult, error) {
	if tokenStr == "" {
		return nil, ErrTokenMissing
	}

	tokenHash := internal.HashSecret(tokenStr)

	revoked, err := e.revocations.IsRevoked(ctx, tokenHash)
	if err != nil {
		return nil, e.failClosed()
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	claims, err := e.codec.Verify(tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	identity, err := e.findAccountByID(ctx, claims.IdentityID)
	if err != nil {
		return nil, err
	}
	if !identity.Active {
		return nil, ErrAccountInactive
	}

	result := &AuthResult{
		Identity:    identity,
		SessionID:   claims.SessionID,
		Permissions: identity.Permissions,
	}

	var record *session.Record
	if e.config.Session.Enforce {
		record, err = e.checkSession(ctx, tokenHash, claims.SessionID)
		if err != nil {
			return nil, err
		}
		result.TwoFactorDone = record.TwoFactorDone
	}

	if e.config.TwoFactor.Enabled && record != nil && !record.TwoFactorDone {
		enabled, err := e.twofactor.Enabled(ctx, identity.ID)
		if err != nil {
			return nil, e.failClosed()
		}
		if enabled {
			return nil, ErrTwoFactorRequired
		}
	}

	if err := e.checkPasswordAge(identity, result); err != nil {
		return nil, err
	}

	return result, nil
}

// checkSession requires a live record whose stored hash produced the
// lookup and whose session id matches the token's claim. The
// last-activity refresh is best-effort.
func (e *Engine) checkSession(ctx context.Context, tokenHash [32]byte, sessionID string) (*session.Record, error) {
	record, err := e.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, e.failClosed()
	}

	now := time.Now()
	if !record.Live(now) || record.SessionID != sessionID {
		return nil, ErrSessionInvalid
	}

	if err := e.sessions.Touch(ctx, tokenHash, now); err != nil {
		log.Print("gatewarden: session activity refresh failed")
	}

	return record, nil
}

// checkPasswordAge rejects identities whose password is past the
// configured expiry and annotates the result inside the warning window.
func (e *Engine) checkPasswordAge(identity *Identity, result *AuthResult) error {
	days := e.config.Password.ExpiryDays
	if days <= 0 || identity.PasswordChangedAt.IsZero() {
		return nil
	}

	expiresAt := identity.PasswordChangedAt.Add(time.Duration(days) * 24 * time.Hour)
	now := time.Now()

	if !now.Before(expiresAt) {
		e.metricInc(MetricPasswordExpired)
		return ErrPasswordExpired
	}

	if warn := e.config.Password.WarningDays; warn > 0 {
		warnFrom := expiresAt.Add(-time.Duration(warn) * 24 * time.Hour)
		if !now.Before(warnFrom) {
			result.PasswordExpiresAt = expiresAt
		}
	}

	return nil
}
