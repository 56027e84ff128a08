package gatewarden

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal"
	"github.com/gatewarden/gatewarden/internal/stores"
	"github.com/gatewarden/gatewarden/internal/throttle"
	"github.com/gatewarden/gatewarden/session"
)

// Login verifies credentials and issues a session token. When the
// identity has two-factor enabled the result carries a short-lived
// two-factor token instead; redeem it with VerifyTwoFactorLogin or
// VerifyBackupCodeLogin.
//
// The blocklist and the attempt throttle run before credentials are
// read, so a blocked or locked-out caller learns nothing about
// credential validity.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	blocked, err := e.blocklist.IsBlocked(ctx, ip)
	if err != nil {
		return nil, e.failClosed()
	}
	if blocked {
		e.metricInc(MetricIPBlocked)
		e.emitAudit(ctx, EventLoginFailure, false, "", "", ErrIPBlocked, map[string]string{"email": email})
		return nil, ErrIPBlocked
	}

	retryAfter, err := e.throttle.Check(ctx, email, ip)
	if err != nil {
		if errors.Is(err, throttle.ErrLimited) {
			e.metricInc(MetricLoginLocked)
			e.recordAttempt(ctx, email, ip, false, "throttled")
			e.emitAudit(ctx, EventLoginLocked, false, "", "", ErrTooManyAttempts, map[string]string{"email": email})
			return nil, &RetryableError{Err: ErrTooManyAttempts, RetryAfter: retryAfter}
		}
		return nil, e.failClosed()
	}

	identity, err := e.findAccount(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.loginFailure(ctx, email, ip, "", "unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !identity.Active {
		e.loginFailure(ctx, email, ip, identity.ID, "account_inactive")
		return nil, ErrAccountInactive
	}

	ok, err := e.hasher.Verify(password, identity.PasswordHash)
	if err != nil || !ok {
		e.loginFailure(ctx, email, ip, identity.ID, "password_mismatch")
		return nil, ErrInvalidCredentials
	}
	password = ""

	if e.config.TwoFactor.Enabled {
		enabled, err := e.twofactor.Enabled(ctx, identity.ID)
		if err != nil {
			return nil, e.failClosed()
		}
		if enabled {
			tempToken, err := e.issueTwoFactorChallenge(ctx, identity.ID, ip)
			if err != nil {
				return nil, err
			}
			e.recordAttempt(ctx, email, ip, true, "two_factor_pending")
			e.metricInc(MetricTwoFactorRequired)
			e.emitAudit(ctx, EventLoginSuccess, true, identity.ID, "", nil, map[string]string{"two_factor": "pending"})
			return &LoginResult{
				TwoFactorRequired: true,
				TwoFactorToken:    tempToken,
			}, nil
		}
	}

	result, err := e.issueSession(ctx, identity, false)
	if err != nil {
		return nil, err
	}

	e.recordAttempt(ctx, email, ip, true, "")
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, EventLoginSuccess, true, identity.ID, result.SessionID, nil, nil)

	return result, nil
}

func (e *Engine) loginFailure(ctx context.Context, email, ip, identityID, reason string) {
	e.recordAttempt(ctx, email, ip, false, reason)
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, EventLoginFailure, false, identityID, "", ErrInvalidCredentials, map[string]string{
		"email":  email,
		"reason": reason,
	})
}

// recordAttempt is fire-and-forget: a store failure is logged and never
// surfaces to the login response.
func (e *Engine) recordAttempt(ctx context.Context, email, ip string, success bool, reason string) {
	err := e.attempts.Record(ctx, stores.Attempt{
		Email:   email,
		IP:      ip,
		Success: success,
		Reason:  reason,
		At:      time.Now().Unix(),
	})
	if err != nil {
		log.Print("gatewarden: login attempt record failed")
	}
}

// issueSession signs a bearer token, persists the session record keyed by
// the token's hash, and prunes sessions past the concurrent cap.
func (e *Engine) issueSession(ctx context.Context, identity *Identity, twoFactorDone bool) (*LoginResult, error) {
	now := time.Now()
	sessionID := uuid.NewString()

	signed, expiresAt, err := e.codec.Sign(identity.ID, sessionID)
	if err != nil {
		return nil, err
	}

	tokenHash := internal.HashSecret(signed)
	record := &session.Record{
		SessionID:  sessionID,
		IdentityID: identity.ID,
		IP:         clientIPFromContext(ctx),
		Device: session.DeviceInfo{
			UserAgent: userAgentFromContext(ctx),
		},
		Active:        true,
		TwoFactorDone: twoFactorDone,
		CreatedAt:     now.Unix(),
		ExpiresAt:     expiresAt.Unix(),
		LastSeenAt:    now.Unix(),
	}

	if err := e.sessions.Create(ctx, tokenHash, record); err != nil {
		return nil, e.failClosed()
	}
	e.metricInc(MetricSessionCreated)

	e.enforceSessionCap(ctx, identity.ID, tokenHash)

	return &LoginResult{
		Token:     signed,
		ExpiresAt: expiresAt,
		SessionID: sessionID,
	}, nil
}

// enforceSessionCap deactivates the oldest active sessions beyond the
// configured maximum, never touching the session identified by keep.
// Best-effort: the login that triggered it has already succeeded.
func (e *Engine) enforceSessionCap(ctx context.Context, identityID string, keep [32]byte) {
	max := e.config.Session.MaxConcurrent
	if max <= 0 {
		return
	}

	entries, err := e.sessions.ActiveByIdentity(ctx, identityID, time.Now())
	if err != nil {
		log.Print("gatewarden: session cap check failed")
		return
	}
	if len(entries) <= max {
		return
	}

	// entries are ordered oldest first
	excess := len(entries) - max
	for _, entry := range entries {
		if excess == 0 {
			break
		}
		if entry.TokenHash == keep {
			continue
		}
		if err := e.sessions.Invalidate(ctx, entry.TokenHash); err != nil {
			log.Print("gatewarden: session cap eviction failed")
			continue
		}
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, EventSessionEvicted, true, identityID, entry.Record.SessionID, nil, nil)
		excess--
	}
}
