package gatewarden

import (
	"context"
	"errors"
	"time"

	"github.com/gatewarden/gatewarden/internal"
	"github.com/gatewarden/gatewarden/internal/stores"
)

const resetTokenTTL = time.Hour

// RequestPasswordReset issues a single-use reset token for the account
// with the given email. The opaque token goes to the account holder out
// of band; only its hash is stored. Callers deciding to hide account
// existence can map ErrIdentityNotFound to a generic success.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	identity, err := e.findAccount(ctx, email)
	if err != nil {
		return "", err
	}

	id, err := internal.NewChallengeID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", err
	}

	record := &stores.ResetRecord{
		IdentityID: identity.ID,
		SecretHash: internal.HashSecretBytes(secret[:]),
		ExpiresAt:  time.Now().Add(resetTokenTTL).Unix(),
	}
	if err := e.resets.Save(ctx, id.String(), record, resetTokenTTL); err != nil {
		return "", e.failClosed()
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, EventPasswordResetStart, true, identity.ID, "", nil, nil)

	return internal.EncodeChallengeToken(id, secret), nil
}

// ConsumePasswordReset redeems a reset token and returns the identity it
// belongs to. Consumption is single-use and atomic; a second redemption
// of the same token fails even inside the original expiry. All of the
// identity's sessions are invalidated so stolen sessions do not survive
// the reset. The caller owns the actual password update.
func (e *Engine) ConsumePasswordReset(ctx context.Context, resetToken string) (string, error) {
	id, secret, err := internal.DecodeChallengeToken(resetToken)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return "", ErrResetTokenInvalid
	}

	record, err := e.resets.Consume(ctx, id.String(), internal.HashSecretBytes(secret[:]))
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetMismatch):
			e.metricInc(MetricPasswordResetFailure)
			e.emitAudit(ctx, EventPasswordResetDone, false, "", "", ErrResetTokenInvalid, nil)
			return "", ErrResetTokenInvalid
		default:
			return "", e.failClosed()
		}
	}

	if _, err := e.sessions.InvalidateAllForIdentity(ctx, record.IdentityID, nil); err != nil {
		return "", e.failClosed()
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, EventPasswordResetDone, true, record.IdentityID, "", nil, nil)

	return record.IdentityID, nil
}

// HashPassword exposes the engine's argon2id hasher so the host can
// store a new password hash after a reset.
func (e *Engine) HashPassword(plaintext string) (string, error) {
	return e.hasher.Hash(plaintext)
}
