package gatewarden

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/gatewarden/gatewarden/internal"
	"github.com/gatewarden/gatewarden/internal/stores"
)

// TwoFactorProvision is returned by EnableTwoFactor. URL is the
// otpauth:// provisioning URI for authenticator apps.
type TwoFactorProvision struct {
	Secret string
	URL    string
}

// EnableTwoFactor provisions a TOTP secret for an identity. The
// enrollment stays disabled until ConfirmTwoFactor proves the caller's
// authenticator produces valid codes.
func (e *Engine) EnableTwoFactor(ctx context.Context, identityID string) (*TwoFactorProvision, error) {
	identity, err := e.findAccountByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TwoFactor.Issuer,
		AccountName: identity.Email,
	})
	if err != nil {
		return nil, err
	}

	enrollment := &stores.Enrollment{Secret: key.Secret()}
	if err := e.twofactor.SaveEnrollment(ctx, identityID, enrollment); err != nil {
		return nil, e.failClosed()
	}

	return &TwoFactorProvision{
		Secret: key.Secret(),
		URL:    key.URL(),
	}, nil
}

// ConfirmTwoFactor activates a provisioned enrollment after a valid code
// and issues a fresh batch of backup codes, replacing any prior batch.
// The plaintext codes are returned exactly once.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, identityID, code string) ([]string, error) {
	enrollment, err := e.twofactor.GetEnrollment(ctx, identityID)
	if err != nil {
		if errors.Is(err, stores.ErrTwoFactorNotEnrolled) {
			return nil, ErrTwoFactorNotEnabled
		}
		return nil, e.failClosed()
	}

	if !totp.Validate(code, enrollment.Secret) {
		return nil, ErrTwoFactorInvalid
	}

	enrollment.Enabled = true
	enrollment.ConfirmedAt = time.Now().Unix()
	if err := e.twofactor.SaveEnrollment(ctx, identityID, enrollment); err != nil {
		return nil, e.failClosed()
	}

	codes, err := e.issueBackupCodes(ctx, identityID)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, EventTwoFactorEnrolled, true, identityID, "", nil, nil)

	return codes, nil
}

// DisableTwoFactor removes the enrollment and any remaining backup codes.
func (e *Engine) DisableTwoFactor(ctx context.Context, identityID string) error {
	if err := e.twofactor.DeleteEnrollment(ctx, identityID); err != nil {
		return e.failClosed()
	}
	if err := e.backups.Delete(ctx, identityID); err != nil {
		return e.failClosed()
	}

	e.emitAudit(ctx, EventTwoFactorDisabled, true, identityID, "", nil, nil)

	return nil
}

// RegenerateBackupCodes replaces the identity's batch with fresh codes.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, identityID string) ([]string, error) {
	enabled, err := e.twofactor.Enabled(ctx, identityID)
	if err != nil {
		return nil, e.failClosed()
	}
	if !enabled {
		return nil, ErrTwoFactorNotEnabled
	}
	return e.issueBackupCodes(ctx, identityID)
}

// VerifyTwoFactorLogin redeems a pending two-factor token with a TOTP
// code, completing the login handshake. The challenge is deleted on
// success and the issued session is marked two-factor complete.
func (e *Engine) VerifyTwoFactorLogin(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	challenge, challengeID, err := e.loadChallenge(ctx, tempToken)
	if err != nil {
		return nil, err
	}

	enrollment, err := e.twofactor.GetEnrollment(ctx, challenge.IdentityID)
	if err != nil {
		if errors.Is(err, stores.ErrTwoFactorNotEnrolled) {
			return nil, ErrTwoFactorNotEnabled
		}
		return nil, e.failClosed()
	}
	if !enrollment.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	if !totp.Validate(code, enrollment.Secret) {
		return nil, e.challengeFailure(ctx, challengeID, challenge.IdentityID)
	}

	return e.completeChallenge(ctx, challengeID, challenge.IdentityID)
}

// VerifyBackupCodeLogin redeems a pending two-factor token with a
// single-use backup code. Consumption is atomic: a second concurrent
// request presenting the same code fails.
func (e *Engine) VerifyBackupCodeLogin(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	challenge, challengeID, err := e.loadChallenge(ctx, tempToken)
	if err != nil {
		return nil, err
	}

	hash := backupCodeHash(challenge.IdentityID, code)
	if err := e.backups.VerifyAndConsume(ctx, challenge.IdentityID, hash); err != nil {
		switch {
		case errors.Is(err, stores.ErrBackupCodeInvalid), errors.Is(err, stores.ErrBackupCodesMissing):
			e.metricInc(MetricBackupCodeFailed)
			return nil, e.challengeFailure(ctx, challengeID, challenge.IdentityID)
		default:
			return nil, e.failClosed()
		}
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, EventBackupCodeUsed, true, challenge.IdentityID, "", nil, nil)

	return e.completeChallenge(ctx, challengeID, challenge.IdentityID)
}

// issueTwoFactorChallenge creates the temp token handed back by Login
// when the password step passed but the code step is pending. Reissuing
// replaces any live challenge for the identity.
func (e *Engine) issueTwoFactorChallenge(ctx context.Context, identityID, ip string) (string, error) {
	id, err := internal.NewChallengeID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", err
	}

	ttl := e.config.TwoFactor.ChallengeTTL
	challenge := &stores.Challenge{
		IdentityID: identityID,
		SecretHash: internal.HashSecretBytes(secret[:]),
		IP:         ip,
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}

	if err := e.twofactor.SaveChallenge(ctx, id.String(), challenge, ttl); err != nil {
		return "", e.failClosed()
	}

	return internal.EncodeChallengeToken(id, secret), nil
}

func (e *Engine) loadChallenge(ctx context.Context, tempToken string) (*stores.Challenge, string, error) {
	id, secret, err := internal.DecodeChallengeToken(tempToken)
	if err != nil {
		return nil, "", ErrTwoFactorInvalid
	}

	challenge, err := e.twofactor.GetChallenge(ctx, id.String(), internal.HashSecretBytes(secret[:]))
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeExpired):
			return nil, "", ErrTwoFactorExpired
		case errors.Is(err, stores.ErrChallengeNotFound):
			return nil, "", ErrTwoFactorInvalid
		default:
			return nil, "", e.failClosed()
		}
	}

	return challenge, id.String(), nil
}

// challengeFailure burns one attempt and reports whether the budget ran
// out. Its return value is always non-nil.
func (e *Engine) challengeFailure(ctx context.Context, challengeID, identityID string) error {
	e.metricInc(MetricTwoFactorFailure)

	exceeded, err := e.twofactor.RecordFailure(ctx, challengeID, identityID, e.config.TwoFactor.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeExpired):
			return ErrTwoFactorExpired
		case errors.Is(err, stores.ErrChallengeNotFound):
			return ErrTwoFactorInvalid
		default:
			return e.failClosed()
		}
	}
	if exceeded {
		e.emitAudit(ctx, EventTwoFactorFailed, false, identityID, "", ErrTwoFactorAttemptsExceeded, nil)
		return ErrTwoFactorAttemptsExceeded
	}

	e.emitAudit(ctx, EventTwoFactorFailed, false, identityID, "", ErrTwoFactorInvalid, nil)
	return ErrTwoFactorInvalid
}

func (e *Engine) completeChallenge(ctx context.Context, challengeID, identityID string) (*LoginResult, error) {
	identity, err := e.findAccountByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if !identity.Active {
		return nil, ErrAccountInactive
	}

	if err := e.twofactor.DeleteChallenge(ctx, challengeID, identityID); err != nil {
		return nil, e.failClosed()
	}

	result, err := e.issueSession(ctx, identity, true)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, EventTwoFactorVerified, true, identityID, result.SessionID, nil, nil)

	return result, nil
}

func (e *Engine) issueBackupCodes(ctx context.Context, identityID string) ([]string, error) {
	count := e.config.TwoFactor.BackupCodeCount
	if count <= 0 {
		count = 10
	}

	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		var raw [5]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return nil, err
		}
		code := hex.EncodeToString(raw[:])
		codes = append(codes, code)
		hashes = append(hashes, backupCodeHash(identityID, code))
	}

	if err := e.backups.ReplaceBatch(ctx, identityID, hashes); err != nil {
		return nil, e.failClosed()
	}

	return codes, nil
}

// backupCodeHash salts the code with the identity id so identical codes
// issued to different identities never collide in storage.
func backupCodeHash(identityID, code string) [32]byte {
	return internal.HashSecret(identityID + ":" + code)
}
