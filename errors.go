package gatewarden

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenMissing is returned when no bearer token was presented.
	ErrTokenMissing = errors.New("bearer token missing")
	// ErrTokenInvalid is returned for tampered or malformed tokens.
	ErrTokenInvalid = errors.New("bearer token invalid")
	// ErrTokenExpired is returned when the token's expiry claim has lapsed.
	ErrTokenExpired = errors.New("bearer token expired")
	// ErrTokenRevoked is returned for tokens explicitly invalidated before
	// their natural expiry.
	ErrTokenRevoked = errors.New("bearer token revoked")
	// ErrIdentityNotFound is returned when the token's identity claim does
	// not resolve in the account store.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrAccountInactive is returned for deactivated accounts.
	ErrAccountInactive = errors.New("account inactive")
	// ErrSessionInvalid is returned when no live session record matches
	// the presented token.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrTwoFactorRequired signals that the session has not completed its
	// two-factor step; the client should route to the 2FA flow, not a
	// generic login.
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrPasswordExpired signals that the identity's password has aged
	// past the configured expiry window.
	ErrPasswordExpired = errors.New("password expired")
	// ErrInvalidCredentials is the generic login failure; it
	// does not distinguish unknown email from wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTooManyAttempts is returned by the login throttle.
	ErrTooManyAttempts = errors.New("too many login attempts")
	// ErrIPBlocked is returned for explicitly blocked source addresses.
	ErrIPBlocked = errors.New("source address blocked")
	// ErrRateLimitExceeded is returned when a request's budget is spent.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrTwoFactorInvalid covers wrong codes and unknown/replaced
	// challenge tokens.
	ErrTwoFactorInvalid = errors.New("two-factor verification invalid")
	// ErrTwoFactorExpired is returned once the temp token's 5-minute hard
	// expiry has lapsed.
	ErrTwoFactorExpired = errors.New("two-factor challenge expired")
	// ErrTwoFactorAttemptsExceeded is returned when a challenge burns its
	// attempt budget.
	ErrTwoFactorAttemptsExceeded = errors.New("two-factor attempts exceeded")
	// ErrTwoFactorNotEnabled is returned by 2FA operations on identities
	// without a confirmed enrollment.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrBackupCodeInvalid covers spent, unknown, and malformed codes.
	ErrBackupCodeInvalid = errors.New("backup code invalid")
	// ErrResetTokenInvalid covers expired, consumed, and unknown
	// password-reset tokens.
	ErrResetTokenInvalid = errors.New("reset token invalid")
	// ErrAPIKeyInvalid covers unknown, revoked, and expired API keys.
	ErrAPIKeyInvalid = errors.New("api key invalid")
	// ErrPermissionDenied is returned when an authenticated caller lacks a
	// required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrMaintenanceMode is returned to callers outside the allowed list
	// while maintenance mode is on.
	ErrMaintenanceMode = errors.New("maintenance mode")
	// ErrBackendUnavailable is the fail-closed rejection used when a
	// security-relevant store cannot be read.
	ErrBackendUnavailable = errors.New("security backend unavailable")
	// ErrEngineNotReady is returned from methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Codes are the stable machine-readable identifiers carried alongside
// human-readable messages, so clients branch on code, never on text.
const (
	CodeTokenMissing         = "TOKEN_MISSING"
	CodeTokenInvalid         = "TOKEN_INVALID"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeTokenRevoked         = "TOKEN_REVOKED"
	CodeIdentityNotFound     = "IDENTITY_NOT_FOUND"
	CodeAccountInactive      = "ACCOUNT_INACTIVE"
	CodeSessionInvalid       = "SESSION_INVALID"
	CodeTwoFactorRequired    = "TWO_FACTOR_REQUIRED"
	CodePasswordExpired      = "PASSWORD_EXPIRED"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeTooManyAttempts      = "TOO_MANY_ATTEMPTS"
	CodeIPBlocked            = "IP_BLOCKED"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeTwoFactorInvalid     = "TWO_FACTOR_INVALID"
	CodeTwoFactorExpired     = "TWO_FACTOR_EXPIRED"
	CodeBackupCodeInvalid    = "BACKUP_CODE_INVALID"
	CodeResetTokenInvalid    = "RESET_TOKEN_INVALID"
	CodeAPIKeyInvalid        = "API_KEY_INVALID"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodeMaintenanceMode      = "MAINTENANCE_MODE"
	CodeBackendUnavailable   = "BACKEND_UNAVAILABLE"
	CodeInternal             = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrTokenMissing, CodeTokenMissing},
	{ErrTokenExpired, CodeTokenExpired},
	{ErrTokenRevoked, CodeTokenRevoked},
	{ErrTokenInvalid, CodeTokenInvalid},
	{ErrIdentityNotFound, CodeIdentityNotFound},
	{ErrAccountInactive, CodeAccountInactive},
	{ErrSessionInvalid, CodeSessionInvalid},
	{ErrTwoFactorRequired, CodeTwoFactorRequired},
	{ErrPasswordExpired, CodePasswordExpired},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrTooManyAttempts, CodeTooManyAttempts},
	{ErrIPBlocked, CodeIPBlocked},
	{ErrRateLimitExceeded, CodeRateLimitExceeded},
	{ErrTwoFactorAttemptsExceeded, CodeTwoFactorInvalid},
	{ErrTwoFactorExpired, CodeTwoFactorExpired},
	{ErrTwoFactorInvalid, CodeTwoFactorInvalid},
	{ErrTwoFactorNotEnabled, CodeTwoFactorInvalid},
	{ErrBackupCodeInvalid, CodeBackupCodeInvalid},
	{ErrResetTokenInvalid, CodeResetTokenInvalid},
	{ErrAPIKeyInvalid, CodeAPIKeyInvalid},
	{ErrPermissionDenied, CodePermissionDenied},
	{ErrMaintenanceMode, CodeMaintenanceMode},
	{ErrBackendUnavailable, CodeBackendUnavailable},
}

// Code maps an error returned by this package to its stable code.
// Unrecognized errors map to CodeInternal.
func Code(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// RetryableError attaches a retry-after hint to a rejection. errors.Is
// still matches the wrapped sentinel.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// RetryAfter extracts the retry-after hint from err, or zero.
func RetryAfter(err error) time.Duration {
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return retryable.RetryAfter
	}
	return 0
}
