package gatewarden

import (
	"context"
	"time"

	"github.com/gatewarden/gatewarden/permission"
	"github.com/gatewarden/gatewarden/session"
)

// Identity is the account-store view of a caller. The gate reads it and
// never writes it back.
type Identity struct {
	ID                string
	Email             string
	Active            bool
	Role              string
	Permissions       permission.Set
	PasswordHash      string
	PasswordChangedAt time.Time
}

// AccountStore is the external persistent account collaborator. Lookups
// that find no account must return [ErrIdentityNotFound]; any other error
// is treated as a backend failure and the gate fails closed.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
}

// AuthResult is the outcome of a successful authentication. The bearer
// path carries an Identity and SessionID; the API key path carries an
// APIKeyID. Both converge on the same Permissions contract.
type AuthResult struct {
	Identity    *Identity
	SessionID   string
	Permissions permission.Set
	APIKeyID    string

	// TwoFactorDone reports whether the session completed a 2FA step.
	TwoFactorDone bool

	// PasswordExpiresAt is set when the identity's password is inside the
	// configured warning window: the request is admitted, but the caller
	// can surface the upcoming expiry.
	PasswordExpiresAt time.Time

	// Anonymous marks the optional-auth fallthrough: the pipeline failed
	// and the request proceeds without an attached identity.
	Anonymous bool
}

// LoginResult is the outcome of a login call. When TwoFactorRequired is
// set, Token is empty and TwoFactorToken must be redeemed within its
// five-minute expiry.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	SessionID string

	TwoFactorRequired bool
	TwoFactorToken    string
}

// SessionInfo is the caller-visible view of a session record.
type SessionInfo struct {
	SessionID     string
	IP            string
	Device        session.DeviceInfo
	Active        bool
	TwoFactorDone bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
	LastSeenAt    time.Time
}

// APIKeyInfo is the caller-visible view of an API key record. The secret
// never appears here; Prefix identifies the key in UIs.
type APIKeyInfo struct {
	ID          string
	Name        string
	Prefix      string
	Permissions permission.Set
	CreatedBy   string
	CreatedAt   time.Time
	ExpiresAt   time.Time // zero = never
	Active      bool
	LastUsedAt  time.Time
	UseCount    uint64
}

// CreateAPIKeyParams describes a new API key. Permissions attached here
// are the key's entire grant; verification never widens them.
type CreateAPIKeyParams struct {
	Name        string
	Permissions permission.Set
	CreatedBy   string
	ExpiresAt   time.Time // zero = never
}

// CreatedAPIKey is returned exactly once, at creation: Secret is the only
// time the full key material leaves the engine.
type CreatedAPIKey struct {
	Secret string
	Info   APIKeyInfo
}

// LoginAttempt is one row of the login history feed.
type LoginAttempt struct {
	Email   string
	IP      string
	Success bool
	Reason  string
	At      time.Time
}

// BlockedIP is the caller-visible view of a blocklist entry.
type BlockedIP struct {
	Address   string
	Reason    string
	BlockedBy string
	CreatedAt time.Time
	ExpiresAt time.Time // zero = permanent
}
