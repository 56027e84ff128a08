package gatewarden

import (
	"errors"
	"time"

	"github.com/gatewarden/gatewarden/ratelimit"
	"github.com/gatewarden/gatewarden/token"
)

// Config is the engine's full configuration tree. Configure it before
// Build; it is treated as immutable afterwards.
type Config struct {
	Token       TokenConfig
	Session     SessionConfig
	Throttle    ThrottleConfig
	TwoFactor   TwoFactorConfig
	APIKey      APIKeyConfig
	Password    PasswordAgeConfig
	RateLimit   RateLimitConfig
	Maintenance MaintenanceConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Sweep       SweepConfig

	// KeyPrefix namespaces every Redis key written by the engine.
	KeyPrefix string
}

// TokenConfig feeds the bearer-token codec.
type TokenConfig struct {
	TTL           time.Duration
	SigningMethod token.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// SessionConfig governs session records and the concurrent-session cap.
type SessionConfig struct {
	// Enforce requires a live session record on Authenticate; without it
	// the gate trusts the signed token alone.
	Enforce bool
	// MaxConcurrent deactivates the oldest sessions beyond this count on
	// login. Zero disables the cap.
	MaxConcurrent int
	// Retention keeps invalidated/expired records readable this long
	// before the backend purges them.
	Retention time.Duration
}

// ThrottleConfig governs the login-attempt throttle.
type ThrottleConfig struct {
	MaxAttempts int
	// LockoutDuration doubles as the failure lookback window.
	LockoutDuration time.Duration
	// RequireBoth switches the email/address dual key from OR to AND.
	RequireBoth bool
	// AttemptRetention bounds how long attempt history is kept.
	AttemptRetention time.Duration
}

// TwoFactorConfig governs the TOTP handshake.
type TwoFactorConfig struct {
	Enabled bool
	// Issuer appears in authenticator apps.
	Issuer string
	// ChallengeTTL is the temp token's hard expiry. No renewal.
	ChallengeTTL time.Duration
	// MaxAttempts bounds wrong codes per challenge.
	MaxAttempts int
	// BackupCodeCount is the batch size issued on enrollment.
	BackupCodeCount int
}

// APIKeyConfig governs API key generation.
type APIKeyConfig struct {
	// SecretPrefix is the human-readable key prefix, e.g. "gw".
	SecretPrefix string
	// DisplayPrefixLen is how many leading characters of the secret are
	// stored for display.
	DisplayPrefixLen int
}

// PasswordAgeConfig governs the password-age gate. Zero ExpiryDays
// disables both the gate and the warning.
type PasswordAgeConfig struct {
	ExpiryDays  int
	WarningDays int
}

// RateLimitConfig carries the per-route-class budgets and the shared
// skip lists.
type RateLimitConfig struct {
	Enabled bool
	Classes map[string]ratelimit.Class
	// WhitelistEnabled + Whitelist skip counting entirely for the listed
	// source addresses.
	WhitelistEnabled bool
	Whitelist        []string
}

// MaintenanceConfig gates the whole API to AllowedIPs while Enabled.
type MaintenanceConfig struct {
	Enabled    bool
	AllowedIPs []string
}

// AuditConfig governs the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events under backpressure instead of blocking the
	// request that emitted them.
	DropIfFull bool
}

// MetricsConfig governs the in-process counters.
type MetricsConfig struct {
	Enabled bool
	// EnableLatencyHistograms also buckets Authenticate latency.
	EnableLatencyHistograms bool
}

// SweepConfig governs the background cleanup cadence.
type SweepConfig struct {
	Interval time.Duration
	// IdleEviction is how long a sliding-window key may sit unused before
	// the sweeper drops it.
	IdleEviction time.Duration
}

// DefaultConfig returns the baseline configuration. Only the token keys
// and the account store have no usable default.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "gw",
		Token: TokenConfig{
			TTL:           time.Hour,
			SigningMethod: token.MethodHS256,
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			Enforce:       true,
			MaxConcurrent: 5,
			Retention:     24 * time.Hour,
		},
		Throttle: ThrottleConfig{
			MaxAttempts:      5,
			LockoutDuration:  30 * time.Minute,
			AttemptRetention: 30 * 24 * time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Enabled:         true,
			Issuer:          "gatewarden",
			ChallengeTTL:    5 * time.Minute,
			MaxAttempts:     5,
			BackupCodeCount: 10,
		},
		APIKey: APIKeyConfig{
			SecretPrefix:     "gw",
			DisplayPrefixLen: 12,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Classes: ratelimit.DefaultClasses(),
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Sweep: SweepConfig{
			Interval:     5 * time.Minute,
			IdleEviction: 24 * time.Hour,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.Token.TTL <= 0 {
		return errors.New("config: token TTL must be positive")
	}
	if cfg.Throttle.MaxAttempts <= 0 {
		return errors.New("config: throttle max attempts must be positive")
	}
	if cfg.Throttle.LockoutDuration <= 0 {
		return errors.New("config: lockout duration must be positive")
	}
	if cfg.TwoFactor.ChallengeTTL <= 0 || cfg.TwoFactor.ChallengeTTL > 15*time.Minute {
		return errors.New("config: two-factor challenge TTL out of range")
	}
	if cfg.TwoFactor.BackupCodeCount < 1 || cfg.TwoFactor.BackupCodeCount > 255 {
		return errors.New("config: backup code count out of range")
	}
	if cfg.Session.MaxConcurrent < 0 {
		return errors.New("config: max concurrent sessions cannot be negative")
	}
	for name, class := range cfg.RateLimit.Classes {
		if class.Window <= 0 || class.Max <= 0 {
			return errors.New("config: rate limit class " + name + " needs positive window and max")
		}
	}
	return nil
}
