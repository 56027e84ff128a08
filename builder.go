package gatewarden

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/stores"
	"github.com/gatewarden/gatewarden/internal/throttle"
	"github.com/gatewarden/gatewarden/password"
	"github.com/gatewarden/gatewarden/ratelimit"
	"github.com/gatewarden/gatewarden/session"
	"github.com/gatewarden/gatewarden/token"
)

// Builder assembles an Engine. A Builder is single-use; Build returns an
// error on the second call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts  AccountStore
	auditSink AuditSink
	rateStore ratelimit.Store

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore wires the host's identity lookup. Required.
func (b *Builder) WithAccountStore(accounts AccountStore) *Builder {
	b.accounts = accounts
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithRateLimitStore overrides the rate limiter backend. Defaults to
// Redis when a client is present, in-process memory otherwise.
func (b *Builder) WithRateLimitStore(store ratelimit.Store) *Builder {
	b.rateStore = store
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(token.Config{
		TTL:           cfg.Token.TTL,
		SigningMethod: cfg.Token.SigningMethod,
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		return nil, err
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gw"
	}

	attempts := stores.NewLoginAttemptStore(b.redis, prefix, cfg.Throttle.AttemptRetention, 10000)

	rateStore := b.rateStore
	if rateStore == nil {
		rateStore = ratelimit.NewRedisStore(b.redis, prefix)
	}

	e := &Engine{
		config:      cfg,
		redis:       b.redis,
		accounts:    b.accounts,
		codec:       codec,
		hasher:      hasher,
		sessions:    session.NewStore(b.redis, prefix, cfg.Session.Retention),
		revocations: stores.NewRevocationStore(b.redis, prefix),
		blocklist:   stores.NewBlocklistStore(b.redis, prefix),
		attempts:    attempts,
		resets:      stores.NewResetTokenStore(b.redis, prefix),
		backups:     stores.NewBackupCodeStore(b.redis, prefix),
		twofactor:   stores.NewTwoFactorStore(b.redis, prefix),
		apikeys:     stores.NewAPIKeyStore(b.redis, prefix),
		throttle: throttle.New(attempts, throttle.Config{
			MaxAttempts: cfg.Throttle.MaxAttempts,
			Window:      cfg.Throttle.LockoutDuration,
			RequireBoth: cfg.Throttle.RequireBoth,
		}),
		limiter: ratelimit.NewLimiter(rateStore),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		done:    make(chan struct{}),
	}

	e.SetMaintenanceMode(cfg.Maintenance.Enabled, cfg.Maintenance.AllowedIPs)
	e.startSweeper()

	b.built = true

	return e, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
