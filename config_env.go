package gatewarden

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gatewarden/gatewarden/token"
)

// ConfigFromEnv builds a Config from GATEWARDEN_* environment variables,
// layered over DefaultConfig. A .env file in the working directory is
// read first when present; real env vars override it.
//
// Per-class rate limit overrides use the class name uppercased with
// dashes replaced, e.g. GATEWARDEN_RATE_PASSWORD_RESET_MAX=3 and
// GATEWARDEN_RATE_PASSWORD_RESET_WINDOW=1h.
func ConfigFromEnv() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.SetEnvPrefix("GATEWARDEN")
	v.AutomaticEnv()

	cfg := DefaultConfig()

	v.SetDefault("KEY_PREFIX", cfg.KeyPrefix)
	v.SetDefault("TOKEN_TTL", cfg.Token.TTL.String())
	v.SetDefault("TOKEN_METHOD", string(cfg.Token.SigningMethod))
	v.SetDefault("TOKEN_ISSUER", "")
	v.SetDefault("TOKEN_SECRET", "")
	v.SetDefault("SESSION_ENFORCE", cfg.Session.Enforce)
	v.SetDefault("MAX_CONCURRENT_SESSIONS", cfg.Session.MaxConcurrent)
	v.SetDefault("SESSION_RETENTION", cfg.Session.Retention.String())
	v.SetDefault("MAX_LOGIN_ATTEMPTS", cfg.Throttle.MaxAttempts)
	v.SetDefault("LOCKOUT_DURATION_MINUTES", int(cfg.Throttle.LockoutDuration/time.Minute))
	v.SetDefault("LOCKOUT_REQUIRE_BOTH", cfg.Throttle.RequireBoth)
	v.SetDefault("TWO_FACTOR_ENABLED", cfg.TwoFactor.Enabled)
	v.SetDefault("TWO_FACTOR_ISSUER", cfg.TwoFactor.Issuer)
	v.SetDefault("TWO_FACTOR_CHALLENGE_TTL", cfg.TwoFactor.ChallengeTTL.String())
	v.SetDefault("API_KEY_PREFIX", cfg.APIKey.SecretPrefix)
	v.SetDefault("PASSWORD_EXPIRY_DAYS", cfg.Password.ExpiryDays)
	v.SetDefault("PASSWORD_WARNING_DAYS", cfg.Password.WarningDays)
	v.SetDefault("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	v.SetDefault("IP_WHITELIST_ENABLED", cfg.RateLimit.WhitelistEnabled)
	v.SetDefault("IP_WHITELIST", "")
	v.SetDefault("MAINTENANCE_MODE", cfg.Maintenance.Enabled)
	v.SetDefault("MAINTENANCE_ALLOWED_IPS", "")
	v.SetDefault("AUDIT_ENABLED", cfg.Audit.Enabled)
	v.SetDefault("SWEEP_INTERVAL", cfg.Sweep.Interval.String())

	cfg.KeyPrefix = v.GetString("KEY_PREFIX")
	cfg.Token.TTL = duration(v.GetString("TOKEN_TTL"), cfg.Token.TTL)
	cfg.Token.SigningMethod = token.SigningMethod(v.GetString("TOKEN_METHOD"))
	cfg.Token.Issuer = v.GetString("TOKEN_ISSUER")
	if secret := v.GetString("TOKEN_SECRET"); secret != "" {
		cfg.Token.PrivateKey = []byte(secret)
	}
	cfg.Session.Enforce = v.GetBool("SESSION_ENFORCE")
	cfg.Session.MaxConcurrent = v.GetInt("MAX_CONCURRENT_SESSIONS")
	cfg.Session.Retention = duration(v.GetString("SESSION_RETENTION"), cfg.Session.Retention)
	cfg.Throttle.MaxAttempts = v.GetInt("MAX_LOGIN_ATTEMPTS")
	cfg.Throttle.LockoutDuration = time.Duration(v.GetInt("LOCKOUT_DURATION_MINUTES")) * time.Minute
	cfg.Throttle.RequireBoth = v.GetBool("LOCKOUT_REQUIRE_BOTH")
	cfg.TwoFactor.Enabled = v.GetBool("TWO_FACTOR_ENABLED")
	cfg.TwoFactor.Issuer = v.GetString("TWO_FACTOR_ISSUER")
	cfg.TwoFactor.ChallengeTTL = duration(v.GetString("TWO_FACTOR_CHALLENGE_TTL"), cfg.TwoFactor.ChallengeTTL)
	cfg.APIKey.SecretPrefix = v.GetString("API_KEY_PREFIX")
	cfg.Password.ExpiryDays = v.GetInt("PASSWORD_EXPIRY_DAYS")
	cfg.Password.WarningDays = v.GetInt("PASSWORD_WARNING_DAYS")
	cfg.RateLimit.Enabled = v.GetBool("RATE_LIMIT_ENABLED")
	cfg.RateLimit.WhitelistEnabled = v.GetBool("IP_WHITELIST_ENABLED")
	cfg.RateLimit.Whitelist = splitList(v.GetString("IP_WHITELIST"))
	cfg.Maintenance.Enabled = v.GetBool("MAINTENANCE_MODE")
	cfg.Maintenance.AllowedIPs = splitList(v.GetString("MAINTENANCE_ALLOWED_IPS"))
	cfg.Audit.Enabled = v.GetBool("AUDIT_ENABLED")
	cfg.Sweep.Interval = duration(v.GetString("SWEEP_INTERVAL"), cfg.Sweep.Interval)

	for name, class := range cfg.RateLimit.Classes {
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if max := v.GetInt("RATE_" + envName + "_MAX"); max > 0 {
			class.Max = max
		}
		if w := v.GetString("RATE_" + envName + "_WINDOW"); w != "" {
			class.Window = duration(w, class.Window)
		}
		cfg.RateLimit.Classes[name] = class
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
