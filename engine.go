package gatewarden

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewarden/gatewarden/internal/stores"
	"github.com/gatewarden/gatewarden/internal/throttle"
	"github.com/gatewarden/gatewarden/password"
	"github.com/gatewarden/gatewarden/ratelimit"
	"github.com/gatewarden/gatewarden/session"
	"github.com/gatewarden/gatewarden/token"
)

// Engine is the access-control gate. Construct one with a Builder and
// share it across goroutines; all methods are safe for concurrent use.
type Engine struct {
	config      Config
	redis       redis.UniversalClient
	accounts    AccountStore
	codec       *token.Codec
	hasher      *password.Hasher
	sessions    *session.Store
	revocations *stores.RevocationStore
	blocklist   *stores.BlocklistStore
	attempts    *stores.LoginAttemptStore
	resets      *stores.ResetTokenStore
	backups     *stores.BackupCodeStore
	twofactor   *stores.TwoFactorStore
	apikeys     *stores.APIKeyStore
	throttle    *throttle.LoginThrottle
	limiter     *ratelimit.Limiter
	audit       *auditDispatcher
	metrics     *Metrics

	maintMu      sync.RWMutex
	maintOn      bool
	maintAllowed map[string]struct{}

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Close stops background work and drains buffered audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		e.audit.close()
	})
}

// Limiter exposes the shared rate limiter for the middleware package.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

// RateLimitAllow spends one unit of the class's budget for key. Every
// caller surface goes through here rather than the limiter directly, so
// rejections are counted and audited in one place.
func (e *Engine) RateLimitAllow(ctx context.Context, class ratelimit.Class, key string) (ratelimit.Decision, error) {
	decision, err := e.limiter.Allow(ctx, class, key)
	if err != nil {
		return decision, err
	}

	if !decision.Allowed {
		e.metricInc(MetricRateLimitHit)
		e.emitAudit(ctx, EventRateLimited, false, "", "", ErrRateLimitExceeded, map[string]string{
			"class": class.Name,
			"key":   key,
		})
	}
	return decision, nil
}

// RateLimitClass returns the configured class by name, if any.
func (e *Engine) RateLimitClass(name string) (ratelimit.Class, bool) {
	class, ok := e.config.RateLimit.Classes[name]
	return class, ok
}

// RateLimitWhitelisted reports whether counting is skipped for ip.
func (e *Engine) RateLimitWhitelisted(ip string) bool {
	if !e.config.RateLimit.WhitelistEnabled {
		return false
	}
	for _, allowed := range e.config.RateLimit.Whitelist {
		if allowed == ip {
			return true
		}
	}
	return false
}

// RateLimitEnabled reports whether the limiter middleware should count.
func (e *Engine) RateLimitEnabled() bool {
	return e.config.RateLimit.Enabled
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.droppedEvents()
}

// RecentLoginAttempts returns the newest attempt rows, newest first.
func (e *Engine) RecentLoginAttempts(ctx context.Context, limit int64) ([]LoginAttempt, error) {
	rows, err := e.attempts.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", e.failClosed(), err)
	}

	out := make([]LoginAttempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, LoginAttempt{
			Email:   row.Email,
			IP:      row.IP,
			Success: row.Success,
			Reason:  row.Reason,
			At:      time.Unix(row.At, 0),
		})
	}
	return out, nil
}

// SetMaintenanceMode flips the engine-wide maintenance gate at runtime.
// While on, CheckMaintenance rejects every caller whose IP is not in
// allowedIPs.
func (e *Engine) SetMaintenanceMode(on bool, allowedIPs []string) {
	allowed := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		allowed[ip] = struct{}{}
	}

	e.maintMu.Lock()
	e.maintOn = on
	e.maintAllowed = allowed
	e.maintMu.Unlock()
}

// CheckMaintenance returns ErrMaintenanceMode when the gate is on and ip
// is not exempt.
func (e *Engine) CheckMaintenance(ip string) error {
	e.maintMu.RLock()
	defer e.maintMu.RUnlock()

	if !e.maintOn {
		return nil
	}
	if _, ok := e.maintAllowed[ip]; ok {
		return nil
	}
	return ErrMaintenanceMode
}

// failClosed counts a backend failure and returns the fail-closed
// rejection. Every security-relevant store error funnels through here so
// MetricBackendError tracks outages.
func (e *Engine) failClosed() error {
	e.metricInc(MetricBackendError)
	return ErrBackendUnavailable
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, identityID, sessionID string, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if err != nil {
		event.Error = Code(err)
	}

	e.audit.emit(ctx, event)
}

// startSweeper runs periodic cleanup for backends that need it. The
// Redis stores expire their own keys; only the in-memory rate limit
// store accumulates idle state.
func (e *Engine) startSweeper() {
	interval := e.config.Sweep.Interval
	if interval <= 0 {
		return
	}
	mem, ok := e.limiter.Store().(*ratelimit.MemoryStore)
	if !ok {
		return
	}

	idle := e.config.Sweep.IdleEviction
	if idle <= 0 {
		idle = 24 * time.Hour
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mem.Sweep(idle)
			case <-e.done:
				return
			}
		}
	}()
}

// findAccount maps store errors onto the gate's failure posture: a
// missing identity is a credential failure, anything else fails closed.
func (e *Engine) findAccount(ctx context.Context, email string) (*Identity, error) {
	identity, err := e.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, e.failClosed()
	}
	return identity, nil
}

func (e *Engine) findAccountByID(ctx context.Context, id string) (*Identity, error) {
	identity, err := e.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, e.failClosed()
	}
	return identity, nil
}
