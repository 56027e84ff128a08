package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/gatewarden/gatewarden"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type counterDef struct {
	ID   gatewarden.MetricID
	Name string
	Help string
}

var counterDefs = []counterDef{
	{gatewarden.MetricLoginSuccess, "gatewarden_login_success_total", "Successful logins."},
	{gatewarden.MetricLoginFailure, "gatewarden_login_failure_total", "Failed logins."},
	{gatewarden.MetricLoginLocked, "gatewarden_login_locked_total", "Logins rejected by the attempt throttle."},
	{gatewarden.MetricAuthSuccess, "gatewarden_auth_success_total", "Successful gate authentications."},
	{gatewarden.MetricAuthFailure, "gatewarden_auth_failure_total", "Rejected gate authentications."},
	{gatewarden.MetricTokenRevoked, "gatewarden_token_revoked_total", "Tokens revoked before natural expiry."},
	{gatewarden.MetricSessionCreated, "gatewarden_session_created_total", "Sessions created."},
	{gatewarden.MetricSessionInvalidated, "gatewarden_session_invalidated_total", "Sessions deactivated."},
	{gatewarden.MetricSessionEvicted, "gatewarden_session_evicted_total", "Sessions evicted by the concurrent cap."},
	{gatewarden.MetricLogout, "gatewarden_logout_total", "Single-session logouts."},
	{gatewarden.MetricLogoutAll, "gatewarden_logout_all_total", "Log-out-everywhere operations."},
	{gatewarden.MetricTwoFactorRequired, "gatewarden_twofactor_required_total", "Logins paused for a two-factor step."},
	{gatewarden.MetricTwoFactorSuccess, "gatewarden_twofactor_success_total", "Completed two-factor verifications."},
	{gatewarden.MetricTwoFactorFailure, "gatewarden_twofactor_failure_total", "Failed two-factor verifications."},
	{gatewarden.MetricBackupCodeUsed, "gatewarden_backup_code_used_total", "Backup codes consumed."},
	{gatewarden.MetricBackupCodeFailed, "gatewarden_backup_code_failed_total", "Rejected backup codes."},
	{gatewarden.MetricAPIKeySuccess, "gatewarden_apikey_success_total", "Successful API key verifications."},
	{gatewarden.MetricAPIKeyFailure, "gatewarden_apikey_failure_total", "Rejected API key verifications."},
	{gatewarden.MetricRateLimitHit, "gatewarden_rate_limit_hit_total", "Requests rejected by the rate limiter."},
	{gatewarden.MetricIPBlocked, "gatewarden_ip_blocked_total", "Requests rejected by the IP blocklist."},
	{gatewarden.MetricPasswordResetRequest, "gatewarden_password_reset_request_total", "Password reset tokens issued."},
	{gatewarden.MetricPasswordResetSuccess, "gatewarden_password_reset_success_total", "Password reset tokens consumed."},
	{gatewarden.MetricPasswordResetFailure, "gatewarden_password_reset_failure_total", "Rejected password reset tokens."},
	{gatewarden.MetricPasswordExpired, "gatewarden_password_expired_total", "Authentications rejected for password age."},
	{gatewarden.MetricBackendError, "gatewarden_backend_error_total", "Fail-closed backend read failures."},
}

type metricsSource interface {
	MetricsSnapshot() gatewarden.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         gatewarden.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter mirrors an engine's counters into otel instruments.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	auditDropped metric.Int64ObservableCounter
}

func NewExporter(meter metric.Meter, engine *gatewarden.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(counterDefs)),
	}

	observables := make([]metric.Observable, 0, len(counterDefs)+1)

	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"gatewarden_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	err := e.registration.Unregister()
	e.registration = nil
	return err
}
