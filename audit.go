package gatewarden

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event types emitted by the engine.
const (
	EventLoginSuccess       = "login.success"
	EventLoginFailure       = "login.failure"
	EventLoginLocked        = "login.locked"
	EventLogout             = "logout"
	EventLogoutAll          = "logout.all"
	EventSessionEvicted     = "session.evicted"
	EventTokenRevoked       = "token.revoked"
	EventTwoFactorEnrolled  = "twofactor.enrolled"
	EventTwoFactorVerified  = "twofactor.verified"
	EventTwoFactorFailed    = "twofactor.failed"
	EventTwoFactorDisabled  = "twofactor.disabled"
	EventBackupCodeUsed     = "twofactor.backup_used"
	EventAPIKeyCreated      = "apikey.created"
	EventAPIKeyRevoked      = "apikey.revoked"
	EventAPIKeyUsed         = "apikey.used"
	EventIPBlocked          = "ip.blocked"
	EventIPUnblocked        = "ip.unblocked"
	EventPasswordResetStart = "password_reset.requested"
	EventPasswordResetDone  = "password_reset.completed"
	EventRateLimited        = "rate.limited"

	// EventAuditGap is synthesized by the dispatcher itself when buffered
	// events were shed under backpressure. Its metadata carries the count
	// of lost events.
	EventAuditGap = "audit.gap"
)

// AuditEvent is one security-relevant occurrence. Events are emitted
// asynchronously and must never carry secrets.
type AuditEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	IdentityID string            `json:"identity_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the dispatcher. Emit must not block
// for long; slow sinks cause drops under DropIfFull.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink exposes events on a channel for the host to consume.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
