package gatewarden

import (
	"context"
	"time"
)

// BlockIP adds an address to the blocklist. A zero ttl blocks
// permanently; otherwise the block lapses on its own at expiry.
func (e *Engine) BlockIP(ctx context.Context, address, reason, blockedBy string, ttl time.Duration) error {
	if err := e.blocklist.Block(ctx, address, reason, blockedBy, ttl); err != nil {
		return e.failClosed()
	}

	e.metricInc(MetricIPBlocked)
	e.emitAudit(ctx, EventIPBlocked, true, blockedBy, "", nil, map[string]string{
		"address": address,
		"reason":  reason,
	})

	return nil
}

// UnblockIP removes an address from the blocklist. Unblocking an
// address that is not blocked is a no-op.
func (e *Engine) UnblockIP(ctx context.Context, address string) error {
	if err := e.blocklist.Unblock(ctx, address); err != nil {
		return e.failClosed()
	}

	e.emitAudit(ctx, EventIPUnblocked, true, "", "", nil, map[string]string{"address": address})

	return nil
}

// IsIPBlocked reports whether an address is currently blocked.
func (e *Engine) IsIPBlocked(ctx context.Context, address string) (bool, error) {
	blocked, err := e.blocklist.IsBlocked(ctx, address)
	if err != nil {
		return false, e.failClosed()
	}
	return blocked, nil
}

// BlockedIP returns the block entry for an address, or nil when the
// address is not blocked.
func (e *Engine) BlockedIP(ctx context.Context, address string) (*BlockedIP, error) {
	record, err := e.blocklist.Get(ctx, address)
	if err != nil {
		return nil, e.failClosed()
	}
	if record == nil {
		return nil, nil
	}

	entry := &BlockedIP{
		Address:   record.Address,
		Reason:    record.Reason,
		BlockedBy: record.BlockedBy,
		CreatedAt: time.Unix(record.CreatedAt, 0),
	}
	if record.ExpiresAt != 0 {
		entry.ExpiresAt = time.Unix(record.ExpiresAt, 0)
	}
	return entry, nil
}
