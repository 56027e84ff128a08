package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no session record matches the token hash.
var ErrNotFound = errors.New("session not found")

// ErrBackendUnavailable wraps every backend transport failure.
var ErrBackendUnavailable = errors.New("session backend unavailable")

// Store is the Redis-backed session store. Records are keyed by token
// hash, with a per-identity sorted index (score = creation time) for
// ordered enumeration and cap pruning.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// Entry pairs a record with the token hash it is stored under.
type Entry struct {
	TokenHash [32]byte
	Record    *Record
}

// NewStore creates a session Store. prefix namespaces all keys; retention
// is how long invalidated or expired records stay readable before the
// backend purges them.
func NewStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "gw"
	}
	if retention < 0 {
		retention = 0
	}
	return &Store{redis: redisClient, prefix: prefix, retention: retention}
}

func (s *Store) recordKey(hash [32]byte) string {
	return s.prefix + ":s:" + hex.EncodeToString(hash[:])
}

func (s *Store) indexKey(identityID string) string {
	return s.prefix + ":u:" + identityID
}

// Create persists a new session record under the token hash and adds it to
// the identity index. Existing sessions are left untouched; the concurrent
// session cap is enforced by the caller.
func (s *Store) Create(ctx context.Context, tokenHash [32]byte, record *Record) error {
	encoded, err := encodeRecord(record)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(record.ExpiresAt, 0)) + s.retention
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.recordKey(tokenHash), encoded, ttl)
	pipe.ZAdd(ctx, s.indexKey(record.IdentityID), redis.Z{
		Score:  float64(record.CreatedAt),
		Member: hex.EncodeToString(tokenHash[:]),
	})
	pipe.Expire(ctx, s.indexKey(record.IdentityID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return nil
}

// GetByTokenHash fetches the record stored under hash.
func (s *Store) GetByTokenHash(ctx context.Context, tokenHash [32]byte) (*Record, error) {
	data, err := s.redis.Get(ctx, s.recordKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return decodeRecord(data)
}

// Touch refreshes the record's last-activity timestamp. Callers treat it
// as best-effort; a missing record is not an error.
func (s *Store) Touch(ctx context.Context, tokenHash [32]byte, now time.Time) error {
	return s.update(ctx, tokenHash, func(r *Record) {
		r.LastSeenAt = now.Unix()
	})
}

// MarkTwoFactorDone records completion of the two-factor step on the session.
func (s *Store) MarkTwoFactorDone(ctx context.Context, tokenHash [32]byte) error {
	return s.update(ctx, tokenHash, func(r *Record) {
		r.TwoFactorDone = true
	})
}

// Invalidate deactivates the session stored under hash. Invalidating a
// missing or already-inactive session succeeds; concurrent calls are
// idempotent.
func (s *Store) Invalidate(ctx context.Context, tokenHash [32]byte) error {
	err := s.update(ctx, tokenHash, func(r *Record) {
		r.Active = false
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// InvalidateAllForIdentity deactivates every session of the identity except
// the optionally excluded token hash ("log out everywhere"). It returns the
// number of sessions deactivated.
func (s *Store) InvalidateAllForIdentity(ctx context.Context, identityID string, except *[32]byte) (int, error) {
	entries, err := s.entries(ctx, identityID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if except != nil && entry.TokenHash == *except {
			continue
		}
		if !entry.Record.Active {
			continue
		}
		if err := s.Invalidate(ctx, entry.TokenHash); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ActiveByIdentity returns the identity's live sessions ordered oldest
// first. Index members whose record has been purged are dropped from the
// index as a side effect.
func (s *Store) ActiveByIdentity(ctx context.Context, identityID string, now time.Time) ([]Entry, error) {
	entries, err := s.entries(ctx, identityID)
	if err != nil {
		return nil, err
	}

	live := entries[:0]
	for _, entry := range entries {
		if entry.Record.Live(now) {
			live = append(live, entry)
		}
	}
	return live, nil
}

func (s *Store) entries(ctx context.Context, identityID string) ([]Entry, error) {
	members, err := s.redis.ZRange(ctx, s.indexKey(identityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	entries := make([]Entry, 0, len(members))
	for _, member := range members {
		raw, err := hex.DecodeString(member)
		if err != nil || len(raw) != 32 {
			_ = s.redis.ZRem(ctx, s.indexKey(identityID), member).Err()
			continue
		}
		var hash [32]byte
		copy(hash[:], raw)

		record, err := s.GetByTokenHash(ctx, hash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Record purged by TTL; drop the stale index member.
				_ = s.redis.ZRem(ctx, s.indexKey(identityID), member).Err()
				continue
			}
			return nil, err
		}
		entries = append(entries, Entry{TokenHash: hash, Record: record})
	}
	return entries, nil
}

func (s *Store) update(ctx context.Context, tokenHash [32]byte, mutate func(*Record)) error {
	key := s.recordKey(tokenHash)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		return err
	}
	mutate(record)

	encoded, err := encodeRecord(record)
	if err != nil {
		return err
	}

	ttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if ttl <= 0 {
		return ErrNotFound
	}

	if err := s.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
