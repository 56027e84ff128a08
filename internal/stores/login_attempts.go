package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const attemptRecordVersionV1 = 1

// ErrAttemptBackend wraps attempt-store transport failures. Recording is
// fire-and-forget at the caller, but the throttle's reads fail closed.
var ErrAttemptBackend = errors.New("login attempt backend unavailable")

// Attempt is one append-only login attempt row. Rows are never mutated.
type Attempt struct {
	Email   string
	IP      string
	Success bool
	Reason  string
	At      int64
}

// LoginAttemptStore records every login call and answers the throttle's
// recent-failure counting. Failures feed per-email and per-address sorted
// sets scored by timestamp; the full attempt history lives in a capped
// list purged by retention TTL.
type LoginAttemptStore struct {
	redis      redis.UniversalClient
	prefix     string
	retention  time.Duration
	maxHistory int64
}

func NewLoginAttemptStore(redisClient redis.UniversalClient, prefix string, retention time.Duration, maxHistory int64) *LoginAttemptStore {
	if prefix == "" {
		prefix = "gw"
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if maxHistory <= 0 {
		maxHistory = 10000
	}
	return &LoginAttemptStore{
		redis:      redisClient,
		prefix:     prefix,
		retention:  retention,
		maxHistory: maxHistory,
	}
}

func (s *LoginAttemptStore) historyKey() string {
	return s.prefix + ":la:log"
}

func (s *LoginAttemptStore) emailKey(email string) string {
	return s.prefix + ":la:e:" + strings.ToLower(email)
}

func (s *LoginAttemptStore) ipKey(ip string) string {
	return s.prefix + ":la:ip:" + ip
}

// Record appends the attempt. Failures additionally feed the throttle's
// counting sets. Callers on the login path must treat errors as loggable
// only, never as a reason to fail the login response.
func (s *LoginAttemptStore) Record(ctx context.Context, attempt Attempt) error {
	if attempt.At == 0 {
		attempt.At = time.Now().Unix()
	}

	encoded, err := encodeAttempt(&attempt)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, s.historyKey(), encoded)
	pipe.LTrim(ctx, s.historyKey(), 0, s.maxHistory-1)
	pipe.Expire(ctx, s.historyKey(), s.retention)

	if !attempt.Success {
		member := strconv.FormatInt(attempt.At, 10) + ":" + uuid.NewString()
		score := float64(attempt.At)
		if attempt.Email != "" {
			pipe.ZAdd(ctx, s.emailKey(attempt.Email), redis.Z{Score: score, Member: member})
			pipe.Expire(ctx, s.emailKey(attempt.Email), s.retention)
		}
		if attempt.IP != "" {
			pipe.ZAdd(ctx, s.ipKey(attempt.IP), redis.Z{Score: score, Member: member})
			pipe.Expire(ctx, s.ipKey(attempt.IP), s.retention)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	return nil
}

// FailureCounts returns the number of failed attempts within the trailing
// window for the email and for the source address, pruning entries that
// have aged past the window.
func (s *LoginAttemptStore) FailureCounts(ctx context.Context, email, ip string, window time.Duration) (emailCount, ipCount int64, err error) {
	cutoff := time.Now().Add(-window).Unix()

	if email != "" {
		emailCount, err = s.countSince(ctx, s.emailKey(email), cutoff)
		if err != nil {
			return 0, 0, err
		}
	}
	if ip != "" {
		ipCount, err = s.countSince(ctx, s.ipKey(ip), cutoff)
		if err != nil {
			return 0, 0, err
		}
	}
	return emailCount, ipCount, nil
}

// OldestFailure returns the timestamp of the oldest failure still inside
// the window for whichever of email/ip has one; ok is false when neither
// key holds an in-window failure. The throttle derives Retry-After from it.
func (s *LoginAttemptStore) OldestFailure(ctx context.Context, email, ip string, window time.Duration) (time.Time, bool, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-window).Unix(), 10)

	oldest := int64(0)
	for _, key := range []string{s.emailKey(email), s.ipKey(ip)} {
		zs, err := s.redis.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min:   cutoff,
			Max:   "+inf",
			Count: 1,
		}).Result()
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %v", ErrAttemptBackend, err)
		}
		if len(zs) == 0 {
			continue
		}
		at := int64(zs[0].Score)
		if oldest == 0 || at < oldest {
			oldest = at
		}
	}

	if oldest == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(oldest, 0), true, nil
}

// Recent returns up to limit most recent attempt rows, newest first.
func (s *LoginAttemptStore) Recent(ctx context.Context, limit int64) ([]Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.redis.LRange(ctx, s.historyKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}

	attempts := make([]Attempt, 0, len(rows))
	for _, row := range rows {
		attempt, err := decodeAttempt([]byte(row))
		if err != nil {
			continue
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, nil
}

func (s *LoginAttemptStore) countSince(ctx context.Context, key string, cutoff int64) (int64, error) {
	pipe := s.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	return count.Val(), nil
}

func encodeAttempt(attempt *Attempt) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(attemptRecordVersionV1)
	if attempt.Success {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, attempt.At); err != nil {
		return nil, err
	}
	for _, s := range []string{attempt.Email, attempt.IP, attempt.Reason} {
		if len(s) > 65535 {
			return nil, errors.New("attempt field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}

	return buf.Bytes(), nil
}

func decodeAttempt(data []byte) (*Attempt, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != attemptRecordVersionV1 {
		return nil, errors.New("invalid attempt record version")
	}

	success, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	attempt := &Attempt{Success: success == 1}
	if err := binary.Read(reader, binary.BigEndian, &attempt.At); err != nil {
		return nil, err
	}
	for _, s := range []*string{&attempt.Email, &attempt.IP, &attempt.Reason} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*s = string(raw)
	}

	return attempt, nil
}
