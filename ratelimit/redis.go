package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBackendUnavailable wraps Redis transport failures.
var ErrBackendUnavailable = errors.New("rate limit backend unavailable")

// RedisStore is the shared counter backend for multi-instance
// deployments. Fixed windows are INCR counters whose TTL marks the window
// boundary; sliding logs are timestamp-scored sorted sets.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gw"
	}
	return &RedisStore{redis: redisClient, prefix: prefix}
}

func (s *RedisStore) windowKey(key string) string {
	return s.prefix + ":rl:w:" + key
}

func (s *RedisStore) logKey(key string) string {
	return s.prefix + ":rl:l:" + key
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := s.windowKey(key)

	count, err := s.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// TTL is set only on the first hit; its remaining value is the
	// window boundary for every later hit.
	if count == 1 {
		if err := s.redis.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return count, time.Now().Add(window), nil
	}

	ttl, err := s.redis.PTTL(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if ttl <= 0 {
		// A counter without expiry means the first hit's PExpire was lost;
		// re-arm rather than leaking an immortal window.
		_ = s.redis.PExpire(ctx, k, window).Err()
		ttl = window
	}
	return count, time.Now().Add(ttl), nil
}

func (s *RedisStore) DecrWindow(ctx context.Context, key string) error {
	count, err := s.redis.Decr(ctx, s.windowKey(key)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count < 0 {
		_ = s.redis.Del(ctx, s.windowKey(key)).Err()
	}
	return nil
}

func (s *RedisStore) AppendLog(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := s.logKey(key)
	now := time.Now()
	cutoff := now.Add(-window).UnixNano()

	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString(),
	})
	pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, k)
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	oldest := now
	zs, err := s.redis.ZRangeWithScores(ctx, k, 0, 0).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(zs) > 0 {
		oldest = time.Unix(0, int64(zs[0].Score))
	}

	return card.Val(), oldest, nil
}

func (s *RedisStore) TrimNewest(ctx context.Context, key string) error {
	if err := s.redis.ZRemRangeByRank(ctx, s.logKey(key), -1, -1).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
