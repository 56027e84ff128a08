package stores

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func hashOf(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func ctxb() context.Context {
	return context.Background()
}

func futureUnix(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}
