package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRevocationBackend wraps revocation-list transport failures. The gate
// fails closed on it: an unreadable revocation list rejects the request.
var ErrRevocationBackend = errors.New("revocation backend unavailable")

// RevocationStore is the token-hash blacklist consulted before signature
// verification. Entries carry a TTL equal to the revoked token's remaining
// natural life, after which the codec's own expiry check takes over.
type RevocationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRevocationStore(redisClient redis.UniversalClient, prefix string) *RevocationStore {
	if prefix == "" {
		prefix = "gw"
	}
	return &RevocationStore{redis: redisClient, prefix: prefix}
}

func (s *RevocationStore) key(tokenHash [32]byte) string {
	return s.prefix + ":rvk:" + hex.EncodeToString(tokenHash[:])
}

// Revoke blacklists the token hash for the given remaining lifetime.
func (s *RevocationStore) Revoke(ctx context.Context, tokenHash [32]byte, remaining time.Duration) error {
	if remaining <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.key(tokenHash), "1", remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}
	return nil
}

// IsRevoked reports whether the token hash is on the blacklist.
func (s *RevocationStore) IsRevoked(ctx context.Context, tokenHash [32]byte) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}
	return n > 0, nil
}
