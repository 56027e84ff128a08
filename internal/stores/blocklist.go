package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const blockRecordVersionV1 = 1

// ErrBlocklistBackend wraps blocklist transport failures.
var ErrBlocklistBackend = errors.New("blocklist backend unavailable")

// BlockRecord describes an explicitly blocked source address.
type BlockRecord struct {
	Address   string
	Reason    string
	BlockedBy string
	CreatedAt int64
	ExpiresAt int64 // 0 = permanent
}

// BlocklistStore holds admin-created IP blocks. A permanent block has no
// TTL; a timed block lapses when its backend TTL fires.
type BlocklistStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewBlocklistStore(redisClient redis.UniversalClient, prefix string) *BlocklistStore {
	if prefix == "" {
		prefix = "gw"
	}
	return &BlocklistStore{redis: redisClient, prefix: prefix}
}

func (s *BlocklistStore) key(address string) string {
	return s.prefix + ":blk:" + address
}

// Block records the address. A zero ttl makes the block permanent.
func (s *BlocklistStore) Block(ctx context.Context, address, reason, blockedBy string, ttl time.Duration) error {
	now := time.Now()
	record := &BlockRecord{
		Address:   address,
		Reason:    reason,
		BlockedBy: blockedBy,
		CreatedAt: now.Unix(),
	}
	if ttl > 0 {
		record.ExpiresAt = now.Add(ttl).Unix()
	}

	encoded, err := encodeBlockRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(address), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlocklistBackend, err)
	}
	return nil
}

// Unblock removes the address. Unblocking an unknown address succeeds.
func (s *BlocklistStore) Unblock(ctx context.Context, address string) error {
	if err := s.redis.Del(ctx, s.key(address)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlocklistBackend, err)
	}
	return nil
}

// Get returns the block record for the address, or nil when not blocked.
func (s *BlocklistStore) Get(ctx context.Context, address string) (*BlockRecord, error) {
	data, err := s.redis.Get(ctx, s.key(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBlocklistBackend, err)
	}
	return decodeBlockRecord(data)
}

// IsBlocked reports whether the address is currently blocked.
func (s *BlocklistStore) IsBlocked(ctx context.Context, address string) (bool, error) {
	record, err := s.Get(ctx, address)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

func encodeBlockRecord(record *BlockRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(blockRecordVersionV1)
	for _, ts := range []int64{record.CreatedAt, record.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}
	for _, s := range []string{record.Address, record.Reason, record.BlockedBy} {
		if len(s) > 65535 {
			return nil, errors.New("block record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}

	return buf.Bytes(), nil
}

func decodeBlockRecord(data []byte) (*BlockRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != blockRecordVersionV1 {
		return nil, errors.New("invalid block record version")
	}

	record := &BlockRecord{}
	for _, ts := range []*int64{&record.CreatedAt, &record.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}
	for _, s := range []*string{&record.Address, &record.Reason, &record.BlockedBy} {
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

	return record, nil
}
