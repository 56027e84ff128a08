package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const resetRecordVersionV1 = 1

var (
	// ErrResetNotFound covers missing, expired, and already-consumed tokens.
	ErrResetNotFound = errors.New("reset token not found")
	// ErrResetMismatch is returned when the presented secret does not hash
	// to the stored value.
	ErrResetMismatch = errors.New("reset secret mismatch")
	// ErrResetBackend wraps transport failures.
	ErrResetBackend = errors.New("reset backend unavailable")
)

// ResetRecord is a single-use password-reset token row.
type ResetRecord struct {
	IdentityID string
	SecretHash [32]byte
	ExpiresAt  int64
}

// ResetTokenStore persists password-reset tokens. Consumption is atomic:
// the record is deleted in the same transaction that validates it, so a
// second concurrent consumer of the same token always fails.
type ResetTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewResetTokenStore(redisClient redis.UniversalClient, prefix string) *ResetTokenStore {
	if prefix == "" {
		prefix = "gw"
	}
	return &ResetTokenStore{redis: redisClient, prefix: prefix}
}

func (s *ResetTokenStore) key(resetID string) string {
	return s.prefix + ":rst:" + resetID
}

// Save stores the record under resetID with the given TTL.
func (s *ResetTokenStore) Save(ctx context.Context, resetID string, record *ResetRecord, ttl time.Duration) error {
	encoded, err := encodeResetRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(resetID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetBackend, err)
	}
	return nil
}

// Consume validates the presented secret hash against the stored record
// and deletes the record in one optimistic transaction. Exactly one of two
// concurrent consumers can succeed.
func (s *ResetTokenStore) Consume(ctx context.Context, resetID string, providedHash [32]byte) (*ResetRecord, error) {
	const maxRetries = 4
	key := s.key(resetID)

	for i := 0; i < maxRetries; i++ {
		var matched *ResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeResetRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() >= record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetNotFound
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				return ErrResetMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetNotFound), errors.Is(err, ErrResetMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetBackend, err)
			}
		}

		return matched, nil
	}

	return nil, ErrResetNotFound
}

func encodeResetRecord(record *ResetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if len(record.IdentityID) > 65535 {
		return nil, errors.New("reset record identity id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.IdentityID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.IdentityID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeResetRecord(data []byte) (*ResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	record := &ResetRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	identity := make([]byte, n)
	if _, err := io.ReadFull(reader, identity); err != nil {
		return nil, err
	}
	record.IdentityID = string(identity)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
