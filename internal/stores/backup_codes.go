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

const backupBatchVersionV1 = 1

var (
	// ErrBackupCodeInvalid is returned when no unused code matches.
	ErrBackupCodeInvalid = errors.New("backup code invalid")
	// ErrBackupCodesMissing is returned when the identity has no batch.
	ErrBackupCodesMissing = errors.New("backup codes not configured")
	// ErrBackupBackend wraps transport failures.
	ErrBackupBackend = errors.New("backup code backend unavailable")
)

// BackupCode is one single-use recovery code inside a batch.
type BackupCode struct {
	Hash   [32]byte
	UsedAt int64 // 0 = unused
}

// BackupCodeStore holds per-identity batches of hashed recovery codes.
// Enabling two-factor replaces the whole batch; verification consumes
// exactly one unused code atomically.
type BackupCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewBackupCodeStore(redisClient redis.UniversalClient, prefix string) *BackupCodeStore {
	if prefix == "" {
		prefix = "gw"
	}
	return &BackupCodeStore{redis: redisClient, prefix: prefix}
}

func (s *BackupCodeStore) key(identityID string) string {
	return s.prefix + ":bak:" + identityID
}

// ReplaceBatch discards any prior batch and stores the given code hashes.
func (s *BackupCodeStore) ReplaceBatch(ctx context.Context, identityID string, hashes [][32]byte) error {
	batch := make([]BackupCode, len(hashes))
	for i, h := range hashes {
		batch[i] = BackupCode{Hash: h}
	}

	encoded, err := encodeBackupBatch(batch)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(identityID), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupBackend, err)
	}
	return nil
}

// Delete removes the identity's batch entirely.
func (s *BackupCodeStore) Delete(ctx context.Context, identityID string) error {
	if err := s.redis.Del(ctx, s.key(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupBackend, err)
	}
	return nil
}

// UnusedCount returns how many codes in the batch remain consumable.
func (s *BackupCodeStore) UnusedCount(ctx context.Context, identityID string) (int, error) {
	data, err := s.redis.Get(ctx, s.key(identityID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackupBackend, err)
	}

	batch, err := decodeBackupBatch(data)
	if err != nil {
		return 0, err
	}

	unused := 0
	for _, code := range batch {
		if code.UsedAt == 0 {
			unused++
		}
	}
	return unused, nil
}

// VerifyAndConsume confirms the presented hash matches an unused code and
// marks that code used in the same optimistic transaction. Two concurrent
// consumers of the same code cannot both succeed: the loser's transaction
// fails on the watch and its retry sees the code already used.
func (s *BackupCodeStore) VerifyAndConsume(ctx context.Context, identityID string, providedHash [32]byte) error {
	const maxRetries = 4
	key := s.key(identityID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			batch, err := decodeBackupBatch(data)
			if err != nil {
				return err
			}

			matched := -1
			for idx := range batch {
				if batch[idx].UsedAt != 0 {
					continue
				}
				if subtle.ConstantTimeCompare(batch[idx].Hash[:], providedHash[:]) == 1 {
					matched = idx
					break
				}
			}
			if matched < 0 {
				return ErrBackupCodeInvalid
			}

			batch[matched].UsedAt = time.Now().Unix()
			updated, err := encodeBackupBatch(batch)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return ErrBackupCodesMissing
			case errors.Is(err, ErrBackupCodeInvalid):
				return err
			default:
				return fmt.Errorf("%w: %v", ErrBackupBackend, err)
			}
		}
		return nil
	}

	return ErrBackupCodeInvalid
}

func encodeBackupBatch(batch []BackupCode) ([]byte, error) {
	if len(batch) > 255 {
		return nil, errors.New("backup batch too large")
	}

	var buf bytes.Buffer
	buf.WriteByte(backupBatchVersionV1)
	buf.WriteByte(byte(len(batch)))
	for _, code := range batch {
		buf.Write(code.Hash[:])
		if err := binary.Write(&buf, binary.BigEndian, code.UsedAt); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeBackupBatch(data []byte) ([]BackupCode, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != backupBatchVersionV1 {
		return nil, errors.New("invalid backup batch version")
	}

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	batch := make([]BackupCode, count)
	for i := range batch {
		if _, err := io.ReadFull(reader, batch[i].Hash[:]); err != nil {
			return nil, err
		}
		if err := binary.Read(reader, binary.BigEndian, &batch[i].UsedAt); err != nil {
			return nil, err
		}
	}

	return batch, nil
}
