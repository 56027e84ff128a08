package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const apiKeyVersionV1 = 1

var (
	// ErrAPIKeyNotFound means no record matches the id or hash.
	ErrAPIKeyNotFound = errors.New("api key not found")
	// ErrAPIKeyBackend wraps transport failures.
	ErrAPIKeyBackend = errors.New("api key backend unavailable")
)

// APIKeyRecord is a long-lived, session-independent credential. Only the
// hash and display prefix of the secret are ever stored; records are
// revoked by flipping Active, never deleted, so usage history survives.
type APIKeyRecord struct {
	ID          string
	Name        string
	Hash        [32]byte
	Prefix      string
	Permissions string // storage-edge encoding of a permission.Set
	CreatedBy   string
	CreatedAt   int64
	ExpiresAt   int64 // 0 = never
	Active      bool
	LastUsedAt  int64
	UseCount    uint64
}

// APIKeyStore persists API key records with a hash index for O(1)
// verification lookups.
type APIKeyStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAPIKeyStore(redisClient redis.UniversalClient, prefix string) *APIKeyStore {
	if prefix == "" {
		prefix = "gw"
	}
	return &APIKeyStore{redis: redisClient, prefix: prefix}
}

func (s *APIKeyStore) recordKey(id string) string {
	return s.prefix + ":key:" + id
}

func (s *APIKeyStore) hashKey(hash [32]byte) string {
	return s.prefix + ":key:h:" + hex.EncodeToString(hash[:])
}

func (s *APIKeyStore) allKey() string {
	return s.prefix + ":key:all"
}

// Save persists the record and its hash index entry.
func (s *APIKeyStore) Save(ctx context.Context, record *APIKeyRecord) error {
	encoded, err := encodeAPIKeyRecord(record)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.recordKey(record.ID), encoded, 0)
	pipe.Set(ctx, s.hashKey(record.Hash), record.ID, 0)
	pipe.SAdd(ctx, s.allKey(), record.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAPIKeyBackend, err)
	}
	return nil
}

// GetByID fetches a record by identifier.
func (s *APIKeyStore) GetByID(ctx context.Context, id string) (*APIKeyRecord, error) {
	data, err := s.redis.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAPIKeyBackend, err)
	}
	return decodeAPIKeyRecord(data)
}

// GetByHash resolves the presented secret's hash to its record.
func (s *APIKeyStore) GetByHash(ctx context.Context, hash [32]byte) (*APIKeyRecord, error) {
	id, err := s.redis.Get(ctx, s.hashKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAPIKeyBackend, err)
	}
	return s.GetByID(ctx, id)
}

// SetActive flips the record's active flag.
func (s *APIKeyStore) SetActive(ctx context.Context, id string, active bool) error {
	record, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	record.Active = active

	encoded, err := encodeAPIKeyRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.recordKey(id), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAPIKeyBackend, err)
	}
	return nil
}

// RecordUsage bumps last-used and the usage counter. Lost updates under
// concurrency only undercount statistics; verification never depends on it.
func (s *APIKeyStore) RecordUsage(ctx context.Context, id string, at time.Time) error {
	record, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	record.LastUsedAt = at.Unix()
	record.UseCount++

	encoded, err := encodeAPIKeyRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.recordKey(id), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAPIKeyBackend, err)
	}
	return nil
}

// List returns every stored record.
func (s *APIKeyStore) List(ctx context.Context) ([]*APIKeyRecord, error) {
	ids, err := s.redis.SMembers(ctx, s.allKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIKeyBackend, err)
	}

	records := make([]*APIKeyRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAPIKeyNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func encodeAPIKeyRecord(record *APIKeyRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(apiKeyVersionV1)
	if record.Active {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	for _, v := range []int64{record.CreatedAt, record.ExpiresAt, record.LastUsedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, record.UseCount); err != nil {
		return nil, err
	}
	for _, s := range []string{record.ID, record.Name, record.Prefix, record.Permissions, record.CreatedBy} {
		if len(s) > 65535 {
			return nil, errors.New("api key field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}
	buf.Write(record.Hash[:])

	return buf.Bytes(), nil
}

func decodeAPIKeyRecord(data []byte) (*APIKeyRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != apiKeyVersionV1 {
		return nil, errors.New("invalid api key record version")
	}

	active, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &APIKeyRecord{Active: active == 1}
	for _, v := range []*int64{&record.CreatedAt, &record.ExpiresAt, &record.LastUsedAt} {
		if err := binary.Read(reader, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(reader, binary.BigEndian, &record.UseCount); err != nil {
		return nil, err
	}
	for _, s := range []*string{&record.ID, &record.Name, &record.Prefix, &record.Permissions, &record.CreatedBy} {
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
	if _, err := io.ReadFull(reader, record.Hash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
