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

const (
	enrollmentVersionV1 = 1
	challengeVersionV1  = 1
)

var (
	// ErrTwoFactorNotEnrolled means the identity has no TOTP enrollment.
	ErrTwoFactorNotEnrolled = errors.New("two-factor not enrolled")
	// ErrChallengeNotFound covers missing and replaced temp challenges.
	ErrChallengeNotFound = errors.New("two-factor challenge not found")
	// ErrChallengeExpired means the temp challenge's hard TTL has lapsed.
	ErrChallengeExpired = errors.New("two-factor challenge expired")
	// ErrChallengeExceeded means the challenge burned its attempt budget.
	ErrChallengeExceeded = errors.New("two-factor challenge attempts exceeded")
	// ErrTwoFactorBackend wraps transport failures.
	ErrTwoFactorBackend = errors.New("two-factor backend unavailable")
)

// Enrollment is an identity's TOTP configuration.
type Enrollment struct {
	Secret      string
	Enabled     bool
	ConfirmedAt int64
}

// Challenge is a temporary two-factor token issued between the password
// step and the code step of a login. At most one lives per identity.
type Challenge struct {
	IdentityID string
	SecretHash [32]byte
	IP         string
	ExpiresAt  int64
	Attempts   uint16
}

// TwoFactorStore persists TOTP enrollments and temp login challenges.
type TwoFactorStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTwoFactorStore(redisClient redis.UniversalClient, prefix string) *TwoFactorStore {
	if prefix == "" {
		prefix = "gw"
	}
	return &TwoFactorStore{redis: redisClient, prefix: prefix}
}

func (s *TwoFactorStore) enrollKey(identityID string) string {
	return s.prefix + ":2fa:" + identityID
}

func (s *TwoFactorStore) challengeKey(challengeID string) string {
	return s.prefix + ":tmp:c:" + challengeID
}

func (s *TwoFactorStore) ownerKey(identityID string) string {
	return s.prefix + ":tmp:id:" + identityID
}

// SaveEnrollment stores the identity's TOTP configuration.
func (s *TwoFactorStore) SaveEnrollment(ctx context.Context, identityID string, enrollment *Enrollment) error {
	encoded, err := encodeEnrollment(enrollment)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.enrollKey(identityID), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorBackend, err)
	}
	return nil
}

// GetEnrollment returns the identity's TOTP configuration.
func (s *TwoFactorStore) GetEnrollment(ctx context.Context, identityID string) (*Enrollment, error) {
	data, err := s.redis.Get(ctx, s.enrollKey(identityID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTwoFactorNotEnrolled
		}
		return nil, fmt.Errorf("%w: %v", ErrTwoFactorBackend, err)
	}
	return decodeEnrollment(data)
}

// Enabled reports whether the identity has a confirmed, enabled enrollment.
func (s *TwoFactorStore) Enabled(ctx context.Context, identityID string) (bool, error) {
	enrollment, err := s.GetEnrollment(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrTwoFactorNotEnrolled) {
			return false, nil
		}
		return false, err
	}
	return enrollment.Enabled, nil
}

// DeleteEnrollment removes the identity's TOTP configuration.
func (s *TwoFactorStore) DeleteEnrollment(ctx context.Context, identityID string) error {
	if err := s.redis.Del(ctx, s.enrollKey(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorBackend, err)
	}
	return nil
}

// SaveChallenge stores a temp challenge under challengeID, replacing any
// prior live challenge for the same identity. The replaced challenge is
// deleted, so its token can no longer verify.
func (s *TwoFactorStore) SaveChallenge(ctx context.Context, challengeID string, challenge *Challenge, ttl time.Duration) error {
	prior, err := s.redis.Get(ctx, s.ownerKey(challenge.IdentityID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrTwoFactorBackend, err)
	}

	encoded, err := encodeChallenge(challenge)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	if prior != "" {
		pipe.Del(ctx, s.challengeKey(prior))
	}
	pipe.Set(ctx, s.challengeKey(challengeID), encoded, ttl)
	pipe.Set(ctx, s.ownerKey(challenge.IdentityID), challengeID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorBackend, err)
	}
	return nil
}

// GetChallenge fetches a live challenge and checks the presented secret
// hash. Expired challenges are removed on read.
func (s *TwoFactorStore) GetChallenge(ctx context.Context, challengeID string, providedHash [32]byte) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.challengeKey(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTwoFactorBackend, err)
	}

	challenge, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() >= challenge.ExpiresAt {
		_ = s.DeleteChallenge(ctx, challengeID, challenge.IdentityID)
		return nil, ErrChallengeExpired
	}
	if subtle.ConstantTimeCompare(challenge.SecretHash[:], providedHash[:]) != 1 {
		return nil, ErrChallengeNotFound
	}

	return challenge, nil
}

// DeleteChallenge removes the challenge and its per-identity owner pointer.
func (s *TwoFactorStore) DeleteChallenge(ctx context.Context, challengeID, identityID string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.challengeKey(challengeID))
	pipe.Del(ctx, s.ownerKey(identityID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTwoFactorBackend, err)
	}
	return nil
}

// RecordFailure bumps the challenge's attempt counter atomically, deleting
// the challenge once maxAttempts is reached. It returns true when the
// budget is exhausted.
func (s *TwoFactorStore) RecordFailure(ctx context.Context, challengeID, identityID string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.challengeKey(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			challenge, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(challenge.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.Del(ctx, s.ownerKey(identityID))
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			challenge.Attempts++
			if int(challenge.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.Del(ctx, s.ownerKey(identityID))
					return nil
				})
				return err
			}

			updated, err := encodeChallenge(challenge)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
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
				return false, ErrChallengeNotFound
			case errors.Is(err, ErrChallengeExpired):
				return false, err
			default:
				return false, fmt.Errorf("%w: %v", ErrTwoFactorBackend, err)
			}
		}
		return exceeded, nil
	}

	return false, ErrChallengeNotFound
}

func encodeEnrollment(enrollment *Enrollment) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(enrollmentVersionV1)
	if enrollment.Enabled {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, enrollment.ConfirmedAt); err != nil {
		return nil, err
	}
	if len(enrollment.Secret) > 65535 {
		return nil, errors.New("enrollment secret too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(enrollment.Secret))); err != nil {
		return nil, err
	}
	buf.WriteString(enrollment.Secret)

	return buf.Bytes(), nil
}

func decodeEnrollment(data []byte) (*Enrollment, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != enrollmentVersionV1 {
		return nil, errors.New("invalid enrollment version")
	}

	enabled, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	enrollment := &Enrollment{Enabled: enabled == 1}
	if err := binary.Read(reader, binary.BigEndian, &enrollment.ConfirmedAt); err != nil {
		return nil, err
	}

	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	secret := make([]byte, n)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, err
	}
	enrollment.Secret = string(secret)

	return enrollment, nil
}

func encodeChallenge(challenge *Challenge) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, challenge.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, challenge.ExpiresAt); err != nil {
		return nil, err
	}
	for _, s := range []string{challenge.IdentityID, challenge.IP} {
		if len(s) > 65535 {
			return nil, errors.New("challenge field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}
	buf.Write(challenge.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeVersionV1 {
		return nil, errors.New("invalid challenge version")
	}

	challenge := &Challenge{}
	if err := binary.Read(reader, binary.BigEndian, &challenge.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &challenge.ExpiresAt); err != nil {
		return nil, err
	}
	for _, s := range []*string{&challenge.IdentityID, &challenge.IP} {
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
	if _, err := io.ReadFull(reader, challenge.SecretHash[:]); err != nil {
		return nil, err
	}

	return challenge, nil
}
