package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// ChallengeID identifies a short-lived security record (temporary
// two-factor challenges, password-reset tokens).
type ChallengeID [16]byte

const (
	challengeSecretSize = 32
	challengeTokenSize  = 16 + challengeSecretSize
	apiKeySecretSize    = 32
)

func NewChallengeID() (ChallengeID, error) {
	var id ChallengeID
	_, err := rand.Read(id[:])
	return id, err
}

func (c ChallengeID) String() string {
	return base64.RawURLEncoding.EncodeToString(c[:])
}

func ParseChallengeID(s string) (ChallengeID, error) {
	var id ChallengeID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid challenge id size")
	}

	copy(id[:], raw)
	return id, nil
}

func NewChallengeSecret() ([challengeSecretSize]byte, error) {
	var secret [challengeSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// EncodeChallengeToken packs a challenge id and its secret into the single
// opaque string handed to the caller. Only the secret's hash is persisted.
func EncodeChallengeToken(id ChallengeID, secret [challengeSecretSize]byte) string {
	var raw [challengeTokenSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func DecodeChallengeToken(token string) (ChallengeID, [challengeSecretSize]byte, error) {
	var id ChallengeID
	var secret [challengeSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, err
	}
	if len(raw) != challengeTokenSize {
		return id, secret, errors.New("invalid challenge token size")
	}

	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}

// HashSecret is the fixed one-way function applied to every bearer secret
// before it is persisted or used as a lookup key.
func HashSecret(value string) [32]byte {
	return sha256.Sum256([]byte(value))
}

func HashSecretBytes(value []byte) [32]byte {
	return sha256.Sum256(value)
}

func HashesEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// NewAPIKeySecret returns a new high-entropy API key with the given
// human-readable prefix, e.g. "gw_dGhlc2UgYXJlIG5vdCB0aGUgYnl0ZXM".
func NewAPIKeySecret(prefix string) (string, error) {
	var raw [apiKeySecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return prefix + "_" + base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
