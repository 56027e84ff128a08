package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature scheme for issued tokens.
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key and verifies with the
	// corresponding public key.
	MethodEd25519 SigningMethod = "ed25519"
)

// ErrExpired is returned by Verify when the token's expiry claim has lapsed.
var ErrExpired = errors.New("token expired")

// ErrInvalid is returned by Verify for every other verification failure:
// tampering, wrong algorithm, malformed structure, missing claims.
var ErrInvalid = errors.New("token invalid")

// Config holds codec construction parameters.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Claims is the verified payload of a bearer token.
type Claims struct {
	IdentityID string `json:"uid"`
	SessionID  string `json:"sid"`
	jwt.RegisteredClaims
}

// Codec signs and verifies bearer tokens. It is immutable after NewCodec
// and safe for concurrent use.
type Codec struct {
	config     Config
	signKey    any
	verifyKey  any
	signMethod jwt.SigningMethod
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("token: TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: leeway out of range")
	}

	c := &Codec{config: cfg}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("token: hs256 requires a shared secret")
		}
		c.signMethod = jwt.SigningMethodHS256
		c.signKey = cfg.PrivateKey
		c.verifyKey = cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		c.signMethod = jwt.SigningMethodEdDSA
		c.signKey = priv
		c.verifyKey = pub
	default:
		return nil, fmt.Errorf("token: unsupported signing method %q", cfg.SigningMethod)
	}

	return c, nil
}

// Sign issues a token binding identityID and sessionID, expiring after the
// configured TTL. It returns the serialized token and its expiry.
func (c *Codec) Sign(identityID, sessionID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(c.config.TTL)

	claims := Claims{
		IdentityID: identityID,
		SessionID:  sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(c.signMethod, claims).SignedString(c.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the claims. Failures map
// to ErrExpired or ErrInvalid; callers must not see library error types.
func (c *Codec) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.signMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.config.Leeway),
	}
	if c.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.config.Issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !parsed.Valid || claims.IdentityID == "" {
		return nil, ErrInvalid
	}

	return &claims, nil
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration {
	return c.config.TTL
}

func parseEdPrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, errors.New("token: invalid ed25519 private key size")
	}
}

func parseEdPublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("token: invalid ed25519 public key size")
	}
	return ed25519.PublicKey(raw), nil
}
