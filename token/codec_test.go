package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"
)

func hsConfig() Config {
	return Config{
		TTL:           time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("unit-test-secret"),
		Leeway:        30 * time.Second,
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	codec, err := NewCodec(hsConfig())
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	signed, expiresAt, err := codec.Sign("u1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Fatalf("expiry off: %v", until)
	}

	claims, err := codec.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.IdentityID != "u1" || claims.SessionID != "s1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	codec, err := NewCodec(hsConfig())
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	signed, _, err := codec.Sign("u1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	parts := strings.Split(signed, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := codec.Verify(tampered); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	if _, err := codec.Verify("garbage"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for garbage, got %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	codecA, _ := NewCodec(hsConfig())

	cfgB := hsConfig()
	cfgB.PrivateKey = []byte("a-different-secret")
	codecB, _ := NewCodec(cfgB)

	signed, _, err := codecA.Sign("u1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := codecB.Verify(signed); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	cfg := hsConfig()
	cfg.TTL = time.Millisecond
	cfg.Leeway = 0
	codec, err := NewCodec(cfg)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	signed, _, err := codec.Sign("u1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := codec.Verify(signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestIssuerEnforced(t *testing.T) {
	cfgA := hsConfig()
	cfgA.Issuer = "svc-a"
	codecA, _ := NewCodec(cfgA)

	cfgB := hsConfig()
	cfgB.Issuer = "svc-b"
	codecB, _ := NewCodec(cfgB)

	signed, _, err := codecA.Sign("u1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := codecB.Verify(signed); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected issuer mismatch rejection, got %v", err)
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	codec, err := NewCodec(Config{
		TTL:           time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	signed, _, err := codec.Sign("u1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	claims, err := codec.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.IdentityID != "u1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestNewCodecValidation(t *testing.T) {
	if _, err := NewCodec(Config{SigningMethod: MethodHS256, PrivateKey: []byte("x")}); err == nil {
		t.Fatal("expected error for zero TTL")
	}
	if _, err := NewCodec(Config{TTL: time.Hour, SigningMethod: MethodHS256}); err == nil {
		t.Fatal("expected error for missing secret")
	}
	if _, err := NewCodec(Config{TTL: time.Hour, SigningMethod: "rs256"}); err == nil {
		t.Fatal("expected error for unsupported method")
	}
	if _, err := NewCodec(Config{TTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected error for bad ed25519 key")
	}
}
