package stores

import (
	"errors"
	"testing"
	"time"
)

func TestResetConsumeOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "gw")

	record := &ResetRecord{
		IdentityID: "u1",
		SecretHash: hashOf("secret"),
		ExpiresAt:  futureUnix(time.Hour),
	}
	if err := store.Save(ctxb(), "reset-1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Consume(ctxb(), "reset-1", hashOf("secret"))
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got.IdentityID != "u1" {
		t.Fatalf("record mismatch: %+v", got)
	}

	if _, err := store.Consume(ctxb(), "reset-1", hashOf("secret")); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected ErrResetNotFound on replay, got %v", err)
	}
}

func TestResetConsumeWrongSecret(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "gw")

	record := &ResetRecord{
		IdentityID: "u1",
		SecretHash: hashOf("secret"),
		ExpiresAt:  futureUnix(time.Hour),
	}
	if err := store.Save(ctxb(), "reset-1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Consume(ctxb(), "reset-1", hashOf("wrong")); !errors.Is(err, ErrResetMismatch) {
		t.Fatalf("expected ErrResetMismatch, got %v", err)
	}

	// A mismatch does not burn the token.
	if _, err := store.Consume(ctxb(), "reset-1", hashOf("secret")); err != nil {
		t.Fatalf("Consume after mismatch failed: %v", err)
	}
}

func TestResetConsumeExpired(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "gw")

	record := &ResetRecord{
		IdentityID: "u1",
		SecretHash: hashOf("secret"),
		ExpiresAt:  time.Now().Add(-time.Minute).Unix(),
	}
	// Long Redis TTL; the record's own expiry must still be enforced.
	if err := store.Save(ctxb(), "reset-1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Consume(ctxb(), "reset-1", hashOf("secret")); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected ErrResetNotFound for lapsed record, got %v", err)
	}
}

func TestResetConsumeUnknownID(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "gw")

	if _, err := store.Consume(ctxb(), "nope", hashOf("secret")); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected ErrResetNotFound, got %v", err)
	}
}
