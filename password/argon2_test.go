package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()

	// Low-cost parameters keep the suite fast; NewHasher's floor still
	// applies.
	h, err := NewHasher(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

func TestHashVerify(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected encoding: %q", encoded)
	}

	ok, err := h.Verify("correct-horse", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("correct password rejected")
	}

	ok, err = h.Verify("battery-staple", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("wrong password accepted")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher(t)

	a, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestVerifyUsesStoredParameters(t *testing.T) {
	low := testHasher(t)
	encoded, err := low.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	// A hasher with different costs must still verify the old hash.
	high, err := NewHasher(DefaultConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	ok, err := high.Verify("correct-horse", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("hash from older parameters rejected")
	}
}

func TestVerifyMalformed(t *testing.T) {
	h := testHasher(t)

	cases := []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$not-base64!$a2V5",
		"$argon2id$bogus",
	}
	for _, encoded := range cases {
		if ok, err := h.Verify("anything", encoded); err == nil || ok {
			t.Fatalf("malformed hash %q accepted (ok=%v err=%v)", encoded, ok, err)
		}
	}
}

func TestNewHasherRejectsWeakParameters(t *testing.T) {
	weak := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		{Memory: 8 * 1024, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 16},
		{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16},
	}
	for i, cfg := range weak {
		if _, err := NewHasher(cfg); err == nil {
			t.Fatalf("case %d: weak parameters accepted", i)
		}
	}
}
