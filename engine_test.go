package gatewarden

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memAccounts struct {
	byEmail map[string]*Identity
	byID    map[string]*Identity
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		byEmail: map[string]*Identity{},
		byID:    map[string]*Identity{},
	}
}

func (m *memAccounts) put(identity *Identity) {
	m.byEmail[identity.Email] = identity
	m.byID[identity.ID] = identity
}

func (m *memAccounts) FindByID(_ context.Context, id string) (*Identity, error) {
	identity, ok := m.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return identity, nil
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*Identity, error) {
	identity, ok := m.byEmail[email]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return identity, nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("test-signing-secret")
	cfg.TwoFactor.Enabled = false
	cfg.RateLimit.Enabled = false
	cfg.Audit.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, accounts AccountStore) (*Engine, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(accounts).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, mr, func() {
		engine.Close()
		mr.Close()
	}
}

func seedAccount(t *testing.T, engine *Engine, accounts *memAccounts, id, email, plaintext string) *Identity {
	t.Helper()

	hash, err := engine.HashPassword(plaintext)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	identity := &Identity{
		ID:                id,
		Email:             email,
		Active:            true,
		Role:              "admin",
		PasswordHash:      hash,
		PasswordChangedAt: time.Now(),
	}
	accounts.put(identity)
	return identity
}

func loginCtx(ip string) context.Context {
	ctx := WithClientIP(context.Background(), ip)
	return WithUserAgent(ctx, "test-agent")
}

func TestLoginAndAuthenticate(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	seedAccount(t, engine, accounts, "u1", "alice@example.com", "correct-horse")

	result, err := engine.Login(loginCtx("10.0.0.1"), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.Token == "" || result.SessionID == "" {
		t.Fatalf("expected token and session id, got %+v", result)
	}
	if result.TwoFactorRequired {
		t.Fatal("unexpected two-factor challenge")
	}

	auth, err := engine.Authenticate(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if auth.Identity == nil || auth.Identity.ID != "u1" {
		t.Fatalf("expected identity u1, got %+v", auth)
	}
	if auth.SessionID != result.SessionID {
		t.Fatalf("session id mismatch: %q vs %q", auth.SessionID, result.SessionID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	seedAccount(t, engine, accounts, "u1", "alice@example.com", "correct-horse")

	if _, err := engine.Login(loginCtx("10.0.0.1"), "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	seedAccount(t, engine, accounts, "u1", "alice@example.com", "correct-horse")

	_, errUnknown := engine.Login(loginCtx("10.0.0.1"), "nobody@example.com", "whatever")
	_, errWrong := engine.Login(loginCtx("10.0.0.1"), "alice@example.com", "wrong")
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected indistinguishable credential errors, got %v / %v", errUnknown, errWrong)
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	identity := seedAccount(t, engine, accounts, "u1", "alice@example.com", "correct-horse")
	identity.Active = false

	if _, err := engine.Login(loginCtx("10.0.0.1"), "alice@example.com", "correct-horse"); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	if _, err := engine.Authenticate(context.Background(), ""); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
	if _, err := engine.Authenticate(context.Background(), "not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthenticateInactiveAccountMidSession(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	identity := seedAccount(t, engine, accounts, "u1", "alice@example.com", "correct-horse")

	result, err := engine.Login(loginCtx("10.0.0.1"), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	identity.Active = false
	if _, err := engine.Authenticate(context.Background(), result.Token); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	seedAccount(t, engine, accounts, "u1", "alice@example.com", "correct-horse")

	result, err := engine.Login(loginCtx("10.0.0.1"), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := engine.Logout(loginCtx("10.0.0.1"), result.Token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := engine.Authenticate(context.Background(), result.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after logout, got %v", err)
	}
}

func TestLogoutAllInvalidatesOtherSessions(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	seedAccount(t, engine, accounts, "u1", "alice@example.com", "correct-horse")

	first, err := engine.Login(loginCtx("10.0.0.1"), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("first Login failed: %v", err)
	}
	second, err := engine.Login(loginCtx("10.0.0.2"), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("second Login failed: %v", err)
	}

	n, err := engine.LogoutAll(loginCtx("10.0.0.2"), second.Token)
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 invalidated session, got %d", n)
	}

	if _, err := engine.Authenticate(context.Background(), first.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid for first token, got %v", err)
	}
	if _, err := engine.Authenticate(context.Background(), second.Token); err != nil {
		t.Fatalf("expected surviving session to authenticate, got %v", err)
	}
}

func TestAuthenticateOptionalNeverFails(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	auth := engine.AuthenticateOptional(context.Background(), "garbage")
	if auth == nil || !auth.Anonymous {
		t.Fatalf("expected anonymous result for bad token, got %+v", auth)
	}

	if auth := engine.AuthenticateOptional(context.Background(), ""); auth == nil || !auth.Anonymous {
		t.Fatalf("expected anonymous result for missing token, got %+v", auth)
	}
}

func TestMaintenanceModeBlocksNonAllowlisted(t *testing.T) {
	accounts := newMemAccounts()
	engine, _, done := newTestEngine(t, testConfig(), accounts)
	defer done()

	engine.SetMaintenanceMode(true, []string{"10.0.0.9"})

	if err := engine.CheckMaintenance("10.0.0.1"); !errors.Is(err, ErrMaintenanceMode) {
		t.Fatalf("expected ErrMaintenanceMode, got %v", err)
	}
	if err := engine.CheckMaintenance("10.0.0.9"); err != nil {
		t.Fatalf("allowlisted address rejected: %v", err)
	}

	engine.SetMaintenanceMode(false, nil)
	if err := engine.CheckMaintenance("10.0.0.1"); err != nil {
		t.Fatalf("maintenance off but still rejected: %v", err)
	}
}
