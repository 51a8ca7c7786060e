package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth-issuer/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if the connection fails.
// Each test gets a unique prefix to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("issuertest:%s:", uuid.NewString())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	return store
}

// cleanupTestKeys removes all keys under the store prefix
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func testCode(code string) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:                code,
		ClientID:            "client-1",
		RedirectURI:         "https://app.example.com/callback",
		UserID:              "alice",
		Scope:               "read",
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: "S256",
		State:               "xyz",
		ExpiresAt:           now.Add(10 * time.Minute),
		CreatedAt:           now,
	}
}

// ============================================================
// Config Tests
// ============================================================

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Error("Expected error for missing address")
	}
}

func TestNewWithClient_Defaults(t *testing.T) {
	s := NewWithClient(nil, "", nil)
	if s.prefix != DefaultKeyPrefix {
		t.Errorf("prefix = %q, want %q", s.prefix, DefaultKeyPrefix)
	}
	if s.logger == nil {
		t.Error("logger should default to slog.Default()")
	}
	if got := s.codeKey("abc"); got != "oauth:code:abc" {
		t.Errorf("codeKey = %q, want %q", got, "oauth:code:abc")
	}
}

func TestCalculateTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if ttl := calculateTTL(now.Add(-time.Second), now); ttl != 0 {
		t.Errorf("calculateTTL(past) = %v, want 0", ttl)
	}
	if ttl := calculateTTL(now, now); ttl != 0 {
		t.Errorf("calculateTTL(now) = %v, want 0", ttl)
	}
	if ttl := calculateTTL(now.Add(time.Minute), now); ttl != time.Minute {
		t.Errorf("calculateTTL(+1m) = %v, want 1m", ttl)
	}
}

func TestSetClock_DrivesCodeTTL(t *testing.T) {
	s := NewWithClient(nil, "", nil)
	s.SetClock(nil)
	if s.now == nil {
		t.Fatal("SetClock(nil) cleared the clock")
	}

	// Valid by the wall clock, expired by the store clock: rejected before any Valkey call
	code := testCode("clock-test-code")
	code.ExpiresAt = time.Now().Add(time.Hour)
	s.SetClock(func() time.Time { return code.ExpiresAt.Add(time.Second) })

	err := s.SaveAuthorizationCode(context.Background(), code)
	if err == nil || !strings.Contains(err.Error(), "already expired") {
		t.Errorf("SaveAuthorizationCode() error = %v, want already expired", err)
	}
}

func TestSaveAuthorizationCode_RejectsOversizedCode(t *testing.T) {
	s := NewWithClient(nil, "", nil)
	code := testCode(string(make([]byte, MaxCodeLength+1)))
	if err := s.SaveAuthorizationCode(context.Background(), code); !errors.Is(err, errInputTooLarge) {
		t.Errorf("SaveAuthorizationCode() error = %v, want %v", err, errInputTooLarge)
	}
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestClientStore_SaveGetList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"b-client", "a-client"} {
		err := s.SaveClient(ctx, &storage.Client{
			ClientID:    id,
			Name:        "Test " + id,
			RedirectURI: "https://app.example.com/callback",
			CreatedAt:   time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveClient(%s) error = %v", id, err)
		}
	}

	got, err := s.GetClient(ctx, "a-client")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.RedirectURI != "https://app.example.com/callback" {
		t.Errorf("RedirectURI = %q, want %q", got.RedirectURI, "https://app.example.com/callback")
	}

	clients, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("len(ListClients()) = %d, want 2", len(clients))
	}
	if clients[0].ClientID != "a-client" || clients[1].ClientID != "b-client" {
		t.Errorf("ListClients() order = [%s %s], want [a-client b-client]", clients[0].ClientID, clients[1].ClientID)
	}
}

func TestClientStore_GetUnknown(t *testing.T) {
	s := testStore(t)

	_, err := s.GetClient(context.Background(), "missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want %v", err, storage.ErrClientNotFound)
	}
}

// ============================================================
// CodeStore Tests
// ============================================================

func TestCodeStore_SaveAndConsume(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveAuthorizationCode(ctx, testCode("code-1")); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	got, err := s.ConsumeAuthorizationCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if got.ClientID != "client-1" || got.UserID != "alice" || got.State != "xyz" {
		t.Errorf("consumed code = %+v, fields do not round-trip", got)
	}

	_, err = s.ConsumeAuthorizationCode(ctx, "code-1")
	if !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("second ConsumeAuthorizationCode() error = %v, want %v", err, storage.ErrAuthorizationCodeNotFound)
	}
}

func TestCodeStore_SaveDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveAuthorizationCode(ctx, testCode("dup")); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	if err := s.SaveAuthorizationCode(ctx, testCode("dup")); !errors.Is(err, storage.ErrAuthorizationCodeExists) {
		t.Errorf("duplicate SaveAuthorizationCode() error = %v, want %v", err, storage.ErrAuthorizationCodeExists)
	}
}

func TestCodeStore_SaveExpired(t *testing.T) {
	s := testStore(t)

	code := testCode("expired")
	code.ExpiresAt = time.Now().Add(-time.Minute)
	if err := s.SaveAuthorizationCode(context.Background(), code); err == nil {
		t.Error("expected error saving an already expired code")
	}
}

func TestCodeStore_ConcurrentConsume(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveAuthorizationCode(ctx, testCode("race")); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	const goroutines = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeAuthorizationCode(ctx, "race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("successful consumes = %d, want 1", got)
	}
}

// ============================================================
// RefreshTokenLedger Tests
// ============================================================

func TestRefreshTokenLedger_MarkUsed(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	first, err := s.MarkRefreshTokenUsed(ctx, "jti-1", exp)
	if err != nil {
		t.Fatalf("MarkRefreshTokenUsed() error = %v", err)
	}
	if !first {
		t.Error("first MarkRefreshTokenUsed() = false, want true")
	}

	again, err := s.MarkRefreshTokenUsed(ctx, "jti-1", exp)
	if err != nil {
		t.Fatalf("MarkRefreshTokenUsed() error = %v", err)
	}
	if again {
		t.Error("second MarkRefreshTokenUsed() = true, want false")
	}
}
