package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"genpipe/internal/kv"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestStore() *Store {
	return NewStore(kv.NewMemory(), func() time.Time { return fixedNow })
}

func TestNoTokenIsNotAnError(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	token, err := store.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}

	status, err := store.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Connected || status.ConnectedAt != nil {
		t.Fatalf("expected disconnected status, got %+v", status)
	}
}

func TestStoreTokenClearsHandshakeSecret(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	if err := store.StoreHandshakeSecret(ctx, "verifier"); err != nil {
		t.Fatalf("store secret: %v", err)
	}
	if secret, _ := store.HandshakeSecret(ctx); secret != "verifier" {
		t.Fatalf("expected pending secret, got %q", secret)
	}

	if err := store.StoreToken(ctx, "sk-or-1"); err != nil {
		t.Fatalf("store token: %v", err)
	}
	if secret, _ := store.HandshakeSecret(ctx); secret != "" {
		t.Fatalf("storing a token must clear the handshake secret, got %q", secret)
	}

	status, err := store.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Connected || status.ConnectedAt == nil || !status.ConnectedAt.Equal(fixedNow) {
		t.Fatalf("unexpected status %+v", status)
	}

	if err := store.StoreToken(ctx, "sk-or-2"); err != nil {
		t.Fatalf("replace token: %v", err)
	}
	if token, _ := store.Token(ctx); token != "sk-or-2" {
		t.Fatalf("expected replacement token, got %q", token)
	}
}

func TestStoreTokenRejectsEmpty(t *testing.T) {
	t.Parallel()

	if err := newTestStore().StoreToken(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestResetDisconnects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()
	_ = store.StoreToken(ctx, "sk-or-1")

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if token, _ := store.Token(ctx); token != "" {
		t.Fatalf("expected no token after reset, got %q", token)
	}
}

func TestClearHandshakeSecretKeepsToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()
	_ = store.StoreToken(ctx, "sk-or-1")
	_ = store.StoreHandshakeSecret(ctx, "pending")

	if err := store.ClearHandshakeSecret(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if secret, _ := store.HandshakeSecret(ctx); secret != "" {
		t.Fatalf("secret not cleared: %q", secret)
	}
	if token, _ := store.Token(ctx); token != "sk-or-1" {
		t.Fatalf("token lost: %q", token)
	}
}

func TestStorePersistsThroughFileBackend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.json")
	backend, err := kv.NewFile(path)
	if err != nil {
		t.Fatalf("file backend: %v", err)
	}
	if err := NewStore(backend, nil).StoreToken(context.Background(), "sk-or-file"); err != nil {
		t.Fatalf("store token: %v", err)
	}

	reopened, err := kv.NewFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	token, err := NewStore(reopened, nil).Token(context.Background())
	if err != nil || token != "sk-or-file" {
		t.Fatalf("token after restart = %q, %v", token, err)
	}
}

func TestChallengeIsS256(t *testing.T) {
	t.Parallel()

	// RFC 7636 appendix B.
	got := Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	if got != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM" {
		t.Fatalf("unexpected challenge %q", got)
	}

	v, err := NewVerifier()
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if len(v) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(v))
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore()

	var gotReq exchangeRequest
	exchange := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode exchange body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"key": "sk-or-exchanged"})
	}))
	defer exchange.Close()

	hs, err := NewHandshake(store, exchange.Client(), "https://auth.example/auth", exchange.URL)
	if err != nil {
		t.Fatalf("NewHandshake: %v", err)
	}

	authURL, err := hs.Begin(ctx, "http://localhost:8080/api/auth/openrouter/callback")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	verifier, _ := store.HandshakeSecret(ctx)
	if verifier == "" {
		t.Fatal("begin must store the verifier")
	}
	if u.Query().Get("code_challenge") != Challenge(verifier) || u.Query().Get("code_challenge_method") != "S256" {
		t.Fatalf("unexpected auth url query %q", u.RawQuery)
	}
	if u.Query().Get("callback_url") != "http://localhost:8080/api/auth/openrouter/callback" {
		t.Fatalf("callback url not forwarded: %q", u.RawQuery)
	}

	if err := hs.Complete(ctx, "auth-code"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotReq.Code != "auth-code" || gotReq.CodeVerifier != verifier || gotReq.CodeChallengeMethod != "S256" {
		t.Fatalf("unexpected exchange payload %+v", gotReq)
	}
	if token, _ := store.Token(ctx); token != "sk-or-exchanged" {
		t.Fatalf("expected exchanged token, got %q", token)
	}
	if secret, _ := store.HandshakeSecret(ctx); secret != "" {
		t.Fatal("verifier must be cleared after completion")
	}
}

func TestHandshakeCompleteFailures(t *testing.T) {
	t.Parallel()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad code", http.StatusBadRequest)
	}))
	t.Cleanup(failing.Close)
	keyless := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(keyless.Close)

	tests := []struct {
		name      string
		exchange  string
		code      string
		verifier  string
		wantError error
	}{
		{"missing code", failing.URL, "", "v", ErrMissingCode},
		{"no pending verifier", failing.URL, "code", "", ErrNoPendingHandshake},
		{"exchange rejected", failing.URL, "code", "v", ErrExchangeFailed},
		{"no key", keyless.URL, "code", "v", ErrNoKey},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := newTestStore()
			if tc.verifier != "" {
				_ = store.StoreHandshakeSecret(ctx, tc.verifier)
			}
			hs, err := NewHandshake(store, http.DefaultClient, "https://auth.example/auth", tc.exchange)
			if err != nil {
				t.Fatalf("NewHandshake: %v", err)
			}

			err = hs.Complete(ctx, tc.code)
			if !errors.Is(err, tc.wantError) {
				t.Fatalf("expected %v, got %v", tc.wantError, err)
			}
			if token, _ := store.Token(ctx); token != "" {
				t.Fatalf("failed exchange must not store a token, got %q", token)
			}
		})
	}
}
