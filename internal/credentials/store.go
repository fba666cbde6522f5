// Package credentials keeps the primary provider's access token and the transient handshake secret.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"genpipe/internal/kv"
)

const recordKey = "credentials"

// Record is the persisted credential state. It is always read and written as a whole.
type Record struct {
	AccessToken            string    `json:"access_token,omitempty"`
	PendingHandshakeSecret string    `json:"pending_handshake_secret,omitempty"`
	ConnectedAt            time.Time `json:"connected_at,omitzero"`
}

// Status is the caller-visible connection summary. It never carries secrets.
type Status struct {
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
}

// Store guards the credential record behind a mutex so that read-modify-write cycles do not interleave.
type Store struct {
	mu    sync.Mutex
	store kv.KV
	now   func() time.Time
}

// NewStore wraps a key-value backend. now defaults to time.Now.
func NewStore(store kv.KV, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{store: store, now: now}
}

// Token returns the access token, or "" when none is stored.
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// StoreToken replaces any previous token, stamps the connection time and drops the handshake secret.
func (s *Store) StoreToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("credentials: token must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(ctx, Record{AccessToken: token, ConnectedAt: s.now().UTC()})
}

func (s *Store) StoreHandshakeSecret(ctx context.Context, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return err
	}
	rec.PendingHandshakeSecret = secret
	return s.save(ctx, rec)
}

// HandshakeSecret returns the pending secret, or "" when no authorization step is in flight.
func (s *Store) HandshakeSecret(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	return rec.PendingHandshakeSecret, nil
}

func (s *Store) ClearHandshakeSecret(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return err
	}
	if rec.PendingHandshakeSecret == "" {
		return nil
	}
	rec.PendingHandshakeSecret = ""
	return s.save(ctx, rec)
}

// Reset disconnects the primary provider by deleting the whole record.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, recordKey); err != nil {
		return fmt.Errorf("credentials: reset: %w", err)
	}
	return nil
}

func (s *Store) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return Status{}, err
	}
	if rec.AccessToken == "" {
		return Status{}, nil
	}
	st := Status{Connected: true}
	if !rec.ConnectedAt.IsZero() {
		at := rec.ConnectedAt
		st.ConnectedAt = &at
	}
	return st, nil
}

func (s *Store) load(ctx context.Context) (Record, error) {
	raw, err := s.store.Get(ctx, recordKey)
	if errors.Is(err, kv.ErrNotFound) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("credentials: load: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("credentials: decode record: %w", err)
	}
	return rec, nil
}

func (s *Store) save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("credentials: encode record: %w", err)
	}
	if err := s.store.Set(ctx, recordKey, string(data)); err != nil {
		return fmt.Errorf("credentials: save: %w", err)
	}
	return nil
}
