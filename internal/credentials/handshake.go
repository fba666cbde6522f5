package credentials

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrMissingCode        = errors.New("credentials: authorization code missing")
	ErrNoPendingHandshake = errors.New("credentials: no authorization in progress")
	ErrExchangeFailed     = errors.New("credentials: key exchange failed")
	ErrNoKey              = errors.New("credentials: exchange response carried no key")
)

// NewVerifier returns a fresh PKCE code verifier: 32 random bytes, hex encoded.
func NewVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("credentials: generate verifier: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Challenge derives the S256 code challenge for verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Handshake runs the browser authorization flow that yields the primary provider's access token.
type Handshake struct {
	store       *Store
	client      *http.Client
	authURL     string
	exchangeURL string
}

func NewHandshake(store *Store, client *http.Client, authURL, exchangeURL string) (*Handshake, error) {
	if store == nil {
		return nil, errors.New("credentials: store must not be nil")
	}
	if client == nil {
		return nil, errors.New("credentials: http client must not be nil")
	}
	if authURL == "" || exchangeURL == "" {
		return nil, errors.New("credentials: auth and exchange urls must be provided")
	}
	return &Handshake{store: store, client: client, authURL: authURL, exchangeURL: exchangeURL}, nil
}

// Begin records a new verifier as the pending secret and returns the URL the browser should visit.
func (h *Handshake) Begin(ctx context.Context, callbackURL string) (string, error) {
	verifier, err := NewVerifier()
	if err != nil {
		return "", err
	}
	if err := h.store.StoreHandshakeSecret(ctx, verifier); err != nil {
		return "", err
	}

	u, err := url.Parse(h.authURL)
	if err != nil {
		return "", fmt.Errorf("credentials: parse auth url: %w", err)
	}
	q := u.Query()
	q.Set("callback_url", callbackURL)
	q.Set("code_challenge", Challenge(verifier))
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type exchangeRequest struct {
	Code                string `json:"code"`
	CodeVerifier        string `json:"code_verifier"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

type exchangeResponse struct {
	Key string `json:"key"`
}

// Complete trades the authorization code and pending verifier for a key and stores it.
func (h *Handshake) Complete(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrMissingCode
	}

	verifier, err := h.store.HandshakeSecret(ctx)
	if err != nil {
		return err
	}
	if verifier == "" {
		return ErrNoPendingHandshake
	}

	body, err := json.Marshal(exchangeRequest{Code: code, CodeVerifier: verifier, CodeChallengeMethod: "S256"})
	if err != nil {
		return fmt.Errorf("credentials: marshal exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.exchangeURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("credentials: construct exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("%w: status %d", ErrExchangeFailed, resp.StatusCode)
	}

	var out exchangeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrExchangeFailed, err)
	}
	if out.Key == "" {
		return ErrNoKey
	}

	return h.store.StoreToken(ctx, out.Key)
}
