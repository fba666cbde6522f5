// Package provider runs generation requests through an ordered chain of text-generation backends.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"genpipe/internal/models"
)

// ErrUnavailable marks a provider that cannot be attempted right now, e.g. no token is stored.
var ErrUnavailable = errors.New("provider unavailable")

// ErrEmptyResponse indicates the provider answered successfully with no usable text.
var ErrEmptyResponse = errors.New("provider returned empty output")

// ErrDuplicateProvider indicates an attempt to place the same provider name in a chain twice.
var ErrDuplicateProvider = errors.New("provider already in chain")

// Provider is a single strategy in the fallback chain. Attempt is called at most once per request.
type Provider interface {
	Name() string
	Attempt(ctx context.Context, req models.GenerationRequest) (string, error)
}

// StatusError reports a non-success HTTP status from an upstream backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.StatusCode, e.Message)
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewStatusError reads a bounded amount of the failed response body into a StatusError.
func NewStatusError(name string, resp *http.Response) *StatusError {
	statusErr := &StatusError{Provider: name, StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return statusErr
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		statusErr.Message = apiErr.Error.Message
		return statusErr
	}
	statusErr.Message = strings.TrimSpace(string(body))
	return statusErr
}

// Chain is the ordered list of providers. Order is attempt order and carries no other meaning.
type Chain struct {
	providers []Provider
}

// NewChain validates that every provider is present and uniquely named.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, errors.New("chain needs at least one provider")
	}

	seen := make(map[string]struct{}, len(providers))
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("provider %d must not be nil", i)
		}
		if _, exists := seen[p.Name()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name())
		}
		seen[p.Name()] = struct{}{}
	}

	out := make([]Provider, len(providers))
	copy(out, providers)
	return &Chain{providers: out}, nil
}

func (c *Chain) Providers() []Provider {
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

func (c *Chain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}
