// Package openai adapts OpenAI-compatible chat-completions endpoints (OpenRouter, OpenAI) to the chain.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"genpipe/internal/config"
	"genpipe/internal/models"
	"genpipe/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "genpipe/1.0"
)

// TokenSource yields the bearer token for a request. "" means no token is available.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for keys taken from configuration.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// Provider implements provider.Provider for one model on an OpenAI-compatible API.
type Provider struct {
	name    string
	model   string
	chatURL string
	headers map[string]string
	tokens  TokenSource
	client  *http.Client
}

// New creates a new OpenAI-compatible provider.
func New(name string, cfg config.ProviderConfig, tokens TokenSource, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("token source must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("model must not be empty")
	}

	return &Provider{
		name:    name,
		model:   cfg.Model,
		chatURL: baseURL + "/chat/completions",
		headers: cfg.Headers,
		tokens:  tokens,
		client:  client,
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

// Attempt sends one chat-completions request. A missing token yields provider.ErrUnavailable without a network call.
func (p *Provider) Attempt(ctx context.Context, req models.GenerationRequest) (string, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: read token: %v", provider.ErrUnavailable, err)
	}
	if token == "" {
		return "", fmt.Errorf("%w: no token configured for %s", provider.ErrUnavailable, p.name)
	}

	httpReq, err := p.newRequest(ctx, token, buildChatPayload(p.model, req))
	if err != nil {
		return "", err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s chat request failed: %w", p.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return "", provider.NewStatusError(p.name, httpResp)
	}

	var providerResp chatResponse
	if err := decodeJSON(httpResp.Body, &providerResp); err != nil {
		return "", err
	}

	content := providerResp.content()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%s: %w", p.name, provider.ErrEmptyResponse)
	}
	return content, nil
}

func (p *Provider) newRequest(ctx context.Context, token string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

// Message is the wire form of a conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildChatPayload(model string, req models.GenerationRequest) chatPayload {
	return chatPayload{
		Model:       model,
		Messages:    ToMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// ToMessages converts conversation messages to the wire shape shared by OpenAI-compatible APIs.
func ToMessages(in []models.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, msg := range in {
		out = append(out, Message{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message Message `json:"message"`
}

func (r chatResponse) content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// ContentOf extracts choices[0].message.content from a chat-completions body.
func ContentOf(body []byte) (string, bool) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return "", false
	}
	return resp.content(), true
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
