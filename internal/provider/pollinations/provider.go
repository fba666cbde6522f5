// Package pollinations calls the shared free text endpoint, one provider per pool model.
package pollinations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"genpipe/internal/models"
	"genpipe/internal/provider"
	"genpipe/internal/provider/openai"
)

const maxBodyBytes = 1 << 20

// Provider targets one model on the shared endpoint. The endpoint answers either with a
// chat-completions JSON body or with bare text, depending on the model.
type Provider struct {
	model    string
	endpoint string
	client   *http.Client
}

func New(baseURL, model string, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	endpoint := strings.TrimRight(baseURL, "/")
	if endpoint == "" {
		return nil, errors.New("base url must not be empty")
	}
	if model == "" {
		return nil, errors.New("model must not be empty")
	}
	return &Provider{model: model, endpoint: endpoint, client: client}, nil
}

func (p *Provider) Name() string {
	return "pool/" + p.model
}

type payload struct {
	Model       string           `json:"model"`
	Messages    []openai.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

func (p *Provider) Attempt(ctx context.Context, req models.GenerationRequest) (string, error) {
	body, err := json.Marshal(payload{
		Model:       p.model,
		Messages:    openai.ToMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("construct request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", p.Name(), err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return "", provider.NewStatusError(p.Name(), httpResp)
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%s read body: %w", p.Name(), err)
	}

	text := extractText(raw)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", p.Name(), provider.ErrEmptyResponse)
	}
	return text, nil
}

// extractText accepts a chat-completions body, a JSON string, or plain text.
func extractText(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}

	switch trimmed[0] {
	case '{':
		if content, ok := openai.ContentOf(trimmed); ok {
			return content
		}
		// JSON without choices is an error payload, not text.
		if json.Valid(trimmed) {
			return ""
		}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
