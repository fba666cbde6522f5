// Package assistant answers visitor questions: gate, classify, generate, normalize.
package assistant

import (
	"context"
	"log/slog"
	"strings"

	"genpipe/internal/config"
	"genpipe/internal/models"
	"genpipe/internal/provider"
	"genpipe/internal/safety"
)

// historyLimit bounds how many prior turns are forwarded to providers.
const historyLimit = 10

// Outcome classifies a reply for the transport layer.
type Outcome int

const (
	// Answered carries generated text, or the apology when every provider failed.
	Answered Outcome = iota
	// Deflected carries a pre-written reply chosen by the classifier.
	Deflected
	// Rejected means the input failed validation.
	Rejected
	// RateLimited means the caller exceeded the request ceiling.
	RateLimited
)

func (o Outcome) String() string {
	switch o {
	case Answered:
		return "answered"
	case Deflected:
		return "deflected"
	case Rejected:
		return "rejected"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Request is one visitor turn.
type Request struct {
	Message string           `json:"message"`
	History []models.Message `json:"conversationHistory,omitempty"`
}

// Reply is the assistant's answer. Text is always safe to show to the visitor.
type Reply struct {
	Outcome   Outcome
	Text      string
	Reason    safety.Reason
	Provider  string
	Exhausted bool
}

// OK reports whether the reply should be shown as a chat message rather than an error.
func (r Reply) OK() bool {
	return r.Outcome == Answered || r.Outcome == Deflected
}

// Assistant is safe for concurrent use.
type Assistant struct {
	gate         *safety.Gate
	orchestrator *provider.Orchestrator
	systemPrompt string
	welcome      string
	temperature  float64
	maxTokens    int
	logger       *slog.Logger
}

// New wires the assistant. orchestrator should normalize with the chat sanitizer.
func New(gate *safety.Gate, orchestrator *provider.Orchestrator, business config.BusinessConfig, providers config.ProvidersConfig, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		gate:         gate,
		orchestrator: orchestrator,
		systemPrompt: SystemPrompt(business),
		welcome:      WelcomeMessage(business),
		temperature:  providers.Temperature,
		maxTokens:    providers.ChatMaxTokens,
		logger:       logger.With("component", "assistant"),
	}
}

func (a *Assistant) Welcome() string {
	return a.welcome
}

// Respond runs one turn. Rate limiting happens first, then validation, then classification; only a safe
// message reaches the provider chain.
func (a *Assistant) Respond(ctx context.Context, callerID string, req Request) Reply {
	if allowed, _ := a.gate.Allow(ctx, callerID); !allowed {
		return Reply{Outcome: RateLimited, Text: a.gate.Deflections().RateLimited}
	}

	validation := a.gate.Validate(req.Message)
	if !validation.Valid {
		return Reply{Outcome: Rejected, Text: validation.Error}
	}

	verdict := a.gate.Classify(validation.SanitizedMessage)
	if !verdict.Safe {
		a.logger.Info("message deflected", "reason", verdict.Reason)
		return Reply{Outcome: Deflected, Text: verdict.DeflectionResponse, Reason: verdict.Reason}
	}

	resp := a.orchestrator.Generate(ctx, models.GenerationRequest{
		Messages:    a.BuildMessages(validation.SanitizedMessage, req.History),
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if resp.Exhausted {
		a.logger.Warn("all providers failed", "attempts", resp.Attempts)
	}
	return Reply{Outcome: Answered, Text: resp.Text, Provider: resp.Provider, Exhausted: resp.Exhausted}
}

// BuildMessages places the system prompt first, then at most the last ten user/assistant turns, then the
// current message. Caller-supplied system messages are dropped.
func (a *Assistant) BuildMessages(message string, history []models.Message) []models.Message {
	kept := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > historyLimit {
		kept = kept[len(kept)-historyLimit:]
	}

	out := make([]models.Message, 0, len(kept)+2)
	out = append(out, models.Message{Role: models.RoleSystem, Content: a.systemPrompt})
	out = append(out, kept...)
	out = append(out, models.Message{Role: models.RoleUser, Content: message})
	return out
}
