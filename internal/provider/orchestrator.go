package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"genpipe/internal/config"
	"genpipe/internal/models"
)

// Response is the outcome of one pass through the chain.
type Response struct {
	Text     string
	Provider string
	// Attempts counts providers visited, including unavailable ones that were skipped and the one that succeeded.
	Attempts int
	// Exhausted is set when every provider failed and Text holds the apology.
	Exhausted bool
}

// Orchestrator walks the chain in order and returns the first usable output.
type Orchestrator struct {
	chain     *Chain
	normalize func(string) string
	apology   string
	logger    *slog.Logger
}

type Option func(*Orchestrator)

// WithNormalizer post-processes every non-empty output. Output that normalizes to "" counts as a failure.
func WithNormalizer(fn func(string) string) Option {
	return func(o *Orchestrator) {
		o.normalize = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator constructs an orchestrator over chain.
func NewOrchestrator(chain *Chain, apology string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chain:     chain,
		normalize: strings.TrimSpace,
		apology:   apology,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

// Apology is the fixed message returned when every provider has failed.
func Apology(b config.BusinessConfig) string {
	return fmt.Sprintf("I apologize, but I'm having trouble processing your request right now. "+
		"For immediate assistance, please contact our team at %s or call %s. Our team is available %s.",
		b.Email, b.Phone, b.Hours)
}

// Generate never returns an error: total failure yields the apology with Exhausted set.
// No attempt is started once ctx is done.
func (o *Orchestrator) Generate(ctx context.Context, req models.GenerationRequest) Response {
	var resp Response

	for i, p := range o.chain.providers {
		if ctx.Err() != nil {
			o.logger.Warn("generation cancelled", "attempts", resp.Attempts, "err", ctx.Err())
			break
		}

		resp.Attempts++
		text, err := p.Attempt(ctx, req)
		if err == nil {
			text = o.normalize(text)
			if text == "" {
				err = fmt.Errorf("%w after normalization", ErrEmptyResponse)
			}
		}

		switch {
		case err == nil:
			o.logger.Debug("provider succeeded", "provider", p.Name(), "index", i)
			resp.Text = text
			resp.Provider = p.Name()
			return resp
		case errors.Is(err, ErrUnavailable):
			o.logger.Debug("provider skipped", "provider", p.Name(), "index", i, "err", err)
		default:
			o.logger.Warn("provider failed", "provider", p.Name(), "index", i, "err", err)
		}
	}

	resp.Text = o.apology
	resp.Exhausted = true
	return resp
}
