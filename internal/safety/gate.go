// Package safety validates, classifies and rate limits caller input before any provider sees it.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"genpipe/internal/config"
	"genpipe/internal/kv"
	"genpipe/internal/models"
)

const unknownCaller = "unknown"

var (
	markupTag     = regexp.MustCompile(`<[^>]*>`)
	scriptURI     = regexp.MustCompile(`(?i)javascript:`)
	inlineHandler = regexp.MustCompile(`(?i)on\w+=`)
)

// Verdict is the outcome of Classify. A deflected message carries the exact reply to return.
type Verdict struct {
	Safe               bool   `json:"safe"`
	Reason             Reason `json:"reason,omitempty"`
	DeflectionResponse string `json:"deflectionResponse,omitempty"`
}

// Gate applies the input policy. It is safe for concurrent use.
type Gate struct {
	maxLen      int
	window      time.Duration
	limit       int64
	counter     kv.Counter
	deflections Deflections
	table       atomic.Pointer[Table]
	logger      *slog.Logger
}

// New builds a gate using the built-in rule table, or the YAML table at safety.rules_file when set.
func New(safety config.SafetyConfig, limits config.RateLimitConfig, business config.BusinessConfig, counter kv.Counter, logger *slog.Logger) (*Gate, error) {
	if counter == nil {
		return nil, errors.New("safety: counter must not be nil")
	}
	if safety.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("safety: max message length must be positive, got %d", safety.MaxMessageLength)
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gate{
		maxLen:      safety.MaxMessageLength,
		window:      limits.Window,
		limit:       int64(limits.MaxRequests),
		counter:     counter,
		deflections: NewDeflections(business, safety.MaxMessageLength),
		logger:      logger.With("component", "safety"),
	}

	rules := DefaultRules()
	if safety.RulesFile != "" {
		loaded, err := LoadRules(safety.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	if err := g.SetRules(rules); err != nil {
		return nil, err
	}
	return g, nil
}

// SetRules compiles rules and swaps them in. In-flight classifications finish on the previous table.
func (g *Gate) SetRules(rules []Rule) error {
	table, err := NewTable(rules, g.deflections)
	if err != nil {
		return fmt.Errorf("safety: %w", err)
	}
	g.table.Store(table)
	return nil
}

// ReloadRules re-reads a YAML rule file. On error the current table stays in place.
func (g *Gate) ReloadRules(path string) error {
	rules, err := LoadRules(path)
	if err != nil {
		return err
	}
	return g.SetRules(rules)
}

func (g *Gate) Deflections() Deflections {
	return g.deflections
}

// Validate enforces the length limits and strips markup, script URIs and inline handlers.
func (g *Gate) Validate(raw string) models.ValidationResult {
	if strings.TrimSpace(raw) == "" {
		return models.ValidationResult{Error: g.deflections.Empty}
	}
	if utf8.RuneCountInString(raw) > g.maxLen {
		return models.ValidationResult{Error: g.deflections.TooLong}
	}

	sanitized := markupTag.ReplaceAllString(raw, "")
	sanitized = scriptURI.ReplaceAllString(sanitized, "")
	sanitized = inlineHandler.ReplaceAllString(sanitized, "")
	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" {
		return models.ValidationResult{Error: g.deflections.Empty}
	}

	return models.ValidationResult{Valid: true, SanitizedMessage: sanitized}
}

// Classify runs the rule table over sanitized input.
func (g *Gate) Classify(sanitized string) Verdict {
	return g.table.Load().Classify(sanitized)
}

// Allow records one request for callerID and reports whether it is inside the window's ceiling.
// When the counter store fails the request is allowed and the error is returned for logging.
func (g *Gate) Allow(ctx context.Context, callerID string) (bool, error) {
	if callerID == "" {
		callerID = unknownCaller
	}

	n, err := g.counter.Incr(ctx, callerID, g.window)
	if err != nil {
		g.logger.Warn("rate limit store unavailable, allowing request", "caller", callerID, "err", err)
		return true, fmt.Errorf("safety: rate limit: %w", err)
	}
	if n > g.limit {
		g.logger.Info("rate limit exceeded", "caller", callerID, "count", n, "limit", g.limit)
		return false, nil
	}
	return true, nil
}
