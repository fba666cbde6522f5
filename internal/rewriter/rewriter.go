// Package rewriter turns the most relevant fresh feed article into a structured blog post.
package rewriter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"genpipe/internal/config"
	"genpipe/internal/models"
	"genpipe/internal/normalize"
	"genpipe/internal/provider"
	"genpipe/internal/source"
)

const (
	wordsPerMinute     = 200
	fallbackExcerptLen = 200
)

// ErrNoCandidates is returned when no feed produced an article.
var ErrNoCandidates = errors.New("no articles found in feeds")

// ErrNoFreshCandidates is returned when every fetched article was already published.
var ErrNoFreshCandidates = errors.New("all articles already published")

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// CandidateSource yields the articles to choose from.
type CandidateSource interface {
	FetchCandidates(ctx context.Context) []models.Article
}

// ContentSource yields an article's full text, or "" when unavailable.
type ContentSource interface {
	Fetch(ctx context.Context, link string) string
}

// Result is a generated post plus the metadata the persistence collaborator stores with it.
type Result struct {
	Post         models.GeneratedPost `json:"post"`
	Slug         string               `json:"slug"`
	SourceURL    string               `json:"sourceUrl"`
	Source       string               `json:"source"`
	Score        int                  `json:"score"`
	ReadTime     string               `json:"readTime"`
	Provider     string               `json:"provider,omitempty"`
	FromFallback bool                 `json:"fromFallback"`
}

type Rewriter struct {
	candidates   CandidateSource
	content      ContentSource
	scorer       *source.Scorer
	orchestrator *provider.Orchestrator
	parser       *normalize.Parser
	business     config.BusinessConfig
	categories   []string
	defaultCat   string
	temperature  float64
	maxTokens    int
	logger       *slog.Logger
}

// New wires a rewriter. orchestrator should normalize with the watermark stripper only, the parser
// handles the rest.
func New(candidates CandidateSource, content ContentSource, scorer *source.Scorer, orchestrator *provider.Orchestrator,
	parser *normalize.Parser, cfg config.Config, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{
		candidates:   candidates,
		content:      content,
		scorer:       scorer,
		orchestrator: orchestrator,
		parser:       parser,
		business:     cfg.Business,
		categories:   cfg.Rewriter.Categories,
		defaultCat:   cfg.Rewriter.DefaultCategory,
		temperature:  cfg.Providers.Temperature,
		maxTokens:    cfg.Providers.PostMaxTokens,
		logger:       logger.With("component", "rewriter"),
	}
}

// Run fetches, de-duplicates against knownSlugs, selects, and rewrites one article.
// When every provider fails the result carries a templated fallback post instead of an error.
func (r *Rewriter) Run(ctx context.Context, knownSlugs []string) (Result, error) {
	articles := r.candidates.FetchCandidates(ctx)
	if len(articles) == 0 {
		return Result{}, ErrNoCandidates
	}

	fresh := source.Dedupe(articles, knownSlugs)
	if len(fresh) == 0 {
		return Result{}, ErrNoFreshCandidates
	}

	best, ok := r.scorer.SelectBest(fresh)
	if !ok {
		return Result{}, ErrNoFreshCandidates
	}
	r.logger.Info("selected article", "title", best.Title, "score", best.Score, "source", best.Source, "candidates", len(fresh))

	body := r.content.Fetch(ctx, best.Link)
	if body == "" {
		body = firstNonEmpty(best.Description, best.Snippet)
	}

	resp := r.orchestrator.Generate(ctx, models.GenerationRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: WriterPrompt(r.business)},
			{Role: models.RoleUser, Content: ArticlePrompt(best.Article, body, r.categories)},
		},
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})

	result := Result{
		Slug:      source.Slug(best.Title),
		SourceURL: best.Link,
		Source:    best.Source,
		Score:     best.Score,
	}

	switch {
	case resp.Exhausted:
		r.logger.Warn("generation failed, using fallback post", "attempts", resp.Attempts)
	default:
		post := r.parser.ToStructuredPost(resp.Text, best.Title, excerptOf(best.Description))
		if emptyBody(post.Content) {
			r.logger.Warn("generated post has no body, using fallback post", "provider", resp.Provider)
			break
		}
		result.Post = post
		result.Provider = resp.Provider
	}
	if result.Provider == "" {
		result.Post = FallbackPost(best.Article, r.business, r.defaultCat)
		result.FromFallback = true
	}
	result.ReadTime = ReadTime(result.Post.Content)

	return result, nil
}

func emptyBody(content string) bool {
	return strings.TrimSpace(tagPattern.ReplaceAllString(content, " ")) == ""
}

// ReadTime estimates reading time at 200 words per minute, never less than one minute.
func ReadTime(content string) string {
	words := len(strings.Fields(tagPattern.ReplaceAllString(content, " ")))
	minutes := int(math.Ceil(float64(words) / wordsPerMinute))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%d min read", minutes)
}

func excerptOf(description string) string {
	runes := []rune(strings.TrimSpace(description))
	if len(runes) <= fallbackExcerptLen {
		return string(runes)
	}
	return string(runes[:fallbackExcerptLen]) + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
