// Package source gathers candidate articles for the rewriter and picks the most relevant one.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"genpipe/internal/config"
	"genpipe/internal/models"
)

// Fetcher reads every configured feed concurrently. A feed that fails or times out contributes nothing.
type Fetcher struct {
	client    *http.Client
	feeds     []config.FeedConfig
	timeout   time.Duration
	perFeed   int
	userAgent string
	now       func() time.Time
	logger    *slog.Logger
}

// NewFetcher wires an HTTP client; a nil client gets one bounded by the feed timeout.
func NewFetcher(cfg config.RewriterConfig, client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.FeedTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:    client,
		feeds:     cfg.Feeds,
		timeout:   cfg.FeedTimeout,
		perFeed:   cfg.ItemsPerFeed,
		userAgent: cfg.UserAgent,
		now:       time.Now,
		logger:    logger.With("component", "source"),
	}
}

// FetchCandidates returns articles in feed configuration order, then item order within each feed.
func (f *Fetcher) FetchCandidates(ctx context.Context) []models.Article {
	results := make([][]models.Article, len(f.feeds))

	var wg sync.WaitGroup
	for i, feed := range f.feeds {
		wg.Add(1)
		go func(i int, feed config.FeedConfig) {
			defer wg.Done()

			feedCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			articles, err := f.fetchFeed(feedCtx, feed)
			if err != nil {
				f.logger.Warn("feed unavailable", "source", feed.Source, "url", feed.URL, "err", err)
				return
			}
			results[i] = articles
		}(i, feed)
	}
	wg.Wait()

	var all []models.Article
	for _, articles := range results {
		all = append(all, articles...)
	}
	f.logger.Info("fetched candidates", "articles", len(all), "feeds", len(f.feeds))
	return all
}

func (f *Fetcher) fetchFeed(ctx context.Context, feed config.FeedConfig) ([]models.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	source := feed.Source
	if source == "" {
		source = parsed.Title
	}

	articles := make([]models.Article, 0, f.perFeed)
	for _, item := range parsed.Items {
		if len(articles) == f.perFeed {
			break
		}
		if item == nil || strings.TrimSpace(item.Title) == "" || item.Link == "" {
			continue
		}

		snippet := plainText(item.Content)
		if snippet == "" {
			snippet = plainText(item.Description)
		}
		description := snippet
		if description == "" {
			description = strings.TrimSpace(item.Description)
		}

		articles = append(articles, models.Article{
			Title:       strings.TrimSpace(item.Title),
			Link:        item.Link,
			Description: description,
			Snippet:     snippet,
			PublishedAt: f.publishedAt(item),
			Source:      source,
		})
	}
	return articles, nil
}

// publishedAt falls back to the update time, then to now, so undated items still compete on relevance.
func (f *Fetcher) publishedAt(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return *item.PublishedParsed
	case item.UpdatedParsed != nil:
		return *item.UpdatedParsed
	default:
		return f.now()
	}
}

// plainText renders an HTML fragment as whitespace-collapsed text.
func plainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return collapse(doc.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
