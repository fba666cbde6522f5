package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// blockElements get a separating space so adjacent paragraphs do not run together.
const blockElements = "p, div, h1, h2, h3, h4, h5, h6, li, br, tr, section, blockquote"

// ContentFetcher downloads an article page and reduces it to plain text for the rewrite prompt.
type ContentFetcher struct {
	client    *http.Client
	maxChars  int
	userAgent string
	logger    *slog.Logger
}

func NewContentFetcher(client *http.Client, maxChars int, userAgent string, logger *slog.Logger) *ContentFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentFetcher{
		client:    client,
		maxChars:  maxChars,
		userAgent: userAgent,
		logger:    logger.With("component", "content"),
	}
}

// Fetch returns the article text, or "" when the page cannot be retrieved.
// Callers fall back to the feed snippet in that case.
func (c *ContentFetcher) Fetch(ctx context.Context, link string) string {
	doc, err := c.fetchDocument(ctx, link)
	if err != nil {
		c.logger.Warn("article fetch failed", "url", link, "err", err)
		return ""
	}
	return truncate(extractText(doc), c.maxChars)
}

func (c *ContentFetcher) fetchDocument(ctx context.Context, link string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("article returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func extractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	root.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.BeforeHtml(" ")
		s.AfterHtml(" ")
	})
	return collapse(root.Text())
}

// truncate cuts at maxChars runes and marks the cut with "...".
func truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return strings.TrimSpace(string(runes[:maxChars])) + "..."
}
