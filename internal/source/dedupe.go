package source

import (
	"regexp"
	"strings"

	"genpipe/internal/models"
)

const maxSlugLength = 60

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpace    = regexp.MustCompile(`\s+`)
	slugDashes   = regexp.MustCompile(`-+`)
	titleNonWord = regexp.MustCompile(`[^a-z0-9]`)
)

// Slug derives the URL-safe identifier used for posts and de-duplication.
func Slug(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpace.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	if len(s) > maxSlugLength {
		s = s[:maxSlugLength]
	}
	return strings.TrimSuffix(s, "-")
}

// Dedupe drops articles whose slug is already known and repeated titles within the batch.
// The first occurrence of a title wins.
func Dedupe(articles []models.Article, knownSlugs []string) []models.Article {
	known := make(map[string]struct{}, len(knownSlugs))
	for _, s := range knownSlugs {
		known[s] = struct{}{}
	}

	seen := make(map[string]struct{}, len(articles))
	out := make([]models.Article, 0, len(articles))
	for _, a := range articles {
		if _, dup := known[Slug(a.Title)]; dup {
			continue
		}
		key := titleNonWord.ReplaceAllString(strings.ToLower(a.Title), "")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
