package normalize

import (
	"strings"
	"testing"

	"genpipe/internal/config"
)

func newTestParser() *Parser {
	cfg := config.Default()
	return NewParser(NewSanitizer(cfg.Business), cfg.Rewriter.DefaultCategory, cfg.Rewriter.Categories)
}

func TestToStructuredPost(t *testing.T) {
	t.Parallel()

	in := "**TITLE:** \"AI Is Rewriting the B2B Sales Playbook\"\n\n" +
		"EXCERPT: Sales leaders are adopting AI\nacross the pipeline.\n\n" +
		"CATEGORY: ai sales\n\n" +
		"CONTENT:\n## The shift\nTeams use **agents** daily.\n- Faster prospecting\n- Better forecasts\n\n" +
		"---\n**Support Pollinations.AI:** 🌸 Ad 🌸 text"

	post := newTestParser().ToStructuredPost(in, "fallback title", "fallback excerpt")

	if post.Title != "AI Is Rewriting the B2B Sales Playbook" {
		t.Errorf("title = %q", post.Title)
	}
	if post.Excerpt != "Sales leaders are adopting AI across the pipeline." {
		t.Errorf("excerpt = %q", post.Excerpt)
	}
	if post.Category != "AI Sales" {
		t.Errorf("category = %q", post.Category)
	}
	want := "<h2>The shift</h2>\n<p>Teams use <strong>agents</strong> daily.</p>\n<ul>\n<li>Faster prospecting</li>\n<li>Better forecasts</li>\n</ul>"
	if post.Content != want {
		t.Errorf("content =\n%s\nwant\n%s", post.Content, want)
	}
}

func TestToStructuredPostFallbacks(t *testing.T) {
	t.Parallel()

	post := newTestParser().ToStructuredPost("Just some text without labels", "Original headline", "Original summary")

	if post.Title != "Original headline" || post.Excerpt != "Original summary" {
		t.Fatalf("fallbacks not applied: %+v", post)
	}
	if post.Category != "Technology" {
		t.Fatalf("expected default category, got %q", post.Category)
	}
	if post.Content != "<p>Just some text without labels</p>" {
		t.Fatalf("unexpected content %q", post.Content)
	}
}

func TestToStructuredPostUnknownCategoryAndBodyLabels(t *testing.T) {
	t.Parallel()

	in := "TITLE: Pipeline hygiene\nCATEGORY: Gardening\nCONTENT:\n<p>Keep the TITLE: field short.</p>"
	post := newTestParser().ToStructuredPost(in, "x", "Summary")

	if post.Category != "Technology" {
		t.Errorf("unknown category should fall back, got %q", post.Category)
	}
	if post.Excerpt != "Summary" {
		t.Errorf("missing excerpt should fall back, got %q", post.Excerpt)
	}
	if !strings.Contains(post.Content, "Keep the TITLE: field short.") {
		t.Errorf("labels inside the body must not split it: %q", post.Content)
	}
}
