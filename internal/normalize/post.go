package normalize

import (
	"regexp"
	"strings"

	"genpipe/internal/models"
)

var (
	sectionLabel = regexp.MustCompile(`(?m)(?:^|[ \t])[#*]*[ \t]*(TITLE|EXCERPT|CATEGORY|CONTENT)[ \t]*\**[ \t]*:[ \t]*\**`)
	outerQuotes  = regexp.MustCompile(`^["'“”]+|["'“”]+$`)
	whitespace   = regexp.MustCompile(`\s+`)
	blankLine    = regexp.MustCompile(`\n[ \t]*\n`)
)

// Parser extracts a structured post from a labelled model response.
type Parser struct {
	sanitizer       *Sanitizer
	defaultCategory string
	categories      []string
}

// NewParser builds a parser. Categories outside the list fall back to defaultCategory.
func NewParser(sanitizer *Sanitizer, defaultCategory string, categories []string) *Parser {
	return &Parser{sanitizer: sanitizer, defaultCategory: defaultCategory, categories: categories}
}

// ToStructuredPost reads the TITLE, EXCERPT, CATEGORY and CONTENT sections of text. A missing section is
// replaced by the matching fallback; a missing CONTENT label means the whole response is the body.
func (p *Parser) ToStructuredPost(text, fallbackTitle, fallbackExcerpt string) models.GeneratedPost {
	cleaned := p.sanitizer.StripWatermarks(text)
	sections := splitSections(cleaned)

	title := cleanText(firstLine(sections["TITLE"]))
	if title == "" {
		title = cleanText(fallbackTitle)
	}

	excerpt := cleanText(firstParagraph(sections["EXCERPT"]))
	if excerpt == "" {
		excerpt = cleanText(fallbackExcerpt)
	}

	content, ok := sections["CONTENT"]
	if !ok {
		content = cleaned
	}

	return models.GeneratedPost{
		Title:    title,
		Excerpt:  excerpt,
		Category: p.Category(cleanText(firstLine(sections["CATEGORY"]))),
		Content:  p.sanitizer.NormalizeContent(content),
	}
}

// Category maps raw onto the configured list, ignoring case. Unknown values get the default.
func (p *Parser) Category(raw string) string {
	for _, c := range p.categories {
		if strings.EqualFold(c, raw) {
			return c
		}
	}
	return p.defaultCategory
}

// splitSections keeps the first occurrence of each label. Everything after CONTENT belongs to it.
func splitSections(text string) map[string]string {
	type mark struct {
		label      string
		start, end int
	}

	var marks []mark
	seen := make(map[string]bool, 4)
	for _, loc := range sectionLabel.FindAllStringSubmatchIndex(text, -1) {
		label := text[loc[2]:loc[3]]
		if seen[label] {
			continue
		}
		seen[label] = true
		marks = append(marks, mark{label: label, start: loc[0], end: loc[1]})
		if label == "CONTENT" {
			break
		}
	}

	sections := make(map[string]string, len(marks))
	for i, m := range marks {
		stop := len(text)
		if m.label != "CONTENT" && i+1 < len(marks) {
			stop = marks[i+1].start
		}
		sections[m.label] = strings.TrimSpace(text[m.end:stop])
	}
	return sections
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func firstParagraph(s string) string {
	s = strings.TrimSpace(s)
	if loc := blankLine.FindStringIndex(s); loc != nil {
		return s[:loc[0]]
	}
	return s
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "*", "")
	s = strings.TrimLeft(strings.TrimSpace(s), "# ")
	s = whitespace.ReplaceAllString(s, " ")
	s = outerQuotes.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.TrimSpace(s)
}
