package normalize

import (
	"regexp"
	"strings"
)

var allowedTags = map[string]struct{}{
	"p": {}, "h2": {}, "h3": {}, "ul": {}, "li": {}, "strong": {},
}

var (
	anyTag          = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)\b[^>]*>`)
	inlineBold      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	inlineEmphasis  = regexp.MustCompile(`\*([^*\n]+)\*`)
	boldHeadingLine = regexp.MustCompile(`^\*\*[^*]+\*\*:?$`)
	numberedItem    = regexp.MustCompile(`^\d+[.)]\s+`)
	bulletItem      = regexp.MustCompile(`^(?:[-*•])\s+`)
	horizontalRule  = regexp.MustCompile(`^(?:-{3,}|\*{3,}|_{3,})$`)
	headingLine     = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	emptyParagraph  = regexp.MustCompile(`<p>\s*</p>`)
	newlineRun      = regexp.MustCompile(`\n{3,}`)
)

// NeedsHTML reports whether content still has to go through ToHTML.
func NeedsHTML(content string) bool {
	return !strings.Contains(content, "<p>") || strings.Contains(content, "**") || strings.Contains(content, "## ")
}

// ToHTML converts line-oriented markdown into the p/h2/h3/ul/li/strong vocabulary.
// Lines that already start with markup are kept and later filtered by the tag allow-list.
func ToHTML(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	var items []string

	flush := func() {
		if len(items) == 0 {
			return
		}
		var b strings.Builder
		b.WriteString("<ul>\n")
		for _, item := range items {
			b.WriteString("<li>")
			b.WriteString(item)
			b.WriteString("</li>\n")
		}
		b.WriteString("</ul>")
		out = append(out, b.String())
		items = nil
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flush()

		case horizontalRule.MatchString(line):
			flush()

		case headingLine.MatchString(line):
			flush()
			m := headingLine.FindStringSubmatch(line)
			tag := "h2"
			if len(m[1]) >= 3 {
				tag = "h3"
			}
			out = append(out, "<"+tag+">"+inlineText(m[2], false)+"</"+tag+">")

		case boldHeadingLine.MatchString(line) && len(line) < 100:
			flush()
			heading := strings.TrimSuffix(line, ":")
			out = append(out, "<h2>"+inlineText(heading, false)+"</h2>")

		case bulletItem.MatchString(line):
			items = append(items, inlineText(bulletItem.ReplaceAllString(line, ""), true))

		case numberedItem.MatchString(line):
			items = append(items, inlineText(numberedItem.ReplaceAllString(line, ""), true))

		default:
			flush()
			if strings.HasPrefix(line, "<") {
				out = append(out, inlineText(line, true))
				continue
			}
			out = append(out, "<p>"+inlineText(line, true)+"</p>")
		}
	}
	flush()

	return strings.Join(out, "\n")
}

// inlineText turns **bold** into <strong> when keepBold is set and drops every other emphasis marker.
func inlineText(s string, keepBold bool) string {
	if keepBold {
		s = inlineBold.ReplaceAllString(s, "<strong>$1</strong>")
	} else {
		s = inlineBold.ReplaceAllString(s, "$1")
	}
	s = inlineEmphasis.ReplaceAllString(s, "$1")
	return strings.TrimSpace(strings.ReplaceAll(s, "*", ""))
}

// FilterTags drops every tag outside the allowed vocabulary and strips attributes from the rest.
func FilterTags(html string) string {
	return anyTag.ReplaceAllStringFunc(html, func(tag string) string {
		m := anyTag.FindStringSubmatch(tag)
		name := strings.ToLower(m[1])
		if _, ok := allowedTags[name]; !ok {
			return ""
		}
		if strings.HasPrefix(tag, "</") {
			return "</" + name + ">"
		}
		return "<" + name + ">"
	})
}

// NormalizeContent turns a generated post body into clean, watermark-free HTML.
func (s *Sanitizer) NormalizeContent(content string) string {
	return fixedPoint(content, func(in string) string {
		out := s.StripWatermarks(in)
		if NeedsHTML(out) {
			out = ToHTML(out)
		}
		out = FilterTags(out)
		out = strings.ReplaceAll(out, "*", "")
		out = emptyParagraph.ReplaceAllString(out, "")
		out = newlineRun.ReplaceAllString(out, "\n\n")
		out = trailingRule.ReplaceAllString(out, "")
		return strings.TrimSpace(out)
	})
}
