// Package normalize cleans generated text before it reaches a caller.
package normalize

import (
	"regexp"
	"strings"

	"genpipe/internal/config"
)

// maxPasses bounds the fixed-point loops. Real inputs settle in one or two passes.
const maxPasses = 8

var (
	// Blocks that run until the next horizontal rule or the end of the text.
	watermarkBlocks = []*regexp.Regexp{
		regexp.MustCompile(`(?i)---\s*\*\*Support Pollinations\.AI:\*\*`),
		regexp.MustCompile(`🌸\s*\*\*Ad\*\*\s*🌸`),
	}
	watermarkLines = []*regexp.Regexp{
		regexp.MustCompile(`(?i)---\s*\n?\s*\*?Generated[^\n]*Pollinations[^\n]*`),
		regexp.MustCompile(`(?i)\*{0,2}Powered by Pollinations\.AI[^\n]*`),
		regexp.MustCompile(`(?i)\[Support our mission\][^\n]*`),
		regexp.MustCompile(`(?i)Support Pollinations\.AI[^\n]*`),
	}
	doubleRule   = regexp.MustCompile(`---[ \t]*\n\s*---`)
	trailingRule = regexp.MustCompile(`\s*---\s*$`)
	blankRun     = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

	promptLeaks = []*regexp.Regexp{
		regexp.MustCompile(`(?i)system\s*prompt\s*[:=]`),
		regexp.MustCompile(`(?i)my\s+instructions\s+(are|say)`),
	}

	// International numbers need a leading +; otherwise only the 3-3-4 grouping counts as a phone.
	phoneCandidate = regexp.MustCompile(`\+\d[\d \t().-]{6,}\d|\(?\b\d{3}\)?[ .-]?\d{3}[.-]?\d{4}\b`)
	dateShape      = regexp.MustCompile(`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}`)
	emailAddress   = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)

	headingMarker = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+`)
	bulletMarker  = regexp.MustCompile(`(?m)^([ \t]*)[*•][ \t]+`)
)

const (
	phonePlaceholder = "[PHONE]"
	emailPlaceholder = "[EMAIL]"
)

// Sanitizer removes vendor boilerplate and third-party contact data from generated text.
type Sanitizer struct {
	phoneDigits string
	domain      string
}

func NewSanitizer(business config.BusinessConfig) *Sanitizer {
	return &Sanitizer{
		phoneDigits: digitsOf(business.Phone),
		domain:      strings.ToLower(strings.TrimSpace(business.Domain)),
	}
}

// StripWatermarks removes promotional blocks and collapses runs of blank lines to one.
func (s *Sanitizer) StripWatermarks(text string) string {
	return fixedPoint(text, stripWatermarksOnce)
}

// Sanitize prepares a chat reply: leaked prompt phrases, watermarks, foreign contact data and
// markdown emphasis are removed.
func (s *Sanitizer) Sanitize(text string) string {
	return fixedPoint(text, func(in string) string {
		out := in
		for _, re := range promptLeaks {
			out = re.ReplaceAllString(out, "")
		}
		out = stripWatermarksOnce(out)
		out = s.RedactContacts(out)
		out = stripMarkdown(out)
		out = blankRun.ReplaceAllString(out, "\n\n")
		return strings.TrimSpace(out)
	})
}

// RedactContacts replaces phone numbers and email addresses that do not belong to the business.
func (s *Sanitizer) RedactContacts(text string) string {
	text = phoneCandidate.ReplaceAllStringFunc(text, func(match string) string {
		digits := digitsOf(match)
		if len(digits) < 9 || len(digits) > 15 || dateShape.MatchString(match) {
			return match
		}
		if s.isBusinessPhone(digits) {
			return match
		}
		return phonePlaceholder
	})

	return emailAddress.ReplaceAllStringFunc(text, func(match string) string {
		at := strings.LastIndexByte(match, '@')
		domain := strings.ToLower(match[at+1:])
		if s.domain != "" && (domain == s.domain || strings.HasSuffix(domain, "."+s.domain)) {
			return match
		}
		return emailPlaceholder
	})
}

// isBusinessPhone accepts the configured number in international or local (trunk-prefixed) form.
func (s *Sanitizer) isBusinessPhone(digits string) bool {
	if s.phoneDigits == "" {
		return false
	}
	if digits == s.phoneDigits {
		return true
	}
	local := strings.TrimLeft(digits, "0")
	return len(local) >= 7 && len(local) < len(digits) && strings.HasSuffix(s.phoneDigits, local)
}

func stripWatermarksOnce(text string) string {
	for _, start := range watermarkBlocks {
		text = cutBlocks(text, start)
	}
	for _, re := range watermarkLines {
		text = re.ReplaceAllString(text, "")
	}
	text = doubleRule.ReplaceAllString(text, "")
	text = blankRun.ReplaceAllString(text, "\n\n")
	text = trailingRule.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// cutBlocks deletes every region that starts at a match of start and ends right before the next
// "---" or at the end of the text.
func cutBlocks(text string, start *regexp.Regexp) string {
	var b strings.Builder
	for {
		loc := start.FindStringIndex(text)
		if loc == nil {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:loc[0]])
		rest := text[loc[1]:]
		end := strings.Index(rest, "---")
		if end < 0 {
			return b.String()
		}
		text = rest[end:]
	}
}

func stripMarkdown(text string) string {
	text = headingMarker.ReplaceAllString(text, "")
	text = bulletMarker.ReplaceAllString(text, "$1- ")
	return strings.ReplaceAll(text, "*", "")
}

func fixedPoint(text string, step func(string) string) string {
	for i := 0; i < maxPasses; i++ {
		next := step(text)
		if next == text {
			return next
		}
		text = next
	}
	return text
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
