package source

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"genpipe/internal/config"
	"genpipe/internal/models"
)

// Scored pairs an article with its relevance score.
type Scored struct {
	models.Article
	Score int `json:"score"`
}

// Scorer ranks articles by keyword relevance and recency.
type Scorer struct {
	cfg   config.ScoringConfig
	now   func() time.Time
	short map[string]*regexp.Regexp
}

// NewScorer builds a scorer; now defaults to time.Now.
// Terms of one or two letters only match whole words, so "ai" does not fire on "said".
func NewScorer(cfg config.ScoringConfig, now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	s := &Scorer{cfg: cfg, now: now, short: make(map[string]*regexp.Regexp)}

	var terms []string
	terms = append(terms, cfg.PoliticalKeywords...)
	terms = append(terms, cfg.Phrases...)
	terms = append(terms, cfg.Combined.Sales.Title, cfg.Combined.Sales.Body, cfg.Combined.AI.Title, cfg.Combined.AI.Body)
	for _, sig := range cfg.Signals {
		terms = append(terms, sig.Title, sig.Body)
	}
	for _, t := range terms {
		t = strings.ToLower(t)
		if t != "" && len(t) <= 2 {
			s.short[t] = regexp.MustCompile(`\b` + regexp.QuoteMeta(t) + `\b`)
		}
	}
	return s
}

// Score returns the signed relevance score of a.
func (s *Scorer) Score(a models.Article) int {
	title := strings.ToLower(a.Title)
	body := a.Description
	if body == "" {
		body = a.Snippet
	}
	body = strings.ToLower(body)

	score := s.cfg.Base

	for _, kw := range s.cfg.PoliticalKeywords {
		if s.contains(title, kw) || s.contains(body, kw) {
			score -= s.cfg.PoliticalPenalty
			break
		}
	}

	for _, sig := range s.cfg.Signals {
		if s.hit(sig, title, body) {
			score += sig.Weight
		}
	}

	if s.hit(s.cfg.Combined.Sales, title, body) && s.hit(s.cfg.Combined.AI, title, body) {
		score += s.cfg.Combined.Weight
	}

	for _, phrase := range s.cfg.Phrases {
		if s.contains(title, phrase) || s.contains(body, phrase) {
			score += s.cfg.PhraseWeight
		}
	}

	age := s.now().Sub(a.PublishedAt)
	for _, step := range s.cfg.Recency {
		if age < step.Within {
			score += step.Bonus
			break
		}
	}
	return score
}

// SelectBest prefers the highest strictly positive score and otherwise returns the top article anyway.
// Equal scores keep fetch order. ok is false only for an empty input.
func (s *Scorer) SelectBest(articles []models.Article) (Scored, bool) {
	ranked := s.Rank(articles)
	if len(ranked) == 0 {
		return Scored{}, false
	}
	return ranked[0], true
}

// Rank scores every article and sorts them by descending score, keeping fetch order on ties.
func (s *Scorer) Rank(articles []models.Article) []Scored {
	ranked := make([]Scored, len(articles))
	for i, a := range articles {
		ranked[i] = Scored{Article: a, Score: s.Score(a)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

func (s *Scorer) hit(sig config.SignalConfig, title, body string) bool {
	return s.contains(title, sig.Title) || s.contains(body, sig.Body)
}

func (s *Scorer) contains(text, term string) bool {
	if term == "" {
		return false
	}
	term = strings.ToLower(term)
	if re, ok := s.short[term]; ok {
		return re.MatchString(text)
	}
	return strings.Contains(text, term)
}
