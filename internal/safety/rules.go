package safety

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"genpipe/internal/config"
)

// Stage is one classification pass. Stages run in the order injection, sensitive, inappropriate.
type Stage string

const (
	StageInjection     Stage = "injection"
	StageSensitive     Stage = "sensitive"
	StageInappropriate Stage = "inappropriate"
)

var stageOrder = map[Stage]int{
	StageInjection:     0,
	StageSensitive:     1,
	StageInappropriate: 2,
}

// Reason names why a message was deflected.
type Reason string

const (
	ReasonPromptInjection      Reason = "prompt_injection"
	ReasonFinancialRequest     Reason = "financial_request"
	ReasonSalaryRequest        Reason = "salary_request"
	ReasonClientRequest        Reason = "client_request"
	ReasonEmployeeRequest      Reason = "employee_request"
	ReasonInternalRequest      Reason = "internal_request"
	ReasonInappropriateContent Reason = "inappropriate_content"
)

// Deflections holds every pre-written reply the gate can return instead of a generated answer.
type Deflections struct {
	Injection     string
	Financial     string
	Clients       string
	Employees     string
	Internal      string
	Inappropriate string
	TooLong       string
	Empty         string
	RateLimited   string
}

// NewDeflections fills the reply templates with the business contact details.
func NewDeflections(b config.BusinessConfig, maxLen int) Deflections {
	return Deflections{
		Injection: fmt.Sprintf("I'm %s, here to help you learn about %s. How can I assist you with our services, careers, or company information?",
			b.AssistantName, b.Name),
		Financial: fmt.Sprintf("For financial or business partnership inquiries, please contact our team directly at %s or call %s. I'd be happy to tell you about our services instead!",
			b.Email, b.Phone),
		Clients: fmt.Sprintf("We work with clients across many industries. For specific partnership opportunities or client-related inquiries, please reach out to our team at %s.",
			b.Email),
		Employees: fmt.Sprintf("I can share information about our leadership team and career opportunities. For specific employee inquiries, please contact our HR department at %s.",
			b.Phone),
		Internal: fmt.Sprintf("I can share our public company information, services, and career opportunities. For detailed internal matters, please contact our team directly at %s.",
			b.Email),
		Inappropriate: fmt.Sprintf("I'm here to help with %s information. Is there something about our services, careers, or company I can help you with?",
			b.Name),
		TooLong:     fmt.Sprintf("Your message is a bit long. Could you please shorten it to %d characters or less?", maxLen),
		Empty:       fmt.Sprintf("It looks like your message is empty. How can I help you learn about %s?", b.Name),
		RateLimited: "You're sending messages too quickly. Please wait a moment and try again.",
	}
}

// For returns the reply associated with reason.
func (d Deflections) For(reason Reason) (string, bool) {
	switch reason {
	case ReasonPromptInjection:
		return d.Injection, true
	case ReasonFinancialRequest, ReasonSalaryRequest:
		return d.Financial, true
	case ReasonClientRequest:
		return d.Clients, true
	case ReasonEmployeeRequest:
		return d.Employees, true
	case ReasonInternalRequest:
		return d.Internal, true
	case ReasonInappropriateContent:
		return d.Inappropriate, true
	default:
		return "", false
	}
}

// Rule is one row of the classification table. An empty Response uses the reason's default deflection.
type Rule struct {
	Stage    Stage  `yaml:"stage"`
	Reason   Reason `yaml:"reason"`
	Pattern  string `yaml:"pattern"`
	Response string `yaml:"response,omitempty"`

	re *regexp.Regexp
}

// Matches reports whether the compiled pattern matches text.
func (r Rule) Matches(text string) bool {
	return r.re != nil && r.re.MatchString(text)
}

// DefaultRules is the built-in classification table.
func DefaultRules() []Rule {
	injection := []string{
		`(?i)ignore\s+(previous|all|your|the)\s+(instructions|prompts|rules)`,
		`(?i)you\s+are\s+now`,
		`(?i)act\s+as`,
		`(?i)pretend\s+(to\s+be|you\s+are|you're)`,
		`(?i)forget\s+(your|the)\s+(instructions|rules|prompt)`,
		`(?i)new\s+(instructions|rules|persona)`,
		`(?i)reveal\s+(your|the)\s+(system|prompt|instructions)`,
		`(?i)what\s+(is|are)\s+your\s+(instructions|rules|prompt|system)`,
		`(?i)bypass`,
		`(?i)jailbreak`,
		`\bDAN\b`,
		`(?i)do\s+anything\s+now`,
		`(?i)override\s+(your|the)`,
		`(?i)disregard\s+(your|the|all)`,
		`(?i)roleplay\s+as`,
		`(?i)you\s+must\s+obey`,
		`(?i)system\s+prompt`,
	}

	rules := make([]Rule, 0, len(injection)+9)
	for _, p := range injection {
		rules = append(rules, Rule{Stage: StageInjection, Reason: ReasonPromptInjection, Pattern: p})
	}

	rules = append(rules,
		Rule{Stage: StageSensitive, Reason: ReasonFinancialRequest, Pattern: `(?i)revenue|profit|income|earnings|financial`},
		Rule{Stage: StageSensitive, Reason: ReasonSalaryRequest, Pattern: `(?i)salary|salaries|compensation|pay\s+scale|how\s+much.*paid`},
		Rule{Stage: StageSensitive, Reason: ReasonClientRequest, Pattern: `(?i)client\s+(list|names?|details?)|who\s+are\s+your\s+clients`},
		Rule{Stage: StageSensitive, Reason: ReasonEmployeeRequest, Pattern: `(?i)employee\s+(list|names?|details?|personal)|staff\s+contact`},
		Rule{Stage: StageSensitive, Reason: ReasonInternalRequest, Pattern: `(?i)internal\s+|proprietary|confidential|secret\s+`},

		Rule{Stage: StageInappropriate, Reason: ReasonInappropriateContent, Pattern: `(?i)\b(fuck|shit|damn|ass|bitch)\b`},
		Rule{Stage: StageInappropriate, Reason: ReasonInappropriateContent, Pattern: `(?i)\b(kill|murder|attack|bomb|terrorist)\b`},
		Rule{Stage: StageInappropriate, Reason: ReasonInappropriateContent, Pattern: `(?i)\b(nude|porn|xxx|sex)\b`},
		Rule{Stage: StageInappropriate, Reason: ReasonInappropriateContent, Pattern: `(?i)\b(drug|cocaine|heroin|meth)\b`},
	)
	return rules
}

// Table is a compiled, stage-ordered rule set. It is immutable once built.
type Table struct {
	rules []Rule
}

// NewTable compiles rules and fills missing responses from d. Rules keep their relative order within a stage.
func NewTable(rules []Rule, d Deflections) (*Table, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		if _, ok := stageOrder[rule.Stage]; !ok {
			return nil, fmt.Errorf("rule %d: unknown stage %q", i, rule.Stage)
		}
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %d: pattern must not be empty", i)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: compile pattern: %w", i, err)
		}
		rule.re = re

		if rule.Response == "" {
			text, ok := d.For(rule.Reason)
			if !ok {
				return nil, fmt.Errorf("rule %d: reason %q has no default response", i, rule.Reason)
			}
			rule.Response = text
		}
		compiled = append(compiled, rule)
	}

	sort.SliceStable(compiled, func(a, b int) bool {
		return stageOrder[compiled[a].Stage] < stageOrder[compiled[b].Stage]
	})
	return &Table{rules: compiled}, nil
}

// Rules returns a copy of the compiled rules in evaluation order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Classify returns the verdict of the first matching rule.
func (t *Table) Classify(text string) Verdict {
	for _, rule := range t.rules {
		if rule.Matches(text) {
			return Verdict{Safe: false, Reason: rule.Reason, DeflectionResponse: rule.Response}
		}
	}
	return Verdict{Safe: true}
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file of the form `rules: [{stage, reason, pattern, response}]`.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file %q: %w", path, err)
	}
	if len(file.Rules) == 0 {
		return nil, errors.New("rules file must contain at least one rule")
	}
	return file.Rules, nil
}
