package models

import "time"

// Role identifies the author of a conversational message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known message roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message represents a single conversational message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is the canonical input handed to every provider in the chain.
type GenerationRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ValidationResult is produced once per raw input by the safety gate.
type ValidationResult struct {
	Valid            bool
	SanitizedMessage string
	Error            string
}

// Article is a candidate piece of source material for the rewriter.
type Article struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	Snippet     string    `json:"snippet"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source"`
}

// GeneratedPost is the structured rewriter output.
type GeneratedPost struct {
	Title    string `json:"title"`
	Excerpt  string `json:"excerpt"`
	Category string `json:"category"`
	Content  string `json:"content"`
}
