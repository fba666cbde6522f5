package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Business    BusinessConfig    `yaml:"business"`
	Logging     LoggingConfig     `yaml:"logging"`
	Safety      SafetyConfig      `yaml:"safety"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Rewriter    RewriterConfig    `yaml:"rewriter"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	CronSecret     string   `yaml:"cron_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	PublicURL      string   `yaml:"public_url"`
}

// BusinessConfig holds the contact details quoted in deflections, apologies and redaction allow-lists.
type BusinessConfig struct {
	Name          string `yaml:"name"`
	AssistantName string `yaml:"assistant_name"`
	Email         string `yaml:"email"`
	Phone         string `yaml:"phone"`
	Domain        string `yaml:"domain"`
	Hours         string `yaml:"hours"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SafetyConfig struct {
	MaxMessageLength int `yaml:"max_message_length"`
	// RulesFile optionally replaces the built-in classification table. It is watched for changes.
	RulesFile string `yaml:"rules_file"`
}

type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
	Backend     string        `yaml:"backend"`
	RedisURL    string        `yaml:"redis_url"`
}

type CredentialsConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table"`
	RedisURL      string `yaml:"redis_url"`
	AuthURL       string `yaml:"auth_url"`
	ExchangeURL   string `yaml:"exchange_url"`
}

// ProvidersConfig describes the generation chain: primary, optional secondary, then the pool.
type ProvidersConfig struct {
	Temperature   float64        `yaml:"temperature"`
	ChatMaxTokens int            `yaml:"chat_max_tokens"`
	PostMaxTokens int            `yaml:"post_max_tokens"`
	Timeout       time.Duration  `yaml:"timeout"`
	Primary       ProviderConfig `yaml:"primary"`
	Secondary     ProviderConfig `yaml:"secondary"`
	Pool          PoolConfig     `yaml:"pool"`
}

// ProviderConfig captures authentication and routing info for a chat-completions provider.
type ProviderConfig struct {
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
	Model   string  `yaml:"model"`
	Headers Headers `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// PoolConfig lists free models served from one shared endpoint. Order is the attempt order.
type PoolConfig struct {
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`
}

type RewriterConfig struct {
	Feeds           []FeedConfig  `yaml:"feeds"`
	FeedTimeout     time.Duration `yaml:"feed_timeout"`
	ItemsPerFeed    int           `yaml:"items_per_feed"`
	ContentMaxChars int           `yaml:"content_max_chars"`
	UserAgent       string        `yaml:"user_agent"`
	DefaultCategory string        `yaml:"default_category"`
	Categories      []string      `yaml:"categories"`
	Scoring         ScoringConfig `yaml:"scoring"`
}

type FeedConfig struct {
	URL    string `yaml:"url"`
	Source string `yaml:"source"`
}

// ScoringConfig holds the relevance weights used to rank candidate articles.
type ScoringConfig struct {
	Base              int            `yaml:"base"`
	PoliticalPenalty  int            `yaml:"political_penalty"`
	PoliticalKeywords []string       `yaml:"political_keywords"`
	Signals           []SignalConfig `yaml:"signals"`
	Combined          CombinedConfig `yaml:"combined"`
	Phrases           []string       `yaml:"phrases"`
	PhraseWeight      int            `yaml:"phrase_weight"`
	Recency           []RecencyStep  `yaml:"recency"`
}

// SignalConfig adds Weight when the title contains Title or the body contains Body.
type SignalConfig struct {
	Title  string `yaml:"title"`
	Body   string `yaml:"body"`
	Weight int    `yaml:"weight"`
}

// CombinedConfig rewards articles that hit both the sales and the AI signal.
type CombinedConfig struct {
	Sales  SignalConfig `yaml:"sales"`
	AI     SignalConfig `yaml:"ai"`
	Weight int          `yaml:"weight"`
}

type RecencyStep struct {
	Within time.Duration `yaml:"within"`
	Bonus  int           `yaml:"bonus"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:      8080,
			PublicURL: "http://localhost:8080",
		},
		Business: BusinessConfig{
			Name:          "SASA Worldwide",
			AssistantName: "SASA AI Assistant",
			Email:         "info@sasa-worldwide.com",
			Phone:         "+971 4 584 3777",
			Domain:        "sasa-worldwide.com",
			Hours:         "Sunday to Thursday, 9AM to 6PM",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Safety:  SafetyConfig{MaxMessageLength: 500},
		RateLimit: RateLimitConfig{
			Window:      60 * time.Second,
			MaxRequests: 30,
			Backend:     BackendMemory,
		},
		Credentials: CredentialsConfig{
			Backend:       BackendFile,
			Path:          ".ai-credentials.json",
			PostgresTable: "genpipe_kv",
			AuthURL:       "https://openrouter.ai/auth",
			ExchangeURL:   "https://openrouter.ai/api/v1/auth/keys",
		},
		Providers: ProvidersConfig{
			Temperature:   0.7,
			ChatMaxTokens: 500,
			PostMaxTokens: 2000,
			Timeout:       60 * time.Second,
			Primary: ProviderConfig{
				BaseURL: "https://openrouter.ai/api/v1",
				Model:   "openai/gpt-4o-mini",
			},
			Secondary: ProviderConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			Pool: PoolConfig{
				BaseURL: "https://text.pollinations.ai/openai",
				Models:  []string{"openai", "openai-fast", "mistral", "llama", "deepseek", "qwen-coder"},
			},
		},
		Rewriter: RewriterConfig{
			Feeds: []FeedConfig{
				{URL: "https://www.salesforce.com/blog/category/sales/rss/", Source: "Salesforce"},
				{URL: "https://www.saleshacker.com/feed/", Source: "Sales Hacker"},
				{URL: "https://www.axios.com/feeds/feed.rss", Source: "Axios"},
				{URL: "https://www.theverge.com/rss/ai-artificial-intelligence/index.xml", Source: "The Verge"},
				{URL: "https://www.wired.com/feed/tag/ai/latest/rss", Source: "Wired"},
				{URL: "https://www.zdnet.com/topic/artificial-intelligence/rss.xml", Source: "ZDNet"},
				{URL: "https://techcrunch.com/category/artificial-intelligence/feed/", Source: "TechCrunch"},
			},
			FeedTimeout:     10 * time.Second,
			ItemsPerFeed:    10,
			ContentMaxChars: 3000,
			UserAgent:       "Mozilla/5.0 (compatible; genpipe/1.0)",
			DefaultCategory: "Technology",
			Categories:      []string{"AI Sales", "Sales Strategy", "Business Growth", "Technology", "Leadership"},
			Scoring:         DefaultScoring(),
		},
	}
}

// DefaultScoring returns the stock relevance weights.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		Base:             10,
		PoliticalPenalty: 50,
		PoliticalKeywords: []string{
			"politics", "political", "election", "government policy", "regulation", "congress", "senate",
			"president", "administration", "legislation", "democrat", "republican", "trump", "biden",
		},
		Signals: []SignalConfig{
			{Title: "sales", Body: "sales", Weight: 15},
			{Title: "crm", Body: "pipeline", Weight: 10},
			{Title: "quota", Body: "outbound", Weight: 8},
			{Title: "prospecting", Body: "lead generation", Weight: 8},
			{Title: "revenue", Body: "revenue", Weight: 5},
			{Title: "b2b", Body: "b2b", Weight: 5},
			{Title: "ai", Body: "artificial intelligence", Weight: 5},
			{Title: "automation", Body: "agent", Weight: 3},
			{Title: "gpt", Body: "llm", Weight: 4},
			{Title: "machine learning", Body: "chatbot", Weight: 3},
			{Title: "leadership", Body: "strategy", Weight: 3},
			{Title: "growth", Body: "scale", Weight: 3},
			{Title: "uae", Body: "dubai", Weight: 5},
			{Title: "middle east", Body: "gcc", Weight: 3},
			{Title: "enterprise", Body: "enterprise", Weight: 3},
			{Title: "startup", Body: "startup", Weight: 2},
			{Title: "innovation", Body: "innovation", Weight: 2},
		},
		Combined: CombinedConfig{
			Sales:  SignalConfig{Title: "sales", Body: "sales"},
			AI:     SignalConfig{Title: "ai", Body: "artificial intelligence"},
			Weight: 20,
		},
		Phrases:      []string{"sales automation", "sales ai", "ai sales tools", "ai for sales"},
		PhraseWeight: 15,
		Recency: []RecencyStep{
			{Within: 6 * time.Hour, Bonus: 5},
			{Within: 24 * time.Hour, Bonus: 3},
			{Within: 48 * time.Hour, Bonus: 1},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or $GENPIPE_CONFIG when path is
// empty), and environment overrides, then validates the result.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = getenv("GENPIPE_CONFIG")
	}
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("GENPIPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got %q", v)
		}
		cfg.Server.Port = port
	}
	if v := getenv("CRON_SECRET"); v != "" {
		cfg.Server.CronSecret = v
	}
	if v := getenv("SECONDARY_API_KEY"); v != "" {
		cfg.Providers.Secondary.APIKey = v
	}
	if v := getenv("SECONDARY_MODEL"); v != "" {
		cfg.Providers.Secondary.Model = v
	}
	if v := getenv("POLLINATIONS_BASE_URL"); v != "" {
		cfg.Providers.Pool.BaseURL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		cfg.RateLimit.RedisURL = v
		cfg.Credentials.RedisURL = v
	}
	if v := getenv("DATABASE_DSN"); v != "" {
		cfg.Credentials.PostgresDSN = v
	}
	if v := getenv("CREDENTIALS_FILE"); v != "" {
		cfg.Credentials.Path = v
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if strings.TrimSpace(c.Business.Email) == "" || strings.TrimSpace(c.Business.Phone) == "" {
		return errors.New("business.email and business.phone must be provided")
	}
	if strings.TrimSpace(c.Business.Domain) == "" {
		return errors.New("business.domain must be provided")
	}

	if c.Safety.MaxMessageLength <= 0 {
		return fmt.Errorf("safety.max_message_length must be positive, got %d", c.Safety.MaxMessageLength)
	}

	if err := c.RateLimit.validate(); err != nil {
		return err
	}
	if err := c.Credentials.validate(); err != nil {
		return err
	}
	if err := c.Providers.validate(); err != nil {
		return err
	}
	return c.Rewriter.validate()
}

func (r RateLimitConfig) validate() error {
	if r.Window < time.Millisecond {
		return fmt.Errorf("rate_limit.window must be at least 1ms, got %s", r.Window)
	}
	if r.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", r.MaxRequests)
	}
	switch r.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(r.RedisURL) == "" {
			return errors.New("rate_limit.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("rate_limit.backend %q must be one of %q or %q", r.Backend, BackendMemory, BackendRedis)
	}
	return nil
}

func (c CredentialsConfig) validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendFile:
		if strings.TrimSpace(c.Path) == "" {
			return errors.New("credentials.path is required for the file backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("credentials.postgres_dsn is required for the postgres backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("credentials.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("credentials.backend %q is not supported", c.Backend)
	}
	if strings.TrimSpace(c.AuthURL) == "" || strings.TrimSpace(c.ExchangeURL) == "" {
		return errors.New("credentials.auth_url and credentials.exchange_url must be provided")
	}
	return nil
}

func (p ProvidersConfig) validate() error {
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("providers.temperature must be between 0 and 2, got %v", p.Temperature)
	}
	if p.ChatMaxTokens <= 0 || p.PostMaxTokens <= 0 {
		return errors.New("providers.chat_max_tokens and providers.post_max_tokens must be positive")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be positive, got %s", p.Timeout)
	}

	if err := validateProvider("primary", p.Primary); err != nil {
		return err
	}
	if p.Secondary.APIKey != "" {
		if err := validateProvider("secondary", p.Secondary); err != nil {
			return err
		}
	}

	if strings.TrimSpace(p.Pool.BaseURL) == "" {
		return errors.New("providers.pool.base_url must be provided")
	}
	if len(p.Pool.Models) == 0 {
		return errors.New("providers.pool: at least one model must be configured")
	}
	seen := make(map[string]struct{}, len(p.Pool.Models))
	for _, model := range p.Pool.Models {
		if strings.TrimSpace(model) == "" {
			return errors.New("providers.pool: model id must not be empty")
		}
		if _, dup := seen[model]; dup {
			return fmt.Errorf("providers.pool: model %q listed twice", model)
		}
		seen[model] = struct{}{}
	}
	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}
	if strings.TrimSpace(provider.Model) == "" {
		return fmt.Errorf("provider %s: model must be provided", name)
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}
	return nil
}

func (r RewriterConfig) validate() error {
	if len(r.Feeds) == 0 {
		return errors.New("rewriter.feeds: at least one feed must be configured")
	}
	for i, feed := range r.Feeds {
		if strings.TrimSpace(feed.URL) == "" {
			return fmt.Errorf("rewriter.feeds[%d]: url must be provided", i)
		}
	}
	if r.FeedTimeout <= 0 {
		return fmt.Errorf("rewriter.feed_timeout must be positive, got %s", r.FeedTimeout)
	}
	if r.ItemsPerFeed <= 0 {
		return fmt.Errorf("rewriter.items_per_feed must be positive, got %d", r.ItemsPerFeed)
	}
	if r.ContentMaxChars <= 0 {
		return fmt.Errorf("rewriter.content_max_chars must be positive, got %d", r.ContentMaxChars)
	}
	if strings.TrimSpace(r.DefaultCategory) == "" {
		return errors.New("rewriter.default_category must be provided")
	}
	for _, step := range r.Scoring.Recency {
		if step.Within <= 0 {
			return fmt.Errorf("rewriter.scoring.recency: window %s must be positive", step.Within)
		}
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
