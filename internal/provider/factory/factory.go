// Package factory builds the provider chain from configuration.
package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"genpipe/internal/config"
	"genpipe/internal/provider"
	"genpipe/internal/provider/openai"
	"genpipe/internal/provider/pollinations"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// BuildChain assembles primary -> secondary (when a key is configured) -> pool models in configured order.
// The primary reads its token from tokens on every attempt, so connecting or disconnecting takes effect
// without a restart.
func BuildChain(cfg config.Config, tokens openai.TokenSource) (*provider.Chain, error) {
	timeout := cfg.Providers.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := newHTTPClient(timeout)

	var chain []provider.Provider

	primaryCfg := cfg.Providers.Primary
	primaryCfg.Headers = identificationHeaders(cfg)
	primary, err := openai.New("primary", primaryCfg, tokens, client)
	if err != nil {
		return nil, fmt.Errorf("initialise primary provider: %w", err)
	}
	chain = append(chain, primary)

	if cfg.Providers.Secondary.APIKey != "" {
		secondary, err := openai.New("secondary", cfg.Providers.Secondary, openai.StaticToken(cfg.Providers.Secondary.APIKey), client)
		if err != nil {
			return nil, fmt.Errorf("initialise secondary provider: %w", err)
		}
		chain = append(chain, secondary)
	}

	for _, model := range cfg.Providers.Pool.Models {
		p, err := pollinations.New(cfg.Providers.Pool.BaseURL, model, client)
		if err != nil {
			return nil, fmt.Errorf("initialise pool model %q: %w", model, err)
		}
		chain = append(chain, p)
	}

	return provider.NewChain(chain...)
}

// identificationHeaders identifies the calling site to the primary vendor. Configured headers win.
func identificationHeaders(cfg config.Config) config.Headers {
	headers := config.Headers{
		http.CanonicalHeaderKey("HTTP-Referer"): cfg.Server.PublicURL,
		http.CanonicalHeaderKey("X-Title"):      cfg.Business.Name,
	}
	for k, v := range cfg.Providers.Primary.Headers {
		headers[http.CanonicalHeaderKey(k)] = v
	}
	return headers
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
