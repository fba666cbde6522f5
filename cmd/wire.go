package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"genpipe/internal/assistant"
	"genpipe/internal/config"
	"genpipe/internal/credentials"
	"genpipe/internal/kv"
	"genpipe/internal/logging"
	"genpipe/internal/normalize"
	"genpipe/internal/provider"
	providerfactory "genpipe/internal/provider/factory"
	"genpipe/internal/rewriter"
	"genpipe/internal/safety"
	"genpipe/internal/source"
)

const (
	credentialsPrefix = "genpipe:credentials:"
	rateLimitPrefix   = "genpipe:"
)

// app holds every wired component. Commands pick what they need and call close when done.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	counter   kv.Counter
	gate      *safety.Gate
	creds     *credentials.Store
	handshake *credentials.Handshake
	assistant *assistant.Assistant
	rewriter  *rewriter.Rewriter
	closers   []func() error
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		logger: logging.NewWithWriter(logOut, cfg.Logging.Level, cfg.Logging.Format),
	}
	slog.SetDefault(a.logger)
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	store, err := a.openCredentialStore(ctx)
	if err != nil {
		return nil, err
	}
	a.creds = credentials.NewStore(store, nil)

	a.handshake, err = credentials.NewHandshake(a.creds, &http.Client{Timeout: cfg.Providers.Timeout},
		cfg.Credentials.AuthURL, cfg.Credentials.ExchangeURL)
	if err != nil {
		return nil, err
	}

	a.counter, err = a.openCounter(ctx)
	if err != nil {
		return nil, err
	}
	a.gate, err = safety.New(cfg.Safety, cfg.RateLimit, cfg.Business, a.counter, a.logger)
	if err != nil {
		return nil, err
	}

	chain, err := providerfactory.BuildChain(cfg, a.creds)
	if err != nil {
		return nil, err
	}
	a.logger.Info("provider chain ready", "providers", chain.Names())

	sanitizer := normalize.NewSanitizer(cfg.Business)
	apology := provider.Apology(cfg.Business)

	chat := provider.NewOrchestrator(chain, apology,
		provider.WithNormalizer(sanitizer.Sanitize),
		provider.WithLogger(a.logger))
	a.assistant = assistant.New(a.gate, chat, cfg.Business, cfg.Providers, a.logger)

	posts := provider.NewOrchestrator(chain, apology,
		provider.WithNormalizer(sanitizer.StripWatermarks),
		provider.WithLogger(a.logger))
	a.rewriter = rewriter.New(
		source.NewFetcher(cfg.Rewriter, nil, a.logger),
		source.NewContentFetcher(nil, cfg.Rewriter.ContentMaxChars, cfg.Rewriter.UserAgent, a.logger),
		source.NewScorer(cfg.Rewriter.Scoring, nil),
		posts,
		normalize.NewParser(sanitizer, cfg.Rewriter.DefaultCategory, cfg.Rewriter.Categories),
		cfg,
		a.logger,
	)

	return a, nil
}

func (a *app) openCredentialStore(ctx context.Context) (kv.KV, error) {
	cfg := a.cfg.Credentials
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemory(), nil
	case config.BackendFile:
		return kv.NewFile(cfg.Path)
	case config.BackendRedis:
		rdb, err := kv.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		return kv.NewRedis(rdb, credentialsPrefix), nil
	case config.BackendPostgres:
		pg, err := kv.OpenPostgres(ctx, cfg.PostgresDSN, cfg.PostgresTable)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported credentials backend %q", cfg.Backend)
	}
}

func (a *app) openCounter(ctx context.Context) (kv.Counter, error) {
	cfg := a.cfg.RateLimit
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemoryCounter(nil), nil
	case config.BackendRedis:
		rdb, err := kv.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		return kv.NewRedisCounter(rdb, rateLimitPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", cfg.Backend)
	}
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
