// Package server exposes the assistant, the rewriter and the credential handshake over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"genpipe/internal/assistant"
	"genpipe/internal/config"
	"genpipe/internal/credentials"
	"genpipe/internal/rewriter"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 3 * time.Minute
	idleTimeout         = 120 * time.Second
)

// Assistant answers chat turns.
type Assistant interface {
	Respond(ctx context.Context, callerID string, req assistant.Request) assistant.Reply
	Welcome() string
}

// Rewriter produces one post per run.
type Rewriter interface {
	Run(ctx context.Context, knownSlugs []string) (rewriter.Result, error)
}

// Credentials exposes the connection state of the primary provider.
type Credentials interface {
	Status(ctx context.Context) (credentials.Status, error)
	Reset(ctx context.Context) error
}

// Handshake runs the browser authorization flow.
type Handshake interface {
	Begin(ctx context.Context, callbackURL string) (string, error)
	Complete(ctx context.Context, code string) error
}

// Deps are the collaborators behind the routes. Rewriter, Credentials and Handshake are optional; their
// routes are not registered when nil.
type Deps struct {
	Assistant   Assistant
	Rewriter    Rewriter
	Credentials Credentials
	Handshake   Handshake
	Logger      *slog.Logger
}

type Server struct {
	cfg      config.Config
	deps     Deps
	app      *echo.Echo
	address  string
	logger   *slog.Logger
	upgrader websocket.Upgrader
	origins  map[string]bool
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Assistant == nil {
		return nil, errors.New("assistant must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	if len(cfg.Server.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		}))
	}

	origins := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		origins[o] = true
	}

	srv := &Server{
		cfg:     cfg,
		deps:    deps,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
		logger:  logger,
		origins: origins,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     srv.checkOrigin,
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed application, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg)
	s.logger.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)

	s.app.GET("/api/chat", s.handleChatInfo)
	s.app.POST("/api/chat", s.handleChat)
	s.app.GET("/api/chat/ws", s.handleChatSocket)

	if s.deps.Rewriter != nil {
		s.app.GET("/api/cron/rewrite", s.handleRewrite)
		s.app.POST("/api/cron/rewrite", s.handleRewrite)
	}

	if s.deps.Handshake != nil {
		s.app.GET("/api/auth/openrouter/connect", s.handleConnect)
		s.app.GET("/api/auth/openrouter/callback", s.handleCallback)
	}
	if s.deps.Credentials != nil {
		s.app.GET("/api/auth/openrouter/status", s.handleStatus)
		s.app.POST("/api/auth/openrouter/disconnect", s.handleDisconnect)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// authorized accepts the cron secret as a bearer token or as ?secret=. An unset secret denies everything.
func (s *Server) authorized(c echo.Context) bool {
	secret := s.cfg.Server.CronSecret
	if secret == "" {
		return false
	}
	bearer := c.Request().Header.Get(echo.HeaderAuthorization)
	if subtle.ConstantTimeCompare([]byte(bearer), []byte("Bearer "+secret)) == 1 {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(c.QueryParam("secret")), []byte(secret)) == 1
}

func printStartupBanner(cfg config.Config) {
	fmt.Println()
	fmt.Println("genpipe ready")
	fmt.Printf("Listening on http://127.0.0.1:%d\n", cfg.Server.Port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /api/chat")
	fmt.Println("  POST /api/chat")
	fmt.Println("  GET  /api/chat/ws")
	fmt.Println("  POST /api/cron/rewrite")
	fmt.Println("  GET  /api/auth/openrouter/{connect,callback,status}")
	fmt.Println("  POST /api/auth/openrouter/disconnect")
	fmt.Println()
}
