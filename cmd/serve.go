package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"genpipe/internal/kv"
	"genpipe/internal/safety"
	"genpipe/internal/server"
)

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server port from configuration")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Serves the chat API, the chat websocket, the provider authorization flow and the cron rewrite endpoint.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		if servePort < 0 || servePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", servePort)
		}
		cfg.Server.Port = servePort
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Safety.RulesFile != "" {
		watcher, err := safety.NewRulesWatcher(a.gate, cfg.Safety.RulesFile, a.logger)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				a.logger.Error("rules watcher stopped", "error", err)
			}
		}()
	}

	if counter, ok := a.counter.(*kv.MemoryCounter); ok {
		go pruneCounter(ctx, counter, cfg.RateLimit.Window)
	}

	srv, err := server.New(cfg, server.Deps{
		Assistant:   a.assistant,
		Rewriter:    a.rewriter,
		Credentials: a.creds,
		Handshake:   a.handshake,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func pruneCounter(ctx context.Context, counter *kv.MemoryCounter, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counter.Prune(window)
		}
	}
}
