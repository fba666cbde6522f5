// Package cmd implements the genpipe command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "genpipe",
	Short:         "Website chat assistant and news-to-blog rewriter",
	Long:          "genpipe answers visitor questions through a guarded provider chain and turns industry news into blog posts.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (defaults to $GENPIPE_CONFIG)")
}

// Execute runs the root command with ctx attached to every subcommand.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
