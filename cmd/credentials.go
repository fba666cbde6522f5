package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"genpipe/internal/config"
	"genpipe/internal/credentials"
)

func init() {
	credentialsCmd.AddCommand(credentialsStatusCmd, credentialsResetCmd)
	rootCmd.AddCommand(credentialsCmd)
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Inspect or clear the primary provider credentials",
}

var credentialsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the primary provider is connected",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCredentials(cmd, func(store *credentials.Store) error {
			status, err := store.Status(cmd.Context())
			if err != nil {
				return err
			}
			if !status.Connected {
				fmt.Fprintln(cmd.OutOrStdout(), "not connected")
				return nil
			}
			since := "unknown"
			if status.ConnectedAt != nil {
				since = status.ConnectedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected since %s\n", since)
			return nil
		})
	},
}

var credentialsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored access token and any pending authorization",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCredentials(cmd, func(store *credentials.Store) error {
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credentials cleared")
			return nil
		})
	},
}

func withCredentials(cmd *cobra.Command, fn func(*credentials.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Credentials.Backend == config.BackendMemory {
		return fmt.Errorf("credentials.backend %q does not persist between runs", cfg.Credentials.Backend)
	}

	a := &app{cfg: cfg}
	defer a.close()
	store, err := a.openCredentialStore(cmd.Context())
	if err != nil {
		return err
	}
	return fn(credentials.NewStore(store, nil))
}
