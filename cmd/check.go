package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"genpipe/internal/kv"
	"genpipe/internal/logging"
	"genpipe/internal/safety"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check <message>",
	Short: "Run a message through the safety gate without calling any provider",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gate, err := safety.New(cfg.Safety, cfg.RateLimit, cfg.Business, kv.NewMemoryCounter(nil), logging.Discard())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	validation := gate.Validate(strings.Join(args, " "))
	if !validation.Valid {
		fmt.Fprintf(out, "rejected: %s\n", validation.Error)
		return nil
	}

	verdict := gate.Classify(validation.SanitizedMessage)
	if verdict.Safe {
		fmt.Fprintf(out, "safe: %s\n", validation.SanitizedMessage)
		return nil
	}
	fmt.Fprintf(out, "deflected (%s): %s\n", verdict.Reason, verdict.DeflectionResponse)
	return nil
}
