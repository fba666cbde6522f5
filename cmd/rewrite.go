package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"genpipe/internal/rewriter"
)

var knownSlugsPath string

func init() {
	rewriteCmd.Flags().StringVar(&knownSlugsPath, "known-slugs", "", "file with one already-published slug per line")
	rootCmd.AddCommand(rewriteCmd)
}

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Generate one blog post from the configured feeds",
	Long:  "Fetches the feeds, picks the most relevant unpublished article and prints the generated post as JSON.",
	Args:  cobra.NoArgs,
	RunE:  runRewrite,
}

func runRewrite(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	known, err := readKnownSlugs(knownSlugsPath)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.rewriter.Run(cmd.Context(), known)
	if errors.Is(err, rewriter.ErrNoCandidates) || errors.Is(err, rewriter.ErrNoFreshCandidates) {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return nil
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// readKnownSlugs ignores blank lines and lines starting with #.
func readKnownSlugs(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open known slugs: %w", err)
	}
	defer f.Close()
	return parseKnownSlugs(f)
}

func parseKnownSlugs(r io.Reader) ([]string, error) {
	var slugs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		slugs = append(slugs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read known slugs: %w", err)
	}
	return slugs, nil
}
