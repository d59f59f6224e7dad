package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/superfetch/superfetch/internal/config"
	"github.com/superfetch/superfetch/internal/port/inbound"
)

var skipNoise bool

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch one URL and print its Markdown",
	Long: `Fetch one public web page and print the converted Markdown to stdout.

The page goes through the same pipeline as the MCP tool: SSRF guard,
noise removal, readability extraction, and Markdown conversion. Logs go
to stderr, so the output can be piped or redirected.

Examples:
  superfetch fetch https://example.com
  superfetch fetch --skip-noise https://example.com > page.md`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&skipNoise, "skip-noise", false, "keep page chrome (navigation, banners, consent prompts)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	// One call, one exit: no cache.
	pipe, err := buildPipeline(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer pipe.close()

	res, err := pipe.fetch.Fetch(ctx, inbound.FetchRequest{
		URL:              args[0],
		SkipNoiseRemoval: skipNoise,
	})
	if err != nil {
		return err
	}

	fmt.Print(res.Markdown)
	if !strings.HasSuffix(res.Markdown, "\n") {
		fmt.Println()
	}
	return nil
}
