package cmd

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/superfetch/superfetch/internal/adapter/inbound/mcpserver"
	"github.com/superfetch/superfetch/internal/adapter/inbound/stdio"
	"github.com/superfetch/superfetch/internal/config"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve MCP on stdin/stdout",
	Long: `Serve the MCP fetch tool on stdin/stdout.

This mode is for clients that spawn superfetch as a subprocess and own
its pipes, so there is no authentication and no rate limiting: whoever
started the process already controls it. Logs go to stderr.

Example client registration (Claude Desktop, Cursor, ...):
  { "command": "superfetch", "args": ["stdio"] }`,
	RunE: runStdio,
}

func init() {
	rootCmd.AddCommand(stdioCmd)
}

func runStdio(cmd *cobra.Command, args []string) error {
	// Raw load: the server credential rules do not apply to a
	// process-local transport.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	pipe, err := buildPipeline(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer pipe.close()

	factory := mcpserver.NewFactory(pipe.fetch, pipe.contentCache(),
		logger.With("component", "mcp"),
		mcpserver.Config{
			Version:        Version,
			MaxInlineChars: cfg.Transform.MaxInlineChars,
		})

	transport := stdio.NewTransport(factory, logger.With("component", "stdio"))
	return transport.Start(ctx)
}
