// Package cmd provides the CLI commands for superfetch.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/superfetch/superfetch/internal/config"
)

var (
	cfgFile      string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "superfetch",
	Short: "superfetch - MCP web fetch gateway",
	Long: `superfetch is an MCP (Model Context Protocol) gateway that fetches one
public web page per call and returns LLM-ready Markdown plus metadata.

It guards every fetch against SSRF, strips page noise, converts the
content to Markdown on a bounded worker pool, and caches results
in memory.

Quick start:
  # Serve MCP over HTTP on 127.0.0.1:3000
  ACCESS_TOKENS=my-secret superfetch start

  # Serve MCP on stdin/stdout for a client that spawns the process
  superfetch stdio

  # Fetch one page from the command line
  superfetch fetch https://example.com

Configuration:
  Settings come from environment variables (HOST, PORT, AUTH_MODE,
  ACCESS_TOKENS, CACHE_TTL, ...) or from superfetch.yaml in the current
  directory, $HOME/.superfetch/, or /etc/superfetch/. Environment
  values win.

Commands:
  start       Start the HTTP MCP server
  stdio       Serve MCP on stdin/stdout
  fetch       Fetch one URL and print its Markdown
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./superfetch.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "minimum log level (debug|info|warn|error)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// newLogger builds the process logger on stderr. Stdout stays reserved
// for the MCP stream in stdio mode and the page markdown in fetch mode.
// The --log-level flag overrides the configured level.
func newLogger(level string) *slog.Logger {
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
