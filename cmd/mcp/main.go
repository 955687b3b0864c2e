// Command fraudscope-mcp serves the scoring and dashboard endpoints of a
// running fraudscope API as MCP tools over stdio.
package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mbd888/fraudscope/internal/logging"
	"github.com/mbd888/fraudscope/internal/mcpserver"
)

// Version is set by ldflags
var Version = "dev"

const defaultAPIURL = "http://localhost:8080"

// serveStdio is swapped in tests so the command never blocks on stdin.
var serveStdio = func(s *server.MCPServer) error { return server.ServeStdio(s) }

func newRootCmd(getenv func(string) string) *cobra.Command {
	var (
		cfg      mcpserver.Config
		logLevel string
	)
	apiURL := getenv("FRAUDSCOPE_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	cmd := &cobra.Command{
		Use:           "fraudscope-mcp",
		Short:         "Expose a fraudscope API to LLM clients over MCP stdio",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkAPIURL(cfg.APIURL); err != nil {
				return err
			}
			// stdout carries the protocol, so logs go to stderr only.
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), logLevel, "text")
			logger.Info("mcp server starting", "api_url", cfg.APIURL, "version", Version)
			return serveStdio(mcpserver.NewMCPServer(cfg, Version))
		},
	}
	cmd.Flags().StringVar(&cfg.APIURL, "api-url", apiURL, "base URL of the fraudscope API")
	cmd.Flags().StringVar(&cfg.APIKey, "api-key", getenv("FRAUDSCOPE_API_KEY"), "API key sent with every request")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	return cmd
}

func checkAPIURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("api url %q: missing host", raw)
	}
	return nil
}

func main() {
	if err := newRootCmd(os.Getenv).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fraudscope-mcp: %v\n", err)
		os.Exit(1)
	}
}
