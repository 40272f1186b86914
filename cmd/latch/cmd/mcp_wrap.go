package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/latch-sh/latch/internal/domain/secrets"
)

var mcpWrapCmd = &cobra.Command{
	Use:   "mcp-wrap -- <command> [args...]",
	Short: "Launch an MCP server with secrets resolved into its env",
	Long: `Launch the given command with secret values injected into its
environment and latch-internal variables stripped out. Stdio is inherited,
so the harness speaks MCP directly to the child process.

Environment inputs:
  LATCH_RESOLVE       bindings, e.g. "API_KEY=secret:OPENAI;DB=secret:PG"
  LATCH_AUTHZ_URL     loopback core URL, e.g. http://127.0.0.1:7821
  LATCH_AUTHZ_SECRET  bearer secret for the core

The wrapper exits with the child's exit code (128+signal when the child
died to a signal).`,
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: false,
	RunE:               runMcpWrap,
}

func init() {
	rootCmd.AddCommand(mcpWrapCmd)
}

func runMcpWrap(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	bindings, err := secrets.ParseResolveSpec(os.Getenv("LATCH_RESOLVE"))
	if err != nil {
		return fmt.Errorf("LATCH_RESOLVE: %w", err)
	}

	var resolver secrets.Resolver
	if len(bindings) > 0 {
		baseURL := os.Getenv("LATCH_AUTHZ_URL")
		if baseURL == "" {
			return errors.New("LATCH_AUTHZ_URL is required when LATCH_RESOLVE is set")
		}
		resolver = secrets.NewHTTPResolver(baseURL, os.Getenv("LATCH_AUTHZ_SECRET"))
	}

	wrapper := &secrets.Wrapper{
		Resolver: resolver,
		Bindings: bindings,
		Command:  args,
		Logger:   logger,
	}
	code, err := wrapper.Run(cmd.Context())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
	return nil
}
