// Package cmd provides the CLI commands for latch.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "latch",
	Short: "Latch - policy supervisor for AI coding harnesses",
	Long: `Latch mediates tool invocations made by AI coding harnesses
(Claude, Codex, OpenClaw) on a desktop machine. Every tool call is checked
against a user-defined policy over a loopback HTTP endpoint; dangerous
calls are blocked or held for interactive approval, and every decision is
recorded in an activity log.

Configuration:
  Config is loaded from latch.yaml in the current directory,
  $HOME/.latch/, or /etc/latch/.

  Environment variables override config values with the LATCH_ prefix.
  Example: LATCH_SERVER_APPROVAL_TIMEOUT=60s

Commands:
  serve       Start the authorization server
  enforce     Generate harness-native enforcement files for a policy
  mcp-wrap    Launch an MCP server with secrets resolved into its env
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./latch.yaml)")
}
