package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/latch-sh/latch/internal/adapter/outbound/memory"
	"github.com/latch-sh/latch/internal/config"
	"github.com/latch-sh/latch/internal/domain/harness"
	"github.com/latch-sh/latch/internal/domain/policy"
)

var (
	enforcePolicyID string
	enforceHarness  string
	enforceDir      string
)

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Generate harness-native enforcement files for a policy",
	Long: `Write the enforcement files a harness honours on its own
(.claude/settings.json, .codex/config.toml, openclaw.json, ...) for a
policy from the config file, without starting the server.

When the named policy does not exist, the strictest baseline across all
configured policies is used instead.`,
	RunE: runEnforce,
}

func init() {
	enforceCmd.Flags().StringVar(&enforcePolicyID, "policy", "", "policy id from the config file")
	enforceCmd.Flags().StringVar(&enforceHarness, "harness", "claude", "target harness (claude, codex, openclaw, droid)")
	enforceCmd.Flags().StringVar(&enforceDir, "dir", ".", "target directory (the session's working tree)")
	rootCmd.AddCommand(enforceCmd)
}

func runEnforce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store := memory.NewPolicyStore()
	for i := range cfg.Policies {
		if err := store.Save(ctx, &cfg.Policies[i]); err != nil {
			return err
		}
	}

	pol, err := store.Get(ctx, enforcePolicyID)
	if errors.Is(err, policy.ErrPolicyNotFound) {
		all, listErr := store.List(ctx)
		if listErr != nil {
			return listErr
		}
		pol = policy.ComputeStrictestBaseline(all, enforceHarness)
		fmt.Fprintf(cmd.ErrOrStderr(), "policy %q not found, using strictest baseline\n", enforcePolicyID)
	} else if err != nil {
		return err
	}

	gen := harness.ForKind(harness.Kind(enforceHarness))
	res, err := gen.Enforce(pol, enforceDir, nil)
	if err != nil {
		return err
	}
	for _, f := range res.Files {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	if flags := gen.LaunchFlags(pol); len(flags) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "launch flags: %s\n", strings.Join(flags, " "))
	}
	return nil
}
