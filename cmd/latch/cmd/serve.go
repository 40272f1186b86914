package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/latch-sh/latch/internal/adapter/inbound/authz"
	"github.com/latch-sh/latch/internal/adapter/outbound/cel"
	"github.com/latch-sh/latch/internal/adapter/outbound/memory"
	"github.com/latch-sh/latch/internal/adapter/outbound/sqlite"
	"github.com/latch-sh/latch/internal/config"
	"github.com/latch-sh/latch/internal/domain/activity"
	"github.com/latch-sh/latch/internal/domain/approval"
	"github.com/latch-sh/latch/internal/domain/eval"
	"github.com/latch-sh/latch/internal/domain/feed"
	"github.com/latch-sh/latch/internal/domain/harness"
	"github.com/latch-sh/latch/internal/domain/session"
	"github.com/latch-sh/latch/internal/service"
)

var (
	serveSessionID  string
	serveHarnessID  string
	servePolicyID   string
	serveEnforceDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	Long: `Start the loopback authorization server and block until interrupted.

On startup a single JSON handshake line is printed to standard output with
the bound port and the per-run bearer secret; the desktop shell reads it to
wire harnesses up. All logging goes to standard error.

Optionally registers one session at startup (--session-id, --harness,
--policy) and writes that harness's enforcement files (--enforce-dir).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSessionID, "session-id", "", "register this session at startup")
	serveCmd.Flags().StringVar(&serveHarnessID, "harness", "claude", "harness id for the registered session")
	serveCmd.Flags().StringVar(&servePolicyID, "policy", "", "policy id for the registered session")
	serveCmd.Flags().StringVar(&serveEnforceDir, "enforce-dir", "", "write harness enforcement files into this directory")
	serveCmd.MarkFlagsRequiredTogether("session-id", "policy")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx := cmd.Context()

	activityStore, err := buildActivityStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer activityStore.Close()

	policyStore := memory.NewPolicyStore()
	for i := range cfg.Policies {
		if err := policyStore.Save(ctx, &cfg.Policies[i]); err != nil {
			return fmt.Errorf("seeding policy %q: %w", cfg.Policies[i].ID, err)
		}
	}

	var conditions eval.ConditionChecker
	if checker, err := cel.NewChecker(); err != nil {
		logger.Warn("condition checker unavailable, conditioned rules will be skipped",
			slog.Any("error", err))
	} else {
		conditions = checker
	}

	home, _ := os.UserHomeDir()
	timeout, err := cfg.ApprovalTimeoutDuration()
	if err != nil {
		return err
	}

	supervisor := service.NewSupervisor(service.Deps{
		Sessions:  session.NewRegistry(),
		Policies:  policyStore,
		Evaluator: eval.New(home, conditions),
		Approvals: approval.NewCoordinator(timeout),
		Activity:  activityStore,
		Settings:  memory.NewSettingsStore(cfg.Settings),
		Feed:      feed.NewBus(),
		Logger:    logger,
	})

	server := authz.NewServer(supervisor, memory.NewVault(cfg.Secrets),
		authz.WithAddr(cfg.Server.Addr),
		authz.WithLogger(logger),
	)
	if err := server.Start(ctx); err != nil {
		return err
	}

	if serveSessionID != "" {
		if err := supervisor.RegisterSession(serveSessionID, serveHarnessID, servePolicyID, nil); err != nil {
			_ = server.Stop(ctx)
			return fmt.Errorf("registering session: %w", err)
		}
		if serveEnforceDir != "" {
			if err := enforceAtStartup(ctx, supervisor, server, serveEnforceDir); err != nil {
				_ = server.Stop(ctx)
				return err
			}
		}
	}

	handshake, _ := json.Marshal(map[string]any{
		"port":   server.Port(),
		"secret": server.Secret(),
	})
	fmt.Println(string(handshake))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, gracefulSignals()...)
	select {
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}
	return server.Stop(context.Background())
}

// enforceAtStartup writes the registered session's enforcement files wired
// to the running server.
func enforceAtStartup(ctx context.Context, sup *service.Supervisor, server *authz.Server, dir string) error {
	sess, err := sup.Sessions().Get(serveSessionID)
	if err != nil {
		return err
	}
	pol, err := sup.EffectivePolicy(ctx, sess)
	if err != nil {
		// Enforcement generation falls back to the strictest baseline when
		// the nominal policy is missing.
		pol, err = sup.BaselinePolicy(ctx, sess.HarnessID)
		if err != nil {
			return fmt.Errorf("resolving enforcement policy: %w", err)
		}
	}
	gen := harness.ForKind(harness.Kind(sess.HarnessID))
	res, err := gen.Enforce(pol, dir, &harness.Authz{
		Port:      server.Port(),
		SessionID: sess.SessionID,
		Secret:    server.Secret(),
	})
	if err != nil {
		return fmt.Errorf("generating enforcement files: %w", err)
	}
	slog.Info("enforcement files written",
		slog.Int("files", len(res.Files)),
		slog.String("harness", sess.HarnessID))
	return nil
}

func buildLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildActivityStore(ctx context.Context, cfg *config.Config) (activity.Store, error) {
	if cfg.Activity.Backend == "sqlite" {
		store, err := sqlite.NewActivityStore(ctx, cfg.Activity.Path)
		if err != nil {
			return nil, fmt.Errorf("opening activity store: %w", err)
		}
		return store, nil
	}
	return memory.NewActivityStore(cfg.Activity.Capacity), nil
}
