// Command seedgpt is the CLI entrypoint for the autonomous change agent,
// grounded on cmd/gateway/main.go's cobra root-command-plus-subcommands
// style: a persistent config/logger bootstrap shared by "run" (one
// iteration) and "loop" (repeat until merge or signal), plus "version".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/ci"
	"github.com/ngoclaw/ngoclaw/gateway/internal/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/iteration"
	"github.com/ngoclaw/ngoclaw/gateway/internal/llm"
	"github.com/ngoclaw/ngoclaw/gateway/internal/logging"
	"github.com/ngoclaw/ngoclaw/gateway/internal/memory"
	"github.com/ngoclaw/ngoclaw/gateway/internal/scm"
	"github.com/ngoclaw/ngoclaw/gateway/internal/store"
	"github.com/ngoclaw/ngoclaw/gateway/internal/tool"
)

const (
	cliName    = "seedgpt"
	cliVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "seedgpt — autonomous software-change agent",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run exactly one plan -> build -> merge-or-abandon iteration.",
		RunE:  runOnce,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "loop",
		Short: "Repeat iterations until one merges, or until interrupted.",
		RunE:  runLoop,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the CLI version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	controller, log, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()

	merged, err := controller.Iterate(ctx)
	if err != nil {
		return err
	}
	if merged {
		os.Exit(0)
	}
	os.Exit(1)
	return nil
}

func runLoop(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	controller, log, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()

	for {
		merged, err := controller.Iterate(ctx)
		if err != nil {
			log.Error("iteration stopped", zap.Error(err))
			return err
		}
		if merged {
			log.Info("iteration merged, stopping loop")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// signalContext cancels on SIGINT/SIGTERM so the batch-poll and CI-wait
// loops unwind cleanly through their cancellation-aware sleeps.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// bootstrap wires the seven components together exactly once, per
// SPEC_FULL.md's single-tenant workspace assumption.
func bootstrap(ctx context.Context) (*iteration.Controller, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("store: %w", err)
	}
	recordStore := store.New(db)

	gateway := llm.New(cfg.LLM, recordStore, log)

	mem := memory.New(recordStore, gateway, cfg.Agent.MemoryTokenBudget, log)
	if cfg.Agent.MemoryRetention > 0 {
		if n, err := mem.Prune(ctx, time.Now().UTC().Add(-cfg.Agent.MemoryRetention)); err != nil {
			log.Warn("memory retention prune failed", zap.Error(err))
		} else if n > 0 {
			log.Info("pruned stale unpinned memory items", zap.Int64("count", n))
		}
	}

	ws, err := scm.Clone(ctx, scm.Credential{Username: "x-access-token", Token: cfg.Forge.Token},
		cfg.Forge.Owner, cfg.Forge.Repo, cfg.Workspace.Path, cfg.Forge.BranchPrefix, log)
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: %w", err)
	}

	forge := ci.New(cfg.Forge.Token, cfg.Forge.Owner, cfg.Forge.Repo, cfg.Forge.BranchPrefix, ci.Timeouts{
		PollInterval:    cfg.Agent.CiPollInterval,
		NoChecksTimeout: cfg.Agent.CiNoChecksTimeout,
		Overall:         cfg.Agent.CiTimeout,
	}, nil, log)

	if err := cleanupStragglers(ctx, forge, log); err != nil {
		log.Warn("straggler cleanup failed, continuing", zap.Error(err))
	}

	registry := tool.NewRegistry()
	tool.RegisterFilesystemTools(registry, ws)
	tool.RegisterMemoryTools(registry, mem)
	tool.RegisterIntrospectionTools(registry, recordStore)
	tool.RegisterQualityTool(registry, ws, []string{"go", "build", "./..."}, cfg.Agent.ToolTimeout)
	tool.RegisterSubmitEditsTool(registry)
	tool.RegisterPlanTool(registry)

	controller := iteration.New(ws, mem, gateway, forge, recordStore, registry, nil, iteration.Config{
		MaxFixAttempts: cfg.Agent.MaxFixAttempts,
	}, log)

	return controller, log, nil
}

// cleanupStragglers enumerates open PRs left behind by a prior, interrupted
// run (identified by the agent's stable branch prefix) and closes them,
// best-effort deleting their branches too, before the first iteration of
// this run starts.
func cleanupStragglers(ctx context.Context, forge *ci.Bridge, log *zap.Logger) error {
	stragglers, err := forge.FindOpenAgentPRs(ctx)
	if err != nil {
		return err
	}
	for _, s := range stragglers {
		if err := forge.ClosePR(ctx, s.Number); err != nil {
			log.Warn("failed to close straggler PR", zap.Int("pr", s.Number), zap.Error(err))
			continue
		}
		if err := forge.DeleteRemoteBranch(ctx, s.Branch); err != nil {
			log.Warn("failed to delete straggler branch", zap.String("branch", s.Branch), zap.Error(err))
		}
		log.Info("closed straggler PR from a prior run", zap.Int("pr", s.Number), zap.String("branch", s.Branch))
	}
	return nil
}
