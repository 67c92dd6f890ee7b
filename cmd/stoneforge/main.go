// Command stoneforge runs the Stoneforge orchestration core: the Agent
// Registry, Task Assignment, Session Manager, Spawner, Steward Scheduler,
// Dispatch Daemon, External Sync Daemon and Worktree Manager, wired
// together against a single SQLite store. It has no HTTP or WebSocket
// surface of its own; integrations drive it through the Store and the
// event bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/agentregistry"
	"github.com/stoneforge-ai/stoneforge/internal/common/config"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/dispatch"
	"github.com/stoneforge-ai/stoneforge/internal/events"
	"github.com/stoneforge-ai/stoneforge/internal/sessionmanager"
	"github.com/stoneforge-ai/stoneforge/internal/spawner"
	"github.com/stoneforge-ai/stoneforge/internal/steward"
	"github.com/stoneforge-ai/stoneforge/internal/store/sqlitestore"
	"github.com/stoneforge-ai/stoneforge/internal/sync"
	"github.com/stoneforge-ai/stoneforge/internal/taskassignment"
	"github.com/stoneforge-ai/stoneforge/internal/worktree"
)

func main() {
	configPath := flag.String("config", "", "directory to search for config.yaml")
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("stoneforge exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	backend, err := sqlitestore.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("failed to close store", zap.Error(err))
		}
	}()

	eventBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		return fmt.Errorf("provide event bus: %w", err)
	}
	defer func() {
		if err := busCleanup(); err != nil {
			log.Warn("failed to close event bus", zap.Error(err))
		}
	}()

	registry, err := agentregistry.New(ctx, backend, log)
	if err != nil {
		return fmt.Errorf("init agent registry: %w", err)
	}

	tasks := taskassignment.New(backend, log)
	tasks.SetEventBus(eventBus.Bus)

	headlessProvider := spawner.NewExecHeadlessProvider(cfg.Spawner.Executable, cfg.Spawner.Args, log)
	interactiveProvider := spawner.NewExecInteractiveProvider(cfg.Spawner.Executable, cfg.Spawner.Args, log)
	procs := spawner.New(backend, headlessProvider, interactiveProvider, log)

	sessions, err := sessionmanager.New(ctx, backend, procs, log)
	if err != nil {
		return fmt.Errorf("init session manager: %w", err)
	}

	dispatchSvc := dispatch.New(backend, tasks, registry, nil)
	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.PollInterval = time.Duration(cfg.Dispatch.PollIntervalMs) * time.Millisecond
	dispatchCfg.MaxPerTick = cfg.Dispatch.MaxPerTick
	dispatchCfg.ShutdownTimeout = time.Duration(cfg.Dispatch.ShutdownTimeoutMs) * time.Millisecond
	dispatchDaemon := dispatch.NewDaemon(dispatchSvc, sessions, procs, tasks, backend, dispatchCfg, log)
	dispatchDaemon.SetEventBus(eventBus.Bus)

	if cfg.Worktree.Enabled {
		wtMgr, err := worktree.New(worktree.Config{BasePath: cfg.Worktree.BasePath}, log)
		if err != nil {
			return fmt.Errorf("init worktree manager: %w", err)
		}
		dispatchDaemon.UseWorktrees(wtMgr, cfg.Repository.Path, cfg.Repository.BaseBranch)
	}

	executor := newStewardExecutor(sessions, procs, log)
	stewardCfg := steward.DefaultConfig()
	stewardCfg.ExecutionTimeout = time.Duration(cfg.Steward.DefaultTimeoutMs) * time.Millisecond
	stewardCfg.HistorySize = cfg.Steward.MaxHistoryPerSteward
	scheduler := steward.New(registry, eventBus.Bus, executor.run, stewardCfg, log)

	syncEngine := sync.New(backend, backend, tasks, sync.Config{}, log)
	syncEngine.SetEventBus(eventBus.Bus)
	syncDaemon := sync.NewDaemon(syncEngine, time.Duration(cfg.Sync.IntervalMs)*time.Millisecond, log)

	if err := dispatchDaemon.Start(ctx); err != nil {
		return fmt.Errorf("start dispatch daemon: %w", err)
	}
	if err := scheduler.Start(ctx, false); err != nil {
		return fmt.Errorf("start steward scheduler: %w", err)
	}
	if err := syncDaemon.Start(ctx); err != nil {
		return fmt.Errorf("start external sync daemon: %w", err)
	}

	log.Info("stoneforge core started",
		zap.String("database", cfg.Database.Path),
		zap.Bool("worktreesEnabled", cfg.Worktree.Enabled))

	<-ctx.Done()
	log.Info("shutting down stoneforge core")

	if err := dispatchDaemon.Stop(); err != nil {
		log.Warn("dispatch daemon stop error", zap.Error(err))
	}
	if err := scheduler.Stop(); err != nil {
		log.Warn("steward scheduler stop error", zap.Error(err))
	}
	if err := syncDaemon.Stop(); err != nil {
		log.Warn("external sync daemon stop error", zap.Error(err))
	}

	return nil
}
