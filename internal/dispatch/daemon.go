package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/common/constants"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/events/bus"
	"github.com/stoneforge-ai/stoneforge/internal/sessionmanager"
	"github.com/stoneforge-ai/stoneforge/internal/spawner"
	"github.com/stoneforge-ai/stoneforge/internal/store"
	"github.com/stoneforge-ai/stoneforge/internal/taskassignment"
	"github.com/stoneforge-ai/stoneforge/internal/worktree"
)

// Config controls the Dispatch Daemon's poll loop.
type Config struct {
	PollInterval    time.Duration
	MaxPerTick      int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns reasonable poll/tick/shutdown defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    5 * time.Second,
		MaxPerTick:      5,
		ShutdownTimeout: constants.DaemonShutdownTimeout,
	}
}

// Daemon drives Service.Dispatch on a poll loop, starts sessions for each
// decision, and records outcomes back to Task Assignment and the event log.
type Daemon struct {
	svc      *Service
	sessions *sessionmanager.Manager
	procs    *spawner.Service
	tasks    *taskassignment.Service
	backend  store.Store
	config   Config
	logger   *logger.Logger
	eventBus bus.EventBus

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	cycleInFlight int32

	limitMu      sync.Mutex
	limitedUntil map[string]time.Time

	// Worktree allocation is optional: a Daemon with no worktrees manager
	// spawns sessions directly in the configured working directory.
	worktrees      *worktree.Manager
	repoPath       string
	worktreeBranch string
}

// NewDaemon constructs a Daemon.
func NewDaemon(svc *Service, sessions *sessionmanager.Manager, procs *spawner.Service, tasks *taskassignment.Service, backend store.Store, cfg Config, log *logger.Logger) *Daemon {
	return &Daemon{
		svc:          svc,
		sessions:     sessions,
		procs:        procs,
		tasks:        tasks,
		backend:      backend,
		config:       cfg,
		logger:       log,
		limitedUntil: make(map[string]time.Time),
	}
}

// SetEventBus wires eventBus so session exits publish a session_exited
// cross-daemon notice. Optional: skipped entirely when never called.
func (d *Daemon) SetEventBus(eventBus bus.EventBus) {
	d.eventBus = eventBus
}

// UseWorktrees enables per-task worktree allocation: every dispatched task
// gets an exclusive git working directory under repoPath, based on
// baseBranch, instead of running in the shared checkout.
func (d *Daemon) UseWorktrees(mgr *worktree.Manager, repoPath, baseBranch string) {
	d.worktrees = mgr
	d.repoPath = repoPath
	d.worktreeBranch = baseBranch
}

// IsLimited implements RateLimitChecker for the Service this daemon drives.
func (d *Daemon) IsLimited(executablePath string) bool {
	d.limitMu.Lock()
	defer d.limitMu.Unlock()
	until, ok := d.limitedUntil[executablePath]
	return ok && time.Now().Before(until)
}

func (d *Daemon) setLimitedUntil(executablePath string, until time.Time) {
	d.limitMu.Lock()
	defer d.limitMu.Unlock()
	if current, ok := d.limitedUntil[executablePath]; !ok || until.After(current) {
		d.limitedUntil[executablePath] = until
	}
}

// Start begins the poll loop. Start/Stop are idempotent.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatch daemon is already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(ctx)
	return nil
}

// Stop halts the poll loop, waiting up to the configured shutdown timeout
// for an in-flight cycle to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatch daemon is not running")
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.config.ShutdownTimeout):
		d.logger.Warn("dispatch daemon stop timed out waiting for in-flight cycle")
	}
	return nil
}

func (d *Daemon) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&d.cycleInFlight, 0, 1) {
				continue // previous cycle still running; skip this tick
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer atomic.StoreInt32(&d.cycleInFlight, 0)
				d.runCycle(ctx)
			}()
		}
	}
}

// runCycle dispatches up to MaxPerTick decisions, starting a session for
// each. A spawn failure terminates that one attempt and unassigns the task;
// it does not abort the rest of the cycle.
func (d *Daemon) runCycle(ctx context.Context) {
	for i := 0; i < d.config.MaxPerTick; i++ {
		decision, err := d.svc.Dispatch(ctx)
		if err != nil {
			d.logger.Warn("dispatch cycle error", zap.Error(err))
			return
		}
		if decision == nil {
			return
		}
		d.startDecision(ctx, decision)
	}
}

func (d *Daemon) startDecision(ctx context.Context, decision *Decision) {
	task, agent := decision.Task, decision.Agent

	if _, err := d.tasks.AssignToAgent(ctx, task.ID, agent.ID); err != nil {
		d.logger.Warn("failed to assign task before spawn", zap.String("taskId", task.ID), zap.Error(err))
		return
	}

	opts := sessionmanager.SpawnOptions{InitialPrompt: promptFor(task)}
	if d.worktrees != nil {
		wt, err := d.worktrees.Allocate(ctx, worktree.AllocateRequest{
			TaskID:         task.ID,
			RepositoryPath: d.repoPath,
			BaseBranch:     d.worktreeBranch,
			TaskTitle:      task.Title,
		})
		if err != nil {
			d.logger.Warn("worktree allocation failed, returning task to pool", zap.String("taskId", task.ID), zap.Error(err))
			_, _ = d.tasks.UnassignTask(ctx, task.ID)
			return
		}
		opts.WorkingDirectory = wt.Path
	}

	rec, err := d.sessions.StartSession(ctx, agent, domain.SpawnHeadless, opts)
	if err != nil {
		d.logger.Warn("spawn failed, returning task to pool", zap.String("taskId", task.ID), zap.String("agentId", agent.ID), zap.Error(err))
		if d.worktrees != nil {
			_ = d.worktrees.Release(ctx, task.ID, false)
		}
		_, _ = d.tasks.UnassignTask(ctx, task.ID)
		return
	}

	if _, err := d.tasks.StartTask(ctx, task.ID); err != nil {
		d.logger.Warn("failed to mark task in_progress after spawn", zap.String("taskId", task.ID), zap.Error(err))
	}

	d.attachEventSavers(rec, task, agent)
}

func promptFor(task *domain.Task) string {
	return fmt.Sprintf("Work on task %s: %s", task.ID, task.Title)
}

// attachEventSavers wires the richer spawner-level event bus (only
// reachable by session id, not through the narrow SpawnedSession view the
// Session Manager exposes) to outcome recording, releasing every
// listener together so a session that exits without a result never leaks
// one.
func (d *Daemon) attachEventSavers(rec *domain.SessionRecord, task *domain.Task, agent *domain.Agent) {
	var once sync.Once
	var cleanup func()
	recorded := false
	started := time.Now()

	handler := func(evt spawner.SessionEvent) {
		switch evt.Type {
		case spawner.EventAgentMessage:
			if evt.Message != nil && evt.Message.Type == spawner.AgentMessageResult {
				d.recordMetrics(rec, task, agent, started, 0, &recorded)
				_ = d.sessions.StopSession(context.Background(), rec.ID, true)
				once.Do(func() {
					d.releaseWorktree(task)
					if cleanup != nil {
						cleanup()
					}
				})
			}
		case spawner.EventExit:
			d.recordMetrics(rec, task, agent, started, evt.ExitCode, &recorded)
			once.Do(func() {
				d.releaseWorktree(task)
				if cleanup != nil {
					cleanup()
				}
			})
		case spawner.EventRateLimited:
			until := time.Now().Add(5 * time.Minute)
			if evt.ResetsAt != "" {
				if parsed, err := time.Parse(time.RFC3339, evt.ResetsAt); err == nil {
					until = parsed
				}
			}
			d.setLimitedUntil(executableFor(agent), until)
		}
	}

	c, ok := d.procs.Listen(rec.ID, handler)
	if ok {
		cleanup = c
	}
}

func (d *Daemon) releaseWorktree(task *domain.Task) {
	if d.worktrees == nil {
		return
	}
	if err := d.worktrees.Release(context.Background(), task.ID, false); err != nil {
		d.logger.Warn("failed to release worktree", zap.String("taskId", task.ID), zap.Error(err))
	}
}

func (d *Daemon) recordMetrics(rec *domain.SessionRecord, task *domain.Task, agent *domain.Agent, started time.Time, exitCode int, recorded *bool) {
	if *recorded {
		return
	}
	*recorded = true

	outcome := "completed"
	if exitCode != 0 {
		outcome = "failed"
	}
	metrics := domain.SessionMetrics{
		Provider:   agent.Provider,
		SessionID:  rec.ID,
		TaskID:     task.ID,
		DurationMs: time.Since(started).Milliseconds(),
		Outcome:    outcome,
	}
	_ = d.backend.AppendEvent(context.Background(), &store.Event{
		ElementID: rec.ID,
		Type:      store.EventUpdated,
		CreatedAt: time.Now().UTC(),
		Data: map[string]interface{}{
			"kind":    "session_metrics",
			"metrics": metrics,
		},
	})

	if d.eventBus != nil {
		evt := bus.NewSessionExitedEvent("dispatch-daemon", rec.ID, agent.ID, exitCode, "")
		if err := d.eventBus.Publish(context.Background(), bus.SubjectSessionExited, evt); err != nil {
			d.logger.Warn("failed to publish session exited", zap.String("sessionId", rec.ID), zap.Error(err))
		}
	}
}
