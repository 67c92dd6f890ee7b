// Package steward implements the Steward Scheduler: cron and event-driven
// triggers that fire maintenance agents and record their outcomes in a
// bounded per-steward execution history.
package steward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/agentregistry"
	"github.com/stoneforge-ai/stoneforge/internal/common/constants"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/events/bus"
)

var (
	ErrAlreadyRunning = errors.New("steward scheduler is already running")
	ErrNotRunning     = errors.New("steward scheduler is not running")
)

// ExecutionResult is what a StewardExecutor reports back for one fire.
type ExecutionResult struct {
	Success        bool
	Output         string
	Err            error
	ItemsProcessed int
}

// StewardExecutor actually runs a steward agent for one trigger and reports
// the outcome; the scheduler itself never knows how a steward does its work.
type StewardExecutor func(ctx context.Context, steward *domain.Agent, triggerCtx map[string]interface{}) ExecutionResult

// Config controls scheduling and history bounds.
type Config struct {
	TickInterval     time.Duration
	ExecutionTimeout time.Duration
	HistorySize      int
}

// DefaultConfig matches spec defaults: a 5 minute execution timeout and a
// 100-entry ring buffer per steward.
func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Minute,
		ExecutionTimeout: constants.StewardExecutionTimeout,
		HistorySize:      100,
	}
}

type cronJob struct {
	stewardID string
	spec      *cronSpec
	next      time.Time
}

// Scheduler registers cron and event triggers for steward agents and fires
// an injected StewardExecutor when they are due.
type Scheduler struct {
	registry *agentregistry.Registry
	eventBus bus.EventBus
	executor StewardExecutor
	config   Config
	logger   *logger.Logger

	mu            sync.Mutex
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
	cronJobs      map[string][]*cronJob      // stewardID -> jobs
	subscriptions map[string][]bus.Subscription // stewardID -> event subscriptions

	histMu  sync.Mutex
	history map[string][]domain.StewardExecution // stewardID -> ring buffer, newest last
}

// New constructs a Scheduler. Cron and event fires each run on a goroutine
// of their own, so a slow steward never blocks the tick loop or event
// delivery for others; within a fire, executor runs on a further goroutine
// so the execution timeout can be enforced.
func New(registry *agentregistry.Registry, eventBus bus.EventBus, executor StewardExecutor, cfg Config, log *logger.Logger) *Scheduler {
	return &Scheduler{
		registry:      registry,
		eventBus:      eventBus,
		executor:      executor,
		config:        cfg,
		logger:        log,
		cronJobs:      make(map[string][]*cronJob),
		subscriptions: make(map[string][]bus.Subscription),
		history:       make(map[string][]domain.StewardExecution),
	}
}

// Start begins the tick loop. If startImmediately, it also registers every
// steward agent currently known to the registry. Start/Stop are idempotent.
func (s *Scheduler) Start(ctx context.Context, startImmediately bool) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if startImmediately {
		if err := s.registerAllStewards(ctx); err != nil {
			s.logger.Warn("failed to register all stewards on start", zap.Error(err))
		}
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop halts the tick loop and releases every event subscription. It waits
// for the tick loop goroutine to actually exit before returning — unlike the
// untracked retry goroutine this scheduler's ancestor used, the tick loop and
// every fire goroutine are wg-tracked; an executor call still running past
// its execution timeout is not waited for.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(constants.DaemonShutdownTimeout):
		s.logger.Warn("steward scheduler stop timed out waiting for tick loop")
	}

	s.mu.Lock()
	for id, subs := range s.subscriptions {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(s.subscriptions, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) registerAllStewards(ctx context.Context) error {
	stewards := s.registry.GetAgentsByRole(domain.RoleSteward)
	var firstErr error
	for _, agent := range stewards {
		if err := s.RegisterSteward(ctx, agent); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RegisterSteward installs one cron job per cron trigger and one event
// subscription per event trigger on agent. A malformed cron expression
// makes that one job a no-op and logs a warning rather than aborting the
// whole registration.
func (s *Scheduler) RegisterSteward(ctx context.Context, agent *domain.Agent) error {
	if agent.Role != domain.RoleSteward {
		return fmt.Errorf("agent %s is not a steward", agent.ID)
	}

	now := time.Now()
	for _, trig := range agent.Triggers {
		switch trig.Type {
		case domain.TriggerCron:
			spec, err := parseCronSpec(trig.Schedule)
			if err != nil {
				s.logger.Warn("invalid cron expression, skipping job",
					zap.String("stewardId", agent.ID), zap.String("schedule", trig.Schedule), zap.Error(err))
				continue
			}
			next, ok := spec.nextFire(now)
			if !ok {
				s.logger.Warn("cron expression has no fire time within horizon",
					zap.String("stewardId", agent.ID), zap.String("schedule", trig.Schedule))
				continue
			}
			s.mu.Lock()
			s.cronJobs[agent.ID] = append(s.cronJobs[agent.ID], &cronJob{stewardID: agent.ID, spec: spec, next: next})
			s.mu.Unlock()

		case domain.TriggerEvent:
			if trig.Condition != "" {
				if err := ValidateCondition(trig.Condition); err != nil {
					s.logger.Warn("invalid trigger condition, skipping subscription",
						zap.String("stewardId", agent.ID), zap.String("condition", trig.Condition), zap.Error(err))
					continue
				}
			}
			condition := trig.Condition
			sub, err := s.eventBus.Subscribe(trig.Event, func(ctx context.Context, evt *bus.Event) error {
				payload, _ := evt.Data.(map[string]interface{})
				if condition != "" && !Evaluate(condition, payload) {
					return nil
				}
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.fire(context.Background(), agent, domain.StewardTriggeredBy{Type: domain.TriggeredByEvent, Detail: evt.Type}, payload)
				}()
				return nil
			})
			if err != nil {
				return fmt.Errorf("subscribe steward %s to %s: %w", agent.ID, trig.Event, err)
			}
			s.mu.Lock()
			s.subscriptions[agent.ID] = append(s.subscriptions[agent.ID], sub)
			s.mu.Unlock()
		}
	}
	return nil
}

// PublishEvent publishes name with payload and returns the number of
// stewards whose subscription condition matched and were triggered. Each
// triggered steward fires on its own goroutine, so this counts dispatches to
// matching subscriptions, not completed executions.
func (s *Scheduler) PublishEvent(ctx context.Context, name string, payload map[string]interface{}) (int, error) {
	s.mu.Lock()
	count := 0
	for id := range s.subscriptions {
		agent, err := s.registry.GetAgent(id)
		if err != nil {
			continue
		}
		for _, trig := range agent.Triggers {
			if trig.Type == domain.TriggerEvent && trig.Event == name && (trig.Condition == "" || Evaluate(trig.Condition, payload)) {
				count++
				break
			}
		}
	}
	s.mu.Unlock()

	evt := bus.NewEvent(name, "steward-scheduler", payload)
	if err := s.eventBus.Publish(ctx, name, evt); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDueCronJobs(ctx, now)
		}
	}
}

func (s *Scheduler) runDueCronJobs(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*cronJob
	for _, jobs := range s.cronJobs {
		for _, job := range jobs {
			if !job.next.After(now) {
				due = append(due, job)
			}
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		agent, err := s.registry.GetAgent(job.stewardID)
		if err != nil {
			s.logger.Warn("cron-fired steward no longer registered", zap.String("stewardId", job.stewardID))
		} else {
			s.wg.Add(1)
			go func(a *domain.Agent) {
				defer s.wg.Done()
				s.fire(context.Background(), a, domain.StewardTriggeredBy{Type: domain.TriggeredByCron}, nil)
			}(agent)
		}
		if next, ok := job.spec.nextFire(now); ok {
			job.next = next
		}
	}
}

// RunNow fires steward immediately, bypassing its triggers entirely; used
// for a manual run requested through an external surface.
func (s *Scheduler) RunNow(ctx context.Context, steward *domain.Agent) ExecutionResult {
	return s.fire(ctx, steward, domain.StewardTriggeredBy{Type: domain.TriggeredManually}, nil)
}

func (s *Scheduler) fire(ctx context.Context, steward *domain.Agent, triggeredBy domain.StewardTriggeredBy, triggerCtx map[string]interface{}) ExecutionResult {
	_ = s.publishLifecycle(ctx, bus.SubjectStewardStarted, steward, nil)

	runCtx, cancel := context.WithTimeout(ctx, s.config.ExecutionTimeout)
	defer cancel()

	started := time.Now()
	resultCh := make(chan ExecutionResult, 1)
	go func() { resultCh <- s.executor(runCtx, steward, triggerCtx) }()

	var result ExecutionResult
	select {
	case result = <-resultCh:
	case <-runCtx.Done():
		result = ExecutionResult{Success: false, Err: fmt.Errorf("steward execution timed out after %s", s.config.ExecutionTimeout)}
	}
	duration := time.Since(started)

	entry := domain.StewardExecution{
		StartedAt:      started,
		DurationMs:     duration.Milliseconds(),
		Success:        result.Success,
		Output:         result.Output,
		ItemsProcessed: result.ItemsProcessed,
		Manual:         triggeredBy.Type == domain.TriggeredManually,
		TriggeredBy:    triggeredBy,
	}
	if result.Err != nil {
		entry.Error = result.Err.Error()
	}
	s.recordHistory(steward.ID, entry)

	eventName := bus.SubjectStewardCompleted
	if !result.Success {
		eventName = bus.SubjectStewardFailed
	}
	_ = s.publishLifecycle(ctx, eventName, steward, &entry)

	return result
}

func (s *Scheduler) publishLifecycle(ctx context.Context, eventName string, steward *domain.Agent, entry *domain.StewardExecution) error {
	evt := bus.NewStewardLifecycleEvent(eventName, "steward-scheduler", steward.ID, entry)
	return s.eventBus.Publish(ctx, eventName, evt)
}

func (s *Scheduler) recordHistory(stewardID string, entry domain.StewardExecution) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	hist := append(s.history[stewardID], entry)
	if len(hist) > s.config.HistorySize {
		hist = hist[len(hist)-s.config.HistorySize:]
	}
	s.history[stewardID] = hist
}

// History returns a copy of stewardID's bounded execution history, newest last.
func (s *Scheduler) History(stewardID string) []domain.StewardExecution {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	hist := s.history[stewardID]
	out := make([]domain.StewardExecution, len(hist))
	copy(out, hist)
	return out
}
