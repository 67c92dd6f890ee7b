package main

import (
	"context"
	"fmt"

	"github.com/stoneforge-ai/stoneforge/internal/common/constants"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/common/stringutil"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/sessionmanager"
	"github.com/stoneforge-ai/stoneforge/internal/spawner"
	"github.com/stoneforge-ai/stoneforge/internal/steward"
)

// maxHistoryOutputLen bounds how much of a steward's final message gets
// stored in its execution history; a ring buffer of full agent transcripts
// would grow without bound.
const maxHistoryOutputLen = 4000

// stewardExecutor bridges the Steward Scheduler to the Session Manager: it
// starts a headless session for the firing steward and blocks until the
// session produces a result or exits, translating that into the
// steward.ExecutionResult the scheduler records. The scheduler never talks
// to sessions directly; it only calls the executor callback it was given.
type stewardExecutor struct {
	sessions *sessionmanager.Manager
	procs    *spawner.Service
	logger   *logger.Logger
}

func newStewardExecutor(sessions *sessionmanager.Manager, procs *spawner.Service, log *logger.Logger) *stewardExecutor {
	return &stewardExecutor{sessions: sessions, procs: procs, logger: log}
}

type stewardOutcome struct {
	output string
	err    error
}

// run implements steward.StewardExecutor.
func (e *stewardExecutor) run(ctx context.Context, agent *domain.Agent, triggerCtx map[string]interface{}) steward.ExecutionResult {
	prompt := fmt.Sprintf("Run scheduled maintenance for %s. Trigger context: %v", agent.Name, triggerCtx)

	rec, err := e.sessions.StartSession(ctx, agent, domain.SpawnHeadless, sessionmanager.SpawnOptions{
		InitialPrompt: prompt,
		Timeout:       constants.StewardExecutionTimeout,
	})
	if err != nil {
		return steward.ExecutionResult{Success: false, Err: fmt.Errorf("start steward session: %w", err)}
	}

	outcomeCh := make(chan stewardOutcome, 1)
	var cleanup func()
	cleanup, _ = e.procs.Listen(rec.ID, func(evt spawner.SessionEvent) {
		switch evt.Type {
		case spawner.EventAgentMessage:
			if evt.Message == nil || evt.Message.Type != spawner.AgentMessageResult {
				return
			}
			isError, _ := evt.Message.Data["isError"].(bool)
			text, _ := evt.Message.Data["text"].(string)
			if isError {
				send(outcomeCh, stewardOutcome{err: fmt.Errorf("steward run reported an error: %s", text)})
			} else {
				send(outcomeCh, stewardOutcome{output: stringutil.TruncateStringWithEllipsis(text, maxHistoryOutputLen)})
			}
		case spawner.EventExit:
			if evt.ExitCode != 0 {
				send(outcomeCh, stewardOutcome{err: fmt.Errorf("steward process exited with code %d", evt.ExitCode)})
			} else {
				send(outcomeCh, stewardOutcome{})
			}
		}
	})
	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()

	select {
	case <-ctx.Done():
		_ = e.sessions.StopSession(context.Background(), rec.ID, true)
		return steward.ExecutionResult{Success: false, Err: ctx.Err()}
	case outcome := <-outcomeCh:
		if outcome.err != nil {
			return steward.ExecutionResult{Success: false, Output: outcome.output, Err: outcome.err}
		}
		return steward.ExecutionResult{Success: true, Output: outcome.output}
	}
}

// send delivers v to ch without blocking if a result has already landed.
func send(ch chan stewardOutcome, v stewardOutcome) {
	select {
	case ch <- v:
	default:
	}
}
