package spawner

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/common/apperr"
	"github.com/stoneforge-ai/stoneforge/internal/common/constants"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/sessionmanager"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// rateLimitPattern matches the common "rate limited ... resets at ..."
// phrasing a headless provider emits in an assistant/text event. It is fixed;
// New takes no provider-specific patterns.
var rateLimitPattern = regexp.MustCompile(`(?i)rate.?limit(?:ed)?`)

// Service is the Spawner: it owns the in-memory session table and the
// headless/interactive providers, and implements sessionmanager.SpawnerClient
// so the Session Manager can drive it without depending on either.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session

	headless    HeadlessProvider
	interactive InteractiveProvider
	backend     store.Store

	logger *logger.Logger
}

var _ sessionmanager.SpawnerClient = (*Service)(nil)

// New constructs a Spawner backed by the given providers.
func New(backend store.Store, headless HeadlessProvider, interactive InteractiveProvider, log *logger.Logger) *Service {
	return &Service{
		sessions:    make(map[string]*Session),
		headless:    headless,
		interactive: interactive,
		backend:     backend,
		logger:      log,
	}
}

func sessionID(agentID string) string {
	return fmt.Sprintf("%s-%d", agentID, time.Now().UTC().UnixNano())
}

// Spawn starts a new session in the requested mode and returns once the
// child process exists; provider-session-id and terminal events arrive
// asynchronously on the session's bus.
func (s *Service) Spawn(ctx context.Context, agentID string, mode string, opts sessionmanager.SpawnOptions) (sessionmanager.SpawnedSession, error) {
	startOpts := StartOptions{
		WorkingDirectory:     opts.WorkingDirectory,
		InitialPrompt:        opts.InitialPrompt,
		EnvironmentVariables: opts.EnvironmentVariables,
		StoneforgeRoot:       opts.StoneforgeRoot,
		Model:                opts.Model,
	}

	id := sessionID(agentID)

	switch domain.SpawnMode(mode) {
	case domain.SpawnHeadless:
		return s.spawnHeadless(ctx, id, startOpts, "")
	case domain.SpawnInteractive:
		cols, rows := opts.Cols, opts.Rows
		if cols == 0 {
			cols = 80
		}
		if rows == 0 {
			rows = 24
		}
		return s.spawnInteractive(ctx, id, startOpts, cols, rows)
	default:
		return nil, apperr.Validation("mode", fmt.Sprintf("unknown spawn mode %q", mode))
	}
}

// Resume reattaches to a previously announced provider session id. If the
// provider no longer recognizes it, apperr.InvalidResume is returned and the
// caller (Session Manager) marks the record terminated.
func (s *Service) Resume(ctx context.Context, agentID string, providerSessionID string, opts sessionmanager.SpawnOptions) (sessionmanager.SpawnedSession, error) {
	if providerSessionID == "" {
		return nil, apperr.InvalidResume("", "no provider session id to resume")
	}
	startOpts := StartOptions{
		WorkingDirectory:     opts.WorkingDirectory,
		EnvironmentVariables: opts.EnvironmentVariables,
		StoneforgeRoot:       opts.StoneforgeRoot,
		Model:                opts.Model,
	}
	id := sessionID(agentID)
	return s.spawnHeadless(ctx, id, startOpts, providerSessionID)
}

func (s *Service) register(sess *Session) *sessionAdapter {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return &sessionAdapter{Session: sess}
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// scheduleUnregister keeps a terminated session's record (and its listener
// bus) reachable through Listen/Message for a tombstone delay after exit, so
// a caller that raced the exit event doesn't immediately see "not found".
func (s *Service) scheduleUnregister(id string) {
	time.AfterFunc(constants.SessionTombstoneDelay, func() {
		s.unregister(id)
	})
}

func (s *Service) spawnHeadless(ctx context.Context, id string, opts StartOptions, resumeProviderID string) (sessionmanager.SpawnedSession, error) {
	var handle HeadlessHandle
	var err error
	if resumeProviderID != "" {
		handle, err = s.headless.Resume(ctx, resumeProviderID, opts)
	} else {
		handle, err = s.headless.Start(ctx, opts)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "start headless provider")
	}

	proc := &headlessProc{handle: handle}
	sess := newSession(id, handle.PID(), proc)
	adapter := s.register(sess)

	initDeadline := time.AfterFunc(constants.SpawnInitTimeout, func() {
		sess.emit(SessionEvent{Type: EventError, Err: fmt.Errorf("no system/init event within %s", constants.SpawnInitTimeout)})
	})

	go s.pumpHeadless(sess, handle, initDeadline)
	return adapter, nil
}

func (s *Service) spawnInteractive(ctx context.Context, id string, opts StartOptions, cols, rows uint16) (sessionmanager.SpawnedSession, error) {
	handle, err := s.interactive.Start(ctx, opts, cols, rows)
	if err != nil {
		return nil, apperr.Wrap(err, "start interactive provider")
	}

	proc := &interactiveProc{pty: handle.PTY()}
	sess := newSession(id, handle.PID(), proc)
	adapter := s.register(sess)

	go s.pumpInteractive(sess, handle)
	return adapter, nil
}

// pumpHeadless forwards AgentMessages from the provider onto the session's
// event bus, watching for the init event, rate-limit phrasing in
// assistant/text events, and the terminal result/error that ends the loop.
func (s *Service) pumpHeadless(sess *Session, handle HeadlessHandle, initDeadline *time.Timer) {
	seenInit := false
	for msg := range handle.Messages() {
		if !seenInit && msg.Type == AgentMessageSystemInit {
			seenInit = true
			initDeadline.Stop()
			if psid, ok := msg.Data["providerSessionId"].(string); ok {
				sess.emit(SessionEvent{Type: EventProviderSession, ProviderSessionID: psid})
			}
		}

		m := msg
		sess.emit(SessionEvent{Type: EventAgentMessage, Message: &m})

		if msg.Type == AgentMessageAssistant {
			if text, ok := msg.Data["text"].(string); ok && rateLimitPattern.MatchString(text) {
				sess.emit(SessionEvent{Type: EventRateLimited, RateLimitMessage: text})
			}
		}

		if msg.Type == AgentMessageResult {
			isError, _ := msg.Data["isError"].(bool)
			_ = handle.Close()
			s.scheduleUnregister(sess.id)
			if isError {
				sess.emit(SessionEvent{Type: EventExit, ExitCode: 1})
			} else {
				sess.emit(SessionEvent{Type: EventExit, ExitCode: 0})
			}
			return
		}
	}
	// Channel closed without a result event: provider died unexpectedly.
	s.scheduleUnregister(sess.id)
	sess.emit(SessionEvent{Type: EventExit, ExitCode: 1, Signal: "provider-closed"})
}

func (s *Service) pumpInteractive(sess *Session, handle InteractiveHandle) {
	buf := make([]byte, 4096)
	pty := handle.PTY()
	go func() {
		for {
			n, err := pty.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				sess.emit(SessionEvent{Type: EventPTYData, Data: data})
			}
			if err != nil {
				return
			}
		}
	}()

	code, signal, err := handle.Wait()
	s.scheduleUnregister(sess.id)
	if err != nil {
		sess.emit(SessionEvent{Type: EventError, Err: err})
	}
	sess.emit(SessionEvent{Type: EventExit, ExitCode: code, Signal: signal})
}

// Stop terminates sessionID. Graceful requests an interrupt first; the
// provider is always force-killed if it has not exited on its own.
func (s *Service) Stop(ctx context.Context, sessionID string, graceful bool) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil // already gone; Stop is idempotent
	}

	if graceful {
		if err := sess.proc.Interrupt(); err != nil {
			s.logger.Warn("graceful interrupt failed, killing", zap.String("sessionId", sessionID), zap.Error(err))
		}
	}
	return sess.proc.Kill()
}

// Message forwards one user message to a headless session.
func (s *Service) Message(ctx context.Context, sessionID string, message string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return apperr.NotFound("session", sessionID)
	}
	hp, ok := sess.proc.(*headlessProc)
	if !ok {
		return apperr.Validation("mode", "message is only valid for headless sessions")
	}
	return hp.handle.Send(message)
}

// Listen attaches handler to sessionID's full internal event bus (tool
// calls, pty bytes, rate limits, exit...) and returns a cleanup closure.
// This is the richer counterpart to sessionmanager.SpawnedSession.AddListener,
// for callers like the Dispatch Daemon that need more than provider-session-id
// and terminal events.
func (s *Service) Listen(sessionID string, handler Listener) (cleanup func(), ok bool) {
	s.mu.Lock()
	sess, exists := s.sessions[sessionID]
	s.mu.Unlock()
	if !exists {
		return nil, false
	}
	return sess.AddListener(handler), true
}

// ReadyQueueOptions configures checkReadyQueue.
type ReadyQueueOptions struct {
	Limit         int
	AutoStart     bool
	GetReadyTasks func(ctx context.Context, agentID string, limit int) ([]*domain.Task, error)
}

// CheckReadyQueue returns the highest-priority ready task for agentID, if
// any. It never mutates task status; callers that pass AutoStart=true are
// responsible for transitioning the task via Task Assignment themselves.
func (s *Service) CheckReadyQueue(ctx context.Context, agentID string, opts ReadyQueueOptions) (*domain.Task, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 1
	}
	tasks, err := opts.GetReadyTasks(ctx, agentID, limit)
	if err != nil {
		return nil, apperr.Wrap(err, "list ready tasks")
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	best := tasks[0]
	for _, t := range tasks[1:] {
		if t.Priority < best.Priority {
			best = t
		}
	}
	return best, nil
}
