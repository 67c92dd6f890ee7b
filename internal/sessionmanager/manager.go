// Package sessionmanager is the durable front for the Spawner: it persists
// session records, resumes by provider session id, and on startup marks
// sessions left open by a previous run of the core terminated.
package sessionmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/common/apperr"
	"github.com/stoneforge-ai/stoneforge/internal/common/constants"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// Manager persists session records and drives their lifecycle through an
// injected SpawnerClient.
type Manager struct {
	mu      sync.RWMutex
	live    map[string]SpawnedSession   // sessionID -> live handle
	cleanup map[string]func()           // sessionID -> listener cleanup

	backend store.Store
	spawner SpawnerClient
	logger  *logger.Logger
}

// New constructs a Manager and marks every open session record in backend
// terminated, logging each as stale; the in-memory index of live sessions
// starts empty.
func New(ctx context.Context, backend store.Store, spawnerClient SpawnerClient, log *logger.Logger) (*Manager, error) {
	m := &Manager{
		live:    make(map[string]SpawnedSession),
		cleanup: make(map[string]func()),
		backend: backend,
		spawner: spawnerClient,
		logger:  log,
	}

	open, err := backend.ListOpenSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	for _, rec := range open {
		// The provider process cannot be reattached across a restart of the
		// core; mark these stale and terminal.
		rec.Status = domain.SessionTerminated
		if err := backend.SaveSession(ctx, rec); err != nil {
			m.logger.Warn("failed to mark stale session terminated", zap.String("sessionId", rec.ID), zap.Error(err))
			continue
		}
		m.logger.Info("marked session stale on restart", zap.String("sessionId", rec.ID), zap.String("agentId", rec.AgentID))
	}
	return m, nil
}

// StartSession launches a new session for agent via the Spawner and
// persists the record once the provider announces its session id.
func (m *Manager) StartSession(ctx context.Context, agent *domain.Agent, mode domain.SpawnMode, opts SpawnOptions) (*domain.SessionRecord, error) {
	spawned, err := m.spawner.Spawn(ctx, agent.ID, string(mode), opts)
	if err != nil {
		return nil, apperr.Wrap(err, "spawn session")
	}

	now := time.Now().UTC()
	rec := &domain.SessionRecord{
		ID:               spawned.ID(),
		AgentID:          agent.ID,
		AgentRole:        agent.Role,
		Mode:             mode,
		PID:              spawned.PID(),
		Status:           domain.SessionStarting,
		WorkingDirectory: opts.WorkingDirectory,
		CreatedAt:        now,
		LastActivityAt:   now,
	}
	if err := m.backend.SaveSession(ctx, rec); err != nil {
		_ = m.spawner.Stop(ctx, spawned.ID(), false)
		return nil, apperr.Wrap(err, "persist session record")
	}

	m.track(rec, spawned)
	return rec, nil
}

// track registers listeners that keep rec's persisted status in sync with
// the live spawner session, and releases them together on exit — the same
// listen-then-release-together discipline the Spawner's own per-session bus
// uses, so a session can never leak a dangling listener.
func (m *Manager) track(rec *domain.SessionRecord, spawned SpawnedSession) {
	m.mu.Lock()
	m.live[rec.ID] = spawned
	m.mu.Unlock()

	cleanup := spawned.AddListener(func(evt SessionEvent) {
		ctx := context.Background()
		switch evt.Type {
		case EventProviderSessionID:
			rec.ProviderSessionID = evt.ProviderSessionID
			rec.Status = domain.SessionRunning
			if err := m.backend.SaveSession(ctx, rec); err != nil {
				m.logger.Warn("failed to persist provider session id", zap.String("sessionId", rec.ID), zap.Error(err))
			}
		case EventExit:
			rec.Status = domain.SessionTerminated
			ended := time.Now().UTC()
			rec.EndedAt = &ended
			if err := m.backend.SaveSession(ctx, rec); err != nil {
				m.logger.Warn("failed to persist session exit", zap.String("sessionId", rec.ID), zap.Error(err))
			}
			m.scheduleUntrack(rec.ID)
		case EventResumeFailed:
			rec.Status = domain.SessionTerminated
			if err := m.backend.SaveSession(ctx, rec); err != nil {
				m.logger.Warn("failed to persist resume failure", zap.String("sessionId", rec.ID), zap.Error(err))
			}
			m.scheduleUntrack(rec.ID)
		}
	})

	m.mu.Lock()
	m.cleanup[rec.ID] = cleanup
	m.mu.Unlock()
}

func (m *Manager) untrack(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cleanup, ok := m.cleanup[sessionID]; ok {
		cleanup()
		delete(m.cleanup, sessionID)
	}
	delete(m.live, sessionID)
}

// scheduleUntrack keeps a terminated session's live entry reachable for a
// tombstone delay after exit, mirroring the Spawner's own delayed unregister
// so a caller racing the exit event doesn't immediately see it gone.
func (m *Manager) scheduleUntrack(sessionID string) {
	time.AfterFunc(constants.SessionTombstoneDelay, func() {
		m.untrack(sessionID)
	})
}

// ResumeSession resumes the agent's most recent non-terminated session
// record. If the provider reports the session unknown, the record is
// marked terminated and InvalidResume is returned.
func (m *Manager) ResumeSession(ctx context.Context, agent *domain.Agent, opts SpawnOptions) (*domain.SessionRecord, error) {
	records, err := m.backend.ListSessionsForAgent(ctx, agent.ID)
	if err != nil {
		return nil, apperr.Wrap(err, "list agent sessions")
	}

	var latest *domain.SessionRecord
	for _, r := range records {
		if r.Status != domain.SessionTerminated {
			latest = r
			break
		}
	}
	if latest == nil {
		return nil, apperr.InvalidResume("", "no resumable session found for agent")
	}

	spawned, err := m.spawner.Resume(ctx, agent.ID, latest.ProviderSessionID, opts)
	if err != nil {
		latest.Status = domain.SessionTerminated
		_ = m.backend.SaveSession(ctx, latest)
		return nil, apperr.InvalidResume(latest.ID, err.Error())
	}

	latest.Status = domain.SessionRunning
	latest.LastActivityAt = time.Now().UTC()
	if err := m.backend.SaveSession(ctx, latest); err != nil {
		return nil, apperr.Wrap(err, "persist resumed session")
	}

	m.track(latest, spawned)
	return latest, nil
}

// StopSession drives sessionID through terminating to terminated.
func (m *Manager) StopSession(ctx context.Context, sessionID string, graceful bool) error {
	rec, err := m.backend.GetSession(ctx, sessionID)
	if err != nil {
		return apperr.NotFound("session", sessionID)
	}

	rec.Status = domain.SessionTerminating
	if err := m.backend.SaveSession(ctx, rec); err != nil {
		return apperr.Wrap(err, "persist terminating status")
	}

	if err := m.spawner.Stop(ctx, sessionID, graceful); err != nil {
		return apperr.Wrap(err, "stop spawner session")
	}

	rec.Status = domain.SessionTerminated
	ended := time.Now().UTC()
	rec.EndedAt = &ended
	if err := m.backend.SaveSession(ctx, rec); err != nil {
		return apperr.Wrap(err, "persist terminated status")
	}
	m.untrack(sessionID)
	return nil
}

// MessageSession forwards one message to a headless session. Interactive
// sessions reject this; they take input via PTY writes instead.
func (m *Manager) MessageSession(ctx context.Context, sessionID, message string) error {
	rec, err := m.backend.GetSession(ctx, sessionID)
	if err != nil {
		return apperr.NotFound("session", sessionID)
	}
	if rec.Mode != domain.SpawnHeadless {
		return apperr.Validation("mode", "messageSession is only valid for headless sessions")
	}
	return apperr.Wrap(m.spawner.Message(ctx, sessionID, message), "send message")
}
