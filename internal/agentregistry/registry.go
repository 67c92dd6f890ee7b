// Package agentregistry maintains the set of agent entities known to the
// orchestration core and the one durable message channel each owns.
package agentregistry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stoneforge-ai/stoneforge/internal/common/apperr"
	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// Registry creates, looks up, and updates agent entities. Registration is
// idempotent by (name, role); lookups are served from an in-memory index
// kept in sync with the Store.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Agent
	byKey   map[string]string // "role:name" -> id
	channel map[string]chan interface{}

	backend store.Store
	logger  *logger.Logger
}

// New constructs a Registry backed by backend, loading any agents already
// persisted there.
func New(ctx context.Context, backend store.Store, log *logger.Logger) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]*domain.Agent),
		byKey:   make(map[string]string),
		channel: make(map[string]chan interface{}),
		backend: backend,
		logger:  log,
	}

	agents, err := backend.ListAgents(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	for _, a := range agents {
		r.index(a)
	}
	return r, nil
}

func key(role domain.AgentRole, name string) string {
	return string(role) + ":" + name
}

func (r *Registry) index(a *domain.Agent) {
	r.byID[a.ID] = a
	r.byKey[key(a.Role, a.Name)] = a.ID
	if _, ok := r.channel[a.ID]; !ok {
		r.channel[a.ID] = make(chan interface{}, 64)
	}
}

func (r *Registry) register(ctx context.Context, a *domain.Agent) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.byKey[key(a.Role, a.Name)]; exists {
		return nil, apperr.AlreadyExists("agent", fmt.Sprintf("%s (%s) registered as %s", a.Name, a.Role, id))
	}

	if a.MaxConcurrentTasks == 0 {
		a.MaxConcurrentTasks = 1
	}
	a.SessionStatus = domain.AgentIdle

	if err := r.backend.CreateAgent(ctx, a); err != nil {
		return nil, apperr.Wrap(err, "persist agent")
	}
	r.index(a)
	r.logger.Info("registered agent", zap.String("agentId", a.ID), zap.String("name", a.Name), zap.String("role", string(a.Role)))
	return a, nil
}

// RegisterDirector registers a new director agent.
func (r *Registry) RegisterDirector(ctx context.Context, name string) (*domain.Agent, error) {
	return r.register(ctx, &domain.Agent{Name: name, Role: domain.RoleDirector})
}

// RegisterWorker registers a new worker agent with the given workload mode.
func (r *Registry) RegisterWorker(ctx context.Context, name string, mode domain.WorkerMode) (*domain.Agent, error) {
	return r.register(ctx, &domain.Agent{Name: name, Role: domain.RoleWorker, WorkerMode: mode})
}

// RegisterSteward registers a new steward agent with its maintenance focus
// and trigger list.
func (r *Registry) RegisterSteward(ctx context.Context, name string, focus domain.StewardFocus, triggers []domain.Trigger) (*domain.Agent, error) {
	return r.register(ctx, &domain.Agent{Name: name, Role: domain.RoleSteward, StewardFocus: focus, Triggers: triggers})
}

// GetAgent looks up an agent by id.
func (r *Registry) GetAgent(agentID string) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[agentID]
	if !ok {
		return nil, apperr.NotFound("agent", agentID)
	}
	return a, nil
}

// ListAgents returns every registered agent.
func (r *Registry) ListAgents() []*domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Agent, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	return out
}

// GetAgentsByRole returns every registered agent with the given role.
func (r *Registry) GetAgentsByRole(role domain.AgentRole) []*domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Agent
	for _, a := range r.byID {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// UpdateAgentMetadata merges updates into an agent's metadata map.
func (r *Registry) UpdateAgentMetadata(ctx context.Context, agentID string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[agentID]
	if !ok {
		return apperr.NotFound("agent", agentID)
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{})
	}
	for k, v := range updates {
		a.Metadata[k] = v
	}
	return apperr.Wrap(r.backend.UpdateAgent(ctx, a), "persist agent metadata")
}

// UpdateSessionStatus records the agent's most recently observed session
// state, as reported by the Spawner.
func (r *Registry) UpdateSessionStatus(ctx context.Context, agentID string, status domain.SessionStatus, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[agentID]
	if !ok {
		return apperr.NotFound("agent", agentID)
	}
	a.SessionStatus = status
	a.SessionID = sessionID
	return apperr.Wrap(r.backend.UpdateAgent(ctx, a), "persist agent session status")
}

// DeleteAgent removes an agent entity. Fails with Capacity if the agent
// currently holds an active session.
func (r *Registry) DeleteAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[agentID]
	if !ok {
		return apperr.NotFound("agent", agentID)
	}
	if a.SessionStatus == domain.AgentRunning || a.SessionStatus == domain.AgentSuspended {
		return apperr.Capacity(fmt.Sprintf("agent %q has an active session", agentID))
	}

	if err := r.backend.DeleteAgent(ctx, agentID); err != nil {
		return apperr.Wrap(err, "delete agent")
	}
	delete(r.byID, agentID)
	delete(r.byKey, key(a.Role, a.Name))
	delete(r.channel, agentID)
	return nil
}

// GetAgentChannel returns the agent's durable message channel, buffered so
// a slow or absent consumer never blocks a publisher.
func (r *Registry) GetAgentChannel(agentID string) (chan interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channel[agentID]
	if !ok {
		return nil, apperr.NotFound("agent", agentID)
	}
	return ch, nil
}
