// Package dispatch implements the Dispatch Service (one stateless matching
// step between ready tasks and capable, available agents) and the Dispatch
// Daemon that drives it on a poll loop.
package dispatch

import (
	"context"
	"sort"
	"time"

	"github.com/stoneforge-ai/stoneforge/internal/agentregistry"
	"github.com/stoneforge-ai/stoneforge/internal/common/apperr"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/store"
	"github.com/stoneforge-ai/stoneforge/internal/taskassignment"
)

// Decision pairs one ready task with the agent chosen to run it.
type Decision struct {
	Task  *domain.Task
	Agent *domain.Agent
}

// RateLimitChecker reports whether the executable backing an agent is
// currently rate-limited; the Dispatch Daemon owns the tracker, the service
// only consults it.
type RateLimitChecker interface {
	IsLimited(executablePath string) bool
}

type noLimits struct{}

func (noLimits) IsLimited(string) bool { return false }

// Service performs one matching step at a time. It holds no state of its
// own: every read goes through the injected Store / Task Assignment /
// Agent Registry.
type Service struct {
	backend   store.Store
	tasks     *taskassignment.Service
	registry  *agentregistry.Registry
	rateLimit RateLimitChecker
}

// New constructs a Service. rateLimit may be nil, in which case no agent is
// ever considered rate-limited.
func New(backend store.Store, tasks *taskassignment.Service, registry *agentregistry.Registry, rateLimit RateLimitChecker) *Service {
	if rateLimit == nil {
		rateLimit = noLimits{}
	}
	return &Service{backend: backend, tasks: tasks, registry: registry, rateLimit: rateLimit}
}

// readyTasks loads open/in_progress, unblocked, due tasks sorted by
// (priority ASC, deadline NULLS LAST, createdAt ASC).
func (s *Service) readyTasks(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	tasks, err := s.backend.ListTasks(ctx, store.TaskFilter{
		Status:      []domain.TaskStatus{domain.TaskOpen, domain.TaskInProgress},
		ScheduledBy: &now,
	})
	if err != nil {
		return nil, apperr.Wrap(err, "list ready tasks")
	}

	ready := tasks[:0]
	for _, t := range tasks {
		if t.Status == domain.TaskBlocked {
			continue
		}
		if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
			continue
		}
		ready = append(ready, t)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if (a.Deadline == nil) != (b.Deadline == nil) {
			return a.Deadline != nil // non-nil deadline sorts before nil
		}
		if a.Deadline != nil && !a.Deadline.Equal(*b.Deadline) {
			return a.Deadline.Before(*b.Deadline)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return ready, nil
}

// capable reports whether agent can run task: a worker agent whose tags are
// either empty (generalist) or a superset of the task's tags.
func capable(agent *domain.Agent, task *domain.Task) bool {
	if agent.Role != domain.RoleWorker {
		return false
	}
	if len(agent.Tags) == 0 {
		return true
	}
	have := make(map[string]bool, len(agent.Tags))
	for _, t := range agent.Tags {
		have[t] = true
	}
	for _, need := range task.Tags {
		if !have[need] {
			return false
		}
	}
	return true
}

func executableFor(agent *domain.Agent) string {
	if agent.Provider != "" {
		return agent.Provider
	}
	return "default"
}

// pickAgent returns the first available, capable, non-rate-limited agent
// for task, skipping any agent already used in this cycle.
func (s *Service) pickAgent(ctx context.Context, task *domain.Task, used map[string]bool) (*domain.Agent, error) {
	for _, agent := range s.registry.GetAgentsByRole(domain.RoleWorker) {
		if used[agent.ID] || !capable(agent, task) {
			continue
		}
		if s.rateLimit.IsLimited(executableFor(agent)) {
			continue
		}
		ok, err := s.tasks.AgentHasCapacity(ctx, agent.ID, agent.MaxConcurrentTasks)
		if err != nil {
			return nil, err
		}
		if ok {
			return agent, nil
		}
	}
	return nil, nil
}

// Dispatch performs one matching step and returns a Decision, or nil if no
// ready task has an available agent.
func (s *Service) Dispatch(ctx context.Context) (*Decision, error) {
	decisions, err := s.DispatchBatch(ctx, 1)
	if err != nil || len(decisions) == 0 {
		return nil, err
	}
	return decisions[0], nil
}

// DispatchBatch returns up to n decisions, each with a distinct task and
// agent.
func (s *Service) DispatchBatch(ctx context.Context, n int) ([]*Decision, error) {
	if n <= 0 {
		n = 1
	}
	now := time.Now().UTC()
	ready, err := s.readyTasks(ctx, now)
	if err != nil {
		return nil, err
	}

	var decisions []*Decision
	used := make(map[string]bool)
	for _, task := range ready {
		if len(decisions) >= n {
			break
		}
		agent, err := s.pickAgent(ctx, task, used)
		if err != nil {
			return decisions, err
		}
		if agent == nil {
			continue
		}
		used[agent.ID] = true
		decisions = append(decisions, &Decision{Task: task, Agent: agent})
	}
	return decisions, nil
}
