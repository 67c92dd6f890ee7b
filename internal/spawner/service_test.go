package spawner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/sessionmanager"
	"github.com/stoneforge-ai/stoneforge/internal/store/sqlitestore"
)

type fakeHeadlessHandle struct {
	ch     chan AgentMessage
	closed bool
	mu     sync.Mutex
	sent   []string
}

func (h *fakeHeadlessHandle) Messages() <-chan AgentMessage { return h.ch }
func (h *fakeHeadlessHandle) Send(msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, msg)
	return nil
}
func (h *fakeHeadlessHandle) Interrupt() error { return nil }
func (h *fakeHeadlessHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
func (h *fakeHeadlessHandle) PID() int { return 999 }

type fakeHeadlessProvider struct {
	handle *fakeHeadlessHandle
}

func (p *fakeHeadlessProvider) Start(ctx context.Context, opts StartOptions) (HeadlessHandle, error) {
	return p.handle, nil
}
func (p *fakeHeadlessProvider) Resume(ctx context.Context, providerSessionID string, opts StartOptions) (HeadlessHandle, error) {
	return p.handle, nil
}

func newTestService(t *testing.T) (*Service, *fakeHeadlessHandle) {
	t.Helper()
	backend, err := sqlitestore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	handle := &fakeHeadlessHandle{ch: make(chan AgentMessage, 8)}
	svc := New(backend, &fakeHeadlessProvider{handle: handle}, nil, logger.Default())
	return svc, handle
}

func TestSpawnHeadless_InitThenResultEmitsProviderIDAndExit(t *testing.T) {
	ctx := context.Background()
	svc, handle := newTestService(t)

	spawned, err := svc.Spawn(ctx, "agent-1", string(domain.SpawnHeadless), sessionmanager.SpawnOptions{})
	require.NoError(t, err)

	var events []sessionmanager.SessionEvent
	var mu sync.Mutex
	cleanup := spawned.AddListener(func(evt sessionmanager.SessionEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
	})
	defer cleanup()

	handle.ch <- AgentMessage{Type: AgentMessageSystemInit, Data: map[string]interface{}{"providerSessionId": "prov-1"}}
	handle.ch <- AgentMessage{Type: AgentMessageResult, Data: map[string]interface{}{"isError": false}}
	close(handle.ch)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, sessionmanager.EventProviderSessionID, events[0].Type)
	require.Equal(t, "prov-1", events[0].ProviderSessionID)
	require.Equal(t, sessionmanager.EventExit, events[len(events)-1].Type)
	require.Equal(t, 0, events[len(events)-1].ExitCode)
}

func TestRateLimitPattern_MatchesCommonPhrasing(t *testing.T) {
	require.True(t, rateLimitPattern.MatchString("You are rate limited, try again later"))
	require.True(t, rateLimitPattern.MatchString("rate-limit exceeded"))
	require.False(t, rateLimitPattern.MatchString("all good here"))
}

func TestCheckReadyQueue_ReturnsHighestPriority(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	tasks := []*domain.Task{
		{Envelope: domain.Envelope{ID: "t1"}, Priority: 3},
		{Envelope: domain.Envelope{ID: "t2"}, Priority: 1},
	}

	got, err := svc.CheckReadyQueue(ctx, "agent-1", ReadyQueueOptions{
		Limit: 5,
		GetReadyTasks: func(ctx context.Context, agentID string, limit int) ([]*domain.Task, error) {
			return tasks, nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, "t2", got.ID)
}

func TestCheckReadyQueue_NoTasks(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	got, err := svc.CheckReadyQueue(ctx, "agent-1", ReadyQueueOptions{
		GetReadyTasks: func(ctx context.Context, agentID string, limit int) ([]*domain.Task, error) {
			return nil, nil
		},
	})
	require.NoError(t, err)
	require.Nil(t, got)
}
