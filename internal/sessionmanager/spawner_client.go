package sessionmanager

import (
	"context"
	"time"
)

// SpawnOptions configures a new or resumed session: working directory,
// initial prompt, resume session id, environment variables, the
// Stoneforge root path, a startup timeout, model, and PTY size.
type SpawnOptions struct {
	WorkingDirectory     string
	InitialPrompt        string
	ResumeSessionID      string
	EnvironmentVariables map[string]string
	StoneforgeRoot       string
	Timeout              time.Duration
	Model                string
	Cols, Rows           uint16
}

// SessionEventType enumerates the events a SpawnedSession reports that the
// Session Manager must react to.
type SessionEventType string

const (
	EventProviderSessionID SessionEventType = "provider-session-id"
	EventExit              SessionEventType = "exit"
	EventResumeFailed      SessionEventType = "resume_failed"
)

// SessionEvent is one event observed from a live spawner session.
type SessionEvent struct {
	Type               SessionEventType
	ProviderSessionID   string
	ExitCode            int
	ResumeFailureReason string
}

// SpawnedSession is the narrow view of a live Spawner session the Session
// Manager needs: its internal id, and a way to observe provider-session-id
// announcement and terminal events without owning the full event bus.
type SpawnedSession interface {
	ID() string
	PID() int
	AddListener(handler func(SessionEvent)) (cleanup func())
}

// SpawnerClient is the Session Manager's view of the Spawner. The concrete
// implementation lives in package spawner; defining the interface here (at
// the point of use) keeps sessionmanager decoupled from the Spawner's PTY
// and headless-provider internals.
type SpawnerClient interface {
	Spawn(ctx context.Context, agentID string, mode string, opts SpawnOptions) (SpawnedSession, error)
	Resume(ctx context.Context, agentID string, providerSessionID string, opts SpawnOptions) (SpawnedSession, error)
	Stop(ctx context.Context, sessionID string, graceful bool) error
	Message(ctx context.Context, sessionID string, message string) error
}
