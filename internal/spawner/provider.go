package spawner

import "context"

// HeadlessProvider is the external collaborator that actually runs a
// headless agent process and frames its output as AgentMessages. A real
// implementation shells out to a CLI coding agent and parses its
// line-delimited JSON stream; the Spawner only depends on this interface.
type HeadlessProvider interface {
	// Start launches a new headless run and returns a handle streaming
	// AgentMessages until the channel is closed.
	Start(ctx context.Context, opts StartOptions) (HeadlessHandle, error)
	// Resume reattaches to a prior run by the provider's own session id.
	Resume(ctx context.Context, providerSessionID string, opts StartOptions) (HeadlessHandle, error)
}

// HeadlessHandle is one running (or resumed) headless provider session.
type HeadlessHandle interface {
	Messages() <-chan AgentMessage
	Send(userMessage string) error
	Interrupt() error
	Close() error
	PID() int
}

// InteractiveProvider launches a provider process attached to a
// pseudoterminal.
type InteractiveProvider interface {
	Start(ctx context.Context, opts StartOptions, cols, rows uint16) (InteractiveHandle, error)
}

// InteractiveHandle is one running interactive (PTY) provider session.
type InteractiveHandle interface {
	PTY() ptyHandle
	PID() int
	Wait() (exitCode int, signal string, err error)
	Kill() error
}

// StartOptions is the provider-facing subset of sessionmanager.SpawnOptions.
type StartOptions struct {
	WorkingDirectory     string
	InitialPrompt        string
	EnvironmentVariables map[string]string
	StoneforgeRoot       string
	Model                string
	ExecutablePath        string
}
