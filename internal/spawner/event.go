package spawner

// EventType enumerates everything a live Session reports on its bus (spec
// §4.4.2): provider framing events, PTY passthrough, lifecycle events, and
// the terminal exit event.
type EventType string

const (
	EventAgentMessage     EventType = "event"              // a parsed AgentMessage, headless mode
	EventPTYData          EventType = "pty-data"            // raw bytes, interactive mode
	EventProviderSession  EventType = "provider-session-id" // provider announced its own session id
	EventRateLimited      EventType = "rate_limited"
	EventResumeFailed     EventType = "resume_failed"
	EventInterrupt        EventType = "interrupt"
	EventError            EventType = "error"
	EventExit              EventType = "exit"
)

// SessionEvent is one entry on a Session's event bus. Only the fields
// relevant to Type are populated.
type SessionEvent struct {
	Type EventType

	Message *AgentMessage // EventAgentMessage
	Data    []byte        // EventPTYData

	ProviderSessionID string // EventProviderSession

	RateLimitMessage string // EventRateLimited
	ResetsAt         string // EventRateLimited, provider-reported reset time if known

	ResumeFailureReason string // EventResumeFailed

	Err error // EventError

	ExitCode int    // EventExit
	Signal   string // EventExit, if killed by signal
}

// Listener receives SessionEvents fanned out from one Session.
type Listener func(SessionEvent)
