package spawner

import (
	"github.com/stoneforge-ai/stoneforge/internal/sessionmanager"
)

// sessionAdapter narrows a *Session down to the sessionmanager.SpawnedSession
// view: provider-session-id announcement and the two terminal events. The
// Session's full event bus (tool calls, pty bytes, rate limits...) stays
// internal to the Spawner; the Session Manager only needs enough to persist
// its record.
type sessionAdapter struct {
	*Session
}

var _ sessionmanager.SpawnedSession = (*sessionAdapter)(nil)

func (a *sessionAdapter) AddListener(handler func(sessionmanager.SessionEvent)) func() {
	return a.Session.AddListener(func(evt SessionEvent) {
		switch evt.Type {
		case EventProviderSession:
			handler(sessionmanager.SessionEvent{
				Type:              sessionmanager.EventProviderSessionID,
				ProviderSessionID: evt.ProviderSessionID,
			})
		case EventExit:
			handler(sessionmanager.SessionEvent{
				Type:     sessionmanager.EventExit,
				ExitCode: evt.ExitCode,
			})
		case EventResumeFailed:
			handler(sessionmanager.SessionEvent{
				Type:                sessionmanager.EventResumeFailed,
				ResumeFailureReason: evt.ResumeFailureReason,
			})
		}
	})
}
