// Package spawner implements the Spawner component: it launches, resumes and
// tears down the child processes that run agents, normalizes their output
// into a uniform event stream, and drops a terminated session from its
// table after a tombstone delay. It implements the sessionmanager.SpawnerClient
// / SpawnedSession interfaces so the Session Manager can drive it without
// knowing about providers, PTYs, or headless protocol framing.
package spawner

import "time"

// AgentMessageType is the tagged discriminator of one line of a headless
// provider's output stream, adapted from the ACP Message envelope's
// MessageType enum into the subtypes a headless agent actually emits.
type AgentMessageType string

const (
	AgentMessageSystemInit  AgentMessageType = "system_init"
	AgentMessageAssistant   AgentMessageType = "assistant_text"
	AgentMessageToolUse     AgentMessageType = "tool_use"
	AgentMessageToolResult  AgentMessageType = "tool_result"
	AgentMessageResult      AgentMessageType = "result"
	AgentMessageError       AgentMessageType = "error"
)

// AgentMessage is one parsed line from a headless provider's stdout stream.
// Data carries the subtype-specific payload (tool name/input, result text,
// token usage, and so on); callers type-assert the fields they need rather
// than the Spawner defining a struct per subtype.
type AgentMessage struct {
	Type      AgentMessageType       `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"sessionId"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// IsValid reports whether m carries a known message type.
func (m AgentMessage) IsValid() bool {
	switch m.Type {
	case AgentMessageSystemInit, AgentMessageAssistant, AgentMessageToolUse,
		AgentMessageToolResult, AgentMessageResult, AgentMessageError:
		return true
	default:
		return false
	}
}
