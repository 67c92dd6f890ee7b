// Package domain holds the shared entity types the orchestration core reads
// and writes through the Store, Settings, and ProviderRegistry boundaries.
package domain

import "time"

// Envelope holds the fields common to every persistent entity.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
	CreatedBy string                 `json:"createdBy"`
	Tags      []string               `json:"tags,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Version   int                    `json:"version"`
}

// TaskStatus is one of the task status machine's states.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDeferred   TaskStatus = "deferred"
	TaskReview     TaskStatus = "review"
	TaskClosed     TaskStatus = "closed"
	TaskTombstone  TaskStatus = "tombstone"
	TaskBacklog    TaskStatus = "backlog"
)

// TaskType classifies the kind of work a task represents.
type TaskType string

const (
	TaskTypeBug     TaskType = "bug"
	TaskTypeFeature TaskType = "feature"
	TaskTypeTask    TaskType = "task"
	TaskTypeChore   TaskType = "chore"
)

// Task is a unit of work tracked against the shared backlog.
type Task struct {
	Envelope

	Title               string     `json:"title"`
	Status              TaskStatus `json:"status"`
	Priority            int        `json:"priority"` // 1..5, 1 most urgent
	Complexity          int        `json:"complexity,omitempty"`
	TaskType            TaskType   `json:"taskType"`
	DescriptionRef      string     `json:"descriptionRef,omitempty"`
	AcceptanceCriteria  string     `json:"acceptanceCriteria,omitempty"`
	CloseReason         string     `json:"closeReason,omitempty"`
	Assignee            string     `json:"assignee,omitempty"`
	Owner               string     `json:"owner,omitempty"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	ScheduledFor        *time.Time `json:"scheduledFor,omitempty"`
	ClosedAt            *time.Time `json:"closedAt,omitempty"`
	DeletedAt           *time.Time `json:"deletedAt,omitempty"`
	DeletedBy           string     `json:"deletedBy,omitempty"`
	DeleteReason        string     `json:"deleteReason,omitempty"`
}

// DocumentContentType is the format of a document's content field.
type DocumentContentType string

const (
	DocumentText     DocumentContentType = "text"
	DocumentMarkdown DocumentContentType = "markdown"
	DocumentJSON     DocumentContentType = "json"
)

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentActive   DocumentStatus = "active"
	DocumentArchived DocumentStatus = "archived"
)

// Document is a versioned content record, e.g. a task description.
type Document struct {
	Envelope

	ContentType       DocumentContentType `json:"contentType"`
	Content           string              `json:"content"`
	DocVersion        int                 `json:"docVersion"`
	PreviousVersionID string              `json:"previousVersionId,omitempty"`
	Category          string              `json:"category"`
	Status            DocumentStatus      `json:"status"`
	Immutable         bool                `json:"immutable"`
}

// AgentRole is the kind of identity an agent entity represents.
type AgentRole string

const (
	RoleDirector AgentRole = "director"
	RoleWorker   AgentRole = "worker"
	RoleSteward  AgentRole = "steward"
)

// WorkerMode distinguishes short-lived from long-running worker agents.
type WorkerMode string

const (
	WorkerEphemeral  WorkerMode = "ephemeral"
	WorkerPersistent WorkerMode = "persistent"
)

// StewardFocus is the maintenance category a steward agent performs.
type StewardFocus string

const (
	StewardMerge  StewardFocus = "merge"
	StewardDocs   StewardFocus = "docs"
	StewardCustom StewardFocus = "custom"
)

// TriggerType distinguishes the two ways a steward can fire.
type TriggerType string

const (
	TriggerCron  TriggerType = "cron"
	TriggerEvent TriggerType = "event"
)

// Trigger describes one way a steward agent is fired.
type Trigger struct {
	Type      TriggerType `json:"type"`
	Schedule  string      `json:"schedule,omitempty"`  // cron triggers
	Event     string      `json:"event,omitempty"`     // event triggers
	Condition string      `json:"condition,omitempty"` // event triggers, optional
}

// SessionStatus reflects the agent's current child-process state, as last
// observed by the Spawner.
type SessionStatus string

const (
	AgentIdle       SessionStatus = "idle"
	AgentRunning    SessionStatus = "running"
	AgentSuspended  SessionStatus = "suspended"
	AgentTerminated SessionStatus = "terminated"
)

// Agent is an addressable identity that can own a session.
type Agent struct {
	Envelope

	Name               string        `json:"name"`
	Role               AgentRole     `json:"role"`
	WorkerMode         WorkerMode    `json:"workerMode,omitempty"`
	StewardFocus       StewardFocus  `json:"stewardFocus,omitempty"`
	Triggers           []Trigger     `json:"triggers,omitempty"`
	MaxConcurrentTasks int           `json:"maxConcurrentTasks"`
	SessionStatus      SessionStatus `json:"sessionStatus"`
	SessionID          string        `json:"sessionId,omitempty"`
	ChannelID          string        `json:"channelId,omitempty"`
	Provider           string        `json:"provider,omitempty"`
	Model              string        `json:"model,omitempty"`
	ReportsTo          string        `json:"reportsTo,omitempty"`
}

// SpawnMode is how a session's child process communicates.
type SpawnMode string

const (
	SpawnHeadless    SpawnMode = "headless"
	SpawnInteractive SpawnMode = "interactive"
)

// RecordStatus is a session record's lifecycle state.
type RecordStatus string

const (
	SessionStarting    RecordStatus = "starting"
	SessionRunning     RecordStatus = "running"
	SessionSuspended   RecordStatus = "suspended"
	SessionTerminating RecordStatus = "terminating"
	SessionTerminated  RecordStatus = "terminated"
)

// SessionRecord is the durable record the Session Manager persists for one
// run of a child agent process.
type SessionRecord struct {
	ID                 string       `json:"id"`
	ProviderSessionID   string       `json:"providerSessionId,omitempty"`
	AgentID             string       `json:"agentId"`
	AgentRole           AgentRole    `json:"agentRole"`
	Mode                SpawnMode    `json:"mode"`
	PID                 int          `json:"pid,omitempty"`
	Status              RecordStatus `json:"status"`
	WorkingDirectory    string       `json:"workingDirectory"`
	CreatedAt           time.Time    `json:"createdAt"`
	LastActivityAt      time.Time    `json:"lastActivityAt"`
	StartedAt           *time.Time   `json:"startedAt,omitempty"`
	EndedAt             *time.Time   `json:"endedAt,omitempty"`
}

// SyncDirection controls which way an element's state flows.
type SyncDirection string

const (
	SyncPush         SyncDirection = "push"
	SyncPull         SyncDirection = "pull"
	SyncBidirectional SyncDirection = "bidirectional"
)

// AdapterType is the kind of element a sync state entry maps.
type AdapterType string

const (
	AdapterTask     AdapterType = "task"
	AdapterDocument AdapterType = "document"
)

// SyncState is the `_externalSync` metadata subtree recording cross-service
// linkage and the hash guard for a linked element.
type SyncState struct {
	Provider       string        `json:"provider"`
	Project        string        `json:"project"`
	ExternalID     string        `json:"externalId"`
	URL            string        `json:"url,omitempty"`
	AdapterType    AdapterType   `json:"adapterType"`
	Direction      SyncDirection `json:"direction"`
	LastPushedAt   *time.Time    `json:"lastPushedAt,omitempty"`
	LastPushedHash string        `json:"lastPushedHash,omitempty"`
	LastPulledAt   *time.Time    `json:"lastPulledAt,omitempty"`
	LastPulledHash string        `json:"lastPulledHash,omitempty"`
}

// SessionMetrics is recorded by the Dispatch Daemon at the end of a session
// and appended to the Store's event log as an "updated" event whose data
// kind is session_metrics. InputTokens and OutputTokens are not filled in.
type SessionMetrics struct {
	Provider     string `json:"provider"`
	SessionID    string `json:"sessionId"`
	TaskID       string `json:"taskId,omitempty"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	DurationMs   int64  `json:"durationMs"`
	Outcome      string `json:"outcome"` // completed | failed
}

// StewardTriggerKind identifies what fired a steward execution.
type StewardTriggerKind string

const (
	TriggeredByCron   StewardTriggerKind = "cron"
	TriggeredByEvent  StewardTriggerKind = "event"
	TriggeredManually StewardTriggerKind = "manual"
)

// StewardTriggeredBy records what fired one steward execution.
type StewardTriggeredBy struct {
	Type   StewardTriggerKind `json:"type"`
	Detail string             `json:"detail,omitempty"`
}

// StewardExecution is one entry in a steward's bounded execution history.
type StewardExecution struct {
	StartedAt      time.Time          `json:"startedAt"`
	DurationMs     int64              `json:"durationMs"`
	Success        bool               `json:"success"`
	Output         string             `json:"output,omitempty"`
	Error          string             `json:"error,omitempty"`
	ItemsProcessed int                `json:"itemsProcessed,omitempty"`
	Manual         bool               `json:"manual"`
	TriggeredBy    StewardTriggeredBy `json:"triggeredBy"`
}
