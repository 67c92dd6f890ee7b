// Package sqlitestore is a reference Store/Settings implementation backed by
// SQLite, used by the core's integration tests.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stoneforge-ai/stoneforge/internal/domain"
	"github.com/stoneforge-ai/stoneforge/internal/store"
)

// SQLiteStore implements store.Store and store.Settings.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)
var _ store.Settings = (*SQLiteStore)(nil)

// New opens dbPath (":memory:" for tests) and initializes the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		priority INTEGER DEFAULT 3,
		complexity INTEGER DEFAULT 0,
		task_type TEXT DEFAULT 'task',
		assignee TEXT DEFAULT '',
		owner TEXT DEFAULT '',
		description_ref TEXT DEFAULT '',
		close_reason TEXT DEFAULT '',
		deadline DATETIME,
		scheduled_for DATETIME,
		closed_at DATETIME,
		deleted_at DATETIME,
		metadata TEXT DEFAULT '{}',
		version INTEGER DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		content TEXT NOT NULL,
		doc_version INTEGER DEFAULT 1,
		previous_version_id TEXT DEFAULT '',
		category TEXT DEFAULT '',
		status TEXT DEFAULT 'active',
		immutable INTEGER DEFAULT 0,
		metadata TEXT DEFAULT '{}',
		version INTEGER DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		max_concurrent_tasks INTEGER DEFAULT 1,
		session_status TEXT DEFAULT 'idle',
		session_id TEXT DEFAULT '',
		channel_id TEXT DEFAULT '',
		provider TEXT DEFAULT '',
		model TEXT DEFAULT '',
		reports_to TEXT DEFAULT '',
		metadata TEXT DEFAULT '{}',
		version INTEGER DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_records (
		id TEXT PRIMARY KEY,
		provider_session_id TEXT DEFAULT '',
		agent_id TEXT NOT NULL,
		agent_role TEXT NOT NULL,
		mode TEXT NOT NULL,
		pid INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		working_directory TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		last_activity_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_agent ON session_records(agent_id);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		element_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		data TEXT DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_events_element ON events(element_id);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalMeta(m map[string]interface{}) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMeta(raw string) map[string]interface{} {
	var m map[string]interface{}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

// CreateTask inserts a new task, assigning an id if unset.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *domain.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Version == 0 {
		t.Version = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, priority, complexity, task_type, assignee, owner,
			description_ref, close_reason, deadline, scheduled_for, closed_at, deleted_at,
			metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, string(t.Status), t.Priority, t.Complexity, string(t.TaskType), t.Assignee, t.Owner,
		t.DescriptionRef, t.CloseReason, t.Deadline, t.ScheduledFor, t.ClosedAt, t.DeletedAt,
		marshalMeta(t.Metadata), t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask retrieves a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t := &domain.Task{}
	var status, taskType, metadata string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, priority, complexity, task_type, assignee, owner,
			description_ref, close_reason, deadline, scheduled_for, closed_at, deleted_at,
			metadata, version, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id).Scan(&t.ID, &t.Title, &status, &t.Priority, &t.Complexity, &taskType, &t.Assignee, &t.Owner,
		&t.DescriptionRef, &t.CloseReason, &t.Deadline, &t.ScheduledFor, &t.ClosedAt, &t.DeletedAt,
		&metadata, &t.Version, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	t.Status = domain.TaskStatus(status)
	t.TaskType = domain.TaskType(taskType)
	t.Metadata = unmarshalMeta(metadata)
	return t, nil
}

// UpdateTask persists changes to an existing task, bumping its version.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t *domain.Task) error {
	t.UpdatedAt = time.Now().UTC()
	t.Version++

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title=?, status=?, priority=?, complexity=?, task_type=?, assignee=?, owner=?,
			description_ref=?, close_reason=?, deadline=?, scheduled_for=?, closed_at=?, deleted_at=?,
			metadata=?, version=?, updated_at=?
		WHERE id=?
	`, t.Title, string(t.Status), t.Priority, t.Complexity, string(t.TaskType), t.Assignee, t.Owner,
		t.DescriptionRef, t.CloseReason, t.Deadline, t.ScheduledFor, t.ClosedAt, t.DeletedAt,
		marshalMeta(t.Metadata), t.Version, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", t.ID)
	}
	return nil
}

// ListTasks returns tasks matching filter, ordered by priority then creation.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	query := `SELECT id, title, status, priority, complexity, task_type, assignee, owner,
		description_ref, close_reason, deadline, scheduled_for, closed_at, deleted_at,
		metadata, version, created_at, updated_at FROM tasks WHERE 1=1`
	var args []interface{}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ",") + ")"
	}
	if filter.Assignee != "" {
		query += " AND assignee = ?"
		args = append(args, filter.Assignee)
	}
	if filter.ScheduledBy != nil {
		query += " AND (scheduled_for IS NULL OR scheduled_for <= ?)"
		args = append(args, *filter.ScheduledBy)
	}
	query += " ORDER BY priority ASC, created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Task
	for rows.Next() {
		t := &domain.Task{}
		var status, taskType, metadata string
		if err := rows.Scan(&t.ID, &t.Title, &status, &t.Priority, &t.Complexity, &taskType, &t.Assignee, &t.Owner,
			&t.DescriptionRef, &t.CloseReason, &t.Deadline, &t.ScheduledFor, &t.ClosedAt, &t.DeletedAt,
			&metadata, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TaskStatus(status)
		t.TaskType = domain.TaskType(taskType)
		t.Metadata = unmarshalMeta(metadata)
		result = append(result, t)
	}
	return result, rows.Err()
}

// CreateDocument inserts a new document.
func (s *SQLiteStore) CreateDocument(ctx context.Context, d *domain.Document) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.DocVersion == 0 {
		d.DocVersion = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content_type, content, doc_version, previous_version_id, category,
			status, immutable, metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, string(d.ContentType), d.Content, d.DocVersion, d.PreviousVersionID, d.Category,
		string(d.Status), d.Immutable, marshalMeta(d.Metadata), d.Version, d.CreatedAt, d.UpdatedAt)
	return err
}

// GetDocument retrieves a document by id.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	d := &domain.Document{}
	var contentType, status, metadata string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, content_type, content, doc_version, previous_version_id, category, status,
			immutable, metadata, version, created_at, updated_at
		FROM documents WHERE id = ?
	`, id).Scan(&d.ID, &contentType, &d.Content, &d.DocVersion, &d.PreviousVersionID, &d.Category, &status,
		&d.Immutable, &metadata, &d.Version, &d.CreatedAt, &d.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	d.ContentType = domain.DocumentContentType(contentType)
	d.Status = domain.DocumentStatus(status)
	d.Metadata = unmarshalMeta(metadata)
	return d, nil
}

// UpdateDocument persists changes to an existing document.
func (s *SQLiteStore) UpdateDocument(ctx context.Context, d *domain.Document) error {
	d.UpdatedAt = time.Now().UTC()
	d.Version++

	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content_type=?, content=?, doc_version=?, previous_version_id=?,
			category=?, status=?, immutable=?, metadata=?, version=?, updated_at=?
		WHERE id=?
	`, string(d.ContentType), d.Content, d.DocVersion, d.PreviousVersionID, d.Category,
		string(d.Status), d.Immutable, marshalMeta(d.Metadata), d.Version, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("document not found: %s", d.ID)
	}
	return nil
}

// CreateAgent inserts a new agent entity.
func (s *SQLiteStore) CreateAgent(ctx context.Context, a *domain.Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Version == 0 {
		a.Version = 1
	}
	if a.MaxConcurrentTasks == 0 {
		a.MaxConcurrentTasks = 1
	}
	if a.SessionStatus == "" {
		a.SessionStatus = domain.AgentIdle
	}

	meta := marshalMeta(mergeAgentMeta(a))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, role, max_concurrent_tasks, session_status, session_id,
			channel_id, provider, model, reports_to, metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, string(a.Role), a.MaxConcurrentTasks, string(a.SessionStatus), a.SessionID,
		a.ChannelID, a.Provider, a.Model, a.ReportsTo, meta, a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

// mergeAgentMeta folds role-specific fields into the metadata blob alongside
// caller-supplied keys, since the agents table has no dedicated columns for
// worker/steward-only fields like triggers or worker mode.
func mergeAgentMeta(a *domain.Agent) map[string]interface{} {
	m := map[string]interface{}{}
	for k, v := range a.Metadata {
		m[k] = v
	}
	if a.WorkerMode != "" {
		m["workerMode"] = a.WorkerMode
	}
	if a.StewardFocus != "" {
		m["stewardFocus"] = a.StewardFocus
	}
	if len(a.Triggers) > 0 {
		m["triggers"] = a.Triggers
	}
	return m
}

func splitAgentMeta(a *domain.Agent, raw string) {
	m := unmarshalMeta(raw)
	if mode, ok := m["workerMode"].(string); ok {
		a.WorkerMode = domain.WorkerMode(mode)
		delete(m, "workerMode")
	}
	if focus, ok := m["stewardFocus"].(string); ok {
		a.StewardFocus = domain.StewardFocus(focus)
		delete(m, "stewardFocus")
	}
	if raw, ok := m["triggers"]; ok {
		if b, err := json.Marshal(raw); err == nil {
			var triggers []domain.Trigger
			if json.Unmarshal(b, &triggers) == nil {
				a.Triggers = triggers
			}
		}
		delete(m, "triggers")
	}
	a.Metadata = m
}

// GetAgent retrieves an agent by id.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	a := &domain.Agent{}
	var role, sessionStatus, metadata string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, max_concurrent_tasks, session_status, session_id, channel_id,
			provider, model, reports_to, metadata, version, created_at, updated_at
		FROM agents WHERE id = ?
	`, id).Scan(&a.ID, &a.Name, &role, &a.MaxConcurrentTasks, &sessionStatus, &a.SessionID, &a.ChannelID,
		&a.Provider, &a.Model, &a.ReportsTo, &metadata, &a.Version, &a.CreatedAt, &a.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	a.Role = domain.AgentRole(role)
	a.SessionStatus = domain.SessionStatus(sessionStatus)
	splitAgentMeta(a, metadata)
	return a, nil
}

// UpdateAgent persists changes to an existing agent.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, a *domain.Agent) error {
	a.UpdatedAt = time.Now().UTC()
	a.Version++

	meta := marshalMeta(mergeAgentMeta(a))
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name=?, role=?, max_concurrent_tasks=?, session_status=?, session_id=?,
			channel_id=?, provider=?, model=?, reports_to=?, metadata=?, version=?, updated_at=?
		WHERE id=?
	`, a.Name, string(a.Role), a.MaxConcurrentTasks, string(a.SessionStatus), a.SessionID,
		a.ChannelID, a.Provider, a.Model, a.ReportsTo, meta, a.Version, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("agent not found: %s", a.ID)
	}
	return nil
}

// ListAgents returns agents, optionally filtered by role ("" for all roles).
func (s *SQLiteStore) ListAgents(ctx context.Context, role domain.AgentRole) ([]*domain.Agent, error) {
	query := `SELECT id, name, role, max_concurrent_tasks, session_status, session_id, channel_id,
		provider, model, reports_to, metadata, version, created_at, updated_at FROM agents`
	var args []interface{}
	if role != "" {
		query += " WHERE role = ?"
		args = append(args, string(role))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Agent
	for rows.Next() {
		a := &domain.Agent{}
		var r, sessionStatus, metadata string
		if err := rows.Scan(&a.ID, &a.Name, &r, &a.MaxConcurrentTasks, &sessionStatus, &a.SessionID, &a.ChannelID,
			&a.Provider, &a.Model, &a.ReportsTo, &metadata, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Role = domain.AgentRole(r)
		a.SessionStatus = domain.SessionStatus(sessionStatus)
		splitAgentMeta(a, metadata)
		result = append(result, a)
	}
	return result, rows.Err()
}

// DeleteAgent removes an agent entity.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}
	return nil
}

// SaveSession inserts or replaces a session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *domain.SessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.LastActivityAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_records (id, provider_session_id, agent_id, agent_role, mode, pid,
			status, working_directory, created_at, last_activity_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_session_id=excluded.provider_session_id, status=excluded.status,
			pid=excluded.pid, last_activity_at=excluded.last_activity_at,
			started_at=excluded.started_at, ended_at=excluded.ended_at
	`, rec.ID, rec.ProviderSessionID, rec.AgentID, string(rec.AgentRole), string(rec.Mode), rec.PID,
		string(rec.Status), rec.WorkingDirectory, rec.CreatedAt, rec.LastActivityAt, rec.StartedAt, rec.EndedAt)
	return err
}

// GetSession retrieves a session record by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.SessionRecord, error) {
	rec := &domain.SessionRecord{}
	var role, mode, status string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider_session_id, agent_id, agent_role, mode, pid, status, working_directory,
			created_at, last_activity_at, started_at, ended_at
		FROM session_records WHERE id = ?
	`, id).Scan(&rec.ID, &rec.ProviderSessionID, &rec.AgentID, &role, &mode, &rec.PID, &status,
		&rec.WorkingDirectory, &rec.CreatedAt, &rec.LastActivityAt, &rec.StartedAt, &rec.EndedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	rec.AgentRole = domain.AgentRole(role)
	rec.Mode = domain.SpawnMode(mode)
	rec.Status = domain.RecordStatus(status)
	return rec, nil
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*domain.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.SessionRecord
	for rows.Next() {
		rec := &domain.SessionRecord{}
		var role, mode, status string
		if err := rows.Scan(&rec.ID, &rec.ProviderSessionID, &rec.AgentID, &role, &mode, &rec.PID, &status,
			&rec.WorkingDirectory, &rec.CreatedAt, &rec.LastActivityAt, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, err
		}
		rec.AgentRole = domain.AgentRole(role)
		rec.Mode = domain.SpawnMode(mode)
		rec.Status = domain.RecordStatus(status)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ListOpenSessions returns every session record not in a terminal status,
// used by the Session Manager to rebuild its index across a restart.
func (s *SQLiteStore) ListOpenSessions(ctx context.Context) ([]*domain.SessionRecord, error) {
	return s.queryRecords(ctx, `
		SELECT id, provider_session_id, agent_id, agent_role, mode, pid, status, working_directory,
			created_at, last_activity_at, started_at, ended_at
		FROM session_records WHERE status != ? ORDER BY created_at ASC
	`, string(domain.SessionTerminated))
}

// ListSessionsForAgent returns every session record for one agent, newest first.
func (s *SQLiteStore) ListSessionsForAgent(ctx context.Context, agentID string) ([]*domain.SessionRecord, error) {
	return s.queryRecords(ctx, `
		SELECT id, provider_session_id, agent_id, agent_role, mode, pid, status, working_directory,
			created_at, last_activity_at, started_at, ended_at
		FROM session_records WHERE agent_id = ? ORDER BY created_at DESC
	`, agentID)
}

// AppendEvent appends one entry to the event log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, evt *store.Event) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, element_id, event_type, created_at, data)
		VALUES (?, ?, ?, ?, ?)
	`, evt.ID, evt.ElementID, string(evt.Type), evt.CreatedAt, marshalMeta(evt.Data))
	return err
}

// ListEvents returns event-log entries matching filter, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error) {
	query := `SELECT id, element_id, event_type, created_at, data FROM events WHERE 1=1`
	var args []interface{}

	if filter.ElementID != "" {
		query += " AND element_id = ?"
		args = append(args, filter.ElementID)
	}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, string(filter.EventType))
	}
	if filter.After != nil {
		query += " AND created_at > ?"
		args = append(args, *filter.After)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*store.Event
	for rows.Next() {
		evt := &store.Event{}
		var eventType, data string
		if err := rows.Scan(&evt.ID, &evt.ElementID, &eventType, &evt.CreatedAt, &data); err != nil {
			return nil, err
		}
		evt.Type = store.EventType(eventType)
		evt.Data = unmarshalMeta(data)
		result = append(result, evt)
	}
	return result, rows.Err()
}

// Get reads one settings value.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set writes one settings value, overwriting any prior value.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
