// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations, as defaults overridable by config.
const (
	// SpawnInitTimeout bounds how long the Spawner waits for a headless
	// provider's first system/init event before failing the spawn.
	SpawnInitTimeout = 120 * time.Second

	// StewardExecutionTimeout bounds a single steward execution.
	StewardExecutionTimeout = 5 * time.Minute

	// WorktreeSetupTimeout bounds git worktree allocation.
	WorktreeSetupTimeout = 2 * time.Minute

	// SessionTombstoneDelay is how long a terminated session record lingers
	// before removal, to let late consumers observe it.
	SessionTombstoneDelay = 5 * time.Second

	// DaemonShutdownTimeout bounds how long a daemon's Stop() waits for an
	// in-flight cycle before returning.
	DaemonShutdownTimeout = 10 * time.Second
)
