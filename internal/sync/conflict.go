package sync

// Strategy picks the winner when both sides changed since the last sync.
type Strategy string

const (
	LastWriteWins Strategy = "last_write_wins"
	LocalWins     Strategy = "local_wins"
	RemoteWins    Strategy = "remote_wins"
	Manual        Strategy = "manual"
)

// conflictOutcome is what resolve decides to do with a conflicting item.
type conflictOutcome int

const (
	applyRemote conflictOutcome = iota
	keepLocal
	flagManual
)

// resolve decides a conflict's outcome. remoteNewer is only consulted by
// last_write_wins; the caller computes it by comparing the remote item's
// UpdatedAt with the local task's UpdatedAt.
func resolve(strategy Strategy, remoteNewer bool) conflictOutcome {
	switch strategy {
	case LocalWins:
		return keepLocal
	case RemoteWins:
		return applyRemote
	case Manual:
		return flagManual
	case LastWriteWins:
		fallthrough
	default:
		if remoteNewer {
			return applyRemote
		}
		return keepLocal
	}
}
