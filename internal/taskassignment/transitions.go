package taskassignment

import "github.com/stoneforge-ai/stoneforge/internal/domain"

// statusTransitions is the authoritative status transition table: treat it
// as the source of truth over any looser description of which moves are
// allowed. Its open row includes backlog, which is broader than a cursory
// read of the status names alone would suggest.
var statusTransitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskOpen:       {domain.TaskInProgress, domain.TaskBlocked, domain.TaskDeferred, domain.TaskClosed, domain.TaskBacklog},
	domain.TaskInProgress: {domain.TaskOpen, domain.TaskBlocked, domain.TaskDeferred, domain.TaskClosed},
	domain.TaskBlocked:    {domain.TaskOpen, domain.TaskInProgress, domain.TaskDeferred, domain.TaskClosed},
	domain.TaskDeferred:   {domain.TaskOpen, domain.TaskInProgress, domain.TaskBacklog},
	domain.TaskReview:     {domain.TaskOpen, domain.TaskInProgress, domain.TaskClosed},
	domain.TaskClosed:     {domain.TaskOpen},
	domain.TaskBacklog:    {domain.TaskOpen, domain.TaskDeferred, domain.TaskClosed},
	domain.TaskTombstone:  {},
}

// allowedTransitions returns the set of statuses reachable from from.
func allowedTransitions(from domain.TaskStatus) []domain.TaskStatus {
	return statusTransitions[from]
}

// isValidStatusTransition reports whether from -> to is permitted. A status
// transitioning to itself is always permitted, including for closed and
// tombstone.
func isValidStatusTransition(from, to domain.TaskStatus) bool {
	if from == to {
		return true
	}
	for _, s := range allowedTransitions(from) {
		if s == to {
			return true
		}
	}
	return false
}
