package taskassignment

import (
	"testing"

	"github.com/stoneforge-ai/stoneforge/internal/domain"
)

func TestIsValidStatusTransition_Table(t *testing.T) {
	cases := []struct {
		from, to domain.TaskStatus
		want     bool
	}{
		{domain.TaskOpen, domain.TaskInProgress, true},
		{domain.TaskOpen, domain.TaskBacklog, true},
		{domain.TaskOpen, domain.TaskReview, false},
		{domain.TaskInProgress, domain.TaskOpen, true},
		{domain.TaskDeferred, domain.TaskClosed, false},
		{domain.TaskClosed, domain.TaskOpen, true},
		{domain.TaskClosed, domain.TaskInProgress, false},
		{domain.TaskBacklog, domain.TaskInProgress, false},
		{domain.TaskTombstone, domain.TaskOpen, false},
		{domain.TaskOpen, domain.TaskOpen, true},
		{domain.TaskClosed, domain.TaskClosed, true},
	}

	for _, c := range cases {
		got := isValidStatusTransition(c.from, c.to)
		if got != c.want {
			t.Errorf("isValidStatusTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestAllowedTransitions_TombstoneIsTerminal(t *testing.T) {
	if allowed := allowedTransitions(domain.TaskTombstone); len(allowed) != 0 {
		t.Errorf("allowedTransitions(tombstone) = %v, want empty", allowed)
	}
}

func TestAllowedTransitions_OpenIncludesBacklog(t *testing.T) {
	allowed := allowedTransitions(domain.TaskOpen)
	found := false
	for _, s := range allowed {
		if s == domain.TaskBacklog {
			found = true
		}
	}
	if !found {
		t.Errorf("allowedTransitions(open) = %v, want to include backlog", allowed)
	}
}
