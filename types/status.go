// Package types defines core domain types for the task manager.
//
//nolint:revive // types is a common Go package naming convention
package types

// Status is the lifecycle status of a single Run.
//
// Allowed transitions:
//
//	pending     -> running | failed
//	running     -> committable | failed
//	committable -> committed | not_committed | rolled_back | not_rolled_back
//
// A run in a terminal status is immutable.
type Status string

const (
	// StatusPending indicates the run was created but the task has not started.
	StatusPending Status = "pending"
	// StatusRunning indicates the task's run operation is executing.
	StatusRunning Status = "running"
	// StatusCommittable indicates the run operation succeeded and the task
	// awaits either commit or rollback.
	StatusCommittable Status = "committable"
	// StatusCommitted indicates the task's effect has been finalized.
	StatusCommitted Status = "committed"
	// StatusNotCommitted indicates the commit operation failed.
	// No compensating action exists for this status.
	StatusNotCommitted Status = "not_committed"
	// StatusFailed indicates the run operation failed, or validation failed.
	StatusFailed Status = "failed"
	// StatusRolledBack indicates the task's effect was reversed.
	StatusRolledBack Status = "rolled_back"
	// StatusNotRolledBack indicates the rollback operation failed.
	// Requires operator intervention.
	StatusNotRolledBack Status = "not_rolled_back"
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusRunning,
		StatusCommittable,
		StatusCommitted,
		StatusNotCommitted,
		StatusFailed,
		StatusRolledBack,
		StatusNotRolledBack,
	}
}

// IsTerminal reports whether a run in this status can no longer change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCommitted, StatusNotCommitted, StatusFailed, StatusRolledBack, StatusNotRolledBack:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the status represents an unsuccessful outcome.
func (s Status) IsFailure() bool {
	switch s {
	case StatusFailed, StatusNotCommitted, StatusRolledBack, StatusNotRolledBack:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a run may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCommittable || next == StatusFailed
	case StatusCommittable:
		return next == StatusCommitted || next == StatusNotCommitted ||
			next == StatusRolledBack || next == StatusNotRolledBack
	default:
		return false
	}
}

// ParseStatus converts a string to a Status.
// Returns false if the string is not a known status.
func ParseStatus(s string) (Status, bool) {
	for _, st := range AllStatuses() {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}
