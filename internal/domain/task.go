package domain

import "time"

// TaskState is the state of a QueuedTask. A task is in exactly one of the
// queue's three collections at any instant; TaskState mirrors which one.
type TaskState int

const (
	// TaskBlocked means at least one dependency has not resolved yet.
	TaskBlocked TaskState = iota
	// TaskReady means the task is eligible for dequeue.
	TaskReady
	// TaskInProgress means the task has been dequeued and owns a Run.
	TaskInProgress
)

// String renders the state for logs and snapshots.
func (s TaskState) String() string {
	switch s {
	case TaskBlocked:
		return "blocked"
	case TaskReady:
		return "ready"
	case TaskInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// QueuedTask is an Issue sitting in the task queue, carrying the priority
// computed for it and its current lifecycle state.
type QueuedTask struct {
	Issue      Issue
	Priority   PriorityScore
	State      TaskState
	EnqueuedAt time.Time
}

// DependencyIDs returns the task's dependency issue ids as a slice, for
// callers that need to iterate without reaching into Issue.DependsOn.
func (t QueuedTask) DependencyIDs() []IssueID {
	ids := make([]IssueID, 0, len(t.Issue.DependsOn))
	for id := range t.Issue.DependsOn {
		ids = append(ids, id)
	}
	return ids
}
