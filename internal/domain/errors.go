package domain

import "errors"

// Sentinel errors for the queue and fleet. These are returned directly
// rather than wrapped in a struct because callers only ever need to
// errors.Is against them — there is no extra structured field worth
// attaching.
var (
	// ErrQueueFull is returned by the task queue when enqueuing would exceed its configured capacity.
	ErrQueueFull = errors.New("queue full")
	// ErrUnknownTask is returned by the task queue's Complete for an id it does not track.
	ErrUnknownTask = errors.New("unknown task")
	// ErrNoCapacity is returned by the fleet's assign when every machine is full or offline.
	ErrNoCapacity = errors.New("no capacity")
	// ErrMachineOffline is returned when an operation targets a machine marked Offline.
	ErrMachineOffline = errors.New("machine offline")
	// ErrWorktreeMissing is returned by the worktree service contract for an unknown path.
	ErrWorktreeMissing = errors.New("worktree missing")
	// ErrWorktreeConflict is returned when two worlds would otherwise share a worktree path.
	ErrWorktreeConflict = errors.New("worktree conflict")
	// ErrSupervisorSpawnFailed is returned when a world's child process could not start.
	ErrSupervisorSpawnFailed = errors.New("supervisor spawn failed")
	// ErrSupervisorTimedOut is returned when a supervisor's wall-clock budget elapsed.
	ErrSupervisorTimedOut = errors.New("supervisor timed out")
	// ErrSupervisorResultInvalid is returned when result.json failed schema validation.
	ErrSupervisorResultInvalid = errors.New("supervisor result invalid")
	// ErrSupervisorCancelled is returned when a supervisor was cancelled externally.
	ErrSupervisorCancelled = errors.New("supervisor cancelled")
	// ErrQualityBelowFloor is returned when the quality composite falls under the fix threshold,
	// and by the execute phase when the share of successful worlds falls under the success threshold.
	ErrQualityBelowFloor = errors.New("quality below floor")
	// ErrAutoFixExhausted is returned when the auto-fix loop used all its attempts without passing.
	ErrAutoFixExhausted = errors.New("auto-fix attempts exhausted")
	// ErrPublishFailed is returned when publish interfaces failed after retries.
	ErrPublishFailed = errors.New("publish failed")
	// ErrPersistenceFailed is returned when a persistence write could not be committed.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrConfigInvalid is returned at startup for a malformed configuration document.
	ErrConfigInvalid = errors.New("invalid configuration")
)
