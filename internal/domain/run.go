package domain

import "time"

// Phase is one of the nine numbered stages of the run state machine. Phase
// transitions are monotonic forward; the only non-consecutive move is the
// direct skip ahead to PhaseRelease on failure or cancellation.
type Phase int

const (
	// PhasePlan decomposes the task into world-level commands.
	PhasePlan Phase = iota + 1
	// PhaseAcquire claims N fleet slots.
	PhaseAcquire
	// PhaseProvision creates N isolated worktrees.
	PhaseProvision
	// PhaseExecute fans the task out across N worlds via the five-worlds executor.
	PhaseExecute
	// PhaseAssureQuality builds and gates on the QualityReport, with the auto-fix loop.
	PhaseAssureQuality
	// PhaseEvaluate records the evaluation checkpoint once a winner is selected.
	PhaseEvaluate
	// PhasePrepareMerge stages merge inputs.
	PhasePrepareMerge
	// PhasePublish invokes the external publish/notify interfaces.
	PhasePublish
	// PhaseRelease releases slots and worktrees and finalizes the run row. Always runs, even on failure.
	PhaseRelease
)

// String renders the phase name for logs, checkpoints, and the status API.
func (p Phase) String() string {
	switch p {
	case PhasePlan:
		return "plan"
	case PhaseAcquire:
		return "acquire"
	case PhaseProvision:
		return "provision"
	case PhaseExecute:
		return "execute"
	case PhaseAssureQuality:
		return "assure_quality"
	case PhaseEvaluate:
		return "evaluate"
	case PhasePrepareMerge:
		return "prepare_merge"
	case PhasePublish:
		return "publish"
	case PhaseRelease:
		return "release"
	default:
		return "unknown"
	}
}

// RunStatus is a run's terminal or in-flight status.
type RunStatus int

const (
	// RunActive is in flight, somewhere in phases 1-8.
	RunActive RunStatus = iota
	// RunPublished completed successfully through the final publish phase.
	RunPublished
	// RunFailed terminated unsuccessfully; FailureReason is populated.
	RunFailed
	// RunCancelled terminated due to an external cancel request.
	RunCancelled
)

// String renders the run status.
func (s RunStatus) String() string {
	switch s {
	case RunActive:
		return "active"
	case RunPublished:
		return "published"
	case RunFailed:
		return "failed"
	case RunCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FailureReason is the structured, post-mortem-friendly explanation attached
// to any non-Published run: a typed code plus the phase and underlying
// cause, rather than a bare string.
type FailureReason struct {
	Code    string
	Phase   Phase
	Message string
	Cause   error
}

// Error implements the error interface so a FailureReason can be returned
// and wrapped like any other error.
func (f *FailureReason) Error() string {
	if f == nil {
		return ""
	}
	return f.Phase.String() + ": " + f.Code + ": " + f.Message
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (f *FailureReason) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Cause
}

// QualityReport is the assure-quality phase's weighted composite over four
// sub-scores. Composite = Σ(sub·weight)/100, gated against the pass/fix
// thresholds in configuration.
type QualityReport struct {
	StyleLint     float64
	TypeCheck     float64
	SecurityAudit float64
	TestCoverage  float64
	Composite     float64
	AutoFixAttempt int
}

// Passed reports whether the composite clears the pass threshold.
func (q QualityReport) Passed(passThreshold float64) bool {
	return q.Composite >= passThreshold
}

// Marginal reports whether the composite is in the auto-fix band
// [fixThreshold, passThreshold).
func (q QualityReport) Marginal(fixThreshold, passThreshold float64) bool {
	return q.Composite >= fixThreshold && q.Composite < passThreshold
}

// Run owns a task, a fixed set of Worlds, a current Phase, a retry/attempt
// counter, and the accumulated QualityReport. Exactly one World may be
// marked winner.
type Run struct {
	ID         string
	Task       QueuedTask
	Worlds     []World
	Phase      Phase
	Attempt    int
	Quality    QualityReport
	WinnerID   *WorldID
	Status     RunStatus
	Failure    *FailureReason
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time
}

// Winner returns the winning World and true, or the zero World and false if
// no winner has been selected yet.
func (r Run) Winner() (World, bool) {
	if r.WinnerID == nil {
		return World{}, false
	}
	for _, w := range r.Worlds {
		if w.ID == *r.WinnerID {
			return w, true
		}
	}
	return World{}, false
}
