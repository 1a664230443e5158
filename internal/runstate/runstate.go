// Package runstate implements C8, the Run State Machine: the nine-phase
// Plan -> Acquire -> Provision -> Execute -> Assure Quality -> Evaluate ->
// Prepare Merge -> Publish -> Release pipeline that turns one QueuedTask
// into a published (or failed) Run. It is the component that wires every
// other piece of the orchestration core together: own the phase sequence,
// retry failed phase attempts with backoff, checkpoint progress in the
// Provision, Execute, Evaluate and Prepare Merge phases so a crash can
// resume from Latest() alone, and emit progress to the event bus.
package runstate

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/worldforge/orchestrator/internal/aggregator"
	"github.com/worldforge/orchestrator/internal/backoff"
	"github.com/worldforge/orchestrator/internal/checkpoint"
	"github.com/worldforge/orchestrator/internal/config"
	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/eventbus"
	"github.com/worldforge/orchestrator/internal/fiveworlds"
	"github.com/worldforge/orchestrator/internal/fleet"
	"github.com/worldforge/orchestrator/internal/quality"
	"github.com/worldforge/orchestrator/internal/queue"
	"github.com/worldforge/orchestrator/internal/store"
	"github.com/worldforge/orchestrator/internal/worktree"
)

// Logger is the narrow logging seam the machine writes phase-failure and
// auto-checkpoint diagnostics through; internal/telemetry's zerolog
// wrapper implements it in the composition root.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
}

// Option configures a Machine at construction, mirroring the functional
// options pattern internal/queue and internal/fleet both use.
type Option func(*Machine)

// WithAdvisor attaches the quality advisor panel used to backfill
// self-reported sub-scores the agent didn't supply.
func WithAdvisor(p advisorBackfiller) Option {
	return func(m *Machine) { m.advisor = p }
}

// WithAutoFixer attaches the auto-fix re-invocation strategy for the
// assure-quality phase's correction loop. A nil fixer (the default) means
// marginal worlds are never retried — they simply fail the gate.
func WithAutoFixer(f AutoFixRunner) Option {
	return func(m *Machine) { m.fixer = f }
}

// WithClock overrides the machine's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.clock = now }
}

// WithRNG overrides the machine's jitter source, for deterministic tests.
func WithRNG(rng *rand.Rand) Option {
	return func(m *Machine) { m.rng = rng }
}

// advisorBackfiller is the subset of advisor.Panel the machine calls.
type advisorBackfiller interface {
	Backfill(ctx context.Context, metrics *domain.ResultMetrics, diffSummary string) domain.ResultMetrics
}

// Machine is the Run State Machine. One Machine instance drives every run
// the orchestrator processes; Run is safe to call concurrently for distinct
// tasks since each call owns its own domain.Run value.
type Machine struct {
	cfg config.Config

	queue      *queue.Queue
	fleet      *fleet.Registry
	worktree   worktree.Service
	runner     fiveworlds.WorldRunner
	fixer      AutoFixRunner
	advisor    advisorBackfiller
	weights    quality.Weights
	checkpoint *checkpoint.Manager
	publisher  *aggregator.Publisher
	bus        *eventbus.Bus
	st         store.Store
	logger     Logger

	backoffPolicy backoff.Policy
	clock         func() time.Time
	rng           *rand.Rand
}

// New constructs a Machine over its required collaborators.
func New(
	cfg config.Config,
	q *queue.Queue,
	fl *fleet.Registry,
	wt worktree.Service,
	runner fiveworlds.WorldRunner,
	ckpt *checkpoint.Manager,
	pub *aggregator.Publisher,
	bus *eventbus.Bus,
	st store.Store,
	logger Logger,
	opts ...Option,
) *Machine {
	m := &Machine{
		cfg:        cfg,
		queue:      q,
		fleet:      fl,
		worktree:   wt,
		runner:     runner,
		weights:    cfg.QualityWeightsValue(),
		checkpoint: ckpt,
		publisher:  pub,
		bus:        bus,
		st:         st,
		logger:     logger,
		backoffPolicy: backoff.Policy{
			Initial:    cfg.InitialBackoff(),
			Multiplier: cfg.BackoffMultiplier,
			Max:        cfg.MaxBackoff(),
		},
		clock: time.Now,
		rng:   rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run drives task through all nine phases to a terminal RunStatus. Phase
// failures after exhausting retries transition directly to PhaseRelease
// (always run, even on failure) and mark the run Failed; a cancelled
// context marks it Cancelled instead.
func (m *Machine) Run(ctx context.Context, task domain.QueuedTask) (domain.Run, error) {
	return m.RunWithID(ctx, uuid.NewString(), task)
}

// RunWithID is Run with the run id supplied by the caller instead of
// generated internally, so a composition root can register a cancellation
// handle for the run before it starts (§6's Run Control API needs to name
// a run before RunWithID returns in order to cancel it mid-flight).
func (m *Machine) RunWithID(ctx context.Context, runID string, task domain.QueuedTask) (domain.Run, error) {
	run := domain.Run{
		ID:        runID,
		Task:      task,
		Phase:     domain.PhasePlan,
		Status:    domain.RunActive,
		StartedAt: m.clock(),
		UpdatedAt: m.clock(),
	}
	m.publish(run.ID, domain.EventRunStarted, "run started", nil)

	ws := &execState{}
	phases := m.phaseTable()

	for _, p := range phases {
		run.Phase = p.phase
		run.UpdatedAt = m.clock()
		if err := m.saveRun(ctx, run); err != nil {
			return run, err
		}

		if err := m.runWithRetry(ctx, p.phase, func(attempt int) error { return p.fn(ctx, &run, ws) }); err != nil {
			run.Status = statusFor(ctx, err)
			run.Failure = &domain.FailureReason{Code: "phase_failed", Phase: p.phase, Message: err.Error(), Cause: err}
			m.publish(run.ID, domain.EventRunFailed, fmt.Sprintf("phase %s failed: %v", p.phase, err), nil)
			break
		}
	}

	run.Phase = domain.PhaseRelease
	m.releasePhase(ctx, &run, ws)

	if run.Status == domain.RunActive {
		run.Status = domain.RunPublished
		m.publish(run.ID, domain.EventRunCompleted, "run published", nil)
	}
	run.FinishedAt = m.clock()
	run.UpdatedAt = run.FinishedAt
	if err := m.saveRun(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Resume implements the crash-resume contract: given only the most recent
// checkpoint and the persisted Run row, the machine continues from the
// phase that checkpoint implies rather than re-running from Plan. A
// WorldsSpawned or WorldCompleted checkpoint resumes at Assure Quality with
// the worlds exactly as the persisted Run recorded them: Execute is not
// re-run, so a world that had not reached a terminal state is not executed
// again.
func (m *Machine) Resume(ctx context.Context, runID string) (domain.Run, error) {
	run, err := m.st.LoadRun(ctx, runID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("resume: load run: %w", err)
	}
	latest, ok, err := m.checkpoint.Latest(ctx, runID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("resume: load checkpoint: %w", err)
	}
	if !ok {
		// No checkpoint recorded at all: indistinguishable from a crash
		// before Plan finished. Re-run the whole pipeline.
		return m.Run(ctx, run.Task)
	}

	resumeFrom := phaseAfterCheckpoint(latest.Type)
	run.Phase = resumeFrom
	m.publish(run.ID, domain.EventRunProgress, fmt.Sprintf("resuming at phase %s", resumeFrom), nil)

	ws := &execState{}
	for i := range run.Worlds {
		ws.worlds = append(ws.worlds, run.Worlds[i])
	}
	phases := m.phaseTable()

	for _, p := range phases {
		if p.phase < resumeFrom {
			continue
		}
		run.Phase = p.phase
		run.UpdatedAt = m.clock()
		if err := m.saveRun(ctx, run); err != nil {
			return run, err
		}
		if err := m.runWithRetry(ctx, p.phase, func(attempt int) error { return p.fn(ctx, &run, ws) }); err != nil {
			run.Status = statusFor(ctx, err)
			run.Failure = &domain.FailureReason{Code: "phase_failed", Phase: p.phase, Message: err.Error(), Cause: err}
			break
		}
	}

	run.Phase = domain.PhaseRelease
	m.releasePhase(ctx, &run, ws)
	if run.Status == domain.RunActive {
		run.Status = domain.RunPublished
	}
	run.FinishedAt = m.clock()
	run.UpdatedAt = run.FinishedAt
	if err := m.saveRun(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// execState carries scratch state between phase calls that doesn't belong
// on the persisted domain.Run row: assigned fleet slots and the in-flight
// worlds slice while it's still being built up across Provision/Execute.
type execState struct {
	machines []domain.Machine
	worlds   []domain.World
	mergeRef string
}

// phaseFunc is one phase's implementation.
type phaseFunc func(context.Context, *domain.Run, *execState) error

// phaseTable returns the eight phases before Release, in order (Release is
// excluded: it always
// runs separately since it must execute even after a failure).
func (m *Machine) phaseTable() []struct {
	phase domain.Phase
	fn    phaseFunc
} {
	return []struct {
		phase domain.Phase
		fn    phaseFunc
	}{
		{domain.PhasePlan, m.planPhase},
		{domain.PhaseAcquire, m.acquirePhase},
		{domain.PhaseProvision, m.provisionPhase},
		{domain.PhaseExecute, m.executePhase},
		{domain.PhaseAssureQuality, m.assureQualityPhase},
		{domain.PhaseEvaluate, m.evaluatePhase},
		{domain.PhasePrepareMerge, m.prepareMergePhase},
		{domain.PhasePublish, m.publishPhase},
	}
}

// phaseAfterCheckpoint maps the latest recorded checkpoint type to the
// phase that should run next on resume.
func phaseAfterCheckpoint(t domain.CheckpointType) domain.Phase {
	switch t {
	case domain.CheckpointWorktreeCreated:
		return domain.PhaseExecute
	case domain.CheckpointWorldsSpawned, domain.CheckpointWorldCompleted:
		return domain.PhaseAssureQuality
	case domain.CheckpointEvaluationDone:
		return domain.PhasePrepareMerge
	case domain.CheckpointMergeReady:
		return domain.PhasePublish
	default:
		return domain.PhasePlan
	}
}

// statusFor classifies a phase failure as Cancelled (context error) or
// Failed (everything else).
func statusFor(ctx context.Context, err error) domain.RunStatus {
	if ctx.Err() != nil {
		return domain.RunCancelled
	}
	return domain.RunFailed
}

// runWithRetry wraps fn in the configured backoff policy, calling it at
// most MaxRetries times in total (the first attempt plus MaxRetries-1
// retries). Every error fn returns is retried; errors are not classified
// as transient or persistent.
func (m *Machine) runWithRetry(ctx context.Context, phase domain.Phase, fn func(attempt int) error) error {
	sleep := func(d time.Duration) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	shouldStop := func() bool { return ctx.Err() != nil }
	err := backoff.Retry(m.backoffPolicy, m.cfg.MaxRetries, sleep, shouldStop, fn)
	if err != nil {
		m.logger.Error("phase failed after retries", err, map[string]any{"phase": phase.String()})
	}
	return err
}

func (m *Machine) saveRun(ctx context.Context, run domain.Run) error {
	if err := m.st.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func (m *Machine) publish(runID string, kind domain.EventKind, message string, worldID *domain.WorldID) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(domain.Event{Kind: kind, RunID: runID, WorldID: worldID, Message: message, Timestamp: m.clock()})
}
