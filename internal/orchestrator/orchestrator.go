package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/worldforge/orchestrator/internal/checkpoint"
	"github.com/worldforge/orchestrator/internal/config"
	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/eventbus"
	"github.com/worldforge/orchestrator/internal/fleet"
	"github.com/worldforge/orchestrator/internal/queue"
	"github.com/worldforge/orchestrator/internal/runstate"
	"github.com/worldforge/orchestrator/internal/store"
	"github.com/worldforge/orchestrator/internal/telemetry"
)

// Logger is the subset of telemetry.Logger the orchestrator logs through.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, err error, fields map[string]any)
}

// StatusView is the Run Control API's status(run_id) response: the
// persisted run plus the most recent checkpoint and event, together
// sufficient for a post-mortem per §7's "user-visible behavior" contract.
type StatusView struct {
	Run            domain.Run
	LastCheckpoint *domain.Checkpoint
	LastEvent      *domain.Event
}

// StatsView is the Run Control API's stats() response.
type StatsView struct {
	Queue queue.Stats
	Fleet fleet.Stats
}

// Orchestrator is the composition root: it owns the queue drainer loop
// (one run-driver goroutine per dequeued task, bounded by
// max_concurrent_tasks), the fleet reprobe ticker, and the cancellation
// registry the Run Control API's cancel(run_id) needs, all built over the
// already-wired component instances a caller constructs and passes in.
type Orchestrator struct {
	cfg     config.Config
	queue   *queue.Queue
	fleet   *fleet.Registry
	machine *runstate.Machine
	st      store.Store
	ckpt    *checkpoint.Manager
	bus     *eventbus.Bus
	logger  Logger
	metrics *telemetry.Metrics

	mu        sync.Mutex
	active    map[string]context.CancelFunc
	lastEvent map[string]domain.Event

	fleetCron *cron.Cron
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New constructs an Orchestrator over its already-wired collaborators.
// metrics may be nil, in which case observations are no-ops.
func New(
	cfg config.Config,
	q *queue.Queue,
	fl *fleet.Registry,
	machine *runstate.Machine,
	st store.Store,
	ckpt *checkpoint.Manager,
	bus *eventbus.Bus,
	logger Logger,
	metrics *telemetry.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		queue:     q,
		fleet:     fl,
		machine:   machine,
		st:        st,
		ckpt:      ckpt,
		bus:       bus,
		logger:    logger,
		metrics:   metrics,
		active:    make(map[string]context.CancelFunc),
		lastEvent: make(map[string]domain.Event),
		stop:      make(chan struct{}),
	}
}

// Submit implements the Run Control API's submit(Issue): it computes the
// issue's priority and inserts it into the queue, publishing a task-created
// event.
func (o *Orchestrator) Submit(ctx context.Context, issue domain.Issue) error {
	if err := o.queue.Enqueue(ctx, issue); err != nil {
		return err
	}
	o.bus.Publish(domain.Event{Kind: domain.EventTaskCreated, RunID: string(issue.ID), Message: "issue enqueued"})
	return nil
}

// Cancel implements the Run Control API's cancel(run_id): it cancels the
// context the named run's RunWithID call is executing under, if the run is
// currently active. It reports false for a run_id that is unknown or
// already terminal — cancellation is a best-effort request honored at the
// run's next suspension point (§5), not an immediate guarantee.
func (o *Orchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Status implements the Run Control API's status(run_id).
func (o *Orchestrator) Status(ctx context.Context, runID string) (StatusView, error) {
	run, err := o.st.LoadRun(ctx, runID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{Run: run}
	if latest, ok, err := o.ckpt.Latest(ctx, runID); err == nil && ok {
		view.LastCheckpoint = &latest
	}
	o.mu.Lock()
	if evt, ok := o.lastEvent[runID]; ok {
		view.LastEvent = &evt
	}
	o.mu.Unlock()
	return view, nil
}

// ListRuns implements the Run Control API's list_runs(filter).
func (o *Orchestrator) ListRuns(ctx context.Context, filter store.RunFilter) ([]domain.Run, error) {
	return o.st.LoadRuns(ctx, filter)
}

// Stats implements the Run Control API's stats().
func (o *Orchestrator) Stats() StatsView {
	qs := o.queue.Stats()
	fs := o.fleet.Stats()
	o.metrics.ObserveQueueStats(qs.Ready, qs.Blocked, qs.InProgress)
	perMachine := make(map[string]float64, len(fs.PerMachine))
	for _, m := range fs.PerMachine {
		perMachine[m.Hostname] = m.Utilization
	}
	o.metrics.ObserveFleetStats(fs.TotalCapacity, fs.UsedCapacity, perMachine)
	return StatsView{Queue: qs, Fleet: fs}
}

// Start launches the queue drainer workers and the fleet reprobe ticker.
// It returns once every loop is scheduled; call Shutdown to stop them.
func (o *Orchestrator) Start(ctx context.Context) error {
	sub := o.bus.Subscribe()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case evt, ok := <-sub.Events:
				if !ok {
					return
				}
				if evt.RunID == "" {
					continue
				}
				o.mu.Lock()
				o.lastEvent[evt.RunID] = evt
				o.mu.Unlock()
			case <-o.stop:
				sub.Close()
				return
			}
		}
	}()

	workers := o.cfg.MaxConcurrentTasks
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.drain(ctx)
	}

	if o.fleet != nil {
		o.fleetCron = cron.New()
		if _, err := o.fleetCron.AddFunc("@every 30s", func() {
			if err := o.fleet.Probe(ctx); err != nil {
				o.logger.Error("fleet probe failed", err, nil)
			}
		}); err != nil {
			return fmt.Errorf("schedule fleet reprobe: %w", err)
		}
		o.fleetCron.Start()
	}
	return nil
}

// drain is one queue-drainer worker: it repeatedly dequeues the
// highest-priority ready task and drives it through the run state machine,
// registering a cancellation handle for the Run Control API's cancel(run_id)
// before the run starts and releasing it when the run reaches a terminal
// status.
func (o *Orchestrator) drain(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		task, ok, err := o.queue.Dequeue(ctx)
		if err != nil {
			o.logger.Error("dequeue failed", err, nil)
			continue
		}
		if !ok {
			continue
		}

		o.runTask(ctx, task)
	}
}

func (o *Orchestrator) runTask(ctx context.Context, task domain.QueuedTask) {
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.active[runID] = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.active, runID)
		delete(o.lastEvent, runID)
		o.mu.Unlock()
	}()

	run, err := o.machine.RunWithID(runCtx, runID, task)
	if err != nil {
		o.logger.Error("run failed", err, map[string]any{"run_id": runID, "issue_id": string(task.Issue.ID)})
	}
	o.metrics.ObserveRunTerminal(run.Status)

	if compErr := o.queue.Complete(ctx, task.Issue.ID); compErr != nil {
		o.logger.Error("queue complete failed", compErr, map[string]any{"run_id": runID})
	}
}

// Shutdown stops the drainer workers and fleet reprobe ticker and waits for
// in-flight goroutines to exit. It does not cancel already-active runs;
// callers that want an immediate stop should Cancel each active run first.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.stop) })
	if o.fleetCron != nil {
		stopCtx := o.fleetCron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveRunIDs returns the run ids currently registered as cancellable, for
// diagnostics and tests.
func (o *Orchestrator) ActiveRunIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.active))
	for id := range o.active {
		out = append(out, id)
	}
	return out
}
