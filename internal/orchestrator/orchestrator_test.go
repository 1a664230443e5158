package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/worldforge/orchestrator/internal/checkpoint"
	"github.com/worldforge/orchestrator/internal/config"
	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/eventbus"
	"github.com/worldforge/orchestrator/internal/fleet"
	"github.com/worldforge/orchestrator/internal/queue"
	"github.com/worldforge/orchestrator/internal/store"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, fields map[string]any)             {}
func (nopLogger) Error(msg string, err error, fields map[string]any) {}

type ckptNopLogger struct{}

func (ckptNopLogger) Error(msg string, err error) {}

// newTestOrchestrator builds an Orchestrator whose Submit/Cancel/Status/
// Stats/ListRuns surface can be exercised without starting the drainer or
// fleet reprobe loops (Start itself requires a fully wired run state
// machine, exercised instead by internal/runstate's own tests).
func newTestOrchestrator(t *testing.T) (*Orchestrator, *queue.Queue, store.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.MaxConcurrentTasks = 2

	q := queue.New()
	fl := fleet.New([]domain.Machine{{Hostname: "h1", Address: "h1:22", Capacity: 4}}, nil)
	st := store.NewMemStore()
	ckpt := checkpoint.New(st, ckptNopLogger{})
	bus := eventbus.New()

	o := New(cfg, q, fl, nil, st, ckpt, bus, nopLogger{}, nil)
	return o, q, st
}

func TestOrchestrator_Submit(t *testing.T) {
	o, q, _ := newTestOrchestrator(t)

	issue := domain.NewIssue("issue-1", "fix bug", nil, nil, "body", time.Now())
	if err := o.Submit(context.Background(), issue); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	stats := q.Stats()
	if stats.Ready != 1 {
		t.Fatalf("queue ready = %d, want 1", stats.Ready)
	}
}

func TestOrchestrator_Cancel(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	if o.Cancel("no-such-run") {
		t.Fatalf("Cancel of an unregistered run reported true")
	}

	called := false
	_, cancel := context.WithCancel(context.Background())
	_ = cancel
	ctx, realCancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.active["run-1"] = func() { called = true; realCancel() }
	o.mu.Unlock()

	if !o.Cancel("run-1") {
		t.Fatalf("Cancel of a registered run reported false")
	}
	if !called {
		t.Fatalf("Cancel did not invoke the registered cancel func")
	}
	if ctx.Err() == nil {
		t.Fatalf("expected the wrapped context to be cancelled")
	}
	if !o.Cancel("run-1") {
		t.Fatalf("second Cancel of a run whose entry was never removed in this test reported false, want true while registered")
	}
}

func TestOrchestrator_Status(t *testing.T) {
	o, _, st := newTestOrchestrator(t)

	run := domain.Run{ID: "run-1", Status: domain.RunPublished}
	if err := st.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("seed SaveRun: %v", err)
	}

	o.mu.Lock()
	o.lastEvent["run-1"] = domain.Event{RunID: "run-1", Kind: domain.EventRunCompleted, Message: "done"}
	o.mu.Unlock()

	view, err := o.Status(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.Run.ID != "run-1" {
		t.Fatalf("status run id = %q, want run-1", view.Run.ID)
	}
	if view.LastEvent == nil || view.LastEvent.Message != "done" {
		t.Fatalf("status last event = %+v, want message \"done\"", view.LastEvent)
	}
}

func TestOrchestrator_Stats(t *testing.T) {
	o, q, _ := newTestOrchestrator(t)

	issue := domain.NewIssue("issue-1", "fix bug", nil, nil, "body", time.Now())
	if err := q.Enqueue(context.Background(), issue); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats := o.Stats()
	if stats.Queue.Ready != 1 {
		t.Fatalf("queue ready = %d, want 1", stats.Queue.Ready)
	}
	if stats.Fleet.TotalCapacity != 4 {
		t.Fatalf("fleet total capacity = %d, want 4", stats.Fleet.TotalCapacity)
	}
}

func TestOrchestrator_ListRuns(t *testing.T) {
	o, _, st := newTestOrchestrator(t)

	if err := st.SaveRun(context.Background(), domain.Run{ID: "run-1", Status: domain.RunFailed}); err != nil {
		t.Fatalf("seed SaveRun: %v", err)
	}
	if err := st.SaveRun(context.Background(), domain.Run{ID: "run-2", Status: domain.RunPublished}); err != nil {
		t.Fatalf("seed SaveRun: %v", err)
	}

	failed := domain.RunFailed
	runs, err := o.ListRuns(context.Background(), store.RunFilter{Status: &failed})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("runs = %+v, want exactly run-1", runs)
	}
}
