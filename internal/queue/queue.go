// Package queue implements the priority+dependency task queue. It owns three
// disjoint collections — a ready heap, a blocked map, and an in-progress
// map — and guarantees every QueuedTask sits in exactly one of them at any
// instant, rather than one map with a status field.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/priority"
)

// Persister mirrors every mutating Queue operation to durable storage in the
// same logical step. Implementations live in internal/store; Queue depends
// only on this narrow interface to avoid an import cycle.
type Persister interface {
	SaveTask(ctx context.Context, task domain.QueuedTask) error
	DeleteTask(ctx context.Context, issueID domain.IssueID) error
	LoadTasks(ctx context.Context) ([]domain.QueuedTask, error)
}

// Option configures a Queue at construction.
type Option func(*Queue)

// WithMaxQueueSize caps the combined size of all three collections. The
// default is 0, meaning unlimited; callers that want ErrQueueFull behavior
// must set this explicitly.
func WithMaxQueueSize(n int) Option {
	return func(q *Queue) { q.maxQueueSize = n }
}

// WithMaxConcurrent caps how many tasks may be InProgress simultaneously.
func WithMaxConcurrent(n int) Option {
	return func(q *Queue) { q.maxConcurrent = n }
}

// WithPersister attaches a write-through persistence backend.
func WithPersister(p Persister) Option {
	return func(q *Queue) { q.persister = p }
}

// WithClock overrides the queue's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Stats summarizes the queue's three collections for the status API and
// tests that check exact ready/blocked/in_progress counts at specific points
// in a sequence.
type Stats struct {
	Ready      int
	Blocked    int
	InProgress int
}

// Queue is the priority+dependency task queue. All methods are safe for
// concurrent use; reads take a read lock and writes take the single write
// lock, keeping task state serialized behind one lock while allowing
// concurrent reads.
type Queue struct {
	mu sync.RWMutex

	ready      readyHeap
	blocked    map[domain.IssueID]*domain.QueuedTask
	inProgress map[domain.IssueID]*domain.QueuedTask

	maxQueueSize  int
	maxConcurrent int
	persister     Persister
	now           func() time.Time
}

// New constructs an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		blocked:    make(map[domain.IssueID]*domain.QueuedTask),
		inProgress: make(map[domain.IssueID]*domain.QueuedTask),
		now:        time.Now,
	}
	heap.Init(&q.ready)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// size returns the combined size of all three collections. Caller must hold
// at least a read lock.
func (q *Queue) size() int {
	return q.ready.Len() + len(q.blocked) + len(q.inProgress)
}

// hasUnresolvedDependency reports whether any of the issue's declared
// dependencies is still tracked in blocked, ready, or in-progress. Caller
// must hold at least a read lock.
func (q *Queue) hasUnresolvedDependency(issue domain.Issue) bool {
	for dep := range issue.DependsOn {
		if _, ok := q.blocked[dep]; ok {
			return true
		}
		if _, ok := q.inProgress[dep]; ok {
			return true
		}
		if q.ready.containsIssue(dep) {
			return true
		}
	}
	return false
}

// Enqueue computes the issue's priority and inserts it into Ready or
// Blocked depending on whether any dependency is still outstanding. It
// rejects with ErrQueueFull once the combined size would exceed
// max_queue_size.
func (q *Queue) Enqueue(ctx context.Context, issue domain.Issue) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxQueueSize > 0 && q.size() >= q.maxQueueSize {
		return domain.ErrQueueFull
	}

	now := q.now()
	task := domain.QueuedTask{
		Issue:      issue,
		Priority:   priority.Calculate(issue, now),
		EnqueuedAt: now,
	}

	if q.hasUnresolvedDependency(issue) {
		task.State = domain.TaskBlocked
		q.blocked[issue.ID] = &task
	} else {
		task.State = domain.TaskReady
		heap.Push(&q.ready, &task)
	}

	return q.writeThrough(ctx, task)
}

// Dequeue pops the highest-priority Ready task and moves it to InProgress.
// It returns (zero, false) if the queue is empty or max_concurrent has been
// reached — both are normal "nothing to do right now" outcomes, not errors.
func (q *Queue) Dequeue(ctx context.Context) (domain.QueuedTask, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxConcurrent > 0 && len(q.inProgress) >= q.maxConcurrent {
		return domain.QueuedTask{}, false, nil
	}
	if q.ready.Len() == 0 {
		return domain.QueuedTask{}, false, nil
	}

	task := heap.Pop(&q.ready).(*domain.QueuedTask)
	task.State = domain.TaskInProgress
	q.inProgress[task.Issue.ID] = task

	if err := q.writeThrough(ctx, *task); err != nil {
		return domain.QueuedTask{}, false, err
	}
	return *task, true, nil
}

// Complete removes an in-progress task and unblocks any Blocked task whose
// dependencies have now fully resolved. It returns ErrUnknownTask if the id
// is not currently in progress.
func (q *Queue) Complete(ctx context.Context, id domain.IssueID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inProgress[id]; !ok {
		return domain.ErrUnknownTask
	}
	delete(q.inProgress, id)
	if err := q.deleteThrough(ctx, id); err != nil {
		return err
	}

	var unblocked []domain.IssueID
	for depID, task := range q.blocked {
		if !q.hasUnresolvedDependency(task.Issue) {
			unblocked = append(unblocked, depID)
		}
	}
	for _, depID := range unblocked {
		task := q.blocked[depID]
		delete(q.blocked, depID)
		task.State = domain.TaskReady
		heap.Push(&q.ready, task)
		if err := q.writeThrough(ctx, *task); err != nil {
			return err
		}
	}
	return nil
}

// Peek returns the highest-priority Ready task without dequeuing it.
func (q *Queue) Peek() (domain.QueuedTask, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.ready.Len() == 0 {
		return domain.QueuedTask{}, false
	}
	return *q.ready[0], true
}

// Stats reports the current size of each collection.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return Stats{
		Ready:      q.ready.Len(),
		Blocked:    len(q.blocked),
		InProgress: len(q.inProgress),
	}
}

// Snapshot returns a copy of every task across all three collections, for
// restart reconstruction and diagnostics.
func (q *Queue) Snapshot() []domain.QueuedTask {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]domain.QueuedTask, 0, q.size())
	for _, t := range q.ready {
		out = append(out, *t)
	}
	for _, t := range q.blocked {
		out = append(out, *t)
	}
	for _, t := range q.inProgress {
		out = append(out, *t)
	}
	return out
}

// Restore reconstructs the queue's three collections from a persisted
// snapshot, honoring each task's recorded State. Used at process start to
// resume after a crash without re-running Enqueue's dependency logic against
// possibly-stale data.
func (q *Queue) Restore(tasks []domain.QueuedTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ready = nil
	heap.Init(&q.ready)
	q.blocked = make(map[domain.IssueID]*domain.QueuedTask)
	q.inProgress = make(map[domain.IssueID]*domain.QueuedTask)

	for i := range tasks {
		t := tasks[i]
		switch t.State {
		case domain.TaskReady:
			heap.Push(&q.ready, &t)
		case domain.TaskBlocked:
			q.blocked[t.Issue.ID] = &t
		case domain.TaskInProgress:
			q.inProgress[t.Issue.ID] = &t
		}
	}
}

func (q *Queue) writeThrough(ctx context.Context, task domain.QueuedTask) error {
	if q.persister == nil {
		return nil
	}
	if err := q.persister.SaveTask(ctx, task); err != nil {
		return domain.ErrPersistenceFailed
	}
	return nil
}

func (q *Queue) deleteThrough(ctx context.Context, id domain.IssueID) error {
	if q.persister == nil {
		return nil
	}
	if err := q.persister.DeleteTask(ctx, id); err != nil {
		return domain.ErrPersistenceFailed
	}
	return nil
}

// readyHeap is a container/heap.Interface over *domain.QueuedTask ordered by
// PriorityScore.Less, i.e. the highest-priority task is the heap root.
type readyHeap []*domain.QueuedTask

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	return h[i].Priority.Less(h[j].Priority)
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) {
	*h = append(*h, x.(*domain.QueuedTask))
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func (h readyHeap) containsIssue(id domain.IssueID) bool {
	for _, t := range h {
		if t.Issue.ID == id {
			return true
		}
	}
	return false
}
