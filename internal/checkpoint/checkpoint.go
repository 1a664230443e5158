// Package checkpoint implements the Checkpoint Manager: an append-only
// record of run progress sufficient, on its own, for the run state machine
// to resume after a crash without consulting any other component's live
// state. Checkpoints are appended through internal/store and queried back
// by run ID, with a discriminated-union payload per checkpoint row.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/worldforge/orchestrator/internal/domain"
)

// Store is the persistence seam the Manager writes through to.
// Implementations live in internal/store.
type Store interface {
	SaveCheckpoint(ctx context.Context, ckpt domain.Checkpoint) error
	LoadCheckpoints(ctx context.Context, runID string) ([]domain.Checkpoint, error)
	DeleteCheckpoints(ctx context.Context, runID string, keepIDs map[string]struct{}) error
}

// AutoCheckpointFunc is polled on the auto-checkpoint interval; a nil
// return means "nothing new to persist this tick."
type AutoCheckpointFunc func(ctx context.Context) (runID string, ckptType domain.CheckpointType, worldID *domain.WorldID, payload []byte, err error)

// Logger receives auto-checkpoint failures, which are logged, not fatal, so
// a transient store hiccup never blocks phase progression.
type Logger interface {
	Error(msg string, err error)
}

// Manager is the Checkpoint Manager.
type Manager struct {
	store  Store
	clock  func() time.Time
	logger Logger
	cron   *cron.Cron
}

// New constructs a Manager backed by store.
func New(store Store, logger Logger) *Manager {
	return &Manager{
		store:  store,
		clock:  time.Now,
		logger: logger,
	}
}

// Save appends a checkpoint row for runID with the given type, optional
// world id, and JSON-encoded payload.
func (m *Manager) Save(ctx context.Context, runID string, ckptType domain.CheckpointType, worldID *domain.WorldID, payload []byte) (domain.Checkpoint, error) {
	ckpt := domain.Checkpoint{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      ckptType,
		WorldID:   worldID,
		Payload:   payload,
		CreatedAt: m.clock(),
	}
	if err := m.store.SaveCheckpoint(ctx, ckpt); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return ckpt, nil
}

// Latest returns the most recently created checkpoint for runID, regardless
// of type — the recovery contract the run state machine resumes from.
func (m *Manager) Latest(ctx context.Context, runID string) (domain.Checkpoint, bool, error) {
	all, err := m.store.LoadCheckpoints(ctx, runID)
	if err != nil {
		return domain.Checkpoint{}, false, err
	}
	if len(all) == 0 {
		return domain.Checkpoint{}, false, nil
	}
	latest := all[0]
	for _, c := range all[1:] {
		if c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest, true, nil
}

// All returns every checkpoint recorded for runID, in no particular order —
// callers that need chronological order should sort on CreatedAt.
func (m *Manager) All(ctx context.Context, runID string) ([]domain.Checkpoint, error) {
	return m.store.LoadCheckpoints(ctx, runID)
}

// ByType returns every checkpoint of the given type recorded for runID.
func (m *Manager) ByType(ctx context.Context, runID string, ckptType domain.CheckpointType) ([]domain.Checkpoint, error) {
	all, err := m.store.LoadCheckpoints(ctx, runID)
	if err != nil {
		return nil, err
	}
	var out []domain.Checkpoint
	for _, c := range all {
		if c.Type == ckptType {
			out = append(out, c)
		}
	}
	return out, nil
}

// Cleanup keeps the keepLatest most recent checkpoints for runID and
// deletes the rest in one call to the store.
func (m *Manager) Cleanup(ctx context.Context, runID string, keepLatest int) error {
	all, err := m.store.LoadCheckpoints(ctx, runID)
	if err != nil {
		return err
	}
	if len(all) <= keepLatest {
		return nil
	}

	ordered := append([]domain.Checkpoint(nil), all...)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].CreatedAt.After(ordered[i].CreatedAt) {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	keep := make(map[string]struct{}, keepLatest)
	for _, c := range ordered[:keepLatest] {
		keep[c.ID] = struct{}{}
	}
	return m.store.DeleteCheckpoints(ctx, runID, keep)
}

// StartAutoCheckpoint schedules fn to run every interval, persisting
// whatever it yields via Save. Failures are passed to the Manager's Logger
// and never propagate — the auto-checkpoint loop must not block phase
// progression. It returns a stop function.
func (m *Manager) StartAutoCheckpoint(ctx context.Context, interval time.Duration, fn AutoCheckpointFunc) (stop func(), err error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval.String())
	_, err = c.AddFunc(spec, func() {
		runID, ckptType, worldID, payload, err := fn(ctx)
		if err != nil {
			m.logger.Error("auto-checkpoint callback failed", err)
			return
		}
		if payload == nil {
			return
		}
		if _, err := m.Save(ctx, runID, ckptType, worldID, payload); err != nil {
			m.logger.Error("auto-checkpoint save failed", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule auto-checkpoint: %w", err)
	}
	m.cron = c
	c.Start()
	return func() { c.Stop() }, nil
}
