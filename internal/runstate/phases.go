package runstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/worldforge/orchestrator/internal/aggregator"
	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/fiveworlds"
	"github.com/worldforge/orchestrator/internal/quality"
)

// planPhase decomposes the task into world-level commands. The core treats
// the agent as an opaque headless command (§Non-goals), so planning here is
// limited to validating that a command template is configured and sizing
// the world count from configuration.
func (m *Machine) planPhase(ctx context.Context, run *domain.Run, ws *execState) error {
	if len(m.cfg.AgentCommand) == 0 {
		return fmt.Errorf("no agent_command configured")
	}
	m.publish(run.ID, domain.EventRunProgress, "plan: commands decomposed", nil)
	return nil
}

// acquirePhase claims NumWorlds fleet slots via the load balancer. Slots are
// released unconditionally in releasePhase, even on a later failure.
func (m *Machine) acquirePhase(ctx context.Context, run *domain.Run, ws *execState) error {
	ws.machines = ws.machines[:0]
	for i := 0; i < m.cfg.NumWorlds; i++ {
		mach, err := m.fleet.Assign()
		if err != nil {
			return fmt.Errorf("acquire slot %d/%d: %w", i+1, m.cfg.NumWorlds, err)
		}
		ws.machines = append(ws.machines, mach)
	}
	m.publish(run.ID, domain.EventRunProgress, fmt.Sprintf("acquire: %d slots claimed", len(ws.machines)), nil)
	return nil
}

// provisionPhase creates one isolated worktree per world and checkpoints
// each creation so a crash mid-provision doesn't lose track of what's
// already on disk.
func (m *Machine) provisionPhase(ctx context.Context, run *domain.Run, ws *execState) error {
	ws.worlds = make([]domain.World, m.cfg.NumWorlds)
	for i := 0; i < m.cfg.NumWorlds; i++ {
		worldID := domain.WorldID(i)
		path, err := m.worktree.Create(ctx, run.ID, worldID)
		if err != nil {
			return fmt.Errorf("provision world %d: %w", i, err)
		}
		ws.worlds[i] = domain.World{ID: worldID, WorktreePath: path, Status: domain.WorldPending}

		payload, _ := json.Marshal(domain.WorktreeCreatedPayload{WorldID: worldID, Path: path})
		if _, err := m.checkpoint.Save(ctx, run.ID, domain.CheckpointWorktreeCreated, &worldID, payload); err != nil {
			return err
		}
	}
	run.Worlds = append([]domain.World(nil), ws.worlds...)
	m.publish(run.ID, domain.EventRunProgress, fmt.Sprintf("provision: %d worktrees created", len(ws.worlds)), nil)
	return nil
}

// executePhase fans the task out across the provisioned worlds via the
// five-worlds executor and records the spawn checkpoint.
func (m *Machine) executePhase(ctx context.Context, run *domain.Run, ws *execState) error {
	worldIDs := make([]domain.WorldID, len(ws.worlds))
	for i, w := range ws.worlds {
		worldIDs[i] = w.ID
	}
	payload, _ := json.Marshal(domain.WorldsSpawnedPayload{WorldIDs: worldIDs})
	if _, err := m.checkpoint.Save(ctx, run.ID, domain.CheckpointWorldsSpawned, nil, payload); err != nil {
		return err
	}

	outcome, err := fiveworlds.Execute(ctx, run.Task, fiveworlds.Config{
		NumWorlds: m.cfg.NumWorlds,
		WorktreeFor: func(id domain.WorldID) string {
			for _, w := range ws.worlds {
				if w.ID == id {
					return w.WorktreePath
				}
			}
			return ""
		},
		Runner:    m.runner,
		Scorer:    quality.WorldScorer{Weights: m.weights},
		Threshold: m.cfg.SuccessThreshold,
	})
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	ws.worlds = outcome.Worlds
	run.Worlds = append([]domain.World(nil), ws.worlds...)

	for _, w := range ws.worlds {
		worldID := w.ID
		p, _ := json.Marshal(domain.WorldCompletedPayload{WorldID: w.ID, Status: w.Status, Score: w.Score})
		if _, err := m.checkpoint.Save(ctx, run.ID, domain.CheckpointWorldCompleted, &worldID, p); err != nil {
			return err
		}
		m.publish(run.ID, domain.EventWorldLog, fmt.Sprintf("world %d finished: %s", w.ID, w.Status), &worldID)
	}

	if outcome.Failed {
		return fmt.Errorf("%w: confidence %.2f below threshold %.2f", domain.ErrQualityBelowFloor, outcome.Confidence, m.cfg.SuccessThreshold)
	}
	return nil
}

// assureQualityPhase runs the quality sub-workflow (score, optionally
// auto-fix, re-score) against the current leading candidate world.
func (m *Machine) assureQualityPhase(ctx context.Context, run *domain.Run, ws *execState) error {
	cand, ok := leadingCandidate(ws.worlds)
	if !ok {
		return fmt.Errorf("assure_quality: no completed world to gate")
	}

	report, result, err := runQualityLoop(ctx, run.ID, cand, m.weights,
		m.cfg.SuccessThresholdPass, m.cfg.SuccessThresholdFix, m.cfg.MaxAutoFixAttempts,
		m.advisor, m.fixer)
	if err != nil {
		return fmt.Errorf("assure_quality: %w", err)
	}

	run.Quality = report
	run.Attempt = report.AutoFixAttempt
	for i := range ws.worlds {
		if ws.worlds[i].ID == cand.ID {
			ws.worlds[i].Result = &result
			ws.worlds[i].Score = report.Composite
		}
	}
	run.Worlds = append([]domain.World(nil), ws.worlds...)

	if report.Composite < m.cfg.SuccessThresholdFix {
		return fmt.Errorf("%w: composite %.1f below fix threshold %.1f",
			domain.ErrQualityBelowFloor, report.Composite, m.cfg.SuccessThresholdFix)
	}
	if !report.Passed(m.cfg.SuccessThresholdPass) {
		return fmt.Errorf("%w: composite %.1f below pass threshold %.1f after %d auto-fix attempts",
			domain.ErrAutoFixExhausted, report.Composite, m.cfg.SuccessThresholdPass, report.AutoFixAttempt)
	}
	m.publish(run.ID, domain.EventRunProgress, fmt.Sprintf("assure_quality: composite %.1f passed", report.Composite), nil)
	return nil
}

// evaluatePhase re-votes over the quality-gated worlds and records the
// winner selection checkpoint.
func (m *Machine) evaluatePhase(ctx context.Context, run *domain.Run, ws *execState) error {
	cand, ok := leadingCandidate(ws.worlds)
	if !ok {
		return fmt.Errorf("evaluate: no candidate world")
	}
	winner := cand.ID
	run.WinnerID = &winner

	n := len(ws.worlds)
	successful := 0
	for _, w := range ws.worlds {
		if w.Status == domain.WorldCompleted {
			successful++
		}
	}
	confidence := 0.0
	if n > 0 {
		confidence = float64(successful) / float64(n)
	}

	payload, _ := json.Marshal(domain.EvaluationDonePayload{WinnerID: winner, Confidence: confidence})
	if _, err := m.checkpoint.Save(ctx, run.ID, domain.CheckpointEvaluationDone, nil, payload); err != nil {
		return err
	}
	m.publish(run.ID, domain.EventRunProgress, fmt.Sprintf("evaluate: world %d selected", winner), &winner)
	return nil
}

// prepareMergePhase stages the winning world's changes for publish.
func (m *Machine) prepareMergePhase(ctx context.Context, run *domain.Run, ws *execState) error {
	winner, ok := run.Winner()
	if !ok {
		for _, w := range ws.worlds {
			if run.WinnerID != nil && w.ID == *run.WinnerID {
				winner = w
				ok = true
				break
			}
		}
	}
	if !ok {
		return fmt.Errorf("prepare_merge: no winner recorded")
	}

	ref, err := m.worktree.Merge(ctx, winner.WorktreePath)
	if err != nil {
		return fmt.Errorf("prepare_merge: %w", err)
	}
	ws.mergeRef = ref

	if winner.Result != nil && len(winner.Result.Files) > 0 {
		artifacts := make([]domain.Artifact, 0, len(winner.Result.Files))
		for _, f := range winner.Result.Files {
			artifacts = append(artifacts, domain.Artifact{RunID: run.ID, WorldID: winner.ID, Path: f})
		}
		if err := m.st.SaveArtifacts(ctx, artifacts); err != nil {
			return fmt.Errorf("prepare_merge: save artifacts: %w", err)
		}
	}

	payload, _ := json.Marshal(domain.MergeReadyPayload{MergeRef: ref})
	if _, err := m.checkpoint.Save(ctx, run.ID, domain.CheckpointMergeReady, nil, payload); err != nil {
		return err
	}
	m.publish(run.ID, domain.EventRunProgress, "prepare_merge: merge ref staged", nil)
	return nil
}

// publishPhase invokes the external publish/notify interfaces over the
// aggregated summary.
func (m *Machine) publishPhase(ctx context.Context, run *domain.Run, ws *execState) error {
	run.Worlds = ws.worlds
	summary := aggregator.Aggregate(*run)
	if m.publisher == nil {
		return nil
	}
	if err := m.publisher.Publish(ctx, ws.mergeRef, summary); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	m.publish(run.ID, domain.EventRunProgress, "publish: change set opened and notified", nil)
	return nil
}

// releasePhase returns fleet slots and cleans up every worktree. It always
// runs, even when an earlier phase failed, and its own errors are logged
// rather than propagated, since the run's terminal status is already
// decided by the time release runs.
func (m *Machine) releasePhase(ctx context.Context, run *domain.Run, ws *execState) {
	for _, mach := range ws.machines {
		m.fleet.Release(mach.Hostname)
	}
	for _, w := range ws.worlds {
		if err := m.worktree.Cleanup(ctx, w.WorktreePath); err != nil {
			m.logger.Error("release: worktree cleanup failed", err, map[string]any{"run_id": run.ID, "world_id": int(w.ID)})
		}
	}
	if err := m.checkpoint.Cleanup(ctx, run.ID, 1); err != nil {
		m.logger.Error("release: checkpoint cleanup failed", err, map[string]any{"run_id": run.ID})
	}
	m.publish(run.ID, domain.EventRunProgress, "release: slots and worktrees released", nil)
}

// leadingCandidate picks the highest-scoring completed world, the same
// tie-break fiveworlds.vote uses (lowest WorldID on a tie), as the single
// candidate the assure-quality/evaluate phases gate and finalize.
func leadingCandidate(worlds []domain.World) (domain.World, bool) {
	var best domain.World
	found := false
	for _, w := range worlds {
		if w.Status != domain.WorldCompleted {
			continue
		}
		if !found || w.Score > best.Score || (w.Score == best.Score && w.ID < best.ID) {
			best = w
			found = true
		}
	}
	return best, found
}

