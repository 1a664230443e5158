package fiveworlds

import (
	"context"
	"fmt"
	"testing"

	"github.com/worldforge/orchestrator/internal/domain"
)

// scriptedRunner returns a canned success/failure per world and stamps the
// AgentResult's Message with the world id so a scorer can key off of it
// deterministically, independent of goroutine completion order.
type scriptedRunner struct {
	successes []bool
}

func (r scriptedRunner) RunWorld(ctx context.Context, worldID domain.WorldID, worktreePath string) (domain.AgentResult, error) {
	return domain.AgentResult{
		Success: r.successes[worldID],
		Message: fmt.Sprintf("world-%d", worldID),
	}, nil
}

// worldAwareScorer looks up each world's composite score by the world id
// encoded in AgentResult.Message, letting tests assign fixed per-world
// scores without depending on fan-out completion order.
type worldAwareScorer struct {
	scores map[domain.WorldID]float64
}

func (s worldAwareScorer) Score(result domain.AgentResult) float64 {
	if !result.Success {
		return 0
	}
	return s.scores[worldIDFromMessage(result.Message)]
}

func worldIDFromMessage(msg string) domain.WorldID {
	var id int
	fmt.Sscanf(msg, "world-%d", &id)
	return domain.WorldID(id)
}

func worktreeFor(worldID domain.WorldID) string {
	return fmt.Sprintf("/tmp/w%d", worldID)
}

func TestExecute_ScenarioC_WinnerIsHighestScoringSuccess(t *testing.T) {
	successes := []bool{true, true, true, true, false}

	cfg := Config{
		NumWorlds:   5,
		WorktreeFor: worktreeFor,
		Runner:      scriptedRunner{successes: successes},
		Scorer:      worldAwareScorer{scores: map[domain.WorldID]float64{0: 72, 1: 85, 2: 81, 3: 78}},
		Threshold:   0.8,
	}

	outcome, err := Execute(context.Background(), domain.QueuedTask{}, cfg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Failed {
		t.Fatalf("outcome should not be failed: %+v", outcome)
	}
	if outcome.Confidence != 0.8 {
		t.Fatalf("Confidence = %v, want 0.8", outcome.Confidence)
	}
	if outcome.WinnerID == nil || *outcome.WinnerID != domain.WorldID(1) {
		t.Fatalf("WinnerID = %v, want world 1", outcome.WinnerID)
	}
}

func TestExecute_ScenarioD_BelowThresholdFailsWithNoWinner(t *testing.T) {
	successes := []bool{true, true, false, false, false}

	cfg := Config{
		NumWorlds:   5,
		WorktreeFor: worktreeFor,
		Runner:      scriptedRunner{successes: successes},
		Scorer:      worldAwareScorer{scores: map[domain.WorldID]float64{0: 90, 1: 90}},
		Threshold:   0.8,
	}

	outcome, err := Execute(context.Background(), domain.QueuedTask{}, cfg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Failed {
		t.Fatalf("outcome should be failed when confidence < threshold")
	}
	if outcome.WinnerID != nil {
		t.Fatalf("WinnerID should be nil on failure, got %v", outcome.WinnerID)
	}
	if outcome.Confidence != 0.4 {
		t.Fatalf("Confidence = %v, want 0.4", outcome.Confidence)
	}
}

func TestExecute_TieBreaksByLowestWorldID(t *testing.T) {
	successes := []bool{true, true, true}

	cfg := Config{
		NumWorlds:   3,
		WorktreeFor: worktreeFor,
		Runner:      scriptedRunner{successes: successes},
		Scorer:      worldAwareScorer{scores: map[domain.WorldID]float64{0: 80, 1: 90, 2: 90}},
		Threshold:   0.5,
	}

	outcome, err := Execute(context.Background(), domain.QueuedTask{}, cfg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.WinnerID == nil || *outcome.WinnerID != domain.WorldID(1) {
		t.Fatalf("WinnerID = %v, want world 1 (lowest id among tied 90s)", outcome.WinnerID)
	}
}

func TestExecute_NoWorldsShareAWorktreePath(t *testing.T) {
	cfg := Config{
		NumWorlds:   5,
		WorktreeFor: worktreeFor,
		Runner:      scriptedRunner{successes: []bool{true, true, true, true, true}},
		Scorer:      worldAwareScorer{scores: map[domain.WorldID]float64{}},
		Threshold:   0,
	}

	outcome, err := Execute(context.Background(), domain.QueuedTask{}, cfg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	seen := make(map[string]bool)
	for _, w := range outcome.Worlds {
		if seen[w.WorktreePath] {
			t.Fatalf("duplicate worktree path %s", w.WorktreePath)
		}
		seen[w.WorktreePath] = true
	}
}

func TestExecute_PropagatesContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blockingRunner := blockingUntilCancelledRunner{}
	cfg := Config{
		NumWorlds:   2,
		WorktreeFor: worktreeFor,
		Runner:      blockingRunner,
		Scorer:      worldAwareScorer{scores: map[domain.WorldID]float64{}},
		Threshold:   0,
	}

	if _, err := Execute(ctx, domain.QueuedTask{}, cfg); err == nil {
		t.Fatalf("Execute should surface context cancellation")
	}
}

type blockingUntilCancelledRunner struct{}

func (blockingUntilCancelledRunner) RunWorld(ctx context.Context, worldID domain.WorldID, worktreePath string) (domain.AgentResult, error) {
	<-ctx.Done()
	return domain.AgentResult{}, ctx.Err()
}
