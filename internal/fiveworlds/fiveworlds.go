// Package fiveworlds implements the Five-Worlds Executor: fan a single task
// out across N isolated worlds running concurrently, score each world's
// outcome, and vote on a winner. The fan-out/collect/score/select shape
// mirrors the teacher's multi-provider code-review pipeline (scan once, run
// every provider's review concurrently via a WaitGroup-guarded goroutine
// pool, collect into a slice, then consolidate and rank) — the same
// "spawn N, await N, vote" structure applied to worlds instead of LLM
// providers.
package fiveworlds

import (
	"context"
	"sort"
	"sync"

	"github.com/worldforge/orchestrator/internal/domain"
)

// WorldRunner executes exactly one world to a terminal domain.WorldStatus
// and returns its AgentResult. Implementations typically wrap
// internal/supervisor.Supervisor; the executor depends only on this
// narrow interface so it can be driven by a fake in tests.
type WorldRunner interface {
	RunWorld(ctx context.Context, worldID domain.WorldID, worktreePath string) (domain.AgentResult, error)
}

// Scorer computes a composite 0-100 score from one world's AgentResult. The
// default scorer lives in internal/quality; the executor accepts any
// implementation to keep scoring policy out of the fan-out mechanics.
type Scorer interface {
	Score(result domain.AgentResult) float64
}

// Config configures one Execute call.
type Config struct {
	NumWorlds   int
	WorktreeFor func(worldID domain.WorldID) string
	Runner      WorldRunner
	Scorer      Scorer
	Threshold   float64 // τ: minimum successful_worlds/N to avoid failing the run.
}

// Outcome is the aggregated result of fanning a task across N worlds.
type Outcome struct {
	Worlds     []domain.World
	Successful int
	Confidence float64
	WinnerID   *domain.WorldID
	Failed     bool
}

// Execute spawns Config.NumWorlds world runs concurrently, awaits every one
// to a terminal state, scores each, and votes on a winner. It never returns
// an error for an individual world's failure — that is represented in the
// returned Outcome — only for a ctx cancellation that aborts the whole
// fan-out.
func Execute(ctx context.Context, task domain.QueuedTask, cfg Config) (Outcome, error) {
	worlds := make([]domain.World, cfg.NumWorlds)
	var wg sync.WaitGroup
	wg.Add(cfg.NumWorlds)

	for i := 0; i < cfg.NumWorlds; i++ {
		worldID := domain.WorldID(i)
		path := cfg.WorktreeFor(worldID)
		worlds[i] = domain.World{ID: worldID, WorktreePath: path, Status: domain.WorldPending}

		go func(idx int, id domain.WorldID, worktreePath string) {
			defer wg.Done()

			result, err := cfg.Runner.RunWorld(ctx, id, worktreePath)
			w := &worlds[idx]
			if err != nil {
				w.Status = domain.WorldFailed
				return
			}
			w.Status = domain.WorldCompleted
			if !result.Success {
				w.Status = domain.WorldFailed
			}
			w.Result = &result
			w.Score = cfg.Scorer.Score(result)
		}(i, worldID, path)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	return vote(worlds, cfg.Threshold), nil
}

// vote tallies successes and selects the winner: highest composite score
// among successful worlds, ties broken by lowest WorldID so replay stays
// deterministic regardless of goroutine completion order.
func vote(worlds []domain.World, threshold float64) Outcome {
	successful := 0
	for _, w := range worlds {
		if w.Status == domain.WorldCompleted {
			successful++
		}
	}

	n := len(worlds)
	confidence := 0.0
	if n > 0 {
		confidence = float64(successful) / float64(n)
	}

	outcome := Outcome{
		Worlds:     worlds,
		Successful: successful,
		Confidence: confidence,
	}

	if confidence < threshold {
		outcome.Failed = true
		return outcome
	}

	candidates := make([]domain.World, 0, successful)
	for _, w := range worlds {
		if w.Status == domain.WorldCompleted {
			candidates = append(candidates, w)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > 0 {
		winner := candidates[0].ID
		outcome.WinnerID = &winner
	}
	return outcome
}
