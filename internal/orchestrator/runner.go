// Package orchestrator is the composition root that wires every other
// component into the running system and exposes the Run Control API §6
// names as the one surface external callers (a CLI, a web/Telegram
// gateway, or the HTTP layer in internal/api) use: submit an issue, cancel
// a run, query status, list runs, and read aggregate stats. It owns the
// long-lived loops §5 describes — the queue drainer (one run-driver per
// dequeued task, bounded by max_concurrent_tasks) and the fleet reprobe
// ticker — the same "small number of long-lived loops spawned from one
// place" shape cmd/orchestratord assembles at startup.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/supervisor"
)

// SupervisorRunner adapts internal/supervisor.Supervisor to
// internal/fiveworlds.WorldRunner and internal/runstate.AutoFixRunner: it
// builds the per-world command from configuration, spawns a Supervisor in
// a fresh session directory, and normalizes the terminal outcome into an
// AgentResult. This is the glue the spec treats as an opaque external
// collaborator (§Non-goals' "the core treats the agent as an opaque
// headless command") but that a runnable composition root still has to
// construct concretely.
type SupervisorRunner struct {
	// Command renders the base agent invocation for one world's worktree.
	Command func(worktreePath string) []string
	// FixCommand renders the auto-fix re-invocation, given the worktree and
	// the quality report whose gaps the fix attempt should address. A nil
	// FixCommand makes RunFix fall back to Command, unchanged.
	FixCommand func(worktreePath string, report domain.QualityReport) []string
	LogDir     string
	Timeout    time.Duration
}

// RunWorld implements fiveworlds.WorldRunner.
func (r SupervisorRunner) RunWorld(ctx context.Context, worldID domain.WorldID, worktreePath string) (domain.AgentResult, error) {
	return r.run(ctx, worldID, worktreePath, r.Command(worktreePath))
}

// RunFix implements runstate.AutoFixRunner.
func (r SupervisorRunner) RunFix(ctx context.Context, worldID domain.WorldID, worktreePath string, report domain.QualityReport) (domain.AgentResult, error) {
	cmd := r.Command(worktreePath)
	if r.FixCommand != nil {
		cmd = r.FixCommand(worktreePath, report)
	}
	return r.run(ctx, worldID, worktreePath, cmd)
}

func (r SupervisorRunner) run(ctx context.Context, worldID domain.WorldID, worktreePath string, command []string) (domain.AgentResult, error) {
	sup := supervisor.New(supervisor.Config{
		Command:   command,
		WorkDir:   worktreePath,
		Timeout:   r.Timeout,
		LogDir:    r.LogDir,
		SessionID: fmt.Sprintf("w%d-%s", worldID, uuid.NewString()),
	})

	runErr := sup.Run(ctx)
	result, _ := sup.Result()
	if result == nil {
		result = &domain.AgentResult{Success: false, Message: "no result collected"}
	}
	return *result, runErr
}
