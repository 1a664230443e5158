// Package worktree implements the Worktree Service external interface: an
// abstraction over version-control working-copy operations, exposed as a
// narrow Create/Merge/Cleanup interface with explicit context and
// structured errors rather than a fat VCS client, so callers in
// internal/runstate can be driven by a fake in tests.
package worktree

import (
	"context"
	"fmt"

	"github.com/worldforge/orchestrator/internal/domain"
)

// Service is the Worktree Service external interface. Create must be called
// once per world before a supervisor starts; Cleanup must be idempotent,
// since phase 9 (Release) calls it unconditionally even after a crash
// restart where some worktrees may already be gone.
type Service interface {
	// Create checks out an isolated working copy for one world and returns
	// its path. It fails with ErrWorktreeConflict if the path is already in
	// use by another tracked world.
	Create(ctx context.Context, runID string, worldID domain.WorldID) (string, error)
	// Merge stages the winning world's changes for publish and returns an
	// opaque merge reference (e.g. a branch name or commit SHA).
	Merge(ctx context.Context, winnerPath string) (string, error)
	// Cleanup removes a worktree. It is a no-op, not an error, if the path
	// does not exist.
	Cleanup(ctx context.Context, path string) error
}

// PathFor computes the deterministic worktree path for a world, following
// the `<id>-w<i>` naming convention so Provision is re-derivable on
// restart without consulting any other state. GitService.Create passes the
// run id as id, so paths are named by run, not by issue.
func PathFor(basePath, issueID string, worldID domain.WorldID) string {
	return fmt.Sprintf("%s/%s-w%d", basePath, issueID, worldID)
}
