package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"os/exec"

	"github.com/worldforge/orchestrator/internal/domain"
)

// GitService implements Service over `git worktree` against a single
// repository checkout. It is single-writer per path by construction: Create
// records every path it hands out and refuses to hand out the same one
// twice until Cleanup releases it, satisfying the "no two worlds share a
// worktree path" invariant independent of whatever the caller does.
type GitService struct {
	repoDir  string
	basePath string

	mu     sync.Mutex
	active map[string]struct{}

	runGit func(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// NewGitService constructs a GitService rooted at repoDir, checking out
// worktrees under basePath.
func NewGitService(repoDir, basePath string) *GitService {
	return &GitService{
		repoDir:  repoDir,
		basePath: basePath,
		active:   make(map[string]struct{}),
		runGit:   runGitCommand,
	}
}

// Create checks out a new worktree on a branch named after the run and
// world, at the deterministic PathFor path.
func (g *GitService) Create(ctx context.Context, runID string, worldID domain.WorldID) (string, error) {
	g.mu.Lock()
	path := PathFor(g.basePath, runID, worldID)
	if _, taken := g.active[path]; taken {
		g.mu.Unlock()
		return "", domain.ErrWorktreeConflict
	}
	g.active[path] = struct{}{}
	g.mu.Unlock()

	branch := fmt.Sprintf("world/%s/%d", runID, worldID)
	if _, err := g.runGit(ctx, g.repoDir, "worktree", "add", "-b", branch, path, "HEAD"); err != nil {
		g.mu.Lock()
		delete(g.active, path)
		g.mu.Unlock()
		return "", fmt.Errorf("create worktree %s: %w", path, err)
	}
	return path, nil
}

// Merge stages the winning worktree's branch for publish by returning its
// current commit SHA as the merge reference; the publish phase uses this to
// open or fast-forward a change set without touching the worktree again.
func (g *GitService) Merge(ctx context.Context, winnerPath string) (string, error) {
	out, err := g.runGit(ctx, winnerPath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve merge ref for %s: %w", winnerPath, err)
	}
	return string(bytes.TrimSpace(out)), nil
}

// Cleanup removes a worktree; the world branch Create made for it is left
// in the repository. It is idempotent: a path
// already absent is treated as already cleaned up, not an error, so phase 9
// can call it unconditionally after a crash restart.
func (g *GitService) Cleanup(ctx context.Context, path string) error {
	g.mu.Lock()
	delete(g.active, path)
	g.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	_, err := g.runGit(ctx, g.repoDir, "worktree", "remove", "--force", path)
	if err != nil {
		return fmt.Errorf("cleanup worktree %s: %w", path, err)
	}
	return nil
}

func runGitCommand(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}
