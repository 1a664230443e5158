package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/worldforge/orchestrator/internal/domain"
)

func newFakeGitService(t *testing.T) (*GitService, *[][]string) {
	t.Helper()
	base := t.TempDir()
	g := NewGitService("/repo", base)
	var calls [][]string
	g.runGit = func(ctx context.Context, dir string, args ...string) ([]byte, error) {
		calls = append(calls, args)
		if len(args) > 0 && args[0] == "worktree" && args[1] == "add" {
			path := args[len(args)-2]
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, err
			}
		}
		if len(args) > 0 && args[0] == "rev-parse" {
			return []byte("deadbeef\n"), nil
		}
		return nil, nil
	}
	return g, &calls
}

func TestGitService_CreateReturnsDeterministicPath(t *testing.T) {
	g, _ := newFakeGitService(t)

	path, err := g.Create(context.Background(), "issue-42", domain.WorldID(2))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := PathFor(g.basePath, "issue-42", domain.WorldID(2))
	if path != want {
		t.Fatalf("Create path = %s, want %s", path, want)
	}
}

func TestGitService_CreateRejectsDuplicatePath(t *testing.T) {
	g, _ := newFakeGitService(t)

	if _, err := g.Create(context.Background(), "issue-1", domain.WorldID(0)); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := g.Create(context.Background(), "issue-1", domain.WorldID(0)); err != domain.ErrWorktreeConflict {
		t.Fatalf("second Create = %v, want ErrWorktreeConflict", err)
	}
}

func TestGitService_MergeReturnsResolvedRef(t *testing.T) {
	g, _ := newFakeGitService(t)
	path, err := g.Create(context.Background(), "issue-1", domain.WorldID(0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ref, err := g.Merge(context.Background(), path)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if ref != "deadbeef" {
		t.Fatalf("Merge ref = %q, want deadbeef", ref)
	}
}

func TestGitService_CleanupIsIdempotent(t *testing.T) {
	g, _ := newFakeGitService(t)
	path, err := g.Create(context.Background(), "issue-1", domain.WorldID(0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := g.Cleanup(context.Background(), path); err != nil {
		t.Fatalf("first Cleanup: %v", err)
	}
	if err := g.Cleanup(context.Background(), path); err != nil {
		t.Fatalf("second Cleanup on already-removed path: %v", err)
	}
}

func TestGitService_CleanupOnMissingPathIsNoop(t *testing.T) {
	g, _ := newFakeGitService(t)
	missing := filepath.Join(g.basePath, "never-created")

	if err := g.Cleanup(context.Background(), missing); err != nil {
		t.Fatalf("Cleanup on missing path: %v", err)
	}
}

func TestGitService_CreateAfterCleanupReusesPath(t *testing.T) {
	g, _ := newFakeGitService(t)
	path, err := g.Create(context.Background(), "issue-1", domain.WorldID(0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := g.Cleanup(context.Background(), path); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if _, err := g.Create(context.Background(), "issue-1", domain.WorldID(0)); err != nil {
		t.Fatalf("Create after cleanup should succeed: %v", err)
	}
}
