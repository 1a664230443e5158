// Package external declares the consumed interfaces §6 lists that don't
// already have a narrower home elsewhere: the issue tracker source.
// (Worktree service lives in
// internal/worktree; publish/notification sinks live in
// internal/aggregator, since they're shaped by what Aggregate produces;
// the persistence driver contract is internal/store.Store itself.) Keeping
// this package thin avoids a fat "everything external" grab-bag — each
// collaborator's interface sits next to the component that actually calls
// it, the same narrow-interface-per-collaborator shape internal/worktree's
// Service and internal/advisor's ChatModel use for every other external
// system the core touches.
package external

import (
	"context"

	"github.com/worldforge/orchestrator/internal/domain"
)

// IssueSource is the upstream issue tracker collaborator: it lists open
// issues for the queue drainer to enqueue, and is told when a run
// completes so it can close out or comment on the tracked item.
type IssueSource interface {
	// ListOpen returns every open issue the tracker currently knows about.
	ListOpen(ctx context.Context) ([]domain.Issue, error)
	// OnCompletion notifies the tracker that the run for issueID finished, with a
	// human-readable summary of the outcome.
	OnCompletion(ctx context.Context, issueID domain.IssueID, summary string) error
}
