// Package aggregator implements the Result Aggregator & Publisher: it turns
// a run's per-world outcomes into one human-readable summary and then
// drives the external publish interfaces (change-set creation,
// notification, progress tracker update). Each publish collaborator is a
// narrow interface invoked independently, so one's failure is surfaced
// without corrupting internal state or blocking the others.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/worldforge/orchestrator/internal/domain"
)

// Summary is the aggregated, publish-ready view of a completed run.
type Summary struct {
	RunID         string
	WinnerID      *domain.WorldID
	SuccessCount  int
	TotalWorlds   int
	ChangedFiles  []string
	ErrorBody     string
	Text          string
}

// Aggregate dedups the union of every world's modified files, counts
// successes, concatenates failure messages, and composes a structured
// summary section.
func Aggregate(run domain.Run) Summary {
	fileSet := make(map[string]struct{})
	var errs []string
	successCount := 0

	for _, w := range run.Worlds {
		if w.Status == domain.WorldCompleted {
			successCount++
		}
		if w.Result != nil {
			for _, f := range w.Result.Files {
				fileSet[f] = struct{}{}
			}
			if w.Result.Err != "" {
				errs = append(errs, fmt.Sprintf("world %d: %s", w.ID, w.Result.Err))
			}
		}
	}

	files := make([]string, 0, len(fileSet))
	for f := range fileSet {
		files = append(files, f)
	}
	sort.Strings(files)

	summary := Summary{
		RunID:        run.ID,
		WinnerID:     run.WinnerID,
		SuccessCount: successCount,
		TotalWorlds:  len(run.Worlds),
		ChangedFiles: files,
		ErrorBody:    strings.Join(errs, "\n"),
	}
	summary.Text = render(summary)
	return summary
}

func render(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %d/%d worlds succeeded\n", s.RunID, s.SuccessCount, s.TotalWorlds)
	if s.WinnerID != nil {
		fmt.Fprintf(&b, "Winner: world %d\n", *s.WinnerID)
	}
	if len(s.ChangedFiles) > 0 {
		b.WriteString("Changed files:\n")
		for _, f := range s.ChangedFiles {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	if s.ErrorBody != "" {
		b.WriteString("Errors:\n")
		b.WriteString(s.ErrorBody)
		b.WriteString("\n")
	}
	return b.String()
}

// ChangeSetSink creates a pull-request-like object carrying the summary.
type ChangeSetSink interface {
	OpenChangeSet(ctx context.Context, mergeRef string, summary Summary) (changeSetID string, err error)
}

// NotificationSink posts a status update to an external notification
// channel.
type NotificationSink interface {
	Notify(ctx context.Context, summary Summary) error
}

// ProgressTracker updates an external milestone/progress tracker.
type ProgressTracker interface {
	UpdateProgress(ctx context.Context, runID string, percent int, message string) error
}

// Publisher drives all three publish interfaces. Each is invoked
// independently; one failing does not prevent the others from running, and
// none corrupts internal run state — callers surface PublishFailed and let
// the run state machine's retry policy decide what happens next.
type Publisher struct {
	ChangeSet ChangeSetSink
	Notify    NotificationSink
	Progress  ProgressTracker
}

// Publish opens a change set, notifies, and updates progress trackers for a
// completed run. It returns the first error encountered but still attempts
// every interface, matching the external-call policy: failures are
// surfaced, not swallowed, but do not abort the whole publish attempt.
func (p *Publisher) Publish(ctx context.Context, mergeRef string, summary Summary) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.ChangeSet != nil {
		if _, err := p.ChangeSet.OpenChangeSet(ctx, mergeRef, summary); err != nil {
			record(fmt.Errorf("%w: open change set: %v", domain.ErrPublishFailed, err))
		}
	}
	if p.Notify != nil {
		if err := p.Notify.Notify(ctx, summary); err != nil {
			record(fmt.Errorf("%w: notify: %v", domain.ErrPublishFailed, err))
		}
	}
	if p.Progress != nil {
		if err := p.Progress.UpdateProgress(ctx, summary.RunID, 100, "published"); err != nil {
			record(fmt.Errorf("%w: update progress: %v", domain.ErrPublishFailed, err))
		}
	}
	return firstErr
}
