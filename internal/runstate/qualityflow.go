// The assure-quality phase's auto-fix loop scores a candidate world,
// backfills any sub-score the agent didn't self-report via the advisor
// panel, and — while the composite lands in the marginal band and attempts
// remain — re-invokes the agent with the report's gaps as feedback and
// scores again. It is a bounded score/branch/retry loop over one
// candidate, not a general workflow, so it is written as plain sequential
// Go: the phase 5 exit condition ("composite >= pass; auto-fix loop runs
// while fix <= composite < pass") maps directly onto a for-loop with a
// fixed iteration cap.
package runstate

import (
	"context"
	"fmt"

	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/quality"
)

// AutoFixRunner re-invokes a world's agent with feedback about the quality
// gaps that kept its previous attempt out of the pass band. Implementations
// typically wrap internal/supervisor.Supervisor with a command that
// includes the report as context.
type AutoFixRunner interface {
	RunFix(ctx context.Context, worldID domain.WorldID, worktreePath string, report domain.QualityReport) (domain.AgentResult, error)
}

// scoreCandidate builds a QualityReport from result, backfilling any
// sub-score the agent didn't self-report via the advisor panel (if
// configured) against a summary of the candidate's changed files and
// agent message.
func scoreCandidate(ctx context.Context, weights quality.Weights, advisorPanel advisorBackfiller, worldID domain.WorldID, result domain.AgentResult, attempt int) domain.QualityReport {
	metrics := domain.ResultMetrics{}
	if result.Metrics != nil {
		metrics = *result.Metrics
	}
	if advisorPanel != nil {
		diff := fmt.Sprintf("world %d changed files: %v\nagent message: %s", worldID, result.Files, result.Message)
		metrics = advisorPanel.Backfill(ctx, &metrics, diff)
	}
	return weights.Report(metrics, attempt)
}

// runQualityLoop runs the assure-quality gate for one candidate world: an
// initial score, then up to maxAttempts auto-fix/re-score rounds while the
// composite stays in the marginal band, returning the final QualityReport
// and the (possibly auto-fix-updated) AgentResult.
func runQualityLoop(ctx context.Context, runID string, cand domain.World, weights quality.Weights, passThreshold, fixThreshold float64, maxAttempts int, advisorPanel advisorBackfiller, fixer AutoFixRunner) (domain.QualityReport, domain.AgentResult, error) {
	result := domain.AgentResult{}
	if cand.Result != nil {
		result = *cand.Result
	}

	attempt := 0
	report := scoreCandidate(ctx, weights, advisorPanel, cand.ID, result, attempt)

	for fixer != nil && report.Marginal(fixThreshold, passThreshold) && attempt < maxAttempts {
		if err := ctx.Err(); err != nil {
			return report, result, err
		}
		fixed, err := fixer.RunFix(ctx, cand.ID, cand.WorktreePath, report)
		if err != nil {
			return report, result, fmt.Errorf("assure_quality: auto-fix attempt %d: %w", attempt+1, err)
		}
		result = fixed
		attempt++
		report = scoreCandidate(ctx, weights, advisorPanel, cand.ID, result, attempt)
	}

	return report, result, nil
}
