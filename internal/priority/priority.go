// Package priority computes a pure function from an Issue's labels, age, and
// dependency count to a domain.PriorityScore.
//
// Calculate has no side effects and no dependency on wall-clock time beyond
// the issue's own CreatedAt — given the same Issue twice, it returns the
// same PriorityScore, which is what lets the task queue's total order stay
// stable across restarts and replays.
package priority

import (
	"time"

	"github.com/worldforge/orchestrator/internal/domain"
)

// classLabels maps the label that names a class to the class itself. Labels
// are matched case-sensitively; callers that need case-insensitive matching
// should normalize Issue.Labels before calling Calculate.
var classLabels = map[string]domain.PriorityClass{
	"priority:critical": domain.Critical,
	"priority:high":     domain.High,
	"priority:medium":   domain.Medium,
	"priority:low":      domain.Low,
}

// Weights tune how age and dependency count push the numeric value within a
// class. They are not runtime configuration because the calculator must stay
// pure and deterministic across restarts; a deployment that wants different
// weights recompiles with different constants. (Quality weights, by
// contrast, are read from configuration.)
const (
	ageWeightPerDay       = 1.0
	dependencyWeightEach  = 0.5
	maxAgeDaysConsidered  = 30.0
)

// Calculate maps an Issue to a PriorityScore. If the issue carries none of
// the class-defining labels, it defaults to Medium.
func Calculate(issue domain.Issue, now time.Time) domain.PriorityScore {
	class := domain.Medium
	for label, c := range classLabels {
		if issue.HasLabel(label) {
			class = maxClass(class, c)
		}
	}

	age := now.Sub(issue.CreatedAt)
	ageDays := age.Hours() / 24
	if ageDays > maxAgeDaysConsidered {
		ageDays = maxAgeDaysConsidered
	}
	if ageDays < 0 {
		ageDays = 0
	}

	value := ageDays*ageWeightPerDay + float64(len(issue.DependsOn))*dependencyWeightEach

	return domain.PriorityScore{
		Class:      class,
		Value:      value,
		EnqueuedAt: now,
	}
}

// maxClass returns the more urgent of two classes, so an issue carrying
// multiple class labels (e.g. mislabeled during triage) resolves to the
// single most urgent one rather than whichever label the map iterated last.
func maxClass(a, b domain.PriorityClass) domain.PriorityClass {
	if b > a {
		return b
	}
	return a
}
