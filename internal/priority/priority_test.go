package priority

import (
	"testing"
	"time"

	"github.com/worldforge/orchestrator/internal/domain"
)

func TestCalculate_DefaultsToMediumWithoutClassLabel(t *testing.T) {
	now := time.Now()
	issue := domain.NewIssue("1", "no labels", nil, nil, "", now)

	got := Calculate(issue, now)

	if got.Class != domain.Medium {
		t.Fatalf("Class = %v, want Medium", got.Class)
	}
}

func TestCalculate_RespectsExplicitClass(t *testing.T) {
	now := time.Now()
	issue := domain.NewIssue("1", "critical bug", []string{"priority:critical"}, nil, "", now)

	got := Calculate(issue, now)

	if got.Class != domain.Critical {
		t.Fatalf("Class = %v, want Critical", got.Class)
	}
}

func TestCalculate_MostUrgentLabelWins(t *testing.T) {
	now := time.Now()
	issue := domain.NewIssue("1", "mislabeled", []string{"priority:low", "priority:high"}, nil, "", now)

	got := Calculate(issue, now)

	if got.Class != domain.High {
		t.Fatalf("Class = %v, want High", got.Class)
	}
}

func TestCalculate_OlderIssueHasHigherValue(t *testing.T) {
	now := time.Now()
	older := domain.NewIssue("1", "old", []string{"priority:high"}, nil, "", now.Add(-10*24*time.Hour))
	newer := domain.NewIssue("2", "new", []string{"priority:high"}, nil, "", now)

	olderScore := Calculate(older, now)
	newerScore := Calculate(newer, now)

	if !olderScore.Less(newerScore) {
		t.Fatalf("older issue should be higher priority: older=%+v newer=%+v", olderScore, newerScore)
	}
}

func TestCalculate_DeterministicForIdenticalInputs(t *testing.T) {
	now := time.Now()
	issue := domain.NewIssue("1", "x", []string{"priority:high"}, []domain.IssueID{"2"}, "", now)

	a := Calculate(issue, now)
	b := Calculate(issue, now)

	if a != b {
		t.Fatalf("Calculate is not deterministic: %+v != %+v", a, b)
	}
}

func TestPriorityScore_Less_TieBreakOrder(t *testing.T) {
	base := time.Now()

	higherClass := domain.PriorityScore{Class: domain.High, Value: 1, EnqueuedAt: base}
	lowerClass := domain.PriorityScore{Class: domain.Medium, Value: 100, EnqueuedAt: base}
	if !higherClass.Less(lowerClass) {
		t.Fatalf("class should dominate value")
	}

	higherValue := domain.PriorityScore{Class: domain.High, Value: 10, EnqueuedAt: base}
	lowerValue := domain.PriorityScore{Class: domain.High, Value: 1, EnqueuedAt: base}
	if !higherValue.Less(lowerValue) {
		t.Fatalf("higher value should win within same class")
	}

	older := domain.PriorityScore{Class: domain.High, Value: 1, EnqueuedAt: base.Add(-time.Hour)}
	newer := domain.PriorityScore{Class: domain.High, Value: 1, EnqueuedAt: base}
	if !older.Less(newer) {
		t.Fatalf("older enqueued-at should win within identical class/value")
	}
}
