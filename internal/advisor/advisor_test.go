package advisor

import (
	"context"
	"testing"

	"github.com/worldforge/orchestrator/internal/domain"
)

// mockChatModel returns a fixed response regardless of the prompt,
// standing in for a real provider in tests.
type mockChatModel struct {
	response string
}

func (m *mockChatModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return m.response, nil
}

func scoreModel(text string) *mockChatModel {
	return &mockChatModel{response: text}
}

func TestPanel_BackfillLeavesReportedScoresUntouched(t *testing.T) {
	reported := 42.0
	metrics := &domain.ResultMetrics{StyleLint: &reported}
	p := New(scoreModel(`{"score": 90}`))

	out := p.Backfill(context.Background(), metrics, "diff")
	if out.StyleLint == nil || *out.StyleLint != 42.0 {
		t.Fatalf("StyleLint = %v, want untouched 42.0", out.StyleLint)
	}
	if out.TypeCheck == nil || *out.TypeCheck != 90.0 {
		t.Fatalf("TypeCheck = %v, want backfilled 90.0", out.TypeCheck)
	}
}

func TestPanel_BackfillAveragesAcrossProviders(t *testing.T) {
	p := New(scoreModel(`{"score": 80}`), scoreModel(`{"score": 100}`))

	out := p.Backfill(context.Background(), nil, "diff")
	if out.StyleLint == nil || *out.StyleLint != 90.0 {
		t.Fatalf("StyleLint = %v, want averaged 90.0", out.StyleLint)
	}
}

func TestPanel_BackfillToleratesUnparsableProvider(t *testing.T) {
	p := New(scoreModel("not json"), scoreModel(`{"score": 70}`))

	out := p.Backfill(context.Background(), nil, "diff")
	if out.StyleLint == nil || *out.StyleLint != 70.0 {
		t.Fatalf("StyleLint = %v, want 70.0 from the sole parsable provider", out.StyleLint)
	}
}

func TestPanel_BackfillWithNoModelsLeavesMetricsNil(t *testing.T) {
	p := New()
	out := p.Backfill(context.Background(), nil, "diff")
	if out.StyleLint != nil || out.TypeCheck != nil || out.SecurityAudit != nil || out.TestCoverage != nil {
		t.Fatalf("Backfill() with no models = %+v, want all nil", out)
	}
}

func TestParseGrade_ExtractsJSONFromProseWrapper(t *testing.T) {
	g, err := parseGrade("Here is my assessment:\n```json\n{\"score\": 55}\n```\nThanks.")
	if err != nil {
		t.Fatalf("parseGrade() = %v", err)
	}
	if g.Score != 55 {
		t.Fatalf("parseGrade().Score = %v, want 55", g.Score)
	}
}
