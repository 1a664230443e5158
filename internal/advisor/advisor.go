// Package advisor implements the quality advisor panel: when a world's
// AgentResult doesn't self-report every ResultMetrics sub-score, a panel of
// ChatModel providers is asked to grade the diff, mirroring the teacher's
// multi-LLM-review fan-out pattern: one prompt per provider, run
// concurrently, results combined rather than trusting a single model's
// grade. Unlike the teacher's own multi-purpose model package, a grading
// panel never needs conversation history or tool calling, so the provider
// seam here is a single-shot system+user completion rather than a full
// chat transcript.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/worldforge/orchestrator/internal/domain"
)

// ChatModel is a single LLM provider capable of completing a grading
// prompt. Provider adapters (AnthropicModel, OpenAIModel, GoogleModel) wrap
// the teacher's three vendor SDKs to satisfy this.
type ChatModel interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Dimension names a single quality sub-score the panel can grade.
type Dimension string

const (
	DimensionStyleLint     Dimension = "style_lint"
	DimensionTypeCheck     Dimension = "type_check"
	DimensionSecurityAudit Dimension = "security_audit"
	DimensionTestCoverage  Dimension = "test_coverage"
)

// grade is the parsed shape a reviewer's JSON response must take.
type grade struct {
	Score float64 `json:"score"`
}

// Panel grades whichever ResultMetrics sub-scores a world's agent didn't
// self-report, by asking every configured ChatModel to review the world's
// changed files and averaging their scores per dimension.
type Panel struct {
	Models []ChatModel
}

// New constructs a Panel over the given providers. A nil or empty slice is
// valid: Backfill then leaves every missing sub-score unset, same as no
// panel being configured at all.
func New(models ...ChatModel) *Panel {
	return &Panel{Models: models}
}

// Backfill returns a copy of metrics (a zero-value ResultMetrics if metrics
// is nil) with every unset sub-score filled in by the panel's consensus
// grade, computed from diffSummary (typically the world's changed file
// list and a unified diff). Sub-scores the agent already reported are left
// untouched — the panel only covers gaps.
func (p *Panel) Backfill(ctx context.Context, metrics *domain.ResultMetrics, diffSummary string) domain.ResultMetrics {
	out := domain.ResultMetrics{}
	if metrics != nil {
		out = *metrics
	}
	if len(p.Models) == 0 {
		return out
	}

	missing := map[Dimension]**float64{}
	if out.StyleLint == nil {
		missing[DimensionStyleLint] = &out.StyleLint
	}
	if out.TypeCheck == nil {
		missing[DimensionTypeCheck] = &out.TypeCheck
	}
	if out.SecurityAudit == nil {
		missing[DimensionSecurityAudit] = &out.SecurityAudit
	}
	if out.TestCoverage == nil {
		missing[DimensionTestCoverage] = &out.TestCoverage
	}
	if len(missing) == 0 {
		return out
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for dim, slot := range missing {
		wg.Add(1)
		go func(dim Dimension, slot **float64) {
			defer wg.Done()
			score, err := p.gradeDimension(ctx, dim, diffSummary)
			if err != nil {
				return
			}
			mu.Lock()
			*slot = &score
			mu.Unlock()
		}(dim, slot)
	}
	wg.Wait()
	return out
}

// gradeDimension fans diffSummary out to every provider and averages the
// scores that parsed. An empty panel response set (every provider errored
// or returned unparsable output) is itself an error, leaving the caller's
// slot unset.
func (p *Panel) gradeDimension(ctx context.Context, dim Dimension, diffSummary string) (float64, error) {
	systemPrompt := systemPromptFor(dim)

	var wg sync.WaitGroup
	scores := make([]float64, len(p.Models))
	ok := make([]bool, len(p.Models))
	for i, m := range p.Models {
		wg.Add(1)
		go func(i int, m ChatModel) {
			defer wg.Done()
			text, err := m.Complete(ctx, systemPrompt, diffSummary)
			if err != nil {
				return
			}
			g, err := parseGrade(text)
			if err != nil {
				return
			}
			scores[i] = g.Score
			ok[i] = true
		}(i, m)
	}
	wg.Wait()

	var sum float64
	var n int
	for i := range scores {
		if ok[i] {
			sum += scores[i]
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("advisor: no provider returned a usable %s grade", dim)
	}
	return sum / float64(n), nil
}

// parseGrade extracts a JSON object {"score": <0..100>} from text, tolerant
// of providers that wrap it in prose or a code fence.
func parseGrade(text string) (grade, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return grade{}, fmt.Errorf("advisor: no JSON object in response")
	}
	var g grade
	if err := json.Unmarshal([]byte(text[start:end+1]), &g); err != nil {
		return grade{}, fmt.Errorf("advisor: parse grade: %w", err)
	}
	return g, nil
}

func systemPromptFor(dim Dimension) string {
	var focus string
	switch dim {
	case DimensionStyleLint:
		focus = "code style and formatting consistency"
	case DimensionTypeCheck:
		focus = "type correctness and static soundness"
	case DimensionSecurityAudit:
		focus = "security vulnerabilities and unsafe patterns"
	case DimensionTestCoverage:
		focus = "test coverage and assertion quality"
	default:
		focus = "overall code quality"
	}
	return fmt.Sprintf(
		"You are a code quality reviewer grading a diff on %s alone. "+
			"Reply with exactly one JSON object of the form {\"score\": <0-100>} and nothing else.",
		focus,
	)
}
