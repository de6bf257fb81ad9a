package review

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/checklist"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

type stubLLM struct {
	out     string
	err     error
	prompts []string
}

func (s *stubLLM) Complete(_ context.Context, req core.CompletionRequest) (string, error) {
	s.prompts = append(s.prompts, req.Prompt)
	return s.out, s.err
}

func newTestReviewer(llm core.LLMProvider) *Reviewer {
	return NewReviewer(llm, config.DefaultWorkflowConfig(), logging.Discard())
}

func TestRunBlendsStructuralScore(t *testing.T) {
	llm := &stubLLM{out: "```json\n" + `{
		"target_appeal": {"score": 20, "evaluation": "speaks to controllers"},
		"logical_structure": {"score": 25},
		"seo_fitness": {"score": "18"},
		"structural_completeness": {"score": 10},
		"overall_feedback": "solid",
		"priority_improvements": ["add a roadmap"]
	}` + "\n```"}
	r := newTestReviewer(llm)

	review, err := r.Run(context.Background(), core.ReviewRequest{Content: "# Title only", Persona: "CFO"})
	require.NoError(t, err)

	// No sections present: 0.6*0 + 0.4*10 = 4. No keywords: SEO stays with the model.
	assert.Equal(t, 4, review.SubScores[core.CategoryStructuralCompleteness])
	assert.Equal(t, 18, review.SubScores[core.CategorySEOFitness])
	assert.Equal(t, 67, review.TotalScore)
	assert.Equal(t, Total(review.SubScores), review.TotalScore)
	assert.Len(t, review.MissingStructuralElements, checklist.Count())
	assert.False(t, review.ParseFailed)
	assert.Contains(t, review.Feedback, "## Total score: 67/100")
	assert.Contains(t, review.Feedback, "- add a roadmap")

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Required sections present: 0 of 11")
	assert.Contains(t, llm.prompts[0], "Target appeal (0-25)")
}

func TestRunClampsToCeilings(t *testing.T) {
	llm := &stubLLM{out: `{"target_appeal":{"score":99},"logical_structure":{"score":-5},"seo_fitness":{"score":40},"structural_completeness":{"score":50}}`}
	review, err := newTestReviewer(llm).Run(context.Background(), core.ReviewRequest{Content: "x"})
	require.NoError(t, err)

	ceil := Ceilings(config.DefaultWorkflowConfig().Rubric)
	for _, c := range core.Categories {
		assert.GreaterOrEqual(t, review.SubScores[c], 0, c)
		assert.LessOrEqual(t, review.SubScores[c], ceil[c], c)
	}
	assert.Equal(t, 25, review.SubScores[core.CategoryTargetAppeal])
	assert.Equal(t, 0, review.SubScores[core.CategoryLogicalStructure])
	assert.LessOrEqual(t, review.TotalScore, 100)
}

func TestRunParseFailureScoresZero(t *testing.T) {
	llm := &stubLLM{out: "I think this article is great, 9/10."}
	review, err := newTestReviewer(llm).Run(context.Background(), core.ReviewRequest{Content: ""})
	require.NoError(t, err)

	assert.True(t, review.ParseFailed)
	assert.Equal(t, 0, review.TotalScore)
	for _, c := range core.Categories {
		assert.Equal(t, 0, review.SubScores[c])
	}
	assert.True(t, strings.HasPrefix(review.Feedback, parseFailedText))
	assert.Contains(t, review.Feedback, "9/10")
	assert.Len(t, review.MissingStructuralElements, checklist.Count())
}

func TestRunCompletionErrorIsReturned(t *testing.T) {
	boom := errors.New("upstream down")
	_, err := newTestReviewer(&stubLLM{err: boom}).Run(context.Background(), core.ReviewRequest{Content: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCombineUsesKeywordAnalysis(t *testing.T) {
	r := newTestReviewer(nil)
	f := Findings{Keywords: KeywordAnalysis{
		TotalWords:      100,
		PrimaryKeyword:  &KeywordOccurrence{Keyword: "budget"},
		OverallSEOScore: 100,
	}}
	j := judgment{SEOFitness: categoryJudgment{Score: 10}}
	review := r.combine(j, f)
	// 0.4*25 + 0.6*10 = 16
	assert.Equal(t, 16, review.SubScores[core.CategorySEOFitness])
}

func TestStructuralScoreMonotonic(t *testing.T) {
	prev := -1
	for present := 0; present <= checklist.Count(); present++ {
		got := StructuralScore(present, 20)
		assert.GreaterOrEqual(t, got, prev, "present=%d", present)
		prev = got
	}
	assert.Equal(t, 0, StructuralScore(0, 20))
	assert.Equal(t, 20, StructuralScore(checklist.Count(), 20))
	assert.Equal(t, 20, StructuralScore(99, 20))
}

func TestBlendAndSEOScore(t *testing.T) {
	assert.Equal(t, 16, Blend(20, 10, 0.6, 20))
	assert.Equal(t, 10, Blend(20, 10, 0, 20))
	assert.Equal(t, 20, Blend(30, 30, 1, 20))
	assert.Equal(t, 25, SEOScore(100, 25))
	assert.Equal(t, 13, SEOScore(50, 25))
	assert.Equal(t, 0, SEOScore(-1, 25))
}

func TestDensityScoreBand(t *testing.T) {
	band := config.KeywordDensityConfig{Min: 1, Max: 3}
	cases := map[float64]float64{
		0:   0,
		0.5: 40,
		1:   80,
		2:   100,
		3:   80,
		4.5: 40,
		6:   0,
		9:   0,
	}
	for d, want := range cases {
		assert.InDelta(t, want, DensityScore(d, band), 0.001, "density %v", d)
	}
}

func TestAnalyzeKeywordsPlacement(t *testing.T) {
	content := "# Budget planning guide\n\n" +
		"Budget planning helps every team.\n\n" +
		"## Why budget planning fails\n" +
		"### Budget planning basics\ntext\n\n" +
		"## Summary\nStart budget planning today.\n"
	a := AnalyzeKeywords(content, []string{"budget planning", "forecast"}, config.KeywordDensityConfig{Min: 1, Max: 3})

	require.NotNil(t, a.PrimaryKeyword)
	assert.True(t, a.Available())
	assert.Equal(t, "budget planning", a.PrimaryKeyword.Keyword)
	assert.Equal(t, 5, a.PrimaryKeyword.Count)
	assert.True(t, a.PrimaryKeyword.InFirstParagraph)
	assert.True(t, a.PrimaryKeyword.InConclusion)
	assert.Equal(t, 100.0, a.PlacementScore)
	assert.Len(t, a.RelatedKeywords, 1)
	assert.Contains(t, a.Suggestions, `Related keyword "forecast" is missing.`)
	// Five two-word hits in 21 tokens is far above the band.
	assert.Equal(t, 0.0, a.KeywordDensityScore)
	assert.Equal(t, 50.0, a.OverallSEOScore)
}

func TestAnalyzeKeywordsIgnoresHeadingsInCodeFences(t *testing.T) {
	content := "# Quarterly guide\n\n" +
		"Teams struggle with forecasts.\n\n" +
		"```bash\n## budget planning script\n### budget planning step\n# Summary\necho done\n```\n\n" +
		"## Tools\nPick a spreadsheet.\n"
	a := AnalyzeKeywords(content, []string{"budget planning"}, config.KeywordDensityConfig{Min: 1, Max: 3})

	require.NotNil(t, a.PrimaryKeyword)
	assert.Equal(t, 2, a.PrimaryKeyword.Count)
	assert.Equal(t, []string{PositionBody}, a.PrimaryKeyword.Positions)
	assert.False(t, a.PrimaryKeyword.InConclusion)
	assert.Equal(t, 0.0, a.PlacementScore)
}

func TestAnalyzeKeywordsConclusionFallsBackToLastProse(t *testing.T) {
	content := "# Guide\n\nIntro.\n\n## Steps\nDo things.\n\nStart budget planning now.\n\n---\nFollow for more.\n"
	a := AnalyzeKeywords(content, []string{"budget planning"}, config.KeywordDensityConfig{Min: 1, Max: 3})

	require.NotNil(t, a.PrimaryKeyword)
	assert.True(t, a.PrimaryKeyword.InConclusion)
	assert.False(t, a.PrimaryKeyword.InFirstParagraph)
}

func TestAnalyzeKeywordsPrimaryFallsBackToFirst(t *testing.T) {
	a := AnalyzeKeywords("nothing relevant here", []string{"budget", "forecast"}, config.KeywordDensityConfig{Min: 1, Max: 3})
	require.NotNil(t, a.PrimaryKeyword)
	assert.Equal(t, "budget", a.PrimaryKeyword.Keyword)
	assert.Equal(t, 0.0, a.KeywordDensityScore)
	assert.Equal(t, 0.0, a.PlacementScore)
}

func TestAnalyzeKeywordsEmptyInputs(t *testing.T) {
	band := config.KeywordDensityConfig{Min: 1, Max: 3}

	none := AnalyzeKeywords("# Title\n\nSome text.", nil, band)
	assert.False(t, none.Available())
	assert.Equal(t, 0.0, none.OverallSEOScore)

	empty := AnalyzeKeywords("", []string{"budget"}, band)
	assert.False(t, empty.Available())
	assert.Equal(t, 0, empty.TotalWords)
	assert.Equal(t, 0.0, empty.OverallSEOScore)
}

func TestTokenizeAndSplitKeywords(t *testing.T) {
	assert.Equal(t, []string{"予", "算", "planning", "2024"}, Tokenize("予算 Planning-2024"))
	assert.Equal(t, []string{"budget", "forecast", "FP&A"}, SplitKeywords("budget, forecast;Budget\nFP&A,"))
	assert.Nil(t, SplitKeywords("  "))
}

func TestQuickCheck(t *testing.T) {
	short := Check("# Title\n\n## One\n\n**bold** text")
	assert.Equal(t, 1, short.H2Count)
	assert.True(t, short.HasBold)
	assert.False(t, short.Pass)
	assert.Contains(t, short.Issues[0], "too short")

	long := Check(strings.Repeat("あ", MaxChars+1))
	assert.Contains(t, long.Issues[0], "too long")
	assert.Equal(t, MaxChars+1, long.CharCount)
}

func TestQuickCheckCountsOnlyRealHeadings(t *testing.T) {
	q := Check("# Title\n\n```sh\n## not a heading\n- [ ] not a task\n```\n\n## One\n### Two\n- [x] done\n- [ ] open\n")
	assert.Equal(t, 1, q.H2Count)
	assert.Equal(t, 1, q.H3Count)
	assert.Equal(t, 2, q.ChecklistItems)
}
