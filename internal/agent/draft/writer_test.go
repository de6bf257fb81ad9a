package draft

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

// routedLLM answers by matching a marker in the prompt.
type routedLLM struct {
	mu      sync.Mutex
	answers map[string]string
	fail    map[string]bool
	calls   []string
	prompts map[string]string
}

func newRoutedLLM() *routedLLM {
	return &routedLLM{
		answers: map[string]string{
			"write":   "# Draft about ssot\n\nbody",
			"revise":  "# Revised SSOT draft\n\nbody",
			"refine":  "```markdown\n# Refined article on Ssot\n\nbody\n```",
			"titles":  "1. Single source of truth for FP&A\n2. 「Stop arguing about ssot numbers」\n- Third title\nnot a title",
			"images":  "Intro\n### Diagram 1: Flow\n- Purpose: show flow\n### Diagram 2: Matrix\n- Purpose: compare\n### Diagram 3: Map\n### Diagram 4: Extra",
			"social":  "### X post (at most 140 characters)\nClose faster with one SSOT.\nNo more spreadsheets.\n\n### LinkedIn post (about 300 characters)\nLine one.\nLine two.",
		},
		fail:    map[string]bool{},
		prompts: map[string]string{},
	}
}

func (r *routedLLM) Complete(_ context.Context, req core.CompletionRequest) (string, error) {
	step := stepOf(req.Prompt)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, step)
	r.prompts[step] = req.Prompt
	if r.fail[step] {
		return "", errors.New(step + " unavailable")
	}
	return r.answers[step], nil
}

func stepOf(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Improve the article below"):
		return "revise"
	case strings.HasPrefix(prompt, "You are the editor"):
		return "refine"
	case strings.HasPrefix(prompt, "Suggest"):
		return "titles"
	case strings.HasPrefix(prompt, "Write 2-3 diagram"):
		return "images"
	case strings.HasPrefix(prompt, "Write social"):
		return "social"
	default:
		return "write"
	}
}

func (r *routedLLM) count(step string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == step {
			n++
		}
	}
	return n
}

func testRequest() core.DraftRequest {
	return core.DraftRequest{
		Brief: core.Brief{Title: "SSoT for FP&A", Persona: "FP&A lead", Keywords: "ssot, fp&a"},
		Research: core.ResearchResult{
			Outline:      []string{"Why numbers disagree", "Build one source"},
			ContentGaps:  []string{"No one covers ownership"},
			InternalRefs: []string{strings.Repeat("r", 600)},
			Keywords:     []core.CompetitorKeyword{{Keyword: "budget", UsageRate: 80, Priority: "required"}},
		},
		Essences: []core.Essence{{Category: core.EssenceFailure, Text: "We lost a quarter to reconciliation"}},
	}
}

func TestRunInitialDraft(t *testing.T) {
	llm := newRoutedLLM()
	w := NewWriter(llm, config.DefaultWorkflowConfig(), logging.Discard())

	d, err := w.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "# Refined article on SSoT\n\nbody", d.Content)
	assert.Equal(t, []string{"Single source of truth for FP&A", "Stop arguing about SSoT numbers", "Third title"}, d.TitleCandidates)
	require.Len(t, d.ImagePrompts, 3)
	assert.True(t, strings.HasPrefix(d.ImagePrompts[0], "### Diagram 1: Flow"))
	assert.Equal(t, "Close faster with one SSoT. No more spreadsheets.", d.SocialPosts[core.PlatformX])
	assert.Equal(t, "Line one.\nLine two.", d.SocialPosts[core.PlatformLinkedIn])

	assert.Equal(t, 1, llm.count("write"))
	assert.Equal(t, 1, llm.count("refine"))
	assert.Equal(t, 0, llm.count("revise"))

	write := llm.prompts["write"]
	assert.Contains(t, write, "[failure] We lost a quarter to reconciliation")
	assert.Contains(t, write, "[required] budget (used by 80% of top articles)")
	assert.Contains(t, write, "[Reference 1] "+strings.Repeat("r", 500)+"...")
	assert.Contains(t, write, "11. Call to action")
}

func TestRunReviseMode(t *testing.T) {
	llm := newRoutedLLM()
	w := NewWriter(llm, config.DefaultWorkflowConfig(), logging.Discard())
	req := testRequest()
	req.ReviseFrom = "# Old draft"
	req.Feedback = "Add a roadmap with dates."
	req.SubScores = map[string]int{core.CategoryTargetAppeal: 12}

	_, err := w.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 0, llm.count("write"))
	assert.Equal(t, 1, llm.count("revise"))
	revise := llm.prompts["revise"]
	assert.Contains(t, revise, "# Old draft")
	assert.Contains(t, revise, "Add a roadmap with dates.")
	assert.Contains(t, revise, "- Target appeal: 12/25")
}

func TestRunArticleFailureIsReturned(t *testing.T) {
	for _, step := range []string{"write", "refine"} {
		llm := newRoutedLLM()
		llm.fail[step] = true
		_, err := NewWriter(llm, config.DefaultWorkflowConfig(), logging.Discard()).Run(context.Background(), testRequest())
		require.Error(t, err, step)
		assert.Contains(t, err.Error(), step)
	}
}

func TestRunSubAssetFailuresDegrade(t *testing.T) {
	llm := newRoutedLLM()
	llm.fail["titles"] = true
	llm.fail["images"] = true
	llm.fail["social"] = true

	d, err := NewWriter(llm, config.DefaultWorkflowConfig(), logging.Discard()).Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"SSoT for FP&A"}, d.TitleCandidates)
	assert.Empty(t, d.ImagePrompts)
	assert.Equal(t, "", d.SocialPosts[core.PlatformX])
	assert.NotEmpty(t, d.Content)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	in := "ssot, SSOT, SsOt and SSoT but not SSOTS or assot"
	once := Canonicalize(in)
	assert.Equal(t, "SSoT, SSoT, SSoT and SSoT but not SSOTS or assot", once)
	assert.Equal(t, once, Canonicalize(once))
	assert.Equal(t, "", Canonicalize(""))
}

func TestParseTitlesFallback(t *testing.T) {
	assert.Equal(t, []string{"Brief title"}, ParseTitles("Sorry, I cannot help.", 5, "Brief title"))
	assert.Equal(t, []string{"Brief title"}, ParseTitles("", 5, "Brief title"))

	many := "1. a\n2. b\n3. c\n4. d\n5. e\n6. f"
	assert.Len(t, ParseTitles(many, 5, "x"), 5)
}

func TestParseSocialPostsCapsX(t *testing.T) {
	long := strings.Repeat("word ", 100)
	posts := ParseSocialPosts("## Twitter:\n" + long + "\n## LinkedIn:\nhello")
	assert.Equal(t, XPostLimit, len([]rune(posts[core.PlatformX])))
	assert.Equal(t, "hello", posts[core.PlatformLinkedIn])
}

func TestParseImagePromptsNoMarkers(t *testing.T) {
	assert.Empty(t, ParseImagePrompts("just prose"))
}
