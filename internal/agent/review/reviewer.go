// Package review scores article drafts against a four-category rubric. Two
// categories blend a deterministic measurement with the model's judgment.
package review

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/checklist"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/helpers"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

//go:embed prompts/review.md
var reviewPrompt string

var reviewTemplate = template.Must(template.New("review").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(reviewPrompt))

const (
	reviewMaxTokens = 2000
	parseFailedText = "Could not parse review output"
)

var categoryLabels = map[string]string{
	core.CategoryTargetAppeal:           "Target appeal",
	core.CategoryLogicalStructure:       "Logical structure",
	core.CategorySEOFitness:             "SEO fitness",
	core.CategoryStructuralCompleteness: "Structural completeness",
}

// Reviewer implements the review stage.
type Reviewer struct {
	llm    core.LLMProvider
	cfg    config.WorkflowConfig
	logger logrus.FieldLogger
}

// NewReviewer builds a reviewer using the high tier of llm.
func NewReviewer(llm core.LLMProvider, cfg config.WorkflowConfig, logger logrus.FieldLogger) *Reviewer {
	if logger == nil {
		logger = logging.Component("review")
	}
	return &Reviewer{llm: llm, cfg: cfg.Normalize(), logger: logger}
}

// score accepts a JSON number or a numeric string.
type score int

func (s *score) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("score %q: %w", raw, err)
	}
	*s = score(int(f + 0.5))
	return nil
}

type categoryJudgment struct {
	Score        score    `json:"score"`
	Evaluation   string   `json:"evaluation"`
	Improvements []string `json:"improvements"`
}

type judgment struct {
	TargetAppeal           categoryJudgment `json:"target_appeal"`
	LogicalStructure       categoryJudgment `json:"logical_structure"`
	SEOFitness             categoryJudgment `json:"seo_fitness"`
	StructuralCompleteness categoryJudgment `json:"structural_completeness"`
	OverallFeedback        string           `json:"overall_feedback"`
	Strengths              []string         `json:"strengths"`
	PriorityImprovements   []string         `json:"priority_improvements"`
}

func (j judgment) byCategory() map[string]categoryJudgment {
	return map[string]categoryJudgment{
		core.CategoryTargetAppeal:           j.TargetAppeal,
		core.CategoryLogicalStructure:       j.LogicalStructure,
		core.CategorySEOFitness:             j.SEOFitness,
		core.CategoryStructuralCompleteness: j.StructuralCompleteness,
	}
}

// Findings are the deterministic measurements taken before the model call.
type Findings struct {
	Present  []string        `json:"present_sections"`
	Missing  []string        `json:"missing_sections"`
	Keywords KeywordAnalysis `json:"keyword_analysis"`
}

// Measure runs the checklist detection and keyword analysis.
func (r *Reviewer) Measure(content, keywords string) Findings {
	present, missing := checklist.Detect(content)
	return Findings{
		Present:  present,
		Missing:  missing,
		Keywords: AnalyzeKeywords(content, SplitKeywords(keywords), r.cfg.KeywordDensity),
	}
}

// Run scores req.Content. A judgment that cannot be parsed yields a zero
// score with the raw output in the feedback; only a failed model call is
// returned as an error.
func (r *Reviewer) Run(ctx context.Context, req core.ReviewRequest) (core.Review, error) {
	findings := r.Measure(req.Content, req.Keywords)
	prompt, err := r.renderPrompt(req, findings)
	if err != nil {
		return core.Review{}, err
	}
	raw, err := r.llm.Complete(ctx, core.CompletionRequest{
		Prompt:    prompt,
		MaxTokens: reviewMaxTokens,
		Tier:      core.TierHigh,
	})
	if err != nil {
		return core.Review{}, fmt.Errorf("review completion: %w", err)
	}

	var j judgment
	if err := helpers.DecodeJSON(raw, &j); err != nil {
		r.logger.WithError(err).Warn("review output not parseable, scoring zero")
		return parseFailure(raw, findings.Missing), nil
	}
	review := r.combine(j, findings)
	r.logger.WithFields(logrus.Fields{
		"total":   review.TotalScore,
		"missing": len(review.MissingStructuralElements),
	}).Info("review scored")
	return review, nil
}

// combine merges the model judgment with the deterministic findings.
func (r *Reviewer) combine(j judgment, f Findings) core.Review {
	ceil := Ceilings(r.cfg.Rubric)
	judged := j.byCategory()
	sub := make(map[string]int, len(core.Categories))
	for _, c := range core.Categories {
		sub[c] = clamp(int(judged[c].Score), 0, ceil[c])
	}

	structural := StructuralScore(len(f.Present), ceil[core.CategoryStructuralCompleteness])
	sub[core.CategoryStructuralCompleteness] = Blend(structural, sub[core.CategoryStructuralCompleteness],
		r.cfg.Blend.StructuralDeterministic, ceil[core.CategoryStructuralCompleteness])

	if f.Keywords.Available() {
		seo := SEOScore(f.Keywords.OverallSEOScore, ceil[core.CategorySEOFitness])
		sub[core.CategorySEOFitness] = Blend(seo, sub[core.CategorySEOFitness],
			r.cfg.Blend.SEOQuantitative, ceil[core.CategorySEOFitness])
	}

	review := core.Review{
		SubScores:                 sub,
		TotalScore:                Total(sub),
		MissingStructuralElements: append([]string{}, f.Missing...),
	}
	review.Feedback = feedbackDocument(review, j, f, ceil)
	return review
}

func (r *Reviewer) renderPrompt(req core.ReviewRequest, f Findings) (string, error) {
	type seoFacts struct {
		Keyword   string
		Count     int
		Density   float64
		Positions []string
	}
	data := struct {
		Content      string
		Persona      string
		Keywords     string
		PresentCount int
		SectionCount int
		Missing      []string
		SEO          *seoFacts
		Ceilings     map[string]int
		Checklist    string
	}{
		Content:      req.Content,
		Persona:      req.Persona,
		Keywords:     req.Keywords,
		PresentCount: len(f.Present),
		SectionCount: checklist.Count(),
		Missing:      f.Missing,
		Ceilings:     Ceilings(r.cfg.Rubric),
		Checklist:    checklist.Instructions(),
	}
	if p := f.Keywords.PrimaryKeyword; p != nil {
		data.SEO = &seoFacts{Keyword: p.Keyword, Count: p.Count, Density: p.Density, Positions: p.Positions}
	}
	var buf bytes.Buffer
	if err := reviewTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render review prompt: %w", err)
	}
	return buf.String(), nil
}

func parseFailure(raw string, missing []string) core.Review {
	sub := make(map[string]int, len(core.Categories))
	for _, c := range core.Categories {
		sub[c] = 0
	}
	return core.Review{
		TotalScore:                0,
		SubScores:                 sub,
		Feedback:                  parseFailedText + "\n\nRaw output:\n" + raw,
		MissingStructuralElements: append([]string{}, missing...),
		ParseFailed:               true,
	}
}

func feedbackDocument(rv core.Review, j judgment, f Findings, ceil map[string]int) string {
	judged := j.byCategory()
	var b strings.Builder
	fmt.Fprintf(&b, "## Total score: %d/100\n", rv.TotalScore)
	for _, c := range core.Categories {
		fmt.Fprintf(&b, "\n### %s: %d/%d\n", categoryLabels[c], rv.SubScores[c], ceil[c])
		if e := strings.TrimSpace(judged[c].Evaluation); e != "" {
			b.WriteString(e)
			b.WriteByte('\n')
		}
		for _, imp := range judged[c].Improvements {
			fmt.Fprintf(&b, "- %s\n", imp)
		}
	}
	if len(f.Missing) > 0 {
		b.WriteString("\n## Missing sections\n")
		for _, m := range f.Missing {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if f.Keywords.Available() && len(f.Keywords.Suggestions) > 0 {
		fmt.Fprintf(&b, "\n## Keyword analysis (%.0f/100)\n", f.Keywords.OverallSEOScore)
		for _, s := range f.Keywords.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if o := strings.TrimSpace(j.OverallFeedback); o != "" {
		b.WriteString("\n## Overall feedback\n")
		b.WriteString(o)
		b.WriteByte('\n')
	}
	writeList(&b, "Strengths", j.Strengths)
	writeList(&b, "Priority improvements", j.PriorityImprovements)
	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
