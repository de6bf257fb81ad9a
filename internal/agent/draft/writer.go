// Package draft writes, refines and revises articles and derives their
// titles, diagram briefs and social posts.
package draft

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"text/template"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/checklist"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/helpers"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

//go:embed prompts/*.md
var promptFS embed.FS

var prompts = template.Must(template.New("draft").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	ParseFS(promptFS, "prompts/*.md"))

// Target article length, in characters.
const (
	TargetMinChars = 3000
	TargetMaxChars = 4500
)

const (
	articleMaxTokens = 4096
	titleMaxTokens   = 500
	imageMaxTokens   = 800
	socialMaxTokens  = 500

	titlePreviewChars = 500
	imageExcerptChars = 1500
	socialExcerptChar = 800
	referenceChars    = 500
	maxReferences     = 3
	maxGaps           = 3
)

var categoryLabels = map[string]string{
	core.CategoryTargetAppeal:           "Target appeal",
	core.CategoryLogicalStructure:       "Logical structure",
	core.CategorySEOFitness:             "SEO fitness",
	core.CategoryStructuralCompleteness: "Structural completeness",
}

// Writer implements the draft stage.
type Writer struct {
	llm    core.LLMProvider
	cfg    config.WorkflowConfig
	logger logrus.FieldLogger
}

// NewWriter builds a writer. Article generation uses the high tier, the
// derived assets the low tier.
func NewWriter(llm core.LLMProvider, cfg config.WorkflowConfig, logger logrus.FieldLogger) *Writer {
	if logger == nil {
		logger = logging.Component("draft")
	}
	return &Writer{llm: llm, cfg: cfg.Normalize(), logger: logger}
}

// Run produces a new draft, or a revision when req.ReviseFrom is set. Only a
// failure of the article calls is returned; derived assets fall back to
// defaults.
func (w *Writer) Run(ctx context.Context, req core.DraftRequest) (core.Draft, error) {
	var (
		content string
		err     error
	)
	if req.Revising() {
		content, err = w.revise(ctx, req)
	} else {
		content, err = w.write(ctx, req)
	}
	if err != nil {
		return core.Draft{}, err
	}
	content, err = w.refine(ctx, content, req.Brief.Persona)
	if err != nil {
		return core.Draft{}, err
	}
	content = Canonicalize(content)

	d := core.Draft{Content: content}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.TitleCandidates = w.titles(gctx, req.Brief, content)
		return nil
	})
	g.Go(func() error {
		d.ImagePrompts = w.imagePrompts(gctx, content, req.Research.ContentGaps)
		return nil
	})
	g.Go(func() error {
		d.SocialPosts = w.socialPosts(gctx, req.Brief.Title, content)
		return nil
	})
	_ = g.Wait()

	w.logger.WithFields(logrus.Fields{
		"revise": req.Revising(),
		"chars":  len([]rune(content)),
		"titles": len(d.TitleCandidates),
	}).Info("draft ready")
	return d, nil
}

func (w *Writer) write(ctx context.Context, req core.DraftRequest) (string, error) {
	refs := req.Research.InternalRefs
	if len(refs) > maxReferences {
		refs = refs[:maxReferences]
	}
	truncated := make([]string, len(refs))
	for i, r := range refs {
		truncated[i] = truncateWithEllipsis(r, referenceChars)
	}
	gaps := req.Research.ContentGaps
	if len(gaps) > maxGaps {
		gaps = gaps[:maxGaps]
	}
	prompt, err := render("write.md", map[string]any{
		"Brief":      req.Brief,
		"Research":   req.Research,
		"Gaps":       gaps,
		"Keywords":   req.Research.Keywords,
		"References": truncated,
		"Essences":   req.Essences,
		"Checklist":  checklist.Instructions(),
		"MinChars":   TargetMinChars,
		"MaxChars":   TargetMaxChars,
	})
	if err != nil {
		return "", err
	}
	return w.complete(ctx, "write", prompt, articleMaxTokens, core.TierHigh)
}

func (w *Writer) revise(ctx context.Context, req core.DraftRequest) (string, error) {
	type scoreLine struct {
		Label   string
		Score   int
		Ceiling int
	}
	ceil := map[string]int{
		core.CategoryTargetAppeal:           w.cfg.Rubric.TargetAppeal,
		core.CategoryLogicalStructure:       w.cfg.Rubric.LogicalStructure,
		core.CategorySEOFitness:             w.cfg.Rubric.SEOFitness,
		core.CategoryStructuralCompleteness: w.cfg.Rubric.StructuralCompleteness,
	}
	scores := make([]scoreLine, 0, len(core.Categories))
	for _, c := range core.Categories {
		scores = append(scores, scoreLine{Label: categoryLabels[c], Score: req.SubScores[c], Ceiling: ceil[c]})
	}
	prompt, err := render("revise.md", map[string]any{
		"Content":   req.ReviseFrom,
		"Scores":    scores,
		"Feedback":  req.Feedback,
		"Checklist": checklist.Instructions(),
		"MinChars":  TargetMinChars,
		"MaxChars":  TargetMaxChars,
	})
	if err != nil {
		return "", err
	}
	return w.complete(ctx, "revise", prompt, articleMaxTokens, core.TierHigh)
}

func (w *Writer) refine(ctx context.Context, content, persona string) (string, error) {
	prompt, err := render("refine.md", map[string]any{
		"Content":   content,
		"Persona":   persona,
		"Checklist": checklist.Instructions(),
		"MinChars":  TargetMinChars,
		"MaxChars":  TargetMaxChars,
	})
	if err != nil {
		return "", err
	}
	return w.complete(ctx, "refine", prompt, articleMaxTokens, core.TierHigh)
}

func (w *Writer) titles(ctx context.Context, brief core.Brief, content string) []string {
	fallback := []string{brief.Title}
	prompt, err := render("titles.md", map[string]any{
		"Count":   w.cfg.TitleCount,
		"Title":   brief.Title,
		"Persona": brief.Persona,
		"Preview": helpers.Truncate(content, titlePreviewChars),
	})
	if err != nil {
		w.logger.WithError(err).Warn("title prompt")
		return fallback
	}
	out, err := w.complete(ctx, "titles", prompt, titleMaxTokens, core.TierLow)
	if err != nil {
		w.logger.WithError(err).Warn("title generation failed, using brief title")
		return fallback
	}
	titles := ParseTitles(out, w.cfg.TitleCount, brief.Title)
	for i := range titles {
		titles[i] = Canonicalize(titles[i])
	}
	return titles
}

func (w *Writer) imagePrompts(ctx context.Context, content string, gaps []string) []string {
	if len(gaps) > 2 {
		gaps = gaps[:2]
	}
	prompt, err := render("images.md", map[string]any{
		"Excerpt": helpers.Truncate(content, imageExcerptChars),
		"Gaps":    gaps,
	})
	if err != nil {
		w.logger.WithError(err).Warn("image prompt")
		return []string{}
	}
	out, err := w.complete(ctx, "image_prompts", prompt, imageMaxTokens, core.TierLow)
	if err != nil {
		w.logger.WithError(err).Warn("image prompt generation failed")
		return []string{}
	}
	prompts := ParseImagePrompts(out)
	for i := range prompts {
		prompts[i] = Canonicalize(prompts[i])
	}
	if prompts == nil {
		prompts = []string{}
	}
	return prompts
}

func (w *Writer) socialPosts(ctx context.Context, title, content string) map[string]string {
	prompt, err := render("social.md", map[string]any{
		"Title":   title,
		"Excerpt": helpers.Truncate(content, socialExcerptChar),
	})
	if err != nil {
		w.logger.WithError(err).Warn("social prompt")
		return emptySocialPosts()
	}
	out, err := w.complete(ctx, "social_posts", prompt, socialMaxTokens, core.TierLow)
	if err != nil {
		w.logger.WithError(err).Warn("social post generation failed")
		return emptySocialPosts()
	}
	posts := ParseSocialPosts(out)
	for k, v := range posts {
		posts[k] = Canonicalize(v)
	}
	return posts
}

func (w *Writer) complete(ctx context.Context, step, prompt string, maxTokens int, tier core.Tier) (string, error) {
	out, err := w.llm.Complete(ctx, core.CompletionRequest{Prompt: prompt, MaxTokens: maxTokens, Tier: tier})
	if err != nil {
		return "", fmt.Errorf("%s: %w", step, err)
	}
	return helpers.UnwrapFence(out), nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func truncateWithEllipsis(s string, n int) string {
	t := helpers.Truncate(s, n)
	if t != s {
		return t + "..."
	}
	return s
}
