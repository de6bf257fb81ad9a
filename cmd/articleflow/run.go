package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/agent/review"
)

func runCmd(cfg func() *config.Config) *cobra.Command {
	var (
		brief        core.Brief
		essences     []string
		resumeID     string
		researchOnly bool
		outPath      string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one article workflow in the foreground",
		Example: `  articleflow run --keywords "budget variance" --persona "FP&A lead" --essence "hook:we missed plan by 20%"
  articleflow run --research-only --keywords "budget variance"
  articleflow run --resume 7c1e... --essence "failure:the forecast ignored seasonality"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			parsed, err := parseEssences(essences)
			if err != nil {
				return err
			}
			if resumeID == "" && strings.TrimSpace(brief.Keywords) == "" {
				return fmt.Errorf("--keywords is required")
			}
			if resumeID != "" && researchOnly {
				return fmt.Errorf("--research-only starts a new run and cannot be combined with --resume")
			}

			a, err := buildApp(ctx, cfg(), appOptions{RequireStore: resumeID != "" || researchOnly})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			stderr := cmd.ErrOrStderr()
			progress := func(percent int, msg string) {
				fmt.Fprintf(stderr, "[%3d%%] %s\n", percent, msg)
			}

			var state core.WorkflowState
			var runErr error
			switch {
			case resumeID != "" && len(parsed) > 0:
				if a.store != nil {
					if err := a.store.ReplaceSnippets(ctx, resumeID, parsed); err != nil {
						return err
					}
				}
				state, runErr = a.orch.ResumeWithInput(ctx, resumeID, parsed, progress)
			case resumeID != "":
				state, runErr = a.orch.Resume(ctx, resumeID, progress)
			default:
				subjectID := uuid.NewString()
				if a.store != nil {
					if subjectID, err = a.store.CreateArticle(ctx, brief); err != nil {
						return err
					}
					if err := a.store.ReplaceSnippets(ctx, subjectID, parsed); err != nil {
						return err
					}
				}
				fmt.Fprintf(stderr, "article %s\n", subjectID)
				if researchOnly {
					state, runErr = a.orch.StartResearch(ctx, subjectID, brief, parsed, progress)
				} else {
					state, runErr = a.orch.Start(ctx, subjectID, brief, parsed, progress)
				}
			}
			if state.Phase == "" {
				// nothing ran: load, lock or store failure
				return runErr
			}

			if state.Phase == core.PhaseAwaitingInput {
				fmt.Fprintf(stderr, "research stored; add snippets and continue with: articleflow run --resume %s --essence category:text\n", state.SubjectID)
				return writeResearch(cmd.OutOrStdout(), state, asJSON)
			}
			if err := writeDraft(outPath, cmd.OutOrStdout(), state, asJSON); err != nil {
				return err
			}
			printSummary(stderr, state, a.orch.Config().PassThreshold)
			return runErr
		},
	}
	f := cmd.Flags()
	f.StringVar(&brief.Keywords, "keywords", "", "target keywords")
	f.StringVar(&brief.Title, "title", "", "working title")
	f.StringVar(&brief.Persona, "persona", "", "target reader persona")
	f.StringVar(&brief.DomainProfile, "profile", "", "search domain profile")
	f.StringArrayVar(&essences, "essence", nil, "category:text snippet (failure, opinion, tech, hook); repeatable")
	f.StringVar(&resumeID, "resume", "", "resume the persisted run of an article id")
	f.BoolVar(&researchOnly, "research-only", false, "stop after research and wait for snippets")
	f.StringVarP(&outPath, "out", "o", "", "write the draft to this file instead of stdout")
	f.BoolVar(&asJSON, "json", false, "print the full workflow state as JSON")
	return cmd
}

// parseEssences reads "category:text" pairs.
func parseEssences(raw []string) ([]core.Essence, error) {
	out := make([]core.Essence, 0, len(raw))
	for _, r := range raw {
		cat, text, ok := strings.Cut(r, ":")
		if !ok || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("essence %q: want category:text", r)
		}
		e := core.Essence{Category: core.EssenceCategory(strings.TrimSpace(cat)), Text: strings.TrimSpace(text)}
		if !e.Category.Valid() {
			return nil, fmt.Errorf("essence %q: unknown category %q", r, e.Category)
		}
		out = append(out, e)
	}
	return out, nil
}

func writeDraft(path string, stdout io.Writer, state core.WorkflowState, asJSON bool) error {
	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}
	if state.Draft == nil {
		return nil
	}
	_, err := io.WriteString(w, state.Draft.Content)
	return err
}

// writeResearch prints the research of a run waiting for input.
func writeResearch(w io.Writer, state core.WorkflowState, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}
	if state.Research == nil {
		return nil
	}
	fmt.Fprintln(w, state.Research.Summary)
	if len(state.Research.Outline) > 0 {
		fmt.Fprintln(w, "\noutline:")
		for _, item := range state.Research.Outline {
			fmt.Fprintf(w, "  - %s\n", item)
		}
	}
	if len(state.Research.ContentGaps) > 0 {
		fmt.Fprintln(w, "\ncontent gaps:")
		for _, gap := range state.Research.ContentGaps {
			fmt.Fprintf(w, "  - %s\n", gap)
		}
	}
	return nil
}

func printSummary(w io.Writer, state core.WorkflowState, threshold int) {
	fmt.Fprintf(w, "\nphase: %s  revisions: %d/%d\n", state.Phase, state.RevisionCount, state.RevisionBudget)
	if state.Error != "" {
		fmt.Fprintf(w, "failed in %s: %s\n", state.FailedStage, state.Error)
	}
	if state.Review != nil {
		fmt.Fprintf(w, "score: %d/%d\n", state.Review.TotalScore, threshold)
	}
	if state.Draft != nil {
		q := review.Check(state.Draft.Content)
		fmt.Fprintf(w, "quick check: %d chars, %d h2, %d h3, %d checklist items, pass=%v\n",
			q.CharCount, q.H2Count, q.H3Count, q.ChecklistItems, q.Pass)
		for _, issue := range q.Issues {
			fmt.Fprintf(w, "  - %s\n", issue)
		}
		for i, t := range state.Draft.TitleCandidates {
			fmt.Fprintf(w, "title %d: %s\n", i+1, t)
		}
	}
	if state.Enrichment != nil {
		fmt.Fprintf(w, "images: %d prompts, links: %d\n", len(state.Enrichment.Images), len(state.Enrichment.Links))
	}
}
