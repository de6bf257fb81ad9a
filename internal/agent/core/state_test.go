package core

import (
	"errors"
	"testing"
)

func TestApplyPatchRejectsSecondResearch(t *testing.T) {
	s := NewWorkflowState("a", Brief{}, nil, 1)
	s, err := ApplyPatch(s, Patch{Research: &ResearchResult{Summary: "one"}, Phase: PhaseDraft})
	if err != nil {
		t.Fatalf("first research: %v", err)
	}
	if _, err := ApplyPatch(s, Patch{Research: &ResearchResult{Summary: "two"}}); !errors.Is(err, ErrResearchImmutable) {
		t.Fatalf("expected ErrResearchImmutable, got %v", err)
	}
}

func TestApplyPatchCopiesValues(t *testing.T) {
	d := Draft{Content: "v1"}
	s, _ := ApplyPatch(NewWorkflowState("a", Brief{}, nil, 1), Patch{Draft: &d})
	d.Content = "mutated"
	if s.Draft.Content != "v1" {
		t.Fatalf("state aliases the patch value")
	}
}

func TestApplyPatchBudgetCeiling(t *testing.T) {
	s := NewWorkflowState("a", Brief{}, nil, 1)
	s, err := ApplyPatch(s, Patch{IncrementRevision: true})
	if err != nil || s.RevisionCount != 1 {
		t.Fatalf("first increment: %v count=%d", err, s.RevisionCount)
	}
	if _, err := ApplyPatch(s, Patch{IncrementRevision: true}); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
}

func TestApplyPatchTerminal(t *testing.T) {
	s := NewWorkflowState("a", Brief{}, nil, 1)
	s, _ = ApplyPatch(s, Patch{Failure: NewStageError(StageDraft, errors.New("boom"))})
	if s.Phase != PhaseError || s.FailedStage != StageDraft {
		t.Fatalf("unexpected failure state %#v", s)
	}
	if _, err := ApplyPatch(s, Patch{Phase: PhaseDraft}); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestApplyPatchClearReview(t *testing.T) {
	s := NewWorkflowState("a", Brief{}, nil, 1)
	s, _ = ApplyPatch(s, Patch{Review: &Review{TotalScore: 40}})
	s, _ = ApplyPatch(s, Patch{Draft: &Draft{Content: "v2"}, ClearReview: true})
	if s.Review != nil {
		t.Fatalf("expected review cleared with new draft")
	}
}

func TestShouldStop(t *testing.T) {
	cases := []struct {
		name      string
		score     *int
		count     int
		budget    int
		threshold int
		want      bool
	}{
		{"no review, budget left", nil, 0, 2, 80, false},
		{"score passes", intPtr(80), 0, 2, 80, true},
		{"score below, budget left", intPtr(79), 1, 2, 80, false},
		{"budget exhausted", intPtr(10), 2, 2, 80, true},
		{"zero budget", intPtr(10), 0, 0, 80, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := WorkflowState{RevisionCount: tc.count, RevisionBudget: tc.budget}
			if tc.score != nil {
				s.Review = &Review{TotalScore: *tc.score}
			}
			if got := ShouldStop(s, tc.threshold); got != tc.want {
				t.Fatalf("ShouldStop = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStageErrorMatchesSentinel(t *testing.T) {
	err := error(NewStageError(StageReview, errors.New("parse")))
	if !errors.Is(err, ErrReviewFailure) || errors.Is(err, ErrDraftFailure) {
		t.Fatalf("stage error matched the wrong sentinel")
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageReview {
		t.Fatalf("errors.As failed")
	}
}

func TestStatusForPhase(t *testing.T) {
	want := map[Phase]ArticleStatus{
		PhaseResearch:      StatusResearching,
		PhaseAwaitingInput: StatusWaitingInput,
		PhaseRevise:        StatusDrafting,
		PhaseReview:        StatusReview,
		PhaseComplete:      StatusCompleted,
		PhaseError:         StatusFailed,
	}
	for p, s := range want {
		if got := StatusForPhase(p); got != s {
			t.Fatalf("StatusForPhase(%s) = %s, want %s", p, got, s)
		}
	}
	if PhaseAwaitingInput.Terminal() || !PhaseAwaitingInput.Halted() {
		t.Fatalf("awaiting_input must halt a run without ending it")
	}
}

func TestApplyPatchReplacesEssences(t *testing.T) {
	s := NewWorkflowState("s", Brief{}, []Essence{{Category: EssenceHook, Text: "old"}}, 1)
	kept, _ := ApplyPatch(s, Patch{Phase: PhaseDraft})
	if len(kept.Essences) != 1 {
		t.Fatalf("nil essences must leave snippets untouched")
	}
	replaced, _ := ApplyPatch(s, Patch{Essences: []Essence{{Category: EssenceTech, Text: "new"}}})
	if len(replaced.Essences) != 1 || replaced.Essences[0].Text != "new" {
		t.Fatalf("unexpected essences %+v", replaced.Essences)
	}
}

func intPtr(v int) *int { return &v }
