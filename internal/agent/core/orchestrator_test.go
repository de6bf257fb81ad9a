package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

type fakeResearch struct {
	calls  int
	result ResearchResult
	err    error
}

func (f *fakeResearch) Run(ctx context.Context, brief Brief) (ResearchResult, error) {
	f.calls++
	if f.err != nil {
		return ResearchResult{}, f.err
	}
	return f.result, nil
}

type fakeDraft struct {
	calls    int
	requests []DraftRequest
	failOn   int // 1-based call number that fails; 0 never
}

func (f *fakeDraft) Run(ctx context.Context, req DraftRequest) (Draft, error) {
	f.calls++
	f.requests = append(f.requests, req)
	if f.failOn == f.calls {
		return Draft{}, errors.New("llm unavailable")
	}
	return Draft{
		Content:         fmt.Sprintf("draft v%d", f.calls),
		TitleCandidates: []string{req.Brief.Title},
		ImagePrompts:    []string{"diagram"},
		SocialPosts:     map[string]string{PlatformX: "post"},
	}, nil
}

// fakeReview returns scores[i] on call i, repeating the last value.
type fakeReview struct {
	calls  int
	scores []int
	err    error
}

func (f *fakeReview) Run(ctx context.Context, req ReviewRequest) (Review, error) {
	f.calls++
	if f.err != nil {
		return Review{}, f.err
	}
	score := f.scores[len(f.scores)-1]
	if f.calls <= len(f.scores) {
		score = f.scores[f.calls-1]
	}
	return Review{
		TotalScore: score,
		SubScores:  map[string]int{CategoryTargetAppeal: score},
		Feedback:   fmt.Sprintf("feedback %d", f.calls),
	}, nil
}

type memStore struct {
	mu     sync.Mutex
	saves  []WorkflowState
	states map[string]WorkflowState
	err    error
}

func newMemStore() *memStore { return &memStore{states: map[string]WorkflowState{}} }

func (m *memStore) Load(ctx context.Context, id string) (WorkflowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok {
		return WorkflowState{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) Save(ctx context.Context, id string, s WorkflowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, s)
	m.states[id] = s
	return nil
}

var testBrief = Brief{Keywords: "budget planning", Persona: "CFO", Title: "X"}

func newTestOrchestrator(t *testing.T, budget int, r ResearchStage, d DraftStage, rv ReviewStage, store StateStore) *Orchestrator {
	t.Helper()
	cfg := config.DefaultWorkflowConfig()
	cfg.RevisionBudget = budget
	o, err := NewOrchestrator(Options{
		Workflow: cfg, Research: r, Draft: d, Review: rv, Store: store,
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func researchOK() *fakeResearch {
	return &fakeResearch{result: ResearchResult{
		Summary: "summary", Outline: []string{"Intro", "Gap", "Plan", "Steps", "Wrap"},
		ContentGaps: []string{"gap"}, CompetitorRefs: []string{"https://a.com"},
	}}
}

func TestFastPassCompletesAfterOneCycle(t *testing.T) {
	research, draft, review := researchOK(), &fakeDraft{}, &fakeReview{scores: []int{85}}
	store := newMemStore()
	o := newTestOrchestrator(t, 2, research, draft, review, store)

	var progress []int
	state, err := o.Start(context.Background(), "article-1", testBrief, nil, func(p int, _ string) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state.Phase != PhaseComplete {
		t.Fatalf("expected complete, got %s", state.Phase)
	}
	if state.RevisionCount != 0 || draft.calls != 1 || review.calls != 1 {
		t.Fatalf("expected one cycle, got revisions=%d drafts=%d reviews=%d", state.RevisionCount, draft.calls, review.calls)
	}
	if state.Review.TotalScore != 85 {
		t.Fatalf("expected score 85, got %d", state.Review.TotalScore)
	}
	if progress[len(progress)-1] != 100 {
		t.Fatalf("expected final progress 100, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
	if last := store.saves[len(store.saves)-1]; last.Phase != PhaseComplete {
		t.Fatalf("expected final save in complete phase, got %s", last.Phase)
	}
}

func TestExhaustedBudgetCompletesWithLastScore(t *testing.T) {
	research, draft, review := researchOK(), &fakeDraft{}, &fakeReview{scores: []int{60}}
	o := newTestOrchestrator(t, 1, research, draft, review, newMemStore())

	state, err := o.Start(context.Background(), "article-1", testBrief, nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state.Phase != PhaseComplete || state.RevisionCount != 1 {
		t.Fatalf("unexpected final state phase=%s revisions=%d", state.Phase, state.RevisionCount)
	}
	if draft.calls != 2 || review.calls != 2 {
		t.Fatalf("expected 2 drafts and 2 reviews, got %d and %d", draft.calls, review.calls)
	}
	if state.Review.TotalScore != 60 {
		t.Fatalf("expected total 60, got %d", state.Review.TotalScore)
	}
	second := draft.requests[1]
	if !second.Revising() || second.ReviseFrom != "draft v1" || second.Feedback != "feedback 1" {
		t.Fatalf("second draft should revise with feedback, got %#v", second)
	}
	if second.SubScores[CategoryTargetAppeal] != 60 {
		t.Fatalf("expected sub-scores forwarded, got %#v", second.SubScores)
	}
}

func TestTerminationBound(t *testing.T) {
	for budget := 0; budget <= 5; budget++ {
		t.Run(fmt.Sprintf("budget_%d", budget), func(t *testing.T) {
			draft, review := &fakeDraft{}, &fakeReview{scores: []int{10}}
			o := newTestOrchestrator(t, budget, researchOK(), draft, review, nil)
			state, err := o.Start(context.Background(), "s", testBrief, nil, nil)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if state.Phase != PhaseComplete {
				t.Fatalf("expected complete, got %s", state.Phase)
			}
			if draft.calls != budget+1 || review.calls != budget+1 {
				t.Fatalf("expected %d cycles, got drafts=%d reviews=%d", budget+1, draft.calls, review.calls)
			}
			if state.RevisionCount != budget {
				t.Fatalf("expected revision count %d, got %d", budget, state.RevisionCount)
			}
		})
	}
}

func TestPassOnSecondCycleStopsEarly(t *testing.T) {
	draft, review := &fakeDraft{}, &fakeReview{scores: []int{50, 80, 10}}
	o := newTestOrchestrator(t, 3, researchOK(), draft, review, nil)
	state, err := o.Start(context.Background(), "s", testBrief, nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if draft.calls != 2 || state.RevisionCount != 1 || state.Review.TotalScore != 80 {
		t.Fatalf("expected stop at threshold, drafts=%d revisions=%d score=%d", draft.calls, state.RevisionCount, state.Review.TotalScore)
	}
}

func TestResearchIsNeverRegenerated(t *testing.T) {
	research := researchOK()
	store := newMemStore()
	o := newTestOrchestrator(t, 3, research, &fakeDraft{}, &fakeReview{scores: []int{20}}, store)
	state, err := o.Start(context.Background(), "s", testBrief, nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if research.calls != 1 {
		t.Fatalf("expected one research call, got %d", research.calls)
	}
	for _, saved := range store.saves {
		if saved.Research != nil && !reflect.DeepEqual(*saved.Research, research.result) {
			t.Fatalf("research changed across saves")
		}
	}
	if !reflect.DeepEqual(*state.Research, research.result) {
		t.Fatalf("final research differs from first result")
	}
}

func TestResearchFailureIsTerminal(t *testing.T) {
	research := &fakeResearch{err: errors.New("search down")}
	draft, review := &fakeDraft{}, &fakeReview{scores: []int{90}}
	store := newMemStore()
	o := newTestOrchestrator(t, 2, research, draft, review, store)

	state, err := o.Start(context.Background(), "s", testBrief, nil, nil)
	if !errors.Is(err, ErrResearchFailure) {
		t.Fatalf("expected research failure, got %v", err)
	}
	if state.Phase != PhaseError || state.FailedStage != StageResearch || state.Error == "" {
		t.Fatalf("unexpected error state: %#v", state)
	}
	if state.Draft != nil || state.Review != nil || draft.calls != 0 {
		t.Fatalf("draft and review must stay unset")
	}
	if saved, _ := store.Load(context.Background(), "s"); saved.Phase != PhaseError {
		t.Fatalf("expected error state persisted, got %s", saved.Phase)
	}
}

func TestDraftFailureKeepsResearch(t *testing.T) {
	draft := &fakeDraft{failOn: 1}
	o := newTestOrchestrator(t, 2, researchOK(), draft, &fakeReview{scores: []int{90}}, nil)
	state, err := o.Start(context.Background(), "s", testBrief, nil, nil)
	if !errors.Is(err, ErrDraftFailure) {
		t.Fatalf("expected draft failure, got %v", err)
	}
	if state.Research == nil {
		t.Fatalf("research should survive a draft failure")
	}
	if state.Review != nil {
		t.Fatalf("review must not be populated when review never ran")
	}
}

func TestRevisionDraftFailureDropsNothingButStops(t *testing.T) {
	draft := &fakeDraft{failOn: 2}
	review := &fakeReview{scores: []int{40}}
	o := newTestOrchestrator(t, 2, researchOK(), draft, review, nil)
	state, err := o.Start(context.Background(), "s", testBrief, nil, nil)
	if !errors.Is(err, ErrDraftFailure) {
		t.Fatalf("expected draft failure, got %v", err)
	}
	if review.calls != 1 || state.Draft.Content != "draft v1" {
		t.Fatalf("expected last good draft retained, got %#v", state.Draft)
	}
}

func TestReviewFailureIsTerminal(t *testing.T) {
	o := newTestOrchestrator(t, 2, researchOK(), &fakeDraft{}, &fakeReview{err: errors.New("judge down")}, nil)
	state, err := o.Start(context.Background(), "s", testBrief, nil, nil)
	if !errors.Is(err, ErrReviewFailure) {
		t.Fatalf("expected review failure, got %v", err)
	}
	if state.Review != nil || state.FailedStage != StageReview {
		t.Fatalf("unexpected state after review failure: %#v", state)
	}
}

func TestStorageFailureSurfaces(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("db gone")
	o := newTestOrchestrator(t, 1, researchOK(), &fakeDraft{}, &fakeReview{scores: []int{90}}, store)
	state, err := o.Start(context.Background(), "s", testBrief, nil, nil)
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if state.Phase != PhaseError || state.FailedStage != StageStorage {
		t.Fatalf("unexpected state: phase=%s stage=%s", state.Phase, state.FailedStage)
	}
}

func TestResumeSkipsResearch(t *testing.T) {
	store := newMemStore()
	saved := NewWorkflowState("s", testBrief, nil, 1)
	saved.Research = &ResearchResult{Summary: "done", Outline: []string{"a"}}
	saved.Phase = PhaseDraft
	_ = store.Save(context.Background(), "s", saved)

	research := researchOK()
	o := newTestOrchestrator(t, 1, research, &fakeDraft{}, &fakeReview{scores: []int{95}}, store)
	state, err := o.Resume(context.Background(), "s", nil)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if research.calls != 0 || state.Phase != PhaseComplete || state.Research.Summary != "done" {
		t.Fatalf("unexpected resumed run: calls=%d phase=%s", research.calls, state.Phase)
	}
}

type fakeImages struct{ err error }

func (f fakeImages) Available() bool { return true }
func (f fakeImages) SearchForPrompts(ctx context.Context, prompts []string, n int) ([]ImageSuggestion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []ImageSuggestion{{Prompt: prompts[0], Images: []Image{{URL: "https://img", Source: "unsplash"}}}}, nil
}

type fakeLinks struct{ err error }

func (f fakeLinks) Suggest(ctx context.Context, id, content string, max int) ([]LinkSuggestion, error) {
	return nil, f.err
}

func TestEnrichmentIsBestEffort(t *testing.T) {
	cfg := config.DefaultWorkflowConfig()
	cfg.EnrichmentEnabled = true
	o, err := NewOrchestrator(Options{
		Workflow: cfg, Research: researchOK(), Draft: &fakeDraft{}, Review: &fakeReview{scores: []int{90}},
		Images: fakeImages{}, Links: fakeLinks{err: errors.New("store down")},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	state, err := o.Start(context.Background(), "s", testBrief, nil, nil)
	if err != nil {
		t.Fatalf("enrichment failure must not fail the run: %v", err)
	}
	if state.Enrichment == nil || len(state.Enrichment.Images) != 1 || len(state.Enrichment.Links) != 0 {
		t.Fatalf("unexpected enrichment: %#v", state.Enrichment)
	}
}

func TestGetStatusUnknownSubject(t *testing.T) {
	o := newTestOrchestrator(t, 0, researchOK(), &fakeDraft{}, &fakeReview{scores: []int{90}}, nil)
	if _, err := o.GetStatus("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := o.CancelRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type progressLog struct {
	mu       sync.Mutex
	percents []int
	messages []string
}

func (p *progressLog) report(percent int, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percents = append(p.percents, percent)
	p.messages = append(p.messages, msg)
}

func TestFailureReportsProgress(t *testing.T) {
	var log progressLog
	o := newTestOrchestrator(t, 2, researchOK(), &fakeDraft{failOn: 1}, &fakeReview{scores: []int{90}}, nil)
	state, err := o.Start(context.Background(), "s", testBrief, nil, log.report)
	if !errors.Is(err, ErrDraftFailure) {
		t.Fatalf("expected draft failure, got %v", err)
	}
	last := len(log.messages) - 1
	if last < 0 || log.percents[last] != 100 || log.messages[last] != state.Error {
		t.Fatalf("expected final progress (100, %q), got %v %v", state.Error, log.percents, log.messages)
	}
}

func TestStartResearchWaitsForInput(t *testing.T) {
	store := newMemStore()
	draft := &fakeDraft{}
	var log progressLog
	o := newTestOrchestrator(t, 1, researchOK(), draft, &fakeReview{scores: []int{95}}, store)

	state, err := o.StartResearch(context.Background(), "s", testBrief, nil, log.report)
	if err != nil {
		t.Fatalf("StartResearch: %v", err)
	}
	if state.Phase != PhaseAwaitingInput || state.Status() != StatusWaitingInput || state.Research == nil {
		t.Fatalf("unexpected paused state: phase=%s research=%v", state.Phase, state.Research != nil)
	}
	if draft.calls != 0 {
		t.Fatalf("draft ran before input was supplied")
	}
	if log.percents[len(log.percents)-1] != 100 {
		t.Fatalf("expected research-only run to report 100, got %v", log.percents)
	}
	if saved, _ := store.Load(context.Background(), "s"); saved.Phase != PhaseAwaitingInput {
		t.Fatalf("expected awaiting_input persisted, got %s", saved.Phase)
	}

	essences := []Essence{{Category: EssenceHook, Text: "we missed plan by 20%"}}
	state, err = o.ResumeWithInput(context.Background(), "s", essences, nil)
	if err != nil {
		t.Fatalf("ResumeWithInput: %v", err)
	}
	if state.Phase != PhaseComplete || draft.calls != 1 {
		t.Fatalf("expected completed run with one draft, got phase=%s drafts=%d", state.Phase, draft.calls)
	}
	if !reflect.DeepEqual(draft.requests[0].Essences, essences) {
		t.Fatalf("draft did not see the new essences: %+v", draft.requests[0].Essences)
	}
}

func TestResumeWithInputRequiresPausedRun(t *testing.T) {
	store := newMemStore()
	saved := NewWorkflowState("s", testBrief, nil, 1)
	saved.Phase = PhaseReview
	_ = store.Save(context.Background(), "s", saved)
	o := newTestOrchestrator(t, 1, researchOK(), &fakeDraft{}, &fakeReview{scores: []int{95}}, store)

	if _, err := o.ResumeWithInput(context.Background(), "s", nil, nil); !errors.Is(err, ErrNotAwaitingInput) {
		t.Fatalf("expected ErrNotAwaitingInput, got %v", err)
	}
}

func TestResumeContinuesPausedRun(t *testing.T) {
	store := newMemStore()
	research := researchOK()
	o := newTestOrchestrator(t, 1, research, &fakeDraft{}, &fakeReview{scores: []int{95}}, store)
	if _, err := o.StartResearch(context.Background(), "s", testBrief, []Essence{{Category: EssenceTech, Text: "ERP"}}, nil); err != nil {
		t.Fatalf("StartResearch: %v", err)
	}
	state, err := o.Resume(context.Background(), "s", nil)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if state.Phase != PhaseComplete || research.calls != 1 || len(state.Essences) != 1 {
		t.Fatalf("unexpected resumed run: phase=%s research=%d essences=%d", state.Phase, research.calls, len(state.Essences))
	}
}
