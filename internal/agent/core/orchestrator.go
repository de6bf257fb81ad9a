package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
	"github.com/mohammad-safakhou/articleflow/internal/metrics"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when a subject already has an active run.
var ErrRunInProgress = errors.New("workflow run already in progress for subject")

var orchestratorTracer trace.Tracer = otel.Tracer("articleflow/internal/agent/orchestrator")

// Options wires the orchestrator collaborators. Research, Draft and Review
// are required; everything else is optional.
type Options struct {
	Workflow config.WorkflowConfig
	Research ResearchStage
	Draft    DraftStage
	Review   ReviewStage
	Store    StateStore

	Images          ImageSearcher
	Links           LinkSuggester
	ImagesPerPrompt int
	MaxLinks        int

	Logger            logrus.FieldLogger
	Metrics           *metrics.Metrics
	MaxConcurrentRuns int
}

// ProcessingStatus is the live view of an active run.
type ProcessingStatus struct {
	SubjectID   string        `json:"subject_id"`
	RunID       string        `json:"run_id"`
	Phase       Phase         `json:"phase"`
	Status      ArticleStatus `json:"status"`
	Progress    int           `json:"progress"`
	Message     string        `json:"message"`
	StartedAt   time.Time     `json:"started_at"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Orchestrator sequences research, draft and review for one subject at a
// time per run, with a bounded revise loop.
type Orchestrator struct {
	cfg      config.WorkflowConfig
	research ResearchStage
	draft    DraftStage
	review   ReviewStage
	store    StateStore

	images          ImageSearcher
	links           LinkSuggester
	imagesPerPrompt int
	maxLinks        int

	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	processing map[string]*ProcessingStatus
	cancels    map[string]context.CancelFunc
	mu         sync.RWMutex

	semaphore chan struct{}
}

// NewOrchestrator creates a new orchestrator instance
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Research == nil || opts.Draft == nil || opts.Review == nil {
		return nil, fmt.Errorf("research, draft and review stages are required")
	}
	cfg := opts.Workflow.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("orchestrator")
	}
	maxRuns := opts.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	imagesPerPrompt := opts.ImagesPerPrompt
	if imagesPerPrompt <= 0 {
		imagesPerPrompt = 3
	}
	maxLinks := opts.MaxLinks
	if maxLinks <= 0 {
		maxLinks = 5
	}
	return &Orchestrator{
		cfg:             cfg,
		research:        opts.Research,
		draft:           opts.Draft,
		review:          opts.Review,
		store:           opts.Store,
		images:          opts.Images,
		links:           opts.Links,
		imagesPerPrompt: imagesPerPrompt,
		maxLinks:        maxLinks,
		logger:          logger,
		metrics:         opts.Metrics,
		processing:      make(map[string]*ProcessingStatus),
		cancels:         make(map[string]context.CancelFunc),
		semaphore:       make(chan struct{}, maxRuns),
	}, nil
}

// Config returns the normalized workflow configuration.
func (o *Orchestrator) Config() config.WorkflowConfig { return o.cfg }

// Start creates a fresh run for subjectID and drives it to a terminal phase.
func (o *Orchestrator) Start(ctx context.Context, subjectID string, brief Brief, essences []Essence, progress ProgressFunc) (WorkflowState, error) {
	state := NewWorkflowState(subjectID, brief, essences, o.cfg.RevisionBudget)
	return o.Run(ctx, state, progress)
}

// StartResearch creates a fresh run that stops in awaiting_input once
// research is stored. ResumeWithInput or Resume carries it on to drafting.
func (o *Orchestrator) StartResearch(ctx context.Context, subjectID string, brief Brief, essences []Essence, progress ProgressFunc) (WorkflowState, error) {
	state := NewWorkflowState(subjectID, brief, essences, o.cfg.RevisionBudget)
	state.PauseAfterResearch = true
	return o.Run(ctx, state, progress)
}

// Resume loads the persisted state for subjectID and continues from its
// phase. A run awaiting input drafts with the essences it already has.
// Terminal runs are returned unchanged.
func (o *Orchestrator) Resume(ctx context.Context, subjectID string, progress ProgressFunc) (WorkflowState, error) {
	state, err := o.load(ctx, subjectID)
	if err != nil {
		return WorkflowState{}, err
	}
	if state.Phase.Terminal() {
		return state, nil
	}
	if state.Phase == PhaseAwaitingInput {
		if state, err = ApplyPatch(state, Patch{Phase: PhaseDraft}); err != nil {
			return state, err
		}
	}
	return o.Run(ctx, state, progress)
}

// ResumeWithInput replaces the essences of a run awaiting input and drives
// it from drafting. Runs in any other phase fail with ErrNotAwaitingInput.
func (o *Orchestrator) ResumeWithInput(ctx context.Context, subjectID string, essences []Essence, progress ProgressFunc) (WorkflowState, error) {
	state, err := o.load(ctx, subjectID)
	if err != nil {
		return WorkflowState{}, err
	}
	if state.Phase != PhaseAwaitingInput {
		return state, fmt.Errorf("%s is in phase %s: %w", subjectID, state.Phase, ErrNotAwaitingInput)
	}
	if essences == nil {
		essences = []Essence{}
	}
	if state, err = ApplyPatch(state, Patch{Phase: PhaseDraft, Essences: essences}); err != nil {
		return state, err
	}
	return o.Run(ctx, state, progress)
}

func (o *Orchestrator) load(ctx context.Context, subjectID string) (WorkflowState, error) {
	if o.store == nil {
		return WorkflowState{}, fmt.Errorf("resume requires a state store")
	}
	return o.store.Load(ctx, subjectID)
}

// Run drives state until it reaches complete or error. The returned error is
// the *StageError that moved the run to the error phase, if any.
func (o *Orchestrator) Run(ctx context.Context, state WorkflowState, progress ProgressFunc) (WorkflowState, error) {
	if state.Phase == "" {
		state.Phase = PhaseResearch
	}
	if state.RunID == "" {
		state.RunID = uuid.New().String()
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now().UTC()
	}

	ctx, span := orchestratorTracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("subject.id", state.SubjectID),
			attribute.String("run.id", state.RunID),
			attribute.Int("revision.budget", state.RevisionBudget),
		))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	status, err := o.register(state, cancel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}
	defer o.unregister(state.SubjectID)

	select {
	case o.semaphore <- struct{}{}:
		defer func() { <-o.semaphore }()
	case <-ctx.Done():
		return state, ctx.Err()
	}

	log := o.logger.WithFields(logrus.Fields{"subject_id": state.SubjectID, "run_id": state.RunID})
	log.Info("workflow run started")
	startTime := time.Now()

	report := func(percent int, msg string) {
		o.updateStatus(status, state.Phase, percent, msg)
		if progress != nil {
			progress(percent, msg)
		}
	}

	var runErr error
	for !state.Phase.Halted() {
		switch state.Phase {
		case PhaseResearch:
			state, runErr = o.stepResearch(ctx, state, report)
		case PhaseDraft, PhaseRevise:
			state, runErr = o.stepDraft(ctx, state, report)
		case PhaseReview:
			state, runErr = o.stepReview(ctx, state, report)
		default:
			state, runErr = o.fail(ctx, state, NewStageError(StageResearch, fmt.Errorf("unknown phase %q", state.Phase)))
		}
	}

	o.metrics.RunFinished(string(state.Phase), state.RevisionCount)
	span.SetAttributes(
		attribute.String("run.phase", string(state.Phase)),
		attribute.Int("run.revision_count", state.RevisionCount),
	)
	if state.Review != nil {
		span.SetAttributes(attribute.Int("review.total_score", state.Review.TotalScore))
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.WithError(runErr).WithField("stage", state.FailedStage).Error("workflow run failed")
		report(100, state.Error)
		return state, runErr
	}
	if state.Phase == PhaseAwaitingInput {
		span.SetStatus(codes.Ok, "awaiting input")
		log.Info("workflow run paused for input")
		return state, nil
	}
	span.SetStatus(codes.Ok, "completed")
	log.WithFields(logrus.Fields{
		"revision_count": state.RevisionCount,
		"duration":       time.Since(startTime).String(),
	}).Info("workflow run completed")
	return state, nil
}

func (o *Orchestrator) stepResearch(ctx context.Context, state WorkflowState, report ProgressFunc) (WorkflowState, error) {
	if state.Research != nil {
		// resumed run; research is never regenerated
		return o.apply(ctx, state, Patch{Phase: PhaseDraft})
	}
	report(10, "researching competitors and internal knowledge")

	ctx, span := orchestratorTracer.Start(ctx, "workflow.research")
	defer span.End()
	start := time.Now()
	res, err := o.research.Run(ctx, state.Brief)
	o.metrics.ObserveStage(StageResearch, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.fail(ctx, state, NewStageError(StageResearch, err))
	}
	span.SetAttributes(
		attribute.Int("research.outline_items", len(res.Outline)),
		attribute.Int("research.competitor_refs", len(res.CompetitorRefs)),
	)

	phase := PhaseDraft
	if state.PauseAfterResearch {
		phase = PhaseAwaitingInput
	}
	next, err := o.apply(ctx, state, Patch{Research: &res, Phase: phase})
	if err != nil {
		return next, err
	}
	if phase == PhaseAwaitingInput {
		report(100, "research complete, waiting for input")
		return next, nil
	}
	report(30, "research complete")
	return next, nil
}

func (o *Orchestrator) stepDraft(ctx context.Context, state WorkflowState, report ProgressFunc) (WorkflowState, error) {
	if state.Research == nil {
		return o.fail(ctx, state, NewStageError(StageDraft, errors.New("draft requested before research")))
	}
	req := DraftRequest{
		Brief:    state.Brief,
		Research: *state.Research,
		Essences: state.Essences,
	}
	revising := state.Phase == PhaseRevise && state.Draft != nil
	if revising {
		req.ReviseFrom = state.Draft.Content
		if state.Review != nil {
			req.Feedback = state.Review.Feedback
			req.SubScores = state.Review.SubScores
		}
		report(75, fmt.Sprintf("revising draft (%d/%d)", state.RevisionCount, state.RevisionBudget))
	} else {
		report(40, "drafting article")
	}

	ctx, span := orchestratorTracer.Start(ctx, "workflow.draft",
		trace.WithAttributes(attribute.Bool("draft.revise", revising)))
	defer span.End()
	start := time.Now()
	draft, err := o.draft.Run(ctx, req)
	o.metrics.ObserveStage(StageDraft, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.fail(ctx, state, NewStageError(StageDraft, err))
	}
	span.SetAttributes(attribute.Int("draft.chars", len([]rune(draft.Content))))

	next, err := o.apply(ctx, state, Patch{Draft: &draft, ClearReview: true, Phase: PhaseReview})
	if err != nil {
		return next, err
	}
	report(50, "draft complete")
	return next, nil
}

func (o *Orchestrator) stepReview(ctx context.Context, state WorkflowState, report ProgressFunc) (WorkflowState, error) {
	if state.Draft == nil {
		return o.fail(ctx, state, NewStageError(StageReview, errors.New("review requested without a draft")))
	}

	rctx, span := orchestratorTracer.Start(ctx, "workflow.review")
	start := time.Now()
	review, err := o.review.Run(rctx, ReviewRequest{
		Content:  state.Draft.Content,
		Persona:  state.Brief.Persona,
		Keywords: state.Brief.Keywords,
		Title:    state.Brief.Title,
	})
	o.metrics.ObserveStage(StageReview, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return o.fail(ctx, state, NewStageError(StageReview, err))
	}
	span.SetAttributes(attribute.Int("review.total_score", review.TotalScore))
	span.End()
	o.metrics.ObserveReview(review.TotalScore)

	next, err := o.apply(ctx, state, Patch{Review: &review})
	if err != nil {
		return next, err
	}
	report(70, fmt.Sprintf("review score %d/100", review.TotalScore))

	// The predicate is evaluated before any further draft call; this is what
	// bounds the loop at revision_budget+1 cycles.
	if ShouldStop(next, o.cfg.PassThreshold) {
		return o.finalize(ctx, next, report)
	}
	return o.apply(ctx, next, Patch{Phase: PhaseRevise, IncrementRevision: true})
}

// finalize runs best-effort enrichment and completes the run.
func (o *Orchestrator) finalize(ctx context.Context, state WorkflowState, report ProgressFunc) (WorkflowState, error) {
	if state.Review != nil && state.Review.TotalScore >= o.cfg.PassThreshold {
		report(90, "review passed, finalizing")
	} else {
		report(90, "revision budget exhausted, finalizing")
	}
	patch := Patch{Phase: PhaseComplete}
	if o.cfg.EnrichmentEnabled && state.Draft != nil {
		report(95, "adding image and link suggestions")
		patch.Enrichment = o.enrich(ctx, state)
	}
	next, err := o.apply(ctx, state, patch)
	if err != nil {
		return next, err
	}
	report(100, "complete")
	return next, nil
}

// enrich never fails; errors are logged and the affected part left empty.
func (o *Orchestrator) enrich(ctx context.Context, state WorkflowState) *Enrichment {
	var (
		images []ImageSuggestion
		links  []LinkSuggestion
		g      errgroup.Group
	)
	log := o.logger.WithField("subject_id", state.SubjectID)
	if o.images != nil && o.images.Available() && len(state.Draft.ImagePrompts) > 0 {
		g.Go(func() error {
			res, err := o.images.SearchForPrompts(ctx, state.Draft.ImagePrompts, o.imagesPerPrompt)
			o.metrics.Enrichment("images", err)
			if err != nil {
				log.WithError(err).Warn("image enrichment failed")
				return nil
			}
			images = res
			return nil
		})
	}
	if o.links != nil {
		g.Go(func() error {
			res, err := o.links.Suggest(ctx, state.SubjectID, state.Draft.Content, o.maxLinks)
			o.metrics.Enrichment("links", err)
			if err != nil {
				log.WithError(err).Warn("link suggestion failed")
				return nil
			}
			links = res
			return nil
		})
	}
	_ = g.Wait()
	if len(images) == 0 && len(links) == 0 {
		return nil
	}
	return &Enrichment{Images: images, Links: links}
}

// apply merges p and persists the result at the stage boundary.
func (o *Orchestrator) apply(ctx context.Context, state WorkflowState, p Patch) (WorkflowState, error) {
	next, err := ApplyPatch(state, p)
	if err != nil {
		return o.fail(ctx, state, NewStageError(phaseStage(state.Phase), err))
	}
	if err := o.save(ctx, next); err != nil {
		se := NewStageError(StageStorage, err)
		p.Failure = se
		failed, ferr := ApplyPatch(state, p)
		if ferr != nil {
			return next, se
		}
		return failed, se
	}
	return next, nil
}

// fail moves state to the error phase and makes a best-effort save.
func (o *Orchestrator) fail(ctx context.Context, state WorkflowState, se *StageError) (WorkflowState, error) {
	next, err := ApplyPatch(state, Patch{Failure: se})
	if err != nil {
		return state, se
	}
	if err := o.save(context.WithoutCancel(ctx), next); err != nil {
		o.logger.WithError(err).WithField("subject_id", state.SubjectID).Warn("could not persist error state")
	}
	return next, se
}

func (o *Orchestrator) save(ctx context.Context, state WorkflowState) error {
	if o.store == nil {
		return nil
	}
	if err := o.store.Save(ctx, state.SubjectID, state); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func phaseStage(p Phase) string {
	switch p {
	case PhaseResearch:
		return StageResearch
	case PhaseReview:
		return StageReview
	default:
		return StageDraft
	}
}

func (o *Orchestrator) register(state WorkflowState, cancel context.CancelFunc) (*ProcessingStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.processing[state.SubjectID]; busy {
		return nil, ErrRunInProgress
	}
	now := time.Now()
	status := &ProcessingStatus{
		SubjectID:   state.SubjectID,
		RunID:       state.RunID,
		Phase:       state.Phase,
		Status:      state.Status(),
		StartedAt:   now,
		LastUpdated: now,
	}
	o.processing[state.SubjectID] = status
	o.cancels[state.SubjectID] = cancel
	return status, nil
}

func (o *Orchestrator) unregister(subjectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.processing, subjectID)
	delete(o.cancels, subjectID)
}

// updateStatus updates the processing status
func (o *Orchestrator) updateStatus(status *ProcessingStatus, phase Phase, progress int, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	status.Phase = phase
	status.Status = StatusForPhase(phase)
	status.Progress = progress
	status.Message = message
	status.LastUpdated = time.Now()
}

// GetStatus returns the live status of an active run.
func (o *Orchestrator) GetStatus(subjectID string) (ProcessingStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	status, exists := o.processing[subjectID]
	if !exists {
		return ProcessingStatus{}, fmt.Errorf("no active run for %s: %w", subjectID, ErrNotFound)
	}
	return *status, nil
}

// CancelRun aborts the in-flight call of an active run. The run ends in the
// error phase with the interrupted stage recorded.
func (o *Orchestrator) CancelRun(subjectID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cancel, exists := o.cancels[subjectID]
	if !exists {
		return fmt.Errorf("no active run for %s: %w", subjectID, ErrNotFound)
	}
	cancel()
	return nil
}
