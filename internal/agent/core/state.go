package core

import "time"

// Patch is the set of fields a stage boundary may change. Nil fields are left
// untouched.
type Patch struct {
	Phase             Phase
	Research          *ResearchResult
	Draft             *Draft
	Review            *Review
	Enrichment        *Enrichment
	IncrementRevision bool

	// Essences replaces the user snippets when non-nil.
	Essences []Essence
	// ClearReview drops the review of a superseded draft.
	ClearReview bool
	// Failure moves the run to the error phase.
	Failure *StageError
}

// ApplyPatch merges p into s and returns the new state. It is the only place
// the orchestrator mutates state, and it refuses patches that would break the
// run invariants.
func ApplyPatch(s WorkflowState, p Patch) (WorkflowState, error) {
	if s.Phase.Terminal() {
		return s, ErrTerminalState
	}
	if p.Research != nil && s.Research != nil {
		return s, ErrResearchImmutable
	}
	if p.IncrementRevision && s.RevisionCount >= s.RevisionBudget {
		return s, ErrBudgetExhausted
	}

	next := s
	if p.Essences != nil {
		next.Essences = append([]Essence(nil), p.Essences...)
	}
	if p.Research != nil {
		r := *p.Research
		next.Research = &r
	}
	if p.Draft != nil {
		d := *p.Draft
		next.Draft = &d
	}
	if p.ClearReview {
		next.Review = nil
	}
	if p.Review != nil {
		r := *p.Review
		next.Review = &r
	}
	if p.Enrichment != nil {
		e := *p.Enrichment
		next.Enrichment = &e
	}
	if p.IncrementRevision {
		next.RevisionCount++
	}
	if p.Phase != "" {
		next.Phase = p.Phase
	}
	if p.Failure != nil {
		next.Phase = PhaseError
		next.Error = p.Failure.Error()
		next.FailedStage = p.Failure.Stage
	}
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// ShouldStop is the termination predicate evaluated after every review.
func ShouldStop(s WorkflowState, passThreshold int) bool {
	if s.Review != nil && s.Review.TotalScore >= passThreshold {
		return true
	}
	return s.RevisionCount >= s.RevisionBudget
}
