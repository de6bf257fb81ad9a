package core

import (
	"errors"
	"fmt"
)

// Stage names used in error reporting and telemetry.
const (
	StageResearch = "research"
	StageDraft    = "draft"
	StageReview   = "review"
	StageStorage  = "storage"
)

var (
	ErrResearchFailure = errors.New("research failure")
	ErrDraftFailure    = errors.New("draft failure")
	ErrReviewFailure   = errors.New("review failure")
	ErrStorageFailure  = errors.New("storage failure")
	ErrNotFound        = errors.New("not found")

	ErrTerminalState     = errors.New("workflow is in a terminal state")
	ErrResearchImmutable = errors.New("research already recorded for this run")
	ErrBudgetExhausted   = errors.New("revision budget exhausted")
	ErrNotAwaitingInput  = errors.New("workflow is not waiting for input")
)

// StageError wraps the cause of a stage-level failure.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches the sentinel error of the failing stage.
func (e *StageError) Is(target error) bool {
	return target == sentinelForStage(e.Stage)
}

// NewStageError wraps err for stage.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

func sentinelForStage(stage string) error {
	switch stage {
	case StageResearch:
		return ErrResearchFailure
	case StageDraft:
		return ErrDraftFailure
	case StageReview:
		return ErrReviewFailure
	case StageStorage:
		return ErrStorageFailure
	}
	return nil
}
