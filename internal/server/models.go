package server

import (
	"time"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/agent/review"
	"github.com/mohammad-safakhou/articleflow/internal/store"
)

// HTTPError is the body of every error response.
type HTTPError struct {
	Error string `json:"error"`
}

// CreateArticleRequest creates an article brief with optional essences.
type CreateArticleRequest struct {
	Title         string         `json:"title"`
	Keywords      string         `json:"keywords"`
	Persona       string         `json:"persona"`
	DomainProfile string         `json:"domain_profile"`
	Essences      []core.Essence `json:"essences"`
}

// SnippetsRequest replaces the essences of an article.
type SnippetsRequest struct {
	Essences []core.Essence `json:"essences"`
}

// ArticleResponse is the API view of a stored article.
type ArticleResponse struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Keywords        string             `json:"keywords"`
	Persona         string             `json:"persona"`
	DomainProfile   string             `json:"domain_profile,omitempty"`
	Status          core.ArticleStatus `json:"status"`
	Content         string             `json:"content,omitempty"`
	TitleCandidates []string           `json:"title_candidates,omitempty"`
	TotalScore      *int               `json:"total_score,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func newArticleResponse(a store.Article, withContent bool) ArticleResponse {
	r := ArticleResponse{
		ID:              a.ID,
		Title:           a.Title,
		Keywords:        a.Keywords,
		Persona:         a.Persona,
		DomainProfile:   a.DomainProfile,
		Status:          a.Status,
		TitleCandidates: a.TitleCandidates,
		TotalScore:      a.TotalScore,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if withContent {
		r.Content = a.Content
	}
	return r
}

// RunAccepted acknowledges a run started in the background.
type RunAccepted struct {
	ArticleID string `json:"article_id"`
	Status    string `json:"status"`
}

// StatusResponse reports where a run is. Source tells which layer answered:
// the live orchestrator, the progress cache or the persisted state.
type StatusResponse struct {
	ArticleID     string             `json:"article_id"`
	Source        string             `json:"source"`
	Phase         core.Phase         `json:"phase,omitempty"`
	Status        core.ArticleStatus `json:"status,omitempty"`
	Progress      int                `json:"progress"`
	Message       string             `json:"message,omitempty"`
	RevisionCount int                `json:"revision_count,omitempty"`
	Error         string             `json:"error,omitempty"`
	FailedStage   string             `json:"failed_stage,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// QuickCheckResponse wraps the model-free draft check.
type QuickCheckResponse struct {
	ArticleID string `json:"article_id"`
	review.QuickCheck
}
