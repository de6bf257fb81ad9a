package core

import (
	"context"
	"time"
)

// Phase is the position of a workflow run in the state machine.
type Phase string

const (
	PhaseResearch      Phase = "research"
	PhaseAwaitingInput Phase = "awaiting_input"
	PhaseDraft         Phase = "draft"
	PhaseReview        Phase = "review"
	PhaseRevise        Phase = "revise"
	PhaseComplete      Phase = "complete"
	PhaseError         Phase = "error"
)

// Terminal reports whether no further transitions may occur.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Halted reports whether a run loop stops at p. Awaiting input is not
// terminal: a resume moves it on to drafting.
func (p Phase) Halted() bool {
	return p.Terminal() || p == PhaseAwaitingInput
}

// ArticleStatus is the lifecycle status persisted with an article.
type ArticleStatus string

const (
	StatusPlanning     ArticleStatus = "planning"
	StatusResearching  ArticleStatus = "researching"
	StatusWaitingInput ArticleStatus = "waiting_input"
	StatusDrafting     ArticleStatus = "drafting"
	StatusReview       ArticleStatus = "review"
	StatusCompleted    ArticleStatus = "completed"
	StatusFailed       ArticleStatus = "failed"
)

// StatusForPhase maps a workflow phase to the article status shown to users.
func StatusForPhase(p Phase) ArticleStatus {
	switch p {
	case PhaseResearch:
		return StatusResearching
	case PhaseAwaitingInput:
		return StatusWaitingInput
	case PhaseDraft, PhaseRevise:
		return StatusDrafting
	case PhaseReview:
		return StatusReview
	case PhaseComplete:
		return StatusCompleted
	case PhaseError:
		return StatusFailed
	default:
		return StatusPlanning
	}
}

// Brief is the immutable input to a workflow run.
type Brief struct {
	Keywords string `json:"keywords"`
	Persona  string `json:"persona"`
	Title    string `json:"title"`
	// DomainProfile selects the search domain profile; empty uses the default.
	DomainProfile string `json:"domain_profile,omitempty"`
}

// EssenceCategory classifies a user supplied snippet.
type EssenceCategory string

const (
	EssenceFailure EssenceCategory = "failure"
	EssenceOpinion EssenceCategory = "opinion"
	EssenceTech    EssenceCategory = "tech"
	EssenceHook    EssenceCategory = "hook"
)

// Valid reports whether c is a known category.
func (c EssenceCategory) Valid() bool {
	switch c {
	case EssenceFailure, EssenceOpinion, EssenceTech, EssenceHook:
		return true
	}
	return false
}

// Essence is a user supplied snippet injected into the draft prompt.
type Essence struct {
	Category EssenceCategory `json:"category"`
	Text     string          `json:"text"`
	Tags     []string        `json:"tags,omitempty"`
}

// CompetitorKeyword is a term observed across competitor search results.
type CompetitorKeyword struct {
	Keyword      string  `json:"keyword"`
	ArticleCount int     `json:"article_count"`
	UsageRate    float64 `json:"usage_rate"`
	Priority     string  `json:"priority"` // required, recommended, optional
}

// ResearchResult is produced once per run and never regenerated.
type ResearchResult struct {
	Summary            string              `json:"summary"`
	CompetitorRefs     []string            `json:"competitor_refs"`
	ContentGaps        []string            `json:"content_gaps"`
	Outline            []string            `json:"outline"`
	CompetitorHeadings [][]string          `json:"competitor_headings,omitempty"`
	InternalRefs       []string            `json:"internal_refs,omitempty"`
	Answer             string              `json:"answer,omitempty"`
	Keywords           []CompetitorKeyword `json:"keywords,omitempty"`
}

// Social post platforms.
const (
	PlatformX        = "x"
	PlatformLinkedIn = "linkedin"
)

// Draft is the current article content and its derived assets.
type Draft struct {
	Content         string            `json:"content"`
	TitleCandidates []string          `json:"title_candidates"`
	ImagePrompts    []string          `json:"image_prompts"`
	SocialPosts     map[string]string `json:"social_posts"`
}

// Review rubric categories.
const (
	CategoryTargetAppeal           = "target_appeal"
	CategoryLogicalStructure       = "logical_structure"
	CategorySEOFitness             = "seo_fitness"
	CategoryStructuralCompleteness = "structural_completeness"
)

// Categories lists the rubric categories in presentation order.
var Categories = []string{
	CategoryTargetAppeal,
	CategoryLogicalStructure,
	CategorySEOFitness,
	CategoryStructuralCompleteness,
}

// Review is the score and feedback for the current draft.
type Review struct {
	TotalScore                int            `json:"total_score"`
	SubScores                 map[string]int `json:"sub_scores"`
	Feedback                  string         `json:"feedback"`
	MissingStructuralElements []string       `json:"missing_structural_elements"`
	// ParseFailed is set when the judgment could not be parsed and the score
	// was forced to zero.
	ParseFailed bool `json:"parse_failed,omitempty"`
}

// Image is one stock photo candidate.
type Image struct {
	URL      string `json:"url"`
	ThumbURL string `json:"thumb_url,omitempty"`
	Author   string `json:"author,omitempty"`
	Source   string `json:"source"` // unsplash or pexels
	Alt      string `json:"alt,omitempty"`
	PageURL  string `json:"page_url,omitempty"`
}

// ImageSuggestion groups image candidates for one image prompt.
type ImageSuggestion struct {
	Prompt string  `json:"prompt"`
	Query  string  `json:"query"`
	Images []Image `json:"images"`
}

// LinkSuggestion is an internal article worth linking from the draft.
type LinkSuggestion struct {
	ArticleID       string   `json:"article_id"`
	Title           string   `json:"title"`
	Score           float64  `json:"score"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// Enrichment holds best-effort decorations added after drafting.
type Enrichment struct {
	Images []ImageSuggestion `json:"images,omitempty"`
	Links  []LinkSuggestion  `json:"links,omitempty"`
}

// WorkflowState is the single record threaded through every stage.
type WorkflowState struct {
	SubjectID      string          `json:"subject_id"`
	Phase          Phase           `json:"phase"`
	Brief          Brief           `json:"brief"`
	Research       *ResearchResult `json:"research,omitempty"`
	Essences       []Essence       `json:"essences,omitempty"`
	Draft          *Draft          `json:"draft,omitempty"`
	Review         *Review         `json:"review,omitempty"`
	RevisionCount  int             `json:"revision_count"`
	RevisionBudget int             `json:"revision_budget"`
	Error          string          `json:"error,omitempty"`
	FailedStage    string          `json:"failed_stage,omitempty"`
	Enrichment     *Enrichment     `json:"enrichment,omitempty"`
	RunID          string          `json:"run_id,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// PauseAfterResearch stops the run in awaiting_input once research is
	// stored, so essences can be collected before drafting.
	PauseAfterResearch bool `json:"pause_after_research,omitempty"`
}

// NewWorkflowState creates a run in the research phase.
func NewWorkflowState(subjectID string, brief Brief, essences []Essence, budget int) WorkflowState {
	if budget < 0 {
		budget = 0
	}
	now := time.Now().UTC()
	es := make([]Essence, len(essences))
	copy(es, essences)
	return WorkflowState{
		SubjectID:      subjectID,
		Phase:          PhaseResearch,
		Brief:          brief,
		Essences:       es,
		RevisionBudget: budget,
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// Status returns the article status for the current phase.
func (s WorkflowState) Status() ArticleStatus { return StatusForPhase(s.Phase) }

// Tier selects a model class for a completion.
type Tier string

const (
	TierHigh Tier = "high"
	TierLow  Tier = "low"
)

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int
	Tier      Tier
	// Temperature overrides the tier default when non-nil.
	Temperature *float64
}

// LLMProvider is a chat completion capability.
type LLMProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// SearchRequest is a web search query with optional domain filters.
type SearchRequest struct {
	Query          string
	MaxResults     int
	IncludeDomains []string
	ExcludeDomains []string
}

// SearchResult is one web search hit.
type SearchResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// SearchResponse carries hits and an optional provider summary answer.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Answer  string         `json:"answer,omitempty"`
}

// SearchProvider is a web search capability.
type SearchProvider interface {
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
}

// KnowledgeHit is one internal knowledge base match.
type KnowledgeHit struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Score    float64                `json:"score"`
}

// KnowledgeLookup is a similarity search over the internal knowledge base.
type KnowledgeLookup interface {
	SimilaritySearch(ctx context.Context, collection, query string, topK int) ([]KnowledgeHit, error)
}

// StateStore persists workflow state between stage boundaries.
type StateStore interface {
	Load(ctx context.Context, subjectID string) (WorkflowState, error)
	Save(ctx context.Context, subjectID string, state WorkflowState) error
}

// ProgressFunc receives progress updates (0..100) at stage boundaries.
type ProgressFunc func(percent int, message string)

// ImageSearcher finds stock images for image prompts.
type ImageSearcher interface {
	Available() bool
	SearchForPrompts(ctx context.Context, prompts []string, perPrompt int) ([]ImageSuggestion, error)
}

// LinkSuggester proposes internal links for an article.
type LinkSuggester interface {
	Suggest(ctx context.Context, excludeID, content string, max int) ([]LinkSuggestion, error)
}

// DraftRequest is the input of the draft stage. ReviseFrom empty means
// initial mode.
type DraftRequest struct {
	Brief      Brief
	Research   ResearchResult
	Essences   []Essence
	ReviseFrom string
	Feedback   string
	SubScores  map[string]int
}

// Revising reports whether the request is in revise mode.
func (r DraftRequest) Revising() bool { return r.ReviseFrom != "" }

// ReviewRequest is the input of the review stage.
type ReviewRequest struct {
	Content  string
	Persona  string
	Keywords string
	Title    string
}

// ResearchStage produces the research result for a brief.
type ResearchStage interface {
	Run(ctx context.Context, brief Brief) (ResearchResult, error)
}

// DraftStage produces or revises the draft.
type DraftStage interface {
	Run(ctx context.Context, req DraftRequest) (Draft, error)
}

// ReviewStage scores a draft.
type ReviewStage interface {
	Run(ctx context.Context, req ReviewRequest) (Review, error)
}
