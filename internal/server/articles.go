package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/agent/review"
	"github.com/mohammad-safakhou/articleflow/internal/helpers"
	"github.com/mohammad-safakhou/articleflow/internal/store"
	"github.com/mohammad-safakhou/articleflow/repository/redis_repository"
)

func (s *Server) createArticle(c echo.Context) error {
	var req CreateArticleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	brief := core.Brief{
		Title:         strings.TrimSpace(req.Title),
		Keywords:      strings.TrimSpace(req.Keywords),
		Persona:       strings.TrimSpace(req.Persona),
		DomainProfile: strings.TrimSpace(req.DomainProfile),
	}
	if brief.Keywords == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "keywords are required")
	}
	for _, e := range req.Essences {
		if !e.Category.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown essence category: "+string(e.Category))
		}
	}
	ctx := c.Request().Context()
	id, err := s.articles.CreateArticle(ctx, brief)
	if err != nil {
		return err
	}
	if len(req.Essences) > 0 {
		if err := s.articles.ReplaceSnippets(ctx, id, req.Essences); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) listArticles(c echo.Context) error {
	var statuses []core.ArticleStatus
	for _, raw := range strings.Split(c.QueryParam("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			statuses = append(statuses, core.ArticleStatus(raw))
		}
	}
	list, err := s.articles.ListArticles(c.Request().Context(), statuses...)
	if err != nil {
		return err
	}
	out := make([]ArticleResponse, 0, len(list))
	for _, a := range list {
		out = append(out, newArticleResponse(a, false))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) loadArticle(c echo.Context) (store.Article, error) {
	a, ok, err := s.articles.GetArticle(c.Request().Context(), c.Param("id"))
	if err != nil {
		return store.Article{}, err
	}
	if !ok {
		return store.Article{}, echo.NewHTTPError(http.StatusNotFound, "article not found")
	}
	return a, nil
}

func (s *Server) getArticle(c echo.Context) error {
	a, err := s.loadArticle(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newArticleResponse(a, true))
}

func (s *Server) listSnippets(c echo.Context) error {
	a, err := s.loadArticle(c)
	if err != nil {
		return err
	}
	essences, err := s.articles.ListSnippets(c.Request().Context(), a.ID)
	if err != nil {
		return err
	}
	if essences == nil {
		essences = []core.Essence{}
	}
	return c.JSON(http.StatusOK, essences)
}

func (s *Server) replaceSnippets(c echo.Context) error {
	a, err := s.loadArticle(c)
	if err != nil {
		return err
	}
	var req SnippetsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for _, e := range req.Essences {
		if !e.Category.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown essence category: "+string(e.Category))
		}
	}
	if err := s.articles.ReplaceSnippets(c.Request().Context(), a.ID, req.Essences); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) startRun(c echo.Context) error {
	return s.start(c, false)
}

// startResearch runs research only; the article then waits for snippets.
func (s *Server) startResearch(c echo.Context) error {
	return s.start(c, true)
}

func (s *Server) start(c echo.Context, researchOnly bool) error {
	a, err := s.loadArticle(c)
	if err != nil {
		return err
	}
	essences, err := s.articles.ListSnippets(c.Request().Context(), a.ID)
	if err != nil {
		return err
	}
	brief := a.Brief()
	run, status := s.runner.Start, "started"
	if researchOnly {
		run, status = s.runner.StartResearch, "researching"
	}
	launched := s.launch(a.ID, func(ctx context.Context, progress core.ProgressFunc) (core.WorkflowState, error) {
		return run(ctx, a.ID, brief, essences, progress)
	})
	if !launched {
		return echo.NewHTTPError(http.StatusConflict, core.ErrRunInProgress.Error())
	}
	return c.JSON(http.StatusAccepted, RunAccepted{ArticleID: a.ID, Status: status})
}

// resumeRun continues a stopped run. A run waiting for input drafts with
// the article's current snippets.
func (s *Server) resumeRun(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()
	state, err := s.states.Load(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no run to resume")
	}
	if err != nil {
		return err
	}
	if state.Phase.Terminal() {
		return echo.NewHTTPError(http.StatusConflict, "run already finished in phase "+string(state.Phase))
	}
	fn := func(ctx context.Context, progress core.ProgressFunc) (core.WorkflowState, error) {
		return s.runner.Resume(ctx, id, progress)
	}
	if state.Phase == core.PhaseAwaitingInput {
		essences, err := s.articles.ListSnippets(ctx, id)
		if err != nil {
			return err
		}
		fn = func(ctx context.Context, progress core.ProgressFunc) (core.WorkflowState, error) {
			return s.runner.ResumeWithInput(ctx, id, essences, progress)
		}
	}
	if !s.launch(id, fn) {
		return echo.NewHTTPError(http.StatusConflict, core.ErrRunInProgress.Error())
	}
	return c.JSON(http.StatusAccepted, RunAccepted{ArticleID: id, Status: "resumed"})
}

func (s *Server) cancelRun(c echo.Context) error {
	id := c.Param("id")
	if err := s.runner.CancelRun(id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no active run")
		}
		return err
	}
	return c.JSON(http.StatusAccepted, RunAccepted{ArticleID: id, Status: "cancelling"})
}

// status answers from the live run first, then the persisted state, using
// the progress cache for runs that stopped mid-way.
func (s *Server) status(c echo.Context) error {
	id := c.Param("id")
	if live, err := s.runner.GetStatus(id); err == nil {
		return c.JSON(http.StatusOK, StatusResponse{
			ArticleID: id,
			Source:    "live",
			Phase:     live.Phase,
			Status:    live.Status,
			Progress:  live.Progress,
			Message:   live.Message,
			UpdatedAt: live.LastUpdated,
		})
	}
	ctx := c.Request().Context()
	state, err := s.states.Load(ctx, id)
	switch {
	case err == nil:
		resp := StatusResponse{
			ArticleID:     id,
			Source:        "state",
			Phase:         state.Phase,
			Status:        state.Status(),
			RevisionCount: state.RevisionCount,
			Error:         state.Error,
			FailedStage:   state.FailedStage,
			UpdatedAt:     state.UpdatedAt,
		}
		if state.Phase.Terminal() {
			resp.Progress = 100
		} else if p, ok := s.cachedProgress(c, id); ok {
			resp.Source = "cache"
			resp.Progress = p.Percent
			resp.Message = p.Message
		}
		return c.JSON(http.StatusOK, resp)
	case !errors.Is(err, core.ErrNotFound):
		return err
	}
	a, err := s.loadArticle(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatusResponse{ArticleID: id, Source: "article", Status: a.Status, UpdatedAt: a.UpdatedAt})
}

func (s *Server) cachedProgress(c echo.Context, id string) (redis_repository.Progress, bool) {
	if s.progress == nil {
		return redis_repository.Progress{}, false
	}
	p, err := s.progress.Get(c.Request().Context(), id)
	if err != nil {
		return redis_repository.Progress{}, false
	}
	return p, true
}

func (s *Server) state(c echo.Context) error {
	state, err := s.states.Load(c.Request().Context(), c.Param("id"))
	if errors.Is(err, core.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no workflow state")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) quickCheck(c echo.Context) error {
	a, err := s.loadArticle(c)
	if err != nil {
		return err
	}
	if strings.TrimSpace(a.Content) == "" {
		return echo.NewHTTPError(http.StatusConflict, "article has no draft yet")
	}
	return c.JSON(http.StatusOK, QuickCheckResponse{ArticleID: a.ID, QuickCheck: review.Check(a.Content)})
}

func (s *Server) quickCheckContent(c echo.Context) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	return c.JSON(http.StatusOK, review.Check(req.Content))
}

// preview renders the draft markdown to sanitized HTML.
func (s *Server) preview(c echo.Context) error {
	a, err := s.loadArticle(c)
	if err != nil {
		return err
	}
	if strings.TrimSpace(a.Content) == "" {
		return echo.NewHTTPError(http.StatusNotFound, "article has no draft yet")
	}
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(a.Content), &buf); err != nil {
		return err
	}
	return c.HTML(http.StatusOK, helpers.SanitizePreview(buf.String()))
}
