// Package server exposes the article workflow over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/agent/theme"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
	"github.com/mohammad-safakhou/articleflow/internal/metrics"
	"github.com/mohammad-safakhou/articleflow/internal/store"
	"github.com/mohammad-safakhou/articleflow/repository/redis_repository"
)

// ArticleStore is the article persistence the API needs.
type ArticleStore interface {
	CreateArticle(ctx context.Context, brief core.Brief) (string, error)
	GetArticle(ctx context.Context, id string) (store.Article, bool, error)
	ListArticles(ctx context.Context, statuses ...core.ArticleStatus) ([]store.Article, error)
	ReplaceSnippets(ctx context.Context, articleID string, essences []core.Essence) error
	ListSnippets(ctx context.Context, articleID string) ([]core.Essence, error)
}

// Runner drives workflow runs. *core.Orchestrator implements it.
type Runner interface {
	Start(ctx context.Context, subjectID string, brief core.Brief, essences []core.Essence, progress core.ProgressFunc) (core.WorkflowState, error)
	StartResearch(ctx context.Context, subjectID string, brief core.Brief, essences []core.Essence, progress core.ProgressFunc) (core.WorkflowState, error)
	Resume(ctx context.Context, subjectID string, progress core.ProgressFunc) (core.WorkflowState, error)
	ResumeWithInput(ctx context.Context, subjectID string, essences []core.Essence, progress core.ProgressFunc) (core.WorkflowState, error)
	GetStatus(subjectID string) (core.ProcessingStatus, error)
	CancelRun(subjectID string) error
}

// ThemeProposer suggests article themes. *theme.Proposer implements it.
type ThemeProposer interface {
	Propose(ctx context.Context, req theme.Request) (theme.Result, error)
}

// ProgressCache publishes and reads run progress.
type ProgressCache interface {
	Get(ctx context.Context, subjectID string) (redis_repository.Progress, error)
	Reporter(ctx context.Context, subjectID string, onErr func(error)) core.ProgressFunc
}

// Options wires the server. Progress, Themes and Metrics are optional; an
// empty JWTSecret leaves the API open.
type Options struct {
	Articles  ArticleStore
	States    core.StateStore
	Runner    Runner
	Themes    ThemeProposer
	Progress  ProgressCache
	Metrics   *metrics.Metrics
	JWTSecret string
	Logger    logrus.FieldLogger
}

type Server struct {
	echo     *echo.Echo
	articles ArticleStore
	states   core.StateStore
	runner   Runner
	themes   ThemeProposer
	progress ProgressCache
	metrics  *metrics.Metrics
	md       goldmark.Markdown
	logger   logrus.FieldLogger

	runCtx   context.Context
	stopRuns context.CancelFunc
	runs     sync.WaitGroup

	// launching holds article ids claimed by a request until their run ends.
	launching map[string]struct{}
	mu        sync.Mutex
}

func New(opts Options) (*Server, error) {
	if opts.Articles == nil || opts.States == nil || opts.Runner == nil {
		return nil, errors.New("server needs an article store, a state store and a runner")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("http")
	}
	runCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		echo:     echo.New(),
		articles: opts.Articles,
		states:   opts.States,
		runner:   opts.Runner,
		themes:   opts.Themes,
		progress: opts.Progress,
		metrics:  opts.Metrics,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:   logger,
		runCtx:   runCtx,
		stopRuns: stop,

		launching: make(map[string]struct{}),
	}
	s.routes(opts.JWTSecret)
	return s, nil
}

func (s *Server) routes(secret string) {
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"request_id": v.RequestID,
			}).Debug("request")
			return nil
		},
	}))
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := e.Group("/api")
	if secret != "" {
		api.Use(AuthMiddleware([]byte(secret)))
	}
	api.POST("/quick-check", s.quickCheckContent)
	api.POST("/themes", s.proposeThemes)

	articles := api.Group("/articles")
	articles.POST("", s.createArticle)
	articles.GET("", s.listArticles)
	articles.GET("/:id", s.getArticle)
	articles.GET("/:id/snippets", s.listSnippets)
	articles.PUT("/:id/snippets", s.replaceSnippets)
	articles.POST("/:id/run", s.startRun)
	articles.POST("/:id/research", s.startResearch)
	articles.POST("/:id/resume", s.resumeRun)
	articles.POST("/:id/cancel", s.cancelRun)
	articles.GET("/:id/status", s.status)
	articles.GET("/:id/state", s.state)
	articles.GET("/:id/quick-check", s.quickCheck)
	articles.GET("/:id/preview", s.preview)
}

// errorHandler renders every error as {"error": msg}.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	entry := s.logger.WithFields(logrus.Fields{"status": code, "method": req.Method, "path": req.URL.Path, "remote": c.RealIP()})
	if code >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.Debug(msg)
	}
	if !c.Response().Committed {
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, HTTPError{Error: msg})
	}
}

// ServeHTTP lets the server be mounted or tested with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.echo.ServeHTTP(w, r) }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = ":8080"
	}
	s.logger.WithField("address", addr).Info("listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels background runs and waits
// for them to persist their final state.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.stopRuns()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// launch claims articleID and runs fn in the background on the server run
// context. It returns false without starting anything when the article
// already has a live run or one still being launched.
func (s *Server) launch(articleID string, fn func(ctx context.Context, progress core.ProgressFunc) (core.WorkflowState, error)) bool {
	s.mu.Lock()
	if _, busy := s.launching[articleID]; busy {
		s.mu.Unlock()
		return false
	}
	if _, err := s.runner.GetStatus(articleID); err == nil {
		s.mu.Unlock()
		return false
	}
	s.launching[articleID] = struct{}{}
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			s.mu.Lock()
			delete(s.launching, articleID)
			s.mu.Unlock()
		}()
		log := s.logger.WithField("article_id", articleID)
		state, err := fn(s.runCtx, s.reporter(articleID))
		switch {
		case errors.Is(err, core.ErrRunInProgress):
			log.Warn("run already in progress")
		case err != nil:
			log.WithError(err).WithField("stage", state.FailedStage).Warn("run ended in error")
		case state.Phase == core.PhaseAwaitingInput:
			log.Info("research stored, waiting for input")
		default:
			log.WithField("revision_count", state.RevisionCount).Info("run completed")
		}
	}()
	return true
}

func (s *Server) reporter(articleID string) core.ProgressFunc {
	if s.progress == nil {
		return nil
	}
	return s.progress.Reporter(s.runCtx, articleID, func(err error) {
		s.logger.WithError(err).WithField("article_id", articleID).Debug("progress publish failed")
	})
}
