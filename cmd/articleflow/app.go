package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/agent/draft"
	"github.com/mohammad-safakhou/articleflow/internal/agent/research"
	"github.com/mohammad-safakhou/articleflow/internal/agent/review"
	"github.com/mohammad-safakhou/articleflow/internal/agent/theme"
	"github.com/mohammad-safakhou/articleflow/internal/enrich"
	"github.com/mohammad-safakhou/articleflow/internal/knowledge"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
	"github.com/mohammad-safakhou/articleflow/internal/metrics"
	"github.com/mohammad-safakhou/articleflow/internal/retry"
	"github.com/mohammad-safakhou/articleflow/internal/runtime"
	"github.com/mohammad-safakhou/articleflow/internal/store"
	"github.com/mohammad-safakhou/articleflow/repository"
)

// app holds the wired process dependencies.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	telemetry *runtime.Telemetry

	store   *store.Store // nil without postgres
	repos   repository.Repositories
	llm     core.LLMProvider
	indexer *knowledge.Indexer
	orch    *core.Orchestrator
	themes  *theme.Proposer
}

type appOptions struct {
	// RequireStore fails when postgres is not configured.
	RequireStore bool
}

func postgresConfigured(cfg config.PostgresConfig) bool { return cfg.Validate() == nil }

func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logging.GetLogger(), metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	tel, _, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceVersion: version})
	if err != nil {
		return nil, err
	}
	a.telemetry = tel

	policy := retry.FromConfig(cfg.Workflow.Retry).WithLogger(logging.Component("retry"))
	policy.OnRetry = a.metrics.RetryHook()

	if postgresConfigured(cfg.Storage.Postgres) {
		st, err := store.New(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		a.store = st
	} else if opts.RequireStore {
		return nil, fmt.Errorf("postgres is not configured: %w", cfg.Storage.Postgres.Validate())
	}

	if a.store != nil {
		repos, err := repository.New(ctx, cfg.Storage.Redis, a.store, logging.Component("repository"))
		if err != nil {
			return nil, err
		}
		a.repos = repos
	}

	llm, err := core.NewLLMProvider(cfg.LLM, policy)
	if err != nil {
		return nil, err
	}
	a.llm = llm

	search, err := core.NewSearchProvider(cfg.Sources.WebSearch, policy)
	if err != nil {
		return nil, err
	}
	profiles, err := config.LoadDomainProfiles(cfg.Sources.WebSearch.ProfilesFile)
	if err != nil {
		return nil, err
	}

	lookup, err := a.buildKnowledge(ctx, policy)
	if err != nil {
		return nil, err
	}

	var fetcher research.PageFetcher
	if cfg.Sources.WebFetch.Enabled {
		fetcher = research.NewChromeFetcher(cfg.Sources.WebFetch.Timeout, cfg.Sources.WebFetch.MaxChars)
	}
	researchStage, err := research.NewStage(research.Options{
		Search:        search,
		LLM:           llm,
		Knowledge:     lookup,
		Fetcher:       fetcher,
		Sources:       cfg.Sources.WebSearch,
		Fetch:         cfg.Sources.WebFetch,
		KnowledgeBase: cfg.Knowledge,
		Profiles:      profiles,
		Logger:        logging.Component("research"),
	})
	if err != nil {
		return nil, err
	}

	themes, err := theme.NewProposer(theme.Options{
		Search:        search,
		LLM:           llm,
		Knowledge:     lookup,
		Sources:       cfg.Sources.WebSearch,
		KnowledgeBase: cfg.Knowledge,
		Profiles:      profiles,
		Logger:        logging.Component("theme"),
	})
	if err != nil {
		return nil, err
	}
	a.themes = themes

	orchOpts := core.Options{
		Workflow:          cfg.Workflow,
		Research:          researchStage,
		Draft:             draft.NewWriter(llm, cfg.Workflow, logging.Component("draft")),
		Review:            review.NewReviewer(llm, cfg.Workflow, logging.Component("review")),
		ImagesPerPrompt:   cfg.Enrichment.ImagesPerPrompt,
		MaxLinks:          cfg.Enrichment.MaxLinks,
		Logger:            logging.Component("orchestrator"),
		Metrics:           a.metrics,
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
	}
	if a.repos.State != nil {
		orchOpts.Store = a.repos.State
	}
	if cfg.Workflow.EnrichmentEnabled {
		images := enrich.NewImageService(enrich.ImageOptions{
			Config: cfg.Enrichment,
			Policy: policy,
			LLM:    llm,
			Logger: logging.Component("images"),
		})
		if images.Available() {
			orchOpts.Images = images
		}
		if a.store != nil {
			orchOpts.Links = enrich.NewLinkSuggester(a.store)
		}
	}
	orch, err := core.NewOrchestrator(orchOpts)
	if err != nil {
		return nil, err
	}
	a.orch = orch
	ok = true
	return a, nil
}

// buildKnowledge wires the knowledge backend and seeds it once. A missing
// docs directory leaves the lookup empty.
func (a *app) buildKnowledge(ctx context.Context, policy retry.Policy) (core.KnowledgeLookup, error) {
	cfg := a.cfg.Knowledge
	var (
		chunks   knowledge.ChunkStore
		embedder core.Embedder
	)
	if cfg.Backend == "pgvector" {
		if a.store == nil {
			return nil, fmt.Errorf("knowledge backend pgvector needs postgres")
		}
		emb, err := core.NewEmbedder(a.cfg.LLM, policy)
		if err != nil {
			return nil, err
		}
		chunks, embedder = a.store, emb
	}
	lookup, ix, err := knowledge.New(cfg, chunks, embedder, logging.Component("knowledge"))
	if err != nil {
		return nil, err
	}
	a.indexer = ix
	if cfg.DocsDir != "" {
		if _, err := ix.Reindex(ctx); err != nil {
			logging.Component("knowledge").WithError(err).Warn("initial knowledge seeding failed")
		}
	}
	return lookup, nil
}

// Close releases every resource buildApp acquired.
func (a *app) Close(ctx context.Context) {
	if err := a.repos.Close(); err != nil {
		a.logger.WithError(err).Warn("close redis")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("close postgres")
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("telemetry shutdown")
	}
}
