package knowledge

import (
	"context"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

// Indexer seeds the knowledge backends from the docs directory.
type Indexer struct {
	cfg     config.KnowledgeConfig
	index   *Index
	vectors *VectorLookup
	logger  logrus.FieldLogger
}

// New builds the lookup selected by cfg.Backend and the indexer that seeds
// it. The pgvector backend needs both a chunk store and an embedder; the
// bleve index is always seeded so it can serve as a local fallback.
func New(cfg config.KnowledgeConfig, chunks ChunkStore, embedder core.Embedder, logger logrus.FieldLogger) (core.KnowledgeLookup, *Indexer, error) {
	if logger == nil {
		logger = logging.Component("knowledge")
	}
	ix := &Indexer{cfg: cfg, index: NewIndex(), logger: logger}
	switch cfg.Backend {
	case "", "bleve":
		return ix.index, ix, nil
	case "pgvector":
		if chunks == nil || embedder == nil {
			return nil, nil, errors.New("pgvector knowledge backend needs postgres and an embedding provider")
		}
		ix.vectors = NewVectorLookup(chunks, embedder)
		return ix.vectors, ix, nil
	default:
		return nil, nil, errors.Errorf("unknown knowledge backend %q", cfg.Backend)
	}
}

// Reindex reloads the docs directory into every configured backend and
// returns the number of chunks.
func (ix *Indexer) Reindex(ctx context.Context) (int, error) {
	chunks, err := LoadDir(ix.cfg.DocsDir, ix.cfg.Collection, ix.cfg.ChunkSize)
	if err != nil {
		return 0, err
	}
	if err := ix.index.Replace(ix.cfg.Collection, chunks); err != nil {
		return 0, err
	}
	if ix.vectors != nil {
		if err := ix.vectors.Ingest(ctx, ix.cfg.Collection, chunks); err != nil {
			return 0, err
		}
	}
	ix.logger.WithFields(logrus.Fields{"collection": ix.cfg.Collection, "chunks": len(chunks)}).Info("knowledge reindexed")
	return len(chunks), nil
}

// NextRun returns the next activation of a cron expression after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	e, err := cronexpr.Parse(expr)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse cron %q", expr)
	}
	next := e.Next(from)
	if next.IsZero() {
		return time.Time{}, errors.Errorf("cron %q never fires after %s", expr, from.Format(time.RFC3339))
	}
	return next, nil
}

// Schedule reindexes on every activation of expr until ctx is done. Reindex
// errors are logged and the schedule continues.
func (ix *Indexer) Schedule(ctx context.Context, expr string) error {
	if _, err := NextRun(expr, time.Now()); err != nil {
		return err
	}
	go func() {
		for {
			next, err := NextRun(expr, time.Now())
			if err != nil {
				ix.logger.WithError(err).Warn("knowledge schedule stopped")
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if _, err := ix.Reindex(ctx); err != nil {
				ix.logger.WithError(err).Warn("scheduled knowledge reindex failed")
			}
		}
	}()
	return nil
}
