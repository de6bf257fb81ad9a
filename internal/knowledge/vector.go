package knowledge

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/store"
)

const embedBatchSize = 16

// ChunkStore is the pgvector persistence VectorLookup needs.
type ChunkStore interface {
	UpsertKnowledgeChunk(ctx context.Context, rec store.KnowledgeChunk) error
	DeleteKnowledgeCollection(ctx context.Context, collection string) error
	SearchKnowledge(ctx context.Context, collection string, vector []float32, topK int) ([]store.KnowledgeMatch, error)
}

// VectorLookup answers knowledge queries with embeddings stored in Postgres.
type VectorLookup struct {
	store    ChunkStore
	embedder core.Embedder
}

func NewVectorLookup(s ChunkStore, e core.Embedder) *VectorLookup {
	return &VectorLookup{store: s, embedder: e}
}

// SimilaritySearch implements core.KnowledgeLookup. Score is 1 minus the
// cosine distance.
func (v *VectorLookup) SimilaritySearch(ctx context.Context, collection, query string, topK int) ([]core.KnowledgeHit, error) {
	vecs, err := v.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}
	if len(vecs) == 0 {
		return nil, errors.New("embedder returned no vector")
	}
	matches, err := v.store.SearchKnowledge(ctx, collection, vecs[0], topK)
	if err != nil {
		return nil, errors.Wrap(err, "search knowledge")
	}
	out := make([]core.KnowledgeHit, 0, len(matches))
	for _, m := range matches {
		meta := m.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["source"] = m.Source
		out = append(out, core.KnowledgeHit{Content: m.Content, Metadata: meta, Score: 1 - m.Distance})
	}
	return out, nil
}

// Ingest replaces collection with embeddings of chunks.
func (v *VectorLookup) Ingest(ctx context.Context, collection string, chunks []Chunk) error {
	if err := v.store.DeleteKnowledgeCollection(ctx, collection); err != nil {
		return errors.Wrap(err, "clear collection")
	}
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := v.embedder.Embed(ctx, texts)
		if err != nil {
			return errors.Wrapf(err, "embed chunks %d-%d", start, end)
		}
		if len(vecs) != len(batch) {
			return errors.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(batch))
		}
		for i, c := range batch {
			rec := store.KnowledgeChunk{
				Collection: collection,
				Source:     c.Source,
				ChunkIndex: c.Index,
				Content:    c.Text,
				Metadata:   map[string]interface{}{"title": c.Title},
				Vector:     vecs[i],
			}
			if err := v.store.UpsertKnowledgeChunk(ctx, rec); err != nil {
				return errors.Wrapf(err, "store chunk %s", c.ID)
			}
		}
	}
	return nil
}
