package knowledge

import (
	"context"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/pkg/errors"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
)

// Index is an in-memory bleve index per collection.
type Index struct {
	mu      sync.RWMutex
	indexes map[string]bleve.Index
	docs    map[string]map[string]Chunk
}

func NewIndex() *Index {
	return &Index{
		indexes: make(map[string]bleve.Index),
		docs:    make(map[string]map[string]Chunk),
	}
}

type indexedChunk struct {
	Title string
	Text  string
}

// Replace rebuilds collection from chunks. Readers keep using the previous
// index until the new one is ready.
func (x *Index) Replace(collection string, chunks []Chunk) error {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return errors.Wrap(err, "new bleve index")
	}
	batch := idx.NewBatch()
	docs := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		if err := batch.Index(c.ID, indexedChunk{Title: c.Title, Text: c.Text}); err != nil {
			_ = idx.Close()
			return errors.Wrapf(err, "index %s", c.ID)
		}
		docs[c.ID] = c
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return errors.Wrap(err, "apply batch")
	}

	x.mu.Lock()
	old := x.indexes[collection]
	x.indexes[collection] = idx
	x.docs[collection] = docs
	x.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Len returns the number of chunks in collection.
func (x *Index) Len(collection string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs[collection])
}

// SimilaritySearch implements core.KnowledgeLookup with a BM25 match query.
// An unknown collection yields no hits.
func (x *Index) SimilaritySearch(ctx context.Context, collection, query string, topK int) ([]core.KnowledgeHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	idx, ok := x.indexes[collection]
	if !ok {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), topK, 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, errors.Wrap(err, "bleve search")
	}
	docs := x.docs[collection]
	out := make([]core.KnowledgeHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c, ok := docs[hit.ID]
		if !ok {
			continue
		}
		out = append(out, core.KnowledgeHit{
			Content: c.Text,
			Score:   hit.Score,
			Metadata: map[string]interface{}{
				"source": c.Source,
				"title":  c.Title,
				"chunk":  c.Index,
			},
		})
	}
	return out, nil
}
