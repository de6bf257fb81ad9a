package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
	"github.com/mohammad-safakhou/articleflow/internal/store"
)

func writeDocs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"planning.md":     "# Driver based planning\n\nDriver trees link operational drivers to the budget.\n\nOwners review drivers monthly.",
		"sub/close.txt":   "A faster close starts with a single source of truth for actuals.",
		"ignored.json":    `{"driver": true}`,
		"sub/variance.md": "Variance analysis compares plan and actuals.",
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

func TestSplitChunks(t *testing.T) {
	text := "alpha beta\n\ngamma\n\n" + strings.Repeat("x", 25)
	chunks := SplitChunks(text, 20)
	assert.Equal(t, []string{"alpha beta\n\ngamma", strings.Repeat("x", 20), "xxxxx"}, chunks)
	assert.Empty(t, SplitChunks("  \n\n ", 20))
}

func TestLoadDir(t *testing.T) {
	dir := writeDocs(t)
	chunks, err := LoadDir(dir, "kb", 60)
	require.NoError(t, err)

	var sources []string
	for _, c := range chunks {
		sources = append(sources, c.ID)
		assert.Equal(t, "kb", c.Collection)
	}
	assert.Equal(t, []string{"planning.md#0", "planning.md#1", "planning.md#2", "sub/close.txt#0", "sub/variance.md#0"}, sources)
	assert.Equal(t, "Driver based planning", chunks[0].Title)
	assert.Equal(t, "close", chunks[3].Title)

	_, err = LoadDir(filepath.Join(dir, "missing"), "kb", 0)
	assert.Error(t, err)
}

func TestIndexSearch(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Replace("kb", []Chunk{
		{ID: "a#0", Source: "a.md", Title: "Driver planning", Text: "Driver trees link drivers to the budget."},
		{ID: "b#0", Source: "b.md", Title: "Close", Text: "A faster close needs one source of truth."},
	}))
	assert.Equal(t, 2, ix.Len("kb"))

	hits, err := ix.SimilaritySearch(context.Background(), "kb", "driver budget", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Content, "Driver trees")
	assert.Equal(t, "a.md", hits[0].Metadata["source"])

	hits, err = ix.SimilaritySearch(context.Background(), "other", "driver", 5)
	require.NoError(t, err)
	assert.Nil(t, hits)

	// Replace swaps the whole collection.
	require.NoError(t, ix.Replace("kb", nil))
	hits, err = ix.SimilaritySearch(context.Background(), "kb", "driver", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, input []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(input))
	for i := range input {
		out[i] = []float32{float32(len(input[i])), 1}
	}
	return out, nil
}

type fakeChunks struct {
	deleted  []string
	upserted []store.KnowledgeChunk
	matches  []store.KnowledgeMatch
	query    []float32
}

func (f *fakeChunks) UpsertKnowledgeChunk(_ context.Context, rec store.KnowledgeChunk) error {
	f.upserted = append(f.upserted, rec)
	return nil
}

func (f *fakeChunks) DeleteKnowledgeCollection(_ context.Context, c string) error {
	f.deleted = append(f.deleted, c)
	return nil
}

func (f *fakeChunks) SearchKnowledge(_ context.Context, _ string, v []float32, _ int) ([]store.KnowledgeMatch, error) {
	f.query = v
	return f.matches, nil
}

func TestVectorLookup(t *testing.T) {
	chunks := &fakeChunks{matches: []store.KnowledgeMatch{{Source: "a.md", Content: "driver trees", Distance: 0.25}}}
	emb := &fakeEmbedder{}
	v := NewVectorLookup(chunks, emb)

	hits, err := v.SimilaritySearch(context.Background(), "kb", "drivers", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.75, hits[0].Score, 1e-9)
	assert.Equal(t, "a.md", hits[0].Metadata["source"])
	assert.Equal(t, []float32{7, 1}, chunks.query)

	var many []Chunk
	for i := 0; i < 20; i++ {
		many = append(many, Chunk{ID: "x", Source: "x.md", Index: i, Text: "t"})
	}
	emb.calls = 0
	require.NoError(t, v.Ingest(context.Background(), "kb", many))
	assert.Equal(t, []string{"kb"}, chunks.deleted)
	assert.Len(t, chunks.upserted, 20)
	assert.Equal(t, 2, emb.calls)
	assert.Equal(t, 19, chunks.upserted[19].ChunkIndex)
}

func TestNewSelectsBackend(t *testing.T) {
	lookup, ix, err := New(config.KnowledgeConfig{Backend: "bleve"}, nil, nil, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &Index{}, lookup)
	assert.NotNil(t, ix)

	_, _, err = New(config.KnowledgeConfig{Backend: "pgvector"}, nil, nil, logging.Discard())
	assert.Error(t, err)

	lookup, _, err = New(config.KnowledgeConfig{Backend: "pgvector"}, &fakeChunks{}, &fakeEmbedder{}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &VectorLookup{}, lookup)

	_, _, err = New(config.KnowledgeConfig{Backend: "elastic"}, nil, nil, logging.Discard())
	assert.Error(t, err)
}

func TestReindexSeedsBothBackends(t *testing.T) {
	dir := writeDocs(t)
	chunks := &fakeChunks{}
	cfg := config.KnowledgeConfig{Backend: "pgvector", Collection: "kb", DocsDir: dir, ChunkSize: 500}
	_, ix, err := New(cfg, chunks, &fakeEmbedder{}, logging.Discard())
	require.NoError(t, err)

	n, err := ix.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, ix.index.Len("kb"))
	assert.Len(t, chunks.upserted, 3)
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next, err := NextRun("0 3 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), next)

	_, err = NextRun("not a cron", from)
	assert.Error(t, err)
}

func TestScheduleReindexes(t *testing.T) {
	dir := writeDocs(t)
	_, ix, err := New(config.KnowledgeConfig{Backend: "bleve", Collection: "kb", DocsDir: dir}, nil, nil, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Error(t, ix.Schedule(ctx, "bogus"))
	require.NoError(t, ix.Schedule(ctx, "* * * * * * *"))
	assert.Eventually(t, func() bool {
		ix.index.mu.RLock()
		defer ix.index.mu.RUnlock()
		return len(ix.index.docs["kb"]) > 0
	}, 3*time.Second, 50*time.Millisecond)
}
