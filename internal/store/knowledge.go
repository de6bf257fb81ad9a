package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

// KnowledgeChunk is one embedded slice of an internal document.
type KnowledgeChunk struct {
	Collection string
	Source     string
	ChunkIndex int
	Content    string
	Metadata   map[string]interface{}
	Vector     []float32
}

// KnowledgeMatch is a similarity hit; Distance is the cosine distance.
type KnowledgeMatch struct {
	Source   string
	Content  string
	Metadata map[string]interface{}
	Distance float64
}

// UpsertKnowledgeChunk stores or replaces one chunk.
func (s *Store) UpsertKnowledgeChunk(ctx context.Context, rec KnowledgeChunk) error {
	if rec.Collection == "" || rec.Source == "" {
		return fmt.Errorf("collection and source required")
	}
	vectorLiteral, err := encodeVectorLiteral(rec.Vector)
	if err != nil {
		return err
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]interface{}{}
	}
	metaBytes, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO knowledge_chunks (collection, source, chunk_index, content, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6::vector,NOW())
ON CONFLICT (collection, source, chunk_index) DO UPDATE SET
  content = EXCLUDED.content,
  metadata = EXCLUDED.metadata,
  embedding = EXCLUDED.embedding,
  created_at = NOW();
`, rec.Collection, rec.Source, rec.ChunkIndex, rec.Content, metaBytes, vectorLiteral)
	return err
}

// DeleteKnowledgeCollection removes every chunk of collection.
func (s *Store) DeleteKnowledgeCollection(ctx context.Context, collection string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE collection=$1`, collection)
	return err
}

// SearchKnowledge returns the closest chunks of collection for vector.
func (s *Store) SearchKnowledge(ctx context.Context, collection string, vector []float32, topK int) ([]KnowledgeMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT source, content, metadata, embedding <=> $1::vector AS distance
FROM knowledge_chunks
WHERE collection = $2
ORDER BY embedding <=> $1::vector
LIMIT $3
`, vecLiteral, collection, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []KnowledgeMatch
	for rows.Next() {
		var (
			m         KnowledgeMatch
			metaBytes []byte
		)
		if err := rows.Scan(&m.Source, &m.Content, &metaBytes, &m.Distance); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &m.Metadata)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
