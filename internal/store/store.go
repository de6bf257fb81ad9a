package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
)

// Store is the Postgres persistence layer for articles, essence snippets,
// workflow state and knowledge chunks.
type Store struct {
	DB *sql.DB
}

// Article is the persisted article row.
type Article struct {
	ID              string
	Title           string
	Keywords        string
	Persona         string
	DomainProfile   string
	Status          core.ArticleStatus
	Content         string
	TitleCandidates []string
	TotalScore      *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Brief returns the workflow brief stored on the article.
func (a Article) Brief() core.Brief {
	return core.Brief{
		Keywords:      a.Keywords,
		Persona:       a.Persona,
		Title:         a.Title,
		DomainProfile: a.DomainProfile,
	}
}

// New opens the configured database.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// CreateArticle inserts a planning article for brief and returns its id.
func (s *Store) CreateArticle(ctx context.Context, brief core.Brief) (string, error) {
	if strings.TrimSpace(brief.Keywords) == "" {
		return "", fmt.Errorf("keywords required")
	}
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO articles (id, title, keywords, persona, domain_profile, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
`, id, brief.Title, brief.Keywords, brief.Persona, brief.DomainProfile, string(core.StatusPlanning))
	if err != nil {
		return "", fmt.Errorf("insert article: %w", err)
	}
	return id, nil
}

const articleColumns = `id, title, keywords, persona, domain_profile, status, content, title_candidates, total_score, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (Article, error) {
	var (
		a      Article
		status string
		titles []byte
		score  sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Keywords, &a.Persona, &a.DomainProfile, &status, &a.Content, &titles, &score, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Article{}, err
	}
	a.Status = core.ArticleStatus(status)
	if len(titles) > 0 {
		_ = json.Unmarshal(titles, &a.TitleCandidates)
	}
	if score.Valid {
		v := int(score.Int64)
		a.TotalScore = &v
	}
	return a, nil
}

// GetArticle returns the article with id.
func (s *Store) GetArticle(ctx context.Context, id string) (Article, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id=$1`, id)
	a, err := scanArticle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Article{}, false, nil
		}
		return Article{}, false, err
	}
	return a, true, nil
}

// ListArticles returns articles newest first, optionally filtered by status.
func (s *Store) ListArticles(ctx context.Context, statuses ...core.ArticleStatus) ([]Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles`
	var args []any
	if len(statuses) > 0 {
		in := make([]string, len(statuses))
		for i, st := range statuses {
			args = append(args, string(st))
			in[i] = fmt.Sprintf("$%d", i+1)
		}
		query += ` WHERE status IN (` + strings.Join(in, ",") + `)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReplaceSnippets stores the essence snippets of an article, replacing any
// previous set.
func (s *Store) ReplaceSnippets(ctx context.Context, articleID string, essences []core.Essence) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM article_snippets WHERE article_id=$1`, articleID); err != nil {
		return err
	}
	for _, e := range essences {
		if !e.Category.Valid() {
			err = fmt.Errorf("invalid essence category %q", e.Category)
			return err
		}
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO article_snippets (article_id, category, content, created_at) VALUES ($1,$2,$3,NOW())`,
			articleID, string(e.Category), e.Text); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSnippets returns the essence snippets of an article in insertion order.
func (s *Store) ListSnippets(ctx context.Context, articleID string) ([]core.Essence, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT category, content FROM article_snippets WHERE article_id=$1 ORDER BY id`, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Essence
	for rows.Next() {
		var (
			cat string
			e   core.Essence
		)
		if err := rows.Scan(&cat, &e.Text); err != nil {
			return nil, err
		}
		e.Category = core.EssenceCategory(cat)
		out = append(out, e)
	}
	return out, rows.Err()
}
