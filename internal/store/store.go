package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/unipost/unipost/internal/circuitbreaker"
)

// ErrNotFound is returned when a post does not exist
var ErrNotFound = errors.New("post not found")

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    id          TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    content     TEXT NOT NULL,
    platform    TEXT NOT NULL,
    model       TEXT NOT NULL,
    created_by  TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_approved BOOLEAN,
    tokens_used INTEGER NOT NULL DEFAULT 0,
    context_ids TEXT
);
CREATE INDEX IF NOT EXISTS idx_posts_created_by ON posts (created_by);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts (created_at DESC);

CREATE TABLE IF NOT EXISTS statistics (
    id              INTEGER PRIMARY KEY,
    generated_texts INTEGER NOT NULL DEFAULT 0,
    approved_texts  INTEGER NOT NULL DEFAULT 0,
    denied_texts    INTEGER NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
INSERT INTO statistics (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

// Store persists posts and statistics in Postgres. All queries run
// through the database circuit breaker so a failing database degrades
// fast instead of piling up blocked requests.
type Store struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// Open connects to Postgres and ensures the schema exists.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := New(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. Used by tests with sqlmock.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     circuitbreaker.NewDatabaseWrapper(db, logger),
		logger: logger,
	}
}

// Migrate creates tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreatePost inserts a generated post and bumps the generated counter.
// The post ID is assigned here when empty.
func (s *Store) CreatePost(ctx context.Context, p *Post) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, description, content, platform, model, created_by, created_at, is_approved, tokens_used, context_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Description, p.Content, p.Platform, p.Model, p.CreatedBy, p.CreatedAt, p.IsApproved, p.TokensUsed, p.ContextIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE statistics SET generated_texts = generated_texts + 1, updated_at = now() WHERE id = 1`,
	); err != nil {
		s.logger.Warn("Failed to bump generated counter", zap.Error(err))
	}
	return nil
}

// GetPost fetches a single post by ID.
func (s *Store) GetPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	err := s.db.GetContext(ctx, &p, `SELECT * FROM posts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &p, nil
}

// ListPosts returns the most recent posts, optionally filtered by creator.
func (s *Store) ListPosts(ctx context.Context, createdBy string, limit int) ([]Post, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var posts []Post
	var err error
	if createdBy != "" {
		err = s.db.SelectContext(ctx, &posts,
			`SELECT * FROM posts WHERE created_by = $1 ORDER BY created_at DESC LIMIT $2`,
			createdBy, limit)
	} else {
		err = s.db.SelectContext(ctx, &posts,
			`SELECT * FROM posts ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// SetApproval records the approval decision and bumps the matching
// counter. Returns ErrNotFound when the post does not exist.
func (s *Store) SetApproval(ctx context.Context, id string, approved bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET is_approved = $1 WHERE id = $2`, approved, id)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	counter := "approved_texts"
	if !approved {
		counter = "denied_texts"
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE statistics SET %s = %s + 1, updated_at = now() WHERE id = 1`, counter, counter),
	); err != nil {
		s.logger.Warn("Failed to bump approval counter", zap.Error(err))
	}
	return nil
}

// GetStats returns the application-wide counters.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.GetContext(ctx, &st,
		`SELECT generated_texts, approved_texts, denied_texts, updated_at FROM statistics WHERE id = 1`,
	); err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return &st, nil
}

// PingContext verifies database connectivity.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsCircuitOpen reports whether the database breaker is open.
func (s *Store) IsCircuitOpen() bool {
	return s.db.IsCircuitBreakerOpen()
}
