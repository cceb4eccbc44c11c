package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS topics (
    position  INT   NOT NULL,
    text      TEXT  NOT NULL,
    PRIMARY KEY (position)
);

CREATE TABLE IF NOT EXISTS transcripts (
    id         BIGSERIAL    PRIMARY KEY,
    session_at TIMESTAMPTZ  NOT NULL,
    spoken_at  TIMESTAMPTZ  NOT NULL,
    speaker    TEXT         NOT NULL,
    text       TEXT         NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_at
    ON transcripts (session_at);

CREATE TABLE IF NOT EXISTS summaries (
    id             BIGSERIAL    PRIMARY KEY,
    created_at     TIMESTAMPTZ  NOT NULL,
    text           TEXT         NOT NULL,
    family_message TEXT         NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS quiz_results (
    id              BIGSERIAL    PRIMARY KEY,
    played_at       TIMESTAMPTZ  NOT NULL,
    game_type       TEXT         NOT NULL,
    score           INT          NOT NULL,
    total_questions INT          NOT NULL,
    duration_s      INT          NOT NULL
);
`

// PostgresStore implements Store on a PostgreSQL database through a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn, verifies the connection,
// and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// LoadTopics implements Store.
func (s *PostgresStore) LoadTopics(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT text FROM topics ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("postgres store: scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: load topics: %w", err)
	}
	return topics, nil
}

// SaveTopics implements Store. The whole list is replaced in one
// transaction, mirroring the file store's overwrite semantics.
func (s *PostgresStore) SaveTopics(ctx context.Context, topics []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM topics`); err != nil {
		return fmt.Errorf("postgres store: clear topics: %w", err)
	}
	for i, t := range topics {
		if _, err := tx.Exec(ctx,
			`INSERT INTO topics (position, text) VALUES ($1, $2)`, i, t); err != nil {
			return fmt.Errorf("postgres store: insert topic: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit topics: %w", err)
	}
	return nil
}

// SaveTranscript implements Store. All rows of one session share the same
// session_at timestamp.
func (s *PostgresStore) SaveTranscript(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	sessionAt := s.now()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO transcripts (session_at, spoken_at, speaker, text) VALUES ($1, $2, $3, $4)`,
			sessionAt, e.Timestamp, e.Speaker, e.Text)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: save transcript: %w", err)
	}
	return nil
}

// SaveSummary implements Store.
func (s *PostgresStore) SaveSummary(ctx context.Context, sum Summary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO summaries (created_at, text, family_message) VALUES ($1, $2, $3)`,
		sum.Timestamp, sum.Text, sum.FamilyMessage)
	if err != nil {
		return fmt.Errorf("postgres store: save summary: %w", err)
	}
	return nil
}

// RecentSummaries implements Store.
func (s *PostgresStore) RecentSummaries(ctx context.Context, n int) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT created_at, text, family_message
		FROM (
			SELECT created_at, text, family_message
			FROM summaries
			ORDER BY created_at DESC
			LIMIT $1
		) recent
		ORDER BY created_at ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Timestamp, &sum.Text, &sum.FamilyMessage); err != nil {
			return nil, fmt.Errorf("postgres store: scan summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: recent summaries: %w", err)
	}
	return out, nil
}

// SaveQuizResult implements Store.
func (s *PostgresStore) SaveQuizResult(ctx context.Context, r QuizResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_results (played_at, game_type, score, total_questions, duration_s)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.Timestamp, r.GameType, r.Score, r.TotalQuestions, int(r.Duration.Seconds()))
	if err != nil {
		return fmt.Errorf("postgres store: save quiz result: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}
