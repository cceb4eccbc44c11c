// Package store persists conversation artifacts: the topic stock, session
// transcripts, end-of-session summaries, and quiz results. Two backends are
// provided, a file store matching the historical on-disk layout and a
// Postgres store for households with a shared database.
package store

import (
	"context"
	"time"
)

// timeLayout is the timestamp format used in files, kept compatible with the
// historical transcripts so old and new files sort together.
const timeLayout = "2006-01-02 15:04:05"

// Entry is one persisted transcript row.
type Entry struct {
	Timestamp time.Time
	Speaker   string
	Text      string
}

// Summary is one end-of-session summary.
type Summary struct {
	Timestamp time.Time
	Text      string
	// FamilyMessage is the short note addressed to the family dashboard.
	FamilyMessage string
}

// QuizResult records one finished quiz round.
type QuizResult struct {
	Timestamp      time.Time
	GameType       string
	Score          int
	TotalQuestions int
	Duration       time.Duration
}

// Store is the persistence collaborator for the dialogue core.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadTopics returns the persisted topic stock in order.
	LoadTopics(ctx context.Context) ([]string, error)

	// SaveTopics overwrites the persisted topic stock.
	SaveTopics(ctx context.Context, topics []string) error

	// SaveTranscript persists one session's turn history.
	SaveTranscript(ctx context.Context, entries []Entry) error

	// SaveSummary appends a session summary.
	SaveSummary(ctx context.Context, s Summary) error

	// RecentSummaries returns up to n of the most recent summaries, oldest
	// first.
	RecentSummaries(ctx context.Context, n int) ([]Summary, error)

	// SaveQuizResult appends a quiz result.
	SaveQuizResult(ctx context.Context, r QuizResult) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
