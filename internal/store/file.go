package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxStoredSummaries caps summaries.json.
const maxStoredSummaries = 100

// defaultTopics seed a fresh installation so the assistant has something to
// suggest before it has learned anything.
var defaultTopics = []string{
	"今日はどんな一日でしたか？",
	"最近見た映画や読んだ本について教えてください",
	"お気に入りの食べ物は何ですか？",
	"今日のニュースで気になることはありますか？",
	"天気はどうですか？",
	"何か楽しい予定はありますか？",
	"最近うれしかったことを教えてください",
	"健康のために何か気をつけていることはありますか？",
	"昔の思い出について話しませんか？",
	"今度の休みには何をする予定ですか？",
}

// storedSummary is the JSON shape of one summaries.json element.
type storedSummary struct {
	Timestamp     string `json:"timestamp"`
	Text          string `json:"text"`
	FamilyMessage string `json:"family_message,omitempty"`
}

// FileStore keeps everything under one directory: topics.json,
// summaries.json, and one timestamped CSV per session transcript or quiz
// batch. The layout matches the files accumulated by earlier installations,
// so upgrading keeps the history readable.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (and if needed creates) the storage directory. A fresh
// directory is seeded with the default topic list.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %q: %w", dir, err)
	}
	s := &FileStore{dir: dir, now: time.Now}

	topicsPath := filepath.Join(dir, "topics.json")
	if _, err := os.Stat(topicsPath); os.IsNotExist(err) {
		if err := s.SaveTopics(context.Background(), defaultTopics); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadTopics implements Store.
func (s *FileStore) LoadTopics(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, "topics.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read topics: %w", err)
	}
	var topics []string
	if err := json.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("store: parse topics: %w", err)
	}
	return topics, nil
}

// SaveTopics implements Store.
func (s *FileStore) SaveTopics(_ context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(topics, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode topics: %w", err)
	}
	return s.writeFile("topics.json", data)
}

// SaveTranscript implements Store. Each session becomes one CSV named
// conversation_YYYYMMDD_HHMMSS.csv with a header row.
func (s *FileStore) SaveTranscript(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("conversation_%s.csv", s.now().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("store: create transcript: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"時間", "話者", "内容"}); err != nil {
		return fmt.Errorf("store: write transcript header: %w", err)
	}
	for _, e := range entries {
		row := []string{e.Timestamp.Format(timeLayout), e.Speaker, e.Text}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("store: write transcript row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("store: flush transcript: %w", err)
	}
	return nil
}

// SaveSummary implements Store. The summaries file keeps at most the newest
// maxStoredSummaries entries.
func (s *FileStore) SaveSummary(ctx context.Context, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.readSummaries()
	if err != nil {
		return err
	}
	stored = append(stored, storedSummary{
		Timestamp:     sum.Timestamp.Format(timeLayout),
		Text:          sum.Text,
		FamilyMessage: sum.FamilyMessage,
	})
	if len(stored) > maxStoredSummaries {
		stored = stored[len(stored)-maxStoredSummaries:]
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode summaries: %w", err)
	}
	return s.writeFile("summaries.json", data)
}

// RecentSummaries implements Store.
func (s *FileStore) RecentSummaries(_ context.Context, n int) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.readSummaries()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(stored) > n {
		stored = stored[len(stored)-n:]
	}

	out := make([]Summary, 0, len(stored))
	for _, ss := range stored {
		ts, err := time.ParseInLocation(timeLayout, ss.Timestamp, time.Local)
		if err != nil {
			// Skip rows with hand-edited timestamps instead of failing
			// the whole read.
			continue
		}
		out = append(out, Summary{Timestamp: ts, Text: ss.Text, FamilyMessage: ss.FamilyMessage})
	}
	return out, nil
}

// SaveQuizResult implements Store. Results append to one CSV per day.
func (s *FileStore) SaveQuizResult(_ context.Context, r QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("game_results_%s.csv", s.now().Format("20060102"))
	path := filepath.Join(s.dir, name)

	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open quiz results: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if os.IsNotExist(statErr) {
		if err := w.Write([]string{"時間", "ゲーム種類", "スコア", "問題数", "所要時間"}); err != nil {
			return fmt.Errorf("store: write quiz header: %w", err)
		}
	}
	row := []string{
		r.Timestamp.Format(timeLayout),
		r.GameType,
		fmt.Sprintf("%d", r.Score),
		fmt.Sprintf("%d", r.TotalQuestions),
		fmt.Sprintf("%.0f", r.Duration.Seconds()),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("store: write quiz row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("store: flush quiz results: %w", err)
	}
	return nil
}

// Close implements Store. The file store holds no long-lived resources.
func (s *FileStore) Close(context.Context) error { return nil }

// readSummaries loads summaries.json. Caller holds the lock.
func (s *FileStore) readSummaries() ([]storedSummary, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "summaries.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read summaries: %w", err)
	}
	var stored []storedSummary
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("store: parse summaries: %w", err)
	}
	return stored, nil
}

// writeFile writes data atomically via a temp file rename. Caller holds the
// lock.
func (s *FileStore) writeFile(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: replace %s: %w", name, err)
	}
	return nil
}
