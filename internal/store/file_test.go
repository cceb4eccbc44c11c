package store

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStoreSeedsDefaultTopics(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "history"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	topics, err := s.LoadTopics(context.Background())
	if err != nil {
		t.Fatalf("LoadTopics: %v", err)
	}
	if len(topics) != len(defaultTopics) {
		t.Fatalf("seeded topics = %d, want %d", len(topics), len(defaultTopics))
	}
	if topics[0] != "今日はどんな一日でしたか？" {
		t.Errorf("first topic = %q", topics[0])
	}
}

func TestFileStoreTopicsRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	want := []string{"散歩の話", "畑の野菜の話"}
	if err := s.SaveTopics(ctx, want); err != nil {
		t.Fatalf("SaveTopics: %v", err)
	}
	got, err := s.LoadTopics(ctx)
	if err != nil {
		t.Fatalf("LoadTopics: %v", err)
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("topics = %v, want %v", got, want)
	}
}

func TestFileStoreTranscript(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 8, 31, 14, 30, 5, 0, time.Local) }

	entries := []Entry{
		{Timestamp: time.Date(2026, 8, 31, 14, 25, 0, 0, time.Local), Speaker: "user", Text: "こんにちは"},
		{Timestamp: time.Date(2026, 8, 31, 14, 25, 3, 0, time.Local), Speaker: "assistant", Text: "こんにちは、元気ですか？"},
	}
	if err := s.SaveTranscript(context.Background(), entries); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	path := filepath.Join(dir, "conversation_20260831_143005.csv")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("transcript file missing: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "時間" || rows[0][1] != "話者" || rows[0][2] != "内容" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "user" || rows[1][2] != "こんにちは" {
		t.Errorf("first row = %v", rows[1])
	}
}

func TestFileStoreEmptyTranscriptWritesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.SaveTranscript(context.Background(), nil); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "conversation_*.csv"))
	if len(matches) != 0 {
		t.Errorf("unexpected transcript files: %v", matches)
	}
}

func TestFileStoreSummaries(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.Local)
	for i := 0; i < maxStoredSummaries+5; i++ {
		sum := Summary{
			Timestamp:     base.Add(time.Duration(i) * time.Hour),
			Text:          "お散歩と畑仕事の話をしました。",
			FamilyMessage: "今日も元気にお話しされていました。",
		}
		if err := s.SaveSummary(ctx, sum); err != nil {
			t.Fatalf("SaveSummary: %v", err)
		}
	}

	all, err := s.RecentSummaries(ctx, 0)
	if err != nil {
		t.Fatalf("RecentSummaries: %v", err)
	}
	if len(all) != maxStoredSummaries {
		t.Fatalf("stored summaries = %d, want cap %d", len(all), maxStoredSummaries)
	}

	recent, err := s.RecentSummaries(ctx, 3)
	if err != nil {
		t.Fatalf("RecentSummaries: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent = %d, want 3", len(recent))
	}
	if !recent[0].Timestamp.Before(recent[2].Timestamp) {
		t.Error("summaries not ordered oldest first")
	}
	if recent[0].FamilyMessage == "" {
		t.Error("family message lost in round trip")
	}
}

func TestFileStoreQuizResults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 8, 31, 15, 0, 0, 0, time.Local) }
	ctx := context.Background()

	r := QuizResult{
		Timestamp:      time.Date(2026, 8, 31, 15, 0, 0, 0, time.Local),
		GameType:       "計算ゲーム",
		Score:          4,
		TotalQuestions: 5,
		Duration:       90 * time.Second,
	}
	if err := s.SaveQuizResult(ctx, r); err != nil {
		t.Fatalf("SaveQuizResult: %v", err)
	}
	if err := s.SaveQuizResult(ctx, r); err != nil {
		t.Fatalf("SaveQuizResult: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "game_results_20260831.csv"))
	if err != nil {
		t.Fatalf("read quiz csv: %v", err)
	}
	content := string(data)
	if strings.Count(content, "計算ゲーム") != 2 {
		t.Errorf("expected two result rows:\n%s", content)
	}
	if strings.Count(content, "時間,ゲーム種類,スコア,問題数,所要時間") != 1 {
		t.Errorf("header written more than once:\n%s", content)
	}
}
