package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akiyumeyou/oshaberi/internal/dialogue"
	"github.com/akiyumeyou/oshaberi/internal/store"
	llmmock "github.com/akiyumeyou/oshaberi/pkg/provider/llm/mock"
)

// fakeStore records everything it is asked to persist.
type fakeStore struct {
	mu          sync.Mutex
	summaries   []store.Summary
	transcripts [][]store.Entry
	summaryErr  error
}

func (f *fakeStore) LoadTopics(context.Context) ([]string, error)    { return nil, nil }
func (f *fakeStore) SaveTopics(context.Context, []string) error      { return nil }
func (f *fakeStore) RecentSummaries(context.Context, int) ([]store.Summary, error) {
	return nil, nil
}
func (f *fakeStore) SaveQuizResult(context.Context, store.QuizResult) error { return nil }
func (f *fakeStore) Close(context.Context) error                            { return nil }

func (f *fakeStore) SaveSummary(_ context.Context, s store.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summaryErr != nil {
		return f.summaryErr
	}
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeStore) SaveTranscript(_ context.Context, entries []store.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, entries)
	return nil
}

func sessionEntries() []dialogue.Utterance {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local)
	return []dialogue.Utterance{
		{Speaker: dialogue.SpeakerSystem, Text: "こんにちは！", Timestamp: base},
		{Speaker: dialogue.SpeakerUser, Text: "今日は孫と公園に行きました", Timestamp: base.Add(5 * time.Second)},
		{Speaker: dialogue.SpeakerSystem, Text: "それは楽しそうですね", Timestamp: base.Add(8 * time.Second)},
		{Speaker: dialogue.SpeakerUser, Text: "終了", Timestamp: base.Add(12 * time.Second)},
	}
}

func TestCloserPersistsSummaryAndTranscript(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Replies: []string{"お孫さんと公園で楽しい時間を過ごされました。"}}
	st := &fakeStore{}
	c := NewCloser(provider, st)

	if err := c.EndSession(context.Background(), sessionEntries()); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	if got := provider.Calls(); got != 2 {
		t.Errorf("llm calls = %d, want summary + family message", got)
	}
	if len(st.summaries) != 1 {
		t.Fatalf("summaries saved = %d, want 1", len(st.summaries))
	}
	sum := st.summaries[0]
	if sum.Text == "" || sum.FamilyMessage == "" {
		t.Errorf("summary incomplete: %+v", sum)
	}
	if len(st.transcripts) != 1 {
		t.Fatalf("transcripts saved = %d, want 1", len(st.transcripts))
	}
	if got := len(st.transcripts[0]); got != 4 {
		t.Errorf("transcript rows = %d, want all 4 turns", got)
	}
}

func TestCloserExcludesEndCommandAndSystemTurns(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Replies: []string{"要約です。"}}
	c := NewCloser(provider, &fakeStore{})

	if err := c.EndSession(context.Background(), sessionEntries()); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	var summaryReq string
	for _, req := range provider.Requests() {
		if strings.Contains(req.Messages[0].Content, "150文字以内") {
			summaryReq = req.Messages[0].Content
		}
	}
	if summaryReq == "" {
		t.Fatal("no summary request seen")
	}
	if strings.Contains(summaryReq, "ユーザー発話:\n終了") || strings.Contains(summaryReq, "\n終了\n") {
		t.Error("end command leaked into the summarised material")
	}
	if !strings.Contains(summaryReq, "今日は孫と公園に行きました") {
		t.Error("user turn missing from summary prompt")
	}
	if strings.Contains(summaryReq, "それは楽しそうですね") {
		t.Error("assistant turn leaked into summary prompt")
	}
}

func TestCloserFallsBackWhenLLMFails(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Err: errors.New("upstream down")}
	st := &fakeStore{}
	c := NewCloser(provider, st)

	if err := c.EndSession(context.Background(), sessionEntries()); err != nil {
		t.Fatalf("EndSession should not fail on llm errors: %v", err)
	}
	if len(st.summaries) != 1 {
		t.Fatalf("summaries saved = %d, want 1", len(st.summaries))
	}
	if st.summaries[0].Text != "要約生成に失敗しました" {
		t.Errorf("summary fallback = %q", st.summaries[0].Text)
	}
	if st.summaries[0].FamilyMessage != "メッセージの生成に失敗しました。" {
		t.Errorf("family fallback = %q", st.summaries[0].FamilyMessage)
	}
	if len(st.transcripts) != 1 {
		t.Error("transcript must still be written after llm failure")
	}
}

func TestCloserEmptySession(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Replies: []string{"unused"}}
	st := &fakeStore{}
	c := NewCloser(provider, st)

	if err := c.EndSession(context.Background(), nil); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if provider.Calls() != 0 || len(st.summaries) != 0 {
		t.Error("empty session must not summarise or persist")
	}
}

func TestCloserOnlySystemTurns(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Replies: []string{"unused"}}
	st := &fakeStore{}
	c := NewCloser(provider, st)

	entries := []dialogue.Utterance{
		{Speaker: dialogue.SpeakerSystem, Text: "こんにちは！", Timestamp: time.Now()},
	}
	if err := c.EndSession(context.Background(), entries); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if provider.Calls() != 0 {
		t.Error("no user turns means no llm calls")
	}
	if len(st.summaries) != 1 {
		t.Fatal("placeholder summary must still be saved")
	}
	if st.summaries[0].Text != "まだ十分な会話がありません。" {
		t.Errorf("placeholder = %q", st.summaries[0].Text)
	}
}

func TestCloserSummarySaveError(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Replies: []string{"要約です。"}}
	st := &fakeStore{summaryErr: errors.New("disk full")}
	c := NewCloser(provider, st)

	if err := c.EndSession(context.Background(), sessionEntries()); err == nil {
		t.Fatal("expected persistence error")
	}
}
