package topics

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// memPersister records every persisted snapshot.
type memPersister struct {
	mu    sync.Mutex
	saves [][]string
}

func (p *memPersister) SaveTopics(_ context.Context, topics []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := make([]string, len(topics))
	copy(snapshot, topics)
	p.saves = append(p.saves, snapshot)
	return nil
}

func TestStockCapEvictsOldest(t *testing.T) {
	t.Parallel()

	s := New(100, nil)
	for i := 0; i < 150; i++ {
		s.Record(fmt.Sprintf("昔住んでいた町の話その%d番目", i))
	}

	if got := s.Len(); got != 100 {
		t.Fatalf("len = %d, want 100", got)
	}
	topics := s.Topics()
	if topics[0] != "昔住んでいた町の話その50番目" {
		t.Errorf("oldest surviving topic = %q, want the 51st insert", topics[0])
	}
	if topics[99] != "昔住んでいた町の話その149番目" {
		t.Errorf("newest topic = %q", topics[99])
	}
}

func TestStockFilter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"accepted", "孫と動物園に行ってきました", true},
		{"too short", "散歩した", false},
		{"question full-width", "明日は晴れますか？", false},
		{"question half-width", "where is it?", false},
		{"solely acknowledgements", "うん はい なるほど", false},
		{"ack word inside real topic", "はい、昨日は畑仕事をしました", true},
		{"whitespace only", "   ", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := New(100, nil)
			s.Record(tc.text)
			if got := s.Len() == 1; got != tc.want {
				t.Errorf("Record(%q) accepted = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestStockDeduplicates(t *testing.T) {
	t.Parallel()

	s := New(100, nil)
	s.Record("昨日は畑で野菜を育てました")
	s.Record("昨日は畑で野菜を育てました")
	if got := s.Len(); got != 1 {
		t.Errorf("len = %d, want 1", got)
	}
}

func TestStockPickDefaultWhenEmpty(t *testing.T) {
	t.Parallel()

	s := New(100, nil)
	if got := s.Pick(); got != DefaultPrompt {
		t.Errorf("Pick() = %q, want default prompt", got)
	}
}

func TestStockPickFromStock(t *testing.T) {
	t.Parallel()

	s := New(100, []string{"天気はどうですか", "お気に入りの食べ物の話"})
	got := s.Pick()
	if got != "天気はどうですか" && got != "お気に入りの食べ物の話" {
		t.Errorf("Pick() = %q, not from stock", got)
	}
}

func TestStockPersistsPerMutation(t *testing.T) {
	t.Parallel()

	p := &memPersister{}
	s := New(100, nil, WithPersister(p))

	s.Record("今日は公園まで散歩しました")
	s.Record("うん")      // rejected, no persist
	s.Record("今日は公園まで散歩しました") // duplicate, no persist
	s.Record("孫が遊びに来てくれました")

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.saves) != 2 {
		t.Fatalf("persist calls = %d, want 2", len(p.saves))
	}
	last := p.saves[1]
	if len(last) != 2 || last[1] != "孫が遊びに来てくれました" {
		t.Errorf("last snapshot = %v", last)
	}
}

func TestStockSeedRespectsCapAndDuplicates(t *testing.T) {
	t.Parallel()

	s := New(2, []string{"一つ目の思い出話", "一つ目の思い出話", "二つ目の思い出話", "三つ目の思い出話"})
	if got := s.Len(); got != 2 {
		t.Errorf("len = %d, want 2", got)
	}
}
