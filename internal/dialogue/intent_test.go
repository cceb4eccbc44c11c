package dialogue

import "testing"

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want Intent
	}{
		{"emotion happy", "今日は散歩が楽しかったです", IntentEmotion},
		{"emotion sad", "ちょっと疲れたねえ", IntentEmotion},
		{"emotion outranks question", "楽しかった？", IntentEmotion},
		{"question full-width mark", "明日の天気はどうなりますか？", IntentQuestion},
		{"question half-width mark", "これは何?", IntentQuestion},
		{"question explain marker", "認知症とはどういう病気でしょうか", IntentQuestion},
		{"question teach marker", "孫の名前の由来を教えて", IntentQuestion},
		{"topic request", "何か面白い話をしてください", IntentRequestTopic},
		{"topic request bored", "話すことがなくて困った", IntentRequestTopic},
		{"short", "うん", IntentShort},
		{"short with spaces", " ええ ", IntentShort},
		{"chat fallback", "今日は公園まで歩きました", IntentChat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, _ := Classify(tc.text)
			if got != tc.want {
				t.Errorf("Classify(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestDetectEmotion(t *testing.T) {
	t.Parallel()

	if em, ok := detectEmotion("孫が来てくれて嬉しい"); !ok || em != EmotionHappy {
		t.Errorf("got (%q, %v), want happy", em, ok)
	}
	if em, ok := detectEmotion("その話は興味があります"); !ok || em != EmotionInterest {
		t.Errorf("got (%q, %v), want interest", em, ok)
	}
	if _, ok := detectEmotion("今日は晴れでした"); ok {
		t.Error("expected no emotion")
	}
}

func TestSelectAizuchi(t *testing.T) {
	t.Parallel()

	// An emotional utterance must draw from its emotion's table.
	got := selectAizuchi("昨日は大変でした")
	found := false
	for _, phrase := range emotionResponses[EmotionSad] {
		if got == phrase {
			found = true
		}
	}
	if !found {
		t.Errorf("aizuchi %q not in sad table", got)
	}

	// A neutral utterance draws from the default table.
	got = selectAizuchi("テレビを見ていました")
	found = false
	for _, phrase := range defaultResponses {
		if got == phrase {
			found = true
		}
	}
	if !found {
		t.Errorf("aizuchi %q not in default table", got)
	}
}

func TestIsBackchannel(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"はい", "ええ", "そうですね", "なるほど。", "うんうん。", "はい。", " そうですね "} {
		if !IsBackchannel(text) {
			t.Errorf("IsBackchannel(%q) = false, want true", text)
		}
	}
	// Substantive replies that merely contain a canned phrase must not match.
	for _, text := range []string{
		"今日はどんな一日でしたか？",
		"はい、明日は晴れですよ。",
		"なるほど、お孫さんは三人いらっしゃるのですね。",
	} {
		if IsBackchannel(text) {
			t.Errorf("IsBackchannel(%q) = true, want false", text)
		}
	}
}
