package dialogue

import (
	"math/rand/v2"
	"strings"
)

// Emotion is a sub-kind of the emotion intent.
type Emotion string

const (
	EmotionHappy    Emotion = "happy"
	EmotionSad      Emotion = "sad"
	EmotionInterest Emotion = "interest"
)

// emotionOrder fixes the scan order for keyword detection. The first emotion
// whose keyword matches wins, so the order is part of the contract.
var emotionOrder = []Emotion{EmotionHappy, EmotionSad, EmotionInterest}

// emotionKeywords maps each emotion to the substrings that trigger it.
var emotionKeywords = map[Emotion][]string{
	EmotionHappy:    {"楽しい", "嬉しい", "よかった", "面白い", "笑った", "幸せ", "うれしい", "楽しかった"},
	EmotionSad:      {"疲れた", "辛い", "寂しい", "悲しい", "痛い", "大変", "つらい", "しんどい"},
	EmotionInterest: {"面白い", "興味", "気になる", "好き", "楽しい", "おもしろい", "すごい"},
}

// emotionResponses holds the canned empathetic phrases per emotion.
var emotionResponses = map[Emotion][]string{
	EmotionHappy: {
		"それは良かったですね。",
		"嬉しい気持ちが伝わってきます。",
		"楽しい時間でしたね。",
		"素晴らしいですね。",
		"おめでとうございます。",
		"それは嬉しいですね。",
	},
	EmotionSad: {
		"それは大変でしたね…",
		"無理しないでくださいね。",
		"辛かったですね。",
		"お疲れ様でした。",
		"ゆっくり休んでくださいね。",
		"大丈夫ですか？",
	},
	EmotionInterest: {
		"それは面白そうですね。",
		"興味深いですね。",
		"詳しく聞かせてください。",
		"それは気になりますね。",
		"もっと教えてください。",
	},
}

// defaultResponses are the generic backchannels used when no emotion matched.
var defaultResponses = []string{
	"そうなんですね。",
	"うんうん。",
	"なるほど。",
	"はいはい。",
	"ふむふむ。",
	"そうですか。",
	"あ、そうなんですね。",
	"へえ、そうなんですか。",
	"そうですね。",
	"なるほど、そうなんですね。",
}

// shortAffirmations are the bare replies to short utterances.
var shortAffirmations = []string{"はい", "ええ", "そうですね"}

// detectEmotion scans the utterance for emotion keywords in the fixed order.
func detectEmotion(text string) (Emotion, bool) {
	for _, em := range emotionOrder {
		for _, kw := range emotionKeywords[em] {
			if strings.Contains(text, kw) {
				return em, true
			}
		}
	}
	return "", false
}

// selectAizuchi picks a canned backchannel matching the utterance's emotional
// tone, falling back to a generic acknowledgement.
func selectAizuchi(text string) string {
	if em, ok := detectEmotion(text); ok {
		table := emotionResponses[em]
		return table[rand.IntN(len(table))]
	}
	return defaultResponses[rand.IntN(len(defaultResponses))]
}

// IsBackchannel reports whether text is one of the canned backchannels or
// short affirmations. The router uses it to detect acknowledgement loops.
// Matching is by equality after stripping trailing punctuation, so a
// substantive reply that merely opens with はい does not count.
func IsBackchannel(text string) bool {
	stripped := trimTrailingPunct(strings.TrimSpace(text))
	for _, w := range shortAffirmations {
		if stripped == trimTrailingPunct(w) {
			return true
		}
	}
	for _, w := range defaultResponses {
		if stripped == trimTrailingPunct(w) {
			return true
		}
	}
	return false
}

// trimTrailingPunct strips sentence-final punctuation, ASCII and full-width.
func trimTrailingPunct(s string) string {
	return strings.TrimRight(s, "。、！？!?.,　 ")
}
