package dialogue

import (
	"strings"
	"unicode/utf8"
)

// Intent is the coarse category assigned to a finalized utterance. It selects
// the response strategy; it is computed per turn and never persisted.
type Intent string

const (
	IntentEmotion      Intent = "emotion"
	IntentQuestion     Intent = "question"
	IntentRequestTopic Intent = "request_topic"
	IntentShort        Intent = "short"
	IntentChat         Intent = "chat"
)

// topicRequestWords trigger a topic suggestion.
var topicRequestWords = []string{"話題", "何か話", "面白い話", "提案", "おすすめ", "困った", "沈黙"}

// shortUtteranceMaxRunes is the inclusive rune limit for the short intent.
const shortUtteranceMaxRunes = 2

// Classify assigns one Intent to the utterance. First match wins; the order
// is a designed priority. Emotion outranks question so that "楽しかった？"
// gets an empathetic reply rather than an LLM answer. Classification never
// fails: the chat fallback guarantees termination.
func Classify(text string) (Intent, Emotion) {
	if em, ok := detectEmotion(text); ok {
		return IntentEmotion, em
	}
	if strings.HasSuffix(text, "？") || strings.HasSuffix(text, "?") ||
		strings.Contains(text, "とは") || strings.Contains(text, "教えて") {
		return IntentQuestion, ""
	}
	for _, w := range topicRequestWords {
		if strings.Contains(text, w) {
			return IntentRequestTopic, ""
		}
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) <= shortUtteranceMaxRunes {
		return IntentShort, ""
	}
	return IntentChat, ""
}
