// Package speech owns the speech-output side of the assistant: the playback
// arbiter that serialises everything the system says, and the deterministic
// text normalization applied before synthesis.
package speech

import (
	"strings"
	"unicode/utf8"
)

// pronunciationRules rewrite readings the synthesiser gets wrong. Applied in
// order; the order is load-bearing because later rules may introduce
// characters earlier rules would have rewritten.
var pronunciationRules = [...]struct {
	from, to string
}{
	{"は", "わ"},
	{"初めましょう", "はじめましょう"},
}

// pauseMarks get a trailing space so the synthesiser takes a short breath at
// punctuation boundaries.
var pauseMarks = [...]string{"。", "、", "！", "？"}

// splitThresholdRunes is the length above which text is split into separately
// played segments.
const splitThresholdRunes = 60

// Normalize applies the pronunciation rewrites and pause insertion.
// It is a pure function of its input.
func Normalize(text string) string {
	for _, r := range pronunciationRules {
		text = strings.ReplaceAll(text, r.from, r.to)
	}
	for _, m := range pauseMarks {
		text = strings.ReplaceAll(text, m, m+" ")
	}
	return text
}

// SplitLongText breaks text above the split threshold into sentence-bounded
// segments, each at most the threshold where sentence lengths allow. Short
// text comes back as a single segment.
func SplitLongText(text string) []string {
	if utf8.RuneCountInString(text) <= splitThresholdRunes {
		return []string{text}
	}

	sentences := splitSentences(text)
	var segments []string
	var current strings.Builder
	currentRunes := 0
	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		if currentRunes > 0 && currentRunes+n > splitThresholdRunes {
			segments = append(segments, current.String())
			current.Reset()
			currentRunes = 0
		}
		current.WriteString(s)
		currentRunes += n
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

// splitSentences cuts text after each sentence-ending mark, keeping the mark.
func splitSentences(text string) []string {
	var out []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		switch r {
		case '。', '！', '？':
			out = append(out, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
