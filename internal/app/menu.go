package app

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Command is one recognised voice-menu choice.
type Command int

const (
	CommandUnknown Command = iota
	CommandChat
	CommandQuiz
	CommandDashboard
	CommandExit
)

func (c Command) String() string {
	switch c {
	case CommandChat:
		return "chat"
	case CommandQuiz:
		return "quiz"
	case CommandDashboard:
		return "dashboard"
	case CommandExit:
		return "exit"
	default:
		return "unknown"
	}
}

// fuzzyThreshold is the Jaro-Winkler score above which a whole utterance
// counts as a keyword. Recognisers mangle short Japanese commands often
// enough that exact substring matching alone loses turns.
const fuzzyThreshold = 0.85

// commandKeywords maps menu keywords to commands. Substring hits win; order
// matters only for utterances containing several keywords, where the first
// listed command wins.
var commandKeywords = []struct {
	word string
	cmd  Command
}{
	{"おしゃべり", CommandChat},
	{"お喋り", CommandChat},
	{"会話", CommandChat},
	{"脳トレ", CommandQuiz},
	{"ゲーム", CommandQuiz},
	{"計算", CommandQuiz},
	{"ポッツ", CommandDashboard},
	{"接続", CommandDashboard},
	{"終了", CommandExit},
	{"さようなら", CommandExit},
	{"さよなら", CommandExit},
}

// MatchCommand maps a spoken utterance to a menu command. Exact substring
// containment is tried first, then a fuzzy pass over the whole utterance.
func MatchCommand(text string) Command {
	text = strings.TrimSpace(text)
	if text == "" {
		return CommandUnknown
	}

	for _, k := range commandKeywords {
		if strings.Contains(text, k.word) {
			return k.cmd
		}
	}
	for _, k := range commandKeywords {
		if matchr.JaroWinkler(text, k.word, false) >= fuzzyThreshold {
			return k.cmd
		}
	}
	return CommandUnknown
}
