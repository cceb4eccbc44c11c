// Package quiz implements the spoken arithmetic game: single-digit addition,
// subtraction, and multiplication questions asked aloud, answered by voice.
package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/akiyumeyou/oshaberi/internal/observe"
	"github.com/akiyumeyou/oshaberi/internal/store"
)

// GameType labels persisted results.
const GameType = "計算ゲーム"

const (
	introPhrase    = "脳トレゲームを始めます。計算問題を出しますので、答えを言ってください。"
	howToEndPhrase = "ゲームを終了するには、「終了」と言ってください。"
	correctPhrase  = "正解です！"
	retryPhrase    = "すみません、聞き取れませんでした。もう一度お願いします。"
	notANumber     = "数字で答えてください。"
	closingPhrase  = "お疲れ様でした。"

	endCommand = "終了"
)

// Speaker voices game prompts. Calls block until playback finishes so the
// next question never talks over the previous answer.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Listener captures one spoken answer. An empty string means nothing usable
// was heard.
type Listener interface {
	Listen(ctx context.Context) (string, error)
}

// Question is one arithmetic problem.
type Question struct {
	Text   string
	Answer int
}

// Game runs quiz rounds against a Speaker and Listener pair.
type Game struct {
	speaker  Speaker
	listener Listener
	store    store.Store
	metrics  *observe.Metrics
	log      *slog.Logger
	intn     func(n int) int
	now      func() time.Time
}

// Option configures a Game.
type Option func(*Game)

// WithStore persists finished rounds to st.
func WithStore(st store.Store) Option {
	return func(g *Game) { g.store = st }
}

// WithMetrics records per-answer outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Game) { g.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Game) { g.log = l }
}

// NewGame wires a Game over its collaborators.
func NewGame(speaker Speaker, listener Listener, opts ...Option) *Game {
	g := &Game{
		speaker:  speaker,
		listener: listener,
		log:      slog.Default(),
		intn:     rand.IntN,
		now:      time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Run plays questions until the player says the end command or ctx is
// cancelled. The final score is spoken and, when a store is configured,
// persisted.
func (g *Game) Run(ctx context.Context) error {
	if err := g.speaker.Speak(ctx, introPhrase); err != nil {
		return fmt.Errorf("quiz: intro: %w", err)
	}
	if err := g.speaker.Speak(ctx, howToEndPhrase); err != nil {
		return fmt.Errorf("quiz: intro: %w", err)
	}

	start := g.now()
	score, total := 0, 0

	for ctx.Err() == nil {
		q := g.nextQuestion()
		if err := g.speaker.Speak(ctx, q.Text); err != nil {
			return fmt.Errorf("quiz: ask: %w", err)
		}

		heard, err := g.listener.Listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			g.log.Warn("answer capture failed", "error", err)
			g.speaker.Speak(ctx, retryPhrase)
			continue
		}
		heard = strings.TrimSpace(heard)
		if heard == "" {
			g.speaker.Speak(ctx, retryPhrase)
			continue
		}
		if strings.Contains(heard, endCommand) {
			break
		}

		answer, ok := ParseAnswer(heard)
		if !ok {
			if err := g.speaker.Speak(ctx, notANumber); err != nil {
				return fmt.Errorf("quiz: reply: %w", err)
			}
			continue
		}

		total++
		correct := answer == q.Answer
		if correct {
			score++
			err = g.speaker.Speak(ctx, correctPhrase)
		} else {
			err = g.speaker.Speak(ctx, fmt.Sprintf("残念、正解は%dでした。", q.Answer))
		}
		if err != nil {
			return fmt.Errorf("quiz: reply: %w", err)
		}
		if g.metrics != nil {
			g.metrics.RecordQuizAnswer(ctx, correct)
		}
		if err := g.speaker.Speak(ctx, fmt.Sprintf("現在のスコアは%d問正解、%d問中です。", score, total)); err != nil {
			return fmt.Errorf("quiz: reply: %w", err)
		}
	}

	final := fmt.Sprintf("ゲーム終了です。%d問中%d問正解でした。", total, score)
	g.speaker.Speak(context.WithoutCancel(ctx), final)
	g.speaker.Speak(context.WithoutCancel(ctx), closingPhrase)

	if g.store != nil && total > 0 {
		result := store.QuizResult{
			Timestamp:      start,
			GameType:       GameType,
			Score:          score,
			TotalQuestions: total,
			Duration:       g.now().Sub(start),
		}
		if err := g.store.SaveQuizResult(context.WithoutCancel(ctx), result); err != nil {
			g.log.Error("quiz result not saved", "error", err)
		}
	}
	return ctx.Err()
}

// nextQuestion builds a random single-digit problem. Subtraction operands
// are swapped when needed so the answer is never negative.
func (g *Game) nextQuestion() Question {
	a := g.intn(9) + 1
	b := g.intn(9) + 1
	switch g.intn(3) {
	case 0:
		return Question{Text: fmt.Sprintf("%dたす%dは？", a, b), Answer: a + b}
	case 1:
		if a < b {
			a, b = b, a
		}
		return Question{Text: fmt.Sprintf("%dひく%dは？", a, b), Answer: a - b}
	default:
		return Question{Text: fmt.Sprintf("%dかける%dは？", a, b), Answer: a * b}
	}
}

// kanjiDigits maps single kanji numerals.
var kanjiDigits = map[rune]int{
	'〇': 0, '零': 0,
	'一': 1, '二': 2, '三': 3, '四': 4, '五': 5,
	'六': 6, '七': 7, '八': 8, '九': 9,
}

// ParseAnswer extracts a number from a spoken answer. Recognisers return a
// mix of ASCII digits, full-width digits, and kanji numerals; all three are
// accepted for values up to 99. Trailing copulas like です are ignored.
func ParseAnswer(text string) (int, bool) {
	s := strings.TrimSpace(text)
	for _, suffix := range []string{"。", "です", "だと思います", "かな"} {
		s = strings.TrimSuffix(s, suffix)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	// Full-width digits fold to ASCII.
	s = strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return '0' + (r - '０')
		}
		return r
	}, s)

	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 99 {
			return 0, false
		}
		return n, true
	}
	return parseKanjiNumber(s)
}

// parseKanjiNumber reads kanji numerals of the forms 五, 十, 十五, 二十,
// 二十三. Anything else is rejected.
func parseKanjiNumber(s string) (int, bool) {
	runes := []rune(s)
	switch len(runes) {
	case 1:
		if runes[0] == '十' {
			return 10, true
		}
		n, ok := kanjiDigits[runes[0]]
		return n, ok
	case 2:
		if runes[0] == '十' {
			// 十五
			n, ok := kanjiDigits[runes[1]]
			if !ok || n == 0 {
				return 0, false
			}
			return 10 + n, true
		}
		if runes[1] == '十' {
			// 二十
			n, ok := kanjiDigits[runes[0]]
			if !ok || n == 0 {
				return 0, false
			}
			return n * 10, true
		}
		return 0, false
	case 3:
		// 二十三
		if runes[1] != '十' {
			return 0, false
		}
		tens, ok := kanjiDigits[runes[0]]
		if !ok || tens == 0 {
			return 0, false
		}
		units, ok := kanjiDigits[runes[2]]
		if !ok || units == 0 {
			return 0, false
		}
		return tens*10 + units, true
	default:
		return 0, false
	}
}
