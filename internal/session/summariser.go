// Package session wraps up a finished conversation: it summarises the user's
// turns, writes a short note for the family dashboard, and persists both
// together with the full transcript.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akiyumeyou/oshaberi/internal/dialogue"
	"github.com/akiyumeyou/oshaberi/internal/store"
	"github.com/akiyumeyou/oshaberi/pkg/provider/llm"
)

const (
	summaryPrompt = `会話の中で伝えたかったことを150文字以内で要約してください。
感情や重要なポイントをピックアップしてください。
AIの応答内容は無視してください。
ほっこりするメッセージにしてください。
最後の終了コマンドは無視してください。
ユーザー発話:
%s`

	familyPrompt = `以下の会話内容から、家族向けにメッセージを60文字以内で作成してください。
１、感情表現や家族へのメッセージがあれば優先的に含める。
２、日本語で、温かみのある表現。
３、どんな会話をしていたのかを明確にする。

会話内容:
%s`

	// endCommand is stripped from the summarised material so the summary
	// never mentions how the session ended.
	endCommand = "終了"
)

// Closer performs end-of-session work. Safe to call at most once per session.
type Closer struct {
	llm   llm.Provider
	store store.Store
	log   *slog.Logger
	now   func() time.Time

	maxTokens   int
	temperature float64
}

var _ dialogue.SessionEnder = (*Closer)(nil)

// Option configures a Closer.
type Option func(*Closer)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Closer) { c.log = l }
}

// NewCloser returns a Closer generating summaries through provider and
// persisting through st.
func NewCloser(provider llm.Provider, st store.Store, opts ...Option) *Closer {
	c := &Closer{
		llm:         provider,
		store:       st,
		log:         slog.Default(),
		now:         time.Now,
		maxTokens:   200,
		temperature: 0.7,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// EndSession summarises the session and persists the transcript, the summary,
// and the family message. The summary and the family message are generated
// concurrently; a failure of either falls back to a fixed phrase so the
// transcript is still written.
func (c *Closer) EndSession(ctx context.Context, entries []dialogue.Utterance) error {
	if len(entries) == 0 {
		return nil
	}

	userText := userUtterances(entries)
	var summary, family string
	if userText == "" {
		summary = "まだ十分な会話がありません。"
		family = "今日は会話がありませんでした。"
	} else {
		summary, family = c.generate(ctx, userText, conversationText(entries))
	}

	sum := store.Summary{Timestamp: c.now(), Text: summary, FamilyMessage: family}
	if err := c.store.SaveSummary(ctx, sum); err != nil {
		return fmt.Errorf("session: save summary: %w", err)
	}
	if err := c.store.SaveTranscript(ctx, toEntries(entries)); err != nil {
		return fmt.Errorf("session: save transcript: %w", err)
	}
	c.log.Info("session closed", "turns", len(entries), "summary_len", len([]rune(summary)))
	return nil
}

// generate runs both completions concurrently. Each failure degrades to a
// fixed phrase rather than aborting the wrap-up.
func (c *Closer) generate(ctx context.Context, userText, fullText string) (summary, family string) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, err := c.complete(gctx, fmt.Sprintf(summaryPrompt, userText))
		if err != nil {
			c.log.Warn("summary generation failed", "error", err)
			s = "要約生成に失敗しました"
		}
		summary = s
		return nil
	})
	g.Go(func() error {
		f, err := c.complete(gctx, fmt.Sprintf(familyPrompt, fullText))
		if err != nil {
			c.log.Warn("family message generation failed", "error", err)
			f = "メッセージの生成に失敗しました。"
		}
		family = f
		return nil
	})
	g.Wait()
	return summary, family
}

func (c *Closer) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// userUtterances joins the user turns, dropping the end command.
func userUtterances(entries []dialogue.Utterance) string {
	var lines []string
	for _, e := range entries {
		if e.Speaker != dialogue.SpeakerUser {
			continue
		}
		if strings.Contains(e.Text, endCommand) {
			continue
		}
		lines = append(lines, e.Text)
	}
	return strings.Join(lines, "\n")
}

// conversationText renders the full exchange, both speakers, for the family
// message which needs to say what the conversation was about.
func conversationText(entries []dialogue.Utterance) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(string(e.Speaker))
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func toEntries(entries []dialogue.Utterance) []store.Entry {
	out := make([]store.Entry, len(entries))
	for i, e := range entries {
		out[i] = store.Entry{Timestamp: e.Timestamp, Speaker: string(e.Speaker), Text: e.Text}
	}
	return out
}
