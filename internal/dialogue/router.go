package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/akiyumeyou/oshaberi/internal/observe"
	"github.com/akiyumeyou/oshaberi/pkg/provider/llm"
)

// apologyPhrase is spoken when response generation fails. The turn continues.
const apologyPhrase = "すみません、もう一度お願いします。"

// chatSystemPrompt frames every LLM conversation.
const chatSystemPrompt = "あなたは高齢者と会話する優しい人です。やさしい日本語で短く返してください。"

// roleLabelPrefixes are artifacts some models echo at the start of a reply.
var roleLabelPrefixes = []string{"AI:", "アシスタント:", "Assistant:", "assistant:", "ＡＩ："}

// TopicPicker supplies topic suggestions. Implemented by topics.Stock.
type TopicPicker interface {
	Pick() string
}

// Router assigns an intent to each finalized utterance and produces the
// response text for it. Classification never fails; generation failures are
// absorbed into a fixed apology phrase.
type Router struct {
	llm     llm.Provider
	topics  TopicPicker
	history *History
	metrics *observe.Metrics
	clock   Clock
	log     *slog.Logger

	// lastAffirmation is the canned short reply used most recently, kept to
	// avoid repeating it back to back.
	lastAffirmation string

	// maxTokens caps LLM completions. Replies to the elderly must be short.
	maxTokens   int
	temperature float64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterMetrics installs metric instruments.
func WithRouterMetrics(m *observe.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a Router over the given collaborators.
func NewRouter(provider llm.Provider, topics TopicPicker, history *History, opts ...RouterOption) *Router {
	r := &Router{
		llm:         provider,
		topics:      topics,
		history:     history,
		clock:       systemClock{},
		log:         slog.Default(),
		maxTokens:   100,
		temperature: 0.7,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Respond classifies text and returns the response for it along with the
// intent that was assigned. It never returns an empty response.
func (r *Router) Respond(ctx context.Context, text string) (string, Intent) {
	intent, _ := Classify(text)

	var reply string
	switch intent {
	case IntentRequestTopic:
		reply = r.topics.Pick()

	case IntentQuestion:
		reply = r.complete(ctx, fmt.Sprintf(
			"ユーザーからの質問に、やさしい日本語で50文字以内、2文以内で短く丁寧に答えてください。\n質問: %s", text))

	case IntentEmotion:
		// Canned empathy, no LLM round trip. An emotional utterance is the
		// most latency-sensitive case.
		reply = selectAizuchi(text)

	case IntentShort:
		reply = r.respondShort()

	default:
		reply = r.complete(ctx, fmt.Sprintf(
			"高齢者と会話しています。やさしい日本語で、共感しながら50文字以内、2文以内で短く返してください。\nユーザー: %s\n", text))
	}

	r.log.Debug("routed utterance", "intent", string(intent), "reply", reply)
	return reply, intent
}

// respondShort handles a short utterance. If the previous system turn was
// itself a bare backchannel the reply escalates to a topic suggestion so the
// conversation does not collapse into an acknowledgement loop. Otherwise a
// canned affirmation is returned, never the same one twice in a row.
func (r *Router) respondShort() string {
	if last, ok := r.history.LastSystem(); ok && IsBackchannel(last.Text) {
		return r.topics.Pick()
	}

	candidates := make([]string, 0, len(shortAffirmations))
	for _, a := range shortAffirmations {
		if a != r.lastAffirmation {
			candidates = append(candidates, a)
		}
	}
	pick := candidates[rand.IntN(len(candidates))]
	r.lastAffirmation = pick
	return pick
}

// complete runs one LLM completion over the recent history and returns the
// cleaned reply, or the apology phrase on any failure.
func (r *Router) complete(ctx context.Context, prompt string) string {
	req := llm.CompletionRequest{
		SystemPrompt: chatSystemPrompt,
		Messages:     r.contextMessages(),
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
	}
	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	start := r.clock.Now()
	resp, err := r.llm.Complete(ctx, req)
	if r.metrics != nil {
		r.metrics.LLMDuration.Record(ctx, r.clock.Now().Sub(start).Seconds())
	}
	if err != nil {
		r.log.Warn("response generation failed", "error", err)
		return apologyPhrase
	}
	reply := stripRoleLabel(strings.TrimSpace(resp.Content))
	if reply == "" {
		return apologyPhrase
	}
	return reply
}

// contextMessages converts the recent turn history into chat messages.
// The current user utterance is carried inside the strategy prompt, so the
// most recent history entry (that same utterance) is excluded.
func (r *Router) contextMessages() []llm.Message {
	entries := r.history.Entries()
	if n := len(entries); n > 0 && entries[n-1].Speaker == SpeakerUser {
		entries = entries[:n-1]
	}
	const contextWindow = 10
	if len(entries) > contextWindow {
		entries = entries[len(entries)-contextWindow:]
	}

	msgs := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		role := llm.RoleUser
		if e.Speaker == SpeakerSystem {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Text})
	}
	return msgs
}

// stripRoleLabel removes a leading role-label artifact the model may echo.
func stripRoleLabel(reply string) string {
	for _, prefix := range roleLabelPrefixes {
		if strings.HasPrefix(reply, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(reply, prefix))
		}
	}
	return reply
}
