// Command oshaberi is the spoken-dialogue companion for elderly users: a
// voice menu dispatching into free chat, an arithmetic quiz, and the family
// dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akiyumeyou/oshaberi/internal/app"
	"github.com/akiyumeyou/oshaberi/internal/config"
	"github.com/akiyumeyou/oshaberi/internal/dialogue"
	"github.com/akiyumeyou/oshaberi/internal/observe"
	"github.com/akiyumeyou/oshaberi/internal/quiz"
	"github.com/akiyumeyou/oshaberi/internal/resilience"
	"github.com/akiyumeyou/oshaberi/internal/session"
	"github.com/akiyumeyou/oshaberi/internal/speech"
	"github.com/akiyumeyou/oshaberi/internal/store"
	"github.com/akiyumeyou/oshaberi/internal/topics"
	"github.com/akiyumeyou/oshaberi/pkg/audio/mic"
	"github.com/akiyumeyou/oshaberi/pkg/provider/llm"
	"github.com/akiyumeyou/oshaberi/pkg/provider/llm/anyllm"
	oaillm "github.com/akiyumeyou/oshaberi/pkg/provider/llm/openai"
	"github.com/akiyumeyou/oshaberi/pkg/provider/stt"
	"github.com/akiyumeyou/oshaberi/pkg/provider/stt/vosk"
	"github.com/akiyumeyou/oshaberi/pkg/provider/tts"
	"github.com/akiyumeyou/oshaberi/pkg/provider/tts/openjtalk"
	"github.com/akiyumeyou/oshaberi/pkg/provider/tts/say"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// API keys usually live in a .env beside the binary; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "oshaberi: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "oshaberi: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("oshaberi starting",
		"config", *configPath,
		"llm", cfg.Providers.LLM.Name,
		"stt", cfg.Providers.STT.Name,
		"tts", cfg.Providers.TTS.Name,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "oshaberi"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("metrics listener started", "addr", cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics listener failed", "err", err)
			}
		}()
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProv, err := buildLLM(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	sttProv, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	ttsProv, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	st, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer func() {
		clCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(clCtx); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()

	seed, err := st.LoadTopics(ctx)
	if err != nil {
		slog.Warn("topic stock not loaded, starting empty", "err", err)
	}
	stock := topics.New(cfg.Topics.MaxSize, seed,
		topics.WithPersister(st),
		topics.WithMetrics(metrics),
	)

	closer := session.NewCloser(llmProv, st)

	// ── Assemble and run ──────────────────────────────────────────────────────
	profile := tts.VoiceProfile{
		Voice: cfg.Dialogue.Voice.Name,
		Rate:  cfg.Dialogue.Voice.Rate,
	}
	segCfg := dialogue.SegmenterConfig{
		SilenceThreshold:        cfg.Dialogue.SilenceThreshold.Std(),
		MinSpeechDuration:       cfg.Dialogue.MinSpeechDuration.Std(),
		MaxWait:                 cfg.Dialogue.MaxWait.Std(),
		ConsecutiveSilenceLimit: cfg.Dialogue.ConsecutiveSilenceLimit,
	}
	streamCfg := stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "ja-JP"}

	// One microphone capture for the whole process; listens are sequential,
	// so sessions take turns pumping from it.
	capture, err := mic.Open(streamCfg.SampleRate, streamCfg.Channels)
	if err != nil {
		slog.Error("failed to open microphone", "err", err)
		return 1
	}
	defer func() {
		if err := capture.Close(); err != nil {
			slog.Warn("microphone close error", "err", err)
		}
	}()

	// The menu and the quiz share one arbiter with no history recorder; each
	// chat session builds its own so system turns land in its transcript.
	menuArbiter := speech.NewArbiter(ttsProv, profile, speech.WithMetrics(metrics))
	menuSpeaker := blockingSpeaker{arb: menuArbiter}
	menuListener := &captureListener{
		provider: sttProv,
		stream:   streamCfg,
		mic:      capture,
		seg: dialogue.NewSegmenter(segCfg, dialogue.NewHistory(),
			dialogue.WithSpeakingGuard(menuArbiter.Speaking),
			dialogue.WithSegmenterMetrics(metrics),
		),
	}

	chat := func(ctx context.Context) error {
		sess, err := sttProv.StartStream(ctx, streamCfg)
		if err != nil {
			return fmt.Errorf("start recognition: %w", err)
		}
		// Closing the session before waiting on the pump unblocks a pump
		// stuck forwarding into a full audio buffer.
		stopPump := pumpAudio(ctx, capture, sess)
		defer stopPump()
		defer sess.Close()

		history := dialogue.NewHistory()
		arbiter := speech.NewArbiter(ttsProv, profile,
			speech.WithRecorder(history),
			speech.WithMetrics(metrics),
			speech.WithBackchannelMaxRunes(cfg.Dialogue.BackchannelMaxRunes),
		)
		seg := dialogue.NewSegmenter(segCfg, history,
			dialogue.WithSpeakingGuard(arbiter.Speaking),
			dialogue.WithSegmenterMetrics(metrics),
		)
		router := dialogue.NewRouter(llmProv, stock, history,
			dialogue.WithRouterMetrics(metrics),
		)
		loop := dialogue.NewLoop(seg, router, arbiter, stock, history, closer,
			dialogue.WithIdlePrompt(cfg.Dialogue.IdlePrompt.Std()),
			dialogue.WithLoopMetrics(metrics),
		)
		defer arbiter.Reset()
		return loop.Run(ctx, sess)
	}

	quizGame := func(ctx context.Context) error {
		game := quiz.NewGame(menuSpeaker, menuListener,
			quiz.WithStore(st),
			quiz.WithMetrics(metrics),
		)
		return game.Run(ctx)
	}

	application := app.New(menuSpeaker, menuListener, chat, quizGame,
		app.WithDashboard(cfg.Server.DashboardURL),
		app.WithMetrics(metrics),
	)

	slog.Info("ready — say a menu command or press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	if metricsSrv != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shCtx); err != nil {
			slog.Warn("metrics listener shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai goes through the official SDK; the rest of the cloud backends
	// share the any-llm pattern of optional APIKey + optional BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}
	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterSTT("vosk", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []vosk.Option
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, vosk.WithSampleRate(rate))
		}
		return vosk.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("say", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []say.Option
		if bin := entry.Options["binary"]; bin != "" {
			opts = append(opts, say.WithBinary(bin))
		}
		return say.New(opts...), nil
	})
	reg.RegisterTTS("openjtalk", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openjtalk.Option
		if bin := entry.Options["binary"]; bin != "" {
			opts = append(opts, openjtalk.WithBinary(bin))
		}
		if player := entry.Options["player"]; player != "" {
			opts = append(opts, openjtalk.WithPlayer(player))
		}
		return openjtalk.New(entry.Options["dict_dir"], entry.Options["voice"], opts...)
	})
}

// buildLLM creates the primary LLM provider and, when a fallback is named,
// wraps both in a breaker-guarded chain.
func buildLLM(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (llm.Provider, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}
	if cfg.Providers.FallbackLLM.Name == "" {
		return primary, nil
	}

	fallback, err := reg.CreateLLM(cfg.Providers.FallbackLLM)
	if err != nil {
		return nil, fmt.Errorf("fallback llm: %w", err)
	}
	chain := resilience.NewLLMChain(cfg.Providers.LLM.Name, primary, resilience.BreakerConfig{},
		resilience.WithChainMetrics(metrics),
	)
	chain.AddFallback(cfg.Providers.FallbackLLM.Name, fallback)
	slog.Info("llm failover enabled",
		"primary", cfg.Providers.LLM.Name,
		"fallback", cfg.Providers.FallbackLLM.Name,
	)
	return chain, nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Storage.PostgresDSN != "" {
		return store.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
	}
	return store.NewFileStore(cfg.Storage.Dir)
}

// ── Adapters ──────────────────────────────────────────────────────────────────

// blockingSpeaker narrows the arbiter to the blocking Speak used by the menu
// and the quiz.
type blockingSpeaker struct {
	arb *speech.Arbiter
}

func (s blockingSpeaker) Speak(ctx context.Context, text string) error {
	return s.arb.Speak(ctx, text, true)
}

// captureListener opens a short-lived recognition session per listen so the
// menu never holds a recogniser connection across long activities.
type captureListener struct {
	provider stt.Provider
	stream   stt.StreamConfig
	mic      *mic.Capture
	seg      *dialogue.Segmenter
}

func (l *captureListener) Listen(ctx context.Context) (string, error) {
	sess, err := l.provider.StartStream(ctx, l.stream)
	if err != nil {
		return "", fmt.Errorf("start recognition: %w", err)
	}
	stopPump := pumpAudio(ctx, l.mic, sess)
	defer stopPump()
	defer sess.Close()

	outcome, err := l.seg.Capture(ctx, sess)
	if err != nil {
		return "", err
	}
	if outcome.Kind == dialogue.OutcomeText {
		return outcome.Text, nil
	}
	return "", nil
}

// pumpAudio feeds microphone frames into the recognition session in the
// background until the returned stop function is called or ctx is cancelled.
// Pump errors are expected at session teardown and logged at debug only.
func pumpAudio(ctx context.Context, capture *mic.Capture, sess stt.SessionHandle) (stop func()) {
	pumpCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := capture.Pump(pumpCtx, sess); err != nil {
			slog.Debug("microphone pump ended", "err", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func optInt(opts map[string]string, key string) int {
	var n int
	fmt.Sscanf(opts[key], "%d", &n)
	return n
}
