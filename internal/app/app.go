// Package app runs the top-level voice menu: it greets the user, listens for
// a menu command, and dispatches into the chat loop, the quiz, or the family
// dashboard until the user says goodbye.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/akiyumeyou/oshaberi/internal/observe"
)

const (
	menuGreeting  = "もしもし。今の私は、おしゃべり、脳トレゲーム、ポッツ接続ができます。選んでください"
	menuReturn    = "メニューに戻りました。次は何をしますか？"
	menuNotHeard  = "すみません、聞き取れませんでした。もう一度お願いします。"
	chatStarting  = "おしゃべりを始めます"
	quizStarting  = "脳トレゲームを始めます"
	dashboardDone = "ポッツに接続しました。メニューから選んでください"
	dashboardOff  = "ポッツ接続は現在利用できません。"
	menuGoodbye   = "プログラムを終了します。"
)

// Speaker voices menu prompts, blocking until playback finishes.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Listener captures one spoken menu command. An empty string means nothing
// usable was heard.
type Listener interface {
	Listen(ctx context.Context) (string, error)
}

// Activity is one dispatchable mode, such as the chat loop or the quiz.
// It runs until the user ends it and then returns control to the menu.
type Activity func(ctx context.Context) error

// App is the voice-menu front end.
type App struct {
	speaker  Speaker
	listener Listener
	chat     Activity
	quiz     Activity

	dashboardURL string
	openURL      func(url string) error

	log     *slog.Logger
	metrics *observe.Metrics
}

// Option configures an App.
type Option func(*App)

// WithDashboard enables the dashboard menu entry, opening url on selection.
func WithDashboard(url string) Option {
	return func(a *App) { a.dashboardURL = url }
}

// WithOpenURL replaces the browser launcher.
func WithOpenURL(fn func(url string) error) Option {
	return func(a *App) { a.openURL = fn }
}

// WithMetrics tracks active sessions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New wires the menu over its collaborators.
func New(speaker Speaker, listener Listener, chat, quiz Activity, opts ...Option) *App {
	a := &App{
		speaker:  speaker,
		listener: listener,
		chat:     chat,
		quiz:     quiz,
		openURL:  openBrowser,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run greets the user and serves menu commands until the user says goodbye
// or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.speaker.Speak(ctx, menuGreeting); err != nil {
		return fmt.Errorf("app: greeting: %w", err)
	}
	if a.metrics != nil {
		a.metrics.ActiveSessions.Add(ctx, 1)
		defer a.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		heard, err := a.listener.Listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Warn("menu capture failed", "error", err)
			a.speaker.Speak(ctx, menuNotHeard)
			continue
		}
		if heard == "" {
			continue
		}

		cmd := MatchCommand(heard)
		a.log.Info("menu command", "heard", heard, "command", cmd.String())

		switch cmd {
		case CommandChat:
			if err := a.runActivity(ctx, chatStarting, a.chat); err != nil {
				return err
			}

		case CommandQuiz:
			if err := a.runActivity(ctx, quizStarting, a.quiz); err != nil {
				return err
			}

		case CommandDashboard:
			a.connectDashboard(ctx)

		case CommandExit:
			a.speaker.Speak(context.WithoutCancel(ctx), menuGoodbye)
			return nil

		default:
			// Unrecognised chatter at the menu level is ignored; the
			// greeting already listed the options.
		}
	}
}

// runActivity announces and runs one mode, then returns to the menu.
// Activity errors are logged, not fatal; only cancellation propagates.
func (a *App) runActivity(ctx context.Context, announcement string, act Activity) error {
	if act == nil {
		return nil
	}
	if err := a.speaker.Speak(ctx, announcement); err != nil {
		return fmt.Errorf("app: announce: %w", err)
	}
	if err := act(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Error("activity failed", "error", err)
	}
	return a.speaker.Speak(ctx, menuReturn)
}

func (a *App) connectDashboard(ctx context.Context) {
	if a.dashboardURL == "" {
		a.speaker.Speak(ctx, dashboardOff)
		return
	}
	if err := a.openURL(a.dashboardURL); err != nil {
		a.log.Error("dashboard launch failed", "url", a.dashboardURL, "error", err)
		return
	}
	a.speaker.Speak(ctx, dashboardDone)
}

// openBrowser launches the default browser on url.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("app: open browser: %w", err)
	}
	// The browser process outlives us; releasing avoids a zombie.
	go cmd.Wait()
	return nil
}
