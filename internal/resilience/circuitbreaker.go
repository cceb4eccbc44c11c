// Package resilience keeps the conversation alive when a cloud backend
// misbehaves. [Breaker] is a three-state circuit breaker (closed, open,
// half-open); [LLMChain] composes several chat backends behind one
// llm.Provider so a failing primary is bypassed in favour of a local or
// secondary model.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cool-down has not elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the cool-down elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults suited to a
// turn-by-turn dialogue: trip fast, probe again soon.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default 3.
	MaxFailures int

	// CoolDown is how long the breaker stays open before probing.
	// Default 20s.
	CoolDown time.Duration

	// ProbeBudget is how many half-open probes must succeed before the
	// breaker closes again. Default 2.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	probeBudget int
	log         *slog.Logger
	now         func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewBreaker returns a closed [Breaker] for cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 20 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 2
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolDown:    cfg.CoolDown,
		probeBudget: cfg.ProbeBudget,
		log:         slog.Default(),
		now:         time.Now,
	}
}

// Do runs fn if the breaker allows it. While open it returns
// [ErrBreakerOpen] without calling fn; after the cool-down a limited number
// of probes are let through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.coolDown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.probeFails = 0
		b.log.Info("breaker half-open", "name", b.name)

	case BreakerHalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	probing := b.state == BreakerHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(probing)
	} else {
		b.succeed(probing)
	}
	return err
}

// fail updates state after a failed call. Caller holds b.mu.
func (b *Breaker) fail(probing bool) {
	b.lastFailure = b.now()
	if probing {
		// One failed probe re-opens immediately.
		b.probeFails++
		b.state = BreakerOpen
		b.failures = b.maxFailures
		b.log.Warn("breaker re-opened", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = BreakerOpen
		b.log.Warn("breaker opened", "name", b.name, "failures", b.failures)
	}
}

// succeed updates state after a successful call. Caller holds b.mu.
func (b *Breaker) succeed(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = BreakerClosed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			b.log.Info("breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker state. An open breaker whose cool-down elapsed
// reports half-open; the transition itself happens on the next [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.coolDown {
		return BreakerHalfOpen
	}
	return b.state
}
