package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// newTestBreaker returns a breaker with a manual clock.
func newTestBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(BreakerConfig{Name: "test", MaxFailures: 3})

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}

	b.Do(func() error { return errBackend })
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Error("fn called while breaker open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 3})

	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })
	b.Do(func() error { return nil })
	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })

	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed (success reset the count)", got)
	}
}

func TestBreakerHalfOpenCloses(t *testing.T) {
	t.Parallel()

	b, now := newTestBreaker(BreakerConfig{MaxFailures: 1, CoolDown: 10 * time.Second, ProbeBudget: 2})

	b.Do(func() error { return errBackend })
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	*now = now.Add(11 * time.Second)
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state after cool-down = %v, want half-open", got)
	}

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("state after successful probes = %v, want closed", got)
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	t.Parallel()

	b, now := newTestBreaker(BreakerConfig{MaxFailures: 1, CoolDown: 10 * time.Second, ProbeBudget: 2})

	b.Do(func() error { return errBackend })
	*now = now.Add(11 * time.Second)

	if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != BreakerOpen {
		t.Errorf("state after failed probe = %v, want open", got)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerProbeBudgetExhausted(t *testing.T) {
	t.Parallel()

	b, now := newTestBreaker(BreakerConfig{MaxFailures: 1, CoolDown: 10 * time.Second, ProbeBudget: 1})

	b.Do(func() error { return errBackend })
	*now = now.Add(11 * time.Second)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed after a full probe budget of successes", got)
	}
}
