// Package backoff models retry timing as an explicit value so callers can
// persist it, hand it to a scheduler, or drive it from tests without sleeping.
package backoff

import (
	"context"
	"time"
)

// Policy describes how many attempts are allowed and how long to wait
// between them. Delays grow as Base, 2*Base, 4*Base, ... capped at Max.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultPolicy is three attempts with 1s, 2s, 4s spacing.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Base: time.Second, Max: 30 * time.Second}
}

// State is the retry position for one operation.
type State struct {
	Attempt      int       // attempts already made
	NextEligible time.Time // earliest time the next attempt may start
}

// Start returns the state before the first attempt.
func (p Policy) Start() State {
	return State{}
}

// Delay returns the wait that follows the given (1-based) attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	return d
}

// Record advances s past an attempt that finished at now.
func (p Policy) Record(s State, now time.Time) State {
	s.Attempt++
	s.NextEligible = now.Add(p.Delay(s.Attempt))
	return s
}

// Exhausted reports whether no attempts remain.
func (p Policy) Exhausted(s State) bool {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	return s.Attempt >= limit
}

// Sleeper waits for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until s is eligible.
func Wait(ctx context.Context, sl Sleeper, s State, now time.Time) error {
	if s.NextEligible.IsZero() || !s.NextEligible.After(now) {
		return ctx.Err()
	}
	return sl.Sleep(ctx, s.NextEligible.Sub(now))
}

// Do runs fn until it succeeds, returns an error retryable rejects, or the
// policy is exhausted. The last error is returned.
func Do(ctx context.Context, p Policy, sl Sleeper, retryable func(error) bool, fn func(context.Context) error) error {
	st := p.Start()
	for {
		if err := Wait(ctx, sl, st, time.Now()); err != nil {
			return err
		}
		err := fn(ctx)
		st = p.Record(st, time.Now())
		if err == nil {
			return nil
		}
		if !retryable(err) || p.Exhausted(st) {
			return err
		}
	}
}
