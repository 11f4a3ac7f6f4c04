// Package retry wraps a single idempotent read in a bounded number of
// attempts. Writes must never go through it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"decoywatch/internal/clock"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 300 * time.Millisecond
)

var ErrFetchExhausted = errors.New("fetch exhausted")

// ExhaustedError is returned once every attempt has failed. It unwraps
// to the error of the last attempt.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: all %d attempts failed: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrFetchExhausted }

// Backoff returns the wait after the failed attempt with zero-based
// index attempt.
type Backoff func(base time.Duration, attempt int) time.Duration

// Linear waits base*(attempt+1).
func Linear(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt+1)
}

// Exponential doubles the wait after each failure up to max.
func Exponential(max time.Duration) Backoff {
	return func(base time.Duration, attempt int) time.Duration {
		if attempt >= 62 {
			return max
		}
		d := base << uint(attempt)
		if d <= 0 || d > max {
			return max
		}
		return d
	}
}

type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Backoff   Backoff
	Clock     clock.Clock
	// OnRetry is called before each wait with the 1-based number of the
	// attempt that just failed.
	OnRetry func(op string, attempt int, err error, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
		Backoff:   Linear,
		Clock:     clock.Real(),
	}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Backoff == nil {
		p.Backoff = Linear
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	return p
}

// Permanent marks err as not worth retrying. Do returns it unwrapped and
// without ExhaustedError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs fn until it succeeds, returns a permanent error, ctx is done or
// p.Attempts calls have failed. No wait follows the final attempt.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var (
		attempts  int
		last      error
		permanent bool
	)
	operation := func() (T, error) {
		attempts++
		v, err := fn(ctx)
		if err != nil {
			last = err
			var perm *backoff.PermanentError
			permanent = errors.As(err, &perm)
		}
		return v, err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) {
			p.OnRetry(op, attempts, err, wait)
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&schedule{base: p.BaseDelay, next: p.Backoff}, uint64(p.Attempts-1)),
		ctx,
	)
	v, err := backoff.RetryNotifyWithTimerAndData(operation, b, notify, &clockTimer{clk: p.Clock})
	if err == nil {
		return v, nil
	}
	if permanent {
		return v, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return v, ctxErr
	}
	return v, &ExhaustedError{Op: op, Attempts: attempts, Err: last}
}

type schedule struct {
	base    time.Duration
	next    Backoff
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	d := s.next(s.base, s.attempt)
	s.attempt++
	if d < 0 {
		d = 0
	}
	return d
}

func (s *schedule) Reset() { s.attempt = 0 }

// clockTimer schedules backoff waits on the shared clock so pending
// waits are visible to, and cancellable by, the same facility.
type clockTimer struct {
	clk   clock.Clock
	timer *clock.Timer
	c     chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	ch := make(chan time.Time, 1)
	t.c = ch
	clk := t.clk
	t.timer = clk.AfterFunc(d, func() { ch <- clk.Now() })
}

func (t *clockTimer) Stop() {
	t.timer.Stop()
}

func (t *clockTimer) C() <-chan time.Time { return t.c }
