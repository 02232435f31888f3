package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = 1 * time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxDelay    = 180 * time.Second
)

// Retryable is implemented by errors that know whether another attempt may succeed.
type Retryable interface {
	Retryable() bool
}

// Hinted is implemented by errors that dictate the wait before the next attempt,
// e.g. a rate limit that resets at a known time.
type Hinted interface {
	RetryAfter() (time.Duration, bool)
}

// Notify is called before each wait with the failed attempt number (1-based).
type Notify func(err error, attempt int, wait time.Duration)

// Policy bounds how an operation is retried.
type Policy struct {
	// MaxAttempts counts the first attempt. Values below 1 mean a single attempt.
	MaxAttempts int
	// Backoff builds a fresh backoff for each Do call.
	Backoff func() backoff.BackOff
	// ShouldRetry decides whether an error is worth another attempt.
	// Defaults to errors implementing Retryable.
	ShouldRetry func(error) bool
	// Timer is used to wait between attempts. Nil uses a real timer.
	Timer backoff.Timer
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     Exponential(DefaultBaseDelay, DefaultMultiplier, DefaultMaxDelay),
	}
}

// Exponential returns a backoff factory with base*multiplier^n growth capped at
// max. There is no jitter, so successive delays never decrease.
func Exponential(base time.Duration, multiplier float64, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.Multiplier = multiplier
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		if max > 0 {
			b.MaxInterval = max
		} else {
			b.MaxInterval = time.Duration(1<<63 - 1)
		}
		b.Reset()
		return b
	}
}

// IsRetryable is the default ShouldRetry predicate.
func IsRetryable(err error) bool {
	var r Retryable
	return errors.As(err, &r) && r.Retryable()
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op func() error, notify Notify) error {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	hinted := &hintedBackOff{delegate: p.newBackoff(), hint: -1}
	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.MaxAttempts > 1 {
		b = backoff.WithMaxRetries(hinted, uint64(p.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return backoff.Permanent(err)
		}
		var h Hinted
		if errors.As(err, &h) {
			if d, ok := h.RetryAfter(); ok {
				hinted.hint = d
			}
		}
		return err
	}

	var n backoff.Notify
	if notify != nil {
		n = func(err error, wait time.Duration) {
			notify(err, attempt, wait)
		}
	}
	return backoff.RetryNotifyWithTimer(operation, b, n, p.Timer)
}

func (p Policy) newBackoff() backoff.BackOff {
	if p.Backoff == nil {
		return Exponential(DefaultBaseDelay, DefaultMultiplier, DefaultMaxDelay)()
	}
	return p.Backoff()
}

// hintedBackOff advances the delegate on every call so the exponential
// sequence keeps growing, but yields a pending hint instead of its value.
type hintedBackOff struct {
	delegate backoff.BackOff
	hint     time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	d := h.delegate.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if h.hint >= 0 {
		d = h.hint
		h.hint = -1
	}
	return d
}

func (h *hintedBackOff) Reset() {
	h.delegate.Reset()
	h.hint = -1
}
