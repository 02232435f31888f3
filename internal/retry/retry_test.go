package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer fires immediately and records every requested wait.
type instantTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Time{}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}

type testErr struct {
	retryable bool
	after     time.Duration
	hinted    bool
}

func (e *testErr) Error() string                      { return "test error" }
func (e *testErr) Retryable() bool                    { return e.retryable }
func (e *testErr) RetryAfter() (time.Duration, bool) { return e.after, e.hinted }

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	timer := &instantTimer{}
	p := Default()
	p.Timer = timer

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestDo_ExhaustsAttemptsWithGrowingDelays(t *testing.T) {
	timer := &instantTimer{}
	p := Policy{
		MaxAttempts: 10,
		Backoff:     Exponential(time.Second, 2, 180*time.Second),
		Timer:       timer,
	}

	calls := 0
	var notified []int
	want := &testErr{retryable: true}
	err := p.Do(context.Background(), func() error {
		calls++
		return want
	}, func(err error, attempt int, wait time.Duration) {
		notified = append(notified, attempt)
	})

	assert.Same(t, want, err)
	assert.Equal(t, 10, calls)
	require.Len(t, timer.waits, 9)
	for i := 1; i < len(timer.waits); i++ {
		assert.GreaterOrEqual(t, timer.waits[i], timer.waits[i-1], "wait %d decreased", i)
	}
	assert.Equal(t, time.Second, timer.waits[0])
	assert.Equal(t, 180*time.Second, timer.waits[8])
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, notified)
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	timer := &instantTimer{}
	p := Default()
	p.Timer = timer

	calls := 0
	want := &testErr{retryable: false}
	err := p.Do(context.Background(), func() error {
		calls++
		return want
	}, nil)

	assert.ErrorIs(t, err, want)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestDo_HintOverridesNextWait(t *testing.T) {
	timer := &instantTimer{}
	p := Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Second, 2, 0),
		Timer:       timer,
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &testErr{retryable: true, after: 42 * time.Second, hinted: true}
		}
		if calls == 2 {
			return &testErr{retryable: true}
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{42 * time.Second, 2 * time.Second}, timer.waits)
}

func TestDo_SingleAttempt(t *testing.T) {
	timer := &instantTimer{}
	p := Policy{MaxAttempts: 1, Timer: timer}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return &testErr{retryable: true}
	}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomPredicate(t *testing.T) {
	timer := &instantTimer{}
	sentinel := errors.New("flaky")
	p := Policy{
		MaxAttempts: 4,
		ShouldRetry: func(err error) bool { return errors.Is(err, sentinel) },
		Timer:       timer,
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return sentinel
	}, nil)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 4, calls)
}

func TestDo_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Default()
	p.Timer = &instantTimer{}
	calls := 0
	err := p.Do(ctx, func() error {
		calls++
		return &testErr{retryable: true}
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
