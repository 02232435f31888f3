// Package poll watches the run list of a ref until the dispatched run
// completes.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/lucasew/gharun/internal/dispatch"
	"github.com/lucasew/gharun/internal/forge"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 600 * time.Second
)

var (
	ErrTimeout = errors.New("timed out waiting for run")
	// ErrPollErrors is returned once too many consecutive fetches failed.
	ErrPollErrors = errors.New("too many consecutive poll errors")
)

type State int

const (
	StateWaiting State = iota
	StateRunDetected
	StateCompleted
	StateTimeout
	StatePollErrorExhausted
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunDetected:
		return "run_detected"
	case StateCompleted:
		return "completed"
	case StateTimeout:
		return "timeout"
	case StatePollErrorExhausted:
		return "poll_error_exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTimeout || s == StatePollErrorExhausted
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// MaxConsecutiveErrors bounds failed fetches in a row. Zero means the
	// poller keeps trying until the timeout.
	MaxConsecutiveErrors int
}

type Option func(*Poller)

func WithClock(c clock.Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

type Poller struct {
	runs   forge.RunLister
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
}

func New(runs forge.RunLister, cfg Config, logger *slog.Logger, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	p := &Poller{
		runs:   runs,
		cfg:    cfg,
		clock:  clock.RealClock{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait blocks until the run started by ticket completes and returns it.
func (p *Poller) Wait(ctx context.Context, ticket *dispatch.Ticket) (*forge.Run, error) {
	start := p.clock.Now()
	state := StateWaiting
	var tracked int64
	failures := 0
	polls := 0

	log := p.logger.With("repo", ticket.Repo.String(), "ref", ticket.Ref, "baseline", ticket.BaselineCount)
	log.Info("waiting for run", "interval", p.cfg.Interval, "timeout", p.cfg.Timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("wait for run: %w", err)
		}

		polls++
		list, expired, err := p.fetch(ctx, ticket, p.fetchDeadline(start))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("wait for run: %w", ctxErr)
			}
			if expired {
				return nil, p.timedOut(log, start, state, tracked)
			}
			failures++
			log.Warn("poll failed", "poll", polls, "consecutive_errors", failures, "error", err)
			if p.cfg.MaxConsecutiveErrors > 0 && failures >= p.cfg.MaxConsecutiveErrors {
				log.Error("giving up on run", "state", StatePollErrorExhausted.String())
				return nil, fmt.Errorf("%w: %d in a row: %w", ErrPollErrors, failures, err)
			}
		} else {
			failures = 0
			next, run := Advance(state, ticket, tracked, list)
			if next != state {
				attrs := []any{"from", state.String(), "to", next.String(), "poll", polls}
				if run != nil {
					attrs = append(attrs, "run_id", run.ID, "status", string(run.Status), "conclusion", run.Conclusion)
				}
				log.Info("run state changed", attrs...)
			} else {
				log.Debug("polled", "state", state.String(), "total_count", list.TotalCount, "poll", polls)
			}
			state = next
			if run != nil {
				tracked = run.ID
			}
			if state == StateCompleted {
				return run, nil
			}
		}

		if p.clock.Since(start) >= p.cfg.Timeout {
			return nil, p.timedOut(log, start, state, tracked)
		}
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return nil, fmt.Errorf("wait for run: %w", err)
		}
	}
}

// fetchDeadline bounds one poll. Polls started before the timeout end with
// it. The last poll, started after it, keeps what is left of the interval.
func (p *Poller) fetchDeadline(start time.Time) time.Time {
	timeout := start.Add(p.cfg.Timeout)
	if p.clock.Now().Before(timeout) {
		return timeout
	}
	return timeout.Add(p.cfg.Interval)
}

// fetch lists runs until deadline, so a request retrying through an outage
// cannot hold the poller past the timeout. expired reports that the deadline
// passed during the call.
func (p *Poller) fetch(ctx context.Context, ticket *dispatch.Ticket, deadline time.Time) (*forge.RunList, bool, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, deadline.Sub(p.clock.Now()))
	defer cancel()

	list, err := p.runs.ListRuns(fetchCtx, ticket.Repo, ticket.Ref, ticket.Event)
	if err != nil {
		expired := errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		return nil, expired, err
	}
	return list, false, nil
}

func (p *Poller) timedOut(log *slog.Logger, start time.Time, state State, tracked int64) error {
	elapsed := p.clock.Since(start)
	log.Error("giving up on run", "state", StateTimeout.String(), "elapsed", elapsed, "run_id", tracked)
	return fmt.Errorf("%w after %s (last state %s)", ErrTimeout, elapsed, state)
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	t := p.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// Advance computes the next state from one run list. tracked is the id of the
// run picked on an earlier poll, zero if none.
func Advance(state State, ticket *dispatch.Ticket, tracked int64, list *forge.RunList) (State, *forge.Run) {
	if state.Terminal() {
		return state, nil
	}
	run := Detect(ticket, tracked, list)
	if run == nil {
		return state, nil
	}
	if run.Terminal() {
		return StateCompleted, run
	}
	return StateRunDetected, run
}

// Detect picks the run belonging to ticket, or nil when it has not shown up.
// A run already being tracked wins, then a run whose title carries the
// correlation id, then the newest run once the count grew past the baseline.
func Detect(ticket *dispatch.Ticket, tracked int64, list *forge.RunList) *forge.Run {
	if list == nil {
		return nil
	}
	if tracked != 0 {
		for i := range list.Runs {
			if list.Runs[i].ID == tracked {
				return &list.Runs[i]
			}
		}
	}
	if ticket.CorrelationID != "" {
		for i := range list.Runs {
			if strings.Contains(list.Runs[i].Title, ticket.CorrelationID) {
				return &list.Runs[i]
			}
		}
	}
	if list.TotalCount > ticket.BaselineCount && len(list.Runs) > 0 {
		return &list.Runs[0]
	}
	return nil
}
