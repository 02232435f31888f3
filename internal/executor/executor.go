// Package executor runs one job end to end: record the baseline, trigger the
// workflow, wait for the run and collect its outputs.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lucasew/gharun/internal/dispatch"
	"github.com/lucasew/gharun/internal/forge"
	"github.com/lucasew/gharun/internal/job"
	"github.com/lucasew/gharun/internal/orchestration"
	"github.com/lucasew/gharun/internal/poll"
	"github.com/lucasew/gharun/internal/retrieve"
)

type JobSpec = job.Spec

// Reason tells the caller which stage of an execution failed.
type Reason string

const (
	ReasonBaselineFetch     Reason = "baseline-fetch-failed"
	ReasonDispatch          Reason = "dispatch-failed"
	ReasonPollTimeout       Reason = "poll-timeout"
	ReasonPollFailed        Reason = "poll-failed"
	ReasonArtifactRetrieval Reason = "artifact-retrieval-failed"
)

const (
	stepBaseline = "baseline"
	stepDispatch = "dispatch"
	stepPoll     = "poll"
	stepRetrieve = "retrieve"
)

// Failure is the only error Execute returns.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ReasonOf extracts the failure reason from err.
func ReasonOf(err error) (Reason, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason, true
	}
	return "", false
}

// Report is everything known about a finished execution.
type Report struct {
	Ticket *dispatch.Ticket
	Run    *forge.Run
	Result *retrieve.Result
}

type Executor struct {
	dispatcher *dispatch.Dispatcher
	poller     *poll.Poller
	retriever  retrieve.Retriever
	observer   orchestration.Observer
	logger     *slog.Logger
}

type Option func(*Executor)

// WithObserver reports step progress to o.
func WithObserver(o orchestration.Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

func New(d *dispatch.Dispatcher, p *poll.Poller, r retrieve.Retriever, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		dispatcher: d,
		poller:     p,
		retriever:  r,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs spec and returns what the remote script produced. The
// baseline is fetched fresh on every call.
func (e *Executor) Execute(ctx context.Context, spec JobSpec) (*retrieve.Result, error) {
	report, err := e.Run(ctx, spec)
	if err != nil {
		return nil, err
	}
	return report.Result, nil
}

// Run is Execute that also returns the ticket and the run it waited for.
func (e *Executor) Run(ctx context.Context, spec JobSpec) (*Report, error) {
	if err := spec.Validate(); err != nil {
		return nil, &Failure{Reason: ReasonDispatch, Err: err}
	}

	var (
		baseline int
		report   Report
	)
	log := e.logger.With("repo", spec.Repo.String(), "ref", spec.Ref, "iteration", spec.Iteration)

	pipeline := orchestration.NewPipeline("execute "+spec.String(), e.observer, log).
		AddStep(stepBaseline, "Fetching run baseline", func(ctx context.Context) error {
			n, err := e.dispatcher.Baseline(ctx, spec)
			baseline = n
			return err
		}).
		AddStep(stepDispatch, "Dispatching workflow", func(ctx context.Context) error {
			t, err := e.dispatcher.Trigger(ctx, spec, baseline)
			report.Ticket = t
			return err
		}).
		AddStep(stepPoll, "Waiting for run to complete", func(ctx context.Context) error {
			run, err := e.poller.Wait(ctx, report.Ticket)
			report.Run = run
			return err
		}).
		AddStep(stepRetrieve, "Retrieving results", func(ctx context.Context) error {
			if report.Run.Conclusion != "success" {
				log.Warn("run did not succeed, collecting outputs anyway", "run_id", report.Run.ID, "conclusion", report.Run.Conclusion)
			}
			res, err := e.retriever.Retrieve(ctx, retrieve.Target{
				Repo:      spec.Repo,
				Ref:       spec.Ref,
				Iteration: spec.Iteration,
				RunID:     report.Run.ID,
			})
			report.Result = res
			return err
		})

	if err := pipeline.Run(ctx); err != nil {
		failure := toFailure(err)
		log.Error("execution failed", "reason", string(failure.Reason), "error", failure.Err)
		return nil, failure
	}

	log.Info("execution finished", "run_id", report.Run.ID, "conclusion", report.Run.Conclusion, "url", report.Run.HTMLURL)
	return &report, nil
}

func toFailure(err error) *Failure {
	var stepErr *orchestration.StepError
	if !errors.As(err, &stepErr) {
		return &Failure{Reason: ReasonDispatch, Err: err}
	}

	var reason Reason
	switch stepErr.Step {
	case stepBaseline:
		reason = ReasonBaselineFetch
	case stepDispatch:
		reason = ReasonDispatch
	case stepPoll:
		reason = ReasonPollFailed
		if errors.Is(stepErr.Err, poll.ErrTimeout) {
			reason = ReasonPollTimeout
		}
	default:
		reason = ReasonArtifactRetrieval
	}
	return &Failure{Reason: reason, Err: stepErr.Err}
}
