// Package dispatch triggers workflow runs. The platform never tells us which
// run a trigger created, so the number of runs on the ref is recorded first
// and handed to the poller as a baseline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucasew/gharun/internal/forge"
	"github.com/lucasew/gharun/internal/job"
)

// EventWorkflowDispatch is the event manual triggers are recorded under.
const EventWorkflowDispatch = "workflow_dispatch"

var (
	ErrBaselineFetch = errors.New("baseline fetch failed")
	ErrDispatch      = errors.New("dispatch failed")
)

// DefaultWorkflows maps each variant to its job definition file.
var DefaultWorkflows = map[job.Variant]string{
	job.VariantCPU: "run_experiment_on_cpu.yml",
	job.VariantGPU: "run_experiment_on_gpu.yml",
}

type Config struct {
	Workflows map[job.Variant]string
	Event     string
	// CorrelationInput names the workflow input that receives a fresh id per
	// dispatch. Empty disables correlation.
	CorrelationInput string
}

// Forge is what the dispatcher needs from the platform.
type Forge interface {
	forge.RunLister
	forge.WorkflowTrigger
}

// Ticket describes a dispatched job well enough for the poller to find its run.
type Ticket struct {
	Repo          forge.Repo
	Ref           string
	Event         string
	Workflow      string
	BaselineCount int
	CorrelationID string
	DispatchedAt  time.Time
}

type Dispatcher struct {
	forge  Forge
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func New(f Forge, cfg Config, logger *slog.Logger) *Dispatcher {
	if len(cfg.Workflows) == 0 {
		cfg.Workflows = DefaultWorkflows
	}
	if cfg.Event == "" {
		cfg.Event = EventWorkflowDispatch
	}
	return &Dispatcher{
		forge:  f,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Baseline returns how many runs already exist on the job's ref.
func (d *Dispatcher) Baseline(ctx context.Context, spec job.Spec) (int, error) {
	list, err := d.forge.ListRuns(ctx, spec.Repo, spec.Ref, d.cfg.Event)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBaselineFetch, err)
	}
	d.logger.Debug("baseline recorded", "repo", spec.Repo.String(), "ref", spec.Ref, "baseline", list.TotalCount)
	return list.TotalCount, nil
}

// Trigger fires the workflow mapped from the job variant.
func (d *Dispatcher) Trigger(ctx context.Context, spec job.Spec, baseline int) (*Ticket, error) {
	workflow, ok := d.cfg.Workflows[spec.Variant]
	if !ok {
		return nil, fmt.Errorf("%w: no workflow for variant %q", ErrDispatch, spec.Variant)
	}

	inputs := spec.WorkflowInputs()
	ticket := &Ticket{
		Repo:          spec.Repo,
		Ref:           spec.Ref,
		Event:         d.cfg.Event,
		Workflow:      workflow,
		BaselineCount: baseline,
	}
	if d.cfg.CorrelationInput != "" {
		ticket.CorrelationID = d.newID()
		inputs[d.cfg.CorrelationInput] = ticket.CorrelationID
	}

	if err := d.forge.TriggerWorkflow(ctx, spec.Repo, workflow, spec.Ref, inputs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	ticket.DispatchedAt = d.now()

	d.logger.Info("workflow dispatched",
		"repo", spec.Repo.String(),
		"ref", spec.Ref,
		"workflow", workflow,
		"iteration", spec.Iteration,
		"baseline", baseline,
		"correlation_id", ticket.CorrelationID,
	)
	return ticket, nil
}

// Dispatch records the baseline and then triggers the run. Nothing is sent
// when the baseline cannot be fetched.
func (d *Dispatcher) Dispatch(ctx context.Context, spec job.Spec) (*Ticket, error) {
	baseline, err := d.Baseline(ctx, spec)
	if err != nil {
		return nil, err
	}
	return d.Trigger(ctx, spec, baseline)
}
