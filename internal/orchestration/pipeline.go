package orchestration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Observer is told about step progress, e.g. to report it to a terminal
type Observer interface {
	StepStarted(index, total int, step Step)
	StepFinished(index, total int, step Step, err error)
}

// Step represents a single step in the orchestration pipeline
type Step struct {
	Name        string
	Description string
	Execute     func(ctx context.Context) error
}

// StepError records which step stopped the pipeline.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Pipeline executes a series of steps with automatic logging
type Pipeline struct {
	name     string
	observer Observer
	logger   *slog.Logger
	steps    []Step
}

// NewPipeline creates a new orchestration pipeline. observer may be nil.
func NewPipeline(name string, observer Observer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		name:     name,
		observer: observer,
		logger:   logger,
		steps:    make([]Step, 0),
	}
}

// AddStep adds a step to the pipeline
func (p *Pipeline) AddStep(name, description string, fn func(ctx context.Context) error) *Pipeline {
	p.steps = append(p.steps, Step{
		Name:        name,
		Description: description,
		Execute:     fn,
	})
	return p
}

// Run executes all steps in order, stopping at the first failure or when ctx
// is done.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Debug("starting pipeline", "pipeline", p.name, "steps", len(p.steps))

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step.Name, Err: err}
		}

		p.logger.Debug("executing step", "pipeline", p.name, "step", step.Name, "description", step.Description)
		if p.observer != nil {
			p.observer.StepStarted(i, len(p.steps), step)
		}

		err := step.Execute(ctx)
		if p.observer != nil {
			p.observer.StepFinished(i, len(p.steps), step, err)
		}
		if err != nil {
			p.logger.Error("step failed", "pipeline", p.name, "step", step.Name, "error", err)
			return &StepError{Step: step.Name, Err: err}
		}
	}

	p.logger.Debug("pipeline completed successfully", "pipeline", p.name)
	return nil
}

// WriterObserver prints one line per step event.
type WriterObserver struct {
	W io.Writer
}

func (o WriterObserver) StepStarted(index, total int, step Step) {
	fmt.Fprintf(o.W, "[%d/%d] %s...\n", index+1, total, step.Description)
}

func (o WriterObserver) StepFinished(index, total int, step Step, err error) {
	if err != nil {
		fmt.Fprintf(o.W, "Step '%s' failed: %v\n", step.Name, err)
		return
	}
	fmt.Fprintf(o.W, "Step '%s' completed successfully\n", step.Name)
}
