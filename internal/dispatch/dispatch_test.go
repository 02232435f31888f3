package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lucasew/gharun/internal/forge"
	"github.com/lucasew/gharun/internal/forge/forgetest"
	"github.com/lucasew/gharun/internal/job"
)

var (
	testRepo = forge.Repo{Owner: "owner", Name: "repo"}
	testSpec = job.Spec{Repo: testRepo, Ref: "exp", Variant: job.VariantGPU, Iteration: 4, Inputs: map[string]string{"seed": "1"}}
	testNow  = time.Unix(1_700_000_000, 0)
)

func newDispatcher(f Forge, cfg Config) *Dispatcher {
	d := New(f, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.now = func() time.Time { return testNow }
	d.newID = func() string { return "corr-1" }
	return d
}

func TestDispatch(t *testing.T) {
	f := &forgetest.MockForge{}
	f.On("ListRuns", mock.Anything, testRepo, "exp", EventWorkflowDispatch).
		Return(&forge.RunList{TotalCount: 57}, nil).Once()
	f.On("TriggerWorkflow", mock.Anything, testRepo, "run_experiment_on_gpu.yml", "exp",
		map[string]string{"seed": "1", job.IterationInput: "4"}).
		Return(nil).Once()

	ticket, err := newDispatcher(f, Config{}).Dispatch(context.Background(), testSpec)

	require.NoError(t, err)
	assert.Equal(t, &Ticket{
		Repo:          testRepo,
		Ref:           "exp",
		Event:         EventWorkflowDispatch,
		Workflow:      "run_experiment_on_gpu.yml",
		BaselineCount: 57,
		DispatchedAt:  testNow,
	}, ticket)
	f.AssertExpectations(t)
}

func TestDispatch_CorrelationInput(t *testing.T) {
	f := &forgetest.MockForge{}
	f.On("ListRuns", mock.Anything, testRepo, "exp", EventWorkflowDispatch).
		Return(&forge.RunList{TotalCount: 0}, nil)
	f.On("TriggerWorkflow", mock.Anything, testRepo, "run_experiment_on_gpu.yml", "exp",
		map[string]string{"seed": "1", job.IterationInput: "4", "correlation_id": "corr-1"}).
		Return(nil)

	ticket, err := newDispatcher(f, Config{CorrelationInput: "correlation_id"}).Dispatch(context.Background(), testSpec)

	require.NoError(t, err)
	assert.Equal(t, "corr-1", ticket.CorrelationID)
	assert.NotContains(t, testSpec.Inputs, "correlation_id")
}

func TestDispatch_BaselineFailureSendsNothing(t *testing.T) {
	f := &forgetest.MockForge{}
	f.On("ListRuns", mock.Anything, testRepo, "exp", EventWorkflowDispatch).
		Return(nil, errors.New("boom"))

	_, err := newDispatcher(f, Config{}).Dispatch(context.Background(), testSpec)

	assert.ErrorIs(t, err, ErrBaselineFetch)
	f.AssertNotCalled(t, "TriggerWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_TriggerRejected(t *testing.T) {
	f := &forgetest.MockForge{}
	f.On("ListRuns", mock.Anything, testRepo, "exp", EventWorkflowDispatch).
		Return(&forge.RunList{TotalCount: 3}, nil)
	f.On("TriggerWorkflow", mock.Anything, testRepo, mock.Anything, "exp", mock.Anything).
		Return(errors.New("422 unexpected inputs"))

	_, err := newDispatcher(f, Config{}).Dispatch(context.Background(), testSpec)

	assert.ErrorIs(t, err, ErrDispatch)
	assert.NotErrorIs(t, err, ErrBaselineFetch)
}

func TestTrigger_UnknownVariant(t *testing.T) {
	f := &forgetest.MockForge{}
	d := newDispatcher(f, Config{Workflows: map[job.Variant]string{job.VariantCPU: "cpu.yml"}})

	_, err := d.Trigger(context.Background(), testSpec, 0)

	assert.ErrorIs(t, err, ErrDispatch)
	f.AssertNotCalled(t, "TriggerWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
