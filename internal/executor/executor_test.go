package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lucasew/gharun/internal/dispatch"
	"github.com/lucasew/gharun/internal/forge"
	"github.com/lucasew/gharun/internal/forge/forgetest"
	"github.com/lucasew/gharun/internal/job"
	"github.com/lucasew/gharun/internal/orchestration"
	"github.com/lucasew/gharun/internal/poll"
	"github.com/lucasew/gharun/internal/retrieve"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	testRepo = forge.Repo{Owner: "owner", Name: "repo"}
	testSpec = JobSpec{Repo: testRepo, Ref: "exp", Variant: job.VariantCPU, Iteration: 1}
	doneRun  = forge.Run{ID: 9, Status: forge.StatusCompleted, Conclusion: "success"}
)

const cpuWorkflow = "run_experiment_on_cpu.yml"

func newExecutor(t *testing.T, f *forgetest.MockForge, opts ...Option) *Executor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatch.New(f, dispatch.Config{}, logger)
	p := poll.New(f, poll.Config{Interval: time.Millisecond, Timeout: 20 * time.Millisecond}, logger)
	r, err := retrieve.New(f, retrieve.Config{Strategy: retrieve.StrategyContent}, logger)
	require.NoError(t, err)
	return New(d, p, r, logger, opts...)
}

func expectRuns(f *forgetest.MockForge, list *forge.RunList) *mock.Call {
	return f.On("ListRuns", mock.Anything, testRepo, "exp", dispatch.EventWorkflowDispatch).Return(list, nil)
}

func expectContent(f *forgetest.MockForge) {
	f.On("ReadFile", mock.Anything, testRepo, "exp", ".research/iteration1/output.txt").Return([]byte("A"), nil)
	f.On("ReadFile", mock.Anything, testRepo, "exp", ".research/iteration1/error.txt").Return([]byte("B"), nil)
	f.On("ListDir", mock.Anything, testRepo, "exp", ".research/iteration1/images").
		Return([]forge.Entry{{Name: "x.png", Type: forge.EntryFile}}, nil)
}

func assertNoRetrieval(t *testing.T, f *forgetest.MockForge) {
	t.Helper()
	f.AssertNotCalled(t, "ListArtifacts", mock.Anything, mock.Anything, mock.Anything)
	f.AssertNotCalled(t, "DownloadArtifact", mock.Anything, mock.Anything, mock.Anything)
	f.AssertNotCalled(t, "ReadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.AssertNotCalled(t, "ListDir", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_Success(t *testing.T) {
	f := &forgetest.MockForge{}
	expectRuns(f, &forge.RunList{TotalCount: 2}).Once()
	f.On("TriggerWorkflow", mock.Anything, testRepo, cpuWorkflow, "exp", map[string]string{job.IterationInput: "1"}).Return(nil).Once()
	expectRuns(f, &forge.RunList{TotalCount: 3, Runs: []forge.Run{doneRun}})
	expectContent(f)

	var progress bytes.Buffer
	res, err := newExecutor(t, f, WithObserver(orchestration.WriterObserver{W: &progress})).Execute(context.Background(), testSpec)

	require.NoError(t, err)
	assert.Equal(t, &retrieve.Result{OutputText: "A", ErrorText: "B", Images: []string{"x.png"}}, res)
	assert.Contains(t, progress.String(), "[4/4] Retrieving results...")
	f.AssertExpectations(t)
}

func TestExecute_PollTimeoutSkipsRetrieval(t *testing.T) {
	f := &forgetest.MockForge{}
	expectRuns(f, &forge.RunList{TotalCount: 2})
	f.On("TriggerWorkflow", mock.Anything, testRepo, cpuWorkflow, "exp", mock.Anything).Return(nil)

	_, err := newExecutor(t, f).Execute(context.Background(), testSpec)

	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonPollTimeout, reason)
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assertNoRetrieval(t, f)
}

func TestExecute_BaselineFailureSendsNoDispatch(t *testing.T) {
	f := &forgetest.MockForge{}
	f.On("ListRuns", mock.Anything, testRepo, "exp", dispatch.EventWorkflowDispatch).Return(nil, errors.New("502"))

	_, err := newExecutor(t, f).Execute(context.Background(), testSpec)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, ReasonBaselineFetch, failure.Reason)
	assert.ErrorIs(t, err, dispatch.ErrBaselineFetch)
	f.AssertNotCalled(t, "TriggerWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assertNoRetrieval(t, f)
}

func TestExecute_RetryAfterDispatchFailureRefetchesBaseline(t *testing.T) {
	f := &forgetest.MockForge{}
	expectRuns(f, &forge.RunList{TotalCount: 2}).Once()
	f.On("TriggerWorkflow", mock.Anything, testRepo, cpuWorkflow, "exp", mock.Anything).Return(errors.New("422")).Once()
	e := newExecutor(t, f)

	_, err := e.Execute(context.Background(), testSpec)
	reason, _ := ReasonOf(err)
	require.Equal(t, ReasonDispatch, reason)

	// someone else ran a job on the ref meanwhile
	expectRuns(f, &forge.RunList{TotalCount: 5}).Once()
	f.On("TriggerWorkflow", mock.Anything, testRepo, cpuWorkflow, "exp", mock.Anything).Return(nil).Once()
	expectRuns(f, &forge.RunList{TotalCount: 5, Runs: []forge.Run{{ID: 4, Status: forge.StatusCompleted, Conclusion: "success"}}}).Once()
	expectRuns(f, &forge.RunList{TotalCount: 6, Runs: []forge.Run{doneRun}})
	expectContent(f)

	report, err := e.Run(context.Background(), testSpec)

	require.NoError(t, err)
	assert.Equal(t, 5, report.Ticket.BaselineCount)
	assert.Equal(t, int64(9), report.Run.ID)
	f.AssertNumberOfCalls(t, "TriggerWorkflow", 2)
}

func TestExecute_MissingOutput(t *testing.T) {
	f := &forgetest.MockForge{}
	expectRuns(f, &forge.RunList{TotalCount: 0}).Once()
	f.On("TriggerWorkflow", mock.Anything, testRepo, cpuWorkflow, "exp", mock.Anything).Return(nil)
	expectRuns(f, &forge.RunList{TotalCount: 1, Runs: []forge.Run{{ID: 9, Status: forge.StatusCompleted, Conclusion: "failure"}}})
	f.On("ReadFile", mock.Anything, testRepo, "exp", ".research/iteration1/output.txt").Return(nil, forge.ErrNotFound)

	_, err := newExecutor(t, f).Execute(context.Background(), testSpec)

	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonArtifactRetrieval, reason)
	assert.ErrorIs(t, err, retrieve.ErrRetrievalMissing)
}

func TestExecute_PollErrorsExhausted(t *testing.T) {
	f := &forgetest.MockForge{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	expectRuns(f, &forge.RunList{TotalCount: 0}).Once()
	f.On("TriggerWorkflow", mock.Anything, testRepo, cpuWorkflow, "exp", mock.Anything).Return(nil)
	f.On("ListRuns", mock.Anything, testRepo, "exp", dispatch.EventWorkflowDispatch).Return(nil, errors.New("502"))

	r, err := retrieve.New(f, retrieve.Config{}, logger)
	require.NoError(t, err)
	e := New(
		dispatch.New(f, dispatch.Config{}, logger),
		poll.New(f, poll.Config{Interval: time.Millisecond, Timeout: time.Minute, MaxConsecutiveErrors: 2}, logger),
		r,
		logger,
	)

	_, err = e.Execute(context.Background(), testSpec)

	reason, _ := ReasonOf(err)
	assert.Equal(t, ReasonPollFailed, reason)
	assert.ErrorIs(t, err, poll.ErrPollErrors)
	assertNoRetrieval(t, f)
}

func TestExecute_InvalidSpec(t *testing.T) {
	f := &forgetest.MockForge{}

	_, err := newExecutor(t, f).Execute(context.Background(), JobSpec{Repo: testRepo})

	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonDispatch, reason)
	f.AssertNotCalled(t, "ListRuns", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReasonOf(t *testing.T) {
	_, ok := ReasonOf(errors.New("plain"))
	assert.False(t, ok)

	wrapped := errors.Join(errors.New("ctx"), &Failure{Reason: ReasonPollTimeout, Err: poll.ErrTimeout})
	reason, ok := ReasonOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ReasonPollTimeout, reason)
}
