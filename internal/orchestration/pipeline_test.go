package orchestration

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipeline_RunsStepsInOrder(t *testing.T) {
	var order []string
	var out bytes.Buffer

	err := NewPipeline("test", WriterObserver{W: &out}, discard()).
		AddStep("a", "First", func(ctx context.Context) error { order = append(order, "a"); return nil }).
		AddStep("b", "Second", func(ctx context.Context) error { order = append(order, "b"); return nil }).
		Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, "[1/2] First...\nStep 'a' completed successfully\n[2/2] Second...\nStep 'b' completed successfully\n", out.String())
}

func TestPipeline_StopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	ran := false

	err := NewPipeline("test", nil, discard()).
		AddStep("a", "First", func(ctx context.Context) error { return boom }).
		AddStep("b", "Second", func(ctx context.Context) error { ran = true; return nil }).
		Run(context.Background())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "a", stepErr.Step)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
}

func TestPipeline_CancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := false

	err := NewPipeline("test", nil, discard()).
		AddStep("a", "First", func(ctx context.Context) error { cancel(); return nil }).
		AddStep("b", "Second", func(ctx context.Context) error { ran = true; return nil }).
		Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}
