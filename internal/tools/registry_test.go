package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteParallelPreservesOrder(t *testing.T) {
	calls := []Call{
		{Name: "slow", Run: func(ctx context.Context) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "slow done", nil
		}},
		{Name: "fast", Run: func(ctx context.Context) (string, error) {
			return "fast done", nil
		}},
	}

	results := ExecuteParallel(context.Background(), calls)
	require.Len(t, results, 2)
	assert.Equal(t, "slow", results[0].Name)
	assert.Equal(t, "slow done", results[0].Output)
	assert.Equal(t, "fast", results[1].Name)
}

func TestExecuteParallelCapturesErrors(t *testing.T) {
	sentinel := errors.New("boom")
	calls := []Call{
		{Name: "ok", Run: func(ctx context.Context) (string, error) { return "fine", nil }},
		{Name: "bad", Run: func(ctx context.Context) (string, error) { return "", sentinel }},
	}

	results := ExecuteParallel(context.Background(), calls)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, sentinel)
}

func TestExecuteParallelEmpty(t *testing.T) {
	assert.Empty(t, ExecuteParallel(context.Background(), nil))
}
