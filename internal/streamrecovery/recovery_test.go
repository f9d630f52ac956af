package streamrecovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSucceedsFirstAttempt(t *testing.T) {
	out, health := Call(context.Background(), Options{
		StreamRetryCount: 2,
		StreamTimeoutMs:  1000,
		Run: func(ctx context.Context, streamEnabled bool) (interface{}, error) {
			assert.True(t, streamEnabled)
			return "ok", nil
		},
	})

	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, health.Attempts)
	assert.False(t, health.FallbackUsed)
	assert.NoError(t, health.LastError)
}

func TestCallRetriesThenSucceeds(t *testing.T) {
	var calls int32
	out, health := Call(context.Background(), Options{
		StreamRetryCount: 2,
		StreamTimeoutMs:  1000,
		Run: func(ctx context.Context, streamEnabled bool) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	})

	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, health.Attempts)
	assert.False(t, health.FallbackUsed)
}

func TestCallFallsBackToNonStreaming(t *testing.T) {
	var sawNonStreaming bool
	out, health := Call(context.Background(), Options{
		StreamRetryCount: 1,
		StreamTimeoutMs:  1000,
		Run: func(ctx context.Context, streamEnabled bool) (interface{}, error) {
			if streamEnabled {
				return nil, errors.New("stream broken")
			}
			sawNonStreaming = true
			return "fallback", nil
		},
	})

	assert.Equal(t, "fallback", out)
	assert.True(t, sawNonStreaming)
	assert.True(t, health.FallbackUsed)
	assert.Equal(t, 3, health.Attempts) // 2 streamed + 1 fallback
}

func TestCallTimeoutRejectsAttemptOnly(t *testing.T) {
	out, health := Call(context.Background(), Options{
		StreamRetryCount: 0,
		StreamTimeoutMs:  50,
		Run: func(ctx context.Context, streamEnabled bool) (interface{}, error) {
			if streamEnabled {
				select {
				case <-time.After(5 * time.Second):
					return "too late", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return "fallback", nil
		},
	})

	assert.Equal(t, "fallback", out)
	assert.True(t, health.FallbackUsed)
}

func TestCallAllAttemptsFail(t *testing.T) {
	sentinel := errors.New("down")
	out, health := Call(context.Background(), Options{
		StreamRetryCount: 1,
		StreamTimeoutMs:  100,
		Run: func(ctx context.Context, streamEnabled bool) (interface{}, error) {
			return nil, sentinel
		},
	})

	assert.Nil(t, out)
	assert.True(t, health.FallbackUsed)
	require.Error(t, health.LastError)
	assert.ErrorIs(t, health.LastError, sentinel)
}

func TestThrottlerCoalescesBurst(t *testing.T) {
	var renders int32
	th := NewThrottler(10, func() { atomic.AddInt32(&renders, 1) }) // 100ms interval

	for i := 0; i < 20; i++ {
		th.Request()
	}

	assert.GreaterOrEqual(t, th.ThrottledRenders(), 1)
	// One immediate render plus at most one pending timer render.
	time.Sleep(250 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&renders), int32(2))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&renders), int32(1))
}

func TestThrottlerForceFlush(t *testing.T) {
	var renders int32
	th := NewThrottler(1, func() { atomic.AddInt32(&renders, 1) })

	th.Request()
	th.Request() // suppressed, schedules a 1s timer
	th.ForceFlush()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&renders), int32(2))
}
