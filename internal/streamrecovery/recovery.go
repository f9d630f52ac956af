// Package streamrecovery implements the Stream Recovery Wrapper:
// retry-with-timeout around a streaming provider call, falling back to one
// non-streaming attempt, plus a render throttler used to rate-limit UI
// updates during streaming.
package streamrecovery

import (
	"context"
	"sync"
	"time"
)

// Health is the StreamHealthState data model.
type Health struct {
	Attempts        int
	TimeoutMs       int
	FallbackUsed    bool
	ThrottledRenders int
	LastError       error
}

// RunFunc is invoked once per attempt; streamEnabled is false only for the
// final non-streaming fallback attempt.
type RunFunc func(ctx context.Context, streamEnabled bool) (interface{}, error)

// Options configures one Call.
type Options struct {
	StreamRetryCount int
	StreamTimeoutMs  int
	Throttler        *Throttler // optional; its ThrottledRenders count is copied into Health
	Run              RunFunc
}

// Call runs Run(ctx, true) under a per-attempt timeout up to
// StreamRetryCount+1 times; on exhaustion it performs one Run(ctx, false)
// call with FallbackUsed=true, also under the same timeout. A timeout
// rejects only the pending attempt.
func Call(ctx context.Context, opts Options) (interface{}, Health) {
	health := Health{TimeoutMs: opts.StreamTimeoutMs}

	attempts := opts.StreamRetryCount + 1
	for i := 0; i < attempts; i++ {
		health.Attempts++
		result, err := runWithTimeout(ctx, opts.StreamTimeoutMs, func(c context.Context) (interface{}, error) {
			return opts.Run(c, true)
		})
		if err == nil {
			if opts.Throttler != nil {
				health.ThrottledRenders = opts.Throttler.ThrottledRenders()
			}
			return result, health
		}
		health.LastError = err
	}

	health.FallbackUsed = true
	health.Attempts++
	result, err := runWithTimeout(ctx, opts.StreamTimeoutMs, func(c context.Context) (interface{}, error) {
		return opts.Run(c, false)
	})
	if err != nil {
		health.LastError = err
	}
	if opts.Throttler != nil {
		health.ThrottledRenders = opts.Throttler.ThrottledRenders()
	}
	return result, health
}

func runWithTimeout(ctx context.Context, timeoutMs int, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	type res struct {
		value interface{}
		err   error
	}
	done := make(chan res, 1)
	go func() {
		v, err := fn(runCtx)
		done <- res{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-runCtx.Done():
		return nil, runCtx.Err()
	}
}

// Throttler rate-limits UI render requests to at most fps renders per
// second: request() schedules an immediate render if more than 1000/fps ms
// have elapsed since the last one, otherwise it coalesces into a single
// pending timer and counts the suppressed request.
type Throttler struct {
	mu         sync.Mutex
	interval   time.Duration
	lastRender time.Time
	pending    bool
	suppressed int
	timer      *time.Timer
	render     func()
}

// NewThrottler returns a Throttler that calls render at most fps times per second.
func NewThrottler(fps int, render func()) *Throttler {
	if fps <= 0 {
		fps = 1
	}
	return &Throttler{interval: time.Second / time.Duration(fps), render: render}
}

// Request schedules a render, immediately if enough time has elapsed, or via
// a single coalesced pending timer otherwise.
func (t *Throttler) Request() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.lastRender) >= t.interval {
		t.lastRender = now
		t.mu.Unlock()
		t.render()
		t.mu.Lock()
		return
	}

	t.suppressed++
	if t.pending {
		return
	}
	t.pending = true
	remaining := t.interval - now.Sub(t.lastRender)
	t.timer = time.AfterFunc(remaining, func() {
		t.mu.Lock()
		t.pending = false
		t.lastRender = time.Now()
		t.mu.Unlock()
		t.render()
	})
}

// ForceFlush cancels any pending timer and renders immediately.
func (t *Throttler) ForceFlush() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.pending = false
	t.lastRender = time.Now()
	t.mu.Unlock()
	t.render()
}

// ThrottledRenders returns the count of suppressed immediate requests.
func (t *Throttler) ThrottledRenders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suppressed
}
