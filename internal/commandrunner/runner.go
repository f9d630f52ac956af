// Package commandrunner implements the Command Runner: executes
// shell commands with timeout (including an "unlimited" mode), streams
// stdout/stderr, emits ExecutionEvents, and appends structured per-day
// ndjson logs. Process lifecycle (spawn, pump stdout/stderr, kill on
// timeout) runs one bounded child-process invocation per call.
package commandrunner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"coagent/internal/eventbus"
)

// Record is the CommandExecutionRecord data model.
type Record struct {
	Command   string    `json:"command"`
	Cwd       string    `json:"cwd"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	DurationMs int64    `json:"duration_ms"`
	TimeoutMs int       `json:"timeout_ms"`
	ExitCode  *int      `json:"exit_code"`
	Success   bool      `json:"success"`
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
}

// Options configures one Run call.
type Options struct {
	Cwd       string
	TimeoutMs int // <= 0 means unlimited
	OnStdout  func(chunk string)
	OnStderr  func(chunk string)
	LogEnabled bool
}

const minTimeoutMs = 1000

// Runner executes commands under the platform shell and emits ExecutionEvents.
type Runner struct {
	bus *eventbus.Bus
	log *Log
}

// New returns a Runner that publishes to bus and, when enabled, appends to log.
func New(bus *eventbus.Bus, log *Log) *Runner {
	return &Runner{bus: bus, log: log}
}

// Run executes cmd and blocks until it completes, times out, or fails to spawn.
// Failures are never returned as an error to the caller; they are captured in
// the returned Record; command runner failures never propagate as errors to
// the orchestrator.
func (r *Runner) Run(ctx context.Context, command string, opts Options) Record {
	timeoutMs := opts.TimeoutMs
	unlimited := timeoutMs <= 0
	if !unlimited && timeoutMs < minTimeoutMs {
		timeoutMs = minTimeoutMs
	}

	started := time.Now()
	r.publish(eventbus.PhaseRunningCmd, eventbus.StatusStart, command, "", nil, nil)

	runCtx := ctx
	var cancel context.CancelFunc
	if !unlimited {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	cmd := shellCommand(runCtx, command)
	cmd.Dir = opts.Cwd

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return r.spawnError(command, opts, started, timeoutMs, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return r.spawnError(command, opts, started, timeoutMs, err)
	}

	if err := cmd.Start(); err != nil {
		return r.spawnError(command, opts, started, timeoutMs, err)
	}

	done := make(chan struct{})
	go pump(stdoutPipe, &stdoutBuf, func(s string) {
		r.publish(eventbus.PhaseRunningCmd, eventbus.StatusProgress, command, s, nil, nil)
		if opts.OnStdout != nil {
			opts.OnStdout(s)
		}
	})
	go pump(stderrPipe, &stderrBuf, func(s string) {
		r.publish(eventbus.PhaseRunningCmd, eventbus.StatusProgress, command, s, nil, nil)
		if opts.OnStderr != nil {
			opts.OnStderr(s)
		}
	})

	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	<-done
	ended := time.Now()
	duration := ended.Sub(started)

	rec := Record{
		Command:    command,
		Cwd:        opts.Cwd,
		StartedAt:  started,
		EndedAt:    ended,
		DurationMs: duration.Milliseconds(),
		TimeoutMs:  opts.TimeoutMs,
		Stdout:     stdoutBuf.String(),
		Stderr:     stderrBuf.String(),
	}

	if !unlimited && runCtx.Err() == context.DeadlineExceeded {
		rec.Stderr += fmt.Sprintf("Process timed out after %dms.", opts.TimeoutMs)
		rec.Success = false
		rec.ExitCode = nil
		r.publish(eventbus.PhaseError, eventbus.StatusEnd, command, "", nil, boolPtr(false))
	} else {
		code := cmd.ProcessState.ExitCode()
		rec.ExitCode = &code
		rec.Success = code == 0
		phase := eventbus.PhaseFinished
		if !rec.Success {
			phase = eventbus.PhaseError
		}
		r.publish(phase, eventbus.StatusEnd, command, "", &code, boolPtr(rec.Success))
	}

	if opts.LogEnabled && r.log != nil {
		_ = r.log.Append(rec)
	}

	return rec
}

func (r *Runner) spawnError(command string, opts Options, started time.Time, timeoutMs int, err error) Record {
	ended := time.Now()
	rec := Record{
		Command:    command,
		Cwd:        opts.Cwd,
		StartedAt:  started,
		EndedAt:    ended,
		DurationMs: ended.Sub(started).Milliseconds(),
		TimeoutMs:  timeoutMs,
		Success:    false,
		Stderr:     err.Error(),
	}
	r.publish(eventbus.PhaseError, eventbus.StatusEnd, command, "", nil, boolPtr(false))
	if opts.LogEnabled && r.log != nil {
		_ = r.log.Append(rec)
	}
	return rec
}

func (r *Runner) publish(phase eventbus.Phase, status eventbus.Status, command, message string, exitCode *int, success *bool) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Phase:    phase,
		Message:  message,
		Command:  command,
		Status:   status,
		ExitCode: exitCode,
		Success:  success,
	})
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}

func boolPtr(b bool) *bool { return &b }
