package tools

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// terminalProcess is one long-lived background process tracked by Terminals.
type terminalProcess struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   bool
}

// Terminals is the background process registry backing terminal_spawn/
// input/read/kill, keyed by an opaque handle.
type Terminals struct {
	mu    sync.Mutex
	procs map[string]*terminalProcess
}

// NewTerminals returns an empty Terminals registry.
func NewTerminals() *Terminals {
	return &Terminals{procs: map[string]*terminalProcess{}}
}

// Spawn starts command under the platform shell and returns its handle.
func (t *Terminals) Spawn(command, cwd string) (string, error) {
	cmd := shellExecCommand(command)
	cmd.Dir = cwd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", err
	}

	proc := &terminalProcess{cmd: cmd, stdin: stdin}

	if err := cmd.Start(); err != nil {
		return "", err
	}

	go drainInto(stdoutPipe, proc, &proc.stdout)
	go drainInto(stderrPipe, proc, &proc.stderr)
	go func() {
		_ = cmd.Wait()
		proc.mu.Lock()
		proc.done = true
		proc.mu.Unlock()
	}()

	handle := uuid.NewString()
	t.mu.Lock()
	t.procs[handle] = proc
	t.mu.Unlock()
	return handle, nil
}

func drainInto(r io.Reader, proc *terminalProcess, buf *bytes.Buffer) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			proc.mu.Lock()
			buf.Write(chunk[:n])
			proc.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Input writes one line to the process's stdin.
func (t *Terminals) Input(handle, line string) error {
	proc, err := t.get(handle)
	if err != nil {
		return err
	}
	_, err = proc.stdin.Write([]byte(line + "\n"))
	return err
}

// Read drains and returns the queued stdout/stderr for handle.
func (t *Terminals) Read(handle string) (stdout, stderr string, err error) {
	proc, err := t.get(handle)
	if err != nil {
		return "", "", err
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	out := proc.stdout.String()
	errOut := proc.stderr.String()
	proc.stdout.Reset()
	proc.stderr.Reset()
	return out, errOut, nil
}

// Kill terminates the process behind handle.
func (t *Terminals) Kill(handle string) error {
	proc, err := t.get(handle)
	if err != nil {
		return err
	}
	if proc.cmd.Process == nil {
		return nil
	}
	return proc.cmd.Process.Kill()
}

func (t *Terminals) get(handle string) (*terminalProcess, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	proc, ok := t.procs[handle]
	if !ok {
		return nil, fmt.Errorf("unknown terminal handle %q", handle)
	}
	return proc, nil
}

func shellExecCommand(command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", command)
	}
	return exec.Command("/bin/sh", "-c", command)
}
