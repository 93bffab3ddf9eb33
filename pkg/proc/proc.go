// Package proc runs external backend tools as blocking child processes.
//
// Every invocation is bounded by a timeout. When the timeout expires or the
// caller's context is cancelled, the child and (on unix) its whole process
// group are killed, so tools that spawn helpers (soffice, blender) do not
// outlive the batch. Standard error is captured with a bounded tail for
// diagnostics.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single invocation when Command.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// maxStderr is the number of trailing stderr bytes kept for diagnostics.
const maxStderr = 16 << 10

// waitDelay bounds how long Wait blocks on inherited pipes after the child is killed.
const waitDelay = 2 * time.Second

// Command describes one child process invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string // appended to the parent environment
	Stdout  io.Writer
	Timeout time.Duration
}

// Result describes a finished invocation.
type Result struct {
	ExitCode int
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// ErrTimeout is returned (wrapped) when the invocation exceeded its timeout.
var ErrTimeout = errors.New("timed out")

// Run executes cmd and waits for it to finish.
//
// A non-zero exit status is not an error: it is reported in Result.ExitCode.
// Run returns an error when the process could not be started, exceeded its
// timeout (wrapping ErrTimeout), or when ctx was cancelled (wrapping ctx.Err()).
func Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Path == "" {
		return nil, fmt.Errorf("proc: empty command path")
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	} else {
		c.Stdout = io.Discard
	}
	stderr := &tailBuffer{max: maxStderr}
	c.Stderr = stderr
	setProcessGroup(c)
	c.Cancel = func() error { return killProcessGroup(c) }
	c.WaitDelay = waitDelay

	start := time.Now()
	err := c.Run()
	res := &Result{
		ExitCode: -1,
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	// Cancellation by the caller takes precedence over our own deadline.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", cmd.Path, ctxErr)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		return res, fmt.Errorf("%s after %s: %w", cmd.Path, timeout, ErrTimeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, nil
		}
		return res, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	return res, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
		t.truncated = true
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	s := t.buf.String()
	if t.truncated {
		return "..." + s
	}
	return s
}
