package diskutil

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecSpec describes a single external command invocation.
type ExecSpec struct {
	Bin     string
	Args    []string
	Timeout time.Duration
}

func (s ExecSpec) String() string {
	return strings.TrimSpace(s.Bin + " " + strings.Join(s.Args, " "))
}

// ExecResult is the classified outcome of an ExecSpec.
type ExecResult struct {
	ExitCode    int
	Duration    time.Duration
	Interrupted bool
	TimedOut    bool
	StdoutTail  string
	StderrTail  string
	Err         error
}

// Runner runs external processes. SubprocessRunner is the real one; tests
// substitute fakes.
type Runner interface {
	Run(ctx context.Context, spec ExecSpec) ExecResult
}

type SubprocessRunner struct{}

func NewSubprocessRunner() *SubprocessRunner {
	return &SubprocessRunner{}
}

type tailBuffer struct {
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = tailSize
	}
	return &tailBuffer{
		buf: make([]byte, 0, max),
		max: max,
	}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	overflow := len(t.buf) + len(p) - t.max
	if overflow > 0 {
		t.buf = append(t.buf[:0], t.buf[overflow:]...)
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// Run starts the process in its own process group so that cancelling ctx
// (timeout, stall abort, user interrupt) kills every child it spawned.
func (r *SubprocessRunner) Run(ctx context.Context, spec ExecSpec) ExecResult {
	start := time.Now()
	if spec.Bin == "" {
		return ExecResult{ExitCode: 1, Duration: time.Since(start), Err: errors.New("missing binary")}
	}

	runCtx := ctx
	cancel := func() {}
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Bin, spec.Args...)
	configureCommandForTermination(cmd)
	cmd.Cancel = func() error {
		terminateCommand(cmd)
		return nil
	}
	cmd.WaitDelay = waitDelay

	stdoutTail := newTailBuffer(tailSize)
	stderrTail := newTailBuffer(tailSize)
	cmd.Stdout = stdoutTail
	cmd.Stderr = stderrTail

	err := cmd.Run()
	result := ExecResult{
		Duration:   time.Since(start),
		StdoutTail: stdoutTail.String(),
		StderrTail: stderrTail.String(),
		Err:        err,
	}
	if err == nil {
		return result
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.Err = runCtx.Err()
	}
	if runCtx.Err() == context.Canceled {
		result.Interrupted = true
		result.ExitCode = 130
		result.Err = runCtx.Err()
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result
	}

	if errors.Is(err, exec.ErrNotFound) {
		result.ExitCode = 127
		return result
	}

	result.ExitCode = 1
	return result
}

// ToolError reports a failed external tool invocation.
type ToolError struct {
	Op       string
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %q exited with status %d", e.Op, e.Command, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	if e.Err != nil && e.Output == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// toolError turns a non-successful ExecResult into a *ToolError, or nil.
func toolError(op string, spec ExecSpec, res ExecResult) error {
	if res.Err == nil && res.ExitCode == 0 {
		return nil
	}
	output := strings.TrimSpace(res.StderrTail)
	if output == "" {
		output = strings.TrimSpace(res.StdoutTail)
	}
	return &ToolError{
		Op:       op,
		Command:  spec.String(),
		ExitCode: res.ExitCode,
		Output:   lastLine(output),
		Err:      res.Err,
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
