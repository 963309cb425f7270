// Package analysis runs short-lived external analysis helpers.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

// DefaultTimeout bounds a helper run unless the caller's context is shorter.
const DefaultTimeout = 5 * time.Minute

// maxCaptureBytes bounds captured helper output per stream.
const maxCaptureBytes = 4 << 20

// Result is the complete outcome of one helper invocation. A non-zero exit
// code is a normal result, not an error.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Success  bool   `json:"success"`
}

// TimeoutError reports that the helper exceeded its deadline; any stdout
// produced before the kill is preserved.
type TimeoutError struct {
	PartialStdout string
}

func (e *TimeoutError) Error() string { return "analysis helper timed out" }

// Invoker runs the configured helper binary with a bounded wait.
type Invoker struct {
	bin     string
	timeout time.Duration
}

// NewInvoker returns an Invoker for the helper at bin. A non-positive
// timeout falls back to DefaultTimeout.
func NewInvoker(bin string, timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{bin: bin, timeout: timeout}
}

// Run invokes the helper with the chosen script, target, and flag pairs.
// Flags are passed as `--key value` in sorted key order so invocations are
// reproducible. On timeout the helper first receives SIGTERM; if it ignores
// that, it is killed after a short delay.
func (i *Invoker) Run(ctx context.Context, script, target string, flags map[string]string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	args := []string{script, target}
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--"+k, flags[k])
	}

	cmd := exec.CommandContext(ctx, i.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitWriter{w: &stdout, n: maxCaptureBytes}
	cmd.Stderr = &limitWriter{w: &stderr, n: maxCaptureBytes}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{PartialStdout: stdout.String()}
	}

	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		res.ExitCode = exitErr.ExitCode()
	}
	res.Success = res.ExitCode == 0
	return res, nil
}

// limitWriter discards bytes past n instead of failing the command.
type limitWriter struct {
	w *bytes.Buffer
	n int
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	if lw.n <= 0 {
		return len(p), nil
	}
	take := p
	if len(take) > lw.n {
		take = take[:lw.n]
	}
	lw.n -= len(take)
	lw.w.Write(take)
	return len(p), nil
}
