package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Names lists the engines the gateway recognizes. Introspection for anything
// else is refused before a process is spawned.
var Names = []string{"orbital", "launch", "rendezvous", "attitude"}

// KnownEngine reports whether name is a recognized engine.
func KnownEngine(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// DescribeTimeout bounds a capability introspection run.
const DescribeTimeout = 30 * time.Second

// maxCaptureBytes bounds the stdout/stderr captured from a one-shot run.
const maxCaptureBytes = 1 << 20

// DescribeError carries the stderr tail of a failed introspection run.
type DescribeError struct {
	Msg    string
	Stderr string
}

func (e *DescribeError) Error() string { return e.Msg }

// ErrNotFound indicates the engine binary is missing at the configured path.
var ErrNotFound = errors.New("engine binary not found")

// Describe runs the engine binary with `--describe <name>` and returns the
// parsed capability document. When the output has the envelope
// {status:"success", result:X} the result is unwrapped; otherwise the whole
// object is returned. The run is bounded by DescribeTimeout (or the ctx
// deadline, whichever is sooner); exceeding it kills the child.
func Describe(ctx context.Context, bin, name string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, DescribeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "--describe", name)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitWriter{w: &stdout, n: maxCaptureBytes}
	cmd.Stderr = &limitWriter{w: &stderr, n: maxCaptureBytes}

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, context.DeadlineExceeded
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &DescribeError{
				Msg:    fmt.Sprintf("engine exited with code %d", exitErr.ExitCode()),
				Stderr: tail(stderr.String(), 2048),
			}
		}
		return nil, err
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, &DescribeError{Msg: "engine produced no output", Stderr: tail(stderr.String(), 2048)}
	}

	var envelope struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	var whole map[string]json.RawMessage
	if jsonErr := json.Unmarshal(out, &whole); jsonErr != nil {
		return nil, &DescribeError{Msg: "engine output is not a JSON object", Stderr: tail(stderr.String(), 2048)}
	}
	if json.Unmarshal(out, &envelope) == nil && envelope.Status == "success" && len(envelope.Result) > 0 {
		return envelope.Result, nil
	}
	return out, nil
}

// tail returns the last n bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// limitWriter discards bytes past n instead of failing the command.
type limitWriter struct {
	w io.Writer
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
	if _, err := lw.w.Write(take); err != nil {
		return 0, err
	}
	return len(p), nil
}
