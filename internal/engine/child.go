// Package engine spawns and supervises the external simulation CLI.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// TermMode selects how a child is terminated.
type TermMode int

const (
	// TermSoft sends SIGTERM to the child's process group.
	TermSoft TermMode = iota
	// TermHard sends SIGKILL; the exit channel is guaranteed to resolve.
	TermHard
)

// ExitStatus describes how a child ended.
type ExitStatus struct {
	Code   int
	Reason string // "exited" or the signal name
}

// Child is the supervisor's view of a spawned engine process. Tests
// substitute an in-memory implementation.
type Child interface {
	PID() int
	// WriteLine atomically appends line + "\n" to the child's stdin.
	WriteLine(line []byte) error
	// Terminate signals the child. Calling it on an already-exited child is
	// a no-op; the observed exit status is unchanged.
	Terminate(mode TermMode) error
	// Exited is closed once the process has been reaped; ExitStatus is then
	// available via Status.
	Exited() <-chan struct{}
	Status() ExitStatus
	Stdout() io.Reader
	Stderr() io.Reader
	// Close releases the parent's pipe ends. Safe to call more than once.
	Close()
}

// Spawner creates a control-session child. The web layer injects the real
// implementation; tests inject fakes.
type Spawner func(workDir string) (Child, error)

// Process is the os/exec-backed Child implementation.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	writeMu sync.Mutex

	exitCh chan struct{}
	status ExitStatus

	closeOnce sync.Once
}

// Spawn starts the engine binary with the given argv and working directory.
// stdout/stderr are plumbed through explicit os.Pipes so that reaping the
// process never races the readers: the read ends deliver EOF when the child
// exits and are owned by the caller until Close.
func Spawn(bin string, args []string, workDir string) (*Process, error) {
	cmd := exec.Command(bin, args...)
	cmd.Dir = workDir
	// Own process group so Terminate reaches the child's own children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, err
	}
	// The child holds its own copies of the write ends now.
	stdoutW.Close()
	stderrW.Close()

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		stderr: stderrR,
		exitCh: make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

// reap waits for the process and resolves the exit channel.
func (p *Process) reap() {
	err := p.cmd.Wait()
	status := ExitStatus{Code: 0, Reason: "exited"}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		status.Code = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Code = 128 + int(ws.Signal())
			status.Reason = ws.Signal().String()
		}
	default:
		status.Code = -1
		status.Reason = err.Error()
	}
	p.status = status
	close(p.exitCh)
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// WriteLine appends line + "\n" to stdin as a single write.
func (p *Process) WriteLine(line []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := p.stdin.Write(buf); err != nil {
		return fmt.Errorf("engine stdin: %w", err)
	}
	return nil
}

// Terminate signals the child's process group. Soft sends SIGTERM, hard
// SIGKILL. Signalling an already-reaped child is a no-op.
func (p *Process) Terminate(mode TermMode) error {
	select {
	case <-p.exitCh:
		return nil
	default:
	}
	sig := syscall.SIGTERM
	if mode == TermHard {
		sig = syscall.SIGKILL
	}
	// Negative pid addresses the process group.
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	return nil
}

// Exited is closed once the child has been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exitCh }

// Status reports the exit status; valid once Exited is closed.
func (p *Process) Status() ExitStatus { return p.status }

// Stdout returns the child's stdout read end.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr returns the child's stderr read end.
func (p *Process) Stderr() io.Reader { return p.stderr }

// Close releases the parent-held pipe ends.
func (p *Process) Close() {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		p.stdout.Close()
		p.stderr.Close()
	})
}
