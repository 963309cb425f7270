package engine

import (
	"bufio"
	"testing"
	"time"
)

func waitExit(t *testing.T, p *Process) ExitStatus {
	t.Helper()
	select {
	case <-p.Exited():
		return p.Status()
	case <-time.After(5 * time.Second):
		t.Fatal("child never exited")
		return ExitStatus{}
	}
}

func TestSpawnRoundtrip(t *testing.T) {
	p, err := Spawn("/bin/sh", []string{"-c", `read line; echo "$line"`}, t.TempDir())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Close()

	if p.PID() <= 0 {
		t.Fatalf("expected a real pid, got %d", p.PID())
	}
	if err := p.WriteLine([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	scanner := bufio.NewScanner(p.Stdout())
	if !scanner.Scan() {
		t.Fatal("no stdout line")
	}
	if got := scanner.Text(); got != "ping" {
		t.Fatalf("expected ping, got %q", got)
	}

	st := waitExit(t, p)
	if st.Code != 0 || st.Reason != "exited" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestTerminateSoft(t *testing.T) {
	p, err := Spawn("/bin/sh", []string{"-c", "sleep 30"}, t.TempDir())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Close()

	if err := p.Terminate(TermSoft); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	st := waitExit(t, p)
	if st.Code != 143 {
		t.Fatalf("expected 128+SIGTERM, got %d (%s)", st.Code, st.Reason)
	}

	// Signalling after exit is a no-op.
	if err := p.Terminate(TermHard); err != nil {
		t.Fatalf("terminate after exit: %v", err)
	}
}

func TestTerminateHard(t *testing.T) {
	// Traps SIGTERM, so only the hard kill ends it.
	p, err := Spawn("/bin/sh", []string{"-c", "trap '' TERM; sleep 30"}, t.TempDir())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Close()

	_ = p.Terminate(TermSoft)
	select {
	case <-p.Exited():
		t.Fatal("trapped child should survive SIGTERM")
	case <-time.After(200 * time.Millisecond):
	}

	if err := p.Terminate(TermHard); err != nil {
		t.Fatalf("hard terminate: %v", err)
	}
	st := waitExit(t, p)
	if st.Code != 137 {
		t.Fatalf("expected 128+SIGKILL, got %d (%s)", st.Code, st.Reason)
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	if _, err := Spawn("/no/such/binary", nil, t.TempDir()); err == nil {
		t.Fatal("expected spawn failure for a missing binary")
	}
}

func TestStdoutEOFAfterExit(t *testing.T) {
	p, err := Spawn("/bin/sh", []string{"-c", "echo done"}, t.TempDir())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer p.Close()

	scanner := bufio.NewScanner(p.Stdout())
	if !scanner.Scan() || scanner.Text() != "done" {
		t.Fatal("expected the done line")
	}
	// The parent released its write end, so EOF follows the exit.
	if scanner.Scan() {
		t.Fatalf("unexpected extra output: %q", scanner.Text())
	}
	waitExit(t, p)
}
