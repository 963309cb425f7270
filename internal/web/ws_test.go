package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"simgate/internal/engine"
	"simgate/internal/session"
)

// wsChild is an in-memory engine.Child for upgrade-path tests.
type wsChild struct {
	mu    sync.Mutex
	stdin [][]byte

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	exitCh   chan struct{}
	exitOnce sync.Once
	status   engine.ExitStatus
}

func newWSChild() *wsChild {
	c := &wsChild{exitCh: make(chan struct{})}
	c.stdoutR, c.stdoutW = io.Pipe()
	c.stderrR, c.stderrW = io.Pipe()
	return c
}

func (c *wsChild) PID() int { return 4242 }

func (c *wsChild) WriteLine(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdin = append(c.stdin, append([]byte(nil), line...))
	return nil
}

func (c *wsChild) stdinLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stdin)
}

func (c *wsChild) Terminate(mode engine.TermMode) error {
	c.exitOnce.Do(func() {
		c.status = engine.ExitStatus{Code: 143, Reason: "terminated"}
		c.stdoutW.Close()
		c.stderrW.Close()
		close(c.exitCh)
	})
	return nil
}

func (c *wsChild) Exited() <-chan struct{}   { return c.exitCh }
func (c *wsChild) Status() engine.ExitStatus { return c.status }
func (c *wsChild) Stdout() io.Reader         { return c.stdoutR }
func (c *wsChild) Stderr() io.Reader         { return c.stderrR }
func (c *wsChild) Close() {
	c.stdoutR.Close()
	c.stderrR.Close()
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]json.RawMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return m
}

func str(m map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := m[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a close frame, got %v", err)
	}
	if ce.Code != code {
		t.Fatalf("expected close code %d, got %d (%s)", code, ce.Code, ce.Text)
	}
}

func TestControlWSRejectsMissingToken(t *testing.T) {
	_, ts := newTestServer(t, func(string) (engine.Child, error) {
		t.Error("spawner must not run for an unauthenticated client")
		return nil, errors.New("unexpected spawn")
	}, 1)

	conn := dialWS(t, ts, "/ws")
	frame := readFrame(t, conn)
	if str(frame, "error_code") != session.CodeAuthRequired {
		t.Fatalf("expected %s, got %v", session.CodeAuthRequired, frame)
	}
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestControlWSServerBusy(t *testing.T) {
	child := newWSChild()
	_, ts := newTestServer(t, func(string) (engine.Child, error) {
		return child, nil
	}, 1)

	first := dialWS(t, ts, "/ws?token="+testToken)
	if str(readFrame(t, first), "status") != "connected" {
		t.Fatal("first session should be admitted")
	}

	second := dialWS(t, ts, "/?token="+testToken)
	frame := readFrame(t, second)
	if str(frame, "error_code") != session.CodeServerBusy {
		t.Fatalf("expected %s, got %v", session.CodeServerBusy, frame)
	}
	expectClose(t, second, websocket.CloseTryAgainLater)
}

func TestControlWSSpawnFailure(t *testing.T) {
	_, ts := newTestServer(t, func(string) (engine.Child, error) {
		return nil, errors.New("exec format error")
	}, 1)

	conn := dialWS(t, ts, "/ws?token="+testToken)
	frame := readFrame(t, conn)
	if str(frame, "error_code") != session.CodeCLINotFound {
		t.Fatalf("expected %s, got %v", session.CodeCLINotFound, frame)
	}
}

func TestControlWSRoundtripAndFanout(t *testing.T) {
	child := newWSChild()
	srv, ts := newTestServer(t, func(string) (engine.Child, error) {
		return child, nil
	}, 2)

	// Passive subscriber first so it sees the telemetry.
	sub := dialWS(t, ts, "/ws/metrics?token="+testToken)
	if str(readFrame(t, sub), "status") != "connected" {
		t.Fatal("subscriber welcome missing")
	}

	control := dialWS(t, ts, "/ws?token="+testToken)
	welcome := readFrame(t, control)
	if str(welcome, "status") != "connected" {
		t.Fatalf("expected welcome, got %v", welcome)
	}
	var pid int
	if json.Unmarshal(welcome["pid"], &pid) != nil || pid != 4242 {
		t.Fatalf("expected pid 4242 in welcome, got %s", welcome["pid"])
	}

	// Client command reaches the child's stdin.
	err := control.WriteJSON(map[string]any{"command": "propagate", "params": map[string]any{}})
	if err != nil {
		t.Fatalf("write command: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for child.stdinLen() == 0 {
		select {
		case <-deadline:
			t.Fatal("command never reached the child")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Telemetry reaches both the owner and the subscriber.
	child.stdoutW.Write([]byte(`METRIC:{"altitude":100}` + "\n"))
	for _, conn := range []*websocket.Conn{control, sub} {
		frame := readFrame(t, conn)
		if str(frame, "type") != "metrics:update" {
			t.Fatalf("expected metrics:update, got %v", frame)
		}
	}

	// A response frame goes only to the owning session.
	child.stdoutW.Write([]byte(`{"status":"success"}` + "\n"))
	if str(readFrame(t, control), "status") != "success" {
		t.Fatal("response frame missing on the control stream")
	}

	control.Close()
	select {
	case <-child.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("child was not terminated after the client left")
	}

	if srv.deps.Hub.Len() != 1 {
		t.Fatalf("subscriber should remain registered, got %d", srv.deps.Hub.Len())
	}
}
