package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"simgate/internal/engine"
	"simgate/internal/metrics"
	"simgate/internal/stream"
)

// Conn abstracts the client's bidirectional stream. The production
// implementation wraps a websocket connection with a write mutex, so WriteJSON
// and Close may be called from multiple goroutines.
type Conn interface {
	// ReadMessage blocks for the next complete client frame. It returns an
	// error once the connection is closed.
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	// Close sends a close frame with the given code and reason, then closes
	// the underlying stream. Safe to call more than once.
	Close(code int, reason string) error
}

// Config carries the per-session knobs.
type Config struct {
	MaxBuffer      int64
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	StderrAllow    []string
}

const (
	// sendBuffer is the outbound high-water mark; a client that falls this
	// far behind is a slow consumer and gets disconnected.
	sendBuffer = 256

	// reapGrace is how long a soft-terminated child may linger before the
	// hard kill.
	reapGrace = 3 * time.Second
)

// Supervisor owns one control session: a client stream, an engine child, and
// the three activities relaying between them (client→child, child→client,
// idle timer). All teardown paths converge on a single close step so the
// child is reaped and the admission slot released exactly once.
type Supervisor struct {
	id        string
	conn      Conn
	child     engine.Child
	cfg       Config
	broadcast func([]byte)
	log       zerolog.Logger

	sendCh    chan any
	quit      chan struct{}
	closeOnce sync.Once
	idleReset chan struct{}

	pendingMu sync.Mutex
	pending   map[string]*time.Timer
}

// New constructs a Supervisor for an accepted control stream. broadcast, if
// non-nil, receives each wrapped telemetry frame for subscriber fan-out.
func New(id string, conn Conn, child engine.Child, cfg Config, broadcast func([]byte), logger zerolog.Logger) *Supervisor {
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = stream.DefaultMaxBuffer
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Hour
	}
	return &Supervisor{
		id:        id,
		conn:      conn,
		child:     child,
		cfg:       cfg,
		broadcast: broadcast,
		log:       logger.With().Str("session", id).Int("pid", child.PID()).Logger(),
		sendCh:    make(chan any, sendBuffer),
		quit:      make(chan struct{}),
		idleReset: make(chan struct{}, 1),
		pending:   make(map[string]*time.Timer),
	}
}

// Run sends the welcome frame, drives the session activities, and blocks
// until the stream is closed, the child reaped, and every goroutine stopped.
func (s *Supervisor) Run() {
	welcome := Welcome{
		Status:    "connected",
		Message:   "engine session established",
		PID:       s.child.PID(),
		SessionID: s.id,
	}
	if err := s.conn.WriteJSON(welcome); err != nil {
		s.teardown(nil, CloseNormal, "write failure", engine.TermSoft)
	}

	var wg sync.WaitGroup
	wg.Add(5)
	go func() { defer wg.Done(); s.writeLoop() }()
	go func() { defer wg.Done(); s.readLoop() }()
	go func() { defer wg.Done(); s.demuxLoop() }()
	go func() { defer wg.Done(); s.stderrLoop() }()
	go func() { defer wg.Done(); s.idleLoop() }()
	wg.Wait()

	<-s.child.Exited()
	s.child.Close()
	metrics.ChildrenReaped.Inc()
	s.cancelPending()
	s.log.Info().Int("exit_code", s.child.Status().Code).Msg("session closed")
}

// teardown performs the one-and-only close step: optional final error frame,
// protocol close, child termination (escalating to a hard kill after
// reapGrace). Subsequent calls are no-ops.
func (s *Supervisor) teardown(final *ErrorFrame, closeCode int, reason string, mode engine.TermMode) {
	s.closeOnce.Do(func() {
		close(s.quit)
		if final != nil {
			_ = s.conn.WriteJSON(*final)
		}
		_ = s.conn.Close(closeCode, reason)
		_ = s.child.Terminate(mode)
		go func() {
			select {
			case <-s.child.Exited():
			case <-time.After(reapGrace):
				_ = s.child.Terminate(engine.TermHard)
			}
		}()
		s.log.Info().Str("reason", reason).Msg("session closing")
	})
}

// send queues an outbound frame without ever blocking the caller. A full
// queue means the client cannot keep up; the session is torn down rather
// than letting backpressure stall the demux loop.
func (s *Supervisor) send(v any) {
	select {
	case s.sendCh <- v:
	case <-s.quit:
	default:
		s.teardown(nil, CloseTryLater, "Slow consumer", engine.TermSoft)
	}
}

// writeLoop is the sole drainer of sendCh.
func (s *Supervisor) writeLoop() {
	for {
		select {
		case v := <-s.sendCh:
			if err := s.conn.WriteJSON(v); err != nil {
				s.teardown(nil, CloseNormal, "write failure", engine.TermSoft)
				return
			}
		case <-s.quit:
			return
		}
	}
}

// readLoop is Activity A: client frames in, engine stdin out.
func (s *Supervisor) readLoop() {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			s.teardown(nil, CloseNormal, "client closed", engine.TermSoft)
			return
		}
		s.rearmIdle()
		if !s.relayCommand(data) {
			return
		}
	}
}

// relayCommand validates one client frame and writes it to the child's
// stdin. Client-caused format errors are reported and the session continues;
// a stdin write failure is terminal. Returns false when the session is done.
func (s *Supervisor) relayCommand(data []byte) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		s.send(NewError(CodeInvalidFormat, "message must be a JSON object"))
		return true
	}

	var command string
	if raw, ok := obj["command"]; ok {
		_ = json.Unmarshal(raw, &command)
	}
	params, hasParams := obj["params"]
	if command == "" || !hasParams || len(params) == 0 || params[0] != '{' {
		s.send(NewError(CodeInvalidFormat, "command and params are required"))
		return true
	}

	if s.cfg.CommandTimeout > 0 {
		s.trackDeadline(obj)
	}

	line, err := json.Marshal(obj)
	if err != nil {
		s.send(NewError(CodeProcessingError, "failed to serialize command"))
		return true
	}
	if err := s.child.WriteLine(line); err != nil {
		s.log.Warn().Err(err).Msg("engine stdin write failed")
		s.teardown(nil, CloseNormal, "engine unavailable", engine.TermSoft)
		return false
	}
	return true
}

// trackDeadline attaches a request id to the outbound command (when absent)
// and arms a per-command timer. Expiry reports TIMEOUT for that id only; the
// session stays up and a late response is still delivered.
func (s *Supervisor) trackDeadline(obj map[string]json.RawMessage) {
	var id string
	if raw, ok := obj["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	if id == "" {
		id = uuid.NewString()
		obj["id"] = json.RawMessage(strconv.Quote(id))
	}

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if _, exists := s.pending[id]; exists {
		return
	}
	s.pending[id] = time.AfterFunc(s.cfg.CommandTimeout, func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()

		ef := NewError(CodeTimeout, "no response within the command deadline")
		ef.ID = id
		s.send(ef)
	})
}

// resolveDeadline cancels the deadline for a response carrying a tracked id.
func (s *Supervisor) resolveDeadline(payload json.RawMessage) {
	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(payload, &probe) != nil || probe.ID == "" {
		return
	}
	s.pendingMu.Lock()
	if t, ok := s.pending[probe.ID]; ok {
		t.Stop()
		delete(s.pending, probe.ID)
	}
	s.pendingMu.Unlock()
}

// cancelPending stops all outstanding command timers.
func (s *Supervisor) cancelPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

// demuxLoop is Activity B: engine stdout through the framer and classifier,
// out to the client and the metric subscribers.
func (s *Supervisor) demuxLoop() {
	framer := stream.NewFramer(s.cfg.MaxBuffer)
	stdout := s.child.Stdout()
	buf := make([]byte, 32*1024)

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			frames, overflow := framer.Ingest(buf[:n])
			for _, frame := range frames {
				s.handleFrame(frame)
			}
			if overflow {
				ef := NewError(CodeBufferOverflow,
					fmt.Sprintf("engine output line exceeded %d bytes", s.cfg.MaxBuffer))
				s.teardown(&ef, CloseTooBig, "Buffer overflow", engine.TermHard)
				return
			}
		}
		if err != nil {
			// EOF: the child closed stdout, almost always because it exited.
			if rest := framer.Drain(); len(rest) > 0 {
				s.handleFrame(rest)
			}
			select {
			case <-s.child.Exited():
			case <-time.After(reapGrace):
				_ = s.child.Terminate(engine.TermHard)
				<-s.child.Exited()
			}
			st := s.child.Status()
			ef := NewError(CodeCLIExited, fmt.Sprintf("engine process exited (%s)", st.Reason))
			code := st.Code
			ef.ExitCode = &code
			s.teardown(&ef, CloseNormal, "Engine exited", engine.TermSoft)
			return
		}
	}
}

// handleFrame routes one classified stdout frame.
func (s *Supervisor) handleFrame(frame []byte) {
	kind, payload := stream.Classify(frame)
	switch kind {
	case stream.Telemetry:
		metrics.Frames.WithLabelValues("telemetry").Inc()
		wrapped, err := json.Marshal(WrapMetrics(payload))
		if err != nil {
			return
		}
		s.send(json.RawMessage(wrapped))
		if s.broadcast != nil {
			s.broadcast(wrapped)
		}
	case stream.Response:
		metrics.Frames.WithLabelValues("response").Inc()
		s.resolveDeadline(payload)
		s.send(payload)
	case stream.Malformed:
		metrics.Frames.WithLabelValues("malformed").Inc()
		s.log.Warn().
			Str("frame", stream.TruncateForLog(frame, 256)).
			Msg("dropping malformed engine frame")
	}
}

// stderrLoop forwards non-benign engine stderr to the client as CLI_STDERR
// errors. Allow-listed lines (banners, progress noise) are logged only.
// Neither case is terminal.
func (s *Supervisor) stderrLoop() {
	scanner := bufio.NewScanner(s.child.Stderr())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if s.benignStderr(line) {
			s.log.Debug().Str("line", line).Msg("engine stderr")
			continue
		}
		s.send(NewError(CodeCLIStderr, line))
	}
}

// benignStderr reports whether line matches the configured allow-list.
func (s *Supervisor) benignStderr(line string) bool {
	for _, pat := range s.cfg.StderrAllow {
		if pat != "" && strings.Contains(line, pat) {
			return true
		}
	}
	return false
}

// idleLoop is Activity C: a rearmable quiescence timer. Expiry closes the
// session normally with the idle-timeout reason.
func (s *Supervisor) idleLoop() {
	timer := time.NewTimer(s.cfg.IdleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			s.teardown(nil, CloseNormal, "Idle timeout", engine.TermSoft)
			return
		case <-s.idleReset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.cfg.IdleTimeout)
		case <-s.quit:
			return
		}
	}
}

// rearmIdle signals the idle timer that a client message arrived.
func (s *Supervisor) rearmIdle() {
	select {
	case s.idleReset <- struct{}{}:
	default:
	}
}
