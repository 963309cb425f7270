package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"simgate/internal/auth"
	"simgate/internal/metrics"
	"simgate/internal/session"
)

// closeWriteWait bounds how long a close control frame may take to flush.
const closeWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway is reached by operator tooling, not browsers on foreign
	// origins; auth happens after the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla websocket connection to session.Conn. The write
// mutex serializes WriteJSON and the close frame, which gorilla requires.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteJSON(v)
}

// writeFrame sends one text frame with a write deadline.
func (w *wsConn) writeFrame(frame []byte, deadline time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(deadline)
	return w.c.WriteMessage(websocket.TextMessage, frame)
}

func (w *wsConn) Close(code int, reason string) error {
	w.mu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	w.mu.Unlock()
	return w.c.Close()
}

// reject sends an error frame on a just-upgraded connection, then closes it
// with the given protocol code.
func reject(conn *wsConn, frame session.ErrorFrame, closeCode int, reason string) {
	_ = conn.WriteJSON(frame)
	_ = conn.Close(closeCode, reason)
}

// handleControlWS accepts a control session: authenticate, admit, spawn an
// engine child, then hand the connection to a session supervisor. The
// handler blocks for the life of the session.
func (s *Server) handleControlWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	conn := &wsConn{c: raw}

	token := auth.ExtractToken(r)
	if token == "" || !s.deps.Tokens.Contains(token) {
		metrics.AdmissionRejects.WithLabelValues("auth").Inc()
		reject(conn, session.NewError(session.CodeAuthRequired, "valid token required"),
			session.ClosePolicyViolation, "Authentication required")
		return
	}

	if !s.deps.Admit.TryAcquire() {
		metrics.AdmissionRejects.WithLabelValues("capacity").Inc()
		reject(conn, session.NewError(session.CodeServerBusy, "session limit reached, try again later"),
			session.CloseTryLater, "Server busy")
		return
	}
	defer s.deps.Admit.Release()

	child, err := s.deps.Spawn(s.cfg.EngineDir)
	if err != nil {
		metrics.AdmissionRejects.WithLabelValues("spawn").Inc()
		s.log.Error().Err(err).Msg("engine spawn failed")
		reject(conn, session.NewError(session.CodeCLINotFound, "engine binary could not be started"),
			websocket.CloseInternalServerErr, "Engine unavailable")
		return
	}
	metrics.ChildrenSpawned.Inc()
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	id := uuid.NewString()
	sup := session.New(id, conn, child, session.Config{
		MaxBuffer:      s.cfg.MaxBufferBytes,
		IdleTimeout:    s.cfg.IdleTimeout,
		CommandTimeout: s.cfg.CommandTimeout,
		StderrAllow:    s.cfg.StderrAllow,
	}, s.broadcast, s.log)

	s.log.Info().Str("session", id).Int("pid", child.PID()).Msg("control session started")
	sup.Run()
}

// broadcast fans one wrapped telemetry frame out to the passive subscribers.
func (s *Server) broadcast(frame []byte) {
	delivered := s.deps.Hub.Broadcast(frame)
	if delivered > 0 {
		metrics.BroadcastDeliveries.Add(float64(delivered))
	}
}

// handleMetricsWS accepts a passive telemetry subscriber. No engine process
// is spawned and the admission cap does not apply; the subscriber simply
// receives every broadcast frame until it disconnects or falls behind.
func (s *Server) handleMetricsWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &wsConn{c: raw}

	token := auth.ExtractToken(r)
	if token == "" || !s.deps.Tokens.Contains(token) {
		metrics.AdmissionRejects.WithLabelValues("auth").Inc()
		reject(conn, session.NewError(session.CodeAuthRequired, "valid token required"),
			session.ClosePolicyViolation, "Authentication required")
		return
	}

	if err := conn.WriteJSON(session.Welcome{
		Status:  "connected",
		Message: "metrics stream established",
	}); err != nil {
		_ = conn.Close(session.CloseNormal, "write failure")
		return
	}

	sub := s.deps.Hub.Add()
	defer s.deps.Hub.Remove(sub)
	metrics.Subscribers.Inc()
	defer metrics.Subscribers.Dec()

	// Inbound frames are ignored; the read loop only detects disconnect.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := raw.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-sub.C():
			if err := conn.writeFrame(frame, time.Now().Add(closeWriteWait)); err != nil {
				_ = conn.Close(session.CloseNormal, "write failure")
				return
			}
		case <-sub.Done():
			// Dropped by the hub for falling behind.
			_ = conn.Close(session.CloseTryLater, "Slow consumer")
			return
		case <-clientGone:
			_ = conn.Close(session.CloseNormal, "client closed")
			return
		}
	}
}
