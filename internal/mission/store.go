// Package mission keeps the process-scoped mission records. Nothing here is
// durable: restarting the process forgets every mission.
package mission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"simgate/internal/log"
)

// Status is a mission's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusTerminated Status = "terminated"
	StatusFailed     Status = "failed"
)

// Mission is one mission record as reported to clients.
type Mission struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Engine        string         `json:"engine"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	Parameters    map[string]any `json:"parameters"`
	BriefMarkdown string         `json:"brief_markdown,omitempty"`
	BriefLatex    string         `json:"brief_latex,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// LaunchFunc performs the asynchronous launch work for a freshly created
// mission. A nil error flips the mission to running; otherwise it fails with
// the error text.
type LaunchFunc func(ctx context.Context, m Mission) error

var (
	// ErrNotFound is returned for commands against unknown mission ids.
	ErrNotFound = errors.New("mission not found")
	// ErrBadCommand is returned for commands outside the lifecycle verbs.
	ErrBadCommand = errors.New("unknown mission command")
)

// entry pairs a record with its per-mission mutex so concurrent commands for
// the same mission are serialized without holding the store lock.
type entry struct {
	mu sync.Mutex
	m  Mission
}

// Store is the in-memory mission map.
type Store struct {
	mu       sync.Mutex
	missions map[string]*entry
	launch   LaunchFunc
}

// NewStore creates a Store. launch may be nil, in which case created
// missions move straight to running.
func NewStore(launch LaunchFunc) *Store {
	return &Store{
		missions: make(map[string]*entry),
		launch:   launch,
	}
}

// Create registers a new mission in pending state, returns it immediately,
// and launches it asynchronously.
func (s *Store) Create(ctx context.Context, name, engineName string, params map[string]any, briefMD, briefTex string) Mission {
	m := Mission{
		ID:            "m-" + uuid.NewString(),
		Name:          name,
		Engine:        engineName,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
		Parameters:    params,
		BriefMarkdown: briefMD,
		BriefLatex:    briefTex,
	}

	e := &entry{m: m}
	s.mu.Lock()
	s.missions[m.ID] = e
	s.mu.Unlock()

	go s.runLaunch(ctx, e)
	return m
}

// runLaunch drives pending → running | failed.
func (s *Store) runLaunch(ctx context.Context, e *entry) {
	e.mu.Lock()
	m := e.m
	e.mu.Unlock()

	var err error
	if s.launch != nil {
		err = s.launch(ctx, m)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Abort may have removed the record while the launch ran; its status is
	// terminal either way.
	if e.m.Status != StatusPending {
		return
	}
	if err != nil {
		e.m.Status = StatusFailed
		e.m.Error = err.Error()
		logger := log.WithComponent("mission")
		logger.Warn().
			Str("mission", m.ID).Err(err).Msg("mission launch failed")
		return
	}
	e.m.Status = StatusRunning
}

// Get returns a mission by id.
func (s *Store) Get(id string) (Mission, bool) {
	s.mu.Lock()
	e, ok := s.missions[id]
	s.mu.Unlock()
	if !ok {
		return Mission{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m, true
}

// List returns all missions, newest first.
func (s *Store) List() []Mission {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.missions))
	for _, e := range s.missions {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Mission, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.m)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Command applies a lifecycle verb (start, pause, resume, abort) to an
// existing mission and returns the updated record. Abort additionally
// removes the record from the store.
func (s *Store) Command(id, command string) (Mission, error) {
	s.mu.Lock()
	e, ok := s.missions[id]
	s.mu.Unlock()
	if !ok {
		return Mission{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch command {
	case "start", "resume":
		e.m.Status = StatusRunning
	case "pause":
		e.m.Status = StatusPaused
	case "abort":
		e.m.Status = StatusTerminated
		s.mu.Lock()
		delete(s.missions, id)
		s.mu.Unlock()
	default:
		return Mission{}, fmt.Errorf("%w: %q", ErrBadCommand, command)
	}
	return e.m, nil
}

// Len reports the number of live missions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.missions)
}
