package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"simgate/internal/analysis"
	"simgate/internal/config"
	"simgate/internal/engine"
	"simgate/internal/fsbrowse"
	"simgate/internal/mission"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireJSON checks the Content-Type header and returns false (with a 415
// response) if it is not application/json.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         config.Version,
		"active_sessions": s.deps.Admit.Active(),
	})
}

func (s *Server) handleListEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"engines": engine.Names})
}

// handleDescribeEngine shells out to the engine binary for its capability
// document. The run is synchronous and bounded by the describe timeout.
func (s *Server) handleDescribeEngine(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !engine.KnownEngine(name) {
		writeError(w, http.StatusNotFound, "unknown engine")
		return
	}

	doc, err := engine.Describe(r.Context(), s.cfg.EngineBin, name)
	if err != nil {
		var de *engine.DescribeError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusRequestTimeout, "engine did not respond in time")
		case errors.Is(err, engine.ErrNotFound):
			writeError(w, http.StatusBadGateway, "engine binary not found")
		case errors.As(err, &de):
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":  de.Msg,
				"stderr": de.Stderr,
			})
		default:
			s.log.Error().Err(err).Str("engine", name).Msg("describe failed")
			writeError(w, http.StatusInternalServerError, "describe failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"engine": name, "capabilities": doc})
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")

	shown, entries, err := s.deps.Browser.List(rel)
	if err != nil {
		switch {
		case errors.Is(err, fsbrowse.ErrOutsideBase):
			writeError(w, http.StatusBadRequest, "path escapes the browsing root")
		case errors.Is(err, os.ErrNotExist):
			writeError(w, http.StatusNotFound, "no such directory")
		default:
			s.log.Error().Err(err).Str("path", rel).Msg("browse failed")
			writeError(w, http.StatusInternalServerError, "listing failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"path": shown, "files": entries})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req struct {
		Script string            `json:"script"`
		Target string            `json:"target"`
		Flags  map[string]string `json:"flags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Script == "" || req.Target == "" {
		writeError(w, http.StatusBadRequest, "script and target are required")
		return
	}

	res, err := s.deps.Analysis.Run(r.Context(), req.Script, req.Target, req.Flags)
	if err != nil {
		var te *analysis.TimeoutError
		if errors.As(err, &te) {
			writeJSON(w, http.StatusRequestTimeout, map[string]string{
				"error":          "analysis timed out",
				"partial_stdout": te.PartialStdout,
			})
			return
		}
		s.log.Error().Err(err).Str("script", req.Script).Msg("analysis failed")
		writeError(w, http.StatusBadGateway, "analysis helper failed to run")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"missions": s.deps.Missions.List()})
}

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req struct {
		Name          string         `json:"name"`
		Engine        string         `json:"engine"`
		Parameters    map[string]any `json:"parameters"`
		BriefMarkdown string         `json:"brief_markdown"`
		BriefLatex    string         `json:"brief_latex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !engine.KnownEngine(req.Engine) {
		writeError(w, http.StatusBadRequest, "unknown engine")
		return
	}

	m := s.deps.Missions.Create(context.Background(), req.Name, req.Engine,
		req.Parameters, req.BriefMarkdown, req.BriefLatex)
	// Launch is asynchronous; the record is returned in pending state.
	writeJSON(w, http.StatusAccepted, m)
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, ok := s.deps.Missions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMissionCommand(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	m, err := s.deps.Missions.Command(r.PathValue("id"), req.Command)
	if err != nil {
		switch {
		case errors.Is(err, mission.ErrNotFound):
			writeError(w, http.StatusNotFound, "mission not found")
		case errors.Is(err, mission.ErrBadCommand):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "command failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMissionBrief(w http.ResponseWriter, r *http.Request) {
	m, ok := s.deps.Missions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"markdown": m.BriefMarkdown,
		"latex":    m.BriefLatex,
		"html":     mission.RenderBriefHTML(m.BriefMarkdown),
	})
}
