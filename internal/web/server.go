// Package web is the HTTP front: the streaming endpoints, the control API,
// and the prometheus scrape handler.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"simgate/internal/admission"
	"simgate/internal/analysis"
	"simgate/internal/auth"
	"simgate/internal/config"
	"simgate/internal/engine"
	"simgate/internal/fsbrowse"
	"simgate/internal/hub"
	"simgate/internal/log"
	"simgate/internal/mission"
)

// Deps carries the wired components the server fronts.
type Deps struct {
	Tokens   *auth.Registry
	Hub      *hub.Registry
	Admit    *admission.Controller
	Missions *mission.Store
	Browser  *fsbrowse.Browser
	Analysis *analysis.Invoker
	Spawn    engine.Spawner
}

// Server is the HTTP server for the gateway.
type Server struct {
	cfg    config.Config
	deps   Deps
	mux    *http.ServeMux
	server *http.Server
	log    zerolog.Logger
}

// New creates the web server and registers all routes.
func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
		log:  log.WithComponent("web"),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.mux,
		ReadTimeout: 0, // websocket sessions are long-lived
		IdleTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes() {
	// Streaming endpoints. Both paths for each role are equivalent.
	s.mux.HandleFunc("GET /{$}", s.handleControlWS)
	s.mux.HandleFunc("GET /ws", s.handleControlWS)
	s.mux.HandleFunc("GET /metrics", s.handleMetricsWS)
	s.mux.HandleFunc("GET /ws/metrics", s.handleMetricsWS)

	// Health stays unauthenticated so load balancers can probe it.
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Control API, bearer-token gated.
	s.mux.Handle("GET /api/engines", s.requireAuth(s.handleListEngines))
	s.mux.Handle("GET /api/engines/{name}", s.requireAuth(s.handleDescribeEngine))
	s.mux.Handle("GET /api/fs", s.requireAuth(s.handleBrowse))
	s.mux.Handle("POST /api/analysis", s.requireAuth(s.handleAnalysis))
	s.mux.Handle("GET /api/missions", s.requireAuth(s.handleListMissions))
	s.mux.Handle("POST /api/missions", s.requireAuth(s.handleCreateMission))
	s.mux.Handle("GET /api/missions/{id}", s.requireAuth(s.handleGetMission))
	s.mux.Handle("POST /api/missions/{id}/commands", s.requireAuth(s.handleMissionCommand))
	s.mux.Handle("GET /api/missions/{id}/brief", s.requireAuth(s.handleMissionBrief))

	// Prometheus scrape endpoint. /metrics is taken by the telemetry
	// websocket, so the scrape handler lives under /debug.
	s.mux.Handle("GET /debug/metrics", promhttp.Handler())
}

// Start begins serving HTTP requests. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
