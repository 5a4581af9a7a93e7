// Package server exposes the swarm's admin HTTP API: system status, bus
// introspection, the decision audit trail, approval actions, and a live
// operations stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/database"
	"github.com/MRT0B13/novaos/internal/decision"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/ledger"
	"github.com/MRT0B13/novaos/internal/metrics"
)

// Deps holds everything the admin API reads from or acts on.
type Deps struct {
	Log           zerolog.Logger
	Config        *config.Config
	Engine        *decision.Engine
	Messages      *bus.MessageRepository
	Heartbeats    *bus.HeartbeatRepository
	Registrations *bus.RegistrationRepository
	DecisionLog   *ledger.DecisionLogRepository
	Closed        *ledger.ClosedPositionRepository
	Events        *events.Bus
	Databases     map[string]*database.DB
}

// Server is the admin HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	deps      Deps
	startedAt time.Time
}

// New builds the server and mounts all routes.
func New(d Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       d.Log.With().Str("component", "server").Logger(),
		deps:      d,
		startedAt: time.Now(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/system/status", s.handleSystemStatus)
			r.Get("/agents", s.handleAgents)
			r.Get("/bus/stats", s.handleBusStats)
			r.Get("/decisions/recent", s.handleRecentDecisions)
			r.Get("/pnl/summary", s.handlePnlSummary)

			r.Get("/approvals", s.handleListApprovals)
			r.Post("/approvals/{id}/approve", s.handleApprove)
			r.Post("/approvals/{id}/reject", s.handleReject)

			r.Post("/engine/run", s.handleRunCycle)
		})

		// No timeout: the stream holds its connection open.
		r.Get("/ops/stream", s.handleOpsStream)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", d.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the ops stream holds its connection open
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.deps.Config.Port).Msg("Starting admin HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down admin HTTP server")
	return s.server.Shutdown(ctx)
}
