// Package api provides the submitter-facing REST surface over the grid's
// store operations. It is a thin binding layer: every handler wraps a
// single store call in JSON request/response plumbing.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/campusgrid/campusgrid/internal/obslog"
	"github.com/campusgrid/campusgrid/internal/store"
)

// Server is the HTTP server wrapping the grid's store.
type Server struct {
	store   *store.Store
	router  chi.Router
	handler *Handler
	log     zerolog.Logger
}

// Config holds the API server's tunables.
type Config struct {
	WriteTimeout    time.Duration
	StartingCredits int
	MinJobCost      int
}

// NewServer creates a Server bound to st.
func NewServer(st *store.Store, cfg Config) *Server {
	s := &Server{
		store: st,
		log:   obslog.Component("api"),
	}
	s.handler = NewHandler(st, cfg)
	s.router = s.setupRoutes(cfg)
	return s
}

// Router returns the chi router, ready to pass to http.Server.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) setupRoutes(cfg Config) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.WriteTimeout > 0 {
		r.Use(middleware.Timeout(cfg.WriteTimeout))
	}

	r.Get("/health", s.handler.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handler.SubmitJob)
			r.Get("/", s.handler.ListJobs)
			r.Get("/{id}", s.handler.GetJob)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/{id}/jobs", s.handler.ListUserJobs)
		})

		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handler.ListWorkers)
			r.Post("/{id}/pause", s.handler.PauseWorker)
			r.Post("/{id}/resume", s.handler.ResumeWorker)
			r.Delete("/{id}", s.handler.RemoveWorker)
		})

		r.Get("/queue/stats", s.handler.QueueStats)
		r.Get("/leaderboard", s.handler.Leaderboard)
		r.Get("/cost", s.handler.CalculateCost)
		r.Get("/activity", s.handler.ListActivity)
	})

	return r
}
