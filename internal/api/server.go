// Package api exposes the HTTP surface: job enqueue and polling, streaming
// research, field-level apply, proposal review, and the data quality report.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/harborintel/port-research/internal/approval"
	"github.com/harborintel/port-research/internal/quality"
	"github.com/harborintel/port-research/internal/research"
	"github.com/harborintel/port-research/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	store    store.Store
	orch     *research.Orchestrator
	approval *approval.Service
	quality  *quality.Checker
	origins  []string
	log      *zap.Logger
}

// NewServer wires the HTTP server.
func NewServer(st store.Store, orch *research.Orchestrator, ap *approval.Service, qc *quality.Checker, allowedOrigins []string) *Server {
	return &Server{
		store:    st,
		orch:     orch,
		approval: ap,
		quality:  qc,
		origins:  allowedOrigins,
		log:      zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleEnqueueJobs)
			r.Get("/", s.handleListJobs)
			r.Get("/{jobID}", s.handleGetJob)
		})

		r.Route("/ports/{portID}", func(r chi.Router) {
			r.Post("/research", s.handlePortResearch)
			r.Patch("/research", s.handlePortApply)
			r.Post("/proposals", s.handleProposePort)
		})
		r.Route("/operators/{operatorID}", func(r chi.Router) {
			r.Post("/research", s.handleOperatorResearch)
			r.Patch("/research", s.handleOperatorApply)
		})

		r.Post("/proposals/batch", s.handleProposalBatch)
		r.Get("/proposals", s.handleListProposals)

		r.Get("/quality", s.handleQuality)
	})

	return r
}

// ListenAndServe runs the server until it fails. Streaming endpoints need a
// long write timeout; the SSE deadlines bound the streams instead.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info("listening", zap.String("addr", addr))
	return srv.ListenAndServe()
}
