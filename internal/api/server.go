package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/lmrate/internal/config"
	"github.com/dgallion1/lmrate/internal/pipeline"
	"github.com/dgallion1/lmrate/internal/scorer"
)

// Server is the HTTP API server for lmrate.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	stats        *scorer.Stats
	log          *slog.Logger
	cfg          config.Config
	defaults     pipeline.Settings
}

// NewServer creates and configures the HTTP server. stats may be nil when
// the scorer is not instrumented.
func NewServer(orch *pipeline.Orchestrator, stats *scorer.Stats, log *slog.Logger, cfg config.Config) (*Server, error) {
	dc, err := cfg.DecoderSettings()
	if err != nil {
		return nil, err
	}
	lc, err := cfg.LatticeSettings()
	if err != nil {
		return nil, err
	}
	s := &Server{
		orchestrator: orch,
		stats:        stats,
		log:          log,
		cfg:          cfg,
		defaults: pipeline.Settings{
			Lattice:             lc,
			Decoder:             dc,
			AlternativeDecoding: cfg.Decoder.AlternativeDecoding,
		},
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.Server.APIKey, s.log))

		r.Post("/api/rate", s.handleRate)
		r.Post("/api/rate/batch", s.handleBatchRate)
		r.Get("/api/rate/{jobID}/status", s.handleRateStatus)
		r.Get("/api/rate/{jobID}/result", s.handleRateResult)
		r.Get("/api/stats/scorer", s.handleScorerStats)

		r.Get("/api/documents", s.handleListDocuments)
		r.Get("/api/documents/{docID}", s.handleGetDocument)
		r.Get("/api/documents/{docID}/page", s.handleGetPage)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
