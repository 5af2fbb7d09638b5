// Package api exposes pipeline runs over HTTP. Each request gets its own run
// and context store; the pipeline plan can be swapped while serving.
package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lucasnoah/refinery/internal/orchestrator"
)

// Server is the HTTP API server.
type Server struct {
	orch    atomic.Pointer[orchestrator.Orchestrator]
	log     *zap.Logger
	version string
	router  chi.Router
}

// NewServer creates a server running pipelines through o.
func NewServer(o *orchestrator.Orchestrator, log *zap.Logger, version string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{log: log, version: version}
	s.orch.Store(o)
	s.setupRouter()
	return s
}

// Swap replaces the orchestrator used by new requests. Runs already in
// flight finish on the one they started with.
func (s *Server) Swap(o *orchestrator.Orchestrator) {
	s.orch.Store(o)
	s.log.Info("pipeline swapped", zap.String("pipeline", o.Plan().Name()))
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pipeline", s.handlePipeline)
		r.Post("/runs", s.handleRun)
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
