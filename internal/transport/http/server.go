// Package http serves the ops endpoints of a running scan: health,
// Prometheus metrics, and read-only views of the run artifacts.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"mexscan/internal/exporter"
	"mexscan/internal/infrastructure"
	"mexscan/internal/pipeline"
)

// Server is the ops HTTP server. It only reads run state; all writes
// stay with the pipeline.
type Server struct {
	addr    string
	layout  exporter.RunLayout
	version string
	started time.Time
	logger  *slog.Logger

	httpServer *http.Server
}

// NewServer wires the ops routes for one run.
func NewServer(addr string, layout exporter.RunLayout, version string, tel *infrastructure.Telemetry, logger *slog.Logger) *Server {
	s := &Server{
		addr:    addr,
		layout:  layout,
		version: version,
		started: time.Now(),
		logger:  logger.With(slog.String("component", "ops_server")),
	}

	router := chi.NewRouter()
	router.Use(traceMiddleware)
	router.Use(requestLogger(s.logger))
	router.Get("/healthz", s.health)
	router.Method(http.MethodGet, "/metrics", tel.MetricsHandler)
	router.Route("/api", func(r chi.Router) {
		r.Get("/run", s.state)
		r.Get("/meta", s.meta)
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime_s": time.Since(s.started).Seconds(),
	})
}

// state returns pipeline_state.json as-is. 404 before the first stage
// transition has been persisted.
func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	state, err := pipeline.LoadState(s.layout.StatePath)
	if err != nil {
		s.renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	if state == nil {
		s.renderError(w, r, http.StatusNotFound, errors.New("no pipeline state yet"))
		return
	}
	render.JSON(w, r, state)
}

func (s *Server) meta(w http.ResponseWriter, r *http.Request) {
	meta, err := exporter.ReadRunMeta(s.layout.RunMetaPath)
	if err != nil {
		s.renderError(w, r, http.StatusNotFound, err)
		return
	}
	render.JSON(w, r, meta)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.logger.WarnContext(r.Context(), "ops request failed",
		"path", r.URL.Path, "status", status, "error", err.Error())
	render.Status(r, status)
	render.JSON(w, r, map[string]any{"error": err.Error()})
}
