// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
	"github.com/movieapp/moviecache-crawler/internal/metrics"
	"github.com/movieapp/moviecache-crawler/internal/runner"
)

// RunDriver is the slice of the runner the API needs.
type RunDriver interface {
	Run(ctx context.Context) (catalog.RunResult, error)
	Running() bool
	LastRun() (catalog.RunResult, bool)
}

// Server wires HTTP handlers to the run driver and history.
type Server struct {
	router  chi.Router
	driver  RunDriver
	history catalog.RunHistory
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(driver RunDriver, history catalog.RunHistory, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		driver:  driver,
		history: history,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.triggerRun)
			r.Get("/latest", s.latestRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// triggerRun starts a run in the background. The runner enforces the "one
// run at a time" invariant across all trigger sources, so a trigger that
// races a scheduled run still resolves to a single run; the Running check
// here just answers 409 without spawning a goroutine.
func (s *Server) triggerRun(w http.ResponseWriter, _ *http.Request) {
	if s.driver == nil {
		writeError(w, http.StatusServiceUnavailable, "runner not configured")
		return
	}
	if s.driver.Running() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	go func() {
		if _, err := s.driver.Run(context.Background()); err != nil {
			if errors.Is(err, runner.ErrRunInProgress) {
				s.logger.Warn("trigger lost the race to another run")
				return
			}
			s.logger.Error("triggered run failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// latestRun reports the in-process last run when available, falling back to
// the persisted history so restarts still answer.
func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	if s.driver != nil {
		if last, ok := s.driver.LastRun(); ok {
			writeJSON(w, http.StatusOK, last)
			return
		}
	}
	if s.history != nil {
		last, err := s.history.LatestRun(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, last)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no runs recorded")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
