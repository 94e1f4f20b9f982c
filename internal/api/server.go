// Package api exposes the HTTP interface for the frontier service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lookuply/frontier/internal/config"
	"github.com/lookuply/frontier/internal/frontier"
	"github.com/lookuply/frontier/internal/metrics"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the frontier service.
type Server struct {
	router  chi.Router
	service *frontier.Service
	pinger  Pinger
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. pinger may be
// nil when the store has no liveness check (the in-memory store).
func NewServer(service *frontier.Service, pinger Pinger, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		pinger:  pinger,
		cfg:     cfg,
		logger:  logger,
	}
	timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/urls", func(r chi.Router) {
			r.Post("/", s.enqueueURL)
			r.Post("/batch", s.enqueueBatch)
			r.Route("/{url_key}", func(r chi.Router) {
				r.Get("/", s.getURL)
				r.Delete("/", s.deleteURL)
				r.Post("/complete", s.completeURL)
				r.Post("/fail", s.failURL)
			})
		})
		r.Post("/dispatch", s.dispatch)
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type enqueueRequest struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}

func (s *Server) enqueueURL(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	rec, created, err := s.service.Enqueue(r.Context(), req.URL, req.Priority)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"url": rec, "created": created})
}

type batchEnqueueRequest struct {
	URLs []enqueueRequest `json:"urls"`
}

type batchEnqueueResponse struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Invalid int      `json:"invalid"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors,omitempty"`
}

func (s *Server) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req batchEnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}
	if max := s.cfg.Frontier.MaxBatchEnqueueSize; len(req.URLs) > max {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many urls: %d exceeds limit of %d", len(req.URLs), max))
		return
	}

	resp := batchEnqueueResponse{Total: len(req.URLs)}
	for _, item := range req.URLs {
		_, created, err := s.service.Enqueue(r.Context(), item.URL, item.Priority)
		switch {
		case err == nil && created:
			resp.Added++
		case err == nil:
			resp.Skipped++
		case errors.Is(err, frontier.ErrInvalidURL):
			resp.Invalid++
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", item.URL, err))
		default:
			s.writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type dispatchRequest struct {
	Node         string `json:"node"`
	MaxCount     int    `json:"max_count"`
	LeaseSeconds int    `json:"lease_seconds"`
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Node == "" {
		writeError(w, http.StatusBadRequest, "node is required")
		return
	}
	if req.MaxCount <= 0 {
		req.MaxCount = s.cfg.Frontier.DispatchBatch
	}
	urls, err := s.service.Dispatch(r.Context(), frontier.DispatchRequest{
		Node:     req.Node,
		MaxCount: req.MaxCount,
		Lease:    time.Duration(req.LeaseSeconds) * time.Second,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if urls == nil {
		urls = []frontier.URLRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls, "count": len(urls)})
}

type reportRequest struct {
	Node  string `json:"node"`
	Error string `json:"error"`
}

func (s *Server) completeURL(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "url_key")
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Node == "" {
		writeError(w, http.StatusBadRequest, "node is required")
		return
	}
	rec, err := s.service.Complete(r.Context(), key, req.Node)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": rec})
}

func (s *Server) failURL(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "url_key")
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Node == "" {
		writeError(w, http.StatusBadRequest, "node is required")
		return
	}
	rec, err := s.service.Fail(r.Context(), key, req.Node, req.Error)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": rec})
}

func (s *Server) getURL(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "url_key")
	rec, err := s.service.Get(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": rec})
}

func (s *Server) deleteURL(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "url_key")
	if err := s.service.Remove(r.Context(), key); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, frontier.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, frontier.ErrClaimConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, frontier.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, frontier.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			duration := time.Since(start)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.ObserveHTTPRequest(r.Method, route, ww.status, duration)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
