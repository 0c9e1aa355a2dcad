// Package api implements the announcement HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/herald-home/herald/internal/announce"
	"github.com/herald-home/herald/internal/buildinfo"
	"github.com/herald-home/herald/internal/history"
	"github.com/herald-home/herald/internal/metrics"
)

// asyncTimeout bounds background announcement processing so an
// abandoned request cannot hold a room task forever.
const asyncTimeout = 5 * time.Minute

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// StatusReporter contributes a named section to the status endpoint.
type StatusReporter interface {
	Name() string
	Status() map[string]any
}

// Server is the HTTP API server.
type Server struct {
	address   string
	port      int
	announcer *announce.Announcer
	journal   *history.Journal
	logger    *slog.Logger
	server    *http.Server
	reporters []StatusReporter
}

// NewServer creates an API server.
func NewServer(address string, port int, announcer *announce.Announcer, journal *history.Journal, logger *slog.Logger) *Server {
	return &Server{
		address:   address,
		port:      port,
		announcer: announcer,
		journal:   journal,
		logger:    logger,
	}
}

// AddStatusReporter registers a component section for GET /api/status.
func (s *Server) AddStatusReporter(r StatusReporter) {
	s.reporters = append(s.reporters, r)
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/announce", s.handleAnnounce)
	mux.HandleFunc("GET /api/announcements", s.handleAnnouncements)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/version", s.handleVersion)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// handleAnnounce accepts an announcement request. The default is
// asynchronous: the request is validated, journaled, and accepted with
// 202 while routing and delivery run in the background. With ?wait=true
// the response carries the full outcome list instead.
func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announce.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if s.journal != nil {
		if err := s.journal.RecordRequest(req); err != nil {
			s.logger.Error("journal request failed", "request_id", req.ID, "error", err)
		}
	}

	if r.URL.Query().Get("wait") == "true" {
		done := metrics.RequestAccepted()
		outcomes, err := s.announcer.Announce(r.Context(), req)
		done()
		if err != nil {
			if errors.Is(err, announce.ErrInvalidRequest) {
				s.errorResponse(w, http.StatusBadRequest, err.Error())
				return
			}
			s.logger.Error("announce failed", "request_id", req.ID, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "announce failed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]any{
			"request_id": req.ID,
			"outcomes":   outcomes,
		}, s.logger)
		return
	}

	go func() {
		done := metrics.RequestAccepted()
		defer done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		if _, err := s.announcer.Announce(ctx, req); err != nil {
			s.logger.Error("announce failed", "request_id", req.ID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{
		"request_id": req.ID,
		"status":     "accepted",
	}, s.logger)
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history not configured")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("announcement list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list announcements")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":         len(entries),
		"announcements": entries,
	}, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().Round(time.Second).String(),
	}
	for _, rep := range s.reporters {
		status[rep.Name()] = rep.Status()
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Herald",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
