package indexer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the cache's read surface plus manual sync and rebuild
// triggers for operators.
type Server struct {
	rec    *Reconciler
	logger *slog.Logger
}

func NewServer(rec *Reconciler, logger *slog.Logger) (*Server, error) {
	if rec == nil {
		return nil, errors.New("indexer: reconciler required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{rec: rec, logger: logger}, nil
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/v1/stats/{handle}", s.handleStats)
	r.Get("/v1/tips/recent", s.handleRecentTips)
	r.Get("/v1/handles/top", s.handleTopHandles)
	r.Post("/v1/sync", s.handleSync)
	r.Post("/v1/rebuild", s.handleRebuild)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.rec.Stats(chi.URLParam(r, "handle"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRecentTips(w http.ResponseWriter, r *http.Request) {
	tips, err := s.rec.RecentTips(queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, tips)
}

func (s *Server) handleTopHandles(w http.ResponseWriter, r *http.Request) {
	handles, err := s.rec.TopHandles(queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, handles)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	applied, err := s.rec.Sync(r.Context())
	if err != nil {
		s.logger.Error("manual sync failed", "err", err)
		s.writeError(w, http.StatusBadGateway, "sync failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.rec.Rebuild(r.Context()); err != nil {
		s.logger.Error("rebuild failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 20
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 20
	}
	return v
}
