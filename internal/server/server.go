// Package server exposes a blobfs.Filesystem over HTTP.
//
// Routes:
//
//	GET    /keys         → sorted key listing
//	POST   /rename       → {"src": ..., "dst": ...}
//	GET    /objects/*    → object content
//	HEAD   /objects/*    → existence + Last-Modified
//	PUT    /objects/*    → write body under the key
//	DELETE /objects/*    → remove the key
//	GET    /metadata/*   → metadata recorded for the key
//	PUT    /metadata/*   → record metadata for the key
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nkoutsov/blobfs/internal/blobfs"
	"github.com/nkoutsov/blobfs/internal/errs"
	"github.com/nkoutsov/blobfs/internal/logger"
)

// Server routes HTTP requests to a Filesystem.
type Server struct {
	fs     blobfs.Filesystem
	log    *logger.Logger
	router chi.Router
}

// New builds the router around fs.
func New(fs blobfs.Filesystem, log *logger.Logger) *Server {
	s := &Server{fs: fs, log: log}

	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/keys", s.handleKeys)
	r.Post("/rename", s.handleRename)
	r.Route("/objects", func(r chi.Router) {
		r.Get("/*", s.handleRead)
		r.Head("/*", s.handleStat)
		r.Put("/*", s.handleWrite)
		r.Delete("/*", s.handleDelete)
	})
	r.Get("/metadata/*", s.handleGetMetadata)
	r.Put("/metadata/*", s.handleSetMetadata)

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// --- handlers ---

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	data, err := s.fs.Read(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	n, err := s.fs.Write(r.Context(), key, data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]int64{"size": n})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	ok, err := s.fs.Exists(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if mt, err := s.fs.MTime(r.Context(), key); err == nil && !mt.IsZero() {
		w.Header().Set("Last-Modified", mt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	if err := s.fs.Delete(r.Context(), key); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.fs.Keys(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Src == "" || req.Dst == "" {
		http.Error(w, "src and dst are required", http.StatusBadRequest)
		return
	}

	if err := s.fs.Rename(r.Context(), req.Src, req.Dst); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	s.writeJSON(w, http.StatusOK, s.fs.GetMetadata(key))
}

func (s *Server) handleSetMetadata(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	var md blobfs.Metadata
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		http.Error(w, "invalid metadata body", http.StatusBadRequest)
		return
	}

	s.fs.SetMetadata(key, md)
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error tiers to HTTP statuses: fatal configuration
// errors are 503, operational failures keep their kind-specific status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errs.IsFatal(err):
		status = http.StatusServiceUnavailable
	case errs.IsNotFound(err):
		status = http.StatusNotFound
	case errs.IsInvalidInput(err):
		status = http.StatusBadRequest
	case errs.IsPermissionDenied(err):
		status = http.StatusForbidden
	case errs.IsTimeout(err):
		status = http.StatusGatewayTimeout
	}

	if status >= 500 {
		s.log.Errorf("storage operation failed: %v", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(s.log.WithContext(r.Context())))

		s.log.HTTPEvent().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
