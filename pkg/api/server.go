// Package api exposes the document manager over HTTP/JSON using
// gorilla/mux, replacing the generated-RPC surface the teacher codebase
// used: value and key lookups, blob ingestion per source, health, and a
// Prometheus metrics endpoint.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cuemby/fides/pkg/key"
	"github.com/cuemby/fides/pkg/log"
	"github.com/cuemby/fides/pkg/manager"
	"github.com/cuemby/fides/pkg/metrics"
)

// Server wraps a Manager behind an HTTP API.
type Server struct {
	mgr    *manager.Manager
	router *mux.Router
}

// NewServer builds a Server routing requests to mgr.
func NewServer(mgr *manager.Manager) *Server {
	s := &Server{mgr: mgr, router: mux.NewRouter()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.router.Use(s.requestLoggingMiddleware)
	s.router.HandleFunc("/v1/value", s.handleGetValue).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/keys", s.handleGetKeys).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/sources/{id}/blobs", s.handleInsertBlob).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		reqLog := log.WithRequestID(requestID)
		timer := metrics.NewTimer()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, http.StatusText(rec.status)).Inc()
		reqLog.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).Msg("request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("key")
	k, err := key.New(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, ok := s.mgr.GetValue(k)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": k.String(), "value": string(v)})
}

func (s *Server) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	prefixParam := r.URL.Query().Get("prefix")
	prefix, err := key.New(prefixParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	keys := s.mgr.GetKeys(prefix)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"keys": out})
}

func (s *Server) handleInsertBlob(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	raw, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := s.mgr.InsertBlob(sourceID, raw)
	writeJSON(w, statusToHTTPCode(status), map[string]string{
		"status": status.String(),
		"error":  errString(err),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "key not found" }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func statusToHTTPCode(status manager.InsertionStatus) int {
	switch status {
	case manager.Success:
		return http.StatusOK
	case manager.UnknownSource:
		return http.StatusNotFound
	case manager.ParseError, manager.BadPayload:
		return http.StatusBadRequest
	case manager.ValidationError, manager.AccessViolation:
		return http.StatusForbidden
	case manager.VersionClash, manager.Collision:
		return http.StatusConflict
	case manager.StorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
