// Package server exposes a Tracker over HTTP for remote workers.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/dispatch-go/dispatch"
)

// Server is a thin, stateless adapter translating three HTTP routes into
// Tracker operations. All mutable state lives in the Tracker; the server
// holds only references.
//
// Routes:
//
//	GET  /work    -> one work item, or a status telling the worker what to do
//	POST /result  -> submit one completed result
//	GET  /status  -> read-only snapshot of tracker state
//	GET  /metrics -> Prometheus exposition (only with WithRegistry)
//
// Responses are JSON. GET /work distinguishes three empty-backlog cases:
//
//	404 {"status":"all_work_complete"} - nothing left anywhere; workers may exit
//	404 {"status":"retry"}             - nothing dispatchable right now; poll again
//	503 {"status":"server_unavailable"} - tracker closed; back off
//
// Usage:
//
//	srv := server.New(tracker, server.WithRegistry(registry))
//	log.Fatal(http.ListenAndServe(":8080", srv.Handler()))
type Server struct {
	tracker  *dispatch.Tracker
	registry *prometheus.Registry
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry exposes the given Prometheus registry on GET /metrics.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// New creates a Server for the given tracker.
func New(tracker *dispatch.Tracker, opts ...Option) *Server {
	s := &Server{tracker: tracker}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route mux for this server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/work", s.handleWork)
	mux.HandleFunc("/result", s.handleResult)
	mux.HandleFunc("/status", s.handleStatus)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// workResponse is the GET /work payload. WorkID and Content are pointers so
// that a 200 always carries them (work_id 0 and empty content included)
// while the 404 status bodies omit them.
type workResponse struct {
	Status  string  `json:"status"`
	WorkID  *int64  `json:"work_id,omitempty"`
	Content *string `json:"content,omitempty"`
}

// resultRequest is the POST /result payload.
type resultRequest struct {
	WorkID *int64 `json:"work_id"`
	Result string `json:"result"`
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	batch, err := s.tracker.GetWorkBatch(1)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if len(batch) == 0 {
		complete, err := s.tracker.AllWorkComplete()
		if err != nil {
			s.writeError(w, err)
			return
		}
		status := "retry"
		if complete {
			status = "all_work_complete"
		}
		writeJSON(w, http.StatusNotFound, workResponse{Status: status})
		return
	}

	item := batch[0]
	writeJSON(w, http.StatusOK, workResponse{
		Status:  "ok",
		WorkID:  &item.WorkID,
		Content: &item.Content,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "bad_request",
			"error":  fmt.Sprintf("malformed body: %v", err),
		})
		return
	}
	if req.WorkID == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "bad_request",
			"error":  "work_id is required",
		})
		return
	}
	// One result per POST keeps results newline-free by construction.
	if strings.ContainsRune(req.Result, '\n') {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "bad_request",
			"error":  "result must not contain a newline",
		})
		return
	}

	if err := s.tracker.CompleteWorkBatch([]dispatch.Result{
		{WorkID: *req.WorkID, Result: req.Result},
	}); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := s.tracker.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// writeError maps tracker errors onto transport responses. A closed tracker
// looks like an unavailable server so late workers back off; anything else
// is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, dispatch.ErrTrackerClosed) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "server_unavailable",
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"status": "error",
		"error":  err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
