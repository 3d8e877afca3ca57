// Package server exposes a serve-mode executor over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/entrhq/webrunner/pkg/batch"
	"github.com/entrhq/webrunner/pkg/executor"
	"github.com/entrhq/webrunner/pkg/logging"
	"github.com/entrhq/webrunner/pkg/task"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tailscale/hujson"
)

// MaxBodySize caps POST /tasks request bodies.
const MaxBodySize = 1 << 20

// Scheduler is the part of the executor the API drives.
type Scheduler interface {
	AddMany(tasks []*task.Task) error
	Cancel(id string) bool
	Status(id string) (task.Status, bool)
	Result(id string) (task.Result, bool)
	Results() []task.Result
	PendingCount() int
	ActiveCount() int
	PoolSize() int
}

// Server routes HTTP requests to a Scheduler.
type Server struct {
	sched    Scheduler
	gatherer prometheus.Gatherer
	log      *logging.Logger
	router   *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds the router.
func New(sched Scheduler, opts ...Option) *Server {
	s := &Server{
		sched:    sched,
		gatherer: prometheus.DefaultGatherer,
		log:      logging.Discard("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/tasks", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", s.handleCancel).Methods(http.MethodDelete)
	r.HandleFunc("/results", s.handleResults).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Use(s.logRequests)
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debugf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

type submitResponse struct {
	TaskIDs []string `json:"task_ids"`
}

type taskResponse struct {
	TaskID string       `json:"task_id"`
	Status task.Status  `json:"status"`
	Result *task.Result `json:"result,omitempty"`
}

type statusResponse struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	PoolSize  int `json:"pool_size"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnf("failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	ds, err := decodeDescriptors(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	tasks, err := task.FromDescriptors(ds)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.sched.AddMany(tasks); err != nil {
		var verr *task.ValidationError
		switch {
		case errors.As(err, &verr):
			s.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, executor.ErrStopped):
			s.writeError(w, http.StatusServiceUnavailable, err)
		default:
			s.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	s.log.Infof("Accepted %d task(s) over HTTP", len(ids))
	s.writeJSON(w, http.StatusCreated, submitResponse{TaskIDs: ids})
}

// decodeDescriptors accepts a single descriptor object or anything a JSON
// task file may contain. Comments and trailing commas are allowed.
func decodeDescriptors(body []byte) ([]task.Descriptor, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("request body is empty")
	}
	std, err := hujson.Standardize(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	// comments become whitespace
	trimmed = bytes.TrimSpace(std)

	if trimmed[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if _, ok := fields["tasks"]; !ok {
			var d task.Descriptor
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&d); err != nil {
				return nil, fmt.Errorf("failed to decode task: %w", err)
			}
			return []task.Descriptor{d}, nil
		}
	}
	return batch.Parse(trimmed, batch.FormatJSON)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, ok := s.sched.Status(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("task %q not found", id))
		return
	}

	resp := taskResponse{TaskID: id, Status: status}
	if status.Terminal() {
		if res, ok := s.sched.Result(id); ok {
			resp.Result = &res
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.sched.Cancel(id) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("task %q is not cancellable", id))
		return
	}
	s.log.Infof("Cancelled task %s over HTTP", id)
	s.writeJSON(w, http.StatusAccepted, map[string]any{"task_id": id, "cancelled": true})
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	results := s.sched.Results()
	if results == nil {
		results = []task.Result{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Pending:  s.sched.PendingCount(),
		Active:   s.sched.ActiveCount(),
		PoolSize: s.sched.PoolSize(),
	}
	for _, res := range s.sched.Results() {
		switch res.Status {
		case task.StatusCompleted:
			resp.Completed++
		case task.StatusCancelled:
			resp.Cancelled++
		default:
			resp.Failed++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
