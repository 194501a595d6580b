// Package server serves the health, stats and metrics endpoints of a running ingester.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/file-ingester/internal/progress"
)

const (
	healthTimeout   = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	httpServer *http.Server
	checker    Checker
	tracker    progress.Snapshotter
	now        func() time.Time
}

func New(port int, checker Checker, tracker progress.Snapshotter, registry *prometheus.Registry) *Server {
	s := &Server{checker: checker, tracker: tracker, now: time.Now}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health)
	mux.HandleFunc("/stats", s.stats)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens until ctx is cancelled and then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.httpServer.Addr)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	log.Infof("Serving /health, /stats and /metrics on %s", listener.Addr())
	errs := make(chan error, 1)
	go func() {
		errs <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errs:
		return errors.WithStack(err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down http server")
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithStack(err)
	}
	return nil
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	response := healthResponse{Status: "ok", Timestamp: s.now().UTC()}
	status := http.StatusOK
	if err := s.checker.Check(ctx); err != nil {
		log.Warnf("Health check failed: %v", err)
		response.Status = "unavailable"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("Failed to write response: %v", err)
	}
}
