// Package health exposes liveness and readiness endpoints for the bridge
// process.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Server serves /health and /ready over plain HTTP.
type Server struct {
	srv   *http.Server
	ready func() bool
}

// NewServer builds a health server bound to host:port. The ready predicate
// decides /ready; a nil predicate reports always ready.
func NewServer(host string, port int, ready func() bool) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}

	s := &Server{ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start blocks serving requests until Stop is called. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Stop shuts the server down gracefully, honoring the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"not ready"}`)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ready"}`)
}
