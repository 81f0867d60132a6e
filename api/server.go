// Package api provides the REST API for appliance readings and publishers.
package api

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"seabridge/config"
	"seabridge/logging"
)

// Server is the REST API server.
type Server struct {
	backend Backend
	metrics http.Handler
	config  *config.WebConfig
	server  *http.Server
	addr    string
	running bool
	mu      sync.RWMutex

	cleanup func()
}

// NewServer creates a new REST API server. metrics serves /metrics and may be nil.
func NewServer(backend Backend, cfg *config.WebConfig, metrics http.Handler) *Server {
	return &Server{
		backend: backend,
		metrics: metrics,
		config:  cfg,
	}
}

// handler builds the middleware chain and mounts the API router.
func (s *Server) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	apiRouter, cleanup := NewRouter(s.backend, s.metrics)
	s.cleanup = cleanup
	r.Mount("/", apiRouter)
	return r
}

// debugLogWriter adapts logging.DebugLog to an io.Writer for use with log.Logger.
type debugLogWriter string

func (tag debugLogWriter) Write(p []byte) (n int, err error) {
	logging.DebugLog(string(tag), "%s", string(p))
	return len(p), nil
}

var _ io.Writer = debugLogWriter("")

// corsMiddleware adds CORS headers for API access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Host, s.config.Port))
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.addr = ln.Addr().String()

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(debugLogWriter("api"), "", 0),
	}
	s.server = srv

	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			logging.DebugLog("api", "server stopped: %v", err)
			s.mu.Lock()
			if s.server == srv {
				s.running = false
			}
			s.mu.Unlock()
		}
	}()

	s.running = true
	logging.DebugLog("api", "listening on %s", s.addr)
	return nil
}

// Stop halts the HTTP server gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	// Streams end first so Shutdown is not held open by them.
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address. Once started it reflects the bound
// port, so a configured port of 0 reports the one actually chosen.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr != "" {
		return "http://" + s.addr
	}
	return fmt.Sprintf("http://%s:%d", s.config.Host, s.config.Port)
}
