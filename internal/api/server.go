// Package api serves the simulation over HTTP: the live map page, tract
// lookups, run control, statistics, history and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nvandessel/cura/internal/metrics"
	"github.com/nvandessel/cura/internal/ratelimit"
	"github.com/nvandessel/cura/internal/runner"
)

const (
	// DefaultTileLimit caps the tiles returned by the state endpoint when no
	// limit is given.
	DefaultTileLimit = 1000

	shutdownTimeout = 5 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStartLimit limits simulation starts per client to perMinute with the
// given burst.
func WithStartLimit(perMinute float64, burst int) Option {
	return func(s *Server) { s.startLimiter = ratelimit.NewLimiter(perMinute/60.0, burst) }
}

// WithDefaults sets the request used for fields a start body leaves out.
func WithDefaults(req runner.StartRequest) Option {
	return func(s *Server) { s.defaults = req }
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server is the HTTP front end of a runner.
type Server struct {
	runner       *runner.Runner
	metrics      *metrics.Metrics
	startLimiter *ratelimit.Limiter
	defaults     runner.StartRequest
	logger       *slog.Logger
	started      time.Time

	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
	addr       string
}

// NewServer creates a server for r.
func NewServer(r *runner.Runner, opts ...Option) *Server {
	s := &Server{
		runner:       r,
		startLimiter: ratelimit.NewLimiter(10.0/60.0, 3),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		started:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the address the server is listening on (e.g., "localhost:PORT").
// Returns empty string if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tracts", s.handleTracts)
	mux.HandleFunc("GET /api/tracts/{geoid}", s.handleTract)
	// Legacy paths kept for existing map clients.
	mux.HandleFunc("GET /api/census-data", s.handleTracts)
	mux.HandleFunc("GET /api/census-data/{geoid}", s.handleTract)
	mux.HandleFunc("GET /api/tiles", s.handleTracts)
	mux.HandleFunc("GET /api/map", s.handleMap)
	mux.HandleFunc("GET /api/statistics", s.handleStatistics)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("POST /api/simulation/start", s.handleStart)
	mux.HandleFunc("POST /api/simulation/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /api/simulation/{id}/reset", s.handleReset)
	mux.HandleFunc("POST /api/simulation/{id}/speed", s.handleSpeed)
	mux.HandleFunc("GET /api/simulation/{id}/state", s.handleState)
	mux.HandleFunc("GET /api/simulation/{id}/history", s.handleHistory)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.logRequests(mux)
}

// ListenAndServe serves on addr and blocks until the context is cancelled.
// An addr with port 0 lets the OS pick a free port. Returns nil on clean
// shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	s.logger.Info("api listening", "addr", s.addr)

	// Graceful shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api shutdown", "error", err)
		}
	}()

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(began))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
