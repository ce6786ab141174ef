// Package server exposes the HTTP status surface: liveness, readiness, a JSON
// snapshot of every tracked channel, recording history and Prometheus metrics.
// Every request carries a correlation id for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/stream-archiver/archiver"
	"github.com/onnwee/stream-archiver/store"
)

// StatusSource is the reconciliation loop as seen by the server.
type StatusSource interface {
	Snapshot() []archiver.ChannelStatus
	LastTick() time.Time
	Interval() time.Duration
}

// History lists past recordings.
type History interface {
	RecentRecordings(ctx context.Context, limit int) ([]store.Recording, error)
}

// Pinger checks a dependency during readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the handler. Status is required; History and DB are
// nil when no database is configured.
type Options struct {
	Addr           string
	Status         StatusSource
	History        History
	DB             Pinger
	AllowedOrigins []string
	// Now is overridable in tests.
	Now func() time.Time
}

// NewMux returns the HTTP handler with all routes.
func NewMux(opts Options) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Handlers{status: opts.Status, history: opts.History, db: opts.DB, now: opts.Now}

	r := chi.NewRouter()
	r.Use(withCorrelation)
	r.Use(chimiddleware.Recoverer)
	r.Use(withCORSConfig(newCORSConfig(opts.AllowedOrigins)))

	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)
	r.Get("/status", h.HandleStatus)
	r.Get("/recordings", h.HandleRecordings)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Server runs the status HTTP server as a supervised service.
type Server struct {
	opts    Options
	handler http.Handler

	// ready is closed once the listener is first bound; Addr is valid after.
	ready     chan struct{}
	readyOnce sync.Once
	addr      atomic.Value
}

// New returns a Server listening on opts.Addr.
func New(opts Options) *Server {
	return &Server{
		opts:    opts,
		handler: NewMux(opts),
		ready:   make(chan struct{}),
	}
}

func (s *Server) String() string { return "http-server" }

// Ready is closed when the server is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound listen address, valid once Ready is closed.
func (s *Server) Addr() string {
	a, _ := s.addr.Load().(string)
	return a
}

// Serve listens until ctx is cancelled, then shuts down gracefully. It may be
// called again after returning, as a supervisor restart does.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.addr.Store(ln.Addr().String())
	s.readyOnce.Do(func() { close(s.ready) })
	slog.Info("http server listening", slog.String("addr", s.Addr()), slog.String("component", "http"))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		// WithoutCancel keeps context values while letting shutdown finish
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err), slog.String("component", "http"))
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err), slog.String("component", "http"))
		return err
	}
	<-stopped
	return nil
}
