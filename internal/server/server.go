// Package server exposes navigation, data views and the checklist over HTTP.
// The server holds only the immutable loaded flow; every request carries the
// return's fact state or names a stored return.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dlovans/taxflow/internal/engine"
	"github.com/dlovans/taxflow/internal/metrics"
	"github.com/dlovans/taxflow/pkg/factgraph"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Store persists returns between requests.
type Store interface {
	Load(ctx context.Context, returnID string) (*factgraph.State, error)
	Save(ctx context.Context, returnID string, state *factgraph.State) error
	Delete(ctx context.Context, returnID string) error
	Returns(ctx context.Context) ([]string, error)
}

// Server serves one engine at a time. Reload swaps it atomically; requests
// in flight keep the engine they started with.
type Server struct {
	engine  atomic.Pointer[engine.Engine]
	store   Store
	metrics *metrics.Metrics
	log     *zap.Logger
	newID   func() string
	mux     *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the /v1/returns endpoints and returnId references.
func WithStore(st Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics serves m on /metrics and records reloads.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithIDGenerator overrides how new return ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// New returns a server for e.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		log:   zap.NewNop(),
		newID: newReturnID,
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine.Store(e)
	s.routes()
	return s
}

// Engine returns the engine currently serving.
func (s *Server) Engine() *engine.Engine { return s.engine.Load() }

// Swap replaces the serving engine.
func (s *Server) Swap(e *engine.Engine) { s.engine.Store(e) }

// Reload builds a new engine with load and swaps it in. On failure the
// current engine keeps serving and the error is returned.
func (s *Server) Reload(load func() (*engine.Engine, error)) error {
	e, err := load()
	if s.metrics != nil {
		screens := 0
		if e != nil {
			screens = len(e.Graph.Screens())
		}
		s.metrics.ObserveReload(screens, err)
	}
	if err != nil {
		s.log.Error("flow reload failed, keeping current flow", zap.Error(err))
		return err
	}
	s.Swap(e)
	s.log.Info("flow reloaded",
		zap.Int("files", len(e.Files)),
		zap.Int("screens", len(e.Graph.Screens())))
	return nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /v1/next", s.handleNext)
	s.mux.HandleFunc("POST /v1/first", s.handleFirst)
	s.mux.HandleFunc("POST /v1/incomplete", s.handleIncomplete)
	s.mux.HandleFunc("POST /v1/dataview", s.handleDataView)
	s.mux.HandleFunc("POST /v1/checklist", s.handleChecklist)
	s.mux.HandleFunc("POST /v1/verify", s.handleVerify)

	s.mux.HandleFunc("GET /v1/returns", s.handleListReturns)
	s.mux.HandleFunc("POST /v1/returns", s.handleCreateReturn)
	s.mux.HandleFunc("GET /v1/returns/{id}", s.handleGetReturn)
	s.mux.HandleFunc("PUT /v1/returns/{id}", s.handlePutReturn)
	s.mux.HandleFunc("DELETE /v1/returns/{id}", s.handleDeleteReturn)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// timeout. ready, when not nil, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, timeout time.Duration, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("serving", zap.String("addr", ln.Addr().String()))
	if ready != nil {
		ready <- ln.Addr()
	}

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}
