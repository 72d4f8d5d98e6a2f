// Package api provides the admin HTTP API of the Lithium store.
//
// It exposes health, Prometheus metrics, cache statistics and
// invalidation, and read/maintenance endpoints over the stored records to
// operators and the rest of the imaging suite.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// A database.Connection serves one goroutine at a time, so every handler
// touching the store holds the server's store lock.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/lithium-next/lithium-core/internal/cache"
	"github.com/lithium-next/lithium-core/internal/infrastructure/config"
	"github.com/lithium-next/lithium-core/internal/infrastructure/database"
	"github.com/lithium-next/lithium-core/internal/infrastructure/logging"
	"github.com/lithium-next/lithium-core/internal/records"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Metrics   config.MetricsConfig
	Logger    *logging.Logger
	Conn      *database.Connection
	Cache     *cache.Manager
	Sequences *records.SequenceRepository
	Devices   *records.DeviceConfigRepository

	// OnInvalidate, if set, is called after an invalidation request has
	// been applied locally, e.g. to forward it to other processes.
	OnInvalidate func(cache.Invalidation)

	Version string
}

// Server is the admin HTTP server.
type Server struct {
	cfg          config.APIConfig
	metricsCfg   config.MetricsConfig
	logger       *logging.Logger
	conn         *database.Connection
	cache        *cache.Manager
	sequences    *records.SequenceRepository
	devices      *records.DeviceConfigRepository
	onInvalidate func(cache.Invalidation)
	version      string
	startTime    time.Time

	storeMu sync.Mutex

	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, connection, cache, repositories)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Conn == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if deps.Sequences == nil || deps.Devices == nil {
		return nil, fmt.Errorf("record repositories are required")
	}

	return &Server{
		cfg:          deps.Config,
		metricsCfg:   deps.Metrics,
		logger:       deps.Logger,
		conn:         deps.Conn,
		cache:        deps.Cache,
		sequences:    deps.Sequences,
		devices:      deps.Devices,
		onInvalidate: deps.OnInvalidate,
		version:      deps.Version,
		startTime:    time.Now(),
	}, nil
}

// Start binds the listener and serves requests in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Base context for request handlers
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// withStore runs fn while holding the store lock.
func (s *Server) withStore(fn func() error) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	return fn()
}
