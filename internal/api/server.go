package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tsfeed/internal/collector"
	"github.com/nerrad567/tsfeed/internal/infrastructure/config"
	"github.com/nerrad567/tsfeed/internal/infrastructure/logging"
	"github.com/nerrad567/tsfeed/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("api: server already started")

// SnapshotSource reports the collector's live counters.
type SnapshotSource interface {
	Snapshot() collector.Snapshot
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// History reads the delivery journal.
type History interface {
	Totals(ctx context.Context) (journal.Totals, error)
	RecentSessions(ctx context.Context, limit int) ([]journal.Session, error)
	RecentEvents(ctx context.Context, kind string, limit int) ([]journal.Event, error)
}

// Deps holds the dependencies required by the status server.
type Deps struct {
	Config    config.StatusConfig
	Logger    *logging.Logger
	Version   string
	Store     string
	Collector SnapshotSource

	// Database gates /health. Nil when the journal is disabled.
	Database HealthChecker

	// History backs the journal section of /status. Optional.
	History History

	// Sinks are reported by /health without affecting its status code.
	Sinks map[string]HealthChecker

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server is the status HTTP server.
type Server struct {
	cfg       config.StatusConfig
	logger    *logging.Logger
	version   string
	store     string
	collector SnapshotSource
	database  HealthChecker
	history   History
	sinks     map[string]HealthChecker
	gatherer  prometheus.Gatherer

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr chan error
}

// New creates a status server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Collector == nil {
		return nil, fmt.Errorf("collector is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		version:   deps.Version,
		store:     deps.Store,
		collector: deps.Collector,
		database:  deps.Database,
		history:   deps.History,
		sinks:     deps.Sinks,
		gatherer:  gatherer,
	}, nil
}

// Start binds the listener and serves in a background goroutine. Binding
// happens synchronously so an address in use is reported here.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln
	s.serveErr = make(chan error, 1)
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("status server listening", "address", ln.Addr().String())

	srv, errCh := s.server, s.serveErr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
			errCh <- err
		}
		close(errCh)
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	errCh := s.serveErr
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return s.Close()
	case err, ok := <-errCh:
		if closeErr := s.Close(); closeErr != nil {
			s.logger.Warn("closing status server", "error", closeErr)
		}
		if !ok {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	}
}

// Close gracefully shuts down the server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
