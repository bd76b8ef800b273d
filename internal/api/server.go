package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/halirc/internal/automation"
	"github.com/nerrad567/halirc/internal/bridge"
	"github.com/nerrad567/halirc/internal/device"
	"github.com/nerrad567/halirc/internal/infrastructure/config"
	"github.com/nerrad567/halirc/internal/infrastructure/database"
	"github.com/nerrad567/halirc/internal/infrastructure/logging"
	"github.com/nerrad567/halirc/internal/infrastructure/metrics"
	"github.com/nerrad567/halirc/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ActionResolver looks up the action named action of device.
type ActionResolver func(device, action string) (automation.Action, bool)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Hal      *automation.Hal
	Resolve  ActionResolver

	// Optional.
	Journal journal.Repository
	Metrics *metrics.Metrics
	DB      *database.DB
	Bridge  *bridge.Bridge
	Health  map[string]HealthChecker

	Version string
}

// Server is the HTTP API server for halirc.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	registry  *device.Registry
	hal       *automation.Hal
	resolve   ActionResolver
	journal   journal.Repository
	metrics   *metrics.Metrics
	db        *database.DB
	bridge    *bridge.Bridge
	health    map[string]HealthChecker
	version   string
	startTime time.Time

	mu     sync.Mutex
	server *http.Server
	addr   string
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Hal == nil {
		return nil, fmt.Errorf("hal is required")
	}
	if deps.Resolve == nil {
		deps.Resolve = func(string, string) (automation.Action, bool) { return nil, false }
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		registry:  deps.Registry,
		hal:       deps.Hal,
		resolve:   deps.Resolve,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		db:        deps.DB,
		bridge:    deps.Bridge,
		health:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
//
// The listener is bound before Start returns, so a port already in use is
// reported here. Port 0 picks a free port; see Addr.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.addr = ln.Addr().String()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", s.addr)
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}(s.server)

	return nil
}

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
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

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
