package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
	"github.com/browniz421/twinsync/internal/twin"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TwinService is what the API needs from the hub service.
type TwinService interface {
	Twin(ctx context.Context, deviceID string) (*twin.Twin, error)
	Twins(ctx context.Context) ([]twin.Twin, error)
	History(ctx context.Context, deviceID string, limit int) ([]twin.HistoryEntry, error)
	Register(ctx context.Context, deviceID string) (*twin.Twin, error)
	Deregister(ctx context.Context, deviceID string) error
	UpdateDesired(ctx context.Context, deviceID string, patch json.RawMessage, ifVersion int64) (*twin.Twin, error)
	OnChange(fn func(twin.Change))
}

// HealthChecker is implemented by infrastructure the health endpoint probes.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Twins    TwinService
	Checks   map[string]HealthChecker // Probed by /health, keyed by component name
	Stats    StatsProvider            // Optional: database pool statistics
	Counters CounterSource            // Optional: telemetry instrument totals
	Version  string
}

// Server is the HTTP API server of the twin hub.
//
// It serves the twin REST routes and the WebSocket change feed.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	twins     TwinService
	checks    map[string]HealthChecker
	stats     StatsProvider
	counters  CounterSource
	version   string
	startTime time.Time
	server    *http.Server
	feed      *Feed
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but Handler() is usable
// immediately.
//
// Parameters:
//   - deps: Required dependencies (config, logger, twin service)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Twins == nil {
		return nil, fmt.Errorf("twin service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		twins:     deps.Twins,
		checks:    deps.Checks,
		stats:     deps.Stats,
		counters:  deps.Counters,
		version:   deps.Version,
		startTime: time.Now(),
		feed:      NewFeed(deps.Logger),
	}

	// Every applied patch is relayed to WebSocket watchers.
	s.twins.OnChange(s.feed.Publish)
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Feed returns the WebSocket change feed.
func (s *Server) Feed() *Feed {
	return s.feed
}

// Start begins listening for HTTP connections.
//
// It starts the change feed and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context of the change feed's lifetime
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener. The server owns ln from then on.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.feed.Run(srvCtx)

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
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

// HealthCheck verifies the API server is running and responsive.
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
