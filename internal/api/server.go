package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// LightController is the bridge surface used by the API.
// Satisfied by *tuya.Bridge.
type LightController interface {
	Lights() []tuya.LightSnapshot
	Light(id string) (tuya.LightSnapshot, error)
	Devices() []tuya.DeviceSnapshot
	Device(id string) (tuya.DeviceSnapshot, error)
	SubmitCommand(ctx context.Context, cmd tuya.CommandMessage) error
	GetMetrics() tuya.BridgeMetrics
}

// DatapointLister lists datapoints discovered on a device.
// Satisfied by *tuya.Recorder.
type DatapointLister interface {
	Known(ctx context.Context, deviceID string) ([]tuya.KnownDatapoint, error)
	Count(ctx context.Context) (int, error)
}

// HealthChecker is implemented by infrastructure components that can
// report their own health (database, MQTT, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider reports database connection pool statistics.
type StatsProvider interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger
	Bridge LightController

	// Datapoints is optional; without it the datapoints endpoint returns 503.
	Datapoints DatapointLister

	// Checks are run by GET /health, keyed by component name.
	Checks map[string]HealthChecker

	// DB is optional; when set its pool statistics appear in /metrics.
	DB StatsProvider

	Version string
}

// Server is the HTTP API server of the bridge.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	bridge     LightController
	datapoints DatapointLister
	checks     map[string]HealthChecker
	db         StatsProvider
	version    string
	startTime  time.Time
	server     *http.Server
	listener   net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		bridge:     deps.Bridge,
		datapoints: deps.Datapoints,
		checks:     deps.Checks,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
// Binding happens synchronously so a port in use is reported here.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding API listener on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
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
