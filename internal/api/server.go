package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/grill-link/internal/cloud"
	"github.com/nerrad567/grill-link/internal/grill"
	"github.com/nerrad567/grill-link/internal/infrastructure/config"
	"github.com/nerrad567/grill-link/internal/infrastructure/logging"
	"github.com/nerrad567/grill-link/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the grill session as the API uses it. *session.Coordinator
// satisfies it.
type Session interface {
	Devices() ([]cloud.Device, error)
	Record(deviceID string) (grill.Record, bool)
	ConnectionState() session.State
	Stats() session.Stats
	HealthCheck(ctx context.Context) error

	SetTemperature(ctx context.Context, deviceID string, temp int) error
	SetProbeTemperature(ctx context.Context, deviceID string, temp int) error
	SetTimerSeconds(ctx context.Context, deviceID string, seconds int) error
	SetSwitch(ctx context.Context, deviceID string, sw cloud.Switch) error
	ShutdownDevice(ctx context.Context, deviceID string) error
	RequestState(ctx context.Context, deviceID string) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Session Session
	Version string
}

// Server is the local HTTP API. It is created with New and started with
// Start.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	session Session
	version string
	hub     *Hub
	server  *http.Server
	cancel  context.CancelFunc
}

// New creates a Server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		session: deps.Session,
		version: deps.Version,
		hub:     NewHub(deps.Config.WS, deps.Logger),
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start runs the WebSocket hub and the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops the hub and shuts the listener down, waiting up to 10 seconds
// for in-flight requests.
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

// DeviceUpdated implements grill.Observer by pushing the device's new view
// to subscribed WebSocket clients.
func (s *Server) DeviceUpdated(deviceID string) error {
	s.hub.Broadcast(ChannelDeviceUpdated, s.deviceView(deviceID, ""))
	return nil
}
