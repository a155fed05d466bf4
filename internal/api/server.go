package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/fieldlink-core/internal/auth"
	"github.com/nerrad567/fieldlink-core/internal/device"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/fieldlink-core/internal/ingest"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TokenVerifier turns an access token into a caller identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// SessionLister returns the devices currently talking to the broker.
type SessionLister interface {
	Snapshot() []ingest.Session
}

// OwnedDevices resolves which devices a subject may see on the event stream.
type OwnedDevices interface {
	ListOwnedDevices(ctx context.Context, subjectID string) ([]device.Device, error)
}

// HealthChecker is implemented by infrastructure the health endpoint reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Verifier TokenVerifier
	Sessions SessionLister
	Devices  OwnedDevices
	Hub      *Hub // created by the caller so other components can broadcast before Start

	// Checks are reported by name on /health. Nil entries are skipped.
	Checks  map[string]HealthChecker
	Version string
}

// Server is the operational HTTP server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	verifier TokenVerifier
	sessions SessionLister
	devices  OwnedDevices
	checks   map[string]HealthChecker
	version  string
	hub      *Hub
	server   *http.Server
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session lister is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device ownership lister is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		verifier: deps.Verifier,
		sessions: deps.Sessions,
		devices:  deps.Devices,
		checks:   deps.Checks,
		version:  deps.Version,
		hub:      deps.Hub,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the server's event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The hub runs until Close() or until ctx is cancelled.
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
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
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

// HealthCheck verifies the API server is running.
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
