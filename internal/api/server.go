package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/scada-overlay/internal/cache"
	"github.com/nerrad567/scada-overlay/internal/derived"
	"github.com/nerrad567/scada-overlay/internal/entity"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/config"
	"github.com/nerrad567/scada-overlay/internal/infrastructure/logging"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

const (
	gracefulShutdownTimeout = 10 * time.Second

	// defaultResolveTimeout bounds GET /resolve when no write timeout is configured.
	defaultResolveTimeout = 10 * time.Second

	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// Cache is the read cache as seen by the API.
type Cache interface {
	Resolve(device string, scope telemetry.Scope, key string, cb cache.Callback, force bool)
	Stats() cache.Stats
}

// Widget is the overlay lifecycle object.
type Widget interface {
	Refresh()
	Invalidate(source string)
	Ready() bool
	Document() []byte
}

// DerivedResults exposes the last published derived values.
type DerivedResults interface {
	Last() []derived.Result
}

// BindingStore is the editable binding list.
type BindingStore interface {
	Bindings() []entity.Binding
	Upsert(ctx context.Context, b entity.Binding) error
	Delete(ctx context.Context, name string) error
}

// HealthChecker is implemented by every optional infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Cache    Cache
	Widget   Widget
	Hub      *Hub
	Derived  DerivedResults
	Bindings BindingStore
	// Health lists named components reported by GET /health.
	Health   map[string]HealthChecker
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	cache     Cache
	widget    Widget
	hub       *Hub
	derived   DerivedResults
	bindings  BindingStore
	health    map[string]HealthChecker
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time

	server *http.Server
	cancel context.CancelFunc
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if deps.Widget == nil {
		return nil, fmt.Errorf("widget is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		cache:     deps.Cache,
		widget:    deps.Widget,
		hub:       deps.Hub,
		derived:   deps.Derived,
		bindings:  deps.Bindings,
		health:    deps.Health,
		gatherer:  deps.Gatherer,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.wsCfg.PingInterval <= 0 {
		s.wsCfg.PingInterval = defaultPingInterval
	}
	if s.wsCfg.PongTimeout <= 0 {
		s.wsCfg.PongTimeout = defaultPongTimeout
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Logger)
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	return s, nil
}

// Hub returns the WebSocket hub, which is also the overlay's view binding.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening in the background.
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

// Close waits up to 10 seconds for in-flight requests, then closes the
// listener and every WebSocket client.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
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

func (s *Server) resolveTimeout() time.Duration {
	if s.cfg.Timeouts.Write > 0 {
		return time.Duration(s.cfg.Timeouts.Write) * time.Second
	}
	return defaultResolveTimeout
}
