// Package httpserver exposes health, metrics and the on-demand RBA and thread
// APIs over echo.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/dipper-go/internal/buildinfo"
	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/notification"
	"github.com/tphakala/dipper-go/internal/observation"
	"github.com/tphakala/dipper-go/internal/pipeline"
)

const (
	defaultPort     = "8080"
	bodyLimit       = "64K"
	shutdownTimeout = 10 * time.Second
)

// RegionRunner runs the pipeline for one region. *pipeline.Pipeline satisfies it.
type RegionRunner interface {
	RunRegion(ctx context.Context, route pipeline.Route) (pipeline.RegionResult, error)
}

// RegionLookup resolves a region name or code. *regions.Directory satisfies it.
type RegionLookup interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// ThreadLister lists tracked threads. datastore.Interface satisfies it.
type ThreadLister interface {
	GetAllThreads(ctx context.Context) ([]observation.Thread, error)
}

// NotificationHealth reports the circuit breakers of delivery destinations.
// *notification.Router satisfies it.
type NotificationHealth interface {
	Healthy() bool
	BreakerStats() []notification.BreakerStatus
}

// Config configures a Server.
type Config struct {
	Port    string
	Routes  pipeline.RoutesFunc // destinations for on-demand runs, nil renders only
	Metrics http.Handler        // served at /metrics when set
	Build   *buildinfo.Context

	Notifications NotificationHealth // breaker states on /healthz when set
}

// Server encapsulates the echo instance and its dependencies.
type Server struct {
	Echo    *echo.Echo
	config  Config
	runner  RegionRunner
	lookup  RegionLookup
	threads ThreadLister
	log     logger.Logger
	started time.Time
	errChan chan error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a server with all routes registered. It does not listen until Start.
func New(cfg Config, runner RegionRunner, lookup RegionLookup, threads ThreadLister, opts ...Option) *Server {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	s := &Server{
		Echo:    echo.New(),
		config:  cfg,
		runner:  runner,
		lookup:  lookup,
		threads: threads,
		started: time.Now(),
		errChan: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("httpserver")
	}

	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Logger = logger.NewEchoLoggerAdapter(s.log.Module("echo"))

	s.configureMiddleware()
	s.initRoutes()
	return s
}

func (s *Server) configureMiddleware() {
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.BodyLimit(bodyLimit))
	s.Echo.Use(s.LoggingMiddleware())
}

func (s *Server) initRoutes() {
	s.Echo.GET("/healthz", s.HealthCheck)
	if s.config.Metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.config.Metrics))
	}

	api := s.Echo.Group("/api/v1")
	api.POST("/rba/:region", s.RunRegion)
	api.GET("/threads", s.ListThreads)
	api.GET("/regions/lookup", s.LookupRegion)
}

// Start listens in the background. Listener failures are logged and
// reported on Errors.
func (s *Server) Start() {
	addr := ":" + s.config.Port
	go func() {
		if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logger.String("addr", addr), logger.Error(err))
			s.errChan <- err
		}
	}()
	s.log.Info("http server started", logger.String("addr", addr))
}

// Errors delivers a listener failure, at most one.
func (s *Server) Errors() <-chan error {
	return s.errChan
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.Echo.Shutdown(ctx)
}

// LoggingMiddleware logs each request with its status and latency.
func (s *Server) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the response so the status below is final
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("path", req.URL.Path),
				logger.Int("status", res.Status),
				logger.Int64("latency_ms", time.Since(start).Milliseconds()),
				logger.Int64("bytes_out", res.Size),
			}

			switch {
			case res.Status >= http.StatusInternalServerError:
				s.log.Error("http request", fields...)
			case res.Status >= http.StatusBadRequest:
				s.log.Warn("http request", fields...)
			default:
				s.log.Debug("http request", fields...)
			}
			return nil
		}
	}
}
