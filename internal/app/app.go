// Package app builds dipper's components from settings and runs the
// long-lived service.
package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/dipper-go/internal/buildinfo"
	"github.com/tphakala/dipper-go/internal/cluster"
	"github.com/tphakala/dipper-go/internal/conf"
	"github.com/tphakala/dipper-go/internal/datastore"
	"github.com/tphakala/dipper-go/internal/ebird"
	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/httpclient"
	"github.com/tphakala/dipper-go/internal/httpserver"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/mqtt"
	"github.com/tphakala/dipper-go/internal/notification"
	"github.com/tphakala/dipper-go/internal/observability"
	"github.com/tphakala/dipper-go/internal/pipeline"
	"github.com/tphakala/dipper-go/internal/rba"
	"github.com/tphakala/dipper-go/internal/regions"
	"github.com/tphakala/dipper-go/internal/species"
	"github.com/tphakala/dipper-go/internal/timezone"
)

const userAgent = "dipper (+https://github.com/tphakala/dipper-go)"

// App holds the components shared by the CLI commands and the service.
type App struct {
	Settings  *conf.Settings
	Metrics   *observability.Metrics
	Store     datastore.Interface
	EBird     *ebird.Client // nil when no API key is configured
	Directory *regions.Directory
	Sender    notification.Sender
	Pipeline  *pipeline.Pipeline // nil without EBird
	Species   *species.Lookup    // nil without EBird

	http      *httpclient.Client
	discord   *notification.DiscordSender
	router    *notification.Router
	publisher *mqtt.SummaryPublisher
	log       logger.Logger
	closeOnce sync.Once
}

// Option configures New.
type Option func(*options)

type options struct {
	log       logger.Logger
	transport http.RoundTripper
	finder    timezone.Finder
	now       func() time.Time
}

// WithLogger sets the base logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTransport routes every outgoing HTTP request through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithFinder replaces the polygon time zone finder.
func WithFinder(f timezone.Finder) Option {
	return func(o *options) { o.finder = f }
}

// WithClock replaces time.Now for the pipeline's report window and recency checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New opens the store and wires every component enabled in settings. The
// caller must Close the returned App.
func New(settings *conf.Settings, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global().Module("app")
	}

	a := &App{Settings: settings, log: o.log}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategorySystem).
			Context("operation", "init_metrics").
			Build()
	}
	a.Metrics = metrics

	if err := a.openStore(); err != nil {
		return nil, err
	}

	a.http = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.EBird.Timeout,
		UserAgent:      userAgent,
		Transport:      o.transport,
	})

	if settings.EBird.APIKey != "" {
		client, err := ebird.NewClient(ebirdConfig(settings),
			ebird.WithHTTPClient(a.http),
			ebird.WithLogger(o.log.Module("ebird")),
			ebird.WithMetrics(metrics.EBird))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.EBird = client
	} else {
		o.log.Warn("eBird API key is not set, features that call eBird are disabled")
	}

	var source regions.Source
	if a.EBird != nil {
		source = a.EBird
	}
	a.Directory = regions.NewDirectory(source, a.Store, o.log.Module("regions"))

	a.Sender = a.newSender()

	if a.EBird != nil {
		a.Species = species.NewLookup(a.EBird,
			species.WithLocale(settings.EBird.Locale),
			species.WithLogger(o.log.Module("species")))

		converter, err := newConverter(o.finder, o.log)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.newPipeline(converter, o.now); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) openStore() error {
	store := datastore.New(a.Settings)
	if store == nil {
		return errors.Newf("no datastore enabled, set output.sqlite.enabled or output.mysql.enabled").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	if m, ok := store.(interface {
		SetMetrics(datastore.OperationRecorder)
	}); ok {
		m.SetMetrics(a.Metrics.Datastore)
	}
	a.Store = store
	return nil
}

func ebirdConfig(s *conf.Settings) ebird.Config {
	return ebird.Config{
		APIKey:        s.EBird.APIKey,
		BaseURL:       s.EBird.BaseURL,
		Timeout:       s.EBird.Timeout,
		CacheTTL:      s.EBird.CacheTTL,
		RateLimit:     s.EBird.RateLimit,
		RetryAttempts: s.EBird.RetryAttempts,
		RetryDelay:    s.EBird.RetryDelay,
		BackDays:      s.EBird.BackDays,
		MaxResults:    s.EBird.MaxResults,
	}
}

func (a *App) newSender() notification.Sender {
	s := a.Settings
	breaker := notification.DefaultCircuitBreakerConfig()
	if s.Notification.CircuitBreaker.MaxFailures > 0 {
		breaker.MaxFailures = s.Notification.CircuitBreaker.MaxFailures
	}
	if s.Notification.CircuitBreaker.Timeout > 0 {
		breaker.Timeout = s.Notification.CircuitBreaker.Timeout
	}

	common := []notification.Option{
		notification.WithHTTPClient(a.http),
		notification.WithLogger(a.log.Module("notification")),
		notification.WithMetrics(a.Metrics.Delivery),
	}

	a.discord = notification.NewDiscordSender(notification.DiscordConfig{
		RateLimit:      s.Discord.RateLimit,
		Timeout:        s.Discord.Timeout,
		CircuitBreaker: breaker,
	}, common...)
	shoutrrr := notification.NewShoutrrrSender(s.Notification.Timeout, common...)

	a.router = notification.NewRouter(a.discord, shoutrrr, common...)
	return a.router
}

func newConverter(finder timezone.Finder, log logger.Logger) (*timezone.Converter, error) {
	if finder == nil {
		pf, err := timezone.NewPolygonFinder()
		if err != nil {
			return nil, err
		}
		finder = pf
	}
	resolver := timezone.NewResolver(finder,
		timezone.WithCache(timezone.NewMemoryCache()),
		timezone.WithLogger(log.Module("timezone")))
	return timezone.NewConverter(resolver), nil
}

func (a *App) newPipeline(converter *timezone.Converter, now func() time.Time) error {
	s := a.Settings
	log := a.log.Module("pipeline")

	if now == nil {
		now = time.Now
	}

	chunkerOpts := []rba.Option{rba.WithLogger(log), rba.WithClock(now)}
	if s.Pipeline.MaxMessageLength > 0 {
		chunkerOpts = append(chunkerOpts, rba.WithMaxLength(s.Pipeline.MaxMessageLength))
	}
	if s.Pipeline.MaxAlsoReported > 0 {
		chunkerOpts = append(chunkerOpts, rba.WithMaxAlsoReported(s.Pipeline.MaxAlsoReported))
	}
	if s.Pipeline.ClusterRadiusKm > 0 {
		chunkerOpts = append(chunkerOpts, rba.WithClusterer(cluster.New(s.Pipeline.ClusterRadiusKm)))
	}

	opts := []pipeline.Option{
		pipeline.WithConfig(pipeline.Config{
			FetchConcurrency: s.Pipeline.FetchConcurrency,
			Silent:           s.Pipeline.Silent,
			RecencyUpdates:   s.Pipeline.RecencyUpdates,
		}),
		pipeline.WithChunker(rba.NewChunker(chunkerOpts...)),
		pipeline.WithMetrics(a.Metrics.RBA),
		pipeline.WithLogger(log),
		pipeline.WithClock(now),
	}

	if s.MQTT.Enabled {
		client, err := mqtt.NewClient(mqtt.Config{
			Broker:   s.MQTT.Broker,
			ClientID: s.Main.Name,
			Username: s.MQTT.Username,
			Password: s.MQTT.Password,
			Topic:    s.MQTT.Topic,
			Retain:   s.MQTT.Retain,
		}, a.log.Module("mqtt"))
		if err != nil {
			return err
		}
		a.publisher = mqtt.NewSummaryPublisher(client, s.MQTT.Topic)
		opts = append(opts, pipeline.WithPublisher(a.publisher))
	}

	a.Pipeline = pipeline.New(a.EBird, a.Store, a.Sender, converter, opts...)
	return nil
}

// RequirePipeline returns the pipeline or a configuration error when no
// eBird API key is set.
func (a *App) RequirePipeline() (*pipeline.Pipeline, error) {
	if a.Pipeline == nil {
		return nil, errAPIKeyRequired()
	}
	return a.Pipeline, nil
}

// RequireSpecies returns the species lookup or a configuration error when
// no eBird API key is set.
func (a *App) RequireSpecies() (*species.Lookup, error) {
	if a.Species == nil {
		return nil, errAPIKeyRequired()
	}
	return a.Species, nil
}

func errAPIKeyRequired() error {
	return errors.Newf("eBird API key is required, set ebird.apikey or DIPPER_EBIRD_APIKEY").
		Component("app").
		Category(errors.CategoryConfiguration).
		Build()
}

// Routes resolves the configured regions and their destinations.
func (a *App) Routes(ctx context.Context) (pipeline.Routes, error) {
	return pipeline.BuildRoutes(ctx, pipeline.RoutesConfigFromSettings(a.Settings), a.Directory, a.log.Module("pipeline"))
}

// NewScheduler creates the daily run scheduler.
func (a *App) NewScheduler() (*pipeline.Scheduler, error) {
	p, err := a.RequirePipeline()
	if err != nil {
		return nil, err
	}
	cfg, err := pipeline.SchedulerConfigFromSettings(a.Settings)
	if err != nil {
		return nil, err
	}
	return pipeline.NewScheduler(p, a.Routes, cfg,
		pipeline.WithSchedulerLogger(a.log.Module("scheduler")))
}

// NewServer creates the HTTP server.
func (a *App) NewServer(build *buildinfo.Context) (*httpserver.Server, error) {
	p, err := a.RequirePipeline()
	if err != nil {
		return nil, err
	}
	cfg := httpserver.Config{
		Port:   a.Settings.WebServer.Port,
		Routes: a.Routes,
		Build:  build,
	}
	if a.router != nil {
		cfg.Notifications = a.router
	}
	if a.Settings.Metrics.Enabled {
		cfg.Metrics = a.Metrics.Handler()
	}
	return httpserver.New(cfg, p, a.Directory, a.Store,
		httpserver.WithLogger(a.log.Module("httpserver"))), nil
}

// Close releases every component. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.publisher != nil {
			a.publisher.Close()
		}
		if a.discord != nil {
			a.discord.Close()
		}
		if a.EBird != nil {
			a.EBird.Close()
		}
		if a.http != nil {
			a.http.Close()
		}
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				a.log.Warn("failed to close datastore", logger.Error(err))
			}
		}
	})
}
