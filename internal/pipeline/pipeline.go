// Package pipeline runs the rare bird alert: per region it fetches notable
// sightings, renders them into chat-sized messages, delivers them in order and
// persists every sighting. It also refreshes thread recency and schedules runs.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/dipper-go/internal/ebird"
	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/mqtt"
	"github.com/tphakala/dipper-go/internal/notification"
	"github.com/tphakala/dipper-go/internal/observation"
	"github.com/tphakala/dipper-go/internal/rba"
	"github.com/tphakala/dipper-go/internal/recency"
)

// Run triggers
const (
	TriggerScheduled = "scheduled"
	TriggerOnDemand  = "on_demand"
)

// Region run statuses
const (
	StatusSuccess       = "success"
	StatusFetchError    = "fetch_error"
	StatusDeliveryError = "delivery_error"
	StatusPersistError  = "persist_error"
)

// Observation results
const (
	ResultConverted = "converted"
	ResultSkipped   = "skipped"
)

// Source fetches raw notable sightings. *ebird.Client satisfies it.
type Source interface {
	RecentNotable(ctx context.Context, region string) ([]ebird.Observation, error)
}

// Store is the persistence the pipeline needs. datastore.Interface satisfies it.
type Store interface {
	recency.Store
	SaveChecklist(ctx context.Context, obs *observation.Observation) error
	LinkChecklist(ctx context.Context, checklistID, trackerKey string) error
	SaveThread(ctx context.Context, thread *observation.Thread) error
	GetThread(ctx context.Context, trackerKey string) (observation.Thread, error)
	GetAllThreads(ctx context.Context) ([]observation.Thread, error)
}

// SummaryPublisher receives one summary per processed region.
// *mqtt.SummaryPublisher satisfies it.
type SummaryPublisher interface {
	PublishSummary(ctx context.Context, s mqtt.Summary) error
}

// MetricsRecorder receives pipeline metrics. *metrics.RBAMetrics satisfies it.
type MetricsRecorder interface {
	RecordRun(trigger string)
	RecordRegion(region, status string, d time.Duration)
	RecordObservations(region, result string, n int)
	RecordMessages(region string, n int)
	RecordBucketChange(bucket string)
}

// Config tunes a pipeline.
type Config struct {
	FetchConcurrency int  // > 1 fetches regions in parallel
	Silent           bool // suppress chat notifications
	RecencyUpdates   bool // announce thread bucket changes
}

// RegionResult is the outcome of one region.
type RegionResult struct {
	Region      string   `json:"region"`
	Destination string   `json:"-"`
	Fetched     int      `json:"fetched"`
	Converted   int      `json:"converted"`
	Skipped     int      `json:"skipped"`
	Messages    []string `json:"messages"`
	Delivered   int      `json:"delivered"`
	Persisted   int      `json:"persisted"`
	Linked      int      `json:"linked"`
	Status      string   `json:"status"`
	Err         error    `json:"-"`
}

// RunResult is the outcome of a multi-region run.
type RunResult struct {
	RunID   string         `json:"run_id"`
	Trigger string         `json:"trigger"`
	Regions []RegionResult `json:"regions"`
}

// Failed returns the regions that did not succeed.
func (r *RunResult) Failed() []RegionResult {
	var failed []RegionResult
	for i := range r.Regions {
		if r.Regions[i].Status != StatusSuccess {
			failed = append(failed, r.Regions[i])
		}
	}
	return failed
}

// Pipeline wires the components of a run together.
type Pipeline struct {
	source     Source
	store      Store
	sender     notification.Sender
	converter  observation.Converter
	chunker    *rba.Chunker
	classifier *recency.Classifier
	publisher  SummaryPublisher
	recorder   MetricsRecorder
	log        logger.Logger
	config     Config
	now        func() time.Time
	newRunID   func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConfig sets the pipeline configuration.
func WithConfig(c Config) Option {
	return func(p *Pipeline) { p.config = c }
}

// WithChunker replaces the default chunker.
func WithChunker(c *rba.Chunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// WithClassifier replaces the default classifier built on the store.
func WithClassifier(c *recency.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithPublisher publishes a summary after each region.
func WithPublisher(pub SummaryPublisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r MetricsRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithClock replaces time.Now for summaries and the default chunker and classifier.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline. sender may be nil for runs that only render.
func New(source Source, store Store, sender notification.Sender, converter observation.Converter, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:    source,
		store:     store,
		sender:    sender,
		converter: converter,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Global().Module("pipeline")
	}
	if p.chunker == nil {
		p.chunker = rba.NewChunker(rba.WithClock(p.now), rba.WithLogger(p.log))
	}
	if p.classifier == nil {
		p.classifier = recency.NewClassifier(store, recency.WithClock(p.now))
	}
	return p
}

type fetchResult struct {
	records []ebird.Observation
	err     error
}

// Run processes every route in order. Failures are per region and reported
// in the result; the returned error is only set when ctx ends the run early.
func (p *Pipeline) Run(ctx context.Context, routes Routes, trigger string) (RunResult, error) {
	runID := p.newRunID()
	ctx = logger.WithTraceID(ctx, runID)
	log := p.log.WithContext(ctx)

	if p.recorder != nil {
		p.recorder.RecordRun(trigger)
	}

	all := routes.All()
	result := RunResult{RunID: runID, Trigger: trigger, Regions: make([]RegionResult, 0, len(all))}
	log.Info("rba run started",
		logger.String("run_id", runID),
		logger.String("trigger", trigger),
		logger.Int("regions", len(all)))

	prefetched := p.prefetch(ctx, all)

	for i, route := range all {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var fetched fetchResult
		if prefetched != nil {
			fetched = prefetched[i]
		} else {
			fetched = p.fetch(ctx, route.Region)
		}

		result.Regions = append(result.Regions, p.processRegion(ctx, runID, trigger, route, fetched))
	}

	log.Info("rba run finished",
		logger.String("run_id", runID),
		logger.Int("regions", len(result.Regions)),
		logger.Int("failed", len(result.Failed())))
	return result, nil
}

// RunRegion processes a single region on demand. An empty destination renders
// and persists without delivering.
func (p *Pipeline) RunRegion(ctx context.Context, route Route) (RegionResult, error) {
	runID := p.newRunID()
	ctx = logger.WithTraceID(ctx, runID)

	if p.recorder != nil {
		p.recorder.RecordRun(TriggerOnDemand)
	}

	res := p.processRegion(ctx, runID, TriggerOnDemand, route, p.fetch(ctx, route.Region))
	return res, res.Err
}

func (p *Pipeline) fetch(ctx context.Context, region string) fetchResult {
	records, err := p.source.RecentNotable(ctx, region)
	return fetchResult{records: records, err: err}
}

// prefetch fetches all regions concurrently when configured, nil otherwise.
// Fetch errors are kept per region so one failure does not cancel the rest.
func (p *Pipeline) prefetch(ctx context.Context, routes []Route) []fetchResult {
	if p.config.FetchConcurrency <= 1 || len(routes) < 2 {
		return nil
	}

	results := make([]fetchResult, len(routes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.FetchConcurrency)
	for i, route := range routes {
		g.Go(func() error {
			r := p.fetch(gctx, route.Region)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pipeline) processRegion(ctx context.Context, runID, trigger string, route Route, fetched fetchResult) RegionResult {
	start := time.Now()
	log := p.log.WithContext(ctx).With(logger.String("region", route.Region))
	res := RegionResult{Region: route.Region, Destination: route.Destination, Status: StatusSuccess}

	defer func() {
		if p.recorder != nil {
			p.recorder.RecordRegion(route.Region, res.Status, time.Since(start))
		}
		p.publish(ctx, runID, &res)
	}()

	if fetched.err != nil {
		res.Status = StatusFetchError
		res.Err = fetched.err
		log.Error("fetch failed", logger.Error(fetched.err))
		return res
	}
	res.Fetched = len(fetched.records)

	observations := p.convert(log, route.Region, fetched.records, &res)
	res.Messages = p.chunker.Messages(observations)
	if p.recorder != nil {
		p.recorder.RecordMessages(route.Region, len(res.Messages))
	}

	// scheduled runs stay quiet for regions with nothing notable
	if trigger == TriggerScheduled && len(observations) == 0 {
		log.Debug("no notable observations, delivery skipped")
	} else if err := p.deliver(ctx, route, res.Messages, &res); err != nil {
		res.Status = StatusDeliveryError
		res.Err = err
		log.Error("delivery failed",
			logger.Int("delivered", res.Delivered),
			logger.Int("messages", len(res.Messages)),
			logger.Error(err))
	}

	// persisted whatever happened to delivery
	if err := p.persist(ctx, observations, &res); err != nil {
		if res.Err == nil {
			res.Status = StatusPersistError
			res.Err = err
		}
		log.Error("persist failed", logger.Int("persisted", res.Persisted), logger.Error(err))
	}

	log.Info("region processed",
		logger.Int("fetched", res.Fetched),
		logger.Int("converted", res.Converted),
		logger.Int("skipped", res.Skipped),
		logger.Int("messages", len(res.Messages)),
		logger.Int("delivered", res.Delivered),
		logger.Int("linked", res.Linked),
		logger.String("status", res.Status))
	return res
}

func (p *Pipeline) convert(log logger.Logger, region string, records []ebird.Observation, res *RegionResult) []observation.Observation {
	observations := make([]observation.Observation, 0, len(records))
	for i := range records {
		obs, err := observation.FromRecord(records[i], region, p.converter)
		if err != nil {
			res.Skipped++
			log.Warn("skipping observation",
				logger.String("checklist_id", records[i].SubID),
				logger.String("species", records[i].ComName),
				logger.Error(err))
			continue
		}
		observations = append(observations, obs)
	}
	res.Converted = len(observations)

	if p.recorder != nil {
		p.recorder.RecordObservations(region, ResultConverted, res.Converted)
		p.recorder.RecordObservations(region, ResultSkipped, res.Skipped)
	}
	return observations
}

// deliver sends messages in order and stops at the first failure.
func (p *Pipeline) deliver(ctx context.Context, route Route, messages []string, res *RegionResult) error {
	if route.Destination == "" {
		return nil
	}
	if p.sender == nil {
		return errors.Newf("%w: no sender configured", notification.ErrDeliveryFailure).
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}

	for _, msg := range messages {
		if err := p.sender.Send(ctx, route.Destination, msg, p.config.Silent); err != nil {
			return err
		}
		res.Delivered++
	}
	return nil
}

// persist upserts every observation and links it to an existing thread for
// its species in the region.
func (p *Pipeline) persist(ctx context.Context, observations []observation.Observation, res *RegionResult) error {
	var errs []error
	threads := make(map[string]bool)

	for i := range observations {
		obs := &observations[i]
		if err := p.store.SaveChecklist(ctx, obs); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Persisted++

		key := observation.TrackerKey(obs.Species, res.Region)
		exists, seen := threads[key]
		if !seen {
			_, err := p.store.GetThread(ctx, key)
			switch {
			case err == nil:
				exists = true
			case errors.IsNotFound(err):
			default:
				errs = append(errs, err)
			}
			threads[key] = exists
		}
		if !exists {
			continue
		}

		if err := p.store.LinkChecklist(ctx, obs.ChecklistID, key); err != nil {
			errs = append(errs, err)
			continue
		}
		obs.TrackerKey = key
		res.Linked++
	}

	return errors.Join(errs...)
}

func (p *Pipeline) publish(ctx context.Context, runID string, res *RegionResult) {
	if p.publisher == nil {
		return
	}
	summary := mqtt.Summary{
		RunID:        runID,
		Region:       res.Region,
		Observations: res.Converted,
		Messages:     len(res.Messages),
		Delivered:    res.Delivered,
		Skipped:      res.Skipped,
		Timestamp:    p.now().UTC(),
	}
	if err := p.publisher.PublishSummary(ctx, summary); err != nil {
		p.log.WithContext(ctx).Warn("summary publish failed",
			logger.String("region", res.Region),
			logger.Error(err))
	}
}
