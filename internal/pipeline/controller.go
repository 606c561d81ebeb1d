package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/couchcryptid/weather-station-ingest/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// State is where a controller is in its polling loop.
type State int

const (
	StateIdle State = iota
	StateFetching
	StatePublishing
	StateSleeping
	StateStopped
)

var states = []State{StateIdle, StateFetching, StatePublishing, StateSleeping, StateStopped}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StatePublishing:
		return "publishing"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Backoff computes the sleep after a cycle from the number of consecutive
// failed cycles.
type Backoff struct {
	// Base defaults to the fetch interval.
	Base   time.Duration
	Max    time.Duration
	Factor float64
	// Threshold is the number of consecutive failures before backoff starts.
	Threshold int
}

// Sleep returns Base below the threshold and Base × Factor^failures from
// there on, capped at Max.
func (b Backoff) Sleep(failures int) time.Duration {
	threshold := max(b.Threshold, 1)
	if failures < threshold || b.Factor <= 1 {
		return b.Base
	}
	d := float64(b.Base) * math.Pow(b.Factor, float64(failures))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ControllerConfig is the resolved configuration for one provider loop.
type ControllerConfig struct {
	FetchInterval          time.Duration
	StationRefreshInterval time.Duration
	Backoff                Backoff
	PublishTimeout         time.Duration
	Scheduler              SchedulerConfig
}

// CycleReport summarizes one fetch-then-publish pass.
type CycleReport struct {
	ID         string        `json:"id"`
	Source     domain.Source `json:"source"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Refreshed  bool          `json:"refreshed"`
	Stations   int           `json:"stations"`
	Fetched    int           `json:"fetched"`
	NotFound   int           `json:"not_found"`
	Failed     int           `json:"failed"`
	Parsed     int           `json:"parsed"`
	RowErrors  int           `json:"row_errors"`
	Invalid    int           `json:"invalid"`
	Published  int           `json:"published"`
	Suppressed int           `json:"suppressed"`
	Cancelled  bool          `json:"cancelled"`
	Err        error         `json:"-"`
}

// OK reports whether the cycle counts as successful for backoff.
func (r CycleReport) OK() bool { return r.Err == nil && !r.Cancelled }

func (r CycleReport) outcome() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Err != nil:
		return "failure"
	default:
		return "success"
	}
}

// Status is a point-in-time view of a controller.
type Status struct {
	Source              domain.Source `json:"source"`
	State               State         `json:"state"`
	Stations            int           `json:"stations"`
	Cycles              int           `json:"cycles"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	SleepSeconds        float64       `json:"sleep_seconds"`
	LastCycle           *CycleReport  `json:"last_cycle,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

// FreshnessRecorder receives the newest observation time after each publish.
type FreshnessRecorder interface {
	Record(source domain.Source, observedAt time.Time)
}

// Controller runs the polling loop for one provider.
type Controller struct {
	provider  domain.Provider
	pacer     domain.Pacer
	scheduler *Scheduler
	gate      *Gate
	freshness FreshnessRecorder
	cfg       ControllerConfig
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger

	// Loop state; only the loop goroutine writes it.
	stations    []string
	lastRefresh time.Time

	mu        sync.Mutex
	status    Status
	nextSleep time.Duration

	completed atomic.Bool
}

// NewController wires a provider to its scheduler and gate. Providers that
// also implement domain.ObservationProvider get an observation fetch phase.
// freshness may be nil.
func NewController(provider domain.Provider, gate *Gate, freshness FreshnessRecorder, cfg ControllerConfig, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Controller {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = cfg.FetchInterval
	}
	logger = logger.With("source", string(provider.Source()))
	pacer := NewPacer(provider.RequestInterval())

	c := &Controller{
		provider:  provider,
		pacer:     pacer,
		gate:      gate,
		freshness: freshness,
		cfg:       cfg,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
		status:    Status{Source: provider.Source(), State: StateIdle},
	}
	if op, ok := provider.(domain.ObservationProvider); ok {
		c.scheduler = NewScheduler(op, pacer, cfg.Scheduler, clock, metrics, logger)
	}
	c.setState(StateIdle)
	return c
}

// Source is the provider this controller polls.
func (c *Controller) Source() domain.Source { return c.provider.Source() }

// Completed reports whether at least one cycle ran to the end.
func (c *Controller) Completed() bool { return c.completed.Load() }

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	if s.LastCycle != nil {
		last := *s.LastCycle
		s.LastCycle = &last
	}
	return s
}

// Run polls until ctx is cancelled. It never returns an error: failing
// cycles extend the sleep instead.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller started",
		"fetch_interval", c.cfg.FetchInterval,
		"station_refresh_interval", c.cfg.StationRefreshInterval)
	defer c.setState(StateStopped)

	for {
		if ctx.Err() != nil {
			c.logger.Info("controller stopping", "reason", ctx.Err())
			return nil
		}

		report := c.RunCycle(ctx)
		if report.Cancelled {
			c.logger.Info("controller stopping", "reason", ctx.Err(), "cycle_id", report.ID)
			return nil
		}

		sleep := c.currentSleep()
		c.setState(StateSleeping)
		if !sleepWithClock(ctx, c.clock, sleep) {
			c.logger.Info("controller stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// RunOnce runs a single cycle and leaves the controller stopped.
func (c *Controller) RunOnce(ctx context.Context) CycleReport {
	defer c.setState(StateStopped)
	return c.RunCycle(ctx)
}

// RunCycle performs one fetch-then-publish pass. Cancellation observed
// before publishing abandons the cycle; once publishing starts it runs to
// completion within the publish timeout.
func (c *Controller) RunCycle(ctx context.Context) CycleReport {
	start := c.clock.Now()
	report := CycleReport{ID: uuid.NewString(), Source: c.provider.Source(), StartedAt: start.UTC()}
	logger := c.logger.With("cycle_id", report.ID)

	c.setState(StateFetching)
	pending, err := c.refreshStations(ctx, &report)
	if err != nil {
		if ctx.Err() != nil {
			report.Cancelled = true
			return c.finish(logger, report, start)
		}
		report.Err = err
		logger.Error("station refresh failed, keeping previous stations", "error", err, "stations", len(c.stations))
	}
	report.Stations = len(c.stations)

	if c.scheduler != nil && len(c.stations) > 0 {
		res := c.scheduler.Run(ctx, c.stations)
		pending.Merge(res.Batch)
		report.Fetched = res.Fetched
		report.NotFound = res.NotFound
		report.Failed = len(res.Failures)
		if report.Err == nil && res.Fetched == 0 && res.NotFound == 0 && len(res.Failures) > 0 {
			report.Err = fmt.Errorf("all %d stations failed: %w", len(res.Failures), res.Failures[0].Err)
		}
		c.recordParsed(res.Batch)
	}

	report.Parsed = pending.Records()
	report.RowErrors = len(pending.RowErrors)
	report.Invalid = pending.Invalid

	if ctx.Err() != nil {
		report.Cancelled = true
		return c.finish(logger, report, start)
	}

	c.setState(StatePublishing)
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PublishTimeout)
	defer cancel()
	stats, err := c.gate.Publish(pubCtx, pending)
	report.Published = stats.Published
	report.Suppressed = stats.Suppressed
	if err != nil {
		report.Err = errors.Join(report.Err, err)
	} else if c.freshness != nil {
		if newest, ok := newestObservation(pending); ok {
			c.freshness.Record(c.provider.Source(), newest)
		}
	}

	return c.finish(logger, report, start)
}

// refreshStations reloads the station set when the refresh interval has
// elapsed. The returned batch holds the station metadata to publish.
func (c *Controller) refreshStations(ctx context.Context, report *CycleReport) (domain.Batch, error) {
	if !c.lastRefresh.IsZero() && c.clock.Since(c.lastRefresh) < c.cfg.StationRefreshInterval {
		return domain.Batch{}, nil
	}

	list, err := c.provider.ListStations(ctx, c.pacer)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("refresh stations: %w", err)
	}
	c.stations = list.IDs
	c.lastRefresh = c.clock.Now()
	report.Refreshed = true
	c.recordParsed(list.Batch)
	if len(list.IDs) == 0 {
		c.logger.Warn("station refresh returned no stations")
	}
	return list.Batch, nil
}

func (c *Controller) recordParsed(b domain.Batch) {
	source := string(c.provider.Source())
	if n := len(b.Stations); n > 0 {
		c.metrics.RecordsParsed.WithLabelValues(source, domain.RecordTypeStation).Add(float64(n))
	}
	if n := len(b.Observations); n > 0 {
		c.metrics.RecordsParsed.WithLabelValues(source, domain.RecordTypeObservation).Add(float64(n))
	}
	c.metrics.RowErrors.WithLabelValues(source).Add(float64(len(b.RowErrors)))
	c.metrics.ValidationErrors.WithLabelValues(source).Add(float64(b.Invalid))
}

// finish updates failure counters, metrics and status for a completed or
// abandoned cycle.
func (c *Controller) finish(logger *slog.Logger, report CycleReport, start time.Time) CycleReport {
	report.Duration = c.clock.Since(start)
	if !report.Cancelled {
		c.completed.Store(true)
	}

	source := string(c.provider.Source())
	c.metrics.Cycles.WithLabelValues(source, report.outcome()).Inc()
	c.metrics.CycleDuration.WithLabelValues(source).Observe(report.Duration.Seconds())

	c.mu.Lock()
	if !report.Cancelled {
		if report.OK() {
			c.status.ConsecutiveFailures = 0
		} else {
			c.status.ConsecutiveFailures++
		}
		c.status.Cycles++
	}
	c.status.Stations = len(c.stations)
	c.status.LastCycle = &report
	c.status.LastError = ""
	if report.Err != nil {
		c.status.LastError = report.Err.Error()
	}
	sleep := c.cfg.Backoff.Sleep(c.status.ConsecutiveFailures)
	c.nextSleep = sleep
	c.status.SleepSeconds = sleep.Seconds()
	failures := c.status.ConsecutiveFailures
	c.mu.Unlock()

	c.metrics.ConsecutiveFailures.WithLabelValues(source).Set(float64(failures))
	c.metrics.SleepSeconds.WithLabelValues(source).Set(sleep.Seconds())

	attrs := []any{
		"outcome", report.outcome(),
		"duration", report.Duration,
		"stations", report.Stations,
		"fetched", report.Fetched,
		"not_found", report.NotFound,
		"failed", report.Failed,
		"parsed", report.Parsed,
		"row_errors", report.RowErrors,
		"invalid", report.Invalid,
		"published", report.Published,
		"suppressed", report.Suppressed,
		"next_sleep", sleep,
	}
	switch {
	case report.Cancelled:
		logger.Info("cycle abandoned", attrs...)
	case report.Err != nil:
		logger.Error("cycle failed", append(attrs, "error", report.Err, "consecutive_failures", failures)...)
	default:
		logger.Info("cycle complete", attrs...)
	}
	return report
}

func (c *Controller) currentSleep() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSleep
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.status.State = s
	c.mu.Unlock()

	source := string(c.provider.Source())
	for _, st := range states {
		v := 0.0
		if st == s {
			v = 1
		}
		c.metrics.ControllerState.WithLabelValues(source, st.String()).Set(v)
	}
}

func newestObservation(b domain.Batch) (time.Time, bool) {
	var newest time.Time
	for _, o := range b.Observations {
		if o.ObservedAt.After(newest) {
			newest = o.ObservedAt
		}
	}
	return newest, !newest.IsZero()
}
