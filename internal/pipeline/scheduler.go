package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/couchcryptid/weather-station-ingest/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultRetryPause = 500 * time.Millisecond
	maxRetryPause     = 30 * time.Second
)

// NewPacer returns the pacing gate for a provider: request starts are spaced
// at least interval apart across every worker that shares it.
func NewPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// SchedulerConfig bounds one provider's fetch phase.
type SchedulerConfig struct {
	MaxConcurrency int
	// Retries is how many times a transient failure is retried per station.
	Retries int
	// RetryPause is the first pause between attempts; it doubles per retry.
	RetryPause time.Duration
}

// StationFailure is a station whose fetch or parse failed.
type StationFailure struct {
	StationID string
	Err       error
}

// FetchResult is the union of one fetch phase.
type FetchResult struct {
	Batch    domain.Batch
	Failures []StationFailure
	// Fetched counts stations whose payload was fetched and parsed.
	Fetched int
	// NotFound counts stations with no current data.
	NotFound int
	// Cancelled is set when the context ended before every station ran.
	Cancelled bool
}

// Scheduler fetches a station set with bounded concurrency behind a shared
// pacing gate.
type Scheduler struct {
	provider domain.ObservationProvider
	pacer    domain.Pacer
	cfg      SchedulerConfig
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewScheduler creates a scheduler for one provider.
func NewScheduler(provider domain.ObservationProvider, pacer domain.Pacer, cfg SchedulerConfig, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = defaultRetryPause
	}
	return &Scheduler{
		provider: provider,
		pacer:    pacer,
		cfg:      cfg,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run fetches and parses every station in ids. Stations are dispatched in
// input order; results arrive in completion order. A failing station never
// stops the others, and Run itself never fails.
func (s *Scheduler) Run(ctx context.Context, ids []string) FetchResult {
	source := string(s.provider.Source())
	var (
		mu  sync.Mutex
		res FetchResult
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			b, err := s.fetchStation(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Fetched++
				res.Batch.Merge(b)
				s.metrics.StationsFetched.WithLabelValues(source).Inc()
			case ctx.Err() != nil:
				// Abandoned, not failed.
			case domain.IsNotFound(err):
				res.NotFound++
				s.metrics.FetchFailures.WithLabelValues(source, domain.KindNotFound.String()).Inc()
			default:
				res.Failures = append(res.Failures, StationFailure{StationID: id, Err: err})
				s.metrics.FetchFailures.WithLabelValues(source, failureKind(err)).Inc()
				s.logger.Warn("station fetch failed", "station_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Cancelled = ctx.Err() != nil
	return res
}

// fetchStation fetches and parses one station, retrying transient failures.
func (s *Scheduler) fetchStation(ctx context.Context, id string) (domain.Batch, error) {
	pause := s.cfg.RetryPause
	for attempt := 0; ; attempt++ {
		raw, err := s.provider.FetchRaw(ctx, s.pacer, id)
		if err == nil {
			b, err := s.provider.Parse(id, raw, domain.Now())
			if err != nil {
				return domain.Batch{}, err
			}
			for i := range b.RowErrors {
				if b.RowErrors[i].StationID == "" {
					b.RowErrors[i].StationID = id
				}
			}
			return b, nil
		}
		if ctx.Err() != nil || !domain.IsTransient(err) || attempt >= s.cfg.Retries {
			return domain.Batch{}, err
		}

		s.logger.Debug("retrying station fetch", "station_id", id, "attempt", attempt+1, "pause", pause, "error", err)
		if !sleepWithClock(ctx, s.clock, pause) {
			return domain.Batch{}, ctx.Err()
		}
		pause = retry.NextBackoff(pause, maxRetryPause)
	}
}

func failureKind(err error) string {
	if errors.Is(err, domain.ErrUnrecognizedPayload) {
		return "unrecognized_payload"
	}
	return domain.FetchKindOf(err).String()
}

// sleepWithClock waits d on clock, returning false if ctx ends first.
func sleepWithClock(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
