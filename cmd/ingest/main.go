package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/weather-station-ingest/internal/adapter/http"
	"github.com/couchcryptid/weather-station-ingest/internal/adapter/isd"
	kafkaadapter "github.com/couchcryptid/weather-station-ingest/internal/adapter/kafka"
	natsadapter "github.com/couchcryptid/weather-station-ingest/internal/adapter/nats"
	"github.com/couchcryptid/weather-station-ingest/internal/adapter/ndbc"
	"github.com/couchcryptid/weather-station-ingest/internal/adapter/ntfy"
	"github.com/couchcryptid/weather-station-ingest/internal/adapter/oscar"
	"github.com/couchcryptid/weather-station-ingest/internal/adapter/upstream"
	"github.com/couchcryptid/weather-station-ingest/internal/config"
	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/couchcryptid/weather-station-ingest/internal/observability"
	"github.com/couchcryptid/weather-station-ingest/internal/pipeline"
	"github.com/jonboulle/clockwork"
)

type publisher interface {
	pipeline.Publisher
	Close() error
}

func main() {
	once := flag.Bool("once", false, "run a single cycle per provider and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()
	domain.SetClock(clock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start publisher", "backend", cfg.BusBackend, "error", err)
		os.Exit(1)
	}

	var alerter domain.Alerter
	if cfg.AlertsEnabled() {
		alerter = ntfy.NewAlerter(ntfy.Config{
			Server:      cfg.NtfyURL,
			Topic:       cfg.NtfyTopic,
			MinInterval: cfg.NtfyMinInterval,
		}, clock, logger)
		logger.Info("alerts enabled", "server", cfg.NtfyURL, "topic", cfg.NtfyTopic)
	} else {
		logger.Info("alerts disabled")
	}
	monitor := pipeline.NewMonitor(cfg.StaleThreshold, 0, alerter, clock, metrics, logger)

	topics := pipeline.Topics{Metadata: cfg.MetadataTopic, Observations: cfg.ObservationTopic}
	var controllers []*pipeline.Controller
	for _, p := range newProviders(cfg, metrics, logger) {
		gate := pipeline.NewGate(p.provider.Source(), bus, topics, pipeline.NewRecencySet(cfg.DedupCacheSize), metrics, logger)
		controllers = append(controllers, pipeline.NewController(p.provider, gate, monitor, controllerConfig(cfg, p.settings), clock, metrics, logger))
	}
	supervisor := pipeline.NewSupervisor(controllers, monitor, metrics, logger)

	if *once {
		code := 0
		for _, r := range supervisor.RunOnce(ctx) {
			if !r.OK() {
				code = 1
			}
		}
		closePublisher(bus, logger)
		stop()
		os.Exit(code)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, supervisor, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingest.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := supervisor.Run(ctx); err != nil {
			logger.Error("ingest error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// A started publish step finishes before the bus is closed.
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("ingest did not stop before shutdown timeout")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	closePublisher(bus, logger)

	logger.Info("shutdown complete")
}

func newPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (publisher, error) {
	if cfg.BusBackend == config.BusNATS {
		return natsadapter.Connect(ctx, natsadapter.Config{
			URL:              cfg.NATSURL,
			MetadataTopic:    cfg.MetadataTopic,
			ObservationTopic: cfg.ObservationTopic,
			Retention:        cfg.ObservationRetention,
		}, logger)
	}

	if cfg.KafkaCreateTopics {
		topicCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		err := kafkaadapter.EnsureTopics(topicCtx, cfg.KafkaBrokers, []kafkaadapter.TopicConfig{
			kafkaadapter.MetadataTopic(cfg.MetadataTopic),
			kafkaadapter.ObservationTopic(cfg.ObservationTopic, cfg.ObservationRetention),
		}, logger)
		if err != nil {
			// Topics may be managed elsewhere; publishing reports real problems.
			logger.Warn("could not ensure topics", "error", err)
		}
	}
	return kafkaadapter.NewWriter(kafkaadapter.WriterConfig{Brokers: cfg.KafkaBrokers}, logger), nil
}

func closePublisher(bus publisher, logger *slog.Logger) {
	if err := bus.Close(); err != nil {
		logger.Error("publisher close error", "error", err)
	}
}

type enabledProvider struct {
	provider domain.Provider
	settings config.ProviderConfig
}

func newProviders(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) []enabledProvider {
	var out []enabledProvider
	if s := cfg.NDBC; s.Enabled {
		client := upstream.NewClient(domain.SourceBuoy, s.RequestTimeout, cfg.UserAgent, metrics, logger)
		out = append(out, enabledProvider{ndbc.NewProvider(client, ndbc.Config{
			BaseURL:      s.BaseURL,
			StationIDs:   s.StationIDs,
			RequestDelay: s.RequestDelay,
			Lookback:     s.Lookback,
		}), s})
	}
	if s := cfg.ISD; s.Enabled {
		client := upstream.NewClient(domain.SourceSurfaceArchive, s.RequestTimeout, cfg.UserAgent, metrics, logger)
		out = append(out, enabledProvider{isd.NewProvider(client, isd.Config{
			BaseURL:      s.BaseURL,
			StationIDs:   s.StationIDs,
			CountryCodes: s.CountryCodes,
			RequestDelay: s.RequestDelay,
			Lookback:     s.Lookback,
		}), s})
	}
	if s := cfg.OSCAR; s.Enabled {
		client := upstream.NewClient(domain.SourceRegistry, s.RequestTimeout, cfg.UserAgent, metrics, logger,
			upstream.WithAccept("application/json"))
		out = append(out, enabledProvider{oscar.NewProvider(client, oscar.Config{
			BaseURL:        s.BaseURL,
			StationIDs:     s.StationIDs,
			Territories:    s.Territories,
			StationClasses: s.StationClasses,
			FacilityTypes:  s.FacilityTypes,
			PageSize:       s.PageSize,
			RequestDelay:   s.RequestDelay,
		}), s})
	}
	return out
}

func controllerConfig(cfg *config.Config, s config.ProviderConfig) pipeline.ControllerConfig {
	return pipeline.ControllerConfig{
		FetchInterval:          s.FetchInterval,
		StationRefreshInterval: s.StationRefreshInterval,
		Backoff: pipeline.Backoff{
			Max:       cfg.BackoffMax,
			Factor:    cfg.BackoffFactor,
			Threshold: cfg.FailureThreshold,
		},
		PublishTimeout: cfg.PublishTimeout,
		Scheduler: pipeline.SchedulerConfig{
			MaxConcurrency: s.MaxConcurrent,
			Retries:        cfg.FetchRetries,
			RetryPause:     500 * time.Millisecond,
		},
	}
}
