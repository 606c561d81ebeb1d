package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Bus backends.
const (
	BusKafka = "kafka"
	BusNATS  = "nats"
)

// ProviderConfig holds the settings of one upstream source, read from
// variables with the provider's prefix (NDBC_, ISD_, OSCAR_).
type ProviderConfig struct {
	Enabled                bool
	BaseURL                string
	StationIDs             []string
	FetchInterval          time.Duration
	StationRefreshInterval time.Duration
	RequestDelay           time.Duration
	RequestTimeout         time.Duration
	MaxConcurrent          int
	Lookback               time.Duration

	// ISD only.
	CountryCodes []string

	// OSCAR only.
	Territories    []string
	StationClasses []string
	FacilityTypes  []string
	PageSize       int
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	BusBackend           string
	KafkaBrokers         []string
	MetadataTopic        string
	ObservationTopic     string
	KafkaCreateTopics    bool
	ObservationRetention time.Duration
	NATSURL              string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	UserAgent        string
	FetchRetries     int
	PublishTimeout   time.Duration
	DedupCacheSize   int
	BackoffFactor    float64
	BackoffMax       time.Duration
	FailureThreshold int

	StaleThreshold  time.Duration
	NtfyURL         string
	NtfyTopic       string
	NtfyMinInterval time.Duration

	NDBC  ProviderConfig
	ISD   ProviderConfig
	OSCAR ProviderConfig
}

// providerDefaults are the per-source fallbacks.
type providerDefaults struct {
	baseURL        string
	fetchInterval  string
	refresh        string
	requestDelay   string
	requestTimeout string
	maxConcurrent  int
	lookback       string
}

var (
	ndbcDefaults = providerDefaults{
		baseURL:       "https://www.ndbc.noaa.gov",
		fetchInterval: "1h",
		refresh:       "24h",
		requestDelay:  "100ms",
		maxConcurrent: 10,
		lookback:      "6h",
	}
	isdDefaults = providerDefaults{
		baseURL:       "https://www.ncei.noaa.gov",
		fetchInterval: "1h",
		refresh:       "24h",
		requestDelay:  "50ms",
		maxConcurrent: 20,
		lookback:      "24h",
	}
	oscarDefaults = providerDefaults{
		baseURL:        "https://oscar.wmo.int/surface/rest/api",
		fetchInterval:  "24h",
		refresh:        "0s",
		requestDelay:   "1s",
		requestTimeout: "120s",
		maxConcurrent:  1,
		lookback:       "0s",
	}
)

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BusBackend:       strings.ToLower(sharedcfg.EnvOrDefault("BUS_BACKEND", BusKafka)),
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		MetadataTopic:    sharedcfg.EnvOrDefault("KAFKA_METADATA_TOPIC", "weather.station.metadata"),
		ObservationTopic: sharedcfg.EnvOrDefault("KAFKA_OBSERVATION_TOPIC", "weather.observation.raw"),
		NATSURL:          sharedcfg.EnvOrDefault("NATS_URL", "nats://localhost:4222"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		UserAgent:        sharedcfg.EnvOrDefault("USER_AGENT", "weather-station-ingest/1.0"),
		NtfyURL:          sharedcfg.EnvOrDefault("NTFY_URL", "https://ntfy.sh"),
		NtfyTopic:        os.Getenv("NTFY_TOPIC"),
	}

	p := parser{}
	cfg.KafkaCreateTopics = p.boolean("KAFKA_CREATE_TOPICS", true)
	cfg.ObservationRetention = p.duration("KAFKA_OBSERVATION_RETENTION", "168h", true)
	requestTimeout := p.duration("REQUEST_TIMEOUT", "30s", false)
	cfg.FetchRetries = p.integer("FETCH_RETRIES", 2, 0)
	cfg.PublishTimeout = p.duration("PUBLISH_TIMEOUT", "30s", false)
	cfg.DedupCacheSize = p.integer("DEDUP_CACHE_SIZE", 200_000, 1)
	cfg.BackoffFactor = p.float("BACKOFF_FACTOR", 2, 1)
	cfg.BackoffMax = p.duration("BACKOFF_MAX_INTERVAL", "6h", false)
	cfg.FailureThreshold = p.integer("FAILURE_THRESHOLD", 3, 1)
	cfg.StaleThreshold = p.duration("STALE_THRESHOLD", "60m", false)
	cfg.NtfyMinInterval = p.duration("NTFY_MIN_INTERVAL", "60m", true)

	cfg.NDBC = p.provider("NDBC", ndbcDefaults, requestTimeout)
	cfg.ISD = p.provider("ISD", isdDefaults, requestTimeout)
	cfg.ISD.CountryCodes = upper(splitList(os.Getenv("ISD_COUNTRY_CODES")))
	cfg.OSCAR = p.provider("OSCAR", oscarDefaults, requestTimeout)
	cfg.OSCAR.Territories = splitList(os.Getenv("OSCAR_TERRITORIES"))
	cfg.OSCAR.StationClasses = splitList(os.Getenv("OSCAR_STATION_CLASSES"))
	cfg.OSCAR.FacilityTypes = splitList(os.Getenv("OSCAR_FACILITY_TYPES"))
	cfg.OSCAR.PageSize = p.integer("OSCAR_PAGE_SIZE", 50000, 1)

	if p.err != nil {
		return nil, p.err
	}

	switch cfg.BusBackend {
	case BusKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
	case BusNATS:
		if cfg.NATSURL == "" {
			return nil, errors.New("NATS_URL is required")
		}
	default:
		return nil, fmt.Errorf("invalid BUS_BACKEND %q: must be kafka or nats", cfg.BusBackend)
	}
	if cfg.MetadataTopic == "" {
		return nil, errors.New("KAFKA_METADATA_TOPIC is required")
	}
	if cfg.ObservationTopic == "" {
		return nil, errors.New("KAFKA_OBSERVATION_TOPIC is required")
	}
	if !cfg.NDBC.Enabled && !cfg.ISD.Enabled && !cfg.OSCAR.Enabled {
		return nil, errors.New("no provider enabled: set NDBC_ENABLED, ISD_ENABLED or OSCAR_ENABLED")
	}

	return cfg, nil
}

// AlertsEnabled reports whether stale-data alerts are sent.
func (c *Config) AlertsEnabled() bool { return c.NtfyTopic != "" }

// parser collects the first error so Load reads top to bottom.
type parser struct {
	err error
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *parser) provider(prefix string, d providerDefaults, requestTimeout time.Duration) ProviderConfig {
	timeout := requestTimeout
	if d.requestTimeout != "" {
		timeout = p.duration(prefix+"_REQUEST_TIMEOUT", d.requestTimeout, false)
	}
	return ProviderConfig{
		Enabled:                p.boolean(prefix+"_ENABLED", true),
		BaseURL:                sharedcfg.EnvOrDefault(prefix+"_BASE_URL", d.baseURL),
		StationIDs:             splitList(os.Getenv(prefix + "_STATION_IDS")),
		FetchInterval:          p.duration(prefix+"_FETCH_INTERVAL", d.fetchInterval, false),
		StationRefreshInterval: p.duration(prefix+"_STATION_REFRESH_INTERVAL", d.refresh, true),
		RequestDelay:           p.duration(prefix+"_REQUEST_DELAY", d.requestDelay, true),
		RequestTimeout:         timeout,
		MaxConcurrent:          p.integer(prefix+"_MAX_CONCURRENT", d.maxConcurrent, 1),
		Lookback:               p.duration(prefix+"_LOOKBACK", d.lookback, true),
	}
}

// duration parses a Go duration. allowZero permits "0s".
func (p *parser) duration(key, fallback string, allowZero bool) time.Duration {
	s := sharedcfg.EnvOrDefault(key, fallback)
	d, err := time.ParseDuration(s)
	switch {
	case err != nil, d < 0:
		p.fail(fmt.Errorf("invalid %s: must be a duration", key))
		return 0
	case d == 0 && !allowZero:
		p.fail(fmt.Errorf("invalid %s: must be a positive duration", key))
		return 0
	}
	return d
}

func (p *parser) integer(key string, fallback, minimum int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		p.fail(fmt.Errorf("invalid %s: must be an integer >= %d", key, minimum))
		return 0
	}
	return n
}

func (p *parser) float(key string, fallback, minimum float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < minimum {
		p.fail(fmt.Errorf("invalid %s: must be a number >= %g", key, minimum))
		return 0
	}
	return f
}

func (p *parser) boolean(key string, fallback bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: must be true or false", key))
		return fallback
	}
	return b
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func upper(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToUpper(v)
	}
	return values
}
