package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BusKafka, cfg.BusBackend)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "weather.station.metadata", cfg.MetadataTopic)
	assert.Equal(t, "weather.observation.raw", cfg.ObservationTopic)
	assert.True(t, cfg.KafkaCreateTopics)
	assert.Equal(t, 168*time.Hour, cfg.ObservationRetention)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 2, cfg.FetchRetries)
	assert.Equal(t, 30*time.Second, cfg.PublishTimeout)
	assert.Equal(t, 200_000, cfg.DedupCacheSize)
	assert.InDelta(t, 2.0, cfg.BackoffFactor, 0)
	assert.Equal(t, 6*time.Hour, cfg.BackoffMax)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, time.Hour, cfg.StaleThreshold)
	assert.False(t, cfg.AlertsEnabled())
	assert.Equal(t, "https://ntfy.sh", cfg.NtfyURL)

	assert.Equal(t, ProviderConfig{
		Enabled:                true,
		BaseURL:                "https://www.ndbc.noaa.gov",
		FetchInterval:          time.Hour,
		StationRefreshInterval: 24 * time.Hour,
		RequestDelay:           100 * time.Millisecond,
		RequestTimeout:         30 * time.Second,
		MaxConcurrent:          10,
		Lookback:               6 * time.Hour,
	}, cfg.NDBC)
	assert.Equal(t, 20, cfg.ISD.MaxConcurrent)
	assert.Equal(t, 50*time.Millisecond, cfg.ISD.RequestDelay)
	assert.Equal(t, 24*time.Hour, cfg.ISD.Lookback)
	assert.Equal(t, 24*time.Hour, cfg.OSCAR.FetchInterval)
	assert.Equal(t, 120*time.Second, cfg.OSCAR.RequestTimeout)
	assert.Equal(t, 50000, cfg.OSCAR.PageSize)
	assert.Zero(t, cfg.OSCAR.StationRefreshInterval)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("BUS_BACKEND", "NATS")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("KAFKA_METADATA_TOPIC", "meta")
	t.Setenv("KAFKA_OBSERVATION_TOPIC", "obs")
	t.Setenv("KAFKA_CREATE_TOPICS", "false")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("FETCH_RETRIES", "0")
	t.Setenv("BACKOFF_FACTOR", "1.5")
	t.Setenv("NTFY_TOPIC", "weather-alerts")
	t.Setenv("NTFY_MIN_INTERVAL", "15m")
	t.Setenv("NDBC_STATION_IDS", "46025, 46026,,41001")
	t.Setenv("NDBC_FETCH_INTERVAL", "10m")
	t.Setenv("NDBC_REQUEST_DELAY", "0s")
	t.Setenv("ISD_ENABLED", "false")
	t.Setenv("ISD_COUNTRY_CODES", "us,ca")
	t.Setenv("OSCAR_TERRITORIES", "Netherlands,Kenya")
	t.Setenv("OSCAR_PAGE_SIZE", "1000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BusNATS, cfg.BusBackend)
	assert.Equal(t, "nats://nats:4222", cfg.NATSURL)
	assert.Equal(t, "meta", cfg.MetadataTopic)
	assert.Equal(t, "obs", cfg.ObservationTopic)
	assert.False(t, cfg.KafkaCreateTopics)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.FetchRetries)
	assert.InDelta(t, 1.5, cfg.BackoffFactor, 0)
	assert.True(t, cfg.AlertsEnabled())
	assert.Equal(t, 15*time.Minute, cfg.NtfyMinInterval)

	assert.Equal(t, []string{"46025", "46026", "41001"}, cfg.NDBC.StationIDs)
	assert.Equal(t, 10*time.Minute, cfg.NDBC.FetchInterval)
	assert.Zero(t, cfg.NDBC.RequestDelay)
	assert.Equal(t, 5*time.Second, cfg.NDBC.RequestTimeout)
	assert.False(t, cfg.ISD.Enabled)
	assert.Equal(t, []string{"US", "CA"}, cfg.ISD.CountryCodes)
	assert.Equal(t, []string{"Netherlands", "Kenya"}, cfg.OSCAR.Territories)
	assert.Equal(t, 1000, cfg.OSCAR.PageSize)
	assert.Equal(t, 120*time.Second, cfg.OSCAR.RequestTimeout, "the registry keeps its own timeout")
}

func TestLoad_InvalidValuesNameTheVariable(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration"},
		{"SHUTDOWN_TIMEOUT", "-1s"},
		{"REQUEST_TIMEOUT", "0s"},
		{"FETCH_RETRIES", "-1"},
		{"DEDUP_CACHE_SIZE", "lots"},
		{"BACKOFF_FACTOR", "0.5"},
		{"FAILURE_THRESHOLD", "0"},
		{"KAFKA_CREATE_TOPICS", "maybe"},
		{"NDBC_FETCH_INTERVAL", "0s"},
		{"NDBC_MAX_CONCURRENT", "0"},
		{"ISD_LOOKBACK", "-2h"},
		{"OSCAR_PAGE_SIZE", "x"},
		{"BUS_BACKEND", "rabbitmq"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_EmptyBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " , ")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_NATSIgnoresBrokers(t *testing.T) {
	t.Setenv("BUS_BACKEND", "nats")
	t.Setenv("KAFKA_BROKERS", ",")
	_, err := Load()
	require.NoError(t, err)
}

func TestLoad_NoProviderEnabled(t *testing.T) {
	t.Setenv("NDBC_ENABLED", "false")
	t.Setenv("ISD_ENABLED", "false")
	t.Setenv("OSCAR_ENABLED", "false")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider enabled")
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(" , "))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,b,"))
}
