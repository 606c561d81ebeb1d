//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/weather-station-ingest/internal/adapter/ndbc"
	"github.com/couchcryptid/weather-station-ingest/internal/adapter/upstream"
	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/couchcryptid/weather-station-ingest/internal/observability"
	"github.com/couchcryptid/weather-station-ingest/internal/pipeline"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const (
	stationTable = `# STATION_ID | OWNER | TTYPE | HULL | NAME | PAYLOAD | LOCATION | TIMEZONE | FORECAST | NOTE
#
46025|N|3-meter foam buoy|3D|Santa Monica Basin - 33NM WSW of Santa Monica, CA|AMPS|33.749 N 119.053 W (33&#176;44'56" N 119&#176;3'10" W)|P|PZZ650|
`
	realtime = `#YY  MM DD hh mm WDIR WSPD GST  WVHT   DPD   APD MWD   PRES  ATMP  WTMP  DEWP  VIS PTDY  TIDE
#yr  mo dy hr mn degT m/s  m/s     m   sec   sec degT   hPa  degC  degC  degC  nmi  hPa    ft
2024 01 15 12 00 270  5.1  7.2   1.8  12.5   MM  MM 1018.5  15.2  14.8   MM  10.0 -1.2    MM
2024 01 15 11 30 260  5.0  6.0   1.7  12.0   MM  MM 1018.4  15.1  14.8   MM   MM +0.0    MM
`
	metadataTopic    = "test.station.metadata"
	observationTopic = "test.observation.raw"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("weather-ingest-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func ndbcServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/data/stations/station_table.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(stationTable))
	})
	mux.HandleFunc("/data/realtime2/46025.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(realtime))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type received struct {
	key     string
	headers map[string]string
	body    map[string]any
}

// readAll reads n messages from topic starting at the first offset.
func readAll(ctx context.Context, t *testing.T, broker, topic string, n int) []received {
	t.Helper()
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = reader.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var out []received
	for len(out) < n {
		msg, err := reader.ReadMessage(readCtx)
		require.NoError(t, err, "read from %s", topic)
		r := received{key: string(msg.Key), headers: map[string]string{}}
		for _, h := range msg.Headers {
			r.headers[h.Key] = string(h.Value)
		}
		require.NoError(t, json.Unmarshal(msg.Value, &r.body))
		out = append(out, r)
	}
	return out
}

// TestBuoyCycleToKafka runs two controller cycles against a fake NDBC host
// and a real broker: the first publishes everything, the second nothing.
func TestBuoyCycleToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	logger := discardLogger()
	require.NoError(t, kafka.EnsureTopics(ctx, []string{broker}, []kafka.TopicConfig{
		kafka.MetadataTopic(metadataTopic),
		kafka.ObservationTopic(observationTopic, 24*time.Hour),
	}, logger))

	writer := kafka.NewWriter(kafka.WriterConfig{Brokers: []string{broker}}, logger)
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	srv := ndbcServer(t)
	client := upstream.NewClient(domain.SourceBuoy, 10*time.Second, "weather-station-ingest/test", metrics, logger)
	provider := ndbc.NewProvider(client, ndbc.Config{BaseURL: srv.URL, StationIDs: []string{"46025"}})

	topics := pipeline.Topics{Metadata: metadataTopic, Observations: observationTopic}
	gate := pipeline.NewGate(domain.SourceBuoy, writer, topics, pipeline.NewRecencySet(100), metrics, logger)
	ctrl := pipeline.NewController(provider, gate, nil, pipeline.ControllerConfig{
		FetchInterval: time.Minute,
		Scheduler:     pipeline.SchedulerConfig{MaxConcurrency: 2},
	}, clockwork.NewRealClock(), metrics, logger)

	first := ctrl.RunCycle(ctx)
	require.NoError(t, first.Err)
	assert.Equal(t, 1, first.Fetched)
	assert.Equal(t, 3, first.Published, "one station and two observations")

	second := ctrl.RunCycle(ctx)
	require.NoError(t, second.Err)
	assert.Zero(t, second.Published)
	assert.Equal(t, 3, second.Suppressed)

	meta := readAll(ctx, t, broker, metadataTopic, 1)
	assert.Equal(t, "ndbc.46025", meta[0].key)
	assert.Equal(t, domain.RecordTypeStation, meta[0].headers["record_type"])
	assert.Equal(t, "ndbc.46025", meta[0].headers["identity_key"])
	assert.Equal(t, "46025", meta[0].body["source_station_id"])

	obs := readAll(ctx, t, broker, observationTopic, 2)
	keys := map[string]bool{}
	for _, o := range obs {
		assert.Equal(t, "ndbc.46025", o.key)
		assert.Equal(t, domain.RecordTypeObservation, o.headers["record_type"])
		keys[o.headers["identity_key"]] = true
	}
	assert.True(t, keys["ndbc.46025.2024-01-15T12:00:00Z"])
	assert.True(t, keys["ndbc.46025.2024-01-15T11:30:00Z"])
}

// TestWriterPublishesToBothTopics checks the writer routes each call to the
// topic it names.
func TestWriterPublishesToBothTopics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	logger := discardLogger()
	require.NoError(t, kafka.EnsureTopics(ctx, []string{broker}, []kafka.TopicConfig{
		kafka.MetadataTopic("a"), kafka.ObservationTopic("b", 0),
	}, logger))
	// A second call finds the topics already there.
	require.NoError(t, kafka.EnsureTopics(ctx, []string{broker}, []kafka.TopicConfig{kafka.MetadataTopic("a")}, logger))

	writer := kafka.NewWriter(kafka.WriterConfig{Brokers: []string{broker}}, logger)
	t.Cleanup(func() { _ = writer.Close() })

	msg := domain.Message{Key: []byte("isd.722950-23174"), Value: []byte(`{"n":1}`), Headers: map[string]string{"identity_key": "k"}}
	require.NoError(t, writer.Publish(ctx, "a", []domain.Message{msg}))
	require.NoError(t, writer.Publish(ctx, "b", []domain.Message{msg, msg}))

	assert.Len(t, readAll(ctx, t, broker, "a", 1), 1)
	assert.Len(t, readAll(ctx, t, broker, "b", 2), 2)
}
