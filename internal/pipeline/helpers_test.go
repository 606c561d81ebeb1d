package pipeline_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/couchcryptid/weather-station-ingest/internal/observability"
	"github.com/couchcryptid/weather-station-ingest/internal/pipeline"
	"github.com/stretchr/testify/require"
)

var (
	testObservedAt = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	testTopics     = pipeline.Topics{Metadata: "weather.station.metadata", Observations: "weather.observation.raw"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- provider fake ---

type listResult struct {
	ids []string
	err error
}

// fakeProvider serves one observation per station. A raw payload is the
// observation time in RFC 3339, "garbage" for an unrecognized body, or a time
// followed by "|rowerr" to add a row error.
type fakeProvider struct {
	source   domain.Source
	interval time.Duration

	mu        sync.Mutex
	lists     []listResult
	listCalls int
	payloads  map[string]string
	errs      map[string][]error
	attempts  map[string]int
	onFetch   func(id string)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	fetches     atomic.Int32
}

func newFakeProvider(lists ...listResult) *fakeProvider {
	return &fakeProvider{
		source:   domain.SourceBuoy,
		lists:    lists,
		payloads: map[string]string{},
		errs:     map[string][]error{},
		attempts: map[string]int{},
	}
}

func (p *fakeProvider) Source() domain.Source          { return p.source }
func (p *fakeProvider) RequestInterval() time.Duration { return p.interval }

func (p *fakeProvider) ListStations(ctx context.Context, pacer domain.Pacer) (domain.StationList, error) {
	if err := pacer.Wait(ctx); err != nil {
		return domain.StationList{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.lists) == 0 {
		return domain.StationList{}, nil
	}
	r := p.lists[min(p.listCalls, len(p.lists)-1)]
	p.listCalls++
	if r.err != nil {
		return domain.StationList{}, r.err
	}

	list := domain.StationList{IDs: r.ids}
	for _, id := range r.ids {
		s, err := domain.NewStationMetadata(domain.StationMetadata{
			Source:          p.source,
			SourceStationID: id,
			Name:            domain.Ptr("Station " + id),
			Latitude:        36.785,
			Longitude:       -122.398,
			UpdatedAt:       domain.Now(),
		})
		if err != nil {
			return domain.StationList{}, err
		}
		list.Batch.Stations = append(list.Batch.Stations, s)
	}
	return list, nil
}

func (p *fakeProvider) FetchRaw(ctx context.Context, pacer domain.Pacer, id string) ([]byte, error) {
	if err := pacer.Wait(ctx); err != nil {
		return nil, err
	}
	p.fetches.Add(1)

	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxInFlight.Load()
		if n <= m || p.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if p.onFetch != nil {
		p.onFetch(id)
	}
	time.Sleep(2 * time.Millisecond)

	p.mu.Lock()
	attempt := p.attempts[id]
	p.attempts[id]++
	var err error
	if errs := p.errs[id]; attempt < len(errs) {
		err = errs[attempt]
	}
	payload, ok := p.payloads[id]
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		payload = testObservedAt.Format(time.RFC3339)
	}
	return []byte(payload), nil
}

func (p *fakeProvider) Parse(id string, raw []byte, fetchedAt time.Time) (domain.Batch, error) {
	text := string(raw)
	if text == "garbage" {
		return domain.Batch{}, fmt.Errorf("%w: garbage", domain.ErrUnrecognizedPayload)
	}
	var b domain.Batch
	text, rowErr := strings.CutSuffix(text, "|rowerr")
	if rowErr {
		b.RowErrors = append(b.RowErrors, domain.RowError{Row: 3, Reason: "bad row"})
	}
	observedAt, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("%w: %v", domain.ErrUnrecognizedPayload, err)
	}
	o, err := domain.NewObservation(domain.Observation{
		Source:          p.source,
		SourceStationID: id,
		ObservedAt:      observedAt,
		AirTempC:        domain.Ptr(12.5),
		IngestedAt:      fetchedAt,
	})
	if err != nil {
		return domain.Batch{}, err
	}
	b.Observations = append(b.Observations, o)
	return b, nil
}

func (p *fakeProvider) attemptsFor(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[id]
}

func (p *fakeProvider) listCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

// --- publisher fake ---

type publishCall struct {
	topic string
	msgs  []domain.Message
}

type recordingPublisher struct {
	mu        sync.Mutex
	calls     []publishCall
	err       error
	onPublish func(ctx context.Context) error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, msgs []domain.Message) error {
	if p.onPublish != nil {
		if err := p.onPublish(ctx); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, publishCall{topic: topic, msgs: msgs})
	return nil
}

func (p *recordingPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// identityKeys lists the identity keys published to topic, in order.
func (p *recordingPublisher) identityKeys(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var keys []string
	for _, c := range p.calls {
		if c.topic != topic {
			continue
		}
		for _, m := range c.msgs {
			keys = append(keys, m.IdentityKey())
		}
	}
	return keys
}

func newTestGate(pub pipeline.Publisher, metrics *observability.Metrics) *pipeline.Gate {
	return pipeline.NewGate(domain.SourceBuoy, pub, testTopics, pipeline.NewRecencySet(100), metrics, discardLogger())
}

func stationIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%02d", i+1)
	}
	return ids
}

func testObservation(t *testing.T, id string, observedAt time.Time, temp float64) domain.Observation {
	t.Helper()
	o, err := domain.NewObservation(domain.Observation{
		Source:          domain.SourceBuoy,
		SourceStationID: id,
		ObservedAt:      observedAt,
		AirTempC:        domain.Ptr(temp),
		IngestedAt:      observedAt.Add(10 * time.Minute),
	})
	require.NoError(t, err)
	return o
}

func testStation(t *testing.T, id, name string, updatedAt time.Time) domain.StationMetadata {
	t.Helper()
	s, err := domain.NewStationMetadata(domain.StationMetadata{
		Source:          domain.SourceBuoy,
		SourceStationID: id,
		Name:            domain.Ptr(name),
		Latitude:        36.785,
		Longitude:       -122.398,
		UpdatedAt:       updatedAt,
	})
	require.NoError(t, err)
	return s
}
