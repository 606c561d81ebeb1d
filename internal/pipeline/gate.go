package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/couchcryptid/weather-station-ingest/internal/observability"
)

// Publisher writes messages to the bus and returns once the broker
// acknowledged all of them. The Kafka and NATS adapters implement it.
type Publisher interface {
	Publish(ctx context.Context, topic string, msgs []domain.Message) error
}

// Topics names the two destinations.
type Topics struct {
	Metadata     string
	Observations string
}

// PublishStats counts what one Publish call did with its records. After a
// successful call Candidates equals Published plus Suppressed.
type PublishStats struct {
	Candidates int
	Published  int
	Suppressed int
}

func (s *PublishStats) add(other PublishStats) {
	s.Candidates += other.Candidates
	s.Published += other.Published
	s.Suppressed += other.Suppressed
}

// Gate publishes records whose content has not been published before.
type Gate struct {
	source    domain.Source
	publisher Publisher
	topics    Topics
	recent    *RecencySet
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewGate creates a publish gate for one provider. recent is owned by the
// gate from here on.
func NewGate(source domain.Source, publisher Publisher, topics Topics, recent *RecencySet, metrics *observability.Metrics, logger *slog.Logger) *Gate {
	return &Gate{
		source:    source,
		publisher: publisher,
		topics:    topics,
		recent:    recent,
		metrics:   metrics,
		logger:    logger,
	}
}

type record interface {
	IdentityKey() string
	Fingerprint() [32]byte
}

type candidate struct {
	key         string
	fingerprint [32]byte
	msg         domain.Message
}

// Publish sends the new and changed records of b. Station metadata goes out
// before observations. Keys are recorded only after the broker acknowledged
// them, so a failed batch is offered again on the next cycle.
func (g *Gate) Publish(ctx context.Context, b domain.Batch) (PublishStats, error) {
	var total PublishStats

	stations, err := collapse(b.Stations, domain.SerializeStation)
	if err != nil {
		return total, err
	}
	stats, err := g.publish(ctx, g.topics.Metadata, domain.RecordTypeStation, len(b.Stations), stations)
	total.add(stats)
	if err != nil {
		return total, err
	}

	observations, err := collapse(b.Observations, domain.SerializeObservation)
	if err != nil {
		return total, err
	}
	stats, err = g.publish(ctx, g.topics.Observations, domain.RecordTypeObservation, len(b.Observations), observations)
	total.add(stats)
	return total, err
}

func (g *Gate) publish(ctx context.Context, topic, recordType string, n int, cands []candidate) (PublishStats, error) {
	stats := PublishStats{Candidates: n}
	fresh := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if !g.recent.Published(c.key, c.fingerprint) {
			fresh = append(fresh, c)
		}
	}
	stats.Suppressed = n - len(fresh)
	g.metrics.RecordsSuppressed.WithLabelValues(string(g.source), recordType).Add(float64(stats.Suppressed))

	if len(fresh) == 0 {
		return stats, nil
	}

	msgs := make([]domain.Message, len(fresh))
	for i, c := range fresh {
		msgs[i] = c.msg
	}
	if err := g.publisher.Publish(ctx, topic, msgs); err != nil {
		g.metrics.PublishErrors.WithLabelValues(string(g.source)).Inc()
		return stats, &domain.PublishError{Topic: topic, Count: len(msgs), Err: err}
	}

	for _, c := range fresh {
		g.recent.Record(c.key, c.fingerprint)
	}
	stats.Published = len(fresh)
	g.metrics.RecordsPublished.WithLabelValues(string(g.source), recordType).Add(float64(stats.Published))
	g.metrics.DedupEntries.WithLabelValues(string(g.source)).Set(float64(g.recent.Len()))
	g.logger.Debug("records published", "topic", topic, "record_type", recordType,
		"published", stats.Published, "suppressed", stats.Suppressed)
	return stats, nil
}

// collapse serializes records, keeping only the last occurrence of each
// identity key at the position of its first occurrence.
func collapse[T record](records []T, serialize func(T) (domain.Message, error)) ([]candidate, error) {
	index := make(map[string]int, len(records))
	out := make([]candidate, 0, len(records))
	for _, r := range records {
		msg, err := serialize(r)
		if err != nil {
			return nil, err
		}
		c := candidate{key: r.IdentityKey(), fingerprint: r.Fingerprint(), msg: msg}
		if i, ok := index[c.key]; ok {
			out[i] = c
			continue
		}
		index[c.key] = len(out)
		out = append(out, c)
	}
	return out, nil
}
