package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// WriterConfig configures the Kafka publisher.
type WriterConfig struct {
	Brokers []string
	// BatchTimeout bounds how long the writer waits to fill a batch. The
	// gate hands over whole batches, so this stays short.
	BatchTimeout time.Duration
}

// Writer produces canonical record messages. Each call names its topic, so
// one writer serves both the metadata and the observation topics.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer. Messages are hashed on their key so
// every record of a station lands on the same partition.
func NewWriter(cfg WriterConfig, logger *slog.Logger) *Writer {
	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: timeout,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes msgs to topic in a single WriteMessages call and returns
// once the brokers have acknowledged all of them.
func (w *Writer) Publish(ctx context.Context, topic string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafkago.Message, len(msgs))
	for i := range msgs {
		out[i] = toKafkaMessage(topic, msgs[i])
	}
	if err := w.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(out), topic, err)
	}
	w.logger.Debug("published", "topic", topic, "count", len(out))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// toKafkaMessage converts a bus message. Headers are sorted by name so the
// wire form is stable.
func toKafkaMessage(topic string, msg domain.Message) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(msg.Headers))
	for _, k := range slices.Sorted(maps.Keys(msg.Headers)) {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(msg.Headers[k])})
	}
	return kafkago.Message{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

// TopicConfig describes a topic the service publishes to.
type TopicConfig struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	// Compacted keeps only the latest message per key.
	Compacted bool
	// Retention is the retention.ms setting; zero leaves the broker default.
	Retention time.Duration
}

// MetadataTopic is compacted: consumers rebuild the current station table by
// reading it from the start.
func MetadataTopic(name string) TopicConfig {
	return TopicConfig{Name: name, Partitions: 3, ReplicationFactor: 1, Compacted: true}
}

// ObservationTopic holds the time series under time-based retention.
func ObservationTopic(name string, retention time.Duration) TopicConfig {
	return TopicConfig{Name: name, Partitions: 3, ReplicationFactor: 1, Retention: retention}
}

// EnsureTopics creates any missing topics. Existing topics are left as they are.
func EnsureTopics(ctx context.Context, brokers []string, topics []TopicConfig, logger *slog.Logger) error {
	if len(brokers) == 0 {
		return errors.New("ensure topics: no brokers")
	}
	client := &kafkago.Client{Addr: kafkago.TCP(brokers...)}

	req := &kafkago.CreateTopicsRequest{}
	for _, t := range topics {
		req.Topics = append(req.Topics, toTopicConfig(t))
	}
	resp, err := client.CreateTopics(ctx, req)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}

	var errs []error
	for _, t := range topics {
		terr := resp.Errors[t.Name]
		switch {
		case terr == nil:
			logger.Info("topic created", "topic", t.Name, "compacted", t.Compacted)
		case errors.Is(terr, kafkago.TopicAlreadyExists):
			logger.Debug("topic exists", "topic", t.Name)
		default:
			errs = append(errs, fmt.Errorf("create topic %s: %w", t.Name, terr))
		}
	}
	return errors.Join(errs...)
}

func toTopicConfig(t TopicConfig) kafkago.TopicConfig {
	partitions := t.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := t.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	var entries []kafkago.ConfigEntry
	if t.Compacted {
		entries = append(entries, kafkago.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: "compact"})
	}
	if t.Retention > 0 {
		entries = append(entries, kafkago.ConfigEntry{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(t.Retention.Milliseconds(), 10),
		})
	}
	return kafkago.TopicConfig{
		Topic:             t.Name,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
		ConfigEntries:     entries,
	}
}
