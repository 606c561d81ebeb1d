// Package nats publishes canonical records to NATS JetStream. It is the
// alternative to the Kafka backend.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config configures the JetStream publisher.
type Config struct {
	URL              string
	MetadataTopic    string
	ObservationTopic string
	// Retention is the max age of the observation stream; zero keeps forever.
	Retention time.Duration
	// DuplicateWindow is the server-side Nats-Msg-Id dedup window.
	DuplicateWindow time.Duration
}

type asyncPublisher interface {
	PublishMsgAsync(msg *natsgo.Msg, opts ...jetstream.PublishOpt) (jetstream.PubAckFuture, error)
}

// Publisher writes record messages to JetStream. A topic maps to a subject
// prefix; the record key is appended so each station has its own subject.
// It implements pipeline.Publisher.
type Publisher struct {
	conn   *natsgo.Conn
	js     asyncPublisher
	logger *slog.Logger
}

// Connect dials NATS and provisions the streams.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	conn, err := natsgo.Connect(cfg.URL,
		natsgo.Name("weather-station-ingest"),
		natsgo.MaxReconnects(-1),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	for _, sc := range StreamConfigs(cfg) {
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream %s: %w", sc.Name, err)
		}
		logger.Info("stream ready", "stream", sc.Name, "subjects", sc.Subjects)
	}
	return &Publisher{conn: conn, js: js, logger: logger}, nil
}

// StreamConfigs returns the metadata and observation streams. The metadata
// stream keeps one message per station subject, which gives consumers the
// same latest-per-key view as a compacted Kafka topic.
func StreamConfigs(cfg Config) []jetstream.StreamConfig {
	window := cfg.DuplicateWindow
	if window <= 0 {
		window = 2 * time.Minute
	}
	return []jetstream.StreamConfig{
		{
			Name:              streamName(cfg.MetadataTopic),
			Subjects:          []string{cfg.MetadataTopic + ".>"},
			MaxMsgsPerSubject: 1,
			Duplicates:        window,
			Storage:           jetstream.FileStorage,
		},
		{
			Name:       streamName(cfg.ObservationTopic),
			Subjects:   []string{cfg.ObservationTopic + ".>"},
			MaxAge:     cfg.Retention,
			Duplicates: window,
			Storage:    jetstream.FileStorage,
		},
	}
}

// Publish sends msgs asynchronously and waits for every ack. Each message
// carries its DedupID as Nats-Msg-Id so the server drops redeliveries of the
// same content within the duplicate window.
func (p *Publisher) Publish(ctx context.Context, topic string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	futures := make([]jetstream.PubAckFuture, 0, len(msgs))
	for _, m := range msgs {
		f, err := p.js.PublishMsgAsync(toNatsMsg(topic, m))
		if err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		futures = append(futures, f)
	}

	var errs []error
	for _, f := range futures {
		select {
		case <-f.Ok():
		case err := <-f.Err():
			errs = append(errs, err)
		case <-ctx.Done():
			return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish to %s: %d of %d not acknowledged: %w", topic, len(errs), len(msgs), errors.Join(errs...))
	}
	p.logger.Debug("published", "topic", topic, "count", len(msgs))
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

func toNatsMsg(topic string, m domain.Message) *natsgo.Msg {
	msg := natsgo.NewMsg(topic + "." + subjectToken(string(m.Key)))
	msg.Data = m.Value
	for k, v := range m.Headers {
		msg.Header.Set(k, v)
	}
	msg.Header.Set(natsgo.MsgIdHdr, m.DedupID())
	return msg
}

// subjectToken makes a routing key safe inside a subject. Dots are kept and
// split the key into tokens.
func subjectToken(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, key)
}

func streamName(topic string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(topic))
}
