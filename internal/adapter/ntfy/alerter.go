// Package ntfy sends push notifications through an ntfy server.
package ntfy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultServer      = "https://ntfy.sh"
	DefaultMinInterval = time.Hour
)

// Config configures the alerter.
type Config struct {
	Server string
	Topic  string
	// MinInterval is the minimum gap between two alerts with the same key.
	MinInterval time.Duration
	Timeout     time.Duration
}

// Alerter posts alerts to {Server}/{Topic}. It implements domain.Alerter.
type Alerter struct {
	url         string
	minInterval time.Duration
	client      *http.Client
	clock       clockwork.Clock
	logger      *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewAlerter creates an alerter. cfg.Topic must be set.
func NewAlerter(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Alerter {
	server := strings.TrimRight(cfg.Server, "/")
	if server == "" {
		server = DefaultServer
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	minInterval := cfg.MinInterval
	if minInterval < 0 {
		minInterval = 0
	}
	return &Alerter{
		url:         server + "/" + cfg.Topic,
		minInterval: minInterval,
		client:      &http.Client{Timeout: timeout},
		clock:       clock,
		logger:      logger,
		last:        make(map[string]time.Time),
	}
}

// Alert sends a notification. An alert whose key fired less than MinInterval
// ago returns domain.ErrAlertSuppressed without contacting the server. Only
// successful sends start the interval.
func (a *Alerter) Alert(ctx context.Context, alert domain.Alert) error {
	if alert.Key != "" && a.limited(alert.Key) {
		a.logger.Debug("alert rate limited", "key", alert.Key)
		return domain.ErrAlertSuppressed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, strings.NewReader(alert.Message))
	if err != nil {
		return fmt.Errorf("create alert request: %w", err)
	}
	req.Header.Set("Title", alert.Title)
	priority := alert.Priority
	if priority == "" {
		priority = "default"
	}
	req.Header.Set("Priority", priority)
	if len(alert.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(alert.Tags, ","))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send alert: status %d", resp.StatusCode)
	}

	if alert.Key != "" {
		a.mu.Lock()
		a.last[alert.Key] = a.clock.Now()
		a.mu.Unlock()
	}
	a.logger.Info("alert sent", "title", alert.Title)
	return nil
}

func (a *Alerter) limited(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.last[key]
	return ok && a.clock.Since(last) < a.minInterval
}
