package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/couchcryptid/weather-station-ingest/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Freshness is the staleness state of one source.
type Freshness struct {
	Source         domain.Source `json:"source"`
	LastObservedAt time.Time     `json:"last_observed_at"`
	AgeSeconds     float64       `json:"age_seconds"`
	Stale          bool          `json:"stale"`
	Alerted        bool          `json:"alerted"`
}

// Monitor tracks the newest published observation per source and alerts
// once per staleness episode.
type Monitor struct {
	threshold time.Duration
	interval  time.Duration
	alerter   domain.Alerter
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	last    map[domain.Source]time.Time
	alerted map[domain.Source]bool
}

// NewMonitor creates a freshness monitor. A nil alerter only tracks state.
// interval is how often Run checks; it defaults to a quarter of threshold.
func NewMonitor(threshold, interval time.Duration, alerter domain.Alerter, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = threshold / 4
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		threshold: threshold,
		interval:  interval,
		alerter:   alerter,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
		last:      make(map[domain.Source]time.Time),
		alerted:   make(map[domain.Source]bool),
	}
}

// Record notes a published observation time. Newer data clears an alert.
func (m *Monitor) Record(source domain.Source, observedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.last[source]; ok && !observedAt.After(current) {
		return
	}
	m.last[source] = observedAt.UTC()
	if m.alerted[source] {
		delete(m.alerted, source)
		m.logger.Info("data recovered", "source", string(source), "last_observed_at", observedAt)
	}
}

// Snapshot returns the freshness of every tracked source, sorted by source.
func (m *Monitor) Snapshot() []Freshness {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() []Freshness {
	now := m.clock.Now()
	out := make([]Freshness, 0, len(m.last))
	for source, last := range m.last {
		age := now.Sub(last)
		out = append(out, Freshness{
			Source:         source,
			LastObservedAt: last,
			AgeSeconds:     age.Seconds(),
			Stale:          age > m.threshold,
			Alerted:        m.alerted[source],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Check updates the age gauges and alerts for sources that became stale.
func (m *Monitor) Check(ctx context.Context) []Freshness {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	var pending []Freshness
	for _, f := range snapshot {
		m.metrics.LastObservationAge.WithLabelValues(string(f.Source)).Set(f.AgeSeconds)
		if f.Stale && !f.Alerted {
			pending = append(pending, f)
		}
	}
	m.mu.Unlock()

	for _, f := range pending {
		m.alert(ctx, f)
	}
	return snapshot
}

func (m *Monitor) alert(ctx context.Context, f Freshness) {
	if m.alerter == nil {
		return
	}
	name := strings.ToUpper(string(f.Source))
	age := formatAge(m.clock.Since(f.LastObservedAt))
	err := m.alerter.Alert(ctx, domain.Alert{
		Key:      "stale_" + string(f.Source),
		Title:    "Weather Data Stale: " + name,
		Message:  fmt.Sprintf("No new observations from %s for %s.", name, age),
		Priority: "high",
		Tags:     []string{"warning", "clock"},
	})
	switch {
	case err == nil:
		m.metrics.AlertsSent.WithLabelValues("sent").Inc()
		m.mu.Lock()
		m.alerted[f.Source] = true
		m.mu.Unlock()
		m.logger.Warn("alerted for stale data", "source", string(f.Source), "age", age)
	case errors.Is(err, domain.ErrAlertSuppressed):
		m.metrics.AlertsSent.WithLabelValues("suppressed").Inc()
	default:
		m.metrics.AlertsSent.WithLabelValues("failed").Inc()
		m.logger.Error("stale data alert failed", "source", string(f.Source), "error", err)
	}
}

// Run checks freshness on the monitor interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.Check(ctx)
		}
	}
}

func formatAge(d time.Duration) string {
	d = d.Truncate(time.Minute)
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%d minutes", mins)
}
