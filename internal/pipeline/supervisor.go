package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/weather-station-ingest/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Snapshot is the service-wide status served on /status.
type Snapshot struct {
	Controllers []Status    `json:"controllers"`
	Freshness   []Freshness `json:"freshness"`
}

// Supervisor runs one controller per enabled provider. Providers share
// nothing, so a stuck or failing provider never delays the others.
type Supervisor struct {
	controllers []*Controller
	monitor     *Monitor
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewSupervisor creates a supervisor. monitor may be nil.
func NewSupervisor(controllers []*Controller, monitor *Monitor, metrics *observability.Metrics, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		controllers: controllers,
		monitor:     monitor,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run drives every controller until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("ingest started", "providers", s.sources())
	s.metrics.IngestRunning.Set(1)
	defer s.metrics.IngestRunning.Set(0)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.controllers {
		g.Go(func() error { return c.Run(gctx) })
	}
	if s.monitor != nil {
		g.Go(func() error { return s.monitor.Run(gctx) })
	}
	err := g.Wait()
	s.logger.Info("ingest stopped")
	return err
}

// RunOnce runs a single cycle of every controller concurrently, then checks
// freshness once. Reports are returned in controller order.
func (s *Supervisor) RunOnce(ctx context.Context) []CycleReport {
	s.metrics.IngestRunning.Set(1)
	defer s.metrics.IngestRunning.Set(0)

	reports := make([]CycleReport, len(s.controllers))
	var g errgroup.Group
	for i, c := range s.controllers {
		g.Go(func() error {
			reports[i] = c.RunOnce(ctx)
			return nil
		})
	}
	_ = g.Wait()

	if s.monitor != nil {
		s.monitor.Check(ctx)
	}
	return reports
}

// CheckReadiness returns nil once every controller has finished a cycle.
func (s *Supervisor) CheckReadiness(_ context.Context) error {
	var waiting []string
	for _, c := range s.controllers {
		if !c.Completed() {
			waiting = append(waiting, string(c.Source()))
		}
	}
	if len(waiting) > 0 {
		return fmt.Errorf("waiting for first cycle: %s", strings.Join(waiting, ", "))
	}
	return nil
}

// Status returns every controller's status plus source freshness.
func (s *Supervisor) Status() Snapshot {
	snap := Snapshot{
		Controllers: make([]Status, 0, len(s.controllers)),
		Freshness:   []Freshness{},
	}
	for _, c := range s.controllers {
		snap.Controllers = append(snap.Controllers, c.Status())
	}
	if s.monitor != nil {
		snap.Freshness = s.monitor.Snapshot()
	}
	return snap
}

func (s *Supervisor) sources() []string {
	out := make([]string, len(s.controllers))
	for i, c := range s.controllers {
		out[i] = string(c.Source())
	}
	return out
}
