// Package ndbc serves buoy stations and observations from the National Data
// Buoy Center.
package ndbc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
)

// DefaultBaseURL is the public NDBC host.
const DefaultBaseURL = "https://www.ndbc.noaa.gov"

// Config selects stations and pacing for the buoy provider.
type Config struct {
	BaseURL      string
	StationIDs   []string
	RequestDelay time.Duration
	// Lookback drops observations older than fetch time minus Lookback.
	// Zero keeps the whole realtime2 window.
	Lookback time.Duration
}

// Provider implements domain.ObservationProvider for NDBC.
type Provider struct {
	fetcher domain.Fetcher
	cfg     Config
}

// NewProvider creates a buoy provider that issues requests through fetcher.
func NewProvider(fetcher domain.Fetcher, cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{fetcher: fetcher, cfg: cfg}
}

func (p *Provider) Source() domain.Source { return domain.SourceBuoy }

func (p *Provider) RequestInterval() time.Duration { return p.cfg.RequestDelay }

// ListStations downloads the station table. When station ids are configured
// only those are polled, and metadata is limited to them.
func (p *Provider) ListStations(ctx context.Context, pacer domain.Pacer) (domain.StationList, error) {
	if err := pacer.Wait(ctx); err != nil {
		return domain.StationList{}, err
	}
	raw, err := p.fetcher.Fetch(ctx, p.cfg.BaseURL+"/data/stations/station_table.txt")
	if err != nil {
		return domain.StationList{}, fmt.Errorf("fetch station table: %w", err)
	}
	batch, err := ParseStationTable(raw, domain.Now())
	if err != nil {
		return domain.StationList{}, fmt.Errorf("parse station table: %w", err)
	}

	if len(p.cfg.StationIDs) == 0 {
		ids := make([]string, 0, len(batch.Stations))
		for _, s := range batch.Stations {
			ids = append(ids, s.SourceStationID)
		}
		return domain.StationList{IDs: ids, Batch: batch}, nil
	}

	ids := make([]string, 0, len(p.cfg.StationIDs))
	wanted := make(map[string]bool, len(p.cfg.StationIDs))
	for _, id := range p.cfg.StationIDs {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || wanted[id] {
			continue
		}
		wanted[id] = true
		ids = append(ids, id)
	}
	kept := batch.Stations[:0]
	for _, s := range batch.Stations {
		if wanted[s.SourceStationID] {
			kept = append(kept, s)
		}
	}
	batch.Stations = kept
	return domain.StationList{IDs: ids, Batch: batch}, nil
}

// FetchRaw downloads one station's realtime2 file. File names are upper case.
func (p *Provider) FetchRaw(ctx context.Context, pacer domain.Pacer, stationID string) ([]byte, error) {
	if err := pacer.Wait(ctx); err != nil {
		return nil, err
	}
	return p.fetcher.Fetch(ctx, fmt.Sprintf("%s/data/realtime2/%s.txt", p.cfg.BaseURL, strings.ToUpper(stationID)))
}

// Parse converts a realtime2 payload and applies the lookback window.
func (p *Provider) Parse(stationID string, raw []byte, fetchedAt time.Time) (domain.Batch, error) {
	batch, err := ParseRealtime(stationID, raw, fetchedAt)
	if err != nil {
		return domain.Batch{}, err
	}
	if p.cfg.Lookback > 0 {
		batch = batch.ObservationsSince(fetchedAt.Add(-p.cfg.Lookback))
	}
	return batch, nil
}
