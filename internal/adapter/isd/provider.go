// Package isd serves surface stations and hourly observations from the NOAA
// Integrated Surface Database.
package isd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
)

// DefaultBaseURL is the NCEI host serving both the history file and the
// global-hourly access files.
const DefaultBaseURL = "https://www.ncei.noaa.gov"

// Config selects stations and pacing for the surface archive provider.
type Config struct {
	BaseURL      string
	StationIDs   []string
	CountryCodes []string
	RequestDelay time.Duration
	Lookback     time.Duration
}

// Provider implements domain.ObservationProvider for ISD.
type Provider struct {
	fetcher domain.Fetcher
	cfg     Config
}

// NewProvider creates a surface archive provider.
func NewProvider(fetcher domain.Fetcher, cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{fetcher: fetcher, cfg: cfg}
}

func (p *Provider) Source() domain.Source { return domain.SourceSurfaceArchive }

func (p *Provider) RequestInterval() time.Duration { return p.cfg.RequestDelay }

// ListStations downloads isd-history.csv. Configured station ids are polled
// as given; otherwise active stations in the configured countries are.
func (p *Provider) ListStations(ctx context.Context, pacer domain.Pacer) (domain.StationList, error) {
	if err := pacer.Wait(ctx); err != nil {
		return domain.StationList{}, err
	}
	raw, err := p.fetcher.Fetch(ctx, p.cfg.BaseURL+"/pub/data/noaa/isd-history.csv")
	if err != nil {
		return domain.StationList{}, fmt.Errorf("fetch isd history: %w", err)
	}
	now := domain.Now()
	history, err := ParseHistory(raw, now)
	if err != nil {
		return domain.StationList{}, fmt.Errorf("parse isd history: %w", err)
	}

	if len(p.cfg.StationIDs) > 0 {
		selected := history.Filter(Filter{StationIDs: p.cfg.StationIDs})
		return domain.StationList{IDs: dedupe(p.cfg.StationIDs), Batch: selected.Batch()}, nil
	}

	selected := history.Filter(Filter{ActiveYear: now.Year(), CountryCodes: p.cfg.CountryCodes})
	ids := make([]string, 0, len(selected.Stations))
	for _, s := range selected.Stations {
		ids = append(ids, s.ID())
	}
	return domain.StationList{IDs: ids, Batch: selected.Batch()}, nil
}

// FetchRaw downloads the station's global-hourly file for the current year,
// and for the previous year too when the lookback window reaches back into it.
func (p *Provider) FetchRaw(ctx context.Context, pacer domain.Pacer, stationID string) ([]byte, error) {
	usaf, wban, ok := strings.Cut(stationID, "-")
	if !ok || usaf == "" || wban == "" {
		return nil, &domain.FetchError{Kind: domain.KindPermanent, URL: stationID, Err: errors.New("station id is not USAF-WBAN")}
	}

	var bodies [][]byte
	var notFound error
	for _, year := range p.years(domain.Now()) {
		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}
		u := fmt.Sprintf("%s/data/global-hourly/access/%d/%s%s.csv", p.cfg.BaseURL, year, usaf, wban)
		body, err := p.fetcher.Fetch(ctx, u)
		if domain.IsNotFound(err) {
			notFound = err
			continue
		}
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, bytes.TrimRight(body, "\r\n"))
	}
	if len(bodies) == 0 {
		return nil, notFound
	}
	return bytes.Join(bodies, []byte("\n")), nil
}

func (p *Provider) years(now time.Time) []int {
	year := now.Year()
	if p.cfg.Lookback > 0 && now.Add(-p.cfg.Lookback).Year() < year {
		return []int{year - 1, year}
	}
	return []int{year}
}

// Parse converts a global-hourly payload and applies the lookback window.
func (p *Provider) Parse(stationID string, raw []byte, fetchedAt time.Time) (domain.Batch, error) {
	batch, err := ParseHourly(stationID, raw, fetchedAt)
	if err != nil {
		return domain.Batch{}, err
	}
	if p.cfg.Lookback > 0 {
		batch = batch.ObservationsSince(fetchedAt.Add(-p.cfg.Lookback))
	}
	return batch, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
