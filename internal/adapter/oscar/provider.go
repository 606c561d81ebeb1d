// Package oscar serves station metadata from the WMO OSCAR/Surface registry.
// The registry carries no observations.
package oscar

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
)

const (
	// DefaultBaseURL is the OSCAR/Surface REST API root.
	DefaultBaseURL = "https://oscar.wmo.int/surface/rest/api"
	// DefaultPageSize is the largest page the API serves.
	DefaultPageSize = 50000
	// maxPages bounds pagination against a response that never reports an end.
	maxPages = 1000
)

// Config selects stations and pacing for the registry provider.
type Config struct {
	BaseURL        string
	StationIDs     []string
	Territories    []string
	StationClasses []string
	FacilityTypes  []string
	PageSize       int
	RequestDelay   time.Duration
}

// Filter narrows registry stations. Matching is case-insensitive and empty
// fields match everything.
type Filter struct {
	StationIDs     []string
	Territories    []string
	StationClasses []string
	FacilityTypes  []string
}

// Apply returns the stations matching f.
func (f Filter) Apply(stations []Station) []Station {
	ids := lowerSet(f.StationIDs)
	territories := lowerSet(f.Territories)
	classes := lowerSet(f.StationClasses)
	facilities := lowerSet(f.FacilityTypes)

	var out []Station
	for _, s := range stations {
		if !matches(ids, s.Meta.SourceStationID) ||
			!matches(territories, s.Territory) ||
			!matches(classes, s.StationClass) ||
			!matches(facilities, s.FacilityType) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Provider implements domain.Provider for the registry.
type Provider struct {
	fetcher domain.Fetcher
	cfg     Config
}

// NewProvider creates a registry provider.
func NewProvider(fetcher domain.Fetcher, cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{fetcher: fetcher, cfg: cfg}
}

func (p *Provider) Source() domain.Source { return domain.SourceRegistry }

func (p *Provider) RequestInterval() time.Duration { return p.cfg.RequestDelay }

// ListStations pages through the station search and filters client side;
// the API's own query parameters are unreliable.
func (p *Provider) ListStations(ctx context.Context, pacer domain.Pacer) (domain.StationList, error) {
	fetchedAt := domain.Now()
	var all []Station
	var rejected domain.Batch

	for page := 1; page <= maxPages; page++ {
		if err := pacer.Wait(ctx); err != nil {
			return domain.StationList{}, err
		}
		raw, err := p.fetcher.Fetch(ctx, p.pageURL(page))
		if err != nil {
			return domain.StationList{}, fmt.Errorf("fetch registry page %d: %w", page, err)
		}
		parsed, err := ParseSearch(raw, fetchedAt)
		if err != nil {
			return domain.StationList{}, fmt.Errorf("parse registry page %d: %w", page, err)
		}
		all = append(all, parsed.Stations...)
		rejected.Merge(parsed.Rejected)

		if parsed.PageCount <= page || len(parsed.Stations)+len(parsed.Rejected.RowErrors) == 0 {
			break
		}
	}

	selected := Filter{
		StationIDs:     p.cfg.StationIDs,
		Territories:    p.cfg.Territories,
		StationClasses: p.cfg.StationClasses,
		FacilityTypes:  p.cfg.FacilityTypes,
	}.Apply(all)

	list := domain.StationList{Batch: rejected}
	list.IDs = make([]string, 0, len(selected))
	list.Batch.Stations = make([]domain.StationMetadata, 0, len(selected))
	for _, s := range selected {
		list.IDs = append(list.IDs, s.Meta.SourceStationID)
		list.Batch.Stations = append(list.Batch.Stations, s.Meta)
	}
	return list, nil
}

func (p *Provider) pageURL(page int) string {
	q := url.Values{
		"pageNumber":   {strconv.Itoa(page)},
		"itemsPerPage": {strconv.Itoa(p.cfg.PageSize)},
	}
	return p.cfg.BaseURL + "/search/station?" + q.Encode()
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[strings.ToLower(v)] = true
		}
	}
	return set
}

func matches(set map[string]bool, v string) bool {
	return len(set) == 0 || set[strings.ToLower(v)]
}
