package domain

import (
	"context"
	"time"
)

// Fetcher performs a single GET and returns the body, or a *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Pacer is the per-provider pacing gate. Every outbound request waits on it
// first. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// StationList is the result of a station-list refresh: the ids to poll and
// any station metadata parsed along the way.
type StationList struct {
	IDs   []string
	Batch Batch
}

// Provider is the capability every upstream source exposes.
type Provider interface {
	Source() Source
	// RequestInterval is the minimum delay between request starts.
	RequestInterval() time.Duration
	// ListStations refreshes the station set. Implementations wait on pacer
	// before every request they make.
	ListStations(ctx context.Context, pacer Pacer) (StationList, error)
}

// ObservationProvider is a Provider that also serves per-station observations.
// FetchRaw and Parse are kept apart so parsing stays free of I/O.
type ObservationProvider interface {
	Provider
	// FetchRaw waits on pacer before every request it makes.
	FetchRaw(ctx context.Context, pacer Pacer, stationID string) ([]byte, error)
	Parse(stationID string, raw []byte, fetchedAt time.Time) (Batch, error)
}
