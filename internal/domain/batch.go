package domain

import (
	"errors"
	"time"
)

// Batch is everything one parse produced: valid records plus the rows that
// were skipped.
type Batch struct {
	Stations     []StationMetadata
	Observations []Observation
	RowErrors    []RowError
	// Invalid counts rows dropped for failing canonical validation. Those rows
	// also appear in RowErrors.
	Invalid int
}

// Reject records a skipped row. Validation failures are also counted in Invalid.
func (b *Batch) Reject(row int, stationID string, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		b.Invalid++
	}
	b.RowErrors = append(b.RowErrors, RowError{Row: row, StationID: stationID, Reason: err.Error()})
}

// Merge appends other into b.
func (b *Batch) Merge(other Batch) {
	b.Stations = append(b.Stations, other.Stations...)
	b.Observations = append(b.Observations, other.Observations...)
	b.RowErrors = append(b.RowErrors, other.RowErrors...)
	b.Invalid += other.Invalid
}

// Records is the number of valid records in the batch.
func (b Batch) Records() int {
	return len(b.Stations) + len(b.Observations)
}

// ObservationsSince drops observations older than since. A zero since keeps everything.
func (b Batch) ObservationsSince(since time.Time) Batch {
	if since.IsZero() {
		return b
	}
	kept := make([]Observation, 0, len(b.Observations))
	for _, o := range b.Observations {
		if !o.ObservedAt.Before(since) {
			kept = append(kept, o)
		}
	}
	b.Observations = kept
	return b
}
