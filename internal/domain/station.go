package domain

import (
	"strings"
	"time"
)

// StationMetadata is the identity and location of one observing station.
// A later record with the same identity key replaces the earlier one entirely.
type StationMetadata struct {
	Source          Source    `json:"source"`
	SourceStationID string    `json:"source_station_id"`
	WMOID           *string   `json:"wmo_id"`
	Name            *string   `json:"name"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	ElevationM      *float64  `json:"elevation_m"`
	CountryCode     *string   `json:"country_code"`
	StateProvince   *string   `json:"state_province"`
	StationType     *string   `json:"station_type"`
	Owner           *string   `json:"owner"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewStationMetadata validates s and returns it with timestamps normalized to UTC.
func NewStationMetadata(s StationMetadata) (StationMetadata, error) {
	if err := validateIdentity(s.Source, s.SourceStationID); err != nil {
		return StationMetadata{}, err
	}
	if err := checkRange("latitude", s.Latitude, -90, 90); err != nil {
		return StationMetadata{}, err
	}
	if err := checkRange("longitude", s.Longitude, -180, 180); err != nil {
		return StationMetadata{}, err
	}
	if s.ElevationM != nil {
		if err := checkFinite("elevation_m", *s.ElevationM); err != nil {
			return StationMetadata{}, err
		}
	}
	if s.CountryCode != nil && !isAlpha2(*s.CountryCode) {
		return StationMetadata{}, &ValidationError{Field: "country_code", Value: *s.CountryCode, Reason: "not ISO-3166-1 alpha-2"}
	}
	if s.UpdatedAt.IsZero() {
		return StationMetadata{}, &ValidationError{Field: "updated_at", Value: s.UpdatedAt, Reason: "required"}
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

// IdentityKey is {source}.{source_station_id}.
func (s StationMetadata) IdentityKey() string {
	return routingKey(s.Source, s.SourceStationID)
}

// RoutingKey is the message key; for stations it equals the identity key.
func (s StationMetadata) RoutingKey() string {
	return routingKey(s.Source, s.SourceStationID)
}

// Fingerprint hashes the record content, excluding the fetch time.
func (s StationMetadata) Fingerprint() [32]byte {
	s.UpdatedAt = time.Time{}
	return fingerprint(s)
}

func routingKey(source Source, id string) string {
	return string(source) + "." + id
}

func validateIdentity(source Source, id string) error {
	if !source.Valid() {
		return &ValidationError{Field: "source", Value: source, Reason: "unknown source"}
	}
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "source_station_id", Value: id, Reason: "required"}
	}
	return nil
}

func isAlpha2(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}
