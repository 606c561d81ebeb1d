package domain

import (
	"math"
	"time"
)

// PressureTendency is the direction of the barometric change over the last three hours.
type PressureTendency string

const (
	TendencyRising  PressureTendency = "rising"
	TendencyFalling PressureTendency = "falling"
	TendencySteady  PressureTendency = "steady"
)

// Valid reports whether t is one of the three known tendencies.
func (t PressureTendency) Valid() bool {
	switch t {
	case TendencyRising, TendencyFalling, TendencySteady:
		return true
	default:
		return false
	}
}

// Observation is one reading from one station at one instant.
type Observation struct {
	Source          Source    `json:"source"`
	SourceStationID string    `json:"source_station_id"`
	ObservedAt      time.Time `json:"observed_at"`

	// Atmospheric
	AirTempC            *float64          `json:"air_temp_c"`
	DewpointC           *float64          `json:"dewpoint_c"`
	RelativeHumidityPct *float64          `json:"relative_humidity_pct"`
	PressureHPa         *float64          `json:"pressure_hpa"`
	PressureTendency    *PressureTendency `json:"pressure_tendency"`

	// Wind
	WindSpeedMPS     *float64 `json:"wind_speed_mps"`
	WindDirectionDeg *int     `json:"wind_direction_deg"`
	WindGustMPS      *float64 `json:"wind_gust_mps"`

	// Visibility and weather
	VisibilityM   *float64 `json:"visibility_m"`
	WeatherCode   *string  `json:"weather_code"`
	CloudCoverPct *float64 `json:"cloud_cover_pct"`

	// Precipitation
	Precipitation1hMM  *float64 `json:"precipitation_1h_mm"`
	Precipitation6hMM  *float64 `json:"precipitation_6h_mm"`
	Precipitation24hMM *float64 `json:"precipitation_24h_mm"`

	// Marine
	WaveHeightM *float64 `json:"wave_height_m"`
	WavePeriodS *float64 `json:"wave_period_s"`
	WaterTempC  *float64 `json:"water_temp_c"`

	IngestedAt time.Time `json:"ingested_at"`
}

// bound describes the physical validity range of one optional numeric field.
type bound struct {
	field    string
	value    *float64
	min, max float64
}

// NewObservation validates o and returns it with timestamps normalized to UTC.
// Field checks are independent of each other; the only cross-field rule is
// ingested_at >= observed_at.
func NewObservation(o Observation) (Observation, error) {
	if err := validateIdentity(o.Source, o.SourceStationID); err != nil {
		return Observation{}, err
	}
	if o.ObservedAt.IsZero() {
		return Observation{}, &ValidationError{Field: "observed_at", Value: o.ObservedAt, Reason: "required"}
	}
	if o.IngestedAt.IsZero() {
		return Observation{}, &ValidationError{Field: "ingested_at", Value: o.IngestedAt, Reason: "required"}
	}

	inf := math.Inf(1)
	bounds := []bound{
		{"air_temp_c", o.AirTempC, -100, 70},
		{"dewpoint_c", o.DewpointC, -100, 70},
		{"relative_humidity_pct", o.RelativeHumidityPct, 0, 100},
		{"pressure_hpa", o.PressureHPa, 800, 1100},
		{"wind_speed_mps", o.WindSpeedMPS, 0, inf},
		{"wind_gust_mps", o.WindGustMPS, 0, inf},
		{"visibility_m", o.VisibilityM, 0, inf},
		{"cloud_cover_pct", o.CloudCoverPct, 0, 100},
		{"precipitation_1h_mm", o.Precipitation1hMM, 0, inf},
		{"precipitation_6h_mm", o.Precipitation6hMM, 0, inf},
		{"precipitation_24h_mm", o.Precipitation24hMM, 0, inf},
		{"wave_height_m", o.WaveHeightM, 0, inf},
		{"wave_period_s", o.WavePeriodS, 0, inf},
		{"water_temp_c", o.WaterTempC, -10, 50},
	}
	for _, b := range bounds {
		if b.value == nil {
			continue
		}
		if err := checkRange(b.field, *b.value, b.min, b.max); err != nil {
			return Observation{}, err
		}
	}
	if o.WindDirectionDeg != nil && (*o.WindDirectionDeg < 0 || *o.WindDirectionDeg > 360) {
		return Observation{}, &ValidationError{Field: "wind_direction_deg", Value: *o.WindDirectionDeg, Reason: "out of range [0, 360]"}
	}
	if o.PressureTendency != nil && !o.PressureTendency.Valid() {
		return Observation{}, &ValidationError{Field: "pressure_tendency", Value: *o.PressureTendency, Reason: "unknown tendency"}
	}

	o.ObservedAt = o.ObservedAt.UTC()
	o.IngestedAt = o.IngestedAt.UTC()
	if o.IngestedAt.Before(o.ObservedAt) {
		return Observation{}, &ValidationError{Field: "ingested_at", Value: o.IngestedAt, Reason: "ingested_at_before_observed_at"}
	}
	return o, nil
}

// IdentityKey is {source}.{source_station_id}.{observed_at}, the idempotency key.
func (o Observation) IdentityKey() string {
	return routingKey(o.Source, o.SourceStationID) + "." + o.ObservedAt.UTC().Format(time.RFC3339)
}

// RoutingKey is the message key {source}.{source_station_id}; observations of
// one station share a partition.
func (o Observation) RoutingKey() string {
	return routingKey(o.Source, o.SourceStationID)
}

// Fingerprint hashes the record content, excluding ingested_at.
func (o Observation) Fingerprint() [32]byte {
	o.IngestedAt = time.Time{}
	return fingerprint(o)
}

func checkRange(field string, v, lo, hi float64) error {
	if err := checkFinite(field, v); err != nil {
		return err
	}
	if v < lo || v > hi {
		return &ValidationError{Field: field, Value: v, Reason: "out of range"}
	}
	return nil
}

func checkFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Field: field, Value: v, Reason: "not a finite number"}
	}
	return nil
}
