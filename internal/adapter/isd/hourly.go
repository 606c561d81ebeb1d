package isd

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
)

const hourlyTimeLayout = "2006-01-02T15:04:05"

// Sentinels for missing sub-field values, in raw (pre-conversion) units.
const (
	missingWindDir    = 999
	missingWindSpeed  = 9999
	missingVisibility = 999999
	missingTemp       = 9999
	missingSLP        = 99999
	missingPeriod     = 99
	missingDepth      = 9999
	missingCoverage   = 99
	missingTendency   = 9
)

// acceptedQuality holds the ISD flags meaning passed checks, not checked, or
// accepted by a validator. Suspect and erroneous flags (2, 3, 6, 7) and
// anything unknown null the sub-field.
var acceptedQuality = map[string]bool{
	"0": true, "1": true, "4": true, "5": true, "9": true,
	"A": true, "C": true, "I": true, "M": true, "P": true, "R": true, "U": true,
}

var precipitationColumns = []string{"AA1", "AA2", "AA3", "AA4"}

// ParseHourly parses a global-hourly access CSV for one station. Columns are
// located by header name; optional element columns may be absent.
func ParseHourly(stationID string, raw []byte, fetchedAt time.Time) (domain.Batch, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return domain.Batch{}, fmt.Errorf("%w: global-hourly header: %v", domain.ErrUnrecognizedPayload, err)
	}
	cols, err := indexColumns(header, []string{"DATE"})
	if err != nil {
		return domain.Batch{}, err
	}

	var batch domain.Batch
	row := -1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		// Consecutive yearly files are concatenated, each with its own header
		// and column set.
		if err == nil && isHourlyHeader(rec) {
			if cols, err = indexColumns(rec, []string{"DATE"}); err != nil {
				return domain.Batch{}, err
			}
			header = rec
			continue
		}
		row++
		if err != nil {
			batch.Reject(row, stationID, err)
			continue
		}
		if len(rec) != len(header) {
			batch.Reject(row, stationID, fmt.Errorf("expected %d columns, got %d", len(header), len(rec)))
			continue
		}
		obs, err := parseHourlyRow(stationID, rec, cols, fetchedAt)
		if err != nil {
			batch.Reject(row, stationID, err)
			continue
		}
		batch.Observations = append(batch.Observations, obs)
	}
	return batch, nil
}

func isHourlyHeader(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")) == "DATE" {
			return true
		}
	}
	return false
}

func parseHourlyRow(stationID string, rec []string, cols map[string]int, fetchedAt time.Time) (domain.Observation, error) {
	get := func(name string) []string {
		i, ok := cols[name]
		if !ok {
			return nil
		}
		v := strings.TrimSpace(rec[i])
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}

	date := strings.TrimSpace(rec[cols["DATE"]])
	observedAt, err := time.ParseInLocation(hourlyTimeLayout, date, time.UTC)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("invalid DATE %q", date)
	}

	obs := domain.Observation{
		Source:          domain.SourceSurfaceArchive,
		SourceStationID: stationID,
		ObservedAt:      observedAt,
		IngestedAt:      fetchedAt,
	}

	// WND: direction, quality, type, speed (tenths m/s), quality
	if wnd := get("WND"); len(wnd) >= 5 {
		if v, ok := gated(wnd[0], wnd[1], missingWindDir); ok {
			obs.WindDirectionDeg = domain.Ptr(v)
		}
		obs.WindSpeedMPS = tenths(gated(wnd[3], wnd[4], missingWindSpeed))
	}
	// VIS: distance (m), quality, variability, quality
	if vis := get("VIS"); len(vis) >= 2 {
		if v, ok := gated(vis[0], vis[1], missingVisibility); ok {
			obs.VisibilityM = domain.Ptr(float64(v))
		}
	}
	// TMP / DEW: signed tenths °C, quality
	if tmp := get("TMP"); len(tmp) >= 2 {
		obs.AirTempC = tenths(gated(tmp[0], tmp[1], missingTemp))
	}
	if dew := get("DEW"); len(dew) >= 2 {
		obs.DewpointC = tenths(gated(dew[0], dew[1], missingTemp))
	}
	// SLP: tenths hPa, quality
	if slp := get("SLP"); len(slp) >= 2 {
		obs.PressureHPa = tenths(gated(slp[0], slp[1], missingSLP))
	}
	// AA1-AA4: period (h), depth (tenths mm), condition, quality
	for _, name := range precipitationColumns {
		aa := get(name)
		if len(aa) < 4 {
			continue
		}
		period, ok := coded(aa[0], missingPeriod)
		if !ok {
			continue
		}
		depth := tenths(gated(aa[1], aa[3], missingDepth))
		switch period {
		case 1:
			obs.Precipitation1hMM = depth
		case 6:
			obs.Precipitation6hMM = depth
		case 24:
			obs.Precipitation24hMM = depth
		}
	}
	// GA1: coverage (oktas), quality, ...
	if ga := get("GA1"); len(ga) >= 2 {
		// 9 and 10 mean obscured, not a cover fraction.
		if v, ok := gated(ga[0], ga[1], missingCoverage); ok && v <= 8 {
			obs.CloudCoverPct = domain.Ptr(float64(v) * 12.5)
		}
	}
	// MD1: tendency code, quality, 3h change, quality, 24h change, quality
	if md := get("MD1"); len(md) >= 2 {
		if v, ok := gated(md[0], md[1], missingTendency); ok {
			obs.PressureTendency = tendencyFromCode(v)
		}
	}
	// MW1: manual present-weather code, quality
	if mw := get("MW1"); len(mw) >= 2 && acceptedQuality[strings.TrimSpace(mw[1])] {
		if code := strings.TrimSpace(mw[0]); code != "" {
			obs.WeatherCode = &code
		}
	}

	return domain.NewObservation(obs)
}

// gated returns a coded integer sub-field when its quality flag is accepted,
// it parses, and it is not the sentinel.
func gated(value, flag string, sentinel int) (int, bool) {
	if !acceptedQuality[strings.TrimSpace(flag)] {
		return 0, false
	}
	return coded(value, sentinel)
}

func coded(value string, sentinel int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || v == sentinel {
		return 0, false
	}
	return v, true
}

func tenths(v int, ok bool) *float64 {
	if !ok {
		return nil
	}
	f := float64(v) / 10
	return &f
}

// tendencyFromCode maps the WMO 0200 characteristic: 0-3 higher than three
// hours ago, 4 unchanged, 5-8 lower.
func tendencyFromCode(code int) *domain.PressureTendency {
	switch {
	case code >= 0 && code <= 3:
		return domain.Ptr(domain.TendencyRising)
	case code == 4:
		return domain.Ptr(domain.TendencySteady)
	case code >= 5 && code <= 8:
		return domain.Ptr(domain.TendencyFalling)
	default:
		return nil
	}
}
