package ndbc

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
)

// metersPerNauticalMile converts VIS.
const metersPerNauticalMile = 1852

// missingMarker is the literal used for any missing realtime2 value.
const missingMarker = "MM"

// placeholders are the documented per-column missing values. They are
// compared numerically so "99.0" and "99.00" both match.
var placeholders = map[string]float64{
	"WDIR": 999,
	"MWD":  999,
	"WSPD": 99,
	"GST":  99,
	"WVHT": 99,
	"DPD":  99,
	"APD":  99,
	"PRES": 9999,
	"ATMP": 999,
	"WTMP": 999,
	"DEWP": 999,
	"VIS":  99,
	"PTDY": 99,
	"TIDE": 99,
}

var timeColumns = []string{"YY", "MM", "DD", "hh", "mm"}

// ParseRealtime parses a realtime2 standard meteorological file. Columns are
// located by header name, so files missing optional columns still parse.
func ParseRealtime(stationID string, raw []byte, fetchedAt time.Time) (domain.Batch, error) {
	var batch domain.Batch
	id := strings.ToLower(stationID)

	var cols map[string]int
	width := 0
	row := 0

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			// The first comment line names the columns; the second holds units.
			if cols == nil {
				header := strings.Fields(strings.TrimPrefix(line, "#"))
				c, err := headerIndex(header)
				if err != nil {
					return domain.Batch{}, err
				}
				cols, width = c, len(header)
			}
			continue
		}
		if cols == nil {
			return domain.Batch{}, fmt.Errorf("%w: realtime2 data before header", domain.ErrUnrecognizedPayload)
		}

		obs, err := parseRealtimeRow(id, strings.Fields(line), cols, width, fetchedAt)
		if err != nil {
			batch.Reject(row, id, err)
		} else {
			batch.Observations = append(batch.Observations, obs)
		}
		row++
	}
	if err := sc.Err(); err != nil {
		return domain.Batch{}, fmt.Errorf("%w: %v", domain.ErrUnrecognizedPayload, err)
	}
	if cols == nil {
		return domain.Batch{}, fmt.Errorf("%w: no realtime2 header", domain.ErrUnrecognizedPayload)
	}
	return batch, nil
}

func headerIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	for _, name := range timeColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: realtime2 header missing %s", domain.ErrUnrecognizedPayload, name)
		}
	}
	return cols, nil
}

func parseRealtimeRow(id string, fields []string, cols map[string]int, width int, fetchedAt time.Time) (domain.Observation, error) {
	if len(fields) != width {
		return domain.Observation{}, fmt.Errorf("expected %d columns, got %d", width, len(fields))
	}

	observedAt, err := rowTime(fields, cols)
	if err != nil {
		return domain.Observation{}, err
	}

	r := rowReader{fields: fields, cols: cols}
	obs := domain.Observation{
		Source:          domain.SourceBuoy,
		SourceStationID: id,
		ObservedAt:      observedAt,
		AirTempC:        r.float("ATMP"),
		DewpointC:       r.float("DEWP"),
		PressureHPa:     r.float("PRES"),
		WindSpeedMPS:    r.float("WSPD"),
		WindGustMPS:     r.float("GST"),
		WaveHeightM:     r.float("WVHT"),
		WavePeriodS:     r.float("DPD"),
		WaterTempC:      r.float("WTMP"),
		IngestedAt:      fetchedAt,
	}
	if dir := r.float("WDIR"); dir != nil {
		obs.WindDirectionDeg = domain.Ptr(int(math.Round(*dir)))
	}
	if vis := r.float("VIS"); vis != nil {
		obs.VisibilityM = domain.Ptr(*vis * metersPerNauticalMile)
	}
	if ptdy := r.float("PTDY"); ptdy != nil {
		obs.PressureTendency = domain.Ptr(tendency(*ptdy))
	}
	if r.err != nil {
		return domain.Observation{}, r.err
	}
	return domain.NewObservation(obs)
}

func rowTime(fields []string, cols map[string]int) (time.Time, error) {
	year := fields[cols["YY"]]
	// Two-digit years are read as 20YY.
	if len(year) == 2 {
		year = "20" + year
	}
	stamp := strings.Join([]string{year, fields[cols["MM"]], fields[cols["DD"]], fields[cols["hh"]], fields[cols["mm"]]}, " ")
	t, err := time.Parse("2006 01 02 15 04", stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", stamp)
	}
	return t.UTC(), nil
}

func tendency(ptdy float64) domain.PressureTendency {
	switch {
	case ptdy > 0:
		return domain.TendencyRising
	case ptdy < 0:
		return domain.TendencyFalling
	default:
		return domain.TendencySteady
	}
}

// rowReader extracts optional numeric columns, remembering the first
// malformed token.
type rowReader struct {
	fields []string
	cols   map[string]int
	err    error
}

func (r *rowReader) float(name string) *float64 {
	i, ok := r.cols[name]
	if !ok {
		return nil
	}
	tok := r.fields[i]
	if tok == missingMarker {
		return nil
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("invalid %s value %q", name, tok)
		}
		return nil
	}
	if p, ok := placeholders[name]; ok && v == p {
		return nil
	}
	return &v
}
