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

// activeGraceYears tolerates a history file that lags behind real activity.
const activeGraceYears = 2

var historyColumns = []string{"USAF", "WBAN", "STATION NAME", "CTRY", "STATE", "LAT", "LON", "ELEV(M)", "END"}

// Station is one isd-history.csv row.
type Station struct {
	Meta domain.StationMetadata
	USAF string
	WBAN string
	// EndYear is the last year with data, or 0 when the history has none.
	EndYear int
}

// ID is the USAF-WBAN station id.
func (s Station) ID() string { return s.USAF + "-" + s.WBAN }

// Active reports whether the station had data within the grace period of year.
func (s Station) Active(year int) bool {
	return s.EndYear == 0 || s.EndYear >= year-activeGraceYears
}

// History is a parsed isd-history.csv.
type History struct {
	Stations []Station
	// Rejected holds row errors only.
	Rejected domain.Batch
}

// Filter narrows a station history. Empty fields match everything.
type Filter struct {
	ActiveYear   int
	CountryCodes []string
	StationIDs   []string
}

// ParseHistory parses isd-history.csv. Stations without coordinates are
// skipped silently; the archive lists thousands of them.
func ParseHistory(raw []byte, fetchedAt time.Time) (History, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return History{}, fmt.Errorf("%w: isd history header: %v", domain.ErrUnrecognizedPayload, err)
	}
	cols, err := indexColumns(header, historyColumns)
	if err != nil {
		return History{}, err
	}

	var h History
	for row := 0; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.Rejected.Reject(row, "", err)
			continue
		}
		if len(rec) != len(header) {
			h.Rejected.Reject(row, "", fmt.Errorf("expected %d columns, got %d", len(header), len(rec)))
			continue
		}
		s, ok, err := parseHistoryRow(rec, cols, fetchedAt)
		if err != nil {
			h.Rejected.Reject(row, s.ID(), err)
			continue
		}
		if ok {
			h.Stations = append(h.Stations, s)
		}
	}
	return h, nil
}

func parseHistoryRow(rec []string, cols map[string]int, fetchedAt time.Time) (Station, bool, error) {
	get := func(name string) string { return strings.TrimSpace(rec[cols[name]]) }

	s := Station{USAF: get("USAF"), WBAN: get("WBAN")}
	if s.USAF == "" || s.WBAN == "" {
		return s, false, errors.New("missing USAF or WBAN")
	}
	lat, latOK := parseOptionalFloat(get("LAT"))
	lon, lonOK := parseOptionalFloat(get("LON"))
	if !latOK || !lonOK {
		return s, false, nil
	}
	if end := get("END"); len(end) >= 4 {
		if y, err := strconv.Atoi(end[:4]); err == nil {
			s.EndYear = y
		}
	}

	name := get("STATION NAME")
	meta := domain.StationMetadata{
		Source:          domain.SourceSurfaceArchive,
		SourceStationID: s.ID(),
		Name:            optional(name),
		Latitude:        lat,
		Longitude:       lon,
		StateProvince:   optional(get("STATE")),
		StationType:     domain.Ptr(stationType(name)),
		Owner:           domain.Ptr("NOAA"),
		UpdatedAt:       fetchedAt,
	}
	if elev, ok := parseOptionalFloat(get("ELEV(M)")); ok && elev > -999 {
		meta.ElevationM = &elev
	}
	if ctry := get("CTRY"); len(ctry) == 2 {
		meta.CountryCode = &ctry
	}

	meta, err := domain.NewStationMetadata(meta)
	if err != nil {
		return s, false, err
	}
	s.Meta = meta
	return s, true, nil
}

// stationType guesses the platform from the station name.
func stationType(name string) string {
	upper := strings.ToUpper(name)
	switch {
	case strings.Contains(upper, "ASOS"):
		return "asos"
	case strings.Contains(upper, "AWOS"):
		return "awos"
	case strings.Contains(upper, "METAR"):
		return "metar"
	default:
		return "synoptic"
	}
}

// Filter returns the stations matching f. Row errors are carried over.
func (h History) Filter(f Filter) History {
	countries := upperSet(f.CountryCodes)
	ids := make(map[string]bool, len(f.StationIDs))
	for _, id := range f.StationIDs {
		ids[strings.TrimSpace(id)] = true
	}

	out := History{Rejected: h.Rejected}
	for _, s := range h.Stations {
		if f.ActiveYear != 0 && !s.Active(f.ActiveYear) {
			continue
		}
		if len(countries) > 0 && (s.Meta.CountryCode == nil || !countries[strings.ToUpper(*s.Meta.CountryCode)]) {
			continue
		}
		if len(ids) > 0 && !ids[s.ID()] {
			continue
		}
		out.Stations = append(out.Stations, s)
	}
	return out
}

// Batch returns the station metadata and row errors as a domain batch.
func (h History) Batch() domain.Batch {
	b := h.Rejected
	b.Stations = make([]domain.StationMetadata, 0, len(h.Stations))
	for _, s := range h.Stations {
		b.Stations = append(b.Stations, s.Meta)
	}
	return b
}

func indexColumns(header, required []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %s", domain.ErrUnrecognizedPayload, name)
		}
	}
	return cols, nil
}

func parseOptionalFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func upperSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[strings.ToUpper(v)] = true
		}
	}
	return set
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
