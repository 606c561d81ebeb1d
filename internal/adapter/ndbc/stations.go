package ndbc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
)

// station_table.txt columns when the header line is absent.
var defaultTableColumns = []string{"STATION_ID", "OWNER", "TTYPE", "HULL", "NAME", "PAYLOAD", "LOCATION", "TIMEZONE", "FORECAST", "NOTE"}

var (
	stationIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{4,6}$`)
	// "44.794 N 87.313 W (44&#176;47'40" N 87&#176;18'47" W)"
	locationPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([NS])\s+(\d+(?:\.\d+)?)\s*([EW])`)
	// "Sturgeon Bay CG Station, WI"
	statePattern = regexp.MustCompile(`,\s*([A-Z]{2})\s*$`)
)

// ParseStationTable parses the pipe-delimited NDBC station table into station
// metadata. Rows without a parseable location are reported as row errors.
func ParseStationTable(raw []byte, fetchedAt time.Time) (domain.Batch, error) {
	var batch domain.Batch
	cols := columnIndex(defaultTableColumns)
	sawData := false
	row := 0

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if header := splitPipes(strings.TrimPrefix(line, "#")); len(header) > 1 && header[0] == "STATION_ID" {
				cols = columnIndex(header)
			}
			continue
		}
		if !strings.Contains(line, "|") {
			if !sawData {
				return domain.Batch{}, fmt.Errorf("%w: station table row without delimiters", domain.ErrUnrecognizedPayload)
			}
			batch.Reject(row, "", errors.New("row without delimiters"))
			row++
			continue
		}
		sawData = true

		s, err := parseTableRow(splitPipes(line), cols, fetchedAt)
		if err != nil {
			batch.Reject(row, s.SourceStationID, err)
		} else {
			batch.Stations = append(batch.Stations, s)
		}
		row++
	}
	if err := sc.Err(); err != nil {
		return domain.Batch{}, fmt.Errorf("%w: %v", domain.ErrUnrecognizedPayload, err)
	}
	if !sawData {
		return domain.Batch{}, fmt.Errorf("%w: empty station table", domain.ErrUnrecognizedPayload)
	}
	return batch, nil
}

func parseTableRow(fields []string, cols map[string]int, fetchedAt time.Time) (domain.StationMetadata, error) {
	get := func(name string) string {
		if i, ok := cols[name]; ok && i < len(fields) {
			return fields[i]
		}
		return ""
	}

	id := get("STATION_ID")
	if !stationIDPattern.MatchString(id) {
		return domain.StationMetadata{}, fmt.Errorf("invalid station id %q", id)
	}
	id = strings.ToLower(id)
	partial := domain.StationMetadata{Source: domain.SourceBuoy, SourceStationID: id}

	lat, lon, err := parseLocation(get("LOCATION"))
	if err != nil {
		return partial, err
	}

	s := domain.StationMetadata{
		Source:          domain.SourceBuoy,
		SourceStationID: id,
		Name:            optional(get("NAME")),
		Latitude:        lat,
		Longitude:       lon,
		StationType:     optional(get("TTYPE")),
		Owner:           optional(get("OWNER")),
		UpdatedAt:       fetchedAt,
	}
	if s.Name != nil {
		if m := statePattern.FindStringSubmatch(*s.Name); m != nil {
			s.StateProvince = domain.Ptr(m[1])
			s.CountryCode = domain.Ptr("US")
		}
	}
	if s.Owner == nil {
		s.Owner = domain.Ptr("NDBC")
	}
	s, err = domain.NewStationMetadata(s)
	if err != nil {
		return partial, err
	}
	return s, nil
}

func parseLocation(loc string) (lat, lon float64, err error) {
	m := locationPattern.FindStringSubmatch(loc)
	if m == nil {
		return 0, 0, fmt.Errorf("unparseable location %q", loc)
	}
	lat, _ = strconv.ParseFloat(m[1], 64)
	lon, _ = strconv.ParseFloat(m[3], 64)
	if m[2] == "S" {
		lat = -lat
	}
	if m[4] == "W" {
		lon = -lon
	}
	return lat, lon, nil
}

func splitPipes(line string) []string {
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func columnIndex(names []string) map[string]int {
	cols := make(map[string]int, len(names))
	for i, n := range names {
		cols[n] = i
	}
	return cols
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
