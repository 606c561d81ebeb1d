package oscar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
)

const inapplicable = "(inapplicable)"

// stationClasses maps OSCAR station classes to canonical station types.
// Unlisted classes are lower-cased.
var stationClasses = map[string]string{
	"synoptic":                   "synoptic",
	"upperAir":                   "upper_air",
	"climatological":             "climatological",
	"agriculturalMeteorological": "agricultural",
	"precipitation":              "precipitation",
	"oceanographic":              "oceanographic",
	"spaceWeather":               "space_weather",
}

// Station is one registry entry together with the attributes used for filtering.
type Station struct {
	Meta         domain.StationMetadata
	Territory    string
	StationClass string
	FacilityType string
}

// Page is one parsed search response.
type Page struct {
	Stations []Station
	Rejected domain.Batch
	// PageCount is the total number of pages, or 0 when the response does not say.
	PageCount int
}

type searchResponse struct {
	Stations             []json.RawMessage `json:"stations"`
	StationSearchResults []json.RawMessage `json:"stationSearchResults"`
	PageCount            int               `json:"pageCount"`
}

type wigosIdentifier struct {
	ID      string `json:"wigosStationIdentifier"`
	Primary bool   `json:"primary"`
}

type item struct {
	WigosID                 string            `json:"wigosId"`
	WigosStationIdentifier  string            `json:"wigosStationIdentifier"`
	WigosStationIdentifiers []wigosIdentifier `json:"wigosStationIdentifiers"`
	Name                    string            `json:"name"`
	Latitude                flexFloat         `json:"latitude"`
	Longitude               flexFloat         `json:"longitude"`
	Elevation               flexFloat         `json:"elevation"`
	Territory               json.RawMessage   `json:"territory"`
	SupervisionOrganization json.RawMessage   `json:"supervisionOrganization"`
	Organization            json.RawMessage   `json:"organization"`
	Region                  string            `json:"region"`
	StationClass            string            `json:"stationClass"`
	StationTypeName         string            `json:"stationTypeName"`
	FacilityType            string            `json:"facilityType"`
	StationTypeCode         string            `json:"stationTypeCode"`
}

// ParseSearch parses one page of the station search API. The response is
// either a bare array of stations or an object wrapping one.
func ParseSearch(raw []byte, fetchedAt time.Time) (Page, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Page{}, fmt.Errorf("%w: empty registry response", domain.ErrUnrecognizedPayload)
	}

	var items []json.RawMessage
	var page Page
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Page{}, fmt.Errorf("%w: %v", domain.ErrUnrecognizedPayload, err)
		}
	case '{':
		var resp searchResponse
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return Page{}, fmt.Errorf("%w: %v", domain.ErrUnrecognizedPayload, err)
		}
		page.PageCount = resp.PageCount
		switch {
		case resp.Stations != nil:
			items = resp.Stations
		case resp.StationSearchResults != nil:
			items = resp.StationSearchResults
		case looksLikeStation(trimmed):
			items = []json.RawMessage{trimmed}
		default:
			return Page{}, fmt.Errorf("%w: registry object without stations", domain.ErrUnrecognizedPayload)
		}
	default:
		return Page{}, fmt.Errorf("%w: registry response is not JSON object or array", domain.ErrUnrecognizedPayload)
	}

	for i, rawItem := range items {
		s, err := parseItem(rawItem, fetchedAt)
		if err != nil {
			page.Rejected.Reject(i, s.Meta.SourceStationID, err)
			continue
		}
		page.Stations = append(page.Stations, s)
	}
	return page, nil
}

func looksLikeStation(obj []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(obj, &probe); err != nil {
		return false
	}
	for _, k := range []string{"wigosId", "wigosStationIdentifier", "wigosStationIdentifiers"} {
		if _, ok := probe[k]; ok {
			return true
		}
	}
	return false
}

func parseItem(raw json.RawMessage, fetchedAt time.Time) (Station, error) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		return Station{}, fmt.Errorf("decode station: %w", err)
	}

	id := it.id()
	if id == "" {
		return Station{}, errors.New("station has no WIGOS identifier")
	}
	partial := Station{Meta: domain.StationMetadata{Source: domain.SourceRegistry, SourceStationID: id}}
	if it.Latitude.v == nil || it.Longitude.v == nil {
		return partial, errors.New("station has no coordinates")
	}

	territory, country := it.territory()
	class := firstNonEmpty(it.StationClass, it.StationTypeName)
	s := Station{
		Territory:    territory,
		StationClass: class,
		FacilityType: firstNonEmpty(it.FacilityType, it.StationTypeCode),
		Meta: domain.StationMetadata{
			Source:          domain.SourceRegistry,
			SourceStationID: id,
			WMOID:           domain.Ptr(id),
			Name:            clean(it.Name),
			Latitude:        *it.Latitude.v,
			Longitude:       *it.Longitude.v,
			ElevationM:      it.Elevation.v,
			StateProvince:   clean(it.Region),
			Owner:           it.owner(),
			UpdatedAt:       fetchedAt,
		},
	}
	if len(country) == 2 {
		s.Meta.CountryCode = domain.Ptr(strings.ToUpper(country))
	}
	if class != "" {
		t, ok := stationClasses[class]
		if !ok {
			t = strings.ToLower(class)
		}
		s.Meta.StationType = &t
	}

	meta, err := domain.NewStationMetadata(s.Meta)
	if err != nil {
		return partial, err
	}
	s.Meta = meta
	return s, nil
}

func (it item) id() string {
	if id := firstNonEmpty(it.WigosID, it.WigosStationIdentifier); id != "" {
		return id
	}
	for _, w := range it.WigosStationIdentifiers {
		if w.Primary && w.ID != "" {
			return w.ID
		}
	}
	if len(it.WigosStationIdentifiers) > 0 {
		return strings.TrimSpace(it.WigosStationIdentifiers[0].ID)
	}
	return ""
}

// territory returns the territory name and country code. The API sends either
// {"name": ..., "countryCode": ...} or a bare name.
func (it item) territory() (name, country string) {
	if len(it.Territory) == 0 {
		return "", ""
	}
	var obj struct {
		Name        string `json:"name"`
		CountryCode string `json:"countryCode"`
	}
	if err := json.Unmarshal(it.Territory, &obj); err == nil {
		return deref(clean(obj.Name)), strings.TrimSpace(obj.CountryCode)
	}
	var s string
	if err := json.Unmarshal(it.Territory, &s); err == nil {
		return deref(clean(s)), ""
	}
	return "", ""
}

func (it item) owner() *string {
	org := it.SupervisionOrganization
	if len(org) == 0 || string(org) == "null" {
		org = it.Organization
	}
	if len(org) == 0 {
		return nil
	}
	var obj struct {
		Name    string `json:"name"`
		Acronym string `json:"acronym"`
	}
	if err := json.Unmarshal(org, &obj); err == nil {
		return clean(firstNonEmpty(obj.Name, obj.Acronym))
	}
	var s string
	if err := json.Unmarshal(org, &s); err == nil {
		return clean(s)
	}
	return nil
}

// flexFloat accepts a JSON number, a numeric string, or null.
type flexFloat struct{ v *float64 }

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Non-numeric values are treated as absent.
		return nil //nolint:nilerr
	}
	f.v = &v
	return nil
}

func clean(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == inapplicable {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
