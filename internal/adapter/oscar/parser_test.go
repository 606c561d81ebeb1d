package oscar

import (
	"testing"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFetchedAt = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

const searchFixture = `{
  "pageCount": 1,
  "stationSearchResults": [
    {
      "wigosId": "0-20000-0-06260",
      "name": "De Bilt",
      "latitude": 52.1,
      "longitude": 5.18,
      "elevation": "1.9",
      "territory": {"name": "Netherlands", "countryCode": "nl"},
      "supervisionOrganization": {"name": "Royal Netherlands Meteorological Institute", "acronym": "KNMI"},
      "region": "Europe",
      "stationClass": "upperAir",
      "facilityType": "Land (fixed)"
    },
    {
      "wigosStationIdentifiers": [
        {"wigosStationIdentifier": "0-840-0-KLAX", "primary": false},
        {"wigosStationIdentifier": "0-20000-0-72295", "primary": true}
      ],
      "name": "Los Angeles Intl",
      "latitude": "33.938",
      "longitude": "-118.389",
      "territory": "United States of America",
      "organization": "NOAA",
      "region": "(inapplicable)",
      "stationTypeName": "synoptic",
      "stationTypeCode": "landFixed"
    },
    {"name": "No id", "latitude": 1, "longitude": 2},
    {"wigosId": "0-20000-0-99999", "name": "No coordinates"},
    {"wigosId": "0-20000-0-11111", "latitude": 91, "longitude": 0},
    {"wigosId": 42}
  ]
}`

func TestParseSearch(t *testing.T) {
	page, err := ParseSearch([]byte(searchFixture), testFetchedAt)
	require.NoError(t, err)

	assert.Equal(t, 1, page.PageCount)
	require.Len(t, page.Stations, 2)
	require.Len(t, page.Rejected.RowErrors, 4)
	assert.Equal(t, 1, page.Rejected.Invalid)

	want := domain.StationMetadata{
		Source:          domain.SourceRegistry,
		SourceStationID: "0-20000-0-06260",
		WMOID:           domain.Ptr("0-20000-0-06260"),
		Name:            domain.Ptr("De Bilt"),
		Latitude:        52.1,
		Longitude:       5.18,
		ElevationM:      domain.Ptr(1.9),
		CountryCode:     domain.Ptr("NL"),
		StateProvince:   domain.Ptr("Europe"),
		StationType:     domain.Ptr("upper_air"),
		Owner:           domain.Ptr("Royal Netherlands Meteorological Institute"),
		UpdatedAt:       testFetchedAt,
	}
	if diff := cmp.Diff(want, page.Stations[0].Meta); diff != "" {
		t.Errorf("De Bilt mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Netherlands", page.Stations[0].Territory)
	assert.Equal(t, "Land (fixed)", page.Stations[0].FacilityType)

	lax := page.Stations[1]
	assert.Equal(t, "0-20000-0-72295", lax.Meta.SourceStationID)
	assert.Equal(t, 33.938, lax.Meta.Latitude)
	assert.Nil(t, lax.Meta.StateProvince, "(inapplicable) becomes null")
	assert.Nil(t, lax.Meta.CountryCode)
	assert.Nil(t, lax.Meta.ElevationM)
	assert.Equal(t, "NOAA", *lax.Meta.Owner)
	assert.Equal(t, "synoptic", *lax.Meta.StationType)
	assert.Equal(t, "United States of America", lax.Territory)
	assert.Equal(t, "landFixed", lax.FacilityType)

	assert.Contains(t, page.Rejected.RowErrors[0].Reason, "no WIGOS identifier")
	assert.Equal(t, "0-20000-0-99999", page.Rejected.RowErrors[1].StationID)
	assert.Contains(t, page.Rejected.RowErrors[1].Reason, "no coordinates")
	assert.Contains(t, page.Rejected.RowErrors[2].Reason, "latitude")
	assert.Contains(t, page.Rejected.RowErrors[3].Reason, "decode station")
}

func TestParseSearch_BareArray(t *testing.T) {
	payload := `[{"wigosId": "0-20000-0-06260", "latitude": 52.1, "longitude": 5.18, "stationClass": "Hydrological"}]`
	page, err := ParseSearch([]byte(payload), testFetchedAt)
	require.NoError(t, err)
	require.Len(t, page.Stations, 1)
	assert.Equal(t, 0, page.PageCount)
	assert.Equal(t, "hydrological", *page.Stations[0].Meta.StationType)
	assert.Nil(t, page.Stations[0].Meta.Name)
}

func TestParseSearch_SingleStationObject(t *testing.T) {
	payload := `{"wigosId": "0-20000-0-06260", "latitude": 52.1, "longitude": 5.18}`
	page, err := ParseSearch([]byte(payload), testFetchedAt)
	require.NoError(t, err)
	require.Len(t, page.Stations, 1)
}

func TestParseSearch_Unrecognized(t *testing.T) {
	for _, payload := range []string{
		"",
		"   ",
		"<!DOCTYPE html><html><body>Maintenance</body></html>",
		"42",
		`"stations"`,
		`{"message": "rate limited"}`,
		`{"stations": 5}`,
	} {
		_, err := ParseSearch([]byte(payload), testFetchedAt)
		require.ErrorIs(t, err, domain.ErrUnrecognizedPayload, payload)
	}
}

func TestFilter_Apply(t *testing.T) {
	page, err := ParseSearch([]byte(searchFixture), testFetchedAt)
	require.NoError(t, err)

	assert.Len(t, Filter{}.Apply(page.Stations), 2)

	byTerritory := Filter{Territories: []string{"netherlands"}}.Apply(page.Stations)
	require.Len(t, byTerritory, 1)
	assert.Equal(t, "0-20000-0-06260", byTerritory[0].Meta.SourceStationID)

	byClass := Filter{StationClasses: []string{"SYNOPTIC"}}.Apply(page.Stations)
	require.Len(t, byClass, 1)
	assert.Equal(t, "0-20000-0-72295", byClass[0].Meta.SourceStationID)

	byFacility := Filter{FacilityTypes: []string{"land (FIXED)"}}.Apply(page.Stations)
	assert.Len(t, byFacility, 1)

	byID := Filter{StationIDs: []string{"0-20000-0-72295"}, StationClasses: []string{"upperAir"}}.Apply(page.Stations)
	assert.Empty(t, byID)
}
