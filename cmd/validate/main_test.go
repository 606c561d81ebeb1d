package main

import (
	"testing"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fetchedAt = time.Date(2024, 1, 15, 13, 10, 0, 0, time.UTC)

func TestParse_SurfaceArchiveStations(t *testing.T) {
	payload := `"USAF","WBAN","STATION NAME","CTRY","STATE","ICAO","LAT","LON","ELEV(M)","BEGIN","END"
"722950","23174","LOS ANGELES INTERNATIONAL AIRPORT","US","CA","KLAX","+33.938","-118.389","+0029.6","19440101","20240114"
"725030","14732","LA GUARDIA AIRPORT ASOS","US","NY","KLGA","+40.779","-073.880","+0003.4","19730101","20240114"
"720000","99999","TOO FEW COLUMNS"
`
	batch, err := parse(domain.SourceSurfaceArchive, "stations", "", []byte(payload), fetchedAt)
	require.NoError(t, err)

	require.Len(t, batch.Stations, 2)
	assert.Equal(t, "722950-23174", batch.Stations[0].SourceStationID)
	assert.Equal(t, "725030-14732", batch.Stations[1].SourceStationID)
	require.Len(t, batch.RowErrors, 1)
	assert.Contains(t, batch.RowErrors[0].Reason, "expected 11 columns")
	assert.Empty(t, batch.Observations)
}

func TestParse_BuoyObservations(t *testing.T) {
	payload := `#YY  MM DD hh mm WSPD PRES
2024 01 15 12 00 5.1 1018.5
`
	batch, err := parse(domain.SourceBuoy, "observations", "46025", []byte(payload), fetchedAt)
	require.NoError(t, err)
	require.Len(t, batch.Observations, 1)
	assert.Equal(t, "46025", batch.Observations[0].SourceStationID)
}

func TestParse_UnknownSource(t *testing.T) {
	_, err := parse(domain.Source("nws"), "stations", "", []byte("x"), fetchedAt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}
