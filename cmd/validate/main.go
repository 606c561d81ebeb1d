// Command validate parses a saved upstream payload offline and reports what
// the ingest service would publish from it: record counts, rejected rows and
// the canonical messages.
//
// Usage:
//
//	go run ./cmd/validate -source ndbc -kind observations -station 46025 -file 46025.txt
//	go run ./cmd/validate -source isd -kind stations -file isd-history.csv
//	go run ./cmd/validate -source oscar -kind stations -file search.json -messages
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/adapter/isd"
	"github.com/couchcryptid/weather-station-ingest/internal/adapter/ndbc"
	"github.com/couchcryptid/weather-station-ingest/internal/adapter/oscar"
	"github.com/couchcryptid/weather-station-ingest/internal/domain"
)

func main() {
	source := flag.String("source", "", "payload source: ndbc, isd or oscar")
	kind := flag.String("kind", "observations", "payload kind: stations or observations")
	station := flag.String("station", "", "station id the observation payload belongs to")
	file := flag.String("file", "", "path to the saved payload")
	messages := flag.Bool("messages", false, "print every bus message")
	flag.Parse()

	if *source == "" || *file == "" || (*kind == "observations" && *station == "") {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(domain.Source(*source), *kind, *station, *file, *messages))
}

func run(source domain.Source, kind, station, path string, showMessages bool) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read payload: %v\n", err)
		return 1
	}

	batch, err := parse(source, kind, station, raw, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		return 1
	}

	fmt.Printf("=== %s %s: %s ===\n\n", source, kind, path)
	fmt.Printf("  %-22s %d\n", "stations", len(batch.Stations))
	fmt.Printf("  %-22s %d\n", "observations", len(batch.Observations))
	fmt.Printf("  %-22s %d\n", "row errors", len(batch.RowErrors))
	fmt.Printf("  %-22s %d\n", "invalid", batch.Invalid)

	if len(batch.RowErrors) > 0 {
		fmt.Println("\n--- row errors ---")
		for i, re := range batch.RowErrors {
			fmt.Printf("  [%d] row %d %s: %s\n", i+1, re.Row, re.StationID, re.Reason)
		}
	}

	if showMessages {
		fmt.Println("\n--- messages ---")
		if code := printMessages(batch); code != 0 {
			return code
		}
	}

	if batch.Records() == 0 {
		fmt.Println("\nNo records parsed.")
		return 1
	}
	return 0
}

func parse(source domain.Source, kind, station string, raw []byte, fetchedAt time.Time) (domain.Batch, error) {
	switch {
	case source == domain.SourceBuoy && kind == "stations":
		return ndbc.ParseStationTable(raw, fetchedAt)
	case source == domain.SourceBuoy:
		return ndbc.ParseRealtime(station, raw, fetchedAt)
	case source == domain.SourceSurfaceArchive && kind == "stations":
		h, err := isd.ParseHistory(raw, fetchedAt)
		if err != nil {
			return domain.Batch{}, err
		}
		return h.Batch(), nil
	case source == domain.SourceSurfaceArchive:
		return isd.ParseHourly(station, raw, fetchedAt)
	case source == domain.SourceRegistry:
		page, err := oscar.ParseSearch(raw, fetchedAt)
		if err != nil {
			return domain.Batch{}, err
		}
		b := page.Rejected
		for _, s := range page.Stations {
			b.Stations = append(b.Stations, s.Meta)
		}
		return b, nil
	default:
		return domain.Batch{}, fmt.Errorf("unknown source %q", source)
	}
}

func printMessages(b domain.Batch) int {
	for _, s := range b.Stations {
		msg, err := domain.SerializeStation(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
			return 1
		}
		fmt.Printf("%s\t%s\n", msg.IdentityKey(), msg.Value)
	}
	for _, o := range b.Observations {
		msg, err := domain.SerializeObservation(o)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
			return 1
		}
		fmt.Printf("%s\t%s\n", msg.IdentityKey(), msg.Value)
	}
	return 0
}
