package domain

import "fmt"

// Source identifies the upstream provider a record came from.
type Source string

const (
	SourceBuoy           Source = "ndbc"
	SourceSurfaceArchive Source = "isd"
	SourceRegistry       Source = "oscar"
)

// Sources lists every known provider in a stable order.
var Sources = []Source{SourceBuoy, SourceSurfaceArchive, SourceRegistry}

// Valid reports whether s is a known provider.
func (s Source) Valid() bool {
	switch s {
	case SourceBuoy, SourceSurfaceArchive, SourceRegistry:
		return true
	default:
		return false
	}
}

// ParseSource converts a configuration or wire value to a Source.
func ParseSource(v string) (Source, error) {
	s := Source(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown source %q", v)
	}
	return s, nil
}

func (s Source) String() string { return string(s) }

// Ptr returns a pointer to v. Parsers use it to populate optional fields.
func Ptr[T any](v T) *T {
	return &v
}
