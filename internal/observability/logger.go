package observability

import (
	"log/slog"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

const serviceName = "weather-station-ingest"

// NewLogger builds the process logger on stdout and installs it as the slog
// default. format is "json" or "text"; level is one of debug, info, warn, error.
func NewLogger(level, format string) *slog.Logger {
	return sharedobs.NewLogger(level, format).With("service", serviceName)
}
