package ntfy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	path    string
	body    string
	headers http.Header
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{path: r.URL.Path, body: string(body), headers: r.Header.Clone()})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staleAlert() domain.Alert {
	return domain.Alert{
		Key:      "stale_ndbc",
		Title:    "Weather Data Stale: NDBC",
		Message:  "No new observations from NDBC for 2h 0m.",
		Priority: "high",
		Tags:     []string{"warning", "clock"},
	}
}

func TestAlerter_PostsToTopic(t *testing.T) {
	srv, got := newNtfyServer(t, http.StatusOK)
	a := NewAlerter(Config{Server: srv.URL + "/", Topic: "weather-alerts"}, clockwork.NewFakeClock(), discardLogger())

	require.NoError(t, a.Alert(context.Background(), staleAlert()))

	reqs := got()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/weather-alerts", reqs[0].path)
	assert.Equal(t, "No new observations from NDBC for 2h 0m.", reqs[0].body)
	assert.Equal(t, "Weather Data Stale: NDBC", reqs[0].headers.Get("Title"))
	assert.Equal(t, "high", reqs[0].headers.Get("Priority"))
	assert.Equal(t, "warning,clock", reqs[0].headers.Get("Tags"))
}

func TestAlerter_RateLimitedPerKey(t *testing.T) {
	srv, got := newNtfyServer(t, http.StatusOK)
	clock := clockwork.NewFakeClock()
	a := NewAlerter(Config{Server: srv.URL, Topic: "t", MinInterval: time.Hour}, clock, discardLogger())
	ctx := context.Background()

	require.NoError(t, a.Alert(ctx, staleAlert()))
	require.ErrorIs(t, a.Alert(ctx, staleAlert()), domain.ErrAlertSuppressed)

	other := staleAlert()
	other.Key = "stale_isd"
	require.NoError(t, a.Alert(ctx, other), "keys are limited independently")

	clock.Advance(time.Hour)
	require.NoError(t, a.Alert(ctx, staleAlert()))
	assert.Len(t, got(), 3)
}

func TestAlerter_FailureDoesNotStartInterval(t *testing.T) {
	srv, got := newNtfyServer(t, http.StatusInternalServerError)
	a := NewAlerter(Config{Server: srv.URL, Topic: "t", MinInterval: time.Hour}, clockwork.NewFakeClock(), discardLogger())
	ctx := context.Background()

	err := a.Alert(ctx, staleAlert())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAlertSuppressed)

	require.Error(t, a.Alert(ctx, staleAlert()))
	assert.Len(t, got(), 2, "a failed send is retried on the next check")
}

func TestAlerter_Defaults(t *testing.T) {
	a := NewAlerter(Config{Topic: "weather"}, clockwork.NewFakeClock(), discardLogger())
	assert.Equal(t, "https://ntfy.sh/weather", a.url)
	assert.Equal(t, 10*time.Second, a.client.Timeout)

	srv, got := newNtfyServer(t, http.StatusOK)
	a = NewAlerter(Config{Server: srv.URL, Topic: "t"}, clockwork.NewFakeClock(), discardLogger())
	require.NoError(t, a.Alert(context.Background(), domain.Alert{Title: "test", Message: "hello"}))
	assert.Equal(t, "default", got()[0].headers.Get("Priority"))
	assert.Empty(t, got()[0].headers.Get("Tags"))
}
