// Package upstream is the shared HTTP fetch primitive used by every source
// client. It turns transport and status failures into domain.FetchError so
// the scheduler can decide whether to retry.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/weather-station-ingest/internal/domain"
	"github.com/couchcryptid/weather-station-ingest/internal/observability"
)

// DefaultMaxBody caps a single response. The largest payload is the ISD
// station history at roughly 3 MB.
const DefaultMaxBody = 64 << 20

// Client performs GET requests against one provider's host.
type Client struct {
	source     domain.Source
	httpClient *http.Client
	userAgent  string
	accept     string
	maxBody    int64
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithAccept sets the Accept header sent with every request.
func WithAccept(mime string) Option {
	return func(c *Client) { c.accept = mime }
}

// WithMaxBody overrides DefaultMaxBody.
func WithMaxBody(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithHTTPClient uses a copy of hc for requests. The per-request timeout is
// still taken from NewClient; hc itself is not modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.httpClient = &cp
	}
}

// NewClient creates a fetch client for source. timeout bounds each request
// including reading the body.
func NewClient(source domain.Source, timeout time.Duration, userAgent string, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		source:     source,
		httpClient: &http.Client{},
		userAgent:  userAgent,
		maxBody:    DefaultMaxBody,
		metrics:    metrics,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Timeout = timeout
	return c
}

// Fetch returns the body of a 200 response. Any other outcome is a
// *domain.FetchError classified by Classify.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := checkURL(rawURL); err != nil {
		return nil, &domain.FetchError{Kind: domain.KindPermanent, URL: rawURL, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.FetchError{Kind: domain.KindPermanent, URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.accept != "" {
		req.Header.Set("Accept", c.accept)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamLatency.WithLabelValues(string(c.source)).Observe(time.Since(start).Seconds())
	if err != nil {
		// Timeouts, resets and refused connections are all retryable.
		return nil, &domain.FetchError{Kind: domain.KindTransient, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		kind := Classify(resp.StatusCode)
		c.logger.Debug("upstream request failed", "url", rawURL, "status", resp.StatusCode, "kind", kind.String())
		return nil, &domain.FetchError{Kind: kind, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &domain.FetchError{Kind: domain.KindTransient, URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		return nil, &domain.FetchError{Kind: domain.KindPermanent, URL: rawURL, Err: fmt.Errorf("response exceeds %d bytes", c.maxBody)}
	}
	return body, nil
}

// Classify maps a non-200 HTTP status to a fetch failure kind.
func Classify(status int) domain.FetchKind {
	switch {
	case status == http.StatusNotFound, status == http.StatusGone:
		return domain.KindNotFound
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return domain.KindTransient
	default:
		return domain.KindPermanent
	}
}

func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("malformed url: want absolute http(s) url")
	}
	return nil
}
