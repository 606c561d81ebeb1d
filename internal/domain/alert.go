package domain

import (
	"context"
	"errors"
)

// ErrAlertSuppressed is returned by an Alerter that dropped an alert under
// its own rate limit.
var ErrAlertSuppressed = errors.New("alert suppressed by rate limit")

// Alert is one push notification.
type Alert struct {
	// Key groups alerts for rate limiting.
	Key      string
	Title    string
	Message  string
	Priority string
	Tags     []string
}

// Alerter delivers alerts.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}
