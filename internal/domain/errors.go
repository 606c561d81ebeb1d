package domain

import (
	"errors"
	"fmt"
)

// ErrUnrecognizedPayload marks a response body that is not the expected
// format at all (empty body, HTML error page, wrong JSON shape). It fails the
// whole payload rather than a single row.
var ErrUnrecognizedPayload = errors.New("unrecognized payload")

// ValidationError reports a record that violates a canonical-model invariant.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// FetchKind classifies a failed upstream request.
type FetchKind int

const (
	// KindTransient covers timeouts, 5xx and connection resets. Retryable.
	KindTransient FetchKind = iota
	// KindNotFound means the station has no current data. Not a failure.
	KindNotFound
	// KindPermanent covers other 4xx and malformed requests. Not retried.
	KindPermanent
)

func (k FetchKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FetchError is returned by source clients for any failed request.
type FetchError struct {
	Kind       FetchKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s: status %d", e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchKindOf returns the classification of err. Errors that did not come
// from a source client are treated as permanent.
func FetchKindOf(err error) FetchKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindPermanent
}

// IsNotFound reports whether err means "no current data".
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindNotFound
}

// IsTransient reports whether err is eligible for retry.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindTransient
}

// RowError is a per-row parse or validation failure. It is collected, never raised.
type RowError struct {
	Row       int
	StationID string
	Reason    string
}

func (e RowError) Error() string {
	if e.StationID == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("station %s row %d: %s", e.StationID, e.Row, e.Reason)
}

// PublishError reports that the message bus rejected a batch.
type PublishError struct {
	Topic string
	Count int
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %d messages to %s: %v", e.Count, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
