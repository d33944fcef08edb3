package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailureKind names a class of failure in the search pipeline.
type FailureKind string

// Failure kinds. Each degrades to skipping the smallest unit of work.
const (
	TransportFailure   FailureKind = "transport"
	RenderFailure      FailureKind = "render"
	ExtractionFailure  FailureKind = "extraction"
	PersistenceFailure FailureKind = "persistence"
)

var (
	// ErrRendererDisabled is returned by the rendered backend once it has
	// failed and shut itself down for the rest of the run.
	ErrRendererDisabled = errors.New("rendered backend disabled")
	// ErrChallengePage marks a response that is a bot-check interstitial
	// rather than search results.
	ErrChallengePage = errors.New("challenge page served")

	// ErrJobNotFound is returned by job stores for unknown IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when a job ID is reused.
	ErrJobExists = errors.New("job already exists")
	// ErrJobFinal is returned when updating a job that already reached a
	// terminal status, such as one canceled while queued.
	ErrJobFinal = errors.New("job already finished")
)

// FetchError is returned by fetch backends for any failed page.
type FetchError struct {
	Kind   FailureKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failure fetching %s (status %d): %v", e.Kind, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s failure fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a TransportFailure.
func NewTransportError(url string, status int, err error) *FetchError {
	if err == nil {
		err = fmt.Errorf("http status %d", status)
	}
	return &FetchError{Kind: TransportFailure, URL: url, Status: status, Err: err}
}

// NewRenderError wraps err as a RenderFailure.
func NewRenderError(url string, err error) *FetchError {
	return &FetchError{Kind: RenderFailure, URL: url, Err: err}
}

// KindOf reports the FailureKind carried by err, or "" if none.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Reason buckets a fetch error into a low-cardinality label for metrics
// and logs.
func Reason(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, ErrRendererDisabled) {
		return "renderer_disabled"
	}
	if errors.Is(err, ErrChallengePage) {
		return "challenge"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		switch fe.Status {
		case 0:
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusNotFound:
			return "not_found"
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return "rate_limited"
		default:
			return "http_status"
		}
		if fe.Kind == RenderFailure {
			return "render"
		}
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}
