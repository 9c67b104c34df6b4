package esi

import (
	"errors"
	"fmt"
)

var (
	// ErrCapability marks a failure of an injected collaborator (as opposed
	// to a problem with document content). Fetchers wrap it to abort a
	// whole Process call instead of degrading a single include.
	ErrCapability = errors.New("esi capability failure")

	// ErrNoFetcher is returned when a document needs a fragment but the
	// Processor has no Fetcher.
	ErrNoFetcher = fmt.Errorf("%w: no fetcher configured", ErrCapability)

	// ErrMaxDepth is reported for includes nested deeper than the limit.
	ErrMaxDepth = errors.New("esi: include depth limit reached")
)

// CapabilityError reports a misbehaving collaborator for a specific URL.
type CapabilityError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("esi: fetch %q: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// Is reports every CapabilityError as an ErrCapability.
func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapability
}

// statusCoder is implemented by fetch errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// statusOf extracts the HTTP status from a fetch error, 0 if unknown.
func statusOf(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}
