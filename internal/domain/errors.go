package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrInvalidQuery is a caller error: empty search text or out-of-range coordinates.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrProviderUnavailable is returned by SetProvider when the requested
	// provider is unknown or fails its self-check.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrPersistenceRejected marks a LocationRecord that violates its invariants.
	ErrPersistenceRejected = errors.New("persistence rejected")

	// ErrCountryNotFound is returned when a country code is not in the registry.
	ErrCountryNotFound = errors.New("country not found")

	// ErrNotFound is returned when a topic, category or reverse lookup has no match.
	ErrNotFound = errors.New("not found")
)

// ErrorKind classifies provider-side failures.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "Timeout"
	KindRateLimited  ErrorKind = "RateLimited"
	KindBadResponse  ErrorKind = "BadResponse"
	KindProviderDown ErrorKind = "ProviderDown"
)

// Transient reports whether a single immediate retry may succeed.
func (k ErrorKind) Transient() bool {
	return k == KindTimeout || k == KindProviderDown
}

// GeocodeError is the normalized form of every network, timeout and payload
// failure raised by a provider adapter.
type GeocodeError struct {
	Kind     ErrorKind
	Provider string
	Cause    error
}

func (e *GeocodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *GeocodeError) Unwrap() error {
	return e.Cause
}

// Is matches another *GeocodeError of the same Kind. A target with a
// Provider set must also name the same provider.
func (e *GeocodeError) Is(target error) bool {
	t, ok := target.(*GeocodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Provider == "" || t.Provider == e.Provider)
}

// NewGeocodeError builds a GeocodeError.
func NewGeocodeError(kind ErrorKind, provider string, cause error) *GeocodeError {
	return &GeocodeError{Kind: kind, Provider: provider, Cause: cause}
}

// AsGeocodeError extracts a *GeocodeError from an error chain.
func AsGeocodeError(err error) (*GeocodeError, bool) {
	var geoErr *GeocodeError
	if errors.As(err, &geoErr) {
		return geoErr, true
	}
	return nil, false
}

// NormalizeError maps any error returned from a provider call into the
// GeocodeError taxonomy. Caller errors and not-found results pass through.
func NormalizeError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidQuery) || errors.Is(err, ErrNotFound) {
		return err
	}
	if _, ok := AsGeocodeError(err); ok {
		return err
	}
	return ClassifyTransport(provider, err)
}

// ClassifyTransport maps a transport-level failure (no HTTP response) to a GeocodeError.
func ClassifyTransport(provider string, err error) *GeocodeError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewGeocodeError(KindTimeout, provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewGeocodeError(KindTimeout, provider, err)
	}
	return NewGeocodeError(KindProviderDown, provider, err)
}
