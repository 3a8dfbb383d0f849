package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a call_id has no record in the registry
	ErrNotFound = errors.New("call record not found")

	// ErrConflict is returned when an event carries a carrier reference that
	// does not match the one already bound to the record
	ErrConflict = errors.New("carrier reference conflict")

	// ErrUnmatchedEvent is returned when a webhook event references a carrier
	// call no record was ever bound to
	ErrUnmatchedEvent = errors.New("event does not match any known call")

	// ErrInvalidRequest is returned for malformed call requests, before any
	// call_id is allocated
	ErrInvalidRequest = errors.New("invalid call request")
)

// DialErrorKind classifies origination failures so the retry policy table can
// treat them uniformly across the single-call and bulk paths
type DialErrorKind string

const (
	DialErrorInvalidNumber      DialErrorKind = "invalid_number"
	DialErrorCarrierUnavailable DialErrorKind = "carrier_unavailable"
	DialErrorQuotaExceeded      DialErrorKind = "quota_exceeded"
)

// DialError wraps a failed origination with its classification
type DialError struct {
	Kind DialErrorKind
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial failed (%s): %v", e.Kind, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient
func (e *DialError) Retryable() bool {
	return e.Kind == DialErrorCarrierUnavailable || e.Kind == DialErrorQuotaExceeded
}

// NewDialError builds a classified dial error
func NewDialError(kind DialErrorKind, err error) *DialError {
	return &DialError{Kind: kind, Err: err}
}

// AsDialError unwraps err into a *DialError if it is one
func AsDialError(err error) (*DialError, bool) {
	var de *DialError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
