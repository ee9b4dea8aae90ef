package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure an adapter can surface. Adapters never
// leak venue-native error shapes; they translate into one of these.
type ErrorKind string

const (
	KindAuth             ErrorKind = "auth"
	KindValidation       ErrorKind = "validation"
	KindRiskRejected     ErrorKind = "risk_rejected"
	KindVenueTransient   ErrorKind = "venue_transient"
	KindVenueRejected    ErrorKind = "venue_rejected"
	KindPartialExecution ErrorKind = "partial_execution"
)

// VenueError is the single error type adapters raise. NativeCode preserves
// the venue's own error code for diagnostics.
type VenueError struct {
	Kind       ErrorKind
	Venue      string
	Reason     string
	NativeCode string
	Err        error
}

func (e *VenueError) Error() string {
	if e.NativeCode != "" {
		return fmt.Sprintf("%s: %s (%s, code=%s)", e.Venue, e.Reason, e.Kind, e.NativeCode)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Venue, e.Reason, e.Kind)
}

func (e *VenueError) Unwrap() error { return e.Err }

// NewError builds a VenueError.
func NewError(venue string, kind ErrorKind, reason string) *VenueError {
	return &VenueError{Kind: kind, Venue: venue, Reason: reason}
}

// Kind extracts the error kind, defaulting to venue_transient for errors
// that did not come from an adapter (plain network failures and the like).
func Kind(err error) ErrorKind {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindVenueTransient
}

// Retryable reports whether err is in the transient class. Auth and
// business-rule rejections are never retried.
func Retryable(err error) bool {
	return Kind(err) == KindVenueTransient
}

// classifyStatus maps an HTTP status into an error kind. 5xx and 429 are
// transient, 401/403 is auth, any other 4xx is a business-rule rejection.
func classifyStatus(status int) ErrorKind {
	switch {
	case status >= 500 || status == 429:
		return KindVenueTransient
	case status == 401 || status == 403:
		return KindAuth
	default:
		return KindVenueRejected
	}
}
