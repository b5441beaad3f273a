package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies venue failures so callers can decide whether to
// retry, skip the symbol, or halt.
type ErrorKind string

const (
	ErrTransport           ErrorKind = "TRANSPORT"
	ErrAuth                ErrorKind = "AUTH"
	ErrRateLimited         ErrorKind = "RATE_LIMITED"
	ErrNotFound            ErrorKind = "NOT_FOUND"
	ErrInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	ErrMinimumSize         ErrorKind = "MINIMUM_SIZE"
	ErrVenueReject         ErrorKind = "VENUE_REJECT"
)

// VenueError is the structured error every adapter returns for venue-side
// failures. Transport wrapping (fmt.Errorf %w) preserves it for errors.As.
type VenueError struct {
	Venue   Venue
	Kind    ErrorKind
	Code    int
	Message string
}

func (e *VenueError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d): %s", e.Venue, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.Kind, e.Message)
}

// NewVenueError creates a venue error with the given classification.
func NewVenueError(venue Venue, kind ErrorKind, code int, msg string) *VenueError {
	return &VenueError{Venue: venue, Kind: kind, Code: code, Message: msg}
}

// AsVenueError extracts a VenueError from an error chain.
func AsVenueError(err error) (*VenueError, bool) {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsRateLimited reports whether err is a rate-limit rejection. It matches the
// structured kind, HTTP 429 codes, and rate-limit phrasing in the message for
// errors that arrive unclassified from an SDK.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if ve, ok := AsVenueError(err); ok {
		if ve.Kind == ErrRateLimited {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}

// IsRetryable reports whether err is worth retrying with backoff. Only
// transport failures and rate limits qualify; auth errors, rejects, and
// balance problems propagate immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return true
	}
	if ve, ok := AsVenueError(err); ok {
		return ve.Kind == ErrTransport
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof")
}
