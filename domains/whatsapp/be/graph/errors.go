package graph

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// APIError is the provider's structured error payload, decoded from the
// standard Graph error envelope.
type APIError struct {
	Status  int    // HTTP status of the response
	Code    int    // provider error code
	Subcode int    // provider error_subcode
	Type    string // provider error type, e.g. OAuthException
	Message string
	TraceID string // fbtrace_id, quoted when escalating to provider support
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph: %s (type=%s code=%d subcode=%d http=%d)",
		e.Message, e.Type, e.Code, e.Subcode, e.Status)
}

// Transient reports whether the failure is a throttling/availability condition
// worth retrying. Codes 1, 2, 4 and 17 are the Graph unknown/service/throttle
// families; 80007 is the WABA rate limit.
func (e *APIError) Transient() bool {
	if e.Status >= 500 || e.Status == 429 {
		return true
	}
	switch e.Code {
	case 1, 2, 4, 17, 80007:
		return true
	}
	return false
}

// AuthFailed reports whether the provider rejected the credential or its
// grants (OAuth errors, 401/403).
func (e *APIError) AuthFailed() bool {
	if e.Status == 401 || e.Status == 403 {
		return true
	}
	// Code 190 covers the invalid/expired token family, 200-299 the
	// permission family.
	return e.Code == 190 || (e.Code >= 200 && e.Code <= 299)
}

// NotFound reports whether the addressed provider resource does not exist.
func (e *APIError) NotFound() bool {
	return e.Status == 404 || e.Code == 803
}

// IsTransient reports whether err should be retried: a transient APIError, a
// deadline expiry, or a network-level failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsTimeout reports whether err is a bounded-wait expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
