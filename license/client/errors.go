package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for license operations.
var (
	ErrLicenseNotFound  = errors.New("license not found")
	ErrLicenseInactive  = errors.New("license is not active")
	ErrMachineMismatch  = errors.New("license is bound to another device")
	ErrNoBillingAccount = errors.New("license has no billing account yet")
	ErrNoLicenseKey     = errors.New("no license key stored")
)

// Sentinel errors for the checkout wait.
var (
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	ErrCheckoutCanceled   = errors.New("checkout canceled")
	ErrCheckoutTimeout    = errors.New("checkout not completed in time")
)

// Sentinel errors for local state.
var (
	ErrStateNotFound = errors.New("license state file not found")
	ErrStateCorrupt  = errors.New("license state file is corrupt")
)

// ServerError represents an error response from the license server.
// The server returns errors in the format: {"error": "..."}.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// mapServerError converts a ServerError to a well-known sentinel error if possible.
// The returned error wraps both the sentinel error and the original ServerError
// so callers can use errors.Is() for sentinel checks and errors.As() for details.
func mapServerError(se *ServerError) error {
	var sentinel error
	switch se.StatusCode {
	case http.StatusNotFound:
		sentinel = ErrLicenseNotFound
	case http.StatusConflict:
		sentinel = ErrNoBillingAccount
	default:
		return se
	}
	return &mappedError{sentinel: sentinel, server: se}
}

// mappedError wraps a sentinel error with the original ServerError details.
type mappedError struct {
	sentinel error
	server   *ServerError
}

func (e *mappedError) Error() string {
	return e.sentinel.Error()
}

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) As(target any) bool {
	if t, ok := target.(**ServerError); ok {
		*t = e.server
		return true
	}
	return false
}

func (e *mappedError) Unwrap() error {
	return e.sentinel
}
