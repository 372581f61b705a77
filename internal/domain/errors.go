package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a declared allowlist file that does not exist. The
// desired state must be knowable before any remote call is attempted, so
// callers treat this as fatal.
var ErrNotFound = errors.New("allowlist file not found")

// ErrAlreadyChanged signals that the manager's initial-password flow has
// already completed. It is a skip signal, not a failure.
var ErrAlreadyChanged = errors.New("initial password already changed")

// InvalidPackageNameError reports an allowlist entry that cannot be safely
// embedded in a selector expression.
type InvalidPackageNameError struct {
	Ecosystem string
	Name      string
}

func (e *InvalidPackageNameError) Error() string {
	return fmt.Sprintf("invalid package name %q for ecosystem %s", e.Name, e.Ecosystem)
}

// AuthenticationError reports a 401/403 from the manager.
type AuthenticationError struct {
	StatusCode int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication rejected by manager (status %d)", e.StatusCode)
}

// RemoteUnavailableError reports a transport failure or server error that
// makes the manager's state unknowable. Safe to retry on a later trigger.
type RemoteUnavailableError struct {
	Op  string
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("manager unavailable during %s: %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// ValidationError reports a request body the manager rejected. Retrying the
// identical request would fail identically, so callers never retry these.
type ValidationError struct {
	Resource   string
	StatusCode int
	Body       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manager rejected %s (status %d): %s", e.Resource, e.StatusCode, e.Body)
}
