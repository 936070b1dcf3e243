package apperror

import "fmt"

// ValidationError refuses an operation locally before any remote write is
// attempted (empty or duplicate name, malformed PIN).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RemoteWriteError wraps a store write rejection or timeout. Autosave treats
// it as transient (next debounce cycle is the retry path); explicit user
// actions surface it as a blocking error.
type RemoteWriteError struct {
	Path string
	Err  error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("remote write to %s failed: %v", e.Path, e.Err)
}

func (e *RemoteWriteError) Unwrap() error {
	return e.Err
}

// RemoteSubscribeError wraps a failed or dropped feed subscription.
type RemoteSubscribeError struct {
	Path string
	Err  error
}

func (e *RemoteSubscribeError) Error() string {
	return fmt.Sprintf("subscription to %s failed: %v", e.Path, e.Err)
}

func (e *RemoteSubscribeError) Unwrap() error {
	return e.Err
}

// AccessDeniedError signals a wrong PIN or master password. The challenge
// stays open and retryable; there is no attempt counter.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return "access denied: " + e.Reason
}

func NewAccessDenied(reason string) *AccessDeniedError {
	return &AccessDeniedError{Reason: reason}
}
