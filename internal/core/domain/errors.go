package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks at the service boundary.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrNoLocationData = errors.New("location not found")
	ErrStore          = errors.New("store failure")
	ErrUnauthorized   = errors.New("unauthorized")
)

// ValidationError rejects a malformed or out-of-range input before any store
// is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity (usually a profile).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NoLocationDataError reports a profile with no live geo index entry.
type NoLocationDataError struct {
	UserID string
}

func (e *NoLocationDataError) Error() string {
	return fmt.Sprintf("location not found for user %q", e.UserID)
}

func (e *NoLocationDataError) Is(target error) bool { return target == ErrNoLocationData }

// StoreError wraps a failed call to the geo index or the profile store.
// It is never retried inside the subsystem.
type StoreError struct {
	Store string
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// Store names used in StoreError.
const (
	StoreGeoIndex = "geo index"
	StoreProfile  = "profile"
	StoreSession  = "session"
)
