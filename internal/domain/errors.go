package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error kinds surfaced by the client.
var (
	// ErrInvalidInput indicates a malformed or missing identifier list,
	// or an identifier count over the daily quota.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredential indicates a missing, malformed or placeholder contact address.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInvalidArgument indicates an unrecognized value for an enum-valued option.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTransport indicates a network-level failure: connection refused,
	// timeout or a malformed request.
	ErrTransport = errors.New("transport failure")

	// ErrRemoteRejected indicates the remote service answered with a non-2xx status.
	ErrRemoteRejected = errors.New("remote rejection")

	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrParse indicates that a response body is not valid JSON.
	ErrParse = errors.New("parse failure")
)

// ValidationError describes a caller mistake for a specific field.
// Kind is one of ErrInvalidInput, ErrInvalidCredential or ErrInvalidArgument.
type ValidationError struct {
	Kind    error
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
}

// Unwrap returns the error kind for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RemoteRejectionError provides details about a non-2xx answer from the remote service.
type RemoteRejectionError struct {
	Source     string
	Identifier string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *RemoteRejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error for %q (status %d)", e.Source, e.Identifier, e.StatusCode)
	}
	return fmt.Sprintf("%s API error for %q (status %d): %s", e.Source, e.Identifier, e.StatusCode, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RemoteRejectionError) Unwrap() error {
	return ErrRemoteRejected
}

// TransportError wraps a network-level failure for a single identifier.
type TransportError struct {
	Identifier string
	Cause      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("request for %q failed: %v", e.Identifier, e.Cause)
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches
// ErrTransport as well as context.DeadlineExceeded and friends.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Cause}
}

// ParseError reports a response body that could not be decoded as JSON.
type ParseError struct {
	Identifier string
	Cause      error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("response for %q is not valid JSON: %v", e.Identifier, e.Cause)
}

// Unwrap exposes both the sentinel and the decoder error.
func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Cause}
}

// NewValidationError creates a new ValidationError of the given kind.
func NewValidationError(kind error, field, message string) *ValidationError {
	return &ValidationError{
		Kind:    kind,
		Field:   field,
		Message: message,
	}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewRemoteRejectionError creates a new RemoteRejectionError.
func NewRemoteRejectionError(source, identifier string, statusCode int, message string) *RemoteRejectionError {
	return &RemoteRejectionError{
		Source:     source,
		Identifier: identifier,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewTransportError creates a new TransportError.
func NewTransportError(identifier string, cause error) *TransportError {
	return &TransportError{
		Identifier: identifier,
		Cause:      cause,
	}
}

// NewParseError creates a new ParseError.
func NewParseError(identifier string, cause error) *ParseError {
	return &ParseError{
		Identifier: identifier,
		Cause:      cause,
	}
}

// IsValidationError reports whether err is a caller mistake that must be
// raised regardless of the selected error mode.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrInvalidArgument)
}

// IsServiceError reports whether err is a transient service condition that
// the "ignore" error mode may swallow.
func IsServiceError(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrRemoteRejected) ||
		errors.Is(err, ErrParse)
}
