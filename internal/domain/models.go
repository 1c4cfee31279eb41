// Package domain provides the shared types and error kinds of the Unpaywall client.
package domain

import (
	"fmt"
	"strings"
)

// ErrorMode selects between propagating service failures to the caller and
// swallowing them with a warning.
type ErrorMode string

const (
	ErrorModeRaise  ErrorMode = "raise"
	ErrorModeIgnore ErrorMode = "ignore"
)

// Validate returns an ErrInvalidArgument error for unrecognized modes.
func (m ErrorMode) Validate() error {
	switch m {
	case ErrorModeRaise, ErrorModeIgnore:
		return nil
	default:
		return NewValidationError(ErrInvalidArgument, "errors",
			fmt.Sprintf("the argument errors only accepts the values %q and %q, got %q", ErrorModeRaise, ErrorModeIgnore, string(m)))
	}
}

// Ignore reports whether service failures should be swallowed.
func (m ErrorMode) Ignore() bool {
	return m == ErrorModeIgnore
}

// ParseErrorMode converts a string to an ErrorMode. Matching is case-insensitive.
func ParseErrorMode(s string) (ErrorMode, error) {
	m := ErrorMode(strings.ToLower(strings.TrimSpace(s)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// Format selects how records are flattened into table rows.
type Format string

const (
	// FormatRaw maps top-level fields directly to columns.
	FormatRaw Format = "raw"
	// FormatExtended additionally explodes location and author lists into rows.
	FormatExtended Format = "extended"
)

// Validate returns an ErrInvalidArgument error for unrecognized formats.
func (f Format) Validate() error {
	switch f {
	case FormatRaw, FormatExtended:
		return nil
	default:
		return NewValidationError(ErrInvalidArgument, "format",
			fmt.Sprintf("the argument format only accepts the values %q and %q, got %q", FormatRaw, FormatExtended, string(f)))
	}
}

// ParseFormat converts a string to a Format. Matching is case-insensitive.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if err := f.Validate(); err != nil {
		return "", err
	}
	return f, nil
}

// Backend selects where records come from.
type Backend string

const (
	// BackendCache serves records through the persistent response cache.
	BackendCache Backend = "cache"
	// BackendRemote always fetches from the remote service, bypassing the cache.
	BackendRemote Backend = "remote"
	// BackendSnapshot reads records from a local snapshot dump, bypassing the cache.
	BackendSnapshot Backend = "snapshot"
)

// ParseBackend converts a string to a Backend.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	switch b {
	case BackendCache, BackendRemote, BackendSnapshot:
		return b, nil
	default:
		return "", NewValidationError(ErrInvalidArgument, "backend",
			fmt.Sprintf("the argument backend only accepts the values %q, %q and %q, got %q", BackendCache, BackendRemote, BackendSnapshot, s))
	}
}
