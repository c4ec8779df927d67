// Package common defines shared constants and sentinel errors used across
// client and server layers of Souzou. Callers should use errors.Is to
// match these values.
package common

import "errors"

// AuthHeaderName is the HTTP header that carries the signed access token.
const AuthHeaderName = "Authorization"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Local-edit validation errors.
	ErrMissingTitle  = errors.New("missing title")
	ErrUnknownParent = errors.New("unknown parent")
	ErrDeletedParent = errors.New("parent is deleted")
	ErrCycle         = errors.New("reparenting would create a cycle")

	// Sync errors.
	ErrRevConflict = errors.New("revision conflict")
	ErrUnavailable = errors.New("remote unavailable")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)
