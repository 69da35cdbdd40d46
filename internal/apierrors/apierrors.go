// Package apierrors defines the error kinds surfaced across the
// replication core and the HTTP transport, grounded on the teacher's
// client.APIError (internal/client/client.go) but generalized into one
// shared registry both server and client consult — one sentinel per kind
// instead of one bespoke struct per endpoint.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the error categories in spec §7.
type Kind string

const (
	KindRevisionNotFound   Kind = "REVISION_NOT_FOUND"
	KindEntryNotFound      Kind = "ENTRY_NOT_FOUND"
	KindRepositoryNotFound Kind = "REPOSITORY_NOT_FOUND"
	KindProjectNotFound    Kind = "PROJECT_NOT_FOUND"
	KindChangeConflict     Kind = "CHANGE_CONFLICT"
	KindRedundantChange    Kind = "REDUNDANT_CHANGE"
	KindTooManyRequests    Kind = "TOO_MANY_REQUESTS"
	KindReadOnly           Kind = "READ_ONLY"
	KindShuttingDown       Kind = "SHUTTING_DOWN"
	KindCancelled          Kind = "CANCELLED"
)

var httpStatus = map[Kind]int{
	KindRevisionNotFound:   http.StatusNotFound,
	KindEntryNotFound:      http.StatusNotFound,
	KindRepositoryNotFound: http.StatusNotFound,
	KindProjectNotFound:    http.StatusNotFound,
	KindChangeConflict:     http.StatusConflict,
	KindRedundantChange:    http.StatusConflict,
	KindTooManyRequests:    http.StatusTooManyRequests,
	KindReadOnly:           http.StatusServiceUnavailable,
	KindShuttingDown:       http.StatusServiceUnavailable,
	KindCancelled:          http.StatusRequestTimeout,
}

// Error is the concrete error type for every Kind above. Callers compare
// against the sentinel values (or use errors.Is) rather than inspecting
// fields directly, except TooManyRequests's ExecutionPath/PermitsPerSecond
// which carry extra context the spec requires.
type Error struct {
	Kind              Kind
	Message           string
	ExecutionPath     string
	PermitsPerSecond  int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Is makes errors.Is(err, apierrors.RevisionNotFound) etc. work by
// comparing Kind, ignoring the message and extra fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// HTTPStatus returns the status code the transport should use for err, or
// 500 if err is not (or does not wrap) an *Error.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if s, ok := httpStatus[e.Kind]; ok {
			return s
		}
	}
	return http.StatusInternalServerError
}

// Sentinel values for errors.Is comparisons; New/NewX below build errors
// carrying a message, these are zero-message placeholders for matching.
var (
	RevisionNotFound   = &Error{Kind: KindRevisionNotFound}
	EntryNotFound      = &Error{Kind: KindEntryNotFound}
	RepositoryNotFound = &Error{Kind: KindRepositoryNotFound}
	ProjectNotFound    = &Error{Kind: KindProjectNotFound}
	ChangeConflict     = &Error{Kind: KindChangeConflict}
	RedundantChange    = &Error{Kind: KindRedundantChange}
	ReadOnly           = &Error{Kind: KindReadOnly}
	ShuttingDown       = &Error{Kind: KindShuttingDown}
	Cancelled          = &Error{Kind: KindCancelled}
)

// Newf builds an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewTooManyRequests builds the one kind that carries structured fields
// beyond a message, per spec §7.
func NewTooManyRequests(executionPath string, permitsPerSecond int) *Error {
	return &Error{
		Kind:             KindTooManyRequests,
		ExecutionPath:    executionPath,
		PermitsPerSecond: permitsPerSecond,
		Message:          fmt.Sprintf("write quota exceeded on %s (%d permits/s)", executionPath, permitsPerSecond),
	}
}

// IsTransientForRetry reports whether err is the one kind the lag-tolerant
// client proxy (C6) is permitted to retry.
func IsTransientForRetry(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRevisionNotFound
}
