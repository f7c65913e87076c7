// Package relayerr defines the error taxonomy shared by the control plane and
// the session handlers.
package relayerr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrNotAvailable    = errors.New("not available")
	ErrInvalidState    = errors.New("invalid state")
)

// Code values reported to clients.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeNotAvailable    = "not_available"
	CodeInvalidState    = "invalid_state"
	CodeInternal        = "internal"
)

// New wraps kind with a formatted message.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Code maps err onto its taxonomy code, CodeInternal if it has none.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNotAvailable):
		return CodeNotAvailable
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	}
	return CodeInternal
}
