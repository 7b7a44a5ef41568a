package common

import (
	"github.com/hermeznetwork/tracerr"
)

// Wrap attaches the stack trace of the caller to err.  Wrapping an already
// wrapped error returns it unchanged, and wrapping nil returns nil.
func Wrap(err error) error {
	return tracerr.Wrap(err)
}

// Unwrap returns the original error behind a wrapped error
func Unwrap(err error) error {
	return tracerr.Unwrap(err)
}
