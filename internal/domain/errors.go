// Package domain holds the error taxonomy shared by every messaging
// component. Callers branch on the five base kinds with errors.Is; the
// derived sentinels carry the specific failure for diagnostics.
package domain

import (
	"errors"
	"fmt"
)

// Base kinds. Terminal kinds (forbidden, not found, invalid reference,
// validation) must never be retried; transient store failures may be
// retried by the caller on read paths.
var (
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrInvalidReference = errors.New("invalid reference")
	ErrValidation       = errors.New("validation failed")
	ErrTransientStore   = errors.New("store unavailable")
)

// Derived sentinels. Each wraps its base kind so errors.Is matches both.
var (
	ErrInvalidParticipants = fmt.Errorf("%w: a conversation needs at least two unique participants", ErrValidation)
	ErrEmptyContent        = fmt.Errorf("%w: message content is empty", ErrValidation)
	ErrContentTooLong      = fmt.Errorf("%w: message content exceeds the maximum length", ErrValidation)
	ErrInvalidReply        = fmt.Errorf("%w: reply target does not belong to this conversation", ErrInvalidReference)
	ErrStaleReadMarker     = fmt.Errorf("%w: read marker would move backward", ErrInvalidReference)
)

// Transient wraps a backing-store failure so it is distinguishable from
// the terminal kinds at the API boundary.
func Transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransientStore, op, err)
}

// IsTerminal reports whether err is one of the no-retry kinds.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrValidation)
}
