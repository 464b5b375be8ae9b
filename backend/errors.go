package backend

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned when a call needs a signed-in user and none is present.
var ErrNoSession = errors.New("auth session missing")

// ErrProfileNotFound is returned when the profiles table has no visible row for the user.
var ErrProfileNotFound = errors.New("profile not found")

// Error is a rejection reported by the backend itself, as opposed to a
// transport failure. Message is the backend's own (English) text.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %s (status %d, code %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("backend: %s (status %d)", e.Message, e.Status)
}

// AsError unwraps err into a backend rejection. ok is false for transport
// and other unexpected failures.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
