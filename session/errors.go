package session

import (
	"context"
	"errors"
)

// Session error taxonomy. Callers wrap these with fmt.Errorf("...: %w") and
// test with errors.Is.
var (
	ErrNotFound         = errors.New("session not found")
	ErrExpired          = errors.New("session expired")
	ErrInvalidState     = errors.New("invalid session state")
	ErrParseFailure     = errors.New("malformed session payload")
	ErrUnauthenticated  = errors.New("missing credential")
	ErrTransportFailure = errors.New("transport failure")
	ErrInvalidInput     = errors.New("invalid input")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrNotFound, "That session code does not exist."},
	{ErrExpired, "This session has expired."},
	{ErrInvalidState, "The session is not in a state that allows this action."},
	{ErrParseFailure, "The session data could not be read."},
	{ErrUnauthenticated, "You need to sign in first."},
	{ErrTransportFailure, "Could not reach the session server. Please try again."},
	{ErrInvalidInput, "Please check the code and name you entered."},
}

// Reason returns a user-facing message for err. Each taxonomy entry has its
// own message so the presentation layer can be specific.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "Something went wrong."
}

// IsRetryable reports whether err may succeed on retry. A timeout is not proof
// that the operation did not happen server-side.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransportFailure) ||
		errors.Is(err, context.DeadlineExceeded)
}
