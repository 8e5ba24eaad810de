package apperr

import (
	"errors"
	"fmt"
)

// ErrInvalid is returned when the input fails domain validation.
var ErrInvalid = errors.New("invalid input")

// ErrConflict indicates a state conflict (HTTP 409).
var ErrConflict = errors.New("conflict")

// ErrNotFound indicates that the requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrStale marks an update whose timestamp is not newer than the stored one.
var ErrStale = errors.New("stale update")

// ErrDuplicateSession is returned when a session id is registered twice.
var ErrDuplicateSession = errors.New("duplicate session")

// ErrNoCourierAvailable means the matcher found no live, available courier.
var ErrNoCourierAvailable = errors.New("no courier available")

// ErrCourierUnreachable means the courier has no live session to deliver to.
var ErrCourierUnreachable = errors.New("courier unreachable")

// ErrOrderClosed is returned for operations on a terminally closed order.
var ErrOrderClosed = errors.New("order closed")

// ErrUnauthorized is returned when the identity token is missing or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// Code maps an error to the stable machine-readable code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrStale):
		return "invalid_input"
	case errors.Is(err, ErrNoCourierAvailable):
		return "no_courier_available"
	case errors.Is(err, ErrCourierUnreachable):
		return "courier_unreachable"
	case errors.Is(err, ErrOrderClosed):
		return "order_closed"
	case errors.Is(err, ErrDuplicateSession):
		return "duplicate_session"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}

var byCode = map[string]error{
	"invalid_input":        ErrInvalid,
	"no_courier_available": ErrNoCourierAvailable,
	"courier_unreachable":  ErrCourierUnreachable,
	"order_closed":         ErrOrderClosed,
	"duplicate_session":    ErrDuplicateSession,
	"conflict":             ErrConflict,
	"not_found":            ErrNotFound,
	"unauthorized":         ErrUnauthorized,
}

// FromCode rebuilds an error from a code produced by Code, keeping the
// server message. Unknown codes yield a plain error.
func FromCode(code, msg string) error {
	if code == "" {
		return nil
	}
	if msg == "" {
		msg = code
	}
	if sentinel, ok := byCode[code]; ok {
		return fmt.Errorf("%s: %w", msg, sentinel)
	}
	return fmt.Errorf("%s (%s)", msg, code)
}
