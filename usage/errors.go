package usage

import "errors"

var (
	// ErrClosed is returned by Close when the accountant was already closed.
	ErrClosed = errors.New("usage: accountant closed")

	// ErrNilSink is returned when an Accountant is built without a sink.
	ErrNilSink = errors.New("usage: sink is nil")

	// ErrSinkUnavailable wraps write failures from a sink.
	ErrSinkUnavailable = errors.New("usage: sink unavailable")
)
