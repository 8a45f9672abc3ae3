package engine

import "errors"

var (
	// ErrValidation marks malformed input, rejected before any I/O.
	ErrValidation = errors.New("engine: invalid input")

	// ErrMissingDependency is returned by New when a required dependency is nil.
	ErrMissingDependency = errors.New("engine: missing dependency")
)
