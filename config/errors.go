package config

import "errors"

var (
	// ErrMissingCredentials is returned when the upstream API key cannot be
	// resolved. It is fatal at startup.
	ErrMissingCredentials = errors.New("config: missing upstream credentials")

	// ErrInvalidConfig is returned when a value fails validation.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)
