package secret

import "errors"

var (
	// ErrMissingEnv is returned when ${VAR} names an unset variable.
	ErrMissingEnv = errors.New("secret: missing environment variable")

	// ErrUnknownProvider is returned for a reference to an unregistered provider.
	ErrUnknownProvider = errors.New("secret: unknown provider")

	// ErrInvalidRef is returned for a malformed secret reference.
	ErrInvalidRef = errors.New("secret: invalid reference")

	// ErrEmptySecret is returned when a provider resolves to an empty value.
	ErrEmptySecret = errors.New("secret: empty value")
)
