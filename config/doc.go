// Package config loads inferops configuration.
//
// Values come from defaults, an optional config file and environment
// variables, in increasing precedence. Environment variables use the
// prefix INFEROPS and replace dots with underscores, so "cache.backend"
// is read from INFEROPS_CACHE_BACKEND.
//
// The upstream API key is resolved through package secret. By default it
// is read from OPENAI_API_KEY; a missing key is ErrMissingCredentials.
package config
