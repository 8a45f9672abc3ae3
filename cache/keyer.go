package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// KeyOptions lists the option keys that take part in key derivation.
// Anything else (timestamps, request IDs, tracing headers) is ignored so
// that volatile fields never split the cache.
var KeyOptions = []string{
	"model",
	"language",
	"analysis_type",
	"temperature",
	"max_tokens",
	"schema_version",
}

// Keyer derives deterministic cache keys from analysis input.
//
// Contract:
//   - Determinism: same logical input must produce the same key, regardless
//     of map iteration order, letter case or whitespace layout.
//   - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key derives a cache key from text, its context tag and options.
	Key(text, cacheContext string, options map[string]any) (string, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct {
	allowed map[string]struct{}
}

// NewDefaultKeyer creates a keyer that includes only the allowed option
// keys. With no arguments KeyOptions is used.
func NewDefaultKeyer(allowedOptions ...string) *DefaultKeyer {
	if len(allowedOptions) == 0 {
		allowedOptions = KeyOptions
	}
	allowed := make(map[string]struct{}, len(allowedOptions))
	for _, k := range allowedOptions {
		allowed[k] = struct{}{}
	}
	return &DefaultKeyer{allowed: allowed}
}

var defaultKeyer = NewDefaultKeyer()

// DeriveKey derives a key with the default option whitelist.
func DeriveKey(text, cacheContext string, options map[string]any) (string, error) {
	return defaultKeyer.Key(text, cacheContext, options)
}

// Key returns the hex SHA-256 of the canonical form of
// {context, options (whitelisted), normalized text}.
func (k *DefaultKeyer) Key(text, cacheContext string, options map[string]any) (string, error) {
	filtered := make(map[string]any, len(options))
	for name, v := range options {
		if _, ok := k.allowed[name]; ok {
			filtered[name] = v
		}
	}

	canonical, err := canonicalize(map[string]any{
		"context": cacheContext,
		"options": filtered,
		"text":    Normalize(text),
	})
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize input: %w", err)
	}

	hash := sha256.Sum256(canonical)
	return hex.EncodeToString(hash[:]), nil
}

// Normalize trims, lower-cases and collapses internal whitespace runs.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

var _ Keyer = (*DefaultKeyer)(nil)
