// Package cache provides content-addressed storage for inference results.
//
// It provides SHA-256 key derivation over normalized input, a TTL-based
// Store interface with memory, Redis and SQL implementations, and TTL
// policies. Expired entries are invisible to Get even before a sweep
// physically removes them.
package cache
