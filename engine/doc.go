// Package engine exposes the inference operations: Analyze, AnalyzeBatch,
// CacheStatistics and PurgeExpired.
//
// An Engine is built once from an explicit Deps container and shared. A call
// derives a content key, serves it from the cache when possible, and
// otherwise invokes the upstream provider under an advisory stampede lock
// before caching the result and recording usage in the background.
//
// Cache and lock failures never fail a call: they are logged and the call
// degrades to a miss or proceeds without the lock. Circuit, timeout, parse
// and upstream errors are returned to the caller; in a batch they become
// that item's failure.
package engine
