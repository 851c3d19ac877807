// Package cache implements the cache manager contract consumed by the cohort
// runner: per-fingerprint result lookup, at-most-one builder per fingerprint,
// explicit invalidation.
//
// A Coordinator owns the in-flight build registry and delegates persistence
// to a Store. Three stores are provided: MemoryStore (bounded LRU), FileStore
// (one JSON file per fingerprint, atomically replaced) and SQLStore (a single
// table in any database/sql database).
//
// The cache never evicts implicitly; staleness belongs to the store and to
// explicit Invalidate calls.
package cache
