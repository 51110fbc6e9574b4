// Package store caches computed distribution profiles in memory, keyed by
// case-folded account handle. Entries older than the TTL are not served and
// are removed by the eviction loop. Nothing is persisted.
package store
