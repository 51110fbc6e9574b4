// Package types defines the shared Go types produced by the distribution
// engine and consumed by the API, cache and WebSocket layers. These are the
// canonical in-memory representations of an account's activity profile,
// and their JSON tags are the wire format served over HTTP.
package types
