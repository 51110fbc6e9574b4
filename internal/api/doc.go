// Package api implements the HTTP surface of postpulse.
//
// New(Config) returns a chi router that serves:
//
//	GET /stats?handle=           profile for handle, or the default account
//	GET /api/v1/stats/{account}  profile for account
//	GET /api/v1/profiles         every cached profile within the TTL
//	GET /api/v1/health           liveness plus cache and tracking counts
//	GET /metrics                 Prometheus exposition (when configured)
//	GET /ws/stream               profile broadcast hub (when configured)
//
// Profile endpoints answer from the cache when the entry is fresh and
// compute otherwise; ?refresh=true forces a computation. The X-Cache
// response header is HIT or MISS.
//
// Errors are {"error": "..."}: 400 for a malformed handle, 404 for an
// unknown account, 502 when the timeline could not be read, 401 for a
// missing or wrong API key. Health and metrics are never behind the key.
package api
