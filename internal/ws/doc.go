// Package ws implements the WebSocket hub that streams cached profiles.
//
// Hub manages a set of connected clients and broadcasts every fresh profile
// to all of them on a configurable interval (server.broadcast_interval).
//
// New(store, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker; it blocks until ctx is
// cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// profiles immediately on connect, then streams updates on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "profiles",
//	  "data":  [ /* same schema as GET /api/v1/profiles */ ]
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The hub is mounted at /ws/stream by the API router.
package ws
