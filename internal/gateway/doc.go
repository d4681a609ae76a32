// Package gateway orchestrates the tandem server components.
//
// # Overview
//
// The gateway owns every long-lived component: the SQLite store, the thread
// registry and guard, the message service, the broadcaster, the session
// controller, the attachment backend, the presence tracker, the optional
// Kafka event sink and the HTTP server.
//
// # HTTP API
//
//   - GET /ws/threads/{id} - WebSocket session attached to a thread
//   - GET /api/threads - Threads the caller participates in, most recent first
//   - POST /api/threads - Get or create the thread with another participant
//   - GET /api/threads/{id}/messages - History; marks the caller's unread messages read
//   - POST /api/threads/{id}/attachments - Multipart upload, broadcast as message_created
//   - GET /api/threads/{id}/presence - Actors with a live session on the thread
//   - GET /health, GET /health/ready - Liveness and store readiness
//   - GET <metrics.path> - Prometheus metrics when enabled
//
// API routes and WebSocket upgrades authenticate with a JWT in the
// Authorization header or the token query parameter. Thread-scoped routes
// answer 403 "access denied" both for unknown threads and for threads the
// caller does not belong to.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
//
// Shutdown closes the broadcaster first so live sessions end with a
// "going away" status, waits for their cleanup, then closes the sink,
// presence tracker and store.
package gateway
