// Package api implements the HTTP and WebSocket surface of the overlay
// service.
//
// This package provides:
//   - REST endpoints for rendered values, blocking resolves through the
//     read cache, refresh and invalidation hooks, derived results and the
//     binding list
//   - a WebSocket hub that is the overlay's view binding: every rendered
//     item is kept in a snapshot and broadcast as a value.updated event
//   - Prometheus exposition on /metrics
//   - the middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. Health reports every component that is
// configured, and the read path works without either.
package api
