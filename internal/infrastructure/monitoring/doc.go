// Package monitoring provides Prometheus metrics for the playground
// engine: HTTP request metrics, template activation outcomes, install gate
// decisions, snapshot traffic, and WebSocket connection counts.
//
// Each Metrics instance owns its own registry, so tests can create as many
// collectors as they need without registration collisions.
package monitoring
