// Package main is the entry point for the playground server.
//
// The server hosts a single live sandbox and lets the editor frontend
// activate project templates, switch between them without tearing the
// sandbox down, edit files, and persist session snapshots.
//
// The server provides:
//   - REST API for template activation, switching, and file access
//   - WebSocket streaming of status, file, and process events
//   - Session snapshot persistence with periodic auto-save
//   - Rate limiting and Prometheus metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -sandbox-root /var/lib/playground
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
