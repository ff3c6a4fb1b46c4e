// Package ws provides WebSocket streaming for the editor frontend.
//
// Every event published on the engine's bus is forwarded to connected
// clients as a {type, payload} frame, so the frontend observes status
// transitions, file changes, preview readiness, and process output in
// real time.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//   - editor_state: Report open tabs and active file for snapshots
//   - write_file: Write one file into the sandbox
//
// Message Types (Server → Client):
//   - connected: Initial status on connect
//   - status:change, file:change, files:update, preview:ready,
//     console:message, process:output, error: Bus events
package ws
