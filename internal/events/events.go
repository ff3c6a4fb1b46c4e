package events

import "time"

// Event identifies a broadcast channel on the bus.
type Event string

// Events emitted by the orchestration engine and sandbox adapter.
const (
	StatusChange   Event = "status:change"
	FileChange     Event = "file:change"
	FilesUpdate    Event = "files:update"
	PreviewReady   Event = "preview:ready"
	ConsoleMessage Event = "console:message"
	ProcessOutput  Event = "process:output"
	Error          Event = "error"
)

// FileChangePayload carries a single file mutation.
type FileChangePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PreviewReadyPayload carries the dev-server preview address.
type PreviewReadyPayload struct {
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// ConsolePayload carries a console line forwarded from the sandbox.
type ConsolePayload struct {
	Type      string    `json:"type"` // "log", "warn", "error"
	Args      []string  `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}

// ProcessOutputPayload carries raw process output.
type ProcessOutputPayload struct {
	ProcessID string    `json:"process_id"`
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
