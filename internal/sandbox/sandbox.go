package sandbox

import (
	"context"
	"errors"
)

// ErrNotBooted is returned by operations that require a live sandbox.
var ErrNotBooted = errors.New("sandbox is not booted")

// ServerReadyFunc receives the dev server address once it answers requests.
type ServerReadyFunc func(port int, url string)

// Instance is the sandbox runtime contract: an isolated environment hosting
// a mounted file tree, able to spawn processes and report when a spawned
// dev server becomes reachable.
type Instance interface {
	// ID identifies this sandbox instance.
	ID() string

	// Mount writes a flattened file tree into the sandbox workspace.
	Mount(files map[string]string) error

	// FS exposes the sandbox filesystem.
	FS() FS

	// Spawn starts a process inside the sandbox.
	Spawn(ctx context.Context, cmd string, args []string, opts SpawnOptions) (*Process, error)

	// OnServerReady registers a callback fired when a spawned server
	// answers its first request. Returns an unsubscribe function.
	OnServerReady(fn ServerReadyFunc) func()

	// Processes returns the registry of live processes.
	Processes() *Registry

	// Teardown stops all processes and releases the sandbox. The instance
	// is unusable afterwards.
	Teardown() error
}

// FS is the sandbox filesystem surface. All paths are absolute and rooted
// at the sandbox workspace.
type FS interface {
	ReadFile(path string) (string, error)
	WriteFile(path string, content string) error
	ReadDir(path string) ([]DirEntry, error)
	ReadDirNames(path string) ([]string, error)
	Remove(path string) error
	MkdirAll(path string) error
	Exists(path string) (bool, error)
}

// DirEntry describes one directory listing entry.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

// SpawnOptions control process creation.
type SpawnOptions struct {
	// Cwd is the working directory relative to the sandbox workspace
	// root; empty means the root itself.
	Cwd string

	// Env holds extra environment variables as KEY=VALUE pairs.
	Env []string

	// ProbePort, when non-zero, makes the sandbox probe
	// http://127.0.0.1:{port} after spawning and fire the server-ready
	// callbacks on the first successful response.
	ProbePort int

	// Detach decouples the process lifetime from the spawn context. A
	// detached process outlives the request that started it and dies
	// only by Kill, KillAll, or Teardown; bounded work like an installer
	// run leaves this unset so cancelling the context kills it.
	Detach bool
}
