package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/events"
	"github.com/substratehq/playground/internal/infrastructure/logging"
)

// Local is a sandbox instance backed by a directory on the host
// filesystem. It satisfies the Instance contract with real processes and a
// confined workspace tree.
type Local struct {
	id     string
	root   string
	fs     *localFS
	procs  *Registry
	logger *logging.Logger

	mu       sync.Mutex
	ready    []readySub
	nextSub  uint64
	tornDown bool
}

type readySub struct {
	id uint64
	fn ServerReadyFunc
}

// NewLocal creates a sandbox rooted at dir. An empty dir selects a fresh
// temp directory.
func NewLocal(dir string, bus *events.Bus, logger *logging.Logger) (*Local, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if dir == "" {
		tmp, err := os.MkdirTemp("", "playground-sandbox-")
		if err != nil {
			return nil, fmt.Errorf("failed to create sandbox root: %w", err)
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root %s: %w", dir, err)
	}

	return &Local{
		id:     uuid.New().String(),
		root:   dir,
		fs:     &localFS{root: dir},
		procs:  NewRegistry(bus, logger),
		logger: logger.Named("sandbox"),
	}, nil
}

// ID identifies the sandbox.
func (l *Local) ID() string { return l.id }

// Root returns the workspace directory on the host.
func (l *Local) Root() string { return l.root }

// FS exposes the sandbox filesystem.
func (l *Local) FS() FS { return l.fs }

// Processes returns the live process registry.
func (l *Local) Processes() *Registry { return l.procs }

// Mount writes a flattened file tree into the workspace, creating parent
// directories as needed. Existing files outside the tree are untouched.
func (l *Local) Mount(files map[string]string) error {
	// Deterministic order keeps partial-failure states reproducible.
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if dir := path.Dir(p); dir != "/" {
			if err := l.fs.MkdirAll(dir); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		if err := l.fs.WriteFile(p, files[p]); err != nil {
			return fmt.Errorf("failed to mount %s: %w", p, err)
		}
	}
	return nil
}

// Spawn starts a command inside the workspace. With opts.ProbePort set, the
// sandbox probes the port and fires the server-ready callbacks once the
// server answers.
func (l *Local) Spawn(ctx context.Context, cmd string, args []string, opts SpawnOptions) (*Process, error) {
	l.mu.Lock()
	down := l.tornDown
	l.mu.Unlock()
	if down {
		return nil, ErrNotBooted
	}

	cwd := l.root
	if opts.Cwd != "" {
		resolved, err := l.fs.resolve(opts.Cwd)
		if err != nil {
			return nil, err
		}
		cwd = resolved
	}

	var c *exec.Cmd
	if opts.Detach {
		c = exec.Command(cmd, args...)
	} else {
		c = exec.CommandContext(ctx, cmd, args...)
	}
	c.Dir = cwd
	c.Env = append(os.Environ(), opts.Env...)

	proc, err := l.procs.Start(c)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", cmd, err)
	}

	l.logger.Info("spawned process",
		zap.String("id", proc.ID),
		zap.String("cmd", cmd),
		zap.Strings("args", args),
	)

	if opts.ProbePort != 0 {
		// A detached server's probe must outlive the spawn context too;
		// waitReachable applies its own deadline.
		probeCtx := ctx
		if opts.Detach {
			probeCtx = context.Background()
		}
		go l.probeReady(probeCtx, proc, opts.ProbePort)
	}
	return proc, nil
}

// OnServerReady registers a ready callback and returns its unsubscribe.
func (l *Local) OnServerReady(fn ServerReadyFunc) func() {
	l.mu.Lock()
	l.nextSub++
	id := l.nextSub
	l.ready = append(l.ready, readySub{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, sub := range l.ready {
			if sub.id == id {
				l.ready = append(l.ready[:i:i], l.ready[i+1:]...)
				return
			}
		}
	}
}

func (l *Local) probeReady(ctx context.Context, proc *Process, port int) {
	url := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitReachable(ctx, url, proc.done); err != nil {
		l.logger.Warn("dev server never became reachable",
			zap.String("url", url), zap.Error(err))
		return
	}

	l.mu.Lock()
	subs := make([]readySub, len(l.ready))
	copy(subs, l.ready)
	l.mu.Unlock()

	for _, sub := range subs {
		sub.fn(port, url)
	}
}

// Export walks the workspace and returns its flattened file map, skipping
// entries whose name matches any ignore glob. fastwalk runs the callback
// concurrently, so the result map is built under a lock.
func (l *Local) Export(ignoreGlobs []string) (map[string]string, error) {
	files := make(map[string]string)
	var mu sync.Mutex

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, l.root, func(host string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if host != l.root {
			for _, glob := range ignoreGlobs {
				if ok, _ := doublestar.Match(glob, name); ok {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
			}
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, host)
		if err != nil {
			return nil
		}
		data, err := os.ReadFile(host)
		if err != nil {
			return nil
		}
		mu.Lock()
		files["/"+filepath.ToSlash(rel)] = string(data)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export workspace: %w", err)
	}
	return files, nil
}

// Teardown kills all processes and removes the workspace. Safe to call
// more than once.
func (l *Local) Teardown() error {
	l.mu.Lock()
	if l.tornDown {
		l.mu.Unlock()
		return nil
	}
	l.tornDown = true
	l.mu.Unlock()

	l.procs.KillAll()
	if err := os.RemoveAll(l.root); err != nil {
		return fmt.Errorf("failed to remove sandbox root: %w", err)
	}
	return nil
}

// localFS confines all operations to the workspace root.
type localFS struct {
	root string
}

// resolve maps an absolute sandbox path onto the host, rejecting escapes.
func (f *localFS) resolve(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	host := filepath.Join(f.root, filepath.FromSlash(cleaned))
	if host != f.root && !strings.HasPrefix(host, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes sandbox", p)
	}
	return host, nil
}

func (f *localFS) ReadFile(p string) (string, error) {
	host, err := f.resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(host)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", p, err)
	}
	return string(data), nil
}

func (f *localFS) WriteFile(p string, content string) error {
	host, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(host, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

func (f *localFS) ReadDir(p string) ([]DirEntry, error) {
	host, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(host)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (f *localFS) ReadDirNames(p string) ([]string, error) {
	entries, err := f.ReadDir(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

func (f *localFS) Remove(p string) error {
	host, err := f.resolve(p)
	if err != nil {
		return err
	}
	if host == f.root {
		return fmt.Errorf("refusing to remove sandbox root")
	}
	if err := os.RemoveAll(host); err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

func (f *localFS) MkdirAll(p string) error {
	host, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(host, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", p, err)
	}
	return nil
}

func (f *localFS) Exists(p string) (bool, error) {
	host, err := f.resolve(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(host); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return true, nil
}
