package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/deps"
	"github.com/substratehq/playground/internal/events"
	"github.com/substratehq/playground/internal/fscache"
	"github.com/substratehq/playground/internal/infrastructure/logging"
	"github.com/substratehq/playground/internal/infrastructure/monitoring"
	"github.com/substratehq/playground/internal/sandbox"
	"github.com/substratehq/playground/internal/snapshot"
	"github.com/substratehq/playground/internal/template"
)

// Config controls the orchestration engine.
type Config struct {
	// InstallDir is the dependency install directory name, excluded from
	// clears, diffs, and snapshots.
	InstallDir string
	// IgnoreGlobs names entries excluded from snapshots and tree
	// listings; InstallDir is always included.
	IgnoreGlobs []string
	// DevPort is the port the dev server is expected to listen on.
	DevPort int
	// TemplateTTL and TemplateCacheSize bound the template cache.
	TemplateTTL       time.Duration
	TemplateCacheSize int
	// TreeDepthLimit caps file tree recursion.
	TreeDepthLimit int
	// DebounceWindow collapses rapid writes into one change event.
	DebounceWindow time.Duration
	// SettleDelay postpones arming auto-save after an activation.
	SettleDelay time.Duration
	// AutoSave enables periodic snapshot persistence.
	AutoSave         bool
	AutoSaveInterval time.Duration
	// HashDevDeps includes devDependencies in the install-skip hash.
	HashDevDeps bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		InstallDir:        "node_modules",
		DevPort:           3000,
		TemplateTTL:       template.DefaultCacheTTL,
		TemplateCacheSize: template.DefaultCacheSize,
		TreeDepthLimit:    fscache.DefaultTreeDepth,
		DebounceWindow:    fscache.DefaultDebounce,
		SettleDelay:       2 * time.Second,
		AutoSave:          true,
		AutoSaveInterval:  30 * time.Second,
		HashDevDeps:       true,
	}
}

// Engine is the sole entry point of the orchestration core. It owns the
// status state machine, sequences boot, mount, install, and preview, and
// performs restart-free template switching against a live sandbox.
//
// At most one activation (Initialize or SwitchTemplate) runs at a time; a
// second call queues behind the first rather than superseding it.
type Engine struct {
	cfg       Config
	bus       *events.Bus
	booter    *sandbox.Booter
	store     *snapshot.Store
	templates *template.Cache
	gate      *deps.Gate
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	// newRunner builds the installer runner for an instance. Overridable
	// in tests.
	newRunner func(sandbox.Instance) deps.Runner

	// activation serializes Initialize, SwitchTemplate, and Cleanup.
	activation sync.Mutex

	mu            sync.RWMutex
	status        Status
	current       *template.Template
	mounted       map[string]string
	files         *fscache.Cache
	devProc       *sandbox.Process
	previewURL    string
	openTabs      []string
	activeFile    string
	readyInstance string

	autosave    *snapshot.AutoSaver
	settleTimer *time.Timer
}

// New creates an engine. The booter and snapshot store are injected so
// tests can supply fakes.
func New(cfg Config, bus *events.Bus, booter *sandbox.Booter, store *snapshot.Store, logger *logging.Logger) *Engine {
	if cfg.InstallDir == "" {
		cfg.InstallDir = "node_modules"
	}
	if cfg.DevPort == 0 {
		cfg.DevPort = 3000
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	gateCfg := deps.DefaultConfig()
	gateCfg.InstallDir = cfg.InstallDir
	gateCfg.HashDevDependencies = cfg.HashDevDeps

	return &Engine{
		cfg:       cfg,
		bus:       bus,
		booter:    booter,
		store:     store,
		templates: template.NewCache(cfg.TemplateTTL, cfg.TemplateCacheSize),
		gate:      deps.NewGate(gateCfg, logger),
		logger:    logger.Named("engine"),
		status:    StatusInitializing,
		newRunner: func(inst sandbox.Instance) deps.Runner {
			return deps.SandboxRunner{Instance: inst}
		},
	}
}

// WithMetrics attaches a metrics collector.
func (e *Engine) WithMetrics(m *monitoring.Metrics) *Engine {
	e.metrics = m
	return e
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// CurrentTemplate returns the active template, or nil before the first
// successful activation.
func (e *Engine) CurrentTemplate() *template.Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// PreviewURL returns the dev server URL once the server reported ready.
func (e *Engine) PreviewURL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.previewURL
}

// EditorState returns the open tabs and active file noted for the editor
// surface, typically restored from a snapshot.
func (e *Engine) EditorState() ([]string, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tabs := make([]string, len(e.openTabs))
	copy(tabs, e.openTabs)
	return tabs, e.activeFile
}

// SetEditorState records the editor surface's open tabs and active file so
// the next snapshot captures them.
func (e *Engine) SetEditorState(openTabs []string, activeFile string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openTabs = append([]string(nil), openTabs...)
	e.activeFile = activeFile
}

// Initialize boots (or reuses) the sandbox, mounts the template, installs
// dependencies, starts the dev server, and transitions to ready. A failure
// at any step sets status error, emits the failure, and returns it;
// initialization is not retried automatically.
func (e *Engine) Initialize(ctx context.Context, tmpl *template.Template) error {
	e.activation.Lock()
	defer e.activation.Unlock()
	return e.initializeLocked(ctx, tmpl)
}

func (e *Engine) initializeLocked(ctx context.Context, tmpl *template.Template) (err error) {
	start := time.Now()
	defer func() { e.recordActivation("initialize", start, err) }()

	e.suspendAutoSave()

	e.setStatus(StatusInitializing)
	resolved := e.resolveTemplate(tmpl)

	// A previously mounted template must not bleed through: clear the
	// filesystem, keeping only the install cache, before mounting.
	if prev := e.CurrentTemplate(); prev != nil {
		if inst, ok := e.booter.Current(); ok {
			if clearErr := e.clearWorkspace(inst.FS()); clearErr != nil {
				return e.fail(fmt.Errorf("failed to clear previous template: %w", clearErr))
			}
		}
	}

	inst, err := e.booter.Boot(ctx)
	if err != nil {
		return e.fail(fmt.Errorf("sandbox boot failed: %w", err))
	}
	e.hookServerReady(inst)

	target := resolved.Flatten()
	if err := inst.Mount(target); err != nil {
		return e.fail(fmt.Errorf("mount failed: %w", err))
	}

	e.mu.Lock()
	e.mounted = target
	e.files = fscache.New(inst.FS(), e.bus, e.cfg.DebounceWindow, e.logger)
	e.mu.Unlock()

	// A missing or corrupt snapshot must never abort initialization.
	e.restoreSnapshot(resolved.ID)

	e.setStatus(StatusInstalling)
	if err := e.gate.Ensure(ctx, inst.FS(), e.newRunner(inst), resolved); err != nil {
		return e.fail(fmt.Errorf("dependency install failed: %w", err))
	}

	if err := e.startDevServer(ctx, inst, resolved); err != nil {
		return e.fail(err)
	}

	e.mu.Lock()
	e.current = resolved
	e.mu.Unlock()

	e.setStatus(StatusReady)
	e.emitFileTree()
	e.armAutoSave()
	return nil
}

// SwitchTemplate migrates the live sandbox from the current template to
// newTmpl without a teardown: it saves a snapshot of the current state,
// applies a file diff, reinstalls dependencies only when the declared sets
// differ, and restarts the dev server.
//
// Failure policy: if diff application or the install fails mid-switch, the
// engine falls back to a full Initialize(newTmpl) rather than leaving a
// half-migrated filesystem.
func (e *Engine) SwitchTemplate(ctx context.Context, newTmpl *template.Template) error {
	e.activation.Lock()
	defer e.activation.Unlock()

	prev := e.CurrentTemplate()
	if prev == nil {
		return e.initializeLocked(ctx, newTmpl)
	}
	if prev.ID == newTmpl.ID {
		return nil
	}
	return e.switchLocked(ctx, prev, newTmpl)
}

func (e *Engine) switchLocked(ctx context.Context, prev, newTmpl *template.Template) (err error) {
	start := time.Now()
	defer func() { e.recordActivation("switch", start, err) }()

	e.suspendAutoSave()
	defer e.resumeAutoSave()

	inst, ok := e.booter.Current()
	if !ok {
		return e.initializeLocked(ctx, newTmpl)
	}

	// A switch must never discard unsaved edits: snapshot the current
	// template before mutating anything. Persist failures are logged,
	// not fatal; only the explicit user Save surfaces them.
	if snapErr := e.saveSnapshotLocked(inst, prev.ID); snapErr != nil {
		e.logger.Warn("pre-switch snapshot failed", zap.Error(snapErr))
	}

	resolved := e.resolveTemplate(newTmpl)
	target := resolved.Flatten()

	// ComputeDiff iterates the map after the lock is released, so a
	// concurrent WriteFile must never see the same map instance.
	e.mu.RLock()
	mounted := make(map[string]string, len(e.mounted))
	for p, content := range e.mounted {
		mounted[p] = content
	}
	files := e.files
	e.mu.RUnlock()

	diff := template.ComputeDiff(mounted, target)
	applier := template.NewApplier(inst.FS(), e.ignoreGlobs(), e.logger)
	if applyErr := applier.Apply(diff, target); applyErr != nil {
		e.logger.Error("diff apply failed, falling back to full initialize",
			zap.Error(applyErr))
		return e.initializeLocked(ctx, resolved)
	}

	// Stale reads after the tree changed underneath must not surface.
	if files != nil {
		files.InvalidateAll()
	}

	if e.gate.Changed(prev, resolved) {
		e.setStatus(StatusInstalling)
		if installErr := e.gate.Ensure(ctx, inst.FS(), e.newRunner(inst), resolved); installErr != nil {
			e.logger.Error("install failed mid-switch, falling back to full initialize",
				zap.Error(installErr))
			return e.initializeLocked(ctx, resolved)
		}
	} else if e.metrics != nil {
		e.metrics.InstallsSkipped.Inc()
	}

	// File contents changed even when the run command did not: the dev
	// server always restarts.
	if devErr := e.startDevServer(ctx, inst, resolved); devErr != nil {
		return e.fail(devErr)
	}

	e.mu.Lock()
	e.current = resolved
	e.mounted = target
	e.mu.Unlock()

	e.restoreSnapshot(resolved.ID)
	e.setStatus(StatusReady)
	e.emitFileTree()
	return nil
}

// SaveSnapshot captures and persists the current session state. This is
// the explicit user-facing save: unlike auto-save and pre-switch saves,
// its failure is surfaced to the caller.
func (e *Engine) SaveSnapshot() error {
	inst, ok := e.booter.Current()
	if !ok {
		return sandbox.ErrNotBooted
	}
	current := e.CurrentTemplate()
	if current == nil {
		return fmt.Errorf("no template active")
	}
	if err := e.saveSnapshotLocked(inst, current.ID); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.SnapshotsSaved.Inc()
	}
	return nil
}

// ReadFile reads a file through the filesystem cache.
func (e *Engine) ReadFile(path string) (string, error) {
	files := e.fileCache()
	if files == nil {
		return "", sandbox.ErrNotBooted
	}
	return files.ReadFile(path)
}

// WriteFile writes a file through to the sandbox and schedules the
// debounced change notification.
func (e *Engine) WriteFile(path, content string) error {
	files := e.fileCache()
	if files == nil {
		return sandbox.ErrNotBooted
	}
	if err := files.WriteFile(path, content); err != nil {
		return err
	}

	e.mu.Lock()
	if e.mounted != nil {
		e.mounted[path] = content
	}
	e.mu.Unlock()
	return nil
}

// FileTree lists the sandbox tree for the presentation layer.
func (e *Engine) FileTree() (*fscache.TreeNode, error) {
	files := e.fileCache()
	if files == nil {
		return nil, sandbox.ErrNotBooted
	}
	return files.BuildTree("/", fscache.TreeOptions{
		MaxDepth:    e.cfg.TreeDepthLimit,
		IgnoreGlobs: e.ignoreGlobs(),
	})
}

// Cleanup disables auto-save, kills all tracked processes, clears the
// mounted filesystem, removes all event subscriptions, and resets the
// install-hash state. Safe to call before any successful initialization
// and safe to call twice.
func (e *Engine) Cleanup() {
	e.activation.Lock()
	defer e.activation.Unlock()

	e.mu.Lock()
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
	saver := e.autosave
	e.autosave = nil
	files := e.files
	e.mu.Unlock()

	// An in-flight snapshot save must finish before teardown.
	if saver != nil {
		saver.Stop()
	}

	if inst, ok := e.booter.Current(); ok {
		inst.Processes().KillAll()
		if err := e.clearWorkspace(inst.FS()); err != nil {
			e.logger.Warn("failed to clear workspace during cleanup", zap.Error(err))
		}
	}

	if files != nil {
		files.Close()
	}
	if e.bus != nil {
		e.bus.RemoveAllListeners()
	}
	e.gate.Reset()

	e.mu.Lock()
	e.current = nil
	e.mounted = nil
	e.files = nil
	e.devProc = nil
	e.previewURL = ""
	e.readyInstance = ""
	e.openTabs = nil
	e.activeFile = ""
	e.status = StatusInitializing
	e.mu.Unlock()
}

func (e *Engine) fileCache() *fscache.Cache {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.files
}

// resolveTemplate prefers a cached resolution for the same id within TTL;
// otherwise the provided template is cached and used.
func (e *Engine) resolveTemplate(tmpl *template.Template) *template.Template {
	if cached, ok := e.templates.Get(tmpl.ID); ok {
		return cached
	}
	e.templates.Set(tmpl.ID, tmpl)
	return tmpl
}

// clearWorkspace removes every root entry except the install cache.
func (e *Engine) clearWorkspace(fs sandbox.FS) error {
	names, err := fs.ReadDirNames("/")
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == e.cfg.InstallDir {
			continue
		}
		if err := fs.Remove("/" + name); err != nil {
			return err
		}
	}
	return nil
}

// restoreSnapshot overwrites mounted files from the stored snapshot and
// notes the editor state for later restoration. All failures are silent:
// a missing or corrupt snapshot must not block activation.
func (e *Engine) restoreSnapshot(templateID string) {
	snap, err := e.store.Load(templateID)
	if err != nil || snap == nil {
		if err != nil {
			e.logger.Warn("snapshot load failed", zap.Error(err))
		}
		return
	}

	files := e.fileCache()
	if files == nil {
		return
	}
	for path, content := range snap.Files {
		if err := files.WriteFile(path, content); err != nil {
			e.logger.Warn("failed to restore file from snapshot",
				zap.String("path", path), zap.Error(err))
			continue
		}
		e.mu.Lock()
		if e.mounted != nil {
			e.mounted[path] = content
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.openTabs = snap.OpenTabs
	e.activeFile = snap.ActiveFile
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SnapshotsRestored.Inc()
	}
	e.logger.Info("snapshot restored",
		zap.String("template", templateID),
		zap.Int("files", len(snap.Files)),
	)
}

// saveSnapshotLocked captures the workspace (excluding the install cache
// and other ignored entries) and persists it under the template's key.
func (e *Engine) saveSnapshotLocked(inst sandbox.Instance, templateID string) error {
	exporter, ok := inst.(interface {
		Export(ignoreGlobs []string) (map[string]string, error)
	})

	var workspace map[string]string
	var err error
	if ok {
		workspace, err = exporter.Export(e.ignoreGlobs())
		if err != nil {
			return fmt.Errorf("failed to capture workspace: %w", err)
		}
	} else {
		// Fall back to the tracked mounted state.
		e.mu.RLock()
		workspace = make(map[string]string, len(e.mounted))
		for path, content := range e.mounted {
			workspace[path] = content
		}
		e.mu.RUnlock()
	}

	e.mu.RLock()
	tabs := append([]string(nil), e.openTabs...)
	active := e.activeFile
	e.mu.RUnlock()

	return e.store.Save(templateID, snapshot.New(templateID, workspace, tabs, active))
}

// startDevServer kills previously spawned processes and launches the
// template's run command, arming the readiness probe.
func (e *Engine) startDevServer(ctx context.Context, inst sandbox.Instance, tmpl *template.Template) error {
	inst.Processes().KillAll()

	fields := strings.Fields(tmpl.RunCommand)
	if len(fields) == 0 {
		return fmt.Errorf("template %s has empty run command", tmpl.ID)
	}

	// The server must outlive the activation request that started it;
	// only Kill/KillAll or teardown stop it.
	proc, err := inst.Spawn(ctx, fields[0], fields[1:], sandbox.SpawnOptions{
		Env:       []string{fmt.Sprintf("PORT=%d", e.cfg.DevPort)},
		ProbePort: e.cfg.DevPort,
		Detach:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to start dev server: %w", err)
	}

	e.mu.Lock()
	e.devProc = proc
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ProcessesSpawned.Inc()
	}
	return nil
}

// hookServerReady registers the preview callback once per sandbox
// instance.
func (e *Engine) hookServerReady(inst sandbox.Instance) {
	e.mu.Lock()
	if e.readyInstance == inst.ID() {
		e.mu.Unlock()
		return
	}
	e.readyInstance = inst.ID()
	e.mu.Unlock()

	inst.OnServerReady(func(port int, url string) {
		e.mu.Lock()
		e.previewURL = url
		e.mu.Unlock()
		if e.bus != nil {
			e.bus.Emit(events.PreviewReady, events.PreviewReadyPayload{
				Port: port,
				URL:  url,
			})
		}
		e.logger.Info("preview ready", zap.String("url", url))
	})
}

// setStatus records and broadcasts the status. The emit is unconditional
// so subscribers see every activation entering initializing, including the
// first one where the stored status already is initializing.
func (e *Engine) setStatus(status Status) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetStatus(string(status), AllStatuses)
	}
	if e.bus != nil {
		e.bus.Emit(events.StatusChange, status)
	}
}

func (e *Engine) fail(err error) error {
	e.setStatus(StatusError)
	if e.bus != nil {
		e.bus.Emit(events.Error, err)
	}
	e.logger.Error("activation failed", zap.Error(err))
	return err
}

func (e *Engine) emitFileTree() {
	if e.bus == nil {
		return
	}
	tree, err := e.FileTree()
	if err != nil {
		e.logger.Warn("failed to build file tree", zap.Error(err))
		return
	}
	e.bus.Emit(events.FilesUpdate, tree)
}

func (e *Engine) ignoreGlobs() []string {
	globs := []string{e.cfg.InstallDir, ".*"}
	globs = append(globs, e.cfg.IgnoreGlobs...)
	return globs
}

func (e *Engine) recordActivation(kind string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordActivation(kind, status, time.Since(start))
}

// suspendAutoSave pauses auto-save for the duration of an activation so it
// cannot race the switch on the filesystem.
func (e *Engine) suspendAutoSave() {
	e.mu.Lock()
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
	saver := e.autosave
	e.mu.Unlock()

	if saver != nil {
		saver.Suspend()
	}
}

func (e *Engine) resumeAutoSave() {
	e.mu.RLock()
	saver := e.autosave
	e.mu.RUnlock()
	if saver != nil {
		saver.Resume()
	}
}

// armAutoSave starts (or resumes) periodic snapshots after a settle delay,
// so auto-save never overlaps the activation that armed it.
func (e *Engine) armAutoSave() {
	if !e.cfg.AutoSave {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.autosave == nil {
		interval := e.cfg.AutoSaveInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		e.autosave = snapshot.NewAutoSaver(e.store, e.buildSnapshot, interval, e.logger)
	}

	saver := e.autosave
	if e.settleTimer != nil {
		e.settleTimer.Stop()
	}
	e.settleTimer = time.AfterFunc(e.cfg.SettleDelay, func() {
		saver.Start()
		saver.Resume()
	})
}

// buildSnapshot is the auto-save builder.
func (e *Engine) buildSnapshot() (*snapshot.Snapshot, error) {
	inst, ok := e.booter.Current()
	if !ok {
		return nil, nil
	}
	current := e.CurrentTemplate()
	if current == nil {
		return nil, nil
	}

	exporter, ok := inst.(interface {
		Export(ignoreGlobs []string) (map[string]string, error)
	})
	var workspace map[string]string
	var err error
	if ok {
		workspace, err = exporter.Export(e.ignoreGlobs())
		if err != nil {
			return nil, err
		}
	} else {
		e.mu.RLock()
		workspace = make(map[string]string, len(e.mounted))
		for path, content := range e.mounted {
			workspace[path] = content
		}
		e.mu.RUnlock()
	}

	e.mu.RLock()
	tabs := append([]string(nil), e.openTabs...)
	active := e.activeFile
	e.mu.RUnlock()

	return snapshot.New(current.ID, workspace, tabs, active), nil
}
