package fscache

import (
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/events"
	"github.com/substratehq/playground/internal/infrastructure/logging"
	"github.com/substratehq/playground/internal/sandbox"
)

// DefaultDebounce is the window in which repeated writes to one path
// collapse into a single file:change notification.
const DefaultDebounce = 300 * time.Millisecond

// Cache is a read-through cache over sandbox file reads. Writes go through
// to the sandbox and invalidate (not update) the cached entry, then arm a
// per-path debounce timer that publishes file:change once the path
// settles.
type Cache struct {
	fs       sandbox.FS
	bus      *events.Bus
	debounce time.Duration
	logger   *logging.Logger

	mu       sync.Mutex
	contents map[string]string
	timers   map[string]*time.Timer
}

// New creates a filesystem cache over fs. A non-positive debounce selects
// DefaultDebounce.
func New(fs sandbox.FS, bus *events.Bus, debounce time.Duration, logger *logging.Logger) *Cache {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		fs:       fs,
		bus:      bus,
		debounce: debounce,
		logger:   logger.Named("fscache"),
		contents: make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
}

// ReadFile returns the cached content for path, falling back to the
// sandbox and caching the result.
func (c *Cache) ReadFile(path string) (string, error) {
	c.mu.Lock()
	if content, ok := c.contents[path]; ok {
		c.mu.Unlock()
		return content, nil
	}
	c.mu.Unlock()

	content, err := c.fs.ReadFile(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.contents[path] = content
	c.mu.Unlock()
	return content, nil
}

// WriteFile writes through to the sandbox, invalidates the cached entry,
// and arms the debounced change notification for the path.
func (c *Cache) WriteFile(path string, content string) error {
	if err := c.fs.WriteFile(path, content); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.contents, path)
	c.armTimerLocked(path)
	c.mu.Unlock()
	return nil
}

// Invalidate drops the cached entry for one path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.contents, path)
	c.mu.Unlock()
}

// InvalidateAll drops every cached entry. Called after a template switch
// mutates the tree underneath the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.contents = make(map[string]string)
	c.mu.Unlock()
}

// Close cancels all pending debounce timers.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, timer := range c.timers {
		timer.Stop()
		delete(c.timers, path)
	}
}

// armTimerLocked resets the debounce timer for path. Outstanding timers are
// cancelled explicitly rather than left to fire against stale state.
func (c *Cache) armTimerLocked(path string) {
	if timer, ok := c.timers[path]; ok {
		timer.Stop()
	}
	c.timers[path] = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		delete(c.timers, path)
		c.mu.Unlock()
		c.notifyChange(path)
	})
}

func (c *Cache) notifyChange(path string) {
	content, err := c.ReadFile(path)
	if err != nil {
		c.logger.Warn("failed to read changed file",
			zap.String("path", path), zap.Error(err))
		return
	}
	if c.bus != nil {
		c.bus.Emit(events.FileChange, events.FileChangePayload{
			Path:    path,
			Content: content,
		})
	}
}

// DetectMIME sniffs the MIME type of file content. Used by consumers that
// must distinguish binary payloads from editable text.
func DetectMIME(content string) string {
	return mimetype.Detect([]byte(content)).String()
}

// IsBinary reports whether content looks like a non-text payload.
func IsBinary(content string) bool {
	mtype := mimetype.Detect([]byte(content))
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return false
		}
	}
	return true
}
