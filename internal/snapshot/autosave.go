package snapshot

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/infrastructure/logging"
)

// Builder produces the snapshot to persist on each auto-save tick.
type Builder func() (*Snapshot, error)

// AutoSaver periodically captures and persists a snapshot. Builder and
// save failures are logged and skipped; auto-save is never fatal to the
// engine. Suspend pauses ticks for the duration of a template switch so
// auto-save cannot race the switch on the filesystem.
type AutoSaver struct {
	store    *Store
	builder  Builder
	interval time.Duration
	logger   *logging.Logger

	mu        sync.Mutex
	ticker    *time.Ticker
	stop      chan struct{}
	suspended bool
	running   bool

	// inflight tracks a save in progress so Stop can wait for it.
	inflight sync.WaitGroup
}

// NewAutoSaver creates an auto-saver. It does not start until Start.
func NewAutoSaver(store *Store, builder Builder, interval time.Duration, logger *logging.Logger) *AutoSaver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AutoSaver{
		store:    store,
		builder:  builder,
		interval: interval,
		logger:   logger.Named("autosave"),
	}
}

// Start arms the periodic save loop. Starting an armed saver is a no-op.
func (a *AutoSaver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.ticker = time.NewTicker(a.interval)
	a.stop = make(chan struct{})

	go a.loop(a.ticker, a.stop)
}

func (a *AutoSaver) loop(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-ticker.C:
			a.tick()
		case <-stop:
			return
		}
	}
}

func (a *AutoSaver) tick() {
	a.mu.Lock()
	if a.suspended || !a.running {
		a.mu.Unlock()
		return
	}
	a.inflight.Add(1)
	a.mu.Unlock()
	defer a.inflight.Done()

	snap, err := a.builder()
	if err != nil {
		a.logger.Warn("auto-save builder failed, skipping tick", zap.Error(err))
		return
	}
	if snap == nil {
		return
	}
	if err := a.store.Save(snap.TemplateID, snap); err != nil {
		a.logger.Warn("auto-save persist failed, skipping tick", zap.Error(err))
	}
}

// Suspend pauses auto-save until Resume.
func (a *AutoSaver) Suspend() {
	a.mu.Lock()
	a.suspended = true
	a.mu.Unlock()
	// Let any tick that started before the suspend finish first.
	a.inflight.Wait()
}

// Resume re-enables auto-save after a Suspend.
func (a *AutoSaver) Resume() {
	a.mu.Lock()
	a.suspended = false
	a.mu.Unlock()
}

// Stop disarms the loop and waits for any in-flight save to finish.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.ticker.Stop()
	close(a.stop)
	a.mu.Unlock()

	a.inflight.Wait()
}
