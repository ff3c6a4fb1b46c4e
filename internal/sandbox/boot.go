package sandbox

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/events"
	"github.com/substratehq/playground/internal/infrastructure/logging"
)

// Booter hands out a single shared sandbox instance. Concurrent Boot calls
// share one in-flight boot rather than double-booting; the instance stays
// live until Teardown and is reused across template switches.
type Booter struct {
	newInstance func(ctx context.Context) (Instance, error)
	logger      *logging.Logger

	mu       sync.Mutex
	instance Instance
	inflight chan struct{}
	bootErr  error
}

// NewBooter creates a booter producing local sandboxes rooted under dir.
func NewBooter(dir string, bus *events.Bus, logger *logging.Logger) *Booter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Booter{
		newInstance: func(ctx context.Context) (Instance, error) {
			return NewLocal(dir, bus, logger)
		},
		logger: logger.Named("boot"),
	}
}

// NewBooterWith creates a booter around a custom instance factory. Used to
// inject fake sandboxes in tests.
func NewBooterWith(factory func(ctx context.Context) (Instance, error), logger *logging.Logger) *Booter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Booter{newInstance: factory, logger: logger.Named("boot")}
}

// Boot returns the shared instance, creating it on first call. Callers
// arriving during an in-flight boot wait for it and share its result.
func (b *Booter) Boot(ctx context.Context) (Instance, error) {
	b.mu.Lock()
	if b.instance != nil {
		inst := b.instance
		b.mu.Unlock()
		return inst, nil
	}
	if b.inflight != nil {
		wait := b.inflight
		b.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		b.mu.Lock()
		inst, err := b.instance, b.bootErr
		b.mu.Unlock()
		if inst == nil && err == nil {
			err = ErrNotBooted
		}
		return inst, err
	}

	done := make(chan struct{})
	b.inflight = done
	b.bootErr = nil
	b.mu.Unlock()

	inst, err := b.newInstance(ctx)

	b.mu.Lock()
	if err == nil {
		b.instance = inst
		b.logger.Info("sandbox booted", zap.String("id", inst.ID()))
	} else {
		b.bootErr = err
	}
	b.inflight = nil
	b.mu.Unlock()
	close(done)

	return inst, err
}

// Current returns the live instance without booting.
func (b *Booter) Current() (Instance, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instance, b.instance != nil
}

// Teardown releases the shared instance. The next Boot creates a fresh one.
func (b *Booter) Teardown() error {
	b.mu.Lock()
	inst := b.instance
	b.instance = nil
	b.bootErr = nil
	b.mu.Unlock()

	if inst == nil {
		return nil
	}
	return inst.Teardown()
}
