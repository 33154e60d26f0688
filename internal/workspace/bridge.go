package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"portrait-studio-orchestrator/internal/telemetry"
)

// Bridge observes store mutations and serializes a snapshot after a
// window of quiescence. It is a passive observer: a failed save is
// logged and counted, never surfaced to the scheduler.
type Bridge struct {
	store    Store
	snapshot func() Snapshot
	debounce time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewBridge wires a debounced saver. snapshot is called at save time so
// the bridge always writes current state, not the state at notify time.
func NewBridge(store Store, snapshot func() Snapshot, debounce time.Duration, logger zerolog.Logger) *Bridge {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Bridge{
		store:    store,
		snapshot: snapshot,
		debounce: debounce,
		logger:   logger,
	}
}

// Notify records that state changed. The save fires once the notify
// stream has been quiet for the debounce window.
func (b *Bridge) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.debounce, b.save)
}

func (b *Bridge) save() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.store.Save(ctx, b.snapshot()); err != nil {
		telemetry.SnapshotFailures.Inc()
		b.logger.Error().Err(err).Msg("workspace snapshot failed")
		return
	}
	b.logger.Debug().Msg("workspace snapshot saved")
}

// Flush cancels any pending timer and saves synchronously. Used at
// shutdown.
func (b *Bridge) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.store.Save(ctx, b.snapshot())
}
