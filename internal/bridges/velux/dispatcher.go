package velux

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// defaultDispatchSlots caps concurrent gateway operations. The KLF200
	// degrades badly under parallel load, two in flight is the safe limit.
	defaultDispatchSlots = 2

	// defaultDispatchTimeout bounds a single gateway operation. Slow
	// actuators finish a full travel well inside this.
	defaultDispatchTimeout = 30 * time.Second
)

// Logger is the logging interface the bridge components depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Dispatcher executes gateway operations under a concurrency cap and a
// per-operation timeout. It is the hand-off point between the MQTT
// delivery goroutines and the gateway: Submit blocks the calling
// goroutine while waiting for a slot, which backpressures the broker
// client instead of piling unbounded work onto a slow gateway.
type Dispatcher struct {
	slots   *semaphore.Weighted
	timeout time.Duration
	logger  Logger
}

// DispatcherConfig holds dispatcher settings. Zero values select the
// defaults.
type DispatcherConfig struct {
	Slots   int64
	Timeout time.Duration
	Logger  Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Slots <= 0 {
		cfg.Slots = defaultDispatchSlots
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDispatchTimeout
	}
	return &Dispatcher{
		slots:   semaphore.NewWeighted(cfg.Slots),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Submit runs op against the gateway once a slot is free. The name is
// used in logs only. Every outcome is terminal: failures and timeouts are
// logged and returned, never retried, and the slot is released on all
// paths. Callers on the MQTT delivery path may ignore the returned error.
func (d *Dispatcher) Submit(ctx context.Context, name string, op func(context.Context) error) error {
	// Acquire may succeed on an already-done context, check first.
	if err := ctx.Err(); err != nil {
		d.logger.Warn("dispatch abandoned before acquiring slot", "operation", name, "error", err)
		return err
	}
	if err := d.slots.Acquire(ctx, 1); err != nil {
		d.logger.Warn("dispatch abandoned before acquiring slot", "operation", name, "error", err)
		return err
	}
	defer d.slots.Release(1)

	opCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := op(opCtx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		d.logger.Debug("gateway operation completed", "operation", name, "elapsed", elapsed)
		return nil
	case opCtx.Err() == context.DeadlineExceeded:
		d.logger.Warn("gateway operation timed out", "operation", name, "timeout", d.timeout)
		return ErrDispatchTimeout
	default:
		d.logger.Warn("gateway operation failed", "operation", name, "elapsed", elapsed, "error", err)
		return err
	}
}
