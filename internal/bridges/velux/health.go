package velux

import (
	"context"
	"sync"
	"time"
)

// livenessFactor scales the check interval into the staleness threshold.
// No gateway contact for twice the interval counts as a liveness breach.
const livenessFactor = 2.0

// Monitor watches gateway liveness. Each tick it compares the time since
// the last confirmed gateway contact against the threshold; a breach logs
// a warning and, when restart-on-failure is enabled, requests a graceful
// shutdown and stops ticking.
type Monitor struct {
	interval    time.Duration
	restart     bool
	lastContact func() time.Time
	shutdown    func(reason string)
	logger      Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// MonitorConfig holds monitor settings.
type MonitorConfig struct {
	// Interval is the check period. Zero or negative disables the
	// monitor entirely, Start becomes a no-op.
	Interval time.Duration

	// RestartOnFailure requests a graceful shutdown on a liveness breach
	// instead of only logging it.
	RestartOnFailure bool

	// LastContact reports the most recent confirmed gateway interaction.
	LastContact func() time.Time

	// Shutdown requests the bridge's graceful shutdown sequence.
	Shutdown func(reason string)

	Logger Logger
}

// NewMonitor creates a liveness monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{
		interval:    cfg.Interval,
		restart:     cfg.RestartOnFailure,
		lastContact: cfg.LastContact,
		shutdown:    cfg.Shutdown,
		logger:      cfg.Logger,
		done:        make(chan struct{}),
	}
}

// Start begins periodic liveness checks. Disabled monitors return
// immediately.
func (m *Monitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info("health monitor disabled")
		return
	}
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop halts the monitor and waits for the check loop to exit. Safe to
// call multiple times, and safe on a disabled monitor.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.check(time.Now()) {
				return
			}
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

// check runs one liveness evaluation. It returns true when the loop
// should stop because a restart was requested.
func (m *Monitor) check(now time.Time) bool {
	last := m.lastContact()
	if last.IsZero() {
		return false
	}

	elapsed := now.Sub(last)
	threshold := time.Duration(float64(m.interval) * livenessFactor)
	if elapsed <= threshold {
		return false
	}

	m.logger.Warn("gateway liveness check failed",
		"elapsed", elapsed,
		"threshold", threshold)

	if m.restart {
		m.shutdown("gateway liveness breach")
		return true
	}
	return false
}

// RestartScheduler fires a graceful shutdown once after a fixed interval,
// independent of health state. Restarting the process every few hours
// works around the KLF200's tendency to wedge on long-lived sessions.
type RestartScheduler struct {
	interval time.Duration
	shutdown func(reason string)
	logger   Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRestartScheduler creates a scheduler. An interval of zero or less
// disables it.
func NewRestartScheduler(interval time.Duration, shutdown func(reason string), logger Logger) *RestartScheduler {
	return &RestartScheduler{
		interval: interval,
		shutdown: shutdown,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start arms the restart timer. Disabled schedulers return immediately.
func (r *RestartScheduler) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("periodic restart disabled")
		return
	}
	r.logger.Info("periodic restart armed", "interval", r.interval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		timer := time.NewTimer(r.interval)
		defer timer.Stop()

		select {
		case <-timer.C:
			r.logger.Info("periodic restart interval elapsed")
			r.shutdown("scheduled restart")
		case <-ctx.Done():
		case <-r.done:
		}
	}()
}

// Stop disarms the timer. Safe to call multiple times.
func (r *RestartScheduler) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}
