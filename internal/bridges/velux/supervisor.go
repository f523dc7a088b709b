package velux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Link states and events for the per-connection state machine.
const (
	linkDisconnected = "disconnected"
	linkConnecting   = "connecting"
	linkConnected    = "connected"

	eventConnect = "connect"
	eventSuccess = "success"
	eventFailure = "failure"
	eventClose   = "close"
)

// LinkState is a snapshot of one supervised connection.
type LinkState struct {
	Name        string
	State       string
	LastContact time.Time
	RetryCount  int
}

// link supervises one external connection with a small state machine.
type link struct {
	name string
	fsm  *fsm.FSM

	mu          sync.Mutex
	lastContact time.Time
	retryCount  int
}

func newLink(name string) *link {
	return &link{
		name: name,
		fsm: fsm.NewFSM(
			linkDisconnected,
			fsm.Events{
				{Name: eventConnect, Src: []string{linkDisconnected}, Dst: linkConnecting},
				{Name: eventSuccess, Src: []string{linkConnecting}, Dst: linkConnected},
				{Name: eventFailure, Src: []string{linkConnecting}, Dst: linkDisconnected},
				{Name: eventClose, Src: []string{linkConnecting, linkConnected}, Dst: linkDisconnected},
			},
			fsm.Callbacks{},
		),
	}
}

func (l *link) snapshot() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkState{
		Name:        l.name,
		State:       l.fsm.Current(),
		LastContact: l.lastContact,
		RetryCount:  l.retryCount,
	}
}

func (l *link) recordContact(t time.Time) {
	l.mu.Lock()
	l.lastContact = t
	l.mu.Unlock()
}

// Supervisor owns the connection lifecycle for the broker and gateway
// links: retry with backoff for the broker, a single attempt for the
// gateway, and the liveness timestamp the health monitor reads.
type Supervisor struct {
	bus     *link
	gateway *link
	logger  Logger

	maxRetries  int
	backoffStep time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// SupervisorConfig holds supervisor settings. Zero values select the
// defaults of 10 attempts and a 10 second backoff step.
type SupervisorConfig struct {
	MaxRetries  int
	BackoffStep time.Duration
	Logger      Logger
}

// NewSupervisor creates a supervisor with both links disconnected.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = 10 * time.Second
	}
	return &Supervisor{
		bus:         newLink("mqtt"),
		gateway:     newLink("klf200"),
		logger:      cfg.Logger,
		maxRetries:  cfg.MaxRetries,
		backoffStep: cfg.BackoffStep,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectBus establishes the broker link, retrying up to the configured
// limit. The wait after attempt i grows linearly: step, 2*step, 3*step
// and so on. Exhausting every attempt is fatal to the process.
func (s *Supervisor) ConnectBus(ctx context.Context, connect func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			wait := s.backoffStep * time.Duration(attempt)
			s.logger.Info("retrying broker connection",
				"attempt", attempt+1,
				"max_attempts", s.maxRetries,
				"wait", wait)
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
		}

		s.transition(s.bus, eventConnect)
		err := connect(ctx)
		if err == nil {
			s.transition(s.bus, eventSuccess)
			s.logger.Info("broker connected", "attempts", attempt+1)
			return nil
		}

		lastErr = err
		s.transition(s.bus, eventFailure)
		s.bus.mu.Lock()
		s.bus.retryCount = attempt + 1
		s.bus.mu.Unlock()
		s.logger.Warn("broker connection failed", "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, s.maxRetries, lastErr)
}

// ConnectGateway establishes the gateway link with a single attempt.
// Failure is fatal, the process exits rather than running half-bridged.
func (s *Supervisor) ConnectGateway(ctx context.Context, connect func(context.Context) error) error {
	s.transition(s.gateway, eventConnect)
	if err := connect(ctx); err != nil {
		s.transition(s.gateway, eventFailure)
		return err
	}
	s.transition(s.gateway, eventSuccess)
	s.gateway.recordContact(time.Now())
	s.logger.Info("gateway connected")
	return nil
}

// RecordGatewayContact marks a confirmed gateway interaction. Called on
// connect and on every telemetry receipt.
func (s *Supervisor) RecordGatewayContact() {
	s.gateway.recordContact(time.Now())
}

// GatewayLastContact returns when the gateway was last heard from.
func (s *Supervisor) GatewayLastContact() time.Time {
	s.gateway.mu.Lock()
	defer s.gateway.mu.Unlock()
	return s.gateway.lastContact
}

// CloseBus and CloseGateway record link teardown during shutdown.
func (s *Supervisor) CloseBus()     { s.transition(s.bus, eventClose) }
func (s *Supervisor) CloseGateway() { s.transition(s.gateway, eventClose) }

// BusState and GatewayState expose link snapshots for logging and tests.
func (s *Supervisor) BusState() LinkState     { return s.bus.snapshot() }
func (s *Supervisor) GatewayState() LinkState { return s.gateway.snapshot() }

func (s *Supervisor) transition(l *link, event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fsm.Event(context.Background(), event); err != nil {
		s.logger.Debug("link transition skipped", "link", l.name, "event", event, "error", err)
	}
}
