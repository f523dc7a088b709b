package velux

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/openhomelab/vlxmqttha/internal/klf200"
)

// Lifecycle states for the orchestration state machine.
const (
	phaseStarting          = "starting"
	phaseConnectingBus     = "connecting_bus"
	phaseConnectingGateway = "connecting_gateway"
	phaseRegistering       = "registering_devices"
	phaseRunning           = "running"
	phaseShuttingDown      = "shutting_down"
	phaseTerminated        = "terminated"

	eventAdvance   = "advance"
	eventFail      = "fail"
	eventShutdown  = "shutdown"
	eventTerminate = "terminate"
)

// refreshInterval is how often every cover republishes its cached state,
// independent of gateway notifications. Retained topics survive broker
// restarts, the refresh covers hub restarts that miss the retention.
const refreshInterval = 5 * time.Second

// Bus is the broker client surface the bridge manages.
type Bus interface {
	MQTTClient
	Close() error
}

// BridgeConfig wires the bridge's collaborators together.
type BridgeConfig struct {
	// ConnectBus dials the broker and returns a connected client. Called
	// once per retry attempt by the supervisor.
	ConnectBus func(ctx context.Context) (Bus, error)

	// Gateway is the KLF200 client. The bridge owns Connect and Close.
	Gateway *klf200.Client

	DiscoveryPrefix string
	QoS             byte

	// NamePrefix is prepended to every actuator name before deriving the
	// device identity. Lets several bridges share one broker.
	NamePrefix string

	// InvertAwnings flips the open/close polarity of awning actuators,
	// whose extended position is their open state.
	InvertAwnings bool

	Supervisor *Supervisor
	Dispatcher *Dispatcher
	Monitor    *Monitor
	Scheduler  *RestartScheduler
	Logger     Logger
}

// Bridge orchestrates the whole bridging lifecycle: connect both links,
// register one cover per actuator, run until a shutdown trigger, then
// tear everything down in order.
type Bridge struct {
	cfg      BridgeConfig
	logger   Logger
	registry *Registry
	phase    *fsm.FSM
	phaseMu  sync.Mutex

	bus   Bus
	busMu sync.Mutex

	// shutdownCh carries the reason of the first shutdown trigger.
	// Buffered so triggers never block; later triggers are dropped.
	shutdownCh chan string

	refreshDone chan struct{}
	refreshWG   sync.WaitGroup
}

// NewBridge creates the bridge in the starting phase.
func NewBridge(cfg BridgeConfig) *Bridge {
	return &Bridge{
		cfg:      cfg,
		logger:   cfg.Logger,
		registry: NewRegistry(),
		phase: fsm.NewFSM(
			phaseStarting,
			fsm.Events{
				{Name: eventAdvance, Src: []string{phaseStarting}, Dst: phaseConnectingBus},
				{Name: eventAdvance, Src: []string{phaseConnectingBus}, Dst: phaseConnectingGateway},
				{Name: eventAdvance, Src: []string{phaseConnectingGateway}, Dst: phaseRegistering},
				{Name: eventAdvance, Src: []string{phaseRegistering}, Dst: phaseRunning},
				{Name: eventFail, Src: []string{phaseConnectingBus, phaseConnectingGateway, phaseRegistering}, Dst: phaseShuttingDown},
				{Name: eventShutdown, Src: []string{phaseRunning}, Dst: phaseShuttingDown},
				{Name: eventTerminate, Src: []string{phaseShuttingDown}, Dst: phaseTerminated},
			},
			fsm.Callbacks{},
		),
		shutdownCh:  make(chan string, 1),
		refreshDone: make(chan struct{}),
	}
}

// Phase returns the current lifecycle phase.
func (b *Bridge) Phase() string {
	b.phaseMu.Lock()
	defer b.phaseMu.Unlock()
	return b.phase.Current()
}

func (b *Bridge) advance(event string) {
	b.phaseMu.Lock()
	defer b.phaseMu.Unlock()
	if err := b.phase.Event(context.Background(), event); err != nil {
		b.logger.Debug("phase transition skipped", "event", event, "error", err)
	}
	b.logger.Debug("lifecycle phase", "phase", b.phase.Current())
}

// RequestShutdown triggers the graceful shutdown sequence. The first
// caller's reason wins; the call never blocks.
func (b *Bridge) RequestShutdown(reason string) {
	select {
	case b.shutdownCh <- reason:
	default:
	}
}

// Registry exposes the device registry, mainly for tests and status.
func (b *Bridge) Registry() *Registry { return b.registry }

// Run drives the bridge from starting to terminated. It returns nil on a
// graceful shutdown (signal, health restart, scheduled restart) and an
// error when connection establishment fails. Telemetry and command
// failures never surface here.
func (b *Bridge) Run(ctx context.Context) error {
	b.advance(eventAdvance) // connecting_bus
	if err := b.cfg.Supervisor.ConnectBus(ctx, b.connectBus); err != nil {
		b.advance(eventFail)
		b.advance(eventTerminate)
		return err
	}

	b.advance(eventAdvance) // connecting_gateway
	b.cfg.Gateway.OnTelemetry(b.onTelemetry)
	if err := b.cfg.Supervisor.ConnectGateway(ctx, b.cfg.Gateway.Connect); err != nil {
		b.advance(eventFail)
		b.teardown()
		b.advance(eventTerminate)
		return err
	}

	b.advance(eventAdvance) // registering_devices
	if err := b.registerDevices(ctx); err != nil {
		b.advance(eventFail)
		b.teardown()
		b.advance(eventTerminate)
		return err
	}

	b.advance(eventAdvance) // running
	b.cfg.Monitor.Start(ctx)
	b.cfg.Scheduler.Start(ctx)
	b.startRefreshTask()
	b.logger.Info("bridge running", "devices", b.registry.Len())

	var reason string
	select {
	case reason = <-b.shutdownCh:
		b.logger.Info("shutdown requested", "reason", reason)
	case <-ctx.Done():
		b.logger.Info("shutdown requested", "reason", "termination signal")
	}

	b.advance(eventShutdown)
	b.teardown()
	b.advance(eventTerminate)
	return nil
}

func (b *Bridge) connectBus(ctx context.Context) error {
	bus, err := b.cfg.ConnectBus(ctx)
	if err != nil {
		return err
	}
	b.busMu.Lock()
	b.bus = bus
	b.busMu.Unlock()
	return nil
}

func (b *Bridge) getBus() Bus {
	b.busMu.Lock()
	defer b.busMu.Unlock()
	return b.bus
}

// registerDevices creates one cover per gateway actuator and brings it
// onto the bus. A device ID collision rejects the later actuator; the
// bridge keeps running with the ones that registered.
func (b *Bridge) registerDevices(ctx context.Context) error {
	bus := b.getBus()
	for _, node := range b.cfg.Gateway.Nodes() {
		inverted := b.cfg.InvertAwnings && node.Kind() == klf200.KindAwning
		cover := NewCover(CoverConfig{
			Name:            b.cfg.NamePrefix + node.Name(),
			Kind:            node.Kind(),
			Inverted:        inverted,
			DiscoveryPrefix: b.cfg.DiscoveryPrefix,
			QoS:             b.cfg.QoS,
			Actuator:        node,
			Dispatcher:      b.cfg.Dispatcher,
			MQTT:            bus,
			Logger:          b.logger,
		})
		if err := b.registry.Add(cover); err != nil {
			b.logger.Error("device registration rejected",
				"id", cover.ID(),
				"name", node.Name(),
				"error", err)
			continue
		}
		if err := cover.Start(ctx); err != nil {
			return err
		}
	}

	if err := b.cfg.Gateway.RefreshLimitations(ctx); err != nil {
		b.logger.Warn("limitation refresh failed", "error", err)
	}
	return nil
}

// onTelemetry routes a gateway position report to its cover and records
// the contact for the liveness monitor.
func (b *Bridge) onTelemetry(tel klf200.NodeTelemetry) {
	b.cfg.Supervisor.RecordGatewayContact()

	cover, err := b.registry.Get(DeviceID(b.cfg.NamePrefix + tel.Name))
	if err != nil {
		b.logger.Debug("telemetry for unregistered device", "name", tel.Name)
		return
	}
	cover.HandleTelemetry(tel.Position, tel.Target, tel.LimitationMax)
}

// startRefreshTask periodically republishes every cover's cached state.
func (b *Bridge) startRefreshTask() {
	b.refreshWG.Add(1)
	go func() {
		defer b.refreshWG.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, cover := range b.registry.Snapshot() {
					cover.Republish()
				}
			case <-b.refreshDone:
				return
			}
		}
	}()
}

// teardown runs the shutdown sequence: stop periodic tasks, take devices
// offline, close the gateway, close the broker link.
func (b *Bridge) teardown() {
	b.cfg.Monitor.Stop()
	b.cfg.Scheduler.Stop()

	close(b.refreshDone)
	b.refreshWG.Wait()

	for _, cover := range b.registry.Snapshot() {
		cover.Stop()
	}
	b.registry.Clear()

	if err := b.cfg.Gateway.Close(); err != nil {
		b.logger.Warn("gateway close failed", "error", err)
	}
	b.cfg.Supervisor.CloseGateway()

	if bus := b.getBus(); bus != nil {
		if err := bus.Close(); err != nil {
			b.logger.Warn("broker close failed", "error", err)
		}
	}
	b.cfg.Supervisor.CloseBus()

	b.logger.Info("bridge stopped")
}
