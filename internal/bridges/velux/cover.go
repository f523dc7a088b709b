package velux

import (
	"context"
	"strconv"
	"sync"

	"github.com/openhomelab/vlxmqttha/internal/infrastructure/mqtt"
	"github.com/openhomelab/vlxmqttha/internal/klf200"
)

// MQTTClient is the broker surface a cover uses. Implemented by the
// infrastructure mqtt client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishString(topic string, payload string, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Actuator is the gateway surface a cover controls. Implemented by
// *klf200.Node.
type Actuator interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, percent int) error
	SetMaxLimitation(ctx context.Context, percent int) error
	ClearLimitation(ctx context.Context) error
	Telemetry() klf200.NodeTelemetry
}

// Cover adapts one actuator to its MQTT device surface. It holds the last
// derived state label, routes commands through the dispatcher, and keeps
// windows' keep-open switch in sync with the gateway limitation.
type Cover struct {
	id         string
	name       string
	kind       klf200.NodeKind
	inverted   bool
	topics     TopicSet
	qos        byte
	actuator   Actuator
	dispatcher *Dispatcher
	mqtt       MQTTClient
	logger     Logger

	// mu serializes telemetry application end to end, including the
	// publishes, so bus updates leave in application order.
	mu           sync.Mutex
	lastState    CoverState
	hasState     bool
	limitEngaged bool
}

// CoverConfig holds everything needed to build a cover.
type CoverConfig struct {
	Name            string
	Kind            klf200.NodeKind
	Inverted        bool
	DiscoveryPrefix string
	QoS             byte
	Actuator        Actuator
	Dispatcher      *Dispatcher
	MQTT            MQTTClient
	Logger          Logger
}

// NewCover creates a cover. The device ID is derived from the actuator
// name and fixed for the cover's lifetime.
func NewCover(cfg CoverConfig) *Cover {
	id := DeviceID(cfg.Name)
	return &Cover{
		id:         id,
		name:       cfg.Name,
		kind:       cfg.Kind,
		inverted:   cfg.Inverted,
		topics:     NewTopicSet(cfg.DiscoveryPrefix, id),
		qos:        cfg.QoS,
		actuator:   cfg.Actuator,
		dispatcher: cfg.Dispatcher,
		mqtt:       cfg.MQTT,
		logger:     cfg.Logger,
	}
}

// ID returns the stable device identity.
func (c *Cover) ID() string { return c.id }

// Name returns the actuator name as configured on the gateway.
func (c *Cover) Name() string { return c.name }

// Inverted reports the cover's polarity.
func (c *Cover) Inverted() bool { return c.inverted }

// LastState returns the most recently derived state label. The second
// return is false before the first telemetry arrives.
func (c *Cover) LastState() (CoverState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastState, c.hasState
}

// hasKeepOpenSwitch reports whether this device exposes the limitation
// switch. Only windows support position limitations usefully.
func (c *Cover) hasKeepOpenSwitch() bool {
	return c.kind == klf200.KindWindow
}

// Start publishes the discovery configuration, subscribes the command
// topics, marks the device online, and pushes the initial state.
func (c *Cover) Start(ctx context.Context) error {
	payload, err := coverDiscoveryPayload(c.name, c.id, DeviceClass(c.kind), c.topics, c.inverted)
	if err != nil {
		return err
	}
	if err := c.mqtt.Publish(c.topics.Config, payload, c.qos, true); err != nil {
		return err
	}
	if err := c.mqtt.Subscribe(c.topics.Command, c.qos, c.onCommandMessage); err != nil {
		return err
	}

	if c.hasKeepOpenSwitch() {
		swPayload, err := switchDiscoveryPayload(c.name, c.id, c.topics)
		if err != nil {
			return err
		}
		if err := c.mqtt.Publish(c.topics.SwitchConfig, swPayload, c.qos, true); err != nil {
			return err
		}
		if err := c.mqtt.Subscribe(c.topics.SwitchCommand, c.qos, c.onSwitchMessage); err != nil {
			return err
		}
	}

	if err := c.PublishAvailability(true); err != nil {
		return err
	}

	c.Republish()

	c.logger.Info("device registered",
		"id", c.id,
		"name", c.name,
		"kind", c.kind.String(),
		"inverted", c.inverted)
	return nil
}

// Stop marks the device offline and drops its subscriptions. Discovery
// configs stay retained so the hub keeps the entity across restarts.
func (c *Cover) Stop() {
	if err := c.PublishAvailability(false); err != nil {
		c.logger.Warn("offline publish failed", "id", c.id, "error", err)
	}
	if err := c.mqtt.Unsubscribe(c.topics.Command); err != nil {
		c.logger.Warn("unsubscribe failed", "topic", c.topics.Command, "error", err)
	}
	if c.hasKeepOpenSwitch() {
		if err := c.mqtt.Unsubscribe(c.topics.SwitchCommand); err != nil {
			c.logger.Warn("unsubscribe failed", "topic", c.topics.SwitchCommand, "error", err)
		}
	}
}

// HandleTelemetry applies one position report. The position and derived
// state are always republished, even when unchanged, so the retained bus
// values can never go stale; a log line is emitted only when the state
// label actually changed. Unknown positions are corrected by the mapping
// fallback and flagged with a warning.
func (c *Cover) HandleTelemetry(position, target, limitationMax int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyTelemetry(position, target, limitationMax)
}

// Republish re-reads the actuator's cached state and publishes it. Read
// and publish share the lock that serializes gateway telemetry, so a
// periodic refresh can never retain-publish a snapshot staler than a
// gateway report that already went out.
func (c *Cover) Republish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	tel := c.actuator.Telemetry()
	c.applyTelemetry(tel.Position, tel.Target, tel.LimitationMax)
}

// applyTelemetry maps and publishes one report. The caller holds c.mu;
// keeping the publishes inside the critical section means bus updates
// leave in the order the reports were applied.
func (c *Cover) applyTelemetry(position, target, limitationMax int) {
	mapped := MapState(position, target, c.inverted)
	if mapped.PositionCorrected {
		c.logger.Warn("position out of range, substituting 0",
			"id", c.id, "position", position)
	}
	if mapped.TargetCorrected {
		c.logger.Warn("target out of range, assuming stationary",
			"id", c.id, "target", target)
	}

	changed := !c.hasState || c.lastState != mapped.State
	c.lastState = mapped.State
	c.hasState = true
	c.limitEngaged = limitationMax >= 0 && limitationMax < 100

	if changed {
		c.logger.Info("state changed",
			"id", c.id,
			"state", string(mapped.State),
			"position", mapped.Position,
			"target", mapped.Target)
	}

	if err := c.mqtt.PublishString(c.topics.Position, strconv.Itoa(mapped.Position), c.qos, true); err != nil {
		c.logger.Warn("position publish failed", "id", c.id, "error", err)
	}
	if err := c.mqtt.PublishString(c.topics.State, string(mapped.State), c.qos, true); err != nil {
		c.logger.Warn("state publish failed", "id", c.id, "error", err)
	}

	if c.hasKeepOpenSwitch() {
		sw := payloadOff
		if c.limitEngaged {
			sw = payloadOn
		}
		if err := c.mqtt.PublishString(c.topics.SwitchState, sw, c.qos, true); err != nil {
			c.logger.Warn("switch state publish failed", "id", c.id, "error", err)
		}
	}
}

// HandleCommand executes one parsed bus command. Inverted covers swap
// open and close before forwarding, so the hub's notion of "open" always
// matches the physical result. The call blocks until the gateway
// operation resolves or times out; outcomes are logged, never propagated.
func (c *Cover) HandleCommand(ctx context.Context, cmd Command) {
	kind := cmd.Kind
	if c.inverted {
		switch kind {
		case CommandOpen:
			kind = CommandClose
		case CommandClose:
			kind = CommandOpen
		}
	}

	c.logger.Debug("command received", "id", c.id, "command", cmd.Kind.String())

	var op func(context.Context) error
	switch kind {
	case CommandOpen:
		op = c.actuator.Open
	case CommandClose:
		op = c.actuator.Close
	case CommandStop:
		op = c.actuator.Stop
	case CommandSetPosition:
		pos := cmd.Position
		op = func(ctx context.Context) error { return c.actuator.SetPosition(ctx, pos) }
	default:
		c.logger.Error("unroutable command", "id", c.id, "command", kind.String())
		return
	}

	// Outcome is terminal inside the dispatcher, nothing to do here.
	_ = c.dispatcher.Submit(ctx, c.id+"/"+kind.String(), op)
}

// PublishAvailability publishes the retained online/offline marker. Pure
// side effect, no state change, safe to repeat.
func (c *Cover) PublishAvailability(online bool) error {
	payload := payloadOffline
	if online {
		payload = payloadOnline
	}
	return c.mqtt.PublishString(c.topics.Availability, payload, c.qos, true)
}

// onCommandMessage is the subscription handler for the command topic.
// Invalid payloads are rejected here with an error log and never reach
// the actuator.
func (c *Cover) onCommandMessage(_ string, payload []byte) error {
	cmd, err := ParseCommand(string(payload))
	if err != nil {
		c.logger.Error("rejecting command payload", "id", c.id, "payload", string(payload), "error", err)
		return nil
	}
	c.HandleCommand(context.Background(), cmd)
	return nil
}

// onSwitchMessage is the subscription handler for the keep-open switch.
// ON pins the window fully open via a position limitation, OFF clears it.
func (c *Cover) onSwitchMessage(_ string, payload []byte) error {
	switch string(payload) {
	case payloadOn:
		_ = c.dispatcher.Submit(context.Background(), c.id+"/keepopen-on", func(ctx context.Context) error {
			return c.actuator.SetMaxLimitation(ctx, 0)
		})
	case payloadOff:
		_ = c.dispatcher.Submit(context.Background(), c.id+"/keepopen-off", func(ctx context.Context) error {
			return c.actuator.ClearLimitation(ctx)
		})
	default:
		c.logger.Error("rejecting switch payload", "id", c.id, "payload", string(payload))
	}
	return nil
}
