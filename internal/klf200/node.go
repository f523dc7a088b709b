package klf200

import (
	"context"
	"sync"
)

// Node is a single actuator in the gateway's table. Nodes are created
// during enumeration and remain valid for the lifetime of the client.
type Node struct {
	client *Client
	id     byte
	name   string
	kind   NodeKind

	stateMu sync.Mutex
	state   struct {
		position      int
		target        int
		limitationMax int
	}
}

// ID returns the gateway-assigned node index.
func (n *Node) ID() byte { return n.id }

// Name returns the name configured on the gateway.
func (n *Node) Name() string { return n.name }

// Kind returns the actuator classification.
func (n *Node) Kind() NodeKind { return n.kind }

// Telemetry returns the last known state of the actuator.
func (n *Node) Telemetry() NodeTelemetry {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return NodeTelemetry{
		NodeID:        n.id,
		Name:          n.name,
		Position:      n.state.position,
		Target:        n.state.target,
		LimitationMax: n.state.limitationMax,
	}
}

// Open moves the actuator to the fully open position.
func (n *Node) Open(ctx context.Context) error {
	return n.client.sendCommand(ctx, n.id, 0)
}

// Close moves the actuator to the fully closed position.
func (n *Node) Close(ctx context.Context) error {
	return n.client.sendCommand(ctx, n.id, positionMax)
}

// Stop halts any movement in progress.
func (n *Node) Stop(ctx context.Context) error {
	return n.client.sendCommand(ctx, n.id, positionCurrent)
}

// SetPosition moves the actuator to a position in percent, 0 open through
// 100 closed. The caller validates the range.
func (n *Node) SetPosition(ctx context.Context, percent int) error {
	return n.client.sendCommand(ctx, n.id, percentToRaw(percent))
}

// SetMaxLimitation restricts the actuator to positions up to the given
// percentage. A window limited to a small opening stays ventilating but
// cannot be pulled fully shut by rain sensors or schedules.
func (n *Node) SetMaxLimitation(ctx context.Context, percent int) error {
	return n.client.setLimitation(ctx, n.id, 0, percentToRaw(percent), limitationUnlimited)
}

// ClearLimitation removes any position limitation from the actuator.
func (n *Node) ClearLimitation(ctx context.Context) error {
	return n.client.setLimitation(ctx, n.id, positionIgnore, positionIgnore, limitationClear)
}

// RefreshLimitation re-queries the actuator's maximum limitation. The
// result arrives asynchronously through the telemetry stream.
func (n *Node) RefreshLimitation(ctx context.Context) error {
	return n.client.requestLimitationStatus(ctx, n.id)
}

// Limitation lifetime values for GW_SET_LIMITATION_REQ.
const (
	limitationUnlimited byte = 253
	limitationClear     byte = 255
)
