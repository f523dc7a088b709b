package klf200

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is the logging interface the client depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the gateway connection settings.
type Config struct {
	Host     string
	Port     int
	Password string

	// RequestTimeout bounds how long a single request waits for its
	// confirmation frame. Zero means the default.
	RequestTimeout time.Duration
}

const (
	defaultRequestTimeout = 10 * time.Second
	telemetryQueueSize    = 64
	passwordFieldSize     = 32
)

// Stats tracks gateway traffic counters.
type Stats struct {
	FramesSent       uint64
	FramesReceived   uint64
	FramesInvalid    uint64
	TelemetryDropped uint64
	LastFrameTime    time.Time
}

// Client talks to a single KLF200 gateway. Create one with New, then call
// Connect before issuing any node operations.
type Client struct {
	cfg    Config
	logger Logger

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	nodes     map[byte]*Node
	byName    map[string]*Node

	// reqMu serialises request/confirm exchanges. The gateway answers
	// requests in order, so one outstanding request at a time keeps the
	// correlation trivial.
	reqMu   sync.Mutex
	pending chan frame
	pendCmd uint16

	discovery chan frame

	onTelemetry func(NodeTelemetry)
	telemetryCh chan NodeTelemetry

	sessionID atomic.Uint32

	statsMu sync.Mutex
	stats   Stats

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a gateway client. The telemetry callback is optional and may
// be set later with OnTelemetry, but only before Connect.
func New(cfg Config, logger Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 51200
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Client{
		cfg:         cfg,
		logger:      logger,
		nodes:       make(map[byte]*Node),
		byName:      make(map[string]*Node),
		telemetryCh: make(chan NodeTelemetry, telemetryQueueSize),
		done:        make(chan struct{}),
	}
}

// OnTelemetry registers the callback invoked for every position report.
// Callbacks run on a single goroutine, so reports for the same node arrive
// in the order the gateway sent them.
func (c *Client) OnTelemetry(fn func(NodeTelemetry)) {
	c.onTelemetry = fn
}

// Connect dials the gateway, authenticates, enumerates the node table,
// and enables unsolicited position notifications. It performs a single
// attempt; retry policy belongs to the caller.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.cfg.RequestTimeout},
		// The KLF200 ships with a self-signed certificate and offers no
		// way to install a trusted one.
		Config: &tls.Config{InsecureSkipVerify: true},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.telemetryLoop()

	if err := c.authenticate(ctx); err != nil {
		c.Close()
		return err
	}
	if err := c.enumerateNodes(ctx); err != nil {
		c.Close()
		return err
	}
	if err := c.enableHouseStatusMonitor(ctx); err != nil {
		c.Close()
		return err
	}

	c.logger.Info("gateway connected", "addr", addr, "nodes", len(c.nodes))
	return nil
}

// Close tears down the connection and stops the background goroutines.
// It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
		}
		c.connected = false
		c.mu.Unlock()
		c.wg.Wait()
	})
	return err
}

// IsConnected reports whether the gateway link is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Nodes returns the discovered actuators ordered by node ID.
func (c *Client) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Node looks up an actuator by its gateway name. Returns ErrUnknownNode
// when no node of that name was enumerated.
func (c *Client) Node(name string) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", name, ErrUnknownNode)
	}
	return n, nil
}

// nodeByID looks up an actuator by its gateway node ID.
func (c *Client) nodeByID(id byte) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	return n, nil
}

// Stats returns a snapshot of the traffic counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// RefreshLimitations queries the maximum-position limitation of every node.
// Results arrive as notifications and are folded into the node state and
// the telemetry stream.
func (c *Client) RefreshLimitations(ctx context.Context) error {
	for _, n := range c.Nodes() {
		if err := c.requestLimitationStatus(ctx, n.id); err != nil {
			return fmt.Errorf("limitation status for node %d: %w", n.id, err)
		}
	}
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	data := make([]byte, passwordFieldSize)
	copy(data, c.cfg.Password)
	cfm, err := c.request(ctx, frame{Command: cmdPasswordEnterREQ, Data: data}, cmdPasswordEnterCFM)
	if err != nil {
		return fmt.Errorf("password enter: %w", err)
	}
	if len(cfm.Data) < 1 || cfm.Data[0] != 0 {
		return ErrAuthenticationFailed
	}
	return nil
}

// enumerateNodes walks the gateway's node table. The confirm carries the
// node count, then one notification per node follows, closed off by a
// finished notification.
func (c *Client) enumerateNodes(ctx context.Context) error {
	c.mu.Lock()
	c.discovery = make(chan frame, 8)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.discovery = nil
		c.mu.Unlock()
	}()

	cfm, err := c.request(ctx, frame{Command: cmdGetAllNodesInformationREQ}, cmdGetAllNodesInformationCFM)
	if err != nil {
		return fmt.Errorf("node enumeration: %w", err)
	}
	if len(cfm.Data) >= 1 && cfm.Data[0] != 0 {
		// Status 1 means the table is empty. Not an error, just nothing
		// to bridge.
		c.logger.Warn("gateway reports no nodes")
		return nil
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	for {
		select {
		case f := <-c.readDiscovery():
			switch f.Command {
			case cmdGetAllNodesInformationNTF:
				info, ok := parseNodeInfo(f.Data)
				if !ok {
					c.logger.Warn("malformed node information frame", "bytes", len(f.Data))
					continue
				}
				c.addNode(info)
			case cmdGetAllNodesInformationFinishedNTF:
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("node enumeration: %w", ErrTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrNotConnected
		}
	}
}

func (c *Client) readDiscovery() chan frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discovery
}

func (c *Client) addNode(info nodeInfo) {
	n := &Node{
		client: c,
		id:     info.ID,
		name:   info.Name,
		kind:   info.Kind,
	}
	n.state.position = rawToPercent(info.Position)
	n.state.target = rawToPercent(info.Target)
	n.state.limitationMax = PositionUnknown

	c.mu.Lock()
	c.nodes[info.ID] = n
	c.byName[info.Name] = n
	c.mu.Unlock()

	c.logger.Info("discovered node",
		"id", info.ID,
		"name", info.Name,
		"kind", info.Kind.String(),
		"position", n.state.position)
}

func (c *Client) enableHouseStatusMonitor(ctx context.Context) error {
	_, err := c.request(ctx, frame{Command: cmdHouseStatusMonitorEnableREQ}, cmdHouseStatusMonitorEnableCFM)
	if err != nil {
		return fmt.Errorf("house status monitor: %w", err)
	}
	return nil
}

// nextSessionID returns a fresh command session identifier. Zero is
// skipped so sessions are distinguishable from an unset field.
func (c *Client) nextSessionID() uint16 {
	for {
		id := uint16(c.sessionID.Add(1))
		if id != 0 {
			return id
		}
	}
}

// sendCommand issues GW_COMMAND_SEND_REQ moving a single node's main
// parameter to the given raw position.
func (c *Client) sendCommand(ctx context.Context, nodeID byte, raw uint16) error {
	data := make([]byte, 66)
	session := c.nextSessionID()
	data[0] = byte(session >> 8)
	data[1] = byte(session)
	data[2] = 1 // originator: user
	data[3] = 3 // priority: user level 2
	// data[4..6]: main parameter active, no functional parameters
	data[7] = byte(raw >> 8)
	data[8] = byte(raw)
	// data[9..40]: functional parameter values, unused
	data[41] = 1 // index array count
	data[42] = nodeID
	// data[62..65]: no priority level locks

	cfm, err := c.request(ctx, frame{Command: cmdCommandSendREQ, Data: data}, cmdCommandSendCFM)
	if err != nil {
		return err
	}
	if len(cfm.Data) < 3 || cfm.Data[2] != 1 {
		return fmt.Errorf("%w: node %d", ErrCommandRejected, nodeID)
	}
	return nil
}

// setLimitation issues GW_SET_LIMITATION_REQ for a node's main parameter.
func (c *Client) setLimitation(ctx context.Context, nodeID byte, min, max uint16, lifetime byte) error {
	data := make([]byte, 31)
	session := c.nextSessionID()
	data[0] = byte(session >> 8)
	data[1] = byte(session)
	data[2] = 1 // originator: user
	data[3] = 3 // priority: user level 2
	data[4] = 1 // index array count
	data[5] = nodeID
	// data[25]: parameter id 0 (main parameter)
	data[26] = byte(min >> 8)
	data[27] = byte(min)
	data[28] = byte(max >> 8)
	data[29] = byte(max)
	data[30] = lifetime

	cfm, err := c.request(ctx, frame{Command: cmdSetLimitationREQ, Data: data}, cmdSetLimitationCFM)
	if err != nil {
		return err
	}
	if len(cfm.Data) < 3 || cfm.Data[2] != 1 {
		return fmt.Errorf("%w: set limitation on node %d", ErrCommandRejected, nodeID)
	}
	return nil
}

// requestLimitationStatus asks for a node's maximum limitation. The value
// itself arrives later as GW_LIMITATION_STATUS_NTF.
func (c *Client) requestLimitationStatus(ctx context.Context, nodeID byte) error {
	data := make([]byte, 25)
	session := c.nextSessionID()
	data[0] = byte(session >> 8)
	data[1] = byte(session)
	data[2] = 1 // index array count
	data[3] = nodeID
	// data[23]: parameter id 0 (main parameter)
	data[24] = 1 // limitation type: maximum

	cfm, err := c.request(ctx, frame{Command: cmdGetLimitationStatusREQ, Data: data}, cmdGetLimitationStatusCFM)
	if err != nil {
		return err
	}
	if len(cfm.Data) < 3 || cfm.Data[2] != 1 {
		return fmt.Errorf("%w: limitation status for node %d", ErrCommandRejected, nodeID)
	}
	return nil
}

// request writes a frame and waits for its confirmation. Exchanges are
// serialised; notifications received meanwhile are handled by the read
// loop as usual.
func (c *Client) request(ctx context.Context, req frame, cfmCmd uint16) (frame, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return frame{}, ErrNotConnected
	}
	conn := c.conn
	c.pending = make(chan frame, 1)
	c.pendCmd = cfmCmd
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.pendCmd = 0
		c.mu.Unlock()
	}()

	wire, err := encodeFrame(req)
	if err != nil {
		return frame{}, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.RequestTimeout))
	}
	if _, err := conn.Write(wire); err != nil {
		return frame{}, fmt.Errorf("write command 0x%04x: %w", req.Command, err)
	}

	c.statsMu.Lock()
	c.stats.FramesSent++
	c.statsMu.Unlock()

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	select {
	case cfm := <-pending:
		return cfm, nil
	case <-timer.C:
		return frame{}, fmt.Errorf("confirm 0x%04x: %w", cfmCmd, ErrTimeout)
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-c.done:
		return frame{}, ErrNotConnected
	}
}

// readLoop decodes frames off the wire until the connection drops.
func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	var slip slipReader
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("gateway read failed", "error", err)
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
			}
			return
		}
		for _, body := range slip.Feed(buf[:n]) {
			f, err := decodeFrame(body)
			if err != nil {
				c.statsMu.Lock()
				c.stats.FramesInvalid++
				c.statsMu.Unlock()
				c.logger.Warn("discarding frame", "error", err)
				continue
			}
			c.statsMu.Lock()
			c.stats.FramesReceived++
			c.stats.LastFrameTime = time.Now()
			c.statsMu.Unlock()
			c.handleFrame(f)
		}
	}
}

// handleFrame routes a decoded frame to the pending request, the discovery
// collector, or the notification handlers.
func (c *Client) handleFrame(f frame) {
	c.mu.Lock()
	pending, pendCmd := c.pending, c.pendCmd
	discovery := c.discovery
	c.mu.Unlock()

	if pending != nil && f.Command == pendCmd {
		select {
		case pending <- f:
		default:
		}
		return
	}

	switch f.Command {
	case cmdGetAllNodesInformationNTF, cmdGetAllNodesInformationFinishedNTF:
		if discovery != nil {
			select {
			case discovery <- f:
			default:
				c.logger.Warn("discovery queue full, dropping frame", "command", fmt.Sprintf("0x%04x", f.Command))
			}
		}
	case cmdNodeStatePositionChangedNTF:
		c.handlePositionChange(f.Data)
	case cmdLimitationStatusNTF:
		c.handleLimitationStatus(f.Data)
	case cmdCommandRunStatusNTF, cmdSessionFinishedNTF:
		// Session bookkeeping we do not need; position changes arrive
		// separately via the house status monitor.
	case cmdErrorNTF:
		code := byte(0)
		if len(f.Data) > 0 {
			code = f.Data[0]
		}
		c.logger.Warn("gateway error notification", "code", code)
	default:
		c.logger.Debug("unhandled frame", "command", fmt.Sprintf("0x%04x", f.Command))
	}
}

func (c *Client) handlePositionChange(data []byte) {
	change, ok := parsePositionChange(data)
	if !ok {
		c.logger.Warn("malformed position change frame", "bytes", len(data))
		return
	}

	n, err := c.nodeByID(change.ID)
	if err != nil {
		c.logger.Warn("position change dropped", "error", err)
		return
	}

	n.stateMu.Lock()
	n.state.position = rawToPercent(change.Position)
	n.state.target = rawToPercent(change.Target)
	tel := NodeTelemetry{
		NodeID:        n.id,
		Name:          n.name,
		Position:      n.state.position,
		Target:        n.state.target,
		LimitationMax: n.state.limitationMax,
	}
	n.stateMu.Unlock()

	c.queueTelemetry(tel)
}

func (c *Client) handleLimitationStatus(data []byte) {
	status, ok := parseLimitationStatus(data)
	if !ok {
		c.logger.Warn("malformed limitation status frame", "bytes", len(data))
		return
	}

	n, err := c.nodeByID(status.ID)
	if err != nil {
		c.logger.Debug("limitation status dropped", "error", err)
		return
	}

	n.stateMu.Lock()
	n.state.limitationMax = rawToPercent(status.Max)
	tel := NodeTelemetry{
		NodeID:        n.id,
		Name:          n.name,
		Position:      n.state.position,
		Target:        n.state.target,
		LimitationMax: n.state.limitationMax,
	}
	n.stateMu.Unlock()

	c.queueTelemetry(tel)
}

// queueTelemetry hands a report to the dispatch goroutine. Reports are
// dropped rather than blocking the read loop when the consumer stalls.
func (c *Client) queueTelemetry(tel NodeTelemetry) {
	select {
	case c.telemetryCh <- tel:
	default:
		c.statsMu.Lock()
		c.stats.TelemetryDropped++
		c.statsMu.Unlock()
		c.logger.Warn("telemetry queue full, dropping report", "node", tel.Name)
	}
}

// telemetryLoop delivers queued reports to the callback one at a time.
func (c *Client) telemetryLoop() {
	defer c.wg.Done()
	for {
		select {
		case tel := <-c.telemetryCh:
			if c.onTelemetry != nil {
				c.onTelemetry(tel)
			}
		case <-c.done:
			return
		}
	}
}
