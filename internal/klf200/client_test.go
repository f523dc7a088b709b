package klf200

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// newOfflineClient builds a client with a pre-populated node table and a
// running telemetry loop, without touching the network.
func newOfflineClient(t *testing.T) *Client {
	t.Helper()
	c := New(Config{Host: "gateway.test", Password: "secret"}, testLogger{})
	c.addNode(nodeInfo{ID: 1, Name: "Skylight", Kind: KindWindow, Position: 0, Target: 0})
	c.wg.Add(1)
	go c.telemetryLoop()
	t.Cleanup(func() {
		close(c.done)
		c.wg.Wait()
	})
	return c
}

func TestHandlePositionChangeDeliversInOrder(t *testing.T) {
	c := newOfflineClient(t)

	var mu sync.Mutex
	var got []NodeTelemetry
	done := make(chan struct{})
	c.OnTelemetry(func(tel NodeTelemetry) {
		mu.Lock()
		got = append(got, tel)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	for _, raw := range []uint16{0x3200, 0x6400, 0xC800} { // 25%, 50%, 100%
		data := make([]byte, 20)
		data[0] = 1
		data[2] = byte(raw >> 8)
		data[3] = byte(raw)
		data[4] = 0xC8 // target 100%
		c.handlePositionChange(data)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("telemetry not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{25, 50, 100}
	for i, tel := range got {
		if tel.Name != "Skylight" {
			t.Errorf("telemetry[%d].Name = %q, want Skylight", i, tel.Name)
		}
		if tel.Position != want[i] {
			t.Errorf("telemetry[%d].Position = %d, want %d (receipt order)", i, tel.Position, want[i])
		}
		if tel.Target != 100 {
			t.Errorf("telemetry[%d].Target = %d, want 100", i, tel.Target)
		}
	}

	// Node cache reflects the latest report.
	n, err := c.Node("Skylight")
	if err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if tel := n.Telemetry(); tel.Position != 100 {
		t.Errorf("cached position = %d, want 100", tel.Position)
	}
}

func TestHandlePositionChangeUnknownNode(t *testing.T) {
	c := newOfflineClient(t)

	delivered := make(chan struct{}, 1)
	c.OnTelemetry(func(NodeTelemetry) { delivered <- struct{}{} })

	data := make([]byte, 20)
	data[0] = 99 // not in the table
	c.handlePositionChange(data)

	select {
	case <-delivered:
		t.Error("telemetry delivered for unknown node")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNodeUnknownName(t *testing.T) {
	c := newOfflineClient(t)

	if _, err := c.Node("Attic"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Node() error = %v, want ErrUnknownNode", err)
	}
}

func TestHandleLimitationStatusUpdatesNode(t *testing.T) {
	c := newOfflineClient(t)

	delivered := make(chan NodeTelemetry, 1)
	c.OnTelemetry(func(tel NodeTelemetry) { delivered <- tel })

	data := make([]byte, 10)
	data[2] = 1                   // node id
	data[6], data[7] = 0x0A, 0x00 // max 5%
	c.handleLimitationStatus(data)

	select {
	case tel := <-delivered:
		if tel.LimitationMax != 5 {
			t.Errorf("LimitationMax = %d, want 5", tel.LimitationMax)
		}
	case <-time.After(time.Second):
		t.Fatal("limitation telemetry not delivered")
	}
}

func TestNodesOrderedByID(t *testing.T) {
	c := New(Config{Host: "gateway.test"}, testLogger{})
	c.addNode(nodeInfo{ID: 9, Name: "C"})
	c.addNode(nodeInfo{ID: 1, Name: "A"})
	c.addNode(nodeInfo{ID: 4, Name: "B"})

	var ids []byte
	for _, n := range c.Nodes() {
		ids = append(ids, n.ID())
	}
	want := []byte{1, 4, 9}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Nodes() order = %v, want %v", ids, want)
		}
	}
}

func TestRequestWithoutConnection(t *testing.T) {
	c := New(Config{Host: "gateway.test"}, testLogger{})
	if _, err := c.request(context.Background(), frame{Command: cmdPasswordEnterREQ}, cmdPasswordEnterCFM); err != ErrNotConnected {
		t.Errorf("request() error = %v, want ErrNotConnected", err)
	}
}
