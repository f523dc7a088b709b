package velux

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/openhomelab/vlxmqttha/internal/klf200"
)

func TestCoverStartPublishesDiscoveryAndSubscribes(t *testing.T) {
	cover, bus, _, _ := newTestCover("Büro-Fenster", klf200.KindWindow, false)

	if err := cover.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if cover.ID() != "vlx-buero-fenster" {
		t.Errorf("ID() = %q, want %q", cover.ID(), "vlx-buero-fenster")
	}

	configs := bus.publishesTo("homeassistant/cover/vlx-buero-fenster/config")
	if len(configs) != 1 {
		t.Fatalf("discovery config published %d times, want 1", len(configs))
	}
	var d map[string]any
	if err := json.Unmarshal([]byte(configs[0]), &d); err != nil {
		t.Fatalf("discovery payload not valid JSON: %v", err)
	}
	if d["device_class"] != "window" {
		t.Errorf("device_class = %v, want window", d["device_class"])
	}
	if d["position_open"] != float64(0) || d["position_closed"] != float64(100) {
		t.Errorf("endpoints = %v/%v, want 0/100", d["position_open"], d["position_closed"])
	}

	// A window also announces its keep-open switch.
	swConfigs := bus.publishesTo("homeassistant/switch/vlx-buero-fenster-keepopen/config")
	if len(swConfigs) != 1 {
		t.Fatalf("switch config published %d times, want 1", len(swConfigs))
	}

	bus.mu.Lock()
	_, cmdSub := bus.handlers["homeassistant/cover/vlx-buero-fenster/set"]
	_, swSub := bus.handlers["homeassistant/switch/vlx-buero-fenster-keepopen/set"]
	bus.mu.Unlock()
	if !cmdSub {
		t.Error("command topic not subscribed")
	}
	if !swSub {
		t.Error("switch command topic not subscribed")
	}

	avail := bus.publishesTo("homeassistant/cover/vlx-buero-fenster/available")
	if len(avail) == 0 || avail[0] != "online" {
		t.Errorf("availability = %v, want online first", avail)
	}
}

func TestCoverInvertedDiscoverySwapsEndpoints(t *testing.T) {
	cover, bus, _, _ := newTestCover("Terrasse", klf200.KindAwning, true)

	if err := cover.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	configs := bus.publishesTo("homeassistant/cover/vlx-terrasse/config")
	if len(configs) != 1 {
		t.Fatalf("discovery config published %d times, want 1", len(configs))
	}
	var d map[string]any
	if err := json.Unmarshal([]byte(configs[0]), &d); err != nil {
		t.Fatalf("discovery payload not valid JSON: %v", err)
	}
	if d["position_open"] != float64(100) || d["position_closed"] != float64(0) {
		t.Errorf("endpoints = %v/%v, want 100/0 for inverted cover", d["position_open"], d["position_closed"])
	}

	// Awnings get no keep-open switch.
	if sw := bus.publishesTo("homeassistant/switch/vlx-terrasse-keepopen/config"); len(sw) != 0 {
		t.Error("non-window cover published a keep-open switch")
	}
}

func TestCoverTelemetryAlwaysRepublishes(t *testing.T) {
	cover, bus, _, logger := newTestCover("Dachfenster", klf200.KindWindow, false)

	cover.HandleTelemetry(40, 40, 100)
	cover.HandleTelemetry(40, 40, 100)

	positions := bus.publishesTo("homeassistant/cover/vlx-dachfenster/position")
	states := bus.publishesTo("homeassistant/cover/vlx-dachfenster/state")
	if len(positions) != 2 {
		t.Errorf("position published %d times, want 2 (never suppressed)", len(positions))
	}
	if len(states) != 2 {
		t.Errorf("state published %d times, want 2 (never suppressed)", len(states))
	}
	for _, p := range positions {
		if p != "40" {
			t.Errorf("position payload = %q, want %q", p, "40")
		}
	}
	for _, s := range states {
		if s != "open" {
			t.Errorf("state payload = %q, want %q", s, "open")
		}
	}

	// Only the unset→open transition is worth a log line.
	if got := logger.count("info", "state changed"); got != 1 {
		t.Errorf("state change logged %d times, want 1", got)
	}
}

func TestCoverTelemetryLogsEachChange(t *testing.T) {
	cover, _, _, logger := newTestCover("Dachfenster", klf200.KindWindow, false)

	cover.HandleTelemetry(0, 100, 100)   // closing
	cover.HandleTelemetry(50, 100, 100)  // still closing
	cover.HandleTelemetry(100, 100, 100) // closed

	if got := logger.count("info", "state changed"); got != 2 {
		t.Errorf("state change logged %d times, want 2", got)
	}
}

func TestCoverTelemetryCorrection(t *testing.T) {
	cover, bus, _, logger := newTestCover("Dachfenster", klf200.KindWindow, false)

	cover.HandleTelemetry(150, 50, 100)

	if logger.count("warn", "position out of range") != 1 {
		t.Error("out-of-range position not warned about")
	}
	positions := bus.publishesTo("homeassistant/cover/vlx-dachfenster/position")
	if len(positions) != 1 || positions[0] != "0" {
		t.Errorf("published positions = %v, want [0]", positions)
	}
}

func TestCoverTelemetryKeepOpenSwitchState(t *testing.T) {
	cover, bus, _, _ := newTestCover("Dachfenster", klf200.KindWindow, false)

	cover.HandleTelemetry(10, 10, 0)   // limitation holds the window open
	cover.HandleTelemetry(10, 10, 100) // limitation cleared
	cover.HandleTelemetry(10, 10, klf200.PositionUnknown)

	states := bus.publishesTo("homeassistant/switch/vlx-dachfenster-keepopen/state")
	want := []string{"ON", "OFF", "OFF"}
	if len(states) != len(want) {
		t.Fatalf("switch state published %d times, want %d", len(states), len(want))
	}
	for i, s := range states {
		if s != want[i] {
			t.Errorf("switch state[%d] = %q, want %q", i, s, want[i])
		}
	}
}

func TestCoverRepublishNeverRegressesPosition(t *testing.T) {
	cover, bus, act, _ := newTestCover("Dachfenster", klf200.KindWindow, false)

	// Gateway reports advance the position while periodic refreshes
	// republish the actuator's cached snapshot. A refresh that read the
	// snapshot before a fresher report but published after it would
	// retain a stale position on the bus.
	const reports = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for k := 1; k <= reports; k++ {
			act.setTelemetry(klf200.NodeTelemetry{Position: k, Target: k, LimitationMax: 100})
			cover.HandleTelemetry(k, k, 100)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < reports; i++ {
			cover.Republish()
		}
	}()
	wg.Wait()

	positions := bus.publishesTo("homeassistant/cover/vlx-dachfenster/position")
	prev := -1
	for i, p := range positions {
		n, err := strconv.Atoi(p)
		if err != nil {
			t.Fatalf("position payload %q not numeric: %v", p, err)
		}
		if n < prev {
			t.Fatalf("position[%d] = %d after %d, stale snapshot republished", i, n, prev)
		}
		prev = n
	}
	if prev != reports {
		t.Errorf("last published position = %d, want %d", prev, reports)
	}
}

func TestCoverStopCommand(t *testing.T) {
	cover, bus, act, _ := newTestCover("Dachfenster", klf200.KindWindow, false)
	if err := cover.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cover.HandleTelemetry(50, 100, 100) // closing

	if err := bus.deliver("homeassistant/cover/vlx-dachfenster/set", "STOP"); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	_, _, stops := act.counts()
	if stops != 1 {
		t.Errorf("stop() invoked %d times, want exactly 1", stops)
	}

	// lastState only moves on telemetry, never on commands.
	state, ok := cover.LastState()
	if !ok || state != StateClosing {
		t.Errorf("LastState() = %v, %v; want closing, true", state, ok)
	}
}

func TestCoverCommandPolarity(t *testing.T) {
	tests := []struct {
		name       string
		inverted   bool
		payload    string
		wantOpens  int
		wantCloses int
	}{
		{"normal open", false, "OPEN", 1, 0},
		{"normal close", false, "CLOSE", 0, 1},
		{"inverted open becomes close", true, "OPEN", 0, 1},
		{"inverted close becomes open", true, "CLOSE", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cover, bus, act, _ := newTestCover("Markise", klf200.KindAwning, tt.inverted)
			if err := cover.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			if err := bus.deliver("homeassistant/cover/vlx-markise/set", tt.payload); err != nil {
				t.Fatalf("deliver() error = %v", err)
			}

			opens, closes, _ := act.counts()
			if opens != tt.wantOpens || closes != tt.wantCloses {
				t.Errorf("opens=%d closes=%d, want opens=%d closes=%d",
					opens, closes, tt.wantOpens, tt.wantCloses)
			}
		})
	}
}

func TestCoverPositionCommand(t *testing.T) {
	cover, bus, act, _ := newTestCover("Markise", klf200.KindAwning, false)
	if err := cover.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := bus.deliver("homeassistant/cover/vlx-markise/set", "73"); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	act.mu.Lock()
	positions := append([]int{}, act.positions...)
	act.mu.Unlock()
	if len(positions) != 1 || positions[0] != 73 {
		t.Errorf("SetPosition calls = %v, want [73]", positions)
	}
}

func TestCoverRejectsInvalidPayloads(t *testing.T) {
	cover, bus, act, logger := newTestCover("Markise", klf200.KindAwning, false)
	if err := cover.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, payload := range []string{"UP", "101", "-3", "12,5", ""} {
		if err := bus.deliver("homeassistant/cover/vlx-markise/set", payload); err != nil {
			t.Fatalf("deliver(%q) error = %v", payload, err)
		}
	}

	opens, closes, stops := act.counts()
	act.mu.Lock()
	moves := len(act.positions)
	act.mu.Unlock()
	if opens+closes+stops+moves != 0 {
		t.Error("invalid payload reached the actuator")
	}
	if got := logger.count("error", "rejecting command payload"); got != 5 {
		t.Errorf("rejections logged %d times, want 5", got)
	}
}

func TestCoverKeepOpenSwitchCommands(t *testing.T) {
	cover, bus, act, _ := newTestCover("Dachfenster", klf200.KindWindow, false)
	if err := cover.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := bus.deliver("homeassistant/switch/vlx-dachfenster-keepopen/set", "ON"); err != nil {
		t.Fatalf("deliver(ON) error = %v", err)
	}
	if err := bus.deliver("homeassistant/switch/vlx-dachfenster-keepopen/set", "OFF"); err != nil {
		t.Fatalf("deliver(OFF) error = %v", err)
	}

	act.mu.Lock()
	limits := append([]int{}, act.limits...)
	cleared := act.cleared
	act.mu.Unlock()
	if len(limits) != 1 || limits[0] != 0 {
		t.Errorf("SetMaxLimitation calls = %v, want [0] (pin fully open)", limits)
	}
	if cleared != 1 {
		t.Errorf("ClearLimitation called %d times, want 1", cleared)
	}
}

func TestCoverAvailabilityIdempotent(t *testing.T) {
	cover, bus, _, _ := newTestCover("Dachfenster", klf200.KindWindow, false)

	for i := 0; i < 3; i++ {
		if err := cover.PublishAvailability(true); err != nil {
			t.Fatalf("PublishAvailability() error = %v", err)
		}
	}
	if err := cover.PublishAvailability(false); err != nil {
		t.Fatalf("PublishAvailability(false) error = %v", err)
	}

	avail := bus.publishesTo("homeassistant/cover/vlx-dachfenster/available")
	want := []string{"online", "online", "online", "offline"}
	if len(avail) != len(want) {
		t.Fatalf("availability published %d times, want %d", len(avail), len(want))
	}
	for i, a := range avail {
		if a != want[i] {
			t.Errorf("availability[%d] = %q, want %q", i, a, want[i])
		}
	}

	// Availability never touches the state.
	if _, ok := cover.LastState(); ok {
		t.Error("PublishAvailability changed lastState")
	}
}

// hangingActuator blocks Open until released, everything else delegates.
type hangingActuator struct {
	fakeActuator
	started chan struct{}
	release chan struct{}
}

func (a *hangingActuator) Open(ctx context.Context) error {
	close(a.started)
	select {
	case <-a.release:
	case <-ctx.Done():
	}
	return ctx.Err()
}

func TestCommandForOneDeviceDoesNotStallAnother(t *testing.T) {
	logger := &recordingLogger{}
	dispatcher := NewDispatcher(DispatcherConfig{Logger: logger})

	hung := &hangingActuator{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	defer close(hung.release)

	busOne := newFakeBus()
	coverOne := NewCover(CoverConfig{
		Name:            "Dachfenster",
		Kind:            klf200.KindWindow,
		DiscoveryPrefix: "homeassistant",
		QoS:             1,
		Actuator:        hung,
		Dispatcher:      dispatcher,
		MQTT:            busOne,
		Logger:          logger,
	})
	if err := coverOne.Start(context.Background()); err != nil {
		t.Fatalf("Start(one) error = %v", err)
	}

	coverTwo, busTwo, actTwo, _ := newTestCover("Markise", klf200.KindAwning, false)
	coverTwo.dispatcher = dispatcher
	if err := coverTwo.Start(context.Background()); err != nil {
		t.Fatalf("Start(two) error = %v", err)
	}

	// The broker client delivers each message on its own goroutine, so a
	// handler blocked on a slow gateway operation only occupies that
	// goroutine and its dispatcher slot.
	go func() {
		_ = busOne.deliver("homeassistant/cover/vlx-dachfenster/set", "OPEN")
	}()
	select {
	case <-hung.started:
	case <-time.After(time.Second):
		t.Fatal("first device's gateway operation never started")
	}

	done := make(chan struct{})
	go func() {
		_ = busTwo.deliver("homeassistant/cover/vlx-markise/set", "STOP")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second device's command stalled behind the first device's gateway operation")
	}

	_, _, stops := actTwo.counts()
	if stops != 1 {
		t.Errorf("stop() invoked %d times, want 1", stops)
	}
}

func TestCoverStopUnsubscribesAndGoesOffline(t *testing.T) {
	cover, bus, _, _ := newTestCover("Dachfenster", klf200.KindWindow, false)
	if err := cover.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cover.Stop()

	bus.mu.Lock()
	remaining := len(bus.handlers)
	bus.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d subscriptions left after Stop", remaining)
	}

	avail := bus.publishesTo("homeassistant/cover/vlx-dachfenster/available")
	if len(avail) == 0 || avail[len(avail)-1] != "offline" {
		t.Errorf("availability = %v, want offline last", avail)
	}
}
