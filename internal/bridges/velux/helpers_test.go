package velux

import (
	"context"
	"strings"
	"sync"

	"github.com/openhomelab/vlxmqttha/internal/infrastructure/mqtt"
	"github.com/openhomelab/vlxmqttha/internal/klf200"
)

// recordingLogger captures log lines for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *recordingLogger) count(level, substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if strings.HasPrefix(line, level+": ") && strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

// publishRecord is one captured MQTT publish.
type publishRecord struct {
	Topic    string
	Payload  string
	Retained bool
}

// fakeBus records publishes and subscriptions in memory.
type fakeBus struct {
	mu        sync.Mutex
	published []publishRecord
	handlers  map[string]mqtt.MessageHandler
	closed    bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeBus) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishRecord{topic, string(payload), retained})
	return nil
}

func (f *fakeBus) PublishString(topic string, payload string, qos byte, retained bool) error {
	return f.Publish(topic, []byte(payload), qos, retained)
}

func (f *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBus) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// deliver simulates an inbound message on a subscribed topic.
func (f *fakeBus) deliver(topic, payload string) error {
	f.mu.Lock()
	handler := f.handlers[topic]
	f.mu.Unlock()
	if handler == nil {
		return nil
	}
	return handler(topic, []byte(payload))
}

// publishesTo returns all captured payloads for a topic, in order.
func (f *fakeBus) publishesTo(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.published {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

// fakeActuator counts gateway operations.
type fakeActuator struct {
	mu        sync.Mutex
	opens     int
	closes    int
	stops     int
	positions []int
	limits    []int
	cleared   int
	telemetry klf200.NodeTelemetry
}

func (a *fakeActuator) Open(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opens++
	return nil
}

func (a *fakeActuator) Close(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
	return nil
}

func (a *fakeActuator) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
	return nil
}

func (a *fakeActuator) SetPosition(_ context.Context, percent int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions = append(a.positions, percent)
	return nil
}

func (a *fakeActuator) SetMaxLimitation(_ context.Context, percent int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limits = append(a.limits, percent)
	return nil
}

func (a *fakeActuator) ClearLimitation(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleared++
	return nil
}

func (a *fakeActuator) Telemetry() klf200.NodeTelemetry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.telemetry
}

func (a *fakeActuator) setTelemetry(tel klf200.NodeTelemetry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.telemetry = tel
}

func (a *fakeActuator) counts() (opens, closes, stops int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens, a.closes, a.stops
}

func newTestCover(name string, kind klf200.NodeKind, inverted bool) (*Cover, *fakeBus, *fakeActuator, *recordingLogger) {
	bus := newFakeBus()
	act := &fakeActuator{}
	logger := &recordingLogger{}
	cover := NewCover(CoverConfig{
		Name:            name,
		Kind:            kind,
		Inverted:        inverted,
		DiscoveryPrefix: "homeassistant",
		QoS:             1,
		Actuator:        act,
		Dispatcher:      NewDispatcher(DispatcherConfig{Logger: logger}),
		MQTT:            bus,
		Logger:          logger,
	})
	return cover, bus, act, logger
}
