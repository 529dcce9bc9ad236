package tuya

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the messages published to topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessageOn delivers a message on topic to the handler subscribed
// with pattern.
func (m *MockMQTTClient) SimulateMessageOn(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// mockTelemetry implements TelemetryWriter for testing.
type mockTelemetry struct {
	mu         sync.Mutex
	states     []string
	datapoints []string
}

func (m *mockTelemetry) WriteLightState(lightID string, on bool, brightness float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, lightID)
}

func (m *mockTelemetry) WriteDatapoint(deviceID string, dpID uint8, dpType string, value int64, direction string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datapoints = append(m.datapoints, direction+":"+deviceID)
}

func (m *mockTelemetry) counts() (states, datapoints int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states), len(m.datapoints)
}

// mockRecorder implements DatapointRecorder for testing.
type mockRecorder struct {
	mu       sync.Mutex
	recorded []Datapoint
}

func (m *mockRecorder) RecordDatapoint(deviceID string, dp Datapoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, dp)
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recorded)
}

func testBridgeConfig() *Config {
	cfg := defaultConfig()
	cfg.Bridge.ID = "tuya-test"
	cfg.Bridge.LoopInterval = 5
	cfg.Transport.CommandInterval = 0
	cfg.Devices = []DeviceConfig{
		{
			ID:   "desk-lamp",
			Name: "Desk Lamp",
			Lights: []LightConfig{{
				ID:                "desk",
				Name:              "Desk",
				DimmerDatapoint:   SomeID(2),
				SwitchDatapoint:   SomeID(1),
				MinValueDatapoint: SomeID(3),
				MinValue:          10,
				MaxValue:          1000,
				GammaCorrect:      1,
			}},
		},
		{
			ID: "hall-switch",
			Lights: []LightConfig{{
				ID:              "hall",
				SwitchDatapoint: SomeID(1),
				MinValue:        DefaultMinValue,
				MaxValue:        DefaultMaxValue,
				GammaCorrect:    1,
			}},
		},
	}
	return cfg
}

type bridgeFixture struct {
	bridge    *Bridge
	mqtt      *MockMQTTClient
	telemetry *mockTelemetry
	recorder  *mockRecorder
}

func startTestBridge(t *testing.T) *bridgeFixture {
	t.Helper()
	return startTestBridgeWithConfig(t, testBridgeConfig())
}

func startTestBridgeWithConfig(t *testing.T, cfg *Config) *bridgeFixture {
	t.Helper()

	f := &bridgeFixture{
		mqtt:      NewMockMQTTClient(),
		telemetry: &mockTelemetry{},
		recorder:  &mockRecorder{},
	}

	b, err := NewBridge(BridgeOptions{
		Config:     cfg,
		MQTTClient: f.mqtt,
		Telemetry:  f.telemetry,
		Recorder:   f.recorder,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	f.bridge = b

	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		b.Stop()
		cancel()
	})
	return f
}

// sets returns the datapoints published to the set topic of deviceID.
func (f *bridgeFixture) sets(t *testing.T, deviceID string) []Datapoint {
	t.Helper()
	var out []Datapoint
	for _, p := range f.mqtt.PublishedTo(SetTopic(DefaultTopicPrefix, deviceID)) {
		var dp Datapoint
		if err := json.Unmarshal(p.Payload, &dp); err != nil {
			t.Fatalf("decoding set payload %s: %v", p.Payload, err)
		}
		out = append(out, dp)
	}
	return out
}

// lastOfType returns the last datapoint of type typ in dps.
func lastOfType(dps []Datapoint, typ DatapointType) (Datapoint, bool) {
	for i := len(dps) - 1; i >= 0; i-- {
		if dps[i].Type == typ {
			return dps[i], true
		}
	}
	return Datapoint{}, false
}

func (f *bridgeFixture) report(deviceID string, payload string) {
	f.mqtt.SimulateMessageOn(ReportSubscribeTopic(DefaultTopicPrefix), ReportTopic(DefaultTopicPrefix, deviceID), []byte(payload))
}

func (f *bridgeFixture) command(lightID, payload string) {
	f.mqtt.SimulateMessageOn(CommandSubscribeTopic(), CommandTopic(lightID), []byte(payload))
}

func (f *bridgeFixture) acks(t *testing.T, lightID string) []AckMessage {
	t.Helper()
	var out []AckMessage
	for _, p := range f.mqtt.PublishedTo(AckTopic(lightID)) {
		var ack AckMessage
		if err := json.Unmarshal(p.Payload, &ack); err != nil {
			t.Fatalf("decoding ack: %v", err)
		}
		out = append(out, ack)
	}
	return out
}

func TestNewBridgeValidation(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{MQTTClient: NewMockMQTTClient()}); err == nil {
		t.Error("expected error without config")
	}
	if _, err := NewBridge(BridgeOptions{Config: testBridgeConfig()}); err == nil {
		t.Error("expected error without MQTT client")
	}

	cfg := testBridgeConfig()
	cfg.Devices[0].Lights[0].MaxValue = 10
	if _, err := NewBridge(BridgeOptions{Config: cfg, MQTTClient: NewMockMQTTClient()}); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("NewBridge() with equal range error = %v, want ErrInvalidRange", err)
	}
}

func TestBridgeStartSubscribesAndBootstraps(t *testing.T) {
	f := startTestBridge(t)

	topics := map[string]bool{}
	for _, s := range f.mqtt.GetSubscriptions() {
		topics[s.Topic] = true
	}
	if !topics[CommandSubscribeTopic()] || !topics["tuya/+/dp/report"] {
		t.Errorf("subscriptions = %+v", f.mqtt.GetSubscriptions())
	}

	waitFor(t, func() bool { return len(f.sets(t, "desk-lamp")) == 1 })
	if got := f.sets(t, "desk-lamp")[0]; got != IntegerDatapoint(3, 10) {
		t.Errorf("bootstrap write = %v, want %v", got, IntegerDatapoint(3, 10))
	}
	if len(f.sets(t, "hall-switch")) != 0 {
		t.Error("light without min_value_datapoint wrote at startup")
	}

	health := f.mqtt.PublishedTo(HealthTopic())
	if len(health) < 2 || !health[0].Retained {
		t.Fatalf("health messages = %d, want starting and healthy", len(health))
	}

	if err := f.bridge.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestBridgeCommandOn(t *testing.T) {
	f := startTestBridge(t)

	f.command("desk", `{"id":"c1","command":"on","parameters":{"level":50}}`)

	waitFor(t, func() bool { return len(f.acks(t, "desk")) == 1 })
	ack := f.acks(t, "desk")[0]
	if ack.CommandID != "c1" || ack.Status != AckAccepted || ack.LightID != "desk" {
		t.Errorf("ack = %+v", ack)
	}

	// Bootstrap, then dimmer and switch.
	waitFor(t, func() bool { return len(f.sets(t, "desk-lamp")) == 3 })
	sets := f.sets(t, "desk-lamp")
	if sets[1] != IntegerDatapoint(2, 505) || sets[2] != BooleanDatapoint(1, true) {
		t.Errorf("writes = %v", sets)
	}

	states := f.mqtt.PublishedTo(StateTopic("desk"))
	if len(states) != 1 || !states[0].Retained {
		t.Fatalf("state messages = %+v", states)
	}
	var msg StateMessage
	if err := json.Unmarshal(states[0].Payload, &msg); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if !msg.State.On || msg.State.Level != 50 {
		t.Errorf("state = %+v", msg.State)
	}

	var snap LightSnapshot
	waitFor(t, func() bool {
		snap, _ = f.bridge.Light("desk")
		return snap.On
	})
	if snap.Level != 50 || snap.DeviceID != "desk-lamp" || !snap.SupportsBrightness {
		t.Errorf("snapshot = %+v", snap)
	}

	if states, _ := f.telemetry.counts(); states != 1 {
		t.Errorf("state telemetry = %d, want 1", states)
	}
}

func TestBridgeCommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		light    string
		payload  string
		wantCode string
	}{
		{"unknown light", "garage", `{"id":"c1","command":"on"}`, ErrCodeNotConfigured},
		{"unknown command", "desk", `{"id":"c2","command":"blink"}`, ErrCodeInvalidCommand},
		{"dim without level", "desk", `{"id":"c3","command":"dim"}`, ErrCodeInvalidParameters},
		{"level out of range", "desk", `{"id":"c4","command":"dim","parameters":{"level":150}}`, ErrCodeInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := startTestBridge(t)
			f.command(tt.light, tt.payload)

			waitFor(t, func() bool { return len(f.acks(t, tt.light)) == 1 })
			ack := f.acks(t, tt.light)[0]
			if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want code %s", ack, tt.wantCode)
			}
		})
	}
}

func TestBridgeCommandAssignsID(t *testing.T) {
	f := startTestBridge(t)
	f.command("hall", `{"command":"toggle"}`)

	waitFor(t, func() bool { return len(f.acks(t, "hall")) == 1 })
	if ack := f.acks(t, "hall")[0]; ack.CommandID == "" || ack.Status != AckAccepted {
		t.Errorf("ack = %+v, want an assigned id", ack)
	}
	waitFor(t, func() bool { return len(f.sets(t, "hall-switch")) == 1 })
	if got := f.sets(t, "hall-switch")[0]; got != BooleanDatapoint(1, true) {
		t.Errorf("toggle wrote %v, want switch on", got)
	}
}

func TestBridgeReportUpdatesStateWithoutEcho(t *testing.T) {
	f := startTestBridge(t)

	ctx := context.Background()
	if err := f.bridge.SubmitCommand(ctx, CommandMessage{LightID: "desk", Command: CommandOn}); err != nil {
		t.Fatalf("SubmitCommand() error = %v", err)
	}
	waitFor(t, func() bool { return len(f.sets(t, "desk-lamp")) == 3 })

	f.report("desk-lamp", `{"id":2,"type":"integer","value":505}`)

	waitFor(t, func() bool {
		snap, _ := f.bridge.Light("desk")
		return snap.Level == 50
	})

	// Let any echo reach the transport before checking.
	time.Sleep(30 * time.Millisecond)
	if sets := f.sets(t, "desk-lamp"); len(sets) != 3 {
		t.Errorf("device report was echoed: %v", sets)
	}

	if f.recorder.count() != 1 {
		t.Errorf("recorded = %d, want 1", f.recorder.count())
	}
	if got := len(f.mqtt.PublishedTo(StateTopic("desk"))); got != 2 {
		t.Errorf("state messages = %d, want 2", got)
	}

	dev, err := f.bridge.Device("desk-lamp")
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if len(dev.Datapoints) != 1 || dev.Datapoints[0] != IntegerDatapoint(2, 505) {
		t.Errorf("device datapoints = %v", dev.Datapoints)
	}
}

func TestBridgeReportFromUnknownDeviceIsRecorded(t *testing.T) {
	f := startTestBridge(t)
	f.report("unknown", `{"id":9,"type":"boolean","value":true}`)

	if f.recorder.count() != 1 {
		t.Errorf("recorded = %d, want 1", f.recorder.count())
	}
	if _, err := f.bridge.Device("unknown"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Device(unknown) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestBridgeTransition(t *testing.T) {
	f := startTestBridge(t)
	ctx := context.Background()

	err := f.bridge.SubmitCommand(ctx, CommandMessage{
		LightID:    "desk",
		Command:    CommandOn,
		Parameters: map[string]any{"transition": 0.1},
	})
	if err != nil {
		t.Fatalf("SubmitCommand() error = %v", err)
	}

	// The final dimmer write is full brightness.
	waitFor(t, func() bool {
		sets := f.sets(t, "desk-lamp")
		last, ok := lastOfType(sets, TypeInteger)
		return len(sets) >= 5 && ok && last == IntegerDatapoint(2, 1000)
	})
	waitFor(t, func() bool {
		snap, _ := f.bridge.Light("desk")
		return snap.On && !snap.Transitioning && snap.OutputBrightness == 1
	})

	// At least one dimmer write lies between the endpoints.
	intermediate := false
	for _, dp := range f.sets(t, "desk-lamp")[1:] {
		if dp.Type == TypeInteger && dp.Int < 1000 {
			intermediate = true
		}
	}
	if !intermediate {
		t.Error("no intermediate dimmer value written during the transition")
	}
}

func TestBridgePacedTransitionKeepsLatestValue(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.Bridge.LoopInterval = 16
	cfg.Transport.CommandInterval = 50
	cfg.Transport.QueueSize = 64
	f := startTestBridgeWithConfig(t, cfg)

	err := f.bridge.SubmitCommand(context.Background(), CommandMessage{
		LightID:    "desk",
		Command:    CommandDim,
		Parameters: map[string]any{"level": 20.0, "transition": 2.0},
	})
	if err != nil {
		t.Fatalf("SubmitCommand() error = %v", err)
	}

	m, err := NewRangeMapper(10, 1000)
	if err != nil {
		t.Fatalf("NewRangeMapper() error = %v", err)
	}
	want := IntegerDatapoint(2, int32(m.ToRaw(0.2, true))) // #nosec G115 -- within 10..1000

	start := time.Now()
	waitForWithin(t, 5*time.Second, func() bool {
		snap, _ := f.bridge.Light("desk")
		last, _ := lastOfType(f.sets(t, "desk-lamp"), TypeInteger)
		return !snap.Transitioning && f.bridge.transport.Stats().Queued == 0 && last == want
	})

	// The device catches up within about one command interval of the
	// transition ending.
	if elapsed := time.Since(start); elapsed > 2*time.Second+500*time.Millisecond {
		t.Errorf("device caught up after %v, want shortly after the 2s transition", elapsed)
	}

	stats := f.bridge.transport.Stats()
	if stats.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", stats.Dropped)
	}
	if stats.Coalesced == 0 {
		t.Error("expected transition writes to be coalesced under pacing")
	}

	if sw, ok := lastOfType(f.sets(t, "desk-lamp"), TypeBoolean); !ok || sw != BooleanDatapoint(1, true) {
		t.Errorf("last switch write = %v, want on", sw)
	}
}

func TestBridgeSubmitCommand(t *testing.T) {
	f := startTestBridge(t)
	ctx := context.Background()

	if err := f.bridge.SubmitCommand(ctx, CommandMessage{LightID: "nope", Command: CommandOn}); !errors.Is(err, ErrLightNotFound) {
		t.Errorf("unknown light error = %v, want ErrLightNotFound", err)
	}
	if err := f.bridge.SubmitCommand(ctx, CommandMessage{LightID: "desk", Command: "blink"}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("unknown command error = %v, want ErrInvalidCommand", err)
	}

	err := f.bridge.SubmitCommand(ctx, CommandMessage{
		LightID:    "desk",
		Command:    CommandDim,
		Parameters: map[string]any{"level": 0.0},
	})
	if err != nil {
		t.Fatalf("dim to 0 error = %v", err)
	}
	snap, _ := f.bridge.Light("desk")
	if snap.On {
		t.Error("dim to 0 should leave the light off")
	}

	f.bridge.Stop()
	if err := f.bridge.SubmitCommand(ctx, CommandMessage{LightID: "desk", Command: CommandOn}); !errors.Is(err, ErrBridgeStopped) {
		t.Errorf("after Stop error = %v, want ErrBridgeStopped", err)
	}
}

func TestBridgeLightsAndMetrics(t *testing.T) {
	f := startTestBridge(t)

	lights := f.bridge.Lights()
	if len(lights) != 2 || lights[0].ID != "desk" || lights[1].ID != "hall" {
		t.Fatalf("Lights() = %+v", lights)
	}
	if lights[1].SupportsBrightness {
		t.Error("switch-only light reports brightness support")
	}
	if lights[0].On || lights[0].Brightness != 1 {
		t.Errorf("initial snapshot = %+v, want off at full brightness", lights[0])
	}

	if _, err := f.bridge.Light("nope"); !errors.Is(err, ErrLightNotFound) {
		t.Errorf("Light(nope) error = %v", err)
	}

	m := f.bridge.GetMetrics()
	if !m.Connected || !m.GatewayConnected || m.Status != string(HealthHealthy) {
		t.Errorf("metrics = %+v", m)
	}
	if m.DevicesManaged != 2 || m.LightsManaged != 2 {
		t.Errorf("managed = %d/%d, want 2/2", m.DevicesManaged, m.LightsManaged)
	}

	f.mqtt.SetConnected(false)
	if m := f.bridge.GetMetrics(); m.Status != string(HealthDegraded) {
		t.Errorf("status when disconnected = %s", m.Status)
	}

	if devices := f.bridge.Devices(); len(devices) != 2 || devices[0].Lights[0] != "desk" {
		t.Errorf("Devices() = %+v", devices)
	}
}

func TestBridgeStopPublishesStopping(t *testing.T) {
	f := startTestBridge(t)
	f.bridge.Stop()
	f.bridge.Stop() // idempotent

	health := f.mqtt.PublishedTo(HealthTopic())
	last := health[len(health)-1]
	if !strings.Contains(string(last.Payload), `"status":"stopping"`) {
		t.Errorf("last health = %s, want stopping", last.Payload)
	}
}
