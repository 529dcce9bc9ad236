package tuya

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// mockPublisher implements HealthPublisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedMessage
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

// mockGateway implements GatewayStatus for testing.
type mockGateway struct {
	connected bool
}

func (m *mockGateway) IsConnected() bool { return m.connected }

func decodeHealth(t *testing.T, msg publishedMessage) HealthMessage {
	t.Helper()
	var health HealthMessage
	if err := json.Unmarshal(msg.payload, &health); err != nil {
		t.Fatalf("failed to unmarshal health message: %v", err)
	}
	return health
}

func TestHealthReporterDefaultInterval(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "test"})
	if hr.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", hr.interval, defaultHealthInterval)
	}
}

func TestHealthReporterPublishNow(t *testing.T) {
	pub := newMockPublisher(true)

	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "health-test",
		Version:   "2.0.0",
		Publisher: pub,
		Gateway:   &mockGateway{connected: true},
		Stats: func() BridgeStatistics {
			return BridgeStatistics{DatapointsReceived: 7, CommandsHandled: 3}
		},
		Devices: 2,
		Lights:  3,
	})

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow failed: %v", err)
	}

	messages := pub.getMessages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if msg.topic != "graylogic/health/tuya" {
		t.Errorf("topic = %q, want graylogic/health/tuya", msg.topic)
	}
	if msg.qos != 1 || !msg.retained {
		t.Errorf("qos/retained = %d/%v, want 1/true", msg.qos, msg.retained)
	}

	health := decodeHealth(t, msg)
	if health.Bridge != "health-test" || health.Version != "2.0.0" {
		t.Errorf("Bridge/Version = %q/%q", health.Bridge, health.Version)
	}
	if health.Status != HealthHealthy {
		t.Errorf("Status = %q, want %q", health.Status, HealthHealthy)
	}
	if health.DevicesManaged != 2 || health.LightsManaged != 3 {
		t.Errorf("managed = %d/%d, want 2/3", health.DevicesManaged, health.LightsManaged)
	}
	if health.Statistics == nil || health.Statistics.DatapointsReceived != 7 || health.Statistics.CommandsHandled != 3 {
		t.Errorf("Statistics = %+v", health.Statistics)
	}
}

func TestHealthReporterDegraded(t *testing.T) {
	tests := []struct {
		name       string
		mqtt       bool
		gateway    bool
		wantReason string
	}{
		{"mqtt disconnected", false, true, "MQTT disconnected"},
		{"gateway disconnected", true, false, "gateway disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hr := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "test",
				Publisher: newMockPublisher(tt.mqtt),
				Gateway:   &mockGateway{connected: tt.gateway},
			})

			status, reason := hr.Status()
			if status != HealthDegraded || reason != tt.wantReason {
				t.Errorf("Status() = %q, %q; want degraded, %q", status, reason, tt.wantReason)
			}
		})
	}
}

func TestHealthReporterPublishStarting(t *testing.T) {
	pub := newMockPublisher(true)
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "test", Publisher: pub})

	if err := hr.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting failed: %v", err)
	}

	health := decodeHealth(t, pub.getMessages()[0])
	if health.Status != HealthStarting {
		t.Errorf("Status = %q, want %q", health.Status, HealthStarting)
	}
}

func TestHealthReporterGetLWT(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "lwt-test"})

	if hr.GetLWTTopic() != "graylogic/health/tuya" {
		t.Errorf("GetLWTTopic() = %q", hr.GetLWTTopic())
	}

	payload, err := hr.GetLWTPayload()
	if err != nil {
		t.Fatalf("GetLWTPayload failed: %v", err)
	}
	var health HealthMessage
	if err := json.Unmarshal(payload, &health); err != nil {
		t.Fatalf("failed to unmarshal LWT: %v", err)
	}
	if health.Bridge != "lwt-test" || health.Status != HealthOffline {
		t.Errorf("LWT = %+v", health)
	}
}

func TestHealthReporterStartStop(t *testing.T) {
	pub := newMockPublisher(true)

	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "lifecycle-test",
		Interval:  50 * time.Millisecond, // Short interval for testing
		Publisher: pub,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hr.Start(ctx)

	// Wait for at least 2 health reports
	time.Sleep(150 * time.Millisecond)

	hr.Stop()
	hr.Stop() // second Stop must not panic

	messages := pub.getMessages()
	// Should have: at least 2 periodic + stopping
	if len(messages) < 3 {
		t.Errorf("expected at least 3 messages, got %d", len(messages))
	}

	last := decodeHealth(t, messages[len(messages)-1])
	if last.Status != HealthStopping {
		t.Errorf("last Status = %q, want %q", last.Status, HealthStopping)
	}
}

func TestHealthReporterWithNoPublisher(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "no-publisher"})

	// Should not panic or error
	if err := hr.PublishNow(); err != nil {
		t.Errorf("PublishNow with nil publisher should not error: %v", err)
	}
}
