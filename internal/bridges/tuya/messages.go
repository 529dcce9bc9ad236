package tuya

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// MQTT message types for communication between Gray Logic Core and the Tuya
// bridge. They follow the same envelope as the other Gray Logic bridges.

// CommandMessage is sent from Core to Bridge to change a light.
// Topic: graylogic/command/tuya/{light_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	// A uuid is assigned when empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	// LightID is the target light. Taken from the topic when empty.
	LightID string `json:"light_id"`

	// Command is one of "on", "off", "toggle", "dim".
	Command string `json:"command"`

	// Parameters contains command-specific values:
	//   {"level": 50} brightness in percent (required for dim, optional for on)
	//   {"transition": 1.5} transition length in seconds (optional)
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("mqtt", "api", ...).
	Source string `json:"source,omitempty"`
}

// Command names.
const (
	CommandOn     = "on"
	CommandOff    = "off"
	CommandToggle = "toggle"
	CommandDim    = "dim"
)

// Level returns the "level" parameter and whether it is present.
// Returns an error when the value is not a number in 0-100.
func (m CommandMessage) Level() (float64, bool, error) {
	return m.numberParam("level", 0, 100)
}

// Transition returns the "transition" parameter and whether it is present.
func (m CommandMessage) Transition() (time.Duration, bool, error) {
	secs, ok, err := m.numberParam("transition", 0, math.MaxInt32)
	if err != nil || !ok {
		return 0, ok, err
	}
	return time.Duration(secs * float64(time.Second)), true, nil
}

func (m CommandMessage) numberParam(name string, lo, hi float64) (float64, bool, error) {
	raw, ok := m.Parameters[name]
	if !ok {
		return 0, false, nil
	}

	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case int:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("%w: '%s' must be a number", ErrInvalidParameters, name)
		}
		v = f
	default:
		return 0, true, fmt.Errorf("%w: '%s' must be a number", ErrInvalidParameters, name)
	}

	if math.IsNaN(v) || v < lo || v > hi {
		return 0, true, fmt.Errorf("%w: '%s' must be %g-%g, got %.2f", ErrInvalidParameters, name, lo, hi, v)
	}
	return v, true, nil
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was applied to the light.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/tuya/{light_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	LightID   string    `json:"light_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "NOT_CONFIGURED", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from Bridge to Core when a light changes.
// Topic: graylogic/state/tuya/{light_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	LightID   string      `json:"light_id"`
	Timestamp time.Time   `json:"timestamp"`
	State     StateValues `json:"state"`
	Protocol  string      `json:"protocol"`
}

// StateValues is the published state of a light.
type StateValues struct {
	On         bool    `json:"on"`
	Level      int     `json:"level"`
	Brightness float64 `json:"brightness"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from Bridge to Core to report operational status.
// Topic: graylogic/health/tuya
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	LightsManaged  int               `json:"lights_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	DatapointsReceived  uint64 `json:"datapoints_received"`
	DatapointsSent      uint64 `json:"datapoints_sent"`
	DatapointsDropped   uint64 `json:"datapoints_dropped"`
	DatapointsCoalesced uint64 `json:"datapoints_coalesced"`
	CommandsHandled     uint64 `json:"commands_handled"`
	Errors              uint64 `json:"errors"`
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		LightID:   cmd.LightID,
		Status:    status,
		Protocol:  "tuya",
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateValues converts a light snapshot into published values.
func NewStateValues(on bool, brightness float64) StateValues {
	return StateValues{
		On:         on,
		Level:      int(math.Round(brightness * 100)),
		Brightness: brightness,
	}
}

// NewStateMessage creates a state message for a light.
func NewStateMessage(lightID string, values StateValues) StateMessage {
	return StateMessage{
		LightID:   lightID,
		Timestamp: time.Now().UTC(),
		State:     values,
		Protocol:  "tuya",
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// This message is published by the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"

	// protocol is the bridge segment of Gray Logic topics.
	protocol = "tuya"
)

// CommandTopic returns the MQTT topic for commands to a light.
// Example: graylogic/command/tuya/kitchen-ceiling
func CommandTopic(lightID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, lightID)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/tuya/kitchen-ceiling
func AckTopic(lightID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, lightID)
}

// StateTopic returns the MQTT topic for state updates.
// Example: graylogic/state/tuya/kitchen-ceiling
func StateTopic(lightID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, lightID)
}

// HealthTopic returns the MQTT topic for health status.
// Example: graylogic/health/tuya
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// CommandSubscribeTopic returns the MQTT subscription pattern for all commands.
// Example: graylogic/command/tuya/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// lightIDFromCommandTopic extracts the light id from a command topic.
// Returns "" when the topic is not a command topic.
func lightIDFromCommandTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" || parts[2] != protocol {
		return ""
	}
	return parts[3]
}

// ReportTopic returns the gateway topic a device reports datapoints on.
// Example: tuya/desk-lamp/dp/report
func ReportTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/%s/dp/report", prefix, deviceID)
}

// SetTopic returns the gateway topic datapoint writes are published to.
// Example: tuya/desk-lamp/dp/set
func SetTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/%s/dp/set", prefix, deviceID)
}

// ReportSubscribeTopic returns the subscription pattern for all reports.
// Example: tuya/+/dp/report
func ReportSubscribeTopic(prefix string) string {
	return ReportTopic(prefix, "+")
}

// deviceIDFromReportTopic extracts the device id from a report topic.
func deviceIDFromReportTopic(prefix, topic string) string {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return ""
	}
	deviceID, ok := strings.CutSuffix(rest, "/dp/report")
	if !ok || deviceID == "" || strings.Contains(deviceID, "/") {
		return ""
	}
	return deviceID
}
