package tuya

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for light configuration.
const (
	DefaultMinValue     int32   = 0
	DefaultMaxValue     int32   = 255
	DefaultGammaCorrect float64 = 1.0

	// DefaultTopicPrefix is the MQTT prefix of the MCU gateway topics.
	DefaultTopicPrefix = "tuya"
)

// Config is the root configuration for the Tuya bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Transport TransportConfig `yaml:"transport"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health reporting.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`

	// LoopInterval is the transition tick of the event loop (milliseconds).
	// Default: 16 ms.
	LoopInterval int `yaml:"loop_interval"`
}

// TransportConfig contains device transport settings.
type TransportConfig struct {
	// TopicPrefix is the MQTT prefix of the gateway topics.
	// Default: "tuya" (tuya/{device}/dp/report, tuya/{device}/dp/set).
	TopicPrefix string `yaml:"topic_prefix"`

	// CommandInterval is the minimum gap between two writes to the
	// gateway (milliseconds). Default: 50 ms.
	CommandInterval int `yaml:"command_interval"`

	// QueueSize bounds the outbound queue. Default: 64.
	QueueSize int `yaml:"queue_size"`

	// QoS is the MQTT quality of service for gateway topics. Default: 1.
	QoS int `yaml:"qos"`
}

// DeviceConfig defines one Tuya MCU device and the lights it drives.
type DeviceConfig struct {
	// ID is the device identifier used in gateway topics.
	ID string `yaml:"id"`

	// Name is an optional display name.
	Name string `yaml:"name"`

	Lights []LightConfig `yaml:"lights"`
}

// LightConfig defines one light and its datapoint mapping.
type LightConfig struct {
	// ID is the Gray Logic light identifier, unique across the bridge.
	ID string `yaml:"id"`

	// Name is the display name.
	Name string `yaml:"name"`

	// DimmerDatapoint is the INTEGER datapoint carrying brightness.
	DimmerDatapoint OptionalID `yaml:"dimmer_datapoint"`

	// SwitchDatapoint is the BOOLEAN datapoint carrying on/off.
	SwitchDatapoint OptionalID `yaml:"switch_datapoint"`

	// MinValueDatapoint receives MinValue once at startup.
	MinValueDatapoint OptionalID `yaml:"min_value_datapoint"`

	// MinValue and MaxValue bound the dimmer range. They may be inverted.
	// Defaults: 0 and 255.
	MinValue int32 `yaml:"min_value"`
	MaxValue int32 `yaml:"max_value"`

	// ZeroBrightnessWhenOff writes 0 to the dimmer when switching off.
	ZeroBrightnessWhenOff bool `yaml:"zero_brightness_when_off"`

	// GammaCorrect is the gamma of the light state. Default: 1.0.
	GammaCorrect float64 `yaml:"gamma_correct"`

	// DefaultTransitionLength is used by commands without a transition.
	DefaultTransitionLength time.Duration `yaml:"default_transition_length"`
}

// UnmarshalYAML applies per-light defaults before decoding.
func (l *LightConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain LightConfig
	out := plain{
		MinValue:     DefaultMinValue,
		MaxValue:     DefaultMaxValue,
		GammaCorrect: DefaultGammaCorrect,
	}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*l = LightConfig(out)
	return nil
}

// LoadConfig reads the bridge configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TUYA_BRIDGE_SECTION_KEY
// For example: TUYA_BRIDGE_ID, TUYA_BRIDGE_TOPIC_PREFIX
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates bridge configuration from YAML bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "tuya-bridge-01",
			HealthInterval: 30,
			LoopInterval:   16,
		},
		Transport: TransportConfig{
			TopicPrefix:     DefaultTopicPrefix,
			CommandInterval: 50,
			QueueSize:       64,
			QoS:             1,
		},
		Devices: []DeviceConfig{},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUYA_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("TUYA_BRIDGE_TOPIC_PREFIX"); v != "" {
		cfg.Transport.TopicPrefix = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateTransport()...)
	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateBridge validates bridge settings.
func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.LoopInterval < 1 {
		errs = append(errs, "bridge.loop_interval must be at least 1 millisecond")
	}
	return errs
}

// validateTransport validates device transport settings.
func (c *Config) validateTransport() []string {
	var errs []string
	if c.Transport.TopicPrefix == "" {
		errs = append(errs, "transport.topic_prefix is required")
	}
	if strings.ContainsAny(c.Transport.TopicPrefix, "+#") {
		errs = append(errs, "transport.topic_prefix must not contain wildcards")
	}
	if c.Transport.CommandInterval < 0 {
		errs = append(errs, "transport.command_interval must not be negative")
	}
	if c.Transport.QueueSize < 1 {
		errs = append(errs, "transport.queue_size must be at least 1")
	}
	if c.Transport.QoS < 0 || c.Transport.QoS > 2 {
		errs = append(errs, "transport.qos must be 0, 1, or 2")
	}
	return errs
}

// validateDevices validates device and light configurations.
func (c *Config) validateDevices() []string {
	var errs []string
	deviceIDs := make(map[string]bool)
	lightIDs := make(map[string]bool)

	for i, dev := range c.Devices {
		if dev.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
			continue
		}
		if strings.ContainsAny(dev.ID, "/+#") {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q must not contain '/', '+' or '#'", i, dev.ID))
		}
		if deviceIDs[dev.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicate", i, dev.ID))
		}
		deviceIDs[dev.ID] = true

		if len(dev.Lights) == 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].lights must have at least one entry", i))
		}

		errs = append(errs, validateLights(i, dev.Lights, lightIDs)...)
	}

	return errs
}

// validateLights validates the lights of a single device. Light ids are
// checked against seen, which spans all devices.
func validateLights(deviceIdx int, lights []LightConfig, seen map[string]bool) []string {
	var errs []string
	datapoints := make(map[DatapointID]string)

	claim := func(prefix, field string, opt OptionalID) {
		id, ok := opt.Get()
		if !ok {
			return
		}
		if owner, dup := datapoints[id]; dup {
			errs = append(errs, fmt.Sprintf("%s.%s %d is already used by %s", prefix, field, id, owner))
			return
		}
		datapoints[id] = prefix + "." + field
	}

	for j, l := range lights {
		prefix := fmt.Sprintf("devices[%d].lights[%d]", deviceIdx, j)

		if l.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else {
			if seen[l.ID] {
				errs = append(errs, fmt.Sprintf("%s.id %q is duplicate", prefix, l.ID))
			}
			seen[l.ID] = true
		}

		if !l.DimmerDatapoint.IsSet() && !l.SwitchDatapoint.IsSet() {
			errs = append(errs, prefix+" needs a dimmer_datapoint or a switch_datapoint")
		}
		if l.MinValue == l.MaxValue {
			errs = append(errs, fmt.Sprintf("%s.min_value and max_value must differ (both %d)", prefix, l.MinValue))
		}
		if l.GammaCorrect <= 0 {
			errs = append(errs, fmt.Sprintf("%s.gamma_correct must be positive, got %v", prefix, l.GammaCorrect))
		}
		if l.DefaultTransitionLength < 0 {
			errs = append(errs, prefix+".default_transition_length must not be negative")
		}

		claim(prefix, "dimmer_datapoint", l.DimmerDatapoint)
		claim(prefix, "switch_datapoint", l.SwitchDatapoint)
		claim(prefix, "min_value_datapoint", l.MinValueDatapoint)
	}

	return errs
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetLoopInterval returns the transition tick as a Duration.
func (c *Config) GetLoopInterval() time.Duration {
	return time.Duration(c.Bridge.LoopInterval) * time.Millisecond
}

// GetCommandInterval returns the minimum gap between gateway writes.
func (c *Config) GetCommandInterval() time.Duration {
	return time.Duration(c.Transport.CommandInterval) * time.Millisecond
}

// LightCount returns the number of configured lights.
func (c *Config) LightCount() int {
	n := 0
	for _, dev := range c.Devices {
		n += len(dev.Lights)
	}
	return n
}
