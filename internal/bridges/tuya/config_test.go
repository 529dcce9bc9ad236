package tuya

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfigYAML = `
bridge:
  id: tuya-test
devices:
  - id: desk-lamp
    name: Desk Lamp
    lights:
      - id: desk
        name: Desk
        dimmer_datapoint: 2
        switch_datapoint: 1
        min_value_datapoint: 3
        min_value: 10
        max_value: 1000
        gamma_correct: 2.2
        default_transition_length: 1s
  - id: hall-switch
    lights:
      - id: hall
        switch_datapoint: 1
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfigYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Bridge.ID != "tuya-test" {
		t.Errorf("Bridge.ID = %q", cfg.Bridge.ID)
	}
	if len(cfg.Devices) != 2 || cfg.LightCount() != 2 {
		t.Fatalf("devices/lights = %d/%d, want 2/2", len(cfg.Devices), cfg.LightCount())
	}

	desk := cfg.Devices[0].Lights[0]
	if !desk.DimmerDatapoint.Is(2) || !desk.SwitchDatapoint.Is(1) || !desk.MinValueDatapoint.Is(3) {
		t.Errorf("datapoints = %s/%s/%s", desk.DimmerDatapoint, desk.SwitchDatapoint, desk.MinValueDatapoint)
	}
	if desk.MinValue != 10 || desk.MaxValue != 1000 {
		t.Errorf("range = %d..%d, want 10..1000", desk.MinValue, desk.MaxValue)
	}
	if desk.GammaCorrect != 2.2 {
		t.Errorf("GammaCorrect = %v, want 2.2", desk.GammaCorrect)
	}
	if desk.DefaultTransitionLength != time.Second {
		t.Errorf("DefaultTransitionLength = %v, want 1s", desk.DefaultTransitionLength)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfigYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	hall := cfg.Devices[1].Lights[0]
	if hall.DimmerDatapoint.IsSet() || hall.MinValueDatapoint.IsSet() {
		t.Error("unset datapoints should stay unset")
	}
	if hall.MinValue != DefaultMinValue || hall.MaxValue != DefaultMaxValue {
		t.Errorf("range = %d..%d, want defaults", hall.MinValue, hall.MaxValue)
	}
	if hall.GammaCorrect != DefaultGammaCorrect {
		t.Errorf("GammaCorrect = %v, want %v", hall.GammaCorrect, DefaultGammaCorrect)
	}
	if hall.ZeroBrightnessWhenOff {
		t.Error("ZeroBrightnessWhenOff should default to false")
	}

	if cfg.GetHealthInterval() != 30*time.Second {
		t.Errorf("GetHealthInterval() = %v", cfg.GetHealthInterval())
	}
	if cfg.GetLoopInterval() != 16*time.Millisecond {
		t.Errorf("GetLoopInterval() = %v", cfg.GetLoopInterval())
	}
	if cfg.GetCommandInterval() != 50*time.Millisecond {
		t.Errorf("GetCommandInterval() = %v", cfg.GetCommandInterval())
	}
	if cfg.Transport.TopicPrefix != DefaultTopicPrefix || cfg.Transport.QueueSize != 64 || cfg.Transport.QoS != 1 {
		t.Errorf("Transport = %+v", cfg.Transport)
	}
}

func TestParseConfigEnvOverrides(t *testing.T) {
	t.Setenv("TUYA_BRIDGE_ID", "from-env")
	t.Setenv("TUYA_BRIDGE_TOPIC_PREFIX", "mcu")

	cfg, err := ParseConfig([]byte(validConfigYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Bridge.ID != "from-env" {
		t.Errorf("Bridge.ID = %q, want from-env", cfg.Bridge.ID)
	}
	if cfg.Transport.TopicPrefix != "mcu" {
		t.Errorf("TopicPrefix = %q, want mcu", cfg.Transport.TopicPrefix)
	}
}

func TestParseConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "equal range",
			yaml: `
devices:
  - id: d
    lights:
      - {id: a, dimmer_datapoint: 1, min_value: 5, max_value: 5}`,
			wantErr: "must differ",
		},
		{
			name: "no datapoints",
			yaml: `
devices:
  - id: d
    lights:
      - {id: a}`,
			wantErr: "needs a dimmer_datapoint or a switch_datapoint",
		},
		{
			name: "bad gamma",
			yaml: `
devices:
  - id: d
    lights:
      - {id: a, dimmer_datapoint: 1, gamma_correct: 0}`,
			wantErr: "gamma_correct must be positive",
		},
		{
			name: "duplicate light id",
			yaml: `
devices:
  - id: d1
    lights:
      - {id: a, dimmer_datapoint: 1}
  - id: d2
    lights:
      - {id: a, dimmer_datapoint: 1}`,
			wantErr: `"a" is duplicate`,
		},
		{
			name: "duplicate datapoint",
			yaml: `
devices:
  - id: d
    lights:
      - {id: a, dimmer_datapoint: 1}
      - {id: b, switch_datapoint: 1}`,
			wantErr: "is already used by",
		},
		{
			name: "duplicate device",
			yaml: `
devices:
  - id: d
    lights:
      - {id: a, dimmer_datapoint: 1}
  - id: d
    lights:
      - {id: b, dimmer_datapoint: 1}`,
			wantErr: `"d" is duplicate`,
		},
		{
			name: "device without lights",
			yaml: `
devices:
  - id: d`,
			wantErr: "at least one entry",
		},
		{
			name: "wildcard prefix",
			yaml: `
transport:
  topic_prefix: "tuya/#"
devices: []`,
			wantErr: "must not contain wildcards",
		},
		{
			name: "datapoint out of range",
			yaml: `
devices:
  - id: d
    lights:
      - {id: a, dimmer_datapoint: 300}`,
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuya.yaml")
	if err := os.WriteFile(path, []byte(validConfigYAML), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.LightCount() != 2 {
		t.Errorf("LightCount() = %d, want 2", cfg.LightCount())
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}
