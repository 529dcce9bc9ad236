package tuya

import (
	"fmt"

	"github.com/nerrad567/gray-logic-tuya/internal/light"
)

// Parent is the device a Light talks to. Satisfied by *Hub.
type Parent interface {
	// RegisterListener calls fn for every datapoint reported with id.
	RegisterListener(id DatapointID, fn func(Datapoint))

	// SetDatapointValue writes a datapoint to the device (fire-and-forget).
	SetDatapointValue(dp Datapoint)
}

// LightState is the light-state owner a Light synchronises with.
// Satisfied by *light.State.
type LightState interface {
	IsOn() bool
	HasTransformer() bool
	Gamma() float64
	CurrentBrightness() float64
	MakeCall() *light.Call
}

// Light synchronises one light.State with the dimmer and switch datapoints
// of a Tuya device. It is the light.Output of that state.
type Light struct {
	id     string
	name   string
	parent Parent

	dimmerID   OptionalID
	switchID   OptionalID
	minValueID OptionalID

	mapper                RangeMapper
	zeroBrightnessWhenOff bool

	state LightState
	guard LoopGuard

	logger Logger
}

// Ensure Light implements light.Output.
var _ light.Output = (*Light)(nil)

// NewLight creates a Light from its configuration.
//
// Parameters:
//   - cfg: Light configuration (defaults must already be applied)
//   - parent: Device hub the light reads from and writes to
//
// Returns:
//   - *Light: Ready for light.NewState, then Setup
//   - error: ErrInvalidRange when min_value equals max_value
func NewLight(cfg LightConfig, parent Parent) (*Light, error) {
	if parent == nil {
		return nil, fmt.Errorf("light %s: parent is required", cfg.ID)
	}
	mapper, err := NewRangeMapper(cfg.MinValue, cfg.MaxValue)
	if err != nil {
		return nil, fmt.Errorf("light %s: %w", cfg.ID, err)
	}

	return &Light{
		id:                    cfg.ID,
		name:                  cfg.Name,
		parent:                parent,
		dimmerID:              cfg.DimmerDatapoint,
		switchID:              cfg.SwitchDatapoint,
		minValueID:            cfg.MinValueDatapoint,
		mapper:                mapper,
		zeroBrightnessWhenOff: cfg.ZeroBrightnessWhenOff,
	}, nil
}

// ID returns the light identifier.
func (l *Light) ID() string { return l.id }

// Name returns the display name.
func (l *Light) Name() string { return l.name }

// SetLogger sets the logger for synchronisation diagnostics.
func (l *Light) SetLogger(logger Logger) {
	l.logger = logger
}

// SetupState implements light.Output.
func (l *Light) SetupState(s *light.State) {
	l.attach(s)
}

// attach binds the light to its state owner.
func (l *Light) attach(s LightState) {
	l.state = s
}

// Traits implements light.Output. Brightness is supported only when a
// dimmer datapoint is configured.
func (l *Light) Traits() light.Traits {
	return light.Traits{SupportsBrightness: l.dimmerID.IsSet()}
}

// Setup registers the datapoint listeners and writes the minimum value
// datapoint once, if configured. The state must be attached first.
func (l *Light) Setup() {
	if id, ok := l.dimmerID.Get(); ok {
		l.parent.RegisterListener(id, l.handleDimmer)
	}
	if id, ok := l.switchID.Get(); ok {
		l.parent.RegisterListener(id, l.handleSwitch)
	}
	if id, ok := l.minValueID.Get(); ok {
		l.parent.SetDatapointValue(IntegerDatapoint(id, l.mapper.Min))
	}
}

// DumpConfig logs the configured datapoints.
func (l *Light) DumpConfig() {
	l.logInfo("tuya dimmer",
		"light_id", l.id,
		"name", l.name,
		"dimmer_datapoint", l.dimmerID.String(),
		"switch_datapoint", l.switchID.String(),
		"min_value_datapoint", l.minValueID.String(),
		"min_value", l.mapper.Min,
		"max_value", l.mapper.Max,
		"zero_brightness_when_off", l.zeroBrightnessWhenOff)
}

// handleDimmer applies a reported dimmer value.
//
// Values received while the light is off are ignored so the present
// brightness is restored on the next switch on. Values received during a
// transition are intermediate and ignored too.
func (l *Light) handleDimmer(dp Datapoint) {
	if !l.state.IsOn() || l.state.HasTransformer() {
		l.logDebug("ignoring dimmer value", "light_id", l.id, "datapoint", dp.String())
		return
	}

	l.guard.Arm()

	raw := int32(dp.NumericValue())
	brightness := l.mapper.ToBrightness(raw, l.state.Gamma())

	l.logDebug("received brightness", "light_id", l.id, "brightness", brightness, "raw", raw)
	l.state.MakeCall().SetBrightness(brightness).SetTransition(0).Perform()
}

// handleSwitch applies a reported switch value.
func (l *Light) handleSwitch(dp Datapoint) {
	if l.state.HasTransformer() {
		l.logDebug("ignoring switch value", "light_id", l.id, "datapoint", dp.String())
		return
	}

	l.guard.Arm()

	on := dp.NumericValue() != 0
	l.logDebug("received switch", "light_id", l.id, "on", on)
	l.state.MakeCall().SetState(on).SetTransition(0).Perform()
}

// WriteState implements light.Output.
func (l *Light) WriteState(s *light.State) {
	l.writeState(s)
}

// writeState sends the current values of state to the device, unless the
// change came from the device itself.
func (l *Light) writeState(state LightState) {
	if l.guard.TryConsume() {
		l.logDebug("suppressed echo write", "light_id", l.id)
		return
	}

	brightness := state.CurrentBrightness()
	isOn := brightness != 0

	if id, ok := l.dimmerID.Get(); ok && (isOn || l.zeroBrightnessWhenOff) {
		raw := l.mapper.ToRaw(brightness, isOn)
		l.logDebug("setting brightness", "light_id", l.id, "brightness", brightness, "raw", raw)
		// #nosec G115 -- raw lies within [lower, upper] of an int32 range
		l.parent.SetDatapointValue(IntegerDatapoint(id, int32(raw)))
	}

	if id, ok := l.switchID.Get(); ok {
		l.logDebug("setting switch", "light_id", l.id, "on", isOn)
		l.parent.SetDatapointValue(BooleanDatapoint(id, isOn))
	}
}

// logInfo logs an info message if logger is set.
func (l *Light) logInfo(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Info(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if logger is set.
func (l *Light) logDebug(msg string, keysAndValues ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, keysAndValues...)
	}
}
