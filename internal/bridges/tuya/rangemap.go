package tuya

import (
	"fmt"
	"math"
)

// RangeMapper converts between a normalised brightness in [0,1] and the
// integer range a dimmer datapoint accepts.
//
// Min and Max are the configured endpoints and need not be ordered: a range
// of 1000..10 is an inverted dimmer where 1000 is darkest.
type RangeMapper struct {
	Min int32
	Max int32
}

// NewRangeMapper returns a mapper for [minValue, maxValue].
//
// Returns:
//   - RangeMapper: Ready to use
//   - error: ErrInvalidRange when minValue == maxValue
func NewRangeMapper(minValue, maxValue int32) (RangeMapper, error) {
	if minValue == maxValue {
		return RangeMapper{}, fmt.Errorf("%w: both are %d", ErrInvalidRange, minValue)
	}
	return RangeMapper{Min: minValue, Max: maxValue}, nil
}

// Lower returns the smaller of the two endpoints.
func (m RangeMapper) Lower() int32 {
	return min(m.Min, m.Max)
}

// Upper returns the larger of the two endpoints.
func (m RangeMapper) Upper() int32 {
	return max(m.Min, m.Max)
}

// span is max - min in the configured direction (negative when inverted).
func (m RangeMapper) span() float64 {
	return float64(m.Max) - float64(m.Min)
}

// ToBrightness converts a reported device value into a brightness.
//
// The value is clamped into [lower, upper], linearised against the configured
// direction and gamma is removed. When the lower bound is above zero a result
// of exactly 0 is replaced by the smallest step, 1/(upper-lower), so a device
// that reports its floor value does not read as off.
//
// Parameters:
//   - raw: Value reported by the device
//   - gamma: Gamma of the light state (must be > 0)
//
// Returns:
//   - float64: Brightness in [0,1]
func (m RangeMapper) ToBrightness(raw int32, gamma float64) float64 {
	lower, upper := m.Lower(), m.Upper()
	value := min(upper, max(lower, raw))

	linear := (float64(value) - float64(m.Min)) / m.span()
	brightness := math.Pow(linear, 1.0/gamma)

	if lower > 0 && brightness == 0 {
		brightness = m.Step()
	}
	return brightness
}

// ToRaw converts a gamma-corrected brightness into the value written to the
// device. The result is rounded up so a lit light never quantises to the
// device's off value. An off light maps to 0.
func (m RangeMapper) ToRaw(brightness float64, isOn bool) uint32 {
	if !isOn {
		return 0
	}
	raw := math.Ceil(brightness*m.span() + float64(m.Min))
	if raw <= 0 {
		return 0
	}
	if raw >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(raw)
}

// Step returns the brightness of one device step in the configured range.
func (m RangeMapper) Step() float64 {
	return 1.0 / (float64(m.Upper()) - float64(m.Lower()))
}
