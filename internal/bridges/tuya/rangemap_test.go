package tuya

import (
	"errors"
	"math"
	"testing"
)

func mustMapper(t *testing.T, lo, hi int32) RangeMapper {
	t.Helper()
	m, err := NewRangeMapper(lo, hi)
	if err != nil {
		t.Fatalf("NewRangeMapper(%d, %d) error = %v", lo, hi, err)
	}
	return m
}

func TestNewRangeMapperRejectsEqualBounds(t *testing.T) {
	if _, err := NewRangeMapper(100, 100); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("NewRangeMapper(100, 100) error = %v, want ErrInvalidRange", err)
	}
}

func TestRangeMapperBounds(t *testing.T) {
	m := mustMapper(t, 1000, 10)
	if m.Lower() != 10 || m.Upper() != 1000 {
		t.Errorf("Lower/Upper = %d/%d, want 10/1000", m.Lower(), m.Upper())
	}
	if got := m.Step(); math.Abs(got-1.0/990) > 1e-12 {
		t.Errorf("Step() = %v, want %v", got, 1.0/990)
	}
}

func TestToBrightness(t *testing.T) {
	tests := []struct {
		name  string
		min   int32
		max   int32
		raw   int32
		gamma float64
		want  float64
	}{
		{"floor of zero-based range", 0, 255, 0, 1, 0},
		{"top of range", 0, 255, 255, 1, 1},
		{"midpoint", 0, 1000, 500, 1, 0.5},
		{"below range clamps", 10, 1000, 0, 1, 1.0 / 990},
		{"above range clamps", 10, 1000, 5000, 1, 1},
		{"floor of raised range is one step", 10, 1000, 10, 1, 1.0 / 990},
		{"gamma is removed", 0, 100, 25, 2, 0.5},
		{"inverted top", 1000, 10, 10, 1, 1},
		{"inverted bottom", 1000, 10, 1000, 1, 1.0 / 990},
		{"inverted midpoint", 1000, 0, 500, 1, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustMapper(t, tt.min, tt.max)
			got := m.ToBrightness(tt.raw, tt.gamma)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ToBrightness(%d, %v) = %v, want %v", tt.raw, tt.gamma, got, tt.want)
			}
		})
	}
}

func TestToBrightnessSmallestNonZeroValue(t *testing.T) {
	m := mustMapper(t, 0, 1000)
	if got := m.ToBrightness(1, 1); got <= 0 {
		t.Errorf("ToBrightness(1) = %v, want > 0", got)
	}
}

func TestToBrightnessMonotonic(t *testing.T) {
	m := mustMapper(t, 10, 1000)
	prev := -1.0
	for raw := int32(0); raw <= 1100; raw++ {
		b := m.ToBrightness(raw, 1)
		if b < prev {
			t.Fatalf("ToBrightness(%d) = %v < ToBrightness(%d) = %v", raw, b, raw-1, prev)
		}
		if b < 0 || b > 1 {
			t.Fatalf("ToBrightness(%d) = %v outside [0,1]", raw, b)
		}
		prev = b
	}
}

func TestToRaw(t *testing.T) {
	tests := []struct {
		name       string
		min        int32
		max        int32
		brightness float64
		isOn       bool
		want       uint32
	}{
		{"off is zero", 10, 1000, 0.7, false, 0},
		{"full", 0, 255, 1, true, 255},
		{"half of raised range", 10, 1000, 0.5, true, 505},
		{"rounds up", 0, 255, 0.001, true, 1},
		{"inverted full", 1000, 10, 1, true, 10},
		{"inverted half", 1000, 0, 0.5, true, 500},
		{"negative result clamps to zero", -100, 100, 0.1, true, 0},
		{"large result clamps to max", 0, math.MaxInt32, 3, true, math.MaxUint32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustMapper(t, tt.min, tt.max)
			if got := m.ToRaw(tt.brightness, tt.isOn); got != tt.want {
				t.Errorf("ToRaw(%v, %v) = %d, want %d", tt.brightness, tt.isOn, got, tt.want)
			}
		})
	}
}

func TestRangeMapperRoundTrip(t *testing.T) {
	ranges := []struct {
		min, max int32
		gamma    float64
	}{
		{0, 255, 1},
		{10, 1000, 1},
		{0, 1000, 1},
		{1, 100, 1},
		{1000, 10, 1},
		{255, 0, 1},
		{10, 1000, 2.2},
		{1000, 10, 2.2},
		{255, 0, 2.8},
	}

	for _, r := range ranges {
		m := mustMapper(t, r.min, r.max)
		for raw := m.Lower() + 1; raw <= m.Upper(); raw++ {
			b := m.ToBrightness(raw, r.gamma)
			back := int64(m.ToRaw(math.Pow(b, r.gamma), true))
			if diff := back - int64(raw); diff < -1 || diff > 1 {
				t.Fatalf("range %d..%d gamma %v: raw %d -> %v -> %d", r.min, r.max, r.gamma, raw, b, back)
			}
		}
	}
}
