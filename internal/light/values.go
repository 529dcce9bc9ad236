package light

import "math"

// Values is a snapshot of light values.
//
// State is 1 for on and 0 for off; during a transition it is interpolated,
// so IsOn is true for any non-zero value. Brightness is in [0,1] and is
// kept while the light is off so it can be restored on the next switch on.
type Values struct {
	State      float64 `json:"state"`
	Brightness float64 `json:"brightness"`
}

// IsOn reports whether the light is (at least partially) on.
func (v Values) IsOn() bool {
	return v.State != 0
}

// AsBrightness returns the effective output brightness, State*Brightness,
// with gamma applied.
func (v Values) AsBrightness(gamma float64) float64 {
	return GammaCorrect(v.State*v.Brightness, gamma)
}

// GammaCorrect raises value to the power gamma. Values <= 0 map to 0 and a
// non-positive gamma leaves the value unchanged.
func GammaCorrect(value, gamma float64) float64 {
	if value <= 0 {
		return 0
	}
	if gamma <= 0 {
		return value
	}
	return math.Pow(value, gamma)
}

// lerp interpolates between a and b at t in [0,1].
func lerp(a, b Values, t float64) Values {
	return Values{
		State:      a.State + (b.State-a.State)*t,
		Brightness: a.Brightness + (b.Brightness-a.Brightness)*t,
	}
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
