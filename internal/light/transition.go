package light

import "time"

// transformer interpolates from start to end over length.
type transformer struct {
	start     Values
	end       Values
	startedAt time.Time
	length    time.Duration
}

// progress returns the linear progress at now, clamped to [0,1].
func (t *transformer) progress(now time.Time) float64 {
	if t.length <= 0 {
		return 1
	}
	return clamp01(float64(now.Sub(t.startedAt)) / float64(t.length))
}

// smoothed applies smootherstep to x (zero first and second derivative at
// both ends).
func smoothed(x float64) float64 {
	return x * x * x * (x*(x*6-15) + 10)
}

// valuesAt returns the interpolated values at now and whether the
// transition has finished.
func (t *transformer) valuesAt(now time.Time) (Values, bool) {
	p := t.progress(now)
	if p >= 1 {
		return t.end, true
	}
	return lerp(t.start, t.end, smoothed(p)), false
}
