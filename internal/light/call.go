package light

import "time"

// Call is a pending change to a light. Build it with the setters and commit
// it with Perform. Fields that are not set keep their current value.
type Call struct {
	apply func(Call)

	state      *bool
	brightness *float64
	transition *time.Duration
}

// NewCall returns a Call that hands itself to apply on Perform.
func NewCall(apply func(Call)) *Call {
	return &Call{apply: apply}
}

// SetState sets the on/off state.
func (c *Call) SetState(on bool) *Call {
	c.state = &on
	return c
}

// SetBrightness sets the brightness. Values are clamped to [0,1]; 0 turns
// the light off and keeps the previous brightness.
func (c *Call) SetBrightness(brightness float64) *Call {
	b := clamp01(brightness)
	c.brightness = &b
	return c
}

// SetTransition sets the transition length. Zero applies the change at once.
func (c *Call) SetTransition(d time.Duration) *Call {
	c.transition = &d
	return c
}

// State returns the requested on/off state and whether it was set.
func (c Call) State() (bool, bool) {
	if c.state == nil {
		return false, false
	}
	return *c.state, true
}

// Brightness returns the requested brightness and whether it was set.
func (c Call) Brightness() (float64, bool) {
	if c.brightness == nil {
		return 0, false
	}
	return *c.brightness, true
}

// Transition returns the requested transition length and whether it was set.
func (c Call) Transition() (time.Duration, bool) {
	if c.transition == nil {
		return 0, false
	}
	return *c.transition, true
}

// Perform commits the call.
func (c *Call) Perform() {
	if c.apply != nil {
		c.apply(*c)
	}
}
