package light

import (
	"time"
)

// Options configures a State.
type Options struct {
	// Gamma is applied to the brightness handed to the output.
	// Default: 1.0 (no correction).
	Gamma float64

	// DefaultTransition is used by calls that do not set a transition.
	DefaultTransition time.Duration

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// State is the state of one light and the owner of its Output.
type State struct {
	name   string
	output Output

	gamma             float64
	defaultTransition time.Duration
	now               func() time.Time

	current     Values
	remote      Values
	transformer *transformer

	remoteListeners []func(Values)
}

// NewState creates the state for a light and hands it to output.SetupState.
// The light starts off with full brightness.
func NewState(name string, output Output, opts Options) *State {
	gamma := opts.Gamma
	if gamma <= 0 {
		gamma = 1.0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	initial := Values{State: 0, Brightness: 1}
	s := &State{
		name:              name,
		output:            output,
		gamma:             gamma,
		defaultTransition: opts.DefaultTransition,
		now:               now,
		current:           initial,
		remote:            initial,
	}
	output.SetupState(s)
	return s
}

// Name returns the light name.
func (s *State) Name() string { return s.name }

// Gamma returns the gamma correction factor.
func (s *State) Gamma() float64 { return s.gamma }

// Traits returns the output traits.
func (s *State) Traits() Traits { return s.output.Traits() }

// CurrentValues returns what the output currently shows.
func (s *State) CurrentValues() Values { return s.current }

// RemoteValues returns the target of the last call.
func (s *State) RemoteValues() Values { return s.remote }

// IsOn reports whether the current values are on.
func (s *State) IsOn() bool { return s.current.IsOn() }

// HasTransformer reports whether a transition is running.
func (s *State) HasTransformer() bool { return s.transformer != nil }

// CurrentBrightness returns the gamma-corrected output brightness of the
// current values, 0 when off.
func (s *State) CurrentBrightness() float64 {
	return s.current.AsBrightness(s.gamma)
}

// AddRemoteValuesListener registers fn to be called with the new remote
// values whenever a call changes them.
func (s *State) AddRemoteValuesListener(fn func(Values)) {
	s.remoteListeners = append(s.remoteListeners, fn)
}

// MakeCall starts a new change for this light.
func (s *State) MakeCall() *Call {
	return NewCall(s.apply)
}

// apply commits a call.
//
// A call without changes still writes the output once. A transition only
// starts when the target differs from the current values.
func (s *State) apply(c Call) {
	target := s.remote

	if on, ok := c.State(); ok {
		if on {
			target.State = 1
		} else {
			target.State = 0
		}
	}
	if b, ok := c.Brightness(); ok {
		if b == 0 {
			target.State = 0
		} else {
			target.Brightness = b
		}
	}

	transition := s.defaultTransition
	if d, ok := c.Transition(); ok {
		transition = d
	}

	changed := target != s.remote
	s.remote = target

	if transition > 0 && target != s.current {
		start := s.current
		if !start.IsOn() {
			// Fade in at the target brightness instead of from the old one.
			start.Brightness = target.Brightness
		}
		s.transformer = &transformer{
			start:     start,
			end:       target,
			startedAt: s.now(),
			length:    transition,
		}
	} else {
		s.transformer = nil
		s.current = target
		s.output.WriteState(s)
	}

	if changed {
		for _, fn := range s.remoteListeners {
			fn(target)
		}
	}
}

// Loop advances a running transition and writes the output.
// It is a no-op when no transition is running.
func (s *State) Loop() {
	if s.transformer == nil {
		return
	}

	values, done := s.transformer.valuesAt(s.now())
	if done {
		s.transformer = nil
	}
	s.current = values
	s.output.WriteState(s)
}
