package light

// Traits describes what an output supports.
type Traits struct {
	SupportsBrightness bool `json:"supports_brightness"`
}

// Output drives the hardware behind a State.
type Output interface {
	// SetupState is called once when the state is created.
	SetupState(s *State)

	// WriteState is called whenever the current values change.
	WriteState(s *State)

	// Traits reports the capabilities of the output.
	Traits() Traits
}
