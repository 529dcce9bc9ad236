// Package light models the state of a dimmable light.
//
// A State holds two sets of Values: the remote values (the target requested
// by the last call) and the current values (what the output should show
// right now). Without a transition both are equal. With a transition a
// transformer interpolates the current values towards the remote values on
// every Loop, and the Output is written on each step.
//
// Changes are made through a Call:
//
//	state.MakeCall().SetBrightness(0.5).SetTransition(time.Second).Perform()
//
// Brightness handed to an Output through CurrentBrightness is gamma
// corrected; the stored values are perceptual (linear as seen by the user).
//
// # Thread Safety
//
// State is not safe for concurrent use. It is owned by a single event loop
// which also calls Loop.
package light
