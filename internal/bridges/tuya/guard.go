package tuya

// LoopGuard is a single-shot suppression flag.
//
// An inbound datapoint handler arms it immediately before committing the
// change to the light state. The commit triggers WriteState, which consumes
// the flag and skips the write, so a value reported by the device is never
// sent back to it. Arming is unconditional: whatever the next WriteState
// would have written (possibly nothing) is swallowed.
//
// Not safe for concurrent use; the owning Light is serialised by the bridge
// event loop.
type LoopGuard struct {
	armed bool
}

// Arm sets the flag.
func (g *LoopGuard) Arm() {
	g.armed = true
}

// TryConsume clears the flag and reports whether it was set.
// A true result means the current write must be discarded.
func (g *LoopGuard) TryConsume() bool {
	if !g.armed {
		return false
	}
	g.armed = false
	return true
}

// Armed reports whether the flag is set without consuming it.
func (g *LoopGuard) Armed() bool {
	return g.armed
}
