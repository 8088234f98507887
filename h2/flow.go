package h2

// flow is a signed flow-control window, grounded directly on the teacher's
// `flow` type in server.go (newFlow/add), generalized to be shared by both
// connection- and stream-level windows and to report the exact invariant
// spec §3 names: "connection.peer_window >= 0 and stream.peer_window >= 0
// at all times between frame dispatches."
type flow struct {
	n int32
}

func newFlowWindow(initial int32) *flow {
	return &flow{n: initial}
}

// Available returns the current window, which may be read at any point but
// must never be observed negative at a quiescent point (spec §8).
func (f *flow) Available() int32 { return f.n }

// add applies a signed delta (a WINDOW_UPDATE increment or a settings-driven
// adjustment) and reports whether the result stayed within the protocol's
// representable range. A result here means the update itself was not
// rejected for overflowing the window; it may still leave the window
// negative, which SETTINGS-driven updates are allowed to do transiently.
func (f *flow) add(delta int32) bool {
	sum := int64(f.n) + int64(delta)
	if sum > int64(1<<31-1) {
		return false
	}
	f.n = int32(sum)
	return true
}

// take deducts n bytes from the window for an outbound send. Callers (the
// write scheduler) must never call this when n exceeds Available(): the
// protocol requires that no more than the window be sent.
func (f *flow) take(n int32) {
	f.n -= n
}

// FlowControlled is the narrow capability spec §9 names explicitly as one
// of the traits session/stream code exposes to callsites instead of a deep
// inheritance chain ("replace with traits/interfaces for the narrow
// capabilities each callsite needs").
type FlowControlled interface {
	PeerWindow() int32
	LocalWindow() int32
}
