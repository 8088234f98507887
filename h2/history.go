package h2

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// historyCapacity is the fixed ring size, grounded on the original
// implementation's History<N> template (lib/ts/History.h) which the spec's
// supplemented-feature list calls for: a bounded per-connection event
// trail for postmortem debugging, not a general logging facility.
const historyCapacity = 64

// HistoryEvent is one recorded transition, identified by a random id so
// log lines referencing it stay stable even if the ring has since wrapped.
type HistoryEvent struct {
	ID   uuid.UUID
	Tag  string
	Info string
}

func (e HistoryEvent) String() string {
	return fmt.Sprintf("[%s] %s %s", e.ID.String()[:8], e.Tag, e.Info)
}

// History is a fixed-capacity ring of HistoryEvent, safe for a single
// writer and many concurrent readers via an atomically published cursor
// (mirrors the original's lock-free single-writer design: "the writer
// index is published after the slot is populated").
type History struct {
	events [historyCapacity]HistoryEvent
	cursor atomic.Uint64 // number of events ever written
}

// NewHistory returns an empty History.
func NewHistory() *History { return &History{} }

// Record appends an event, overwriting the oldest slot once the ring has
// wrapped.
func (h *History) Record(tag, info string) {
	n := h.cursor.Load()
	slot := int(n % historyCapacity)
	h.events[slot] = HistoryEvent{ID: uuid.New(), Tag: tag, Info: info}
	h.cursor.Store(n + 1)
}

// Snapshot returns up to historyCapacity most recent events, oldest first.
// It is safe to call concurrently with Record; a concurrent writer may
// cause a torn read of the single most recently written slot, which the
// original accepts for the same reason (best-effort diagnostics, not a
// correctness-critical log).
func (h *History) Snapshot() []HistoryEvent {
	n := h.cursor.Load()
	count := historyCapacity
	if n < historyCapacity {
		count = int(n)
	}
	out := make([]HistoryEvent, count)
	start := int(n) - count
	for i := 0; i < count; i++ {
		out[i] = h.events[(start+i)%historyCapacity]
	}
	return out
}

// Len reports how many events have ever been recorded (not clamped to
// capacity), useful for detecting wraparound in tests.
func (h *History) Len() uint64 { return h.cursor.Load() }
