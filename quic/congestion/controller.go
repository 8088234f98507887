// Package congestion implements the loss-based congestion controller named
// in spec §4.5: slow start, congestion avoidance, and a recovery epoch that
// a single congestion event cannot shrink the window twice within.
//
// This is a direct transliteration of
// original_source/iocore/net/quic/QUICCongestionController.cc: the state
// fields, the recovery-epoch test, and the slow-start/avoidance update
// formulas all carry over unchanged. The original's ink_hrtime monotonic
// clock and SCOPED_MUTEX_LOCK become clockwork.Clock and a sync.Mutex.
package congestion

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgecore/h2quic/metrics"
)

// PacketInfo is the record spec §3 "Packet info (congestion)" names:
// packet number, byte size, sent time, and an ack-only flag. The
// ack-only flag is carried for a loss-recovery component this package
// does not implement (spec §4.5 "Packet tracking belongs to a
// loss-recovery component not specified here").
type PacketInfo struct {
	PacketNumber uint64
	Bytes        uint32
	SentTime     time.Time
	AckOnly      bool
}

// Controller tracks bytes in flight against a congestion window and
// implements the operations of spec §4.5 verbatim.
type Controller struct {
	mu sync.Mutex

	clock clockwork.Clock
	m     *metrics.Set

	maxDatagramSize              uint32
	minimumWindow                uint32
	lossReductionFactor          float64
	persistentCongestionThreshold uint32

	bytesInFlight     uint32
	congestionWindow  uint32
	ssthresh          uint32
	recoveryStartTime time.Time
	ecnCECounter      uint64
}

// Config carries the four tunable constants spec §4.5 names
// (k_max_datagram_size, k_minimum_window, k_loss_reduction_factor,
// k_persistent_congestion_threshold) plus the initial window
// (k_initial_window) used only at construction/reset.
type Config struct {
	InitialWindow                 uint32
	MaxDatagramSize                uint32
	MinimumWindow                  uint32
	LossReductionFactor            float64
	PersistentCongestionThreshold  uint32
}

// New constructs a Controller in its initial state: congestion_window set
// to k_initial_window, ssthresh set to the maximum representable value, no
// recovery epoch in progress.
func New(cfg Config, clock clockwork.Clock, m *metrics.Set) *Controller {
	c := &Controller{
		clock:                          clock,
		m:                              m,
		maxDatagramSize:                cfg.MaxDatagramSize,
		minimumWindow:                  cfg.MinimumWindow,
		lossReductionFactor:            cfg.LossReductionFactor,
		persistentCongestionThreshold:  cfg.PersistentCongestionThreshold,
	}
	c.reset(cfg.InitialWindow)
	return c
}

func (c *Controller) reset(initialWindow uint32) {
	c.bytesInFlight = 0
	c.congestionWindow = initialWindow
	c.recoveryStartTime = time.Time{}
	c.ssthresh = math.MaxUint32
	c.publish()
}

// OnPacketSent records bytes newly in flight.
func (c *Controller) OnPacketSent(bytes uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesInFlight += bytes
	c.publish()
}

func (c *Controller) inRecovery(sentTime time.Time) bool {
	return !sentTime.After(c.recoveryStartTime)
}

// OnPacketAcked removes the packet from bytes in flight and, outside a
// recovery epoch, grows the window: additively during slow start, by the
// classic cwnd += max_datagram_size*acked/cwnd formula during avoidance.
func (c *Controller) OnPacketAcked(p PacketInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesInFlight = subSat(c.bytesInFlight, p.Bytes)
	if c.inRecovery(p.SentTime) {
		c.publish()
		return
	}
	if c.congestionWindow < c.ssthresh {
		c.congestionWindow += p.Bytes
	} else {
		c.congestionWindow += uint32(uint64(c.maxDatagramSize) * uint64(p.Bytes) / uint64(c.congestionWindow))
	}
	c.publish()
}

// OnPacketsLost removes each lost packet from bytes in flight and opens a
// congestion event keyed on the send time of the largest (most recently
// sent) lost packet, mirroring the original's use of the reverse-sorted
// map's first entry.
func (c *Controller) OnPacketsLost(lost []PacketInfo, ptoCount uint32) {
	if len(lost) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	largest := lost[0]
	for _, p := range lost {
		c.bytesInFlight = subSat(c.bytesInFlight, p.Bytes)
		if p.SentTime.After(largest.SentTime) {
			largest = p
		}
	}
	c.congestionEventLocked(largest.SentTime, ptoCount)
	c.publish()
}

// ProcessECN starts a congestion event when the peer-reported ECN-CE
// counter has advanced since the last observation.
func (c *Controller) ProcessECN(largestAckedSentTime time.Time, ecnCECount uint64, ptoCount uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ecnCECount <= c.ecnCECounter {
		return
	}
	c.ecnCECounter = ecnCECount
	c.congestionEventLocked(largestAckedSentTime, ptoCount)
	c.publish()
}

// congestionEventLocked implements congestion_event: it is a no-op if
// sentTime falls within the current recovery epoch, otherwise it starts a
// new epoch, shrinks the window by lossReductionFactor (never below
// minimumWindow), and resets ssthresh to the new window. A persistent
// congestion run (pto_count exceeding the threshold) collapses the window
// straight to minimumWindow.
func (c *Controller) congestionEventLocked(sentTime time.Time, ptoCount uint32) {
	if c.inRecovery(sentTime) {
		return
	}
	c.recoveryStartTime = c.clock.Now()
	shrunk := uint32(float64(c.congestionWindow) * c.lossReductionFactor)
	if shrunk < c.minimumWindow {
		shrunk = c.minimumWindow
	}
	c.congestionWindow = shrunk
	c.ssthresh = c.congestionWindow
	if ptoCount > c.persistentCongestionThreshold {
		c.congestionWindow = c.minimumWindow
	}
	if c.m != nil {
		c.m.CongestionEvents.Inc()
	}
}

// OpenWindow returns the number of bytes the caller may still send without
// exceeding the congestion window; never negative.
func (c *Controller) OpenWindow() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bytesInFlight >= c.congestionWindow {
		return 0
	}
	return c.congestionWindow - c.bytesInFlight
}

func (c *Controller) BytesInFlight() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesInFlight
}

func (c *Controller) CongestionWindow() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.congestionWindow
}

func (c *Controller) Ssthresh() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ssthresh
}

// publish must be called with mu held.
func (c *Controller) publish() {
	if c.m == nil {
		return
	}
	c.m.BytesInFlight.Set(float64(c.bytesInFlight))
	c.m.CongestionWindow.Set(float64(c.congestionWindow))
}

func subSat(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}
