package congestion

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		InitialWindow:                 10 * 1252,
		MaxDatagramSize:                1252,
		MinimumWindow:                  2 * 1252,
		LossReductionFactor:            0.5,
		PersistentCongestionThreshold:  3,
	}
}

func TestSlowStartGrowsWindowOnAck(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(testConfig(), clock, nil)
	before := c.CongestionWindow()

	sent := clock.Now()
	c.OnPacketSent(1200)
	c.OnPacketAcked(PacketInfo{Bytes: 1200, SentTime: sent})

	require.Greater(t, c.CongestionWindow(), before)
	require.Equal(t, uint32(0), c.BytesInFlight())
}

func TestCwndNeverDropsBelowMinimumWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := testConfig()
	c := New(cfg, clock, nil)

	sentTime := clock.Now()
	for i := 0; i < 50; i++ {
		clock.Advance(time.Second)
		sentTime = clock.Now()
		c.OnPacketsLost([]PacketInfo{{Bytes: 1200, SentTime: sentTime}}, 0)
		require.GreaterOrEqual(t, c.CongestionWindow(), cfg.MinimumWindow)
	}
	_ = sentTime
}

func TestSsthreshOnlyChangesOnCongestionEvent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(testConfig(), clock, nil)
	before := c.Ssthresh()

	sent := clock.Now()
	c.OnPacketSent(1200)
	c.OnPacketAcked(PacketInfo{Bytes: 1200, SentTime: sent})
	require.Equal(t, before, c.Ssthresh(), "ack alone must not touch ssthresh")

	clock.Advance(time.Second)
	lossSent := clock.Now()
	c.OnPacketsLost([]PacketInfo{{Bytes: 1200, SentTime: lossSent}}, 0)
	require.NotEqual(t, before, c.Ssthresh())
}

func TestSecondLossWithinRecoveryEpochDoesNotShrinkAgain(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(testConfig(), clock, nil)

	firstLossSent := clock.Now()
	c.OnPacketsLost([]PacketInfo{{Bytes: 1200, SentTime: firstLossSent}}, 0)
	afterFirst := c.CongestionWindow()

	// A second packet sent before the first loss (i.e. within the same
	// recovery epoch) must not trigger a further reduction.
	c.OnPacketsLost([]PacketInfo{{Bytes: 1200, SentTime: firstLossSent}}, 0)
	require.Equal(t, afterFirst, c.CongestionWindow())
}

func TestPersistentCongestionCollapsesToMinimumWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := testConfig()
	c := New(cfg, clock, nil)

	clock.Advance(time.Second)
	c.OnPacketsLost([]PacketInfo{{Bytes: 1200, SentTime: clock.Now()}}, cfg.PersistentCongestionThreshold+1)
	require.Equal(t, cfg.MinimumWindow, c.CongestionWindow())
}

func TestProcessECNOnlyActsOnIncreasedCounter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(testConfig(), clock, nil)
	before := c.CongestionWindow()

	c.ProcessECN(clock.Now(), 0, 0) // no increase: ecn count starts at 0
	require.Equal(t, before, c.CongestionWindow())

	clock.Advance(time.Second)
	c.ProcessECN(clock.Now(), 3, 0)
	require.Less(t, c.CongestionWindow(), before)
}

func TestOpenWindowNeverNegative(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := testConfig()
	c := New(cfg, clock, nil)

	c.OnPacketSent(cfg.InitialWindow + 5000)
	require.Equal(t, uint32(0), c.OpenWindow())
}
