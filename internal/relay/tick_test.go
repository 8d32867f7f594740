package relay

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/study-groups/quasar/internal/domain"
)

// The fake clock starts at the real current time so that write deadlines
// derived from it stay valid on real sockets.
func testTickHub(t *testing.T, fps int) (*Hub, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Now())
	hub := NewHub(Options{Clock: clock, MasterFPS: fps})
	t.Cleanup(func() { hub.Stop() })
	return hub, clock
}

// advanceTick advances the fake clock by one master interval and waits for
// the hub to process the tick.
func advanceTick(t *testing.T, hub *Hub, clock *clockwork.FakeClock, interval time.Duration, want int64) {
	t.Helper()
	// Wait for the hub goroutine to register the master ticker before
	// advancing, so the advance cannot race ahead of StartMaster.
	clock.BlockUntil(1)
	clock.Advance(interval)
	require.Eventually(t, func() bool {
		return hub.TickStats().Tick >= want
	}, time.Second, time.Millisecond)
}

func TestMasterTick_StartIsIdempotent(t *testing.T) {
	hub, clock := testTickHub(t, 10)

	hub.StartMaster()
	hub.StartMaster()
	require.True(t, hub.TickStats().Running)

	// One interval elapses exactly one tick even after the double start.
	advanceTick(t, hub, clock, 100*time.Millisecond, 1)
	assert.Equal(t, int64(1), hub.TickStats().Tick)
}

func TestMasterTick_StopIsIdempotentAndStopsTicking(t *testing.T) {
	hub, clock := testTickHub(t, 10)

	hub.StartMaster()
	advanceTick(t, hub, clock, 100*time.Millisecond, 1)

	hub.StopMaster()
	hub.StopMaster()
	require.False(t, hub.TickStats().Running)

	before := hub.TickStats().Tick
	clock.Advance(time.Second)
	// Flush the command queue, then confirm the count is frozen.
	assert.Equal(t, before, hub.TickStats().Tick)
}

func TestMasterTick_SetFpsRestartsTimer(t *testing.T) {
	hub, clock := testTickHub(t, 10)

	hub.StartMaster()
	require.Equal(t, 10, hub.TickStats().FPS)

	hub.SetFps(50)
	require.Eventually(t, func() bool {
		return hub.TickStats().FPS == 50
	}, time.Second, time.Millisecond)

	// The new 20ms interval is live immediately.
	advanceTick(t, hub, clock, 20*time.Millisecond, 1)
}

func TestMasterTick_InvalidFpsIgnored(t *testing.T) {
	hub, _ := testTickHub(t, 15)

	hub.SetFps(0)
	hub.SetFps(-3)

	assert.Equal(t, 15, hub.TickStats().FPS)
}

func TestMasterTick_SetFpsWhileStoppedTakesEffectOnStart(t *testing.T) {
	hub, clock := testTickHub(t, 10)

	hub.SetFps(20)
	hub.StartMaster()
	advanceTick(t, hub, clock, 50*time.Millisecond, 1)
	assert.Equal(t, 20, hub.TickStats().FPS)
}

func TestMasterTick_TimingAverageUpdates(t *testing.T) {
	hub, clock := testTickHub(t, 10)

	hub.StartMaster()
	hub.Publish(&domain.Frame{Seq: 1, Display: "x"}, "source:trax")
	advanceTick(t, hub, clock, 100*time.Millisecond, 1)

	stats := hub.TickStats()
	// With a fake clock the measured duration is zero; the point is that
	// the fields are populated without NaN or negative values.
	assert.GreaterOrEqual(t, stats.LastMs, 0.0)
	assert.GreaterOrEqual(t, stats.AvgMs, 0.0)
}
