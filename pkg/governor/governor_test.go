package governor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGovernor(cfg Config) (*Governor, *time.Time) {
	g := New(cfg)
	now := time.Unix(1000, 0).UTC()
	g.now = func() time.Time { return now }
	return g, &now
}

func TestSendAllowsUnderCap(t *testing.T) {
	g, _ := newTestGovernor(Config{SendPerThread: 5, SendPerActor: 100, SendGlobal: 1000})
	for i := 0; i < 5; i++ {
		v := g.CheckSend("u1", "t1")
		require.True(t, v.Allowed, "send %d should pass", i)
	}
	v := g.CheckSend("u1", "t1")
	assert.False(t, v.Allowed)
	assert.Equal(t, PressureHigh, v.Hints.Pressure)
	assert.GreaterOrEqual(t, v.RetryAfterMs, int64(1000))
	assert.Equal(t, v.RetryAfterMs, v.Hints.RetryAfterMs)
}

func TestDeniedSendDoesNotConsumeBudget(t *testing.T) {
	g, now := newTestGovernor(Config{SendWindow: 10 * time.Second, SendPerThread: 2, SendPerActor: 100, SendGlobal: 1000})
	g.CheckSend("u1", "t1")
	g.CheckSend("u1", "t1")
	for i := 0; i < 10; i++ {
		require.False(t, g.CheckSend("u1", "t1").Allowed)
	}
	// denials recorded nothing, so one expiry is enough to admit again
	*now = now.Add(11 * time.Second)
	assert.True(t, g.CheckSend("u1", "t1").Allowed)
}

func TestPerActorCapSpansThreads(t *testing.T) {
	g, _ := newTestGovernor(Config{SendPerActor: 3, SendPerThread: 100, SendGlobal: 1000})
	for i := 0; i < 3; i++ {
		require.True(t, g.CheckSend("u1", fmt.Sprintf("t%d", i)).Allowed)
	}
	v := g.CheckSend("u1", "t99")
	assert.False(t, v.Allowed)
	// a different actor is unaffected
	assert.True(t, g.CheckSend("u2", "t99").Allowed)
}

func TestRetryAfterReflectsOldestExpiry(t *testing.T) {
	g, now := newTestGovernor(Config{SendWindow: 10 * time.Second, SendPerThread: 1, SendPerActor: 100, SendGlobal: 1000})
	g.CheckSend("u1", "t1")
	*now = now.Add(4 * time.Second)
	v := g.CheckSend("u1", "t1")
	require.False(t, v.Allowed)
	// oldest event expires in 6s, which dominates the 1s scope base
	assert.Equal(t, int64(6000), v.RetryAfterMs)
}

func TestWindowTrimAdmitsAfterExpiry(t *testing.T) {
	g, now := newTestGovernor(Config{SendWindow: 10 * time.Second, SendPerThread: 2, SendPerActor: 100, SendGlobal: 1000})
	g.CheckSend("u1", "t1")
	*now = now.Add(6 * time.Second)
	g.CheckSend("u1", "t1")
	require.False(t, g.CheckSend("u1", "t1").Allowed)
	*now = now.Add(5 * time.Second)
	// first event fell out of the window, second is still in
	assert.True(t, g.CheckSend("u1", "t1").Allowed)
	assert.False(t, g.CheckSend("u1", "t1").Allowed)
}

func TestPressureLevels(t *testing.T) {
	g, _ := newTestGovernor(Config{SendPerThread: 10, SendPerActor: 100, SendGlobal: 1000})
	v := g.CheckSend("u1", "t1")
	assert.Equal(t, PressureLow, v.Hints.Pressure)
	for i := 0; i < 6; i++ {
		v = g.CheckSend("u1", "t1")
	}
	// 6/10 before the 7th records puts score past the low band
	assert.Equal(t, PressureMedium, v.Hints.Pressure)
}

func TestPollFloorsByMode(t *testing.T) {
	g, _ := newTestGovernor(Config{})
	cases := map[PollMode]int64{
		PollForeground: 3000,
		PollInbox:      10000,
		PollBackground: 20000,
	}
	for mode, floor := range cases {
		v := g.CheckPoll("u1", "t1", mode)
		require.True(t, v.Allowed)
		assert.Equal(t, floor, v.Hints.SuggestedPollIntervalMs, "mode %s", mode)
	}
}

func TestSuggestedIntervalScalesWithPressure(t *testing.T) {
	g, _ := newTestGovernor(Config{PollPerThread: 10, PollPerActor: 100, PollGlobal: 1000})
	var v Verdict
	for i := 0; i < 7; i++ {
		v = g.CheckPoll("u1", "t1", PollForeground)
	}
	require.Equal(t, PressureMedium, v.Hints.Pressure)
	assert.Equal(t, int64(6000), v.Hints.SuggestedPollIntervalMs)
}

func TestBackgroundModeWidensCaps(t *testing.T) {
	g, _ := newTestGovernor(Config{PollPerThread: 2, PollPerActor: 100, PollGlobal: 1000})
	require.True(t, g.CheckPoll("u1", "t1", PollForeground).Allowed)
	require.True(t, g.CheckPoll("u1", "t1", PollForeground).Allowed)
	require.False(t, g.CheckPoll("u1", "t1", PollForeground).Allowed)

	// background scale doubles the target cap, and its counter key is
	// shared, so two more still fit
	require.True(t, g.CheckPoll("u1", "t1", PollBackground).Allowed)
	require.True(t, g.CheckPoll("u1", "t1", PollBackground).Allowed)
	require.False(t, g.CheckPoll("u1", "t1", PollBackground).Allowed)
}

func TestUnknownPollModeFallsBackToForeground(t *testing.T) {
	g, _ := newTestGovernor(Config{})
	v := g.CheckPoll("u1", "t1", PollMode("bogus"))
	require.True(t, v.Allowed)
	assert.Equal(t, int64(3000), v.Hints.SuggestedPollIntervalMs)
}
