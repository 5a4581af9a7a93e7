package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownTracker_WindowBoundary(t *testing.T) {
	tracker := NewCooldownTracker(2 * time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	key := CooldownKey(TypeOpenHedge, "SOL")
	window := 4 * time.Hour

	assert.True(t, tracker.Ready(key, window), "unmarked key is always ready")

	tracker.Mark(key)
	assert.False(t, tracker.Ready(key, window), "blocked immediately after mark")

	now = now.Add(window)
	assert.False(t, tracker.Ready(key, window), "still blocked exactly at mark+window")

	now = now.Add(time.Nanosecond)
	assert.True(t, tracker.Ready(key, window), "ready strictly after mark+window")
}

func TestCooldownTracker_DryRunWindowIsSeparate(t *testing.T) {
	tracker := NewCooldownTracker(2 * time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	key := CooldownKey(TypePlacePolyBet, "market-1")
	tracker.MarkDryRun(key)

	assert.False(t, tracker.Ready(key, 6*time.Hour))

	// The dry window elapses long before the live window would have.
	now = now.Add(2*time.Hour + time.Second)
	assert.True(t, tracker.Ready(key, 6*time.Hour))
}

func TestCooldownTracker_KeysAreIndependent(t *testing.T) {
	tracker := NewCooldownTracker(time.Hour)
	tracker.Mark(CooldownKey(TypeOpenHedge, "SOL"))

	assert.False(t, tracker.Ready(CooldownKey(TypeOpenHedge, "SOL"), time.Hour))
	assert.True(t, tracker.Ready(CooldownKey(TypeOpenHedge, "ETH"), time.Hour))
	assert.True(t, tracker.Ready(CooldownKey(TypeCloseHedge, "SOL"), time.Hour))
}

func TestCooldownTracker_SeedKeepsNewestMark(t *testing.T) {
	tracker := NewCooldownTracker(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	older := now.Add(-3 * time.Hour)
	newer := now.Add(-30 * time.Minute)

	tracker.Seed("STAKE_SOL", newer)
	tracker.Seed("STAKE_SOL", older)

	// The older seed must not rewind the newer mark.
	assert.False(t, tracker.Ready("STAKE_SOL", time.Hour))

	snap := tracker.Snapshot()
	assert.Equal(t, newer, snap["STAKE_SOL"])
}

func TestDiversityTracker_LinearDecay(t *testing.T) {
	tracker := NewDiversityTracker(72 * time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	tracker.MarkPicked("pool-a")

	assert.InDelta(t, 1.0, tracker.Penalty("pool-a"), 1e-9)
	assert.Zero(t, tracker.Penalty("pool-b"), "unpicked pools carry no penalty")

	now = now.Add(36 * time.Hour)
	assert.InDelta(t, 0.5, tracker.Penalty("pool-a"), 1e-9)

	now = now.Add(36 * time.Hour)
	assert.Zero(t, tracker.Penalty("pool-a"), "penalty gone at the end of the window")
}
