package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestBeat_UpsertsSingleRow tests that repeated beats keep one row per agent
// with the latest status and task.
func TestBeat_UpsertsSingleRow(t *testing.T) {
	repo := NewHeartbeatRepository(setupSwarmDB(t), testLogger())
	ctx := context.Background()

	assert.NoError(t, repo.Beat(ctx, "nova-analyst", StatusAlive, "idle"))
	assert.NoError(t, repo.Beat(ctx, "nova-analyst", StatusAlive, "analyzing"))

	beats, err := repo.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, beats, 1)
	assert.Equal(t, "analyzing", beats[0].CurrentTask)
	assert.Equal(t, StatusAlive, beats[0].Status)
}

// TestBeat_RejectsUnknownStatus tests status validation.
func TestBeat_RejectsUnknownStatus(t *testing.T) {
	repo := NewHeartbeatRepository(setupSwarmDB(t), testLogger())

	err := repo.Beat(context.Background(), "nova-analyst", "sleepy", "")
	assert.ErrorContains(t, err, "invalid heartbeat status")
}

// TestGet_MissingReturnsNil tests the not-found contract.
func TestGet_MissingReturnsNil(t *testing.T) {
	repo := NewHeartbeatRepository(setupSwarmDB(t), testLogger())

	hb, err := repo.Get(context.Background(), "nova-nobody")
	assert.NoError(t, err)
	assert.Nil(t, hb)
}

// TestStale_FindsQuietAgents tests the staleness sweep used by the health
// agent: old beats show up, fresh beats and disabled agents do not.
func TestStale_FindsQuietAgents(t *testing.T) {
	db := setupSwarmDB(t)
	repo := NewHeartbeatRepository(db, testLogger())
	ctx := context.Background()

	assert.NoError(t, repo.Beat(ctx, "nova-fresh", StatusAlive, ""))
	assert.NoError(t, repo.Beat(ctx, "nova-quiet", StatusAlive, ""))
	assert.NoError(t, repo.Beat(ctx, "nova-off", StatusDisabled, ""))

	// Age the quiet and disabled agents past the cutoff.
	old := time.Now().Add(-10 * time.Minute).Unix()
	_, err := db.Exec(`UPDATE agent_heartbeats SET last_beat = ? WHERE name IN ('nova-quiet', 'nova-off')`, old)
	assert.NoError(t, err)

	stale, err := repo.Stale(ctx, time.Now().Add(-5*time.Minute))
	assert.NoError(t, err)
	assert.Len(t, stale, 1)
	assert.Equal(t, "nova-quiet", stale[0].Name)
}

// TestMarkStatus tests overwriting a status without moving the beat time.
func TestMarkStatus(t *testing.T) {
	db := setupSwarmDB(t)
	repo := NewHeartbeatRepository(db, testLogger())
	ctx := context.Background()

	assert.NoError(t, repo.Beat(ctx, "nova-quiet", StatusAlive, ""))
	before, err := repo.Get(ctx, "nova-quiet")
	assert.NoError(t, err)

	assert.NoError(t, repo.MarkStatus(ctx, "nova-quiet", StatusDead))
	after, err := repo.Get(ctx, "nova-quiet")
	assert.NoError(t, err)
	assert.Equal(t, StatusDead, after.Status)
	assert.Equal(t, before.LastBeat, after.LastBeat)
}
