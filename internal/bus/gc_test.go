package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestGC_RemovesOnlyAgedRows tests one full garbage collection pass: old
// acknowledged messages, expired messages, long-dead heartbeats, and stale
// audit keys go; everything recent or live stays.
func TestGC_RemovesOnlyAgedRows(t *testing.T) {
	db := setupSwarmDB(t)
	log := testLogger()
	messages := NewMessageRepository(db, log)
	heartbeats := NewHeartbeatRepository(db, log)
	state := NewStateRepository(db, log)
	ctx := context.Background()

	// Acked message inside the window, acked message beyond it.
	recent := &Message{From: "a", To: "nova-cfo", Type: TypeIntel, Priority: PriorityLow}
	assert.NoError(t, messages.Send(ctx, recent))
	assert.NoError(t, messages.Acknowledge(ctx, recent.ID))

	ancient := &Message{ID: "m-ancient", From: "a", To: "nova-cfo", Type: TypeIntel, Priority: PriorityLow}
	assert.NoError(t, messages.Send(ctx, ancient))
	assert.NoError(t, messages.Acknowledge(ctx, ancient.ID))
	_, err := db.Exec(`UPDATE messages SET created_at = ? WHERE id = 'm-ancient'`,
		time.Now().Add(-10*24*time.Hour).UnixMilli())
	assert.NoError(t, err)

	// Expired but never delivered.
	past := time.Now().Add(-time.Minute)
	assert.NoError(t, messages.Send(ctx, &Message{
		ID: "m-expired", From: "a", To: "nova-cfo", Type: TypeIntel, Priority: PriorityLow, ExpiresAt: &past,
	}))

	// Heartbeats: one live, one long dead.
	assert.NoError(t, heartbeats.Beat(ctx, "nova-live", StatusAlive, ""))
	assert.NoError(t, heartbeats.Beat(ctx, "nova-gone", StatusDead, ""))
	_, err = db.Exec(`UPDATE agent_heartbeats SET last_beat = ? WHERE name = 'nova-gone'`,
		time.Now().Add(-10*24*time.Hour).Unix())
	assert.NoError(t, err)

	// Audit keys: one stale, one fresh, plus a non-audit key that must survive.
	assert.NoError(t, state.Set("audit.decision.old", "{}"))
	_, err = db.Exec(`UPDATE kv_store SET updated_at = ? WHERE key = 'audit.decision.old'`,
		time.Now().Add(-10*24*time.Hour).Unix())
	assert.NoError(t, err)
	assert.NoError(t, state.Set("audit.decision.new", "{}"))
	assert.NoError(t, state.Set("config.dry_run", "true"))

	collector := NewCollector(messages, heartbeats, state, 7*24*time.Hour, log)
	result, err := collector.Run(ctx)
	assert.NoError(t, err)

	assert.Equal(t, int64(1), result.AckedMessages)
	assert.Equal(t, int64(1), result.ExpiredMessages)
	assert.Equal(t, int64(1), result.Heartbeats)
	assert.Equal(t, int64(1), result.AuditKeys)
	assert.Equal(t, int64(4), result.Total())

	// Survivors.
	stats, err := messages.GetStats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.Acknowledged)

	live, err := heartbeats.Get(ctx, "nova-live")
	assert.NoError(t, err)
	assert.NotNil(t, live)

	kept, err := state.Get("config.dry_run")
	assert.NoError(t, err)
	assert.NotNil(t, kept)
	keptAudit, err := state.Get("audit.decision.new")
	assert.NoError(t, err)
	assert.NotNil(t, keptAudit)
}

// TestNewCollector_EnforcesMinimumRetention tests that the audit window
// cannot be configured below seven days.
func TestNewCollector_EnforcesMinimumRetention(t *testing.T) {
	db := setupSwarmDB(t)
	log := testLogger()
	collector := NewCollector(
		NewMessageRepository(db, log),
		NewHeartbeatRepository(db, log),
		NewStateRepository(db, log),
		time.Hour,
		log,
	)
	assert.Equal(t, 7*24*time.Hour, collector.retention)
}
