package agent

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/MRT0B13/novaos/internal/bus"
)

// newTestDeps builds a Deps bundle over an in-memory swarm database.
func newTestDeps(t *testing.T) Deps {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			from_agent      TEXT NOT NULL,
			to_agent        TEXT NOT NULL,
			type            TEXT NOT NULL,
			priority        TEXT NOT NULL,
			priority_rank   INTEGER NOT NULL,
			payload         TEXT NOT NULL DEFAULT '{}',
			acknowledged    INTEGER NOT NULL DEFAULT 0,
			acknowledged_at INTEGER,
			expires_at      INTEGER,
			created_at      INTEGER NOT NULL
		);
		CREATE TABLE agent_registrations (
			name TEXT PRIMARY KEY, type TEXT NOT NULL, enabled INTEGER NOT NULL DEFAULT 1,
			config TEXT NOT NULL DEFAULT '{}', updated_at INTEGER NOT NULL
		);
		CREATE TABLE agent_heartbeats (
			name TEXT PRIMARY KEY, status TEXT NOT NULL,
			current_task TEXT NOT NULL DEFAULT '', last_beat INTEGER NOT NULL
		);
		CREATE TABLE agent_state (
			agent_name TEXT PRIMARY KEY, state BLOB NOT NULL, updated_at INTEGER NOT NULL
		);
		CREATE TABLE kv_store (
			key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create swarm tables: %v", err)
	}

	log := zerolog.New(nil).Level(zerolog.Disabled)
	return Deps{
		Messages:      bus.NewMessageRepository(db, log),
		Heartbeats:    bus.NewHeartbeatRepository(db, log),
		Registrations: bus.NewRegistrationRepository(db, log),
		State:         bus.NewStateRepository(db, log),
		Log:           log,
	}
}

// TestStartStop_Lifecycle tests registration, liveness, and the terminal
// heartbeat through a full start/stop round.
func TestStartStop_Lifecycle(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	b := NewBase("nova-scout", "scout", deps)

	require.NoError(t, b.Start(ctx))

	reg, err := deps.Registrations.Get(ctx, "nova-scout")
	require.NoError(t, err)
	require.NotNil(t, reg, "Start must register the agent")
	assert.True(t, reg.Enabled)
	assert.Equal(t, "scout", reg.Type)

	hb, err := deps.Heartbeats.Get(ctx, "nova-scout")
	require.NoError(t, err)
	require.NotNil(t, hb)
	assert.Equal(t, bus.StatusAlive, hb.Status)

	require.NoError(t, b.Stop(ctx))

	hb, err = deps.Heartbeats.Get(ctx, "nova-scout")
	require.NoError(t, err)
	require.NotNil(t, hb)
	assert.Equal(t, bus.StatusDisabled, hb.Status)
}

// TestStartStop_Idempotent tests that double start and double stop are
// no-ops.
func TestStartStop_Idempotent(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	b := NewBase("nova-scout", "scout", deps)

	assert.NoError(t, b.Start(ctx))
	assert.NoError(t, b.Start(ctx))
	assert.NoError(t, b.Stop(ctx))
	assert.NoError(t, b.Stop(ctx))

	// Stopping an agent that never started is also fine.
	other := NewBase("nova-guardian", "guardian", deps)
	assert.NoError(t, other.Stop(ctx))
}

// TestSendAndRead_RoundTrip tests durable send, inbox read, and ack through
// the runtime helpers.
func TestSendAndRead_RoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	sender := NewBase("nova-guardian", "guardian", deps)
	receiver := NewBase("nova-cfo", "cfo", deps)

	err := sender.SendMessage(ctx, "nova-cfo", bus.TypeAlert, bus.PriorityHigh,
		map[string]interface{}{"kind": "safety_alert", "details": "TVL drain"}, time.Hour)
	require.NoError(t, err)

	msgs, err := receiver.ReadMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "nova-guardian", msgs[0].From)
	assert.NotNil(t, msgs[0].ExpiresAt, "TTL should set an expiry")

	require.NoError(t, receiver.AcknowledgeMessage(ctx, msgs[0].ID))
	msgs, err = receiver.ReadMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

// TestReportToSupervisor_MergesEnvelope tests that reports carry source and
// timestamp alongside the caller's payload.
func TestReportToSupervisor_MergesEnvelope(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	b := NewBase("nova-analyst", "analyst", deps)

	err := b.ReportToSupervisor(ctx, bus.TypeIntel, bus.PriorityMedium,
		map[string]interface{}{"kind": "defi_snapshot", "totalTvlUsd": 1.5e9})
	require.NoError(t, err)

	msgs, err := deps.Messages.Poll(ctx, SupervisorName, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "nova-analyst", bus.PayloadString(msgs[0].Payload, "source"))
	assert.Equal(t, 1.5e9, bus.PayloadFloat(msgs[0].Payload, "totalTvlUsd"))
	_, ok := bus.PayloadTime(msgs[0].Payload, "timestamp")
	assert.True(t, ok, "Report should carry a timestamp")
}

// TestAddInterval_RunsAndStops tests that an interval ticks while the agent
// runs, recovers from panics, and goes quiet after Stop.
func TestAddInterval_RunsAndStops(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()
	b := NewBase("nova-scout", "scout", deps)

	runs := atomic.Int32{}
	assert.Error(t, b.AddInterval("scan", 5*time.Millisecond, func(ctx context.Context) error {
		return nil
	}), "AddInterval before Start must fail")

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.AddInterval("scan", 5*time.Millisecond, func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("first tick explodes")
		}
		return nil
	}))

	time.Sleep(100 * time.Millisecond)
	assert.GreaterOrEqual(t, runs.Load(), int32(2), "Loop must survive a panicking tick")

	require.NoError(t, b.Stop(ctx))
	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "No ticks after Stop")
}

// TestStateRoundTrip_ThroughBase tests SaveState/RestoreState keyed by the
// agent name.
func TestStateRoundTrip_ThroughBase(t *testing.T) {
	deps := newTestDeps(t)
	b := NewBase("nova-supervisor", "supervisor", deps)

	type supervisorState struct {
		MessagesProcessed int      `msgpack:"messagesProcessed"`
		RecentHashes      []string `msgpack:"recentHashes"`
	}

	require.NoError(t, b.SaveState(supervisorState{MessagesProcessed: 7, RecentHashes: []string{"abc"}}))

	var got supervisorState
	found, err := b.RestoreState(&got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, got.MessagesProcessed)
	assert.Equal(t, []string{"abc"}, got.RecentHashes)

	fresh := NewBase("nova-cfo", "cfo", deps)
	found, err = fresh.RestoreState(&got)
	require.NoError(t, err)
	assert.False(t, found, "Different agent name must not see the state")
}
