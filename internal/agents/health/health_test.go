package health

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/swarmtest"
)

// plantHeartbeat inserts a heartbeat row with an explicit last_beat.
func plantHeartbeat(t *testing.T, conn *sql.DB, name string, status bus.HeartbeatStatus, lastBeat time.Time) {
	t.Helper()
	_, err := conn.Exec(`
		INSERT INTO agent_heartbeats (name, status, current_task, last_beat)
		VALUES (?, ?, '', ?)
	`, name, string(status), lastBeat.Unix())
	require.NoError(t, err)
}

func heartbeatStatus(t *testing.T, deps agent.Deps, name string) bus.HeartbeatStatus {
	t.Helper()
	hb, err := deps.Heartbeats.Get(context.Background(), name)
	require.NoError(t, err)
	require.NotNil(t, hb)
	return hb.Status
}

func TestSweepStale_DegradesThenDeclaresDead(t *testing.T) {
	deps, conn := swarmtest.AgentDepsConn(t)
	now := time.Now()
	plantHeartbeat(t, conn, "nova-scout", bus.StatusAlive, now.Add(-5*time.Minute))
	plantHeartbeat(t, conn, "nova-analyst", bus.StatusAlive, now.Add(-15*time.Minute))
	plantHeartbeat(t, conn, "nova-guardian", bus.StatusAlive, now.Add(-30*time.Second))

	h := New(&config.Config{DataDir: t.TempDir()}, deps)
	report := &bus.HealthReport{}
	h.sweepStale(context.Background(), report)

	assert.ElementsMatch(t, []string{"nova-scout", "nova-analyst"}, report.StaleAgents)
	assert.Equal(t, bus.StatusDegraded, heartbeatStatus(t, deps, "nova-scout"),
		"inside the dead window a silent agent only degrades")
	assert.Equal(t, bus.StatusDead, heartbeatStatus(t, deps, "nova-analyst"))
	assert.Equal(t, bus.StatusAlive, heartbeatStatus(t, deps, "nova-guardian"))
}

func TestSweepStale_DeadChildTriggersDeactivationRequest(t *testing.T) {
	deps, conn := swarmtest.AgentDepsConn(t)
	child := agent.TokenChildPrefix + "mintX"
	plantHeartbeat(t, conn, child, bus.StatusAlive, time.Now().Add(-20*time.Minute))

	h := New(&config.Config{DataDir: t.TempDir()}, deps)
	h.sweepStale(context.Background(), &bus.HealthReport{})

	msgs, err := deps.Messages.Poll(context.Background(), agent.SupervisorName, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.TypeCommand, msgs[0].Type)
	assert.Equal(t, bus.PriorityHigh, msgs[0].Priority)

	cmd, ok := bus.Decode(&msgs[0]).(*bus.AdminCommand)
	require.True(t, ok)
	assert.Equal(t, "deactivate_child", cmd.Command)
	assert.Equal(t, []string{child}, cmd.Args)
}

func TestSweepStale_IgnoresItself(t *testing.T) {
	deps, conn := swarmtest.AgentDepsConn(t)
	plantHeartbeat(t, conn, agent.HealthName, bus.StatusAlive, time.Now().Add(-20*time.Minute))

	h := New(&config.Config{DataDir: t.TempDir()}, deps)
	report := &bus.HealthReport{}
	h.sweepStale(context.Background(), report)

	assert.Empty(t, report.StaleAgents)
	assert.Equal(t, bus.StatusAlive, heartbeatStatus(t, deps, agent.HealthName))
}

func TestCheck_PressureLiftsPriority(t *testing.T) {
	deps := swarmtest.AgentDeps(t)
	h := New(&config.Config{DataDir: t.TempDir()}, deps)
	h.cpuSample = func() (float64, error) { return 97.5, nil }

	require.NoError(t, h.check(context.Background()))

	msgs, err := deps.Messages.Poll(context.Background(), agent.SupervisorName, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.TypeReport, msgs[0].Type)
	assert.Equal(t, bus.PriorityHigh, msgs[0].Priority)

	report, ok := bus.Decode(&msgs[0]).(*bus.HealthReport)
	require.True(t, ok)
	assert.InDelta(t, 97.5, report.CpuPct, 1e-9)
}

func TestBuildReport_CountsSupervisorBacklog(t *testing.T) {
	deps := swarmtest.AgentDeps(t)
	sender := agent.NewBase("nova-scout", "scout", deps)
	for i := 0; i < 3; i++ {
		require.NoError(t, sender.SendMessage(context.Background(), agent.SupervisorName,
			bus.TypeIntel, bus.PriorityLow, map[string]interface{}{"n": i}, 0))
	}

	h := New(&config.Config{DataDir: t.TempDir()}, deps)
	h.cpuSample = func() (float64, error) { return 10, nil }
	report := h.buildReport(context.Background())

	assert.Equal(t, 3, report.BusPending)
}
