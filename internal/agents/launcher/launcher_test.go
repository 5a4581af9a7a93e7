package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/swarmtest"
)

func drain(t *testing.T, deps agent.Deps) []bus.Message {
	t.Helper()
	msgs, err := deps.Messages.Poll(context.Background(), agent.SupervisorName, 20)
	require.NoError(t, err)
	for i := range msgs {
		require.NoError(t, deps.Messages.Acknowledge(context.Background(), msgs[i].ID))
	}
	return msgs
}

func TestPoll_AnnouncesAndAdvancesHighWaterMark(t *testing.T) {
	deps := swarmtest.AgentDeps(t)
	now := time.Now()
	pad := &swarmtest.MockLaunchpad{Events: []collab.LaunchpadEvent{
		{Stage: "launched", TokenAddress: "mintA", Symbol: "AAA", MarketCapUsd: 8000, At: now.Add(-3 * time.Minute)},
		{Stage: "graduated", TokenAddress: "mintB", Symbol: "BBB", MarketCapUsd: 95000, At: now.Add(-time.Minute)},
	}}
	l := New(&config.Config{}, &collab.Registry{Launchpad: pad}, deps)

	require.NoError(t, l.poll(context.Background()))

	msgs := drain(t, deps)
	require.Len(t, msgs, 2)

	byStage := map[string]bus.Priority{}
	for i := range msgs {
		assert.Equal(t, bus.TypeStatus, msgs[i].Type)
		ev, ok := bus.Decode(&msgs[i]).(*bus.LaunchEvent)
		require.True(t, ok)
		byStage[ev.Stage] = msgs[i].Priority
	}
	assert.Equal(t, bus.PriorityLow, byStage["launched"])
	assert.Equal(t, bus.PriorityMedium, byStage["graduated"], "graduations drive child spawning downstream")

	assert.Equal(t, 2, l.state.EventsSent)
	assert.True(t, l.state.LastSeenAt.Equal(pad.Events[1].At))

	// A second poll past the mark announces nothing new.
	require.NoError(t, l.poll(context.Background()))
	assert.Empty(t, drain(t, deps))
}

func TestPoll_NoLaunchpadIsANoOp(t *testing.T) {
	deps := swarmtest.AgentDeps(t)
	l := New(&config.Config{}, &collab.Registry{}, deps)

	require.NoError(t, l.poll(context.Background()))
	assert.Empty(t, drain(t, deps))
}
