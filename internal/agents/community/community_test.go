package community

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

func TestBuildReport_EngagementSpike(t *testing.T) {
	now := time.Now()
	report := BuildReport(&collab.CommunityActivity{
		Messages:        240,
		ActiveUsers:     40,
		EngagementDelta: 2.5,
		Highlights:      []string{"token launch question", "airdrop rumor"},
	}, now)

	require.NotNil(t, report)
	assert.True(t, report.EngagementSpike)
	assert.Equal(t, "token launch question · airdrop rumor", report.Highlights)
	assert.Zero(t, report.Bans)
}

func TestBuildReport_OnlyRecentBansCounted(t *testing.T) {
	now := time.Now()
	report := BuildReport(&collab.CommunityActivity{
		Messages: 10,
		Bans: []collab.BanEvent{
			{UserID: 1, At: now.Add(-5 * time.Minute)},
			{UserID: 2, At: now.Add(-25 * time.Minute)},
			{UserID: 3, At: now.Add(-2 * time.Hour)},
		},
	}, now)

	require.NotNil(t, report)
	assert.Equal(t, 2, report.Bans)
	assert.False(t, report.EngagementSpike)
}

func TestBuildReport_DeadFeedIsNil(t *testing.T) {
	assert.Nil(t, BuildReport(&collab.CommunityActivity{EngagementDelta: 3.0}, time.Now()),
		"a spike ratio over an empty window means nothing")
}

func TestCheck_SpikeTravelsHigh(t *testing.T) {
	deps := swarmtest.AgentDeps(t)
	feed := &swarmtest.MockCommunityFeed{Activity: &collab.CommunityActivity{
		Messages:        500,
		EngagementDelta: 4.0,
		Highlights:      []string{"cto forming"},
	}}
	c := New(&config.Config{}, &collab.Registry{Community: feed}, deps)

	require.NoError(t, c.check(context.Background()))

	msgs, err := deps.Messages.Poll(context.Background(), agent.SupervisorName, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.TypeReport, msgs[0].Type)
	assert.Equal(t, bus.PriorityHigh, msgs[0].Priority)

	report, ok := bus.Decode(&msgs[0]).(*bus.CommunityReport)
	require.True(t, ok)
	assert.True(t, report.EngagementSpike)
}

func TestCheck_QuietWindowTravelsLow(t *testing.T) {
	deps := swarmtest.AgentDeps(t)
	feed := &swarmtest.MockCommunityFeed{Activity: &collab.CommunityActivity{
		Messages:        12,
		EngagementDelta: 1.0,
	}}
	c := New(&config.Config{}, &collab.Registry{Community: feed}, deps)

	require.NoError(t, c.check(context.Background()))

	msgs, err := deps.Messages.Poll(context.Background(), agent.SupervisorName, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.PriorityLow, msgs[0].Priority)
}
