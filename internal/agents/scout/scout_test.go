package scout

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

func newScout(t *testing.T, trends collab.TrendSource) (*Scout, agent.Deps) {
	t.Helper()

	deps := swarmtest.AgentDeps(t)
	cfg := &config.Config{PollInterval: 5 * time.Second}
	s := New(cfg, &collab.Registry{Trends: trends}, deps)
	return s, deps
}

// supervisorInbox drains and acknowledges the supervisor's pending messages.
func supervisorInbox(t *testing.T, deps agent.Deps) []bus.Message {
	t.Helper()
	msgs, err := deps.Messages.Poll(context.Background(), agent.SupervisorName, 10)
	require.NoError(t, err)
	for i := range msgs {
		require.NoError(t, deps.Messages.Acknowledge(context.Background(), msgs[i].ID))
	}
	return msgs
}

func TestScan_ReportsStrongestNarrative(t *testing.T) {
	bullish := true
	trends := &swarmtest.MockTrends{Narratives: []collab.Narrative{
		{Topic: "memecoins", Summary: "Memecoin volume fading", Mentions: 40},
		{Topic: "restaking", Summary: "Restaking yields surge as new vaults launch", Mentions: 150, Bullish: &bullish},
	}}
	s, deps := newScout(t, trends)

	require.NoError(t, s.scan(context.Background()))

	msgs := supervisorInbox(t, deps)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.TypeIntel, msgs[0].Type)
	assert.Equal(t, bus.PriorityHigh, msgs[0].Priority, "150 mentions travels high")

	shift, ok := bus.Decode(&msgs[0]).(*bus.NarrativeShift)
	require.True(t, ok)
	assert.Equal(t, "Restaking yields surge as new vaults launch", shift.Summary)
	assert.Equal(t, []string{"restaking", "memecoins"}, shift.Topics)
	assert.Equal(t, 2, shift.Sources)
	require.NotNil(t, shift.CryptoBullish)
	assert.True(t, *shift.CryptoBullish)
}

func TestScan_UnchangedTopicIsSilent(t *testing.T) {
	trends := &swarmtest.MockTrends{Narratives: []collab.Narrative{
		{Topic: "restaking", Summary: "Restaking still dominant", Mentions: 80},
	}}
	s, deps := newScout(t, trends)

	require.NoError(t, s.scan(context.Background()))
	require.Len(t, supervisorInbox(t, deps), 1)

	// Same topic, no mention growth: nothing new to say.
	require.NoError(t, s.scan(context.Background()))
	assert.Empty(t, supervisorInbox(t, deps))
	assert.Equal(t, 1, s.state.ShiftsSent)
}

func TestScan_MentionGrowthReopensTopic(t *testing.T) {
	trends := &swarmtest.MockTrends{Narratives: []collab.Narrative{
		{Topic: "restaking", Summary: "Restaking chatter building", Mentions: 50},
	}}
	s, deps := newScout(t, trends)

	require.NoError(t, s.scan(context.Background()))
	supervisorInbox(t, deps)

	trends.Narratives[0].Mentions = 120
	require.NoError(t, s.scan(context.Background()))

	msgs := supervisorInbox(t, deps)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.PriorityHigh, msgs[0].Priority)
}

func TestScan_InfersSentimentWhenSourceHasNone(t *testing.T) {
	trends := &swarmtest.MockTrends{Narratives: []collab.Narrative{
		{Topic: "exploits", Summary: "Major protocol hack triggers panic selling crash", Mentions: 30},
	}}
	s, deps := newScout(t, trends)

	require.NoError(t, s.scan(context.Background()))

	msgs := supervisorInbox(t, deps)
	require.Len(t, msgs, 1)
	shift, ok := bus.Decode(&msgs[0]).(*bus.NarrativeShift)
	require.True(t, ok)
	require.NotNil(t, shift.CryptoBullish)
	assert.False(t, *shift.CryptoBullish)
}

func TestPollInbox_AnswersIntelRequest(t *testing.T) {
	trends := &swarmtest.MockTrends{Narratives: []collab.Narrative{
		{Topic: "ai-agents", Summary: "Agent tokens rally on new launches", Mentions: 90},
	}}
	s, deps := newScout(t, trends)
	require.NoError(t, s.scan(context.Background()))
	supervisorInbox(t, deps)

	payload, err := bus.Encode(&bus.AdminCommand{Command: "scout_intel"})
	require.NoError(t, err)
	asker := agent.NewBase(agent.CFOName, "cfo", deps)
	require.NoError(t, asker.SendMessage(context.Background(), agent.ScoutName, bus.TypeRequest, bus.PriorityMedium, payload, 0))

	require.NoError(t, s.pollInbox(context.Background()))

	msgs, err := deps.Messages.Poll(context.Background(), agent.CFOName, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	shift, ok := bus.Decode(&msgs[0]).(*bus.NarrativeShift)
	require.True(t, ok)
	assert.Equal(t, "Agent tokens rally on new launches", shift.Summary)

	// The request itself was acked.
	assert.Empty(t, drainScout(t, s))
}

func drainScout(t *testing.T, s *Scout) []bus.Message {
	t.Helper()
	msgs, err := s.ReadMessages(context.Background(), 10)
	require.NoError(t, err)
	return msgs
}

func TestScan_StatePersistsAcrossRestart(t *testing.T) {
	trends := &swarmtest.MockTrends{Narratives: []collab.Narrative{
		{Topic: "depin", Summary: "DePIN narratives gaining steam", Mentions: 60},
	}}
	s, deps := newScout(t, trends)
	require.NoError(t, s.scan(context.Background()))
	supervisorInbox(t, deps)

	// A fresh scout over the same database must not repeat the shift.
	fresh := New(&config.Config{PollInterval: 5 * time.Second}, &collab.Registry{Trends: trends}, deps)
	restored, err := fresh.RestoreState(&fresh.state)
	require.NoError(t, err)
	require.True(t, restored)

	require.NoError(t, fresh.scan(context.Background()))
	assert.Empty(t, supervisorInbox(t, deps))
}
