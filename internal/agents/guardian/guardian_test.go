package guardian

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

func guardianConfig() *config.Config {
	return &config.Config{
		PollInterval:            5 * time.Second,
		HlLiquidationWarningPct: 15,
	}
}

func newGuardian(t *testing.T, reg *collab.Registry) (*Guardian, agent.Deps) {
	t.Helper()

	deps := swarmtest.AgentDeps(t)
	g := New(guardianConfig(), reg, deps)
	g.state.PoolTvl = make(map[string]float64)
	g.state.LastAlertAt = make(map[string]time.Time)
	return g, deps
}

// alerts drains and acknowledges the supervisor's inbox.
func alerts(t *testing.T, deps agent.Deps) []bus.Message {
	t.Helper()
	msgs, err := deps.Messages.Poll(context.Background(), agent.SupervisorName, 20)
	require.NoError(t, err)
	for i := range msgs {
		require.NoError(t, deps.Messages.Acknowledge(context.Background(), msgs[i].ID))
	}
	return msgs
}

func TestCheckLiquidationDistance_PriorityBands(t *testing.T) {
	perps := &swarmtest.MockPerps{Summary: &collab.PerpAccountSummary{
		Positions: []collab.PerpPosition{
			// 40% out: fine.
			{Coin: "BTC", SizeUsd: 1000, MarkPx: 100, LiquidationPx: 60},
			// 10% out: inside the 15% band, above half of it.
			{Coin: "ETH", SizeUsd: 500, MarkPx: 100, LiquidationPx: 90},
			// 5% out: inside half the band.
			{Coin: "SOL", SizeUsd: 400, MarkPx: 100, LiquidationPx: 95},
		},
	}}
	g, deps := newGuardian(t, &collab.Registry{Perps: perps})

	g.checkLiquidationDistance(context.Background())

	msgs := alerts(t, deps)
	require.Len(t, msgs, 2)

	byToken := map[string]bus.Priority{}
	for i := range msgs {
		alert, ok := bus.Decode(&msgs[i]).(*bus.SafetyAlert)
		require.True(t, ok)
		assert.Equal(t, "liquidation_risk", alert.Category)
		byToken[alert.Token] = msgs[i].Priority
	}
	assert.Equal(t, bus.PriorityHigh, byToken["ETH"])
	assert.Equal(t, bus.PriorityCritical, byToken["SOL"])
}

func TestCompareTvl_DrainBands(t *testing.T) {
	g, deps := newGuardian(t, &collab.Registry{})
	ctx := context.Background()

	// First sighting only sets the baseline.
	g.compareTvl(ctx, "SOL/USDC", 1_000_000)
	assert.Empty(t, alerts(t, deps))

	// 10% drop stays quiet.
	g.compareTvl(ctx, "SOL/USDC", 900_000)
	assert.Empty(t, alerts(t, deps))

	// 25% drop from the new 900k baseline alerts high.
	g.compareTvl(ctx, "SOL/USDC", 675_000)
	msgs := alerts(t, deps)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.PriorityHigh, msgs[0].Priority)
	alert, ok := bus.Decode(&msgs[0]).(*bus.SafetyAlert)
	require.True(t, ok)
	assert.Equal(t, "tvl_drain", alert.Category)
	assert.InDelta(t, 25, alert.TvlDropPct, 1e-9)
}

func TestCompareTvl_CriticalDrop(t *testing.T) {
	g, deps := newGuardian(t, &collab.Registry{})
	ctx := context.Background()

	g.compareTvl(ctx, "JUP/SOL", 500_000)
	g.compareTvl(ctx, "JUP/SOL", 250_000)

	msgs := alerts(t, deps)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.PriorityCritical, msgs[0].Priority)
}

func TestCheckTvlDrain_OnlyHeldPairsCompared(t *testing.T) {
	venue := &swarmtest.MockLiquidityVenue{
		Positions: []collab.LpPosition{{ID: "p1", Pair: "SOL/USDC", ValueUsd: 5000}},
		Pools: []collab.PoolCandidate{
			{Pair: "SOL/USDC", TvlUsd: 1_000_000},
			{Pair: "BONK/SOL", TvlUsd: 50_000},
		},
	}
	g, _ := newGuardian(t, &collab.Registry{
		LpVenues: map[string]collab.LiquidityVenue{collab.VenueOrca: venue},
	})

	g.checkTvlDrain(context.Background())

	_, tracked := g.state.PoolTvl["SOL/USDC"]
	assert.True(t, tracked)
	_, ignored := g.state.PoolTvl["BONK/SOL"]
	assert.False(t, ignored, "pools without a treasury position carry no baseline")
}

func TestAssessToken_Findings(t *testing.T) {
	cases := []struct {
		name   string
		report collab.TokenSafetyReport
		flags  bool
	}{
		{"honeypot", collab.TokenSafetyReport{Symbol: "SCAM", Safe: true, Honeypot: true}, true},
		{"unsafe", collab.TokenSafetyReport{Symbol: "RISK", Safe: false, Flags: []string{"mint authority live"}}, true},
		{"unlocked lp", collab.TokenSafetyReport{Symbol: "THIN", Safe: true, LpLockedPct: 20, TopHolderPct: 5}, true},
		{"whale", collab.TokenSafetyReport{Symbol: "WHALE", Safe: true, LpLockedPct: 90, TopHolderPct: 45}, true},
		{"clean", collab.TokenSafetyReport{Symbol: "OK", Safe: true, LpLockedPct: 90, TopHolderPct: 10}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			finding := assessToken(&tc.report)
			if tc.flags {
				assert.NotEmpty(t, finding)
			} else {
				assert.Empty(t, finding)
			}
		})
	}
}

func TestRaise_RepeatSuppressedInsideWindow(t *testing.T) {
	g, deps := newGuardian(t, &collab.Registry{})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	alert := &bus.SafetyAlert{Category: "token_safety", Token: "SCAM", Details: "honeypot"}
	g.raise(ctx, "token:abc", bus.PriorityHigh, alert)
	g.raise(ctx, "token:abc", bus.PriorityHigh, alert)
	require.Len(t, alerts(t, deps), 1)
	assert.Equal(t, 1, g.state.AlertsRaised)

	// Past the window the same finding fires again.
	clock = clock.Add(61 * time.Minute)
	g.raise(ctx, "token:abc", bus.PriorityHigh, alert)
	require.Len(t, alerts(t, deps), 1)
	assert.Equal(t, 2, g.state.AlertsRaised)
}

func TestScanWatchlist_AlertsOnFlaggedToken(t *testing.T) {
	scanner := &swarmtest.MockTokenSafety{Reports: map[string]*collab.TokenSafetyReport{
		"mint1": {Address: "mint1", Symbol: "SCAM", Safe: true, Honeypot: true, LpLockedPct: 100},
	}}
	g, deps := newGuardian(t, &collab.Registry{TokenSafety: scanner})
	g.state.Watchlist = []string{"mint1", "mint2"}

	g.scanWatchlist(context.Background())

	msgs := alerts(t, deps)
	require.Len(t, msgs, 1, "the default report is clean; only mint1 alerts")
	alert, ok := bus.Decode(&msgs[0]).(*bus.SafetyAlert)
	require.True(t, ok)
	assert.Equal(t, "token_safety", alert.Category)
	assert.Equal(t, "SCAM", alert.Token)
}

func TestHandleCommand_WatchlistRoundTrip(t *testing.T) {
	g, _ := newGuardian(t, &collab.Registry{})

	g.handleCommand(&bus.AdminCommand{Command: "watch_token", Args: []string{"mint1"}})
	g.handleCommand(&bus.AdminCommand{Command: "watch_token", Args: []string{"mint1"}})
	assert.Equal(t, []string{"mint1"}, g.state.Watchlist, "duplicates collapse")

	g.handleCommand(&bus.AdminCommand{Command: "unwatch_token", Args: []string{"mint1"}})
	assert.Empty(t, g.state.Watchlist)
}
