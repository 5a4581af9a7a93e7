package analyst

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

func newAnalyst(t *testing.T, reg *collab.Registry) (*Analyst, agent.Deps) {
	t.Helper()

	deps := swarmtest.AgentDeps(t)
	a := New(&config.Config{PollInterval: 5 * time.Second}, reg, deps)
	a.state.LastPrices = make(map[string]float64)
	a.state.LastSpikeAt = make(map[string]time.Time)
	return a, deps
}

// drain reads and acknowledges everything on the supervisor's inbox.
func drain(t *testing.T, deps agent.Deps) []bus.Message {
	t.Helper()
	msgs, err := deps.Messages.Poll(context.Background(), agent.SupervisorName, 20)
	require.NoError(t, err)
	for i := range msgs {
		require.NoError(t, deps.Messages.Acknowledge(context.Background(), msgs[i].ID))
	}
	return msgs
}

func TestDetectVolumeSpike_FiresOnHeavyBar(t *testing.T) {
	spike := DetectVolumeSpike(swarmtest.SpikeCandles(60, 4.0))

	require.NotNil(t, spike)
	// The spike bar inflates its own average: 4000 over (19*1000+4000)/20.
	assert.InDelta(t, 4000.0/1150.0, spike.RatioToSma, 1e-9)
	assert.Greater(t, spike.Rsi, 50.0, "steadily rising closes read overbought")
}

func TestDetectVolumeSpike_QuietTape(t *testing.T) {
	assert.Nil(t, DetectVolumeSpike(swarmtest.FlatCandles(60)))
}

func TestDetectVolumeSpike_ShortHistory(t *testing.T) {
	assert.Nil(t, DetectVolumeSpike(swarmtest.SpikeCandles(20, 5.0)), "one full SMA window plus the probe bar is required")
}

func TestPriceSweep_FirstSweepHasNoMovers(t *testing.T) {
	md := &swarmtest.MockMarketData{Prices: map[string]float64{"SOL": 100, "BTC": 60000}}
	a, deps := newAnalyst(t, &collab.Registry{MarketData: md})

	require.NoError(t, a.priceSweep(context.Background()))

	msgs := drain(t, deps)
	require.Len(t, msgs, 1)
	table, ok := bus.Decode(&msgs[0]).(*bus.TokenPrices)
	require.True(t, ok)
	assert.Empty(t, table.Movers, "no baseline yet")
	assert.InDelta(t, 100, table.Prices["SOL"], 1e-9)
}

func TestPriceSweep_LargeMoveRaisesAlert(t *testing.T) {
	md := &swarmtest.MockMarketData{Prices: map[string]float64{"SOL": 100, "BTC": 60000}}
	a, deps := newAnalyst(t, &collab.Registry{MarketData: md})

	require.NoError(t, a.priceSweep(context.Background()))
	drain(t, deps)

	// SOL -10%, BTC +1%.
	md.Prices["SOL"] = 90
	md.Prices["BTC"] = 60600
	require.NoError(t, a.priceSweep(context.Background()))

	msgs := drain(t, deps)
	require.Len(t, msgs, 2)

	var alert *bus.PriceAlert
	var table *bus.TokenPrices
	for i := range msgs {
		switch v := bus.Decode(&msgs[i]).(type) {
		case *bus.PriceAlert:
			alert = v
			assert.Equal(t, bus.PriorityHigh, msgs[i].Priority)
		case *bus.TokenPrices:
			table = v
		}
	}
	require.NotNil(t, alert)
	assert.Equal(t, "SOL", alert.Symbol)
	assert.InDelta(t, -10, alert.ChangePct, 1e-9)

	require.NotNil(t, table)
	require.Len(t, table.Movers, 2)
	assert.Equal(t, "SOL", table.Movers[0].Symbol, "strongest absolute move first")
}

func TestSpikeSweep_CooldownSuppressesRepeats(t *testing.T) {
	md := &swarmtest.MockMarketData{
		Prices:  map[string]float64{},
		Candles: map[string][]collab.Candle{"SOL": swarmtest.SpikeCandles(60, 5.0)},
	}
	a, deps := newAnalyst(t, &collab.Registry{MarketData: md})
	a.symbols = []string{"SOL"}

	require.NoError(t, a.spikeSweep(context.Background()))
	msgs := drain(t, deps)
	require.Len(t, msgs, 1)
	spike, ok := bus.Decode(&msgs[0]).(*bus.VolumeSpike)
	require.True(t, ok)
	assert.Equal(t, "SOL", spike.Symbol)

	// The same persistent spike stays quiet inside the cooldown.
	require.NoError(t, a.spikeSweep(context.Background()))
	assert.Empty(t, drain(t, deps))
}

func TestSnapshot_AggregatesBothVenues(t *testing.T) {
	orca := &swarmtest.MockLiquidityVenue{Pools: []collab.PoolCandidate{
		{Pair: "SOL/USDC", TvlUsd: 2_000_000, AprPct: 12},
		{Pair: "JUP/SOL", TvlUsd: 400_000, AprPct: 30},
	}}
	raydium := &swarmtest.MockLiquidityVenue{Pools: []collab.PoolCandidate{
		{Pair: "BONK/SOL", TvlUsd: 100_000, AprPct: 80},
	}}
	a, deps := newAnalyst(t, &collab.Registry{LpVenues: map[string]collab.LiquidityVenue{
		collab.VenueOrca:    orca,
		collab.VenueRaydium: raydium,
	}})

	require.NoError(t, a.snapshot(context.Background()))

	msgs := drain(t, deps)
	require.Len(t, msgs, 1)
	snap, ok := bus.Decode(&msgs[0]).(*bus.DefiSnapshot)
	require.True(t, ok)
	assert.Equal(t, 3, snap.PoolCount)
	assert.InDelta(t, 2_500_000, snap.TotalTvlUsd, 1e-6)
	assert.Len(t, snap.TopPools, 3)
}

func TestSnapshot_NoPoolsNoReport(t *testing.T) {
	a, deps := newAnalyst(t, &collab.Registry{})

	require.NoError(t, a.snapshot(context.Background()))
	assert.Empty(t, drain(t, deps))
}
