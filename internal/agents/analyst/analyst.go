// Package analyst produces the swarm's market data feed: price tables with
// movers, large-move alerts, and SMA/RSI based volume-spike detection.
package analyst

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
)

const (
	priceInterval  = 5 * time.Minute
	spikeInterval  = 15 * time.Minute
	reportInterval = time.Hour

	// priceAlertPct is the absolute move since the last table that raises a
	// price alert.
	priceAlertPct = 8.0

	volumeSmaPeriod  = 20
	rsiPeriod        = 14
	volumeSpikeRatio = 3.0
	ohlcvBars        = 60
	candleInterval   = "1h"

	maxMovers = 5
)

// DefaultSymbols is the tracked asset set when no override is configured.
var DefaultSymbols = []string{"SOL", "BTC", "ETH", "JUP", "BONK"}

// State persists the last price table so move alerts survive restarts.
type State struct {
	LastPrices  map[string]float64 `msgpack:"lastPrices"`
	LastSpikeAt map[string]time.Time `msgpack:"lastSpikeAt"`
}

// Analyst is the market data agent.
type Analyst struct {
	*agent.Base

	cfg     *config.Config
	reg     *collab.Registry
	log     zerolog.Logger
	symbols []string

	state State
}

func New(cfg *config.Config, reg *collab.Registry, deps agent.Deps) *Analyst {
	return &Analyst{
		Base:    agent.NewBase(agent.AnalystName, "analyst", deps),
		cfg:     cfg,
		reg:     reg,
		log:     deps.Log.With().Str("component", "analyst").Logger(),
		symbols: DefaultSymbols,
	}
}

func (a *Analyst) Start(ctx context.Context) error {
	if err := a.Base.Start(ctx); err != nil {
		return err
	}
	if _, err := a.RestoreState(&a.state); err != nil {
		a.log.Warn().Err(err).Msg("Analyst state restore failed; starting fresh")
	}
	if a.state.LastPrices == nil {
		a.state.LastPrices = make(map[string]float64)
	}
	if a.state.LastSpikeAt == nil {
		a.state.LastSpikeAt = make(map[string]time.Time)
	}

	if err := a.AddInterval("prices", priceInterval, a.priceSweep); err != nil {
		return err
	}
	if err := a.AddInterval("spikes", spikeInterval, a.spikeSweep); err != nil {
		return err
	}
	return a.AddInterval("snapshot", reportInterval, a.snapshot)
}

// priceSweep publishes the enriched price table and raises alerts for large
// moves since the previous sweep.
func (a *Analyst) priceSweep(ctx context.Context) error {
	if !a.reg.HasMarketData() {
		return nil
	}
	a.SetTask("price sweep")
	defer a.SetTask("")

	prices, err := a.reg.MarketData.GetPrices(ctx, a.symbols)
	if err != nil {
		a.log.Debug().Err(err).Msg("Price fetch failed; sweep skipped")
		return nil
	}
	if len(prices) == 0 {
		return nil
	}

	table := &bus.TokenPrices{Prices: prices}
	for _, mv := range a.rankMovers(prices) {
		table.Movers = append(table.Movers, mv)
		if math.Abs(mv.ChangePct) >= priceAlertPct {
			a.sendAlert(ctx, mv)
		}
	}

	payload, err := bus.Encode(table)
	if err != nil {
		return err
	}
	if err := a.ReportToSupervisor(ctx, bus.TypeIntel, bus.PriorityLow, payload); err != nil {
		return err
	}

	for sym, px := range prices {
		a.state.LastPrices[sym] = px
	}
	return a.SaveState(a.state)
}

// rankMovers computes per-symbol change versus the last sweep, strongest
// absolute move first.
func (a *Analyst) rankMovers(prices map[string]float64) []bus.TokenMove {
	var movers []bus.TokenMove
	for sym, px := range prices {
		prev, ok := a.state.LastPrices[sym]
		if !ok || prev <= 0 {
			continue
		}
		movers = append(movers, bus.TokenMove{
			Symbol:    sym,
			PriceUsd:  px,
			ChangePct: (px - prev) / prev * 100,
		})
	}
	sort.Slice(movers, func(i, j int) bool {
		return math.Abs(movers[i].ChangePct) > math.Abs(movers[j].ChangePct)
	})
	if len(movers) > maxMovers {
		movers = movers[:maxMovers]
	}
	return movers
}

func (a *Analyst) sendAlert(ctx context.Context, mv bus.TokenMove) {
	payload, err := bus.Encode(&bus.PriceAlert{
		Symbol:    mv.Symbol,
		PriceUsd:  mv.PriceUsd,
		ChangePct: mv.ChangePct,
	})
	if err != nil {
		return
	}
	priority := bus.PriorityHigh
	if err := a.ReportToSupervisor(ctx, bus.TypeAlert, priority, payload); err != nil {
		a.log.Warn().Err(err).Str("symbol", mv.Symbol).Msg("Failed to send price alert")
	}
}

// spikeSweep runs the volume and momentum detector over hourly bars.
func (a *Analyst) spikeSweep(ctx context.Context) error {
	if !a.reg.HasMarketData() {
		return nil
	}
	a.SetTask("volume scan")
	defer a.SetTask("")

	for _, sym := range a.symbols {
		candles, err := a.reg.MarketData.GetOHLCV(ctx, sym, candleInterval, ohlcvBars)
		if err != nil {
			a.log.Debug().Err(err).Str("symbol", sym).Msg("OHLCV fetch failed")
			continue
		}
		if spike := DetectVolumeSpike(candles); spike != nil {
			// One spike report per symbol per cooldown; spikes persist
			// across several bars and would otherwise repeat.
			if last, ok := a.state.LastSpikeAt[sym]; ok && time.Since(last) < 4*time.Hour {
				continue
			}
			spike.Symbol = sym
			payload, err := bus.Encode(spike)
			if err != nil {
				continue
			}
			if err := a.ReportToSupervisor(ctx, bus.TypeIntel, bus.PriorityHigh, payload); err != nil {
				a.log.Warn().Err(err).Str("symbol", sym).Msg("Failed to send volume spike")
				continue
			}
			a.state.LastSpikeAt[sym] = time.Now()
			_ = a.SaveState(a.state)
		}
	}
	return nil
}

// DetectVolumeSpike reports a spike when the latest bar's volume runs at
// least volumeSpikeRatio times its SMA. The RSI of the same series rides
// along so consumers can judge whether the spike is blow-off or breakout.
func DetectVolumeSpike(candles []collab.Candle) *bus.VolumeSpike {
	if len(candles) < volumeSmaPeriod+1 {
		return nil
	}

	volumes := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
		closes[i] = c.Close
	}

	sma := talib.Sma(volumes, volumeSmaPeriod)
	avg := sma[len(sma)-1]
	if math.IsNaN(avg) || avg <= 0 {
		return nil
	}

	ratio := volumes[len(volumes)-1] / avg
	if ratio < volumeSpikeRatio {
		return nil
	}

	spike := &bus.VolumeSpike{RatioToSma: ratio}
	if len(closes) >= rsiPeriod+1 {
		rsi := talib.Rsi(closes, rsiPeriod)
		if last := rsi[len(rsi)-1]; !math.IsNaN(last) {
			spike.Rsi = last
		}
	}
	return spike
}

// snapshot publishes the hourly DeFi overview built from the LP venues'
// discovery data.
func (a *Analyst) snapshot(ctx context.Context) error {
	a.SetTask("defi snapshot")
	defer a.SetTask("")

	snap := &bus.DefiSnapshot{}
	for venueName, venue := range a.reg.LpVenues {
		if venue == nil {
			continue
		}
		pools, err := venue.DiscoverPools(ctx, collab.DiscoverRequest{MaxPools: 50})
		if err != nil {
			a.log.Debug().Err(err).Str("venue", venueName).Msg("Pool discovery failed for snapshot")
			continue
		}
		for _, p := range pools {
			snap.TotalTvlUsd += p.TvlUsd
			snap.PoolCount++
			if len(snap.TopPools) < 5 {
				snap.TopPools = append(snap.TopPools, bus.PoolStat{
					Name:   p.Pair,
					TvlUsd: p.TvlUsd,
					ApyPct: p.AprPct,
				})
			}
		}
	}
	if snap.PoolCount == 0 {
		return nil
	}

	payload, err := bus.Encode(snap)
	if err != nil {
		return err
	}
	return a.ReportToSupervisor(ctx, bus.TypeIntel, bus.PriorityLow, payload)
}
