package swarmtest

import (
	"time"

	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/ledger"
)

// FlatCandles returns n hourly candles with steady volume and a gently
// rising close, nothing an indicator should trigger on.
func FlatCandles(n int) []collab.Candle {
	candles := make([]collab.Candle, n)
	start := time.Now().Add(-time.Duration(n) * time.Hour)
	for i := range candles {
		px := 100.0 + float64(i)*0.1
		candles[i] = collab.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     px,
			High:     px + 0.5,
			Low:      px - 0.5,
			Close:    px,
			Volume:   1000,
		}
	}
	return candles
}

// SpikeCandles returns flat history with the final bar's volume at the given
// multiple of the baseline.
func SpikeCandles(n int, ratio float64) []collab.Candle {
	candles := FlatCandles(n)
	candles[n-1].Volume = 1000 * ratio
	return candles
}

// PerpNearLiquidation returns an account with one long 5% from its
// liquidation price.
func PerpNearLiquidation() *collab.PerpAccountSummary {
	return &collab.PerpAccountSummary{
		EquityUsd: 500,
		Positions: []collab.PerpPosition{{
			Coin:          "SOL",
			SizeUsd:       400,
			MarginUsd:     100,
			MarkPx:        100,
			LiquidationPx: 95,
		}},
	}
}

// ClosedTrade builds one closed position with the given strategy and PnL,
// closed at the given time.
func ClosedTrade(strategy string, pnlUsd float64, closedAt time.Time) *ledger.ClosedPosition {
	return &ledger.ClosedPosition{
		Strategy: strategy,
		Venue:    "test",
		Symbol:   "SOL",
		EntryUsd: 100,
		ExitUsd:  100 + pnlUsd,
		PnlUsd:   pnlUsd,
		ClosedAt: closedAt,
	}
}
