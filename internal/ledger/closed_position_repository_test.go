package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRecord_DerivesPnl tests stamping and PnL derivation on a minimal row.
func TestRecord_DerivesPnl(t *testing.T) {
	repo := NewClosedPositionRepository(setupLedgerDB(t), testLogger())
	ctx := context.Background()

	p := &ClosedPosition{Strategy: "hedge", Symbol: "SOL", EntryUsd: 400, ExitUsd: 430}
	assert.NoError(t, repo.Record(ctx, p))
	assert.NotZero(t, p.ID)
	assert.False(t, p.ClosedAt.IsZero())
	assert.InDelta(t, 30, p.PnlUsd, 1e-9)

	assert.ErrorContains(t, repo.Record(ctx, &ClosedPosition{}), "strategy")
}

// TestRecord_PreservesExplicitPnl tests that a caller-supplied PnL is not
// overwritten even when it disagrees with exit minus entry (fees).
func TestRecord_PreservesExplicitPnl(t *testing.T) {
	repo := NewClosedPositionRepository(setupLedgerDB(t), testLogger())
	ctx := context.Background()

	p := &ClosedPosition{Strategy: "polymarket", EntryUsd: 100, ExitUsd: 130, PnlUsd: 28.5}
	assert.NoError(t, repo.Record(ctx, p))

	got, err := repo.ListSince(ctx, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.InDelta(t, 28.5, got[0].PnlUsd, 1e-9)
}

// TestListSince_WindowAndOrder tests the retrospective window query.
func TestListSince_WindowAndOrder(t *testing.T) {
	repo := NewClosedPositionRepository(setupLedgerDB(t), testLogger())
	ctx := context.Background()
	now := time.Now()

	closes := []struct {
		symbol string
		age    time.Duration
	}{
		{"OLD", 100 * 24 * time.Hour},
		{"MID", 30 * 24 * time.Hour},
		{"NEW", 24 * time.Hour},
	}
	for _, c := range closes {
		opened := now.Add(-c.age - time.Hour)
		assert.NoError(t, repo.Record(ctx, &ClosedPosition{
			Strategy: "lp", Symbol: c.symbol, PnlUsd: 1,
			OpenedAt: &opened, ClosedAt: now.Add(-c.age),
		}))
	}

	got, err := repo.ListSince(ctx, now.Add(-90*24*time.Hour))
	assert.NoError(t, err)
	assert.Len(t, got, 2, "90-day window should exclude the 100-day-old close")
	assert.Equal(t, "MID", got[0].Symbol, "Oldest in window comes first")
	assert.Equal(t, "NEW", got[1].Symbol)
	assert.NotNil(t, got[0].OpenedAt)
	assert.Greater(t, got[0].HoldingDuration(), time.Duration(0))
}

// TestListByStrategySince tests per-strategy filtering.
func TestListByStrategySince(t *testing.T) {
	repo := NewClosedPositionRepository(setupLedgerDB(t), testLogger())
	ctx := context.Background()

	assert.NoError(t, repo.Record(ctx, &ClosedPosition{Strategy: "hedge", PnlUsd: 5}))
	assert.NoError(t, repo.Record(ctx, &ClosedPosition{Strategy: "hedge", PnlUsd: -3}))
	assert.NoError(t, repo.Record(ctx, &ClosedPosition{Strategy: "staking", PnlUsd: 1}))

	got, err := repo.ListByStrategySince(ctx, "hedge", time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	for _, p := range got {
		assert.Equal(t, "hedge", p.Strategy)
	}
}

// TestRecord_MetadataRoundTrip tests that venue metadata survives storage.
func TestRecord_MetadataRoundTrip(t *testing.T) {
	repo := NewClosedPositionRepository(setupLedgerDB(t), testLogger())
	ctx := context.Background()

	assert.NoError(t, repo.Record(ctx, &ClosedPosition{
		Strategy: "lp", Venue: "orca", Pair: "SOL/USDC", PnlUsd: 12,
		Metadata: map[string]interface{}{"out_of_range": true, "range_width_pct": 10.0},
	}))

	got, err := repo.ListSince(ctx, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, true, got[0].Metadata["out_of_range"])
	assert.Equal(t, 10.0, got[0].Metadata["range_width_pct"])
}

// TestSummarizeSince tests the PnL aggregate used in briefings.
func TestSummarizeSince(t *testing.T) {
	repo := NewClosedPositionRepository(setupLedgerDB(t), testLogger())
	ctx := context.Background()

	summary, err := repo.SummarizeSince(ctx, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 0, summary.Trades)
	assert.Zero(t, summary.WinRate())

	for _, pnl := range []float64{25, -10, 40, -5} {
		assert.NoError(t, repo.Record(ctx, &ClosedPosition{Strategy: "hedge", PnlUsd: pnl}))
	}

	summary, err = repo.SummarizeSince(ctx, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 4, summary.Trades)
	assert.Equal(t, 2, summary.Wins)
	assert.InDelta(t, 50, summary.TotalPnlUsd, 1e-9)
	assert.InDelta(t, 40, summary.BestPnlUsd, 1e-9)
	assert.InDelta(t, -5, summary.WorstPnlUsd, 1e-9)
	assert.InDelta(t, 0.5, summary.WinRate(), 1e-9)
}
