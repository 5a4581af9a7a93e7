package decision

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MRT0B13/novaos/internal/collab"
)

// stableSymbols are treated as idle capital, never as hedgeable exposure.
var stableSymbols = map[string]bool{
	"USDC": true,
	"USDT": true,
}

// lstSymbols are liquid-staking derivatives of SOL. They fold into the SOL
// exposure line before the minimum-exposure filter, so a treasury holding
// $40 of SOL and $225 of JitoSOL hedges as one $265 SOL exposure.
var lstSymbols = map[string]bool{
	"JITOSOL": true,
	"MSOL":    true,
	"BSOL":    true,
	"JUPSOL":  true,
	"INF":     true,
}

func isLst(symbol string) bool    { return lstSymbols[strings.ToUpper(symbol)] }
func isStable(symbol string) bool { return stableSymbols[strings.ToUpper(symbol)] }

// gather reads the whole portfolio from the wired collaborators. Reads run
// concurrently; each failure zeroes its slice of the snapshot and lands in
// Errors instead of aborting the cycle. The spot price is read first because
// stake valuation needs it.
func (e *Engine) gather(ctx context.Context) *TreasurySnapshot {
	snap := &TreasurySnapshot{TakenAt: time.Now().UTC()}

	var mu sync.Mutex
	fail := func(source string, err error) {
		mu.Lock()
		snap.Errors = append(snap.Errors, source+": "+err.Error())
		mu.Unlock()
		e.log.Debug().Err(err).Str("source", source).Msg("Gather read failed")
	}

	if e.reg.HasMarketData() {
		price, err := e.reg.MarketData.GetPrice(ctx, "SOL")
		if err != nil {
			fail("sol_price", err)
		} else {
			snap.SolPriceUsd = price
		}
	}

	var wg sync.WaitGroup
	run := func(source string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				fail(source, err)
			}
		}()
	}

	listed := make(map[string]bool)

	if e.reg.HasWallet() {
		run("wallet_balances", func() error {
			balances, err := e.reg.Wallet.GetWalletTokenBalances(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Balances = balances
			mu.Unlock()
			return nil
		})
		run("wallet_sol", func() error {
			sol, err := e.reg.Wallet.GetBalance(ctx, "SOL")
			if err != nil {
				return err
			}
			mu.Lock()
			snap.IdleSol = sol
			mu.Unlock()
			return nil
		})
	}

	if e.reg.HasPerps() {
		run("perp_account", func() error {
			summary, err := e.reg.Perps.GetAccountSummary(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Perp = summary
			mu.Unlock()
			return nil
		})
		run("perp_listings", func() error {
			coins, err := e.reg.Perps.GetListedCoins(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, c := range coins {
				listed[strings.ToUpper(c)] = true
			}
			mu.Unlock()
			return nil
		})
	}

	if e.reg.HasStaking() {
		price := snap.SolPriceUsd
		run("stake_position", func() error {
			pos, err := e.reg.Staking.GetStakePosition(ctx, price)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Stake = pos
			mu.Unlock()
			return nil
		})
	}

	if e.reg.HasLending() {
		run("lending_position", func() error {
			pos, err := e.reg.Lending.GetPosition(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Lending = pos
			mu.Unlock()
			return nil
		})
	}

	for name, venue := range e.reg.LpVenues {
		if venue == nil {
			continue
		}
		name, venue := name, venue
		run("lp_"+name, func() error {
			positions, err := venue.GetPositions(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.LpPositions = append(snap.LpPositions, positions...)
			mu.Unlock()
			return nil
		})
	}

	if e.reg.HasPredictions() {
		run("prediction_positions", func() error {
			positions, err := e.reg.Predictions.FetchPositions(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Predictions = positions
			mu.Unlock()
			return nil
		})
	}

	wg.Wait()

	deriveSnapshotFields(snap, listed, e.cfg.HedgeMinExposureUsd)
	return snap
}

// deriveSnapshotFields computes totals, idle capital, and the hedgeable
// exposure list from the raw reads.
func deriveSnapshotFields(snap *TreasurySnapshot, listed map[string]bool, minExposureUsd float64) {
	var total float64
	for _, b := range snap.Balances {
		total += b.ValueUsd
		if isStable(b.Symbol) {
			snap.IdleUsd += b.ValueUsd
		}
	}
	if snap.Perp != nil {
		total += snap.Perp.EquityUsd
	}
	if snap.Stake != nil {
		total += snap.Stake.ValueUsd
	}
	if snap.Lending != nil {
		total += snap.Lending.TotalDepositsUsd() - snap.Lending.TotalBorrowsUsd()
	}
	for _, p := range snap.LpPositions {
		total += p.ValueUsd
	}
	for _, p := range snap.Predictions {
		total += p.ValueUsd
	}
	snap.TotalUsd = total
	snap.IdleUsd += snap.IdleSol * snap.SolPriceUsd

	snap.Exposures = foldExposures(snap.Balances, snap.SolPriceUsd, listed, minExposureUsd)
}

// foldExposures aggregates wallet balances into hedgeable exposures. LSTs
// fold into the SOL line in SOL-equivalent units before the minimum filter
// runs, so fragmented stakes still clear the threshold together.
func foldExposures(balances []collab.TokenBalance, solPriceUsd float64, listed map[string]bool, minExposureUsd float64) []AssetExposure {
	agg := make(map[string]*AssetExposure)

	for _, b := range balances {
		if isStable(b.Symbol) {
			continue
		}

		symbol := strings.ToUpper(b.Symbol)
		units := b.Amount
		if isLst(b.Symbol) {
			symbol = "SOL"
			// Fold at market value; fall back to unit count when the SOL
			// price is unavailable.
			if solPriceUsd > 0 {
				units = b.ValueUsd / solPriceUsd
			}
		}

		exp, ok := agg[symbol]
		if !ok {
			exp = &AssetExposure{Symbol: symbol}
			agg[symbol] = exp
		}
		exp.Balance += units
		exp.UsdValue += b.ValueUsd
	}

	out := make([]AssetExposure, 0, len(agg))
	for symbol, exp := range agg {
		if exp.UsdValue < minExposureUsd {
			continue
		}
		exp.HlListed = listed[symbol]
		out = append(out, *exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsdValue > out[j].UsdValue })
	return out
}
