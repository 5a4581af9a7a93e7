package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/learning"
)

// Health-factor floors per loop kind. Levered LST loops run SOL-correlated
// collateral against a SOL borrow, so they tolerate a lower floor than a
// plain borrow-deploy spread.
const (
	lstLoopHealthFloor    = 1.10
	borrowLoopHealthFloor = 1.30
	criticalHealthFloor   = 1.05

	// minLoopDeployUsd drops loops whose carry cannot cover transaction
	// costs.
	minLoopDeployUsd = 50.0
)

// collateralLoopRule proposes levered yield positions from live APY spreads:
// the best LST loop by spread, and a plain borrow-deploy when a deposit rate
// clears the borrow rate. Both deploy borrowed capital, so both land in the
// approval tier unconditionally.
func (e *Engine) collateralLoopRule(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision {
	if snap.Lending == nil {
		return nil
	}
	if intel.MarketCondition == ConditionDanger {
		e.log.Debug().Msg("Loops skipped in danger condition")
		return nil
	}

	apys, err := e.reg.Lending.GetApys(ctx)
	if err != nil {
		e.log.Debug().Err(err).Msg("APY read failed")
		return nil
	}

	var out []Decision
	if d := e.bestLstLoop(ctx, snap, intel, apys); d != nil {
		out = append(out, *d)
	}
	if d := e.borrowDeployLoop(snap, intel, apys); d != nil {
		out = append(out, *d)
	}
	return out
}

// bestLstLoop picks the LST with the widest deposit-over-borrow spread
// against SOL and proposes a loop up to the configured LTV.
func (e *Engine) bestLstLoop(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, apys map[string]collab.AssetApy) *Decision {
	lsts, err := e.reg.Lending.GetLstAssets(ctx)
	if err != nil {
		e.log.Debug().Err(err).Msg("LST asset read failed")
		return nil
	}
	solBorrow, ok := apys["SOL"]
	if !ok {
		return nil
	}

	var bestLst string
	var bestSpread float64
	for _, lst := range lsts {
		apy, ok := apys[strings.ToUpper(lst)]
		if !ok {
			continue
		}
		spread := apy.DepositApyPct - solBorrow.BorrowApyPct
		if spread > bestSpread {
			bestSpread = spread
			bestLst = lst
		}
	}
	if bestLst == "" || bestSpread < e.cfg.LoopMinSpreadPct {
		e.log.Debug().Float64("best_spread_pct", bestSpread).Msg("LST spread under minimum; skipped")
		return nil
	}
	if !e.ready(CooldownKey(TypeOpenLstLoop, bestLst), TypeOpenLstLoop) {
		return nil
	}

	deployUsd := snap.IdleSol * snap.SolPriceUsd * 0.5
	if deployUsd < minLoopDeployUsd {
		return nil
	}
	return &Decision{
		Type: TypeOpenLstLoop,
		Reasoning: fmt.Sprintf("%s loop spread %.2f%% over SOL borrow (min %.2f%%)",
			bestLst, bestSpread, e.cfg.LoopMinSpreadPct),
		Urgency: UrgencyMedium,
		Params: Params{
			Lst:       bestLst,
			Amount:    snap.IdleSol * 0.5,
			TargetLtv: e.cfg.LoopMaxLtv,
		},
		EstimatedImpactUsd: deployUsd,
		IntelUsed:          intel.sources(),
	}
}

// borrowDeployLoop proposes borrowing a stable against existing collateral
// and re-depositing it when the deposit rate clears the borrow rate by the
// minimum spread.
func (e *Engine) borrowDeployLoop(snap *TreasurySnapshot, intel *SwarmIntel, apys map[string]collab.AssetApy) *Decision {
	pos := snap.Lending

	var bestAsset string
	var bestSpread float64
	for asset, apy := range apys {
		if !isStable(asset) {
			continue
		}
		spread := apy.DepositApyPct - apy.BorrowApyPct
		if spread > bestSpread {
			bestSpread = spread
			bestAsset = asset
		}
	}
	if bestAsset == "" || bestSpread < e.cfg.LoopMinSpreadPct {
		return nil
	}

	headroomUsd := pos.TotalDepositsUsd()*e.cfg.LoopMaxLtv - pos.TotalBorrowsUsd()
	if headroomUsd < minLoopDeployUsd {
		e.log.Debug().Float64("headroom_usd", headroomUsd).Msg("No LTV headroom for borrow loop")
		return nil
	}
	if !e.ready(CooldownKey(TypeOpenBorrowLoop, ""), TypeOpenBorrowLoop) {
		return nil
	}

	// Borrow half the headroom so one loop never pins LTV at the cap.
	amount := headroomUsd / 2
	return &Decision{
		Type: TypeOpenBorrowLoop,
		Reasoning: fmt.Sprintf("%s deposit over borrow spread %.2f%%; deploying %.0f against LTV headroom",
			bestAsset, bestSpread, amount),
		Urgency: UrgencyLow,
		Params: Params{
			BorrowAsset: bestAsset,
			Asset:       bestAsset,
			Amount:      amount,
		},
		EstimatedImpactUsd: amount,
		IntelUsed:          intel.sources(),
	}
}

// loopHealthRule unwinds or deleverages loops whose health factor fell under
// the per-kind floor. Runs regardless of the lending feature flag: positions
// already open must stay guarded.
func (e *Engine) loopHealthRule(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision {
	if snap.Lending == nil {
		return nil
	}

	var out []Decision
	for _, loop := range snap.Lending.ActiveLoops {
		floor := borrowLoopHealthFloor
		if loop.Kind == "lst_loop" {
			floor = lstLoopHealthFloor
		}
		overLtv := e.cfg.LoopMaxLtv > 0 && loop.Ltv > e.cfg.LoopMaxLtv
		if loop.HealthFactor >= floor && !overLtv {
			continue
		}

		urgency := UrgencyHigh
		if loop.HealthFactor < criticalHealthFloor {
			urgency = UrgencyCritical
		}

		if loop.Kind == "lst_loop" {
			if !e.ready(CooldownKey(TypeUnwindLoop, loop.Asset), TypeUnwindLoop) {
				continue
			}
			out = append(out, Decision{
				Type: TypeUnwindLoop,
				Reasoning: fmt.Sprintf("%s loop health %.2f under floor %.2f; unwinding",
					loop.Asset, loop.HealthFactor, floor),
				Urgency:            urgency,
				Params:             Params{Lst: loop.Asset},
				EstimatedImpactUsd: loop.ValueUsd,
				IntelUsed:          intel.sources(),
			})
			continue
		}

		if !e.ready(CooldownKey(TypeRepayLoan, loop.Asset), TypeRepayLoan) {
			continue
		}
		// Repay a quarter of the loop to step health back over the floor.
		out = append(out, Decision{
			Type: TypeRepayLoan,
			Reasoning: fmt.Sprintf("%s borrow loop health %.2f under floor %.2f; repaying",
				loop.Asset, loop.HealthFactor, floor),
			Urgency:            urgency,
			Params:             Params{Asset: loop.Asset, Amount: loop.ValueUsd / 4},
			EstimatedImpactUsd: loop.ValueUsd / 4,
			IntelUsed:          intel.sources(),
		})
	}
	return out
}
