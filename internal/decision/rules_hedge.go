package decision

import (
	"context"
	"fmt"

	"github.com/MRT0B13/novaos/internal/learning"
)

const (
	// defaultHedgeLeverage is applied when opening treasury shorts.
	defaultHedgeLeverage = 2.0

	// minHedgeOrderUsd drops dust hedges not worth the fees.
	minHedgeOrderUsd = 10.0
)

// stopLossRule closes losing perps. Two triggers: realized loss as a share
// of margin beyond the intel-adjusted stop, and mark price drifting inside
// the liquidation warning band. The second is the true emergency and goes
// out critical so it bypasses approval.
func (e *Engine) stopLossRule(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision {
	if snap.Perp == nil {
		return nil
	}

	// A bearish swarm tightens the stop: threshold divides by the risk
	// multiplier, then learning nudges it from realized hedge performance.
	stopPct := e.cfg.HlStopLossPct / intel.RiskMultiplier
	stopPct = learning.ApplyAdaptive(stopPct, params.StopLossMultiplier, params.Confidence)

	var out []Decision
	for _, p := range snap.Perp.Positions {
		liqDist := p.LiquidationDistancePct()
		inLiqBand := liqDist < e.cfg.HlLiquidationWarningPct

		var lossPct float64
		if p.UnrealizedPnlUsd < 0 && p.MarginUsd > 0 {
			lossPct = -p.UnrealizedPnlUsd / p.MarginUsd * 100
		}
		if !inLiqBand && lossPct <= stopPct {
			continue
		}
		if !e.ready(CooldownKey(TypeCloseLosing, p.Coin), TypeCloseLosing) {
			continue
		}

		d := Decision{
			Type:    TypeCloseLosing,
			Urgency: UrgencyHigh,
			Params: Params{
				Coin:        p.Coin,
				NotionalUsd: p.SizeUsd,
				IsBuy:       p.IsShort, // closing a short buys it back
			},
			EstimatedImpactUsd: p.UnrealizedPnlUsd,
			IntelUsed:          intel.sources(),
		}
		if inLiqBand {
			d.Urgency = UrgencyCritical
			d.Reasoning = fmt.Sprintf("%s is %.1f%% from liquidation (warning band %.0f%%)",
				p.Coin, liqDist, e.cfg.HlLiquidationWarningPct)
		} else {
			d.Reasoning = fmt.Sprintf("%s down %.1f%% of margin, stop at %.1f%% (risk multiplier %.2f)",
				p.Coin, lossPct, stopPct, intel.RiskMultiplier)
		}
		out = append(out, d)
	}
	return out
}

// hedgeRule keeps each treasury exposure near its intel-adjusted target
// short ratio. Drift above the rebalance threshold in either direction
// produces an open (sized to free margin) or a reduce-only close.
func (e *Engine) hedgeRule(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision {
	target := e.cfg.HedgeTargetRatio * intel.RiskMultiplier
	if target > 1.0 {
		target = 1.0
	}

	var out []Decision
	for _, exp := range snap.Exposures {
		if !exp.HlListed || exp.UsdValue <= 0 {
			continue
		}

		shortUsd := snap.ShortUsdFor(exp.Symbol)
		currentRatio := shortUsd / exp.UsdValue
		drift := target - currentRatio

		switch {
		case drift > e.cfg.HedgeRebalanceThreshold:
			if !e.ready(CooldownKey(TypeOpenHedge, exp.Symbol), TypeOpenHedge) {
				continue
			}
			notional := drift * exp.UsdValue
			if snap.Perp != nil {
				if maxNotional := snap.Perp.FreeMarginUsd * defaultHedgeLeverage; notional > maxNotional {
					e.log.Debug().
						Str("coin", exp.Symbol).
						Float64("wanted_usd", notional).
						Float64("scaled_usd", maxNotional).
						Msg("Hedge scaled down to free margin")
					notional = maxNotional
				}
			}
			if notional < minHedgeOrderUsd {
				e.log.Debug().Str("coin", exp.Symbol).Float64("notional_usd", notional).Msg("Hedge below minimum order; skipped")
				continue
			}

			urgency := UrgencyMedium
			if drift > 2*e.cfg.HedgeRebalanceThreshold {
				urgency = UrgencyHigh
			}
			out = append(out, Decision{
				Type: TypeOpenHedge,
				Reasoning: fmt.Sprintf("%s hedge ratio %.2f below target %.2f (base %.2f x risk %.2f)",
					exp.Symbol, currentRatio, target, e.cfg.HedgeTargetRatio, intel.RiskMultiplier),
				Urgency: urgency,
				Params: Params{
					Coin:        exp.Symbol,
					NotionalUsd: notional,
					Leverage:    defaultHedgeLeverage,
				},
				EstimatedImpactUsd: notional,
				IntelUsed:          intel.sources(),
			})

		case drift < -e.cfg.HedgeRebalanceThreshold:
			if !e.ready(CooldownKey(TypeCloseHedge, exp.Symbol), TypeCloseHedge) {
				continue
			}
			notional := -drift * exp.UsdValue
			if notional > shortUsd {
				notional = shortUsd
			}
			if notional < minHedgeOrderUsd {
				continue
			}
			out = append(out, Decision{
				Type: TypeCloseHedge,
				Reasoning: fmt.Sprintf("%s hedge ratio %.2f above target %.2f; reducing short",
					exp.Symbol, currentRatio, target),
				Urgency: UrgencyMedium,
				Params: Params{
					Coin:        exp.Symbol,
					NotionalUsd: notional,
					IsBuy:       true, // reduce-only buy-back
				},
				EstimatedImpactUsd: notional,
				IntelUsed:          intel.sources(),
			})
		}
	}
	return out
}
