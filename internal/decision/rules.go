package decision

import (
	"context"
	"sort"
	"time"

	"github.com/MRT0B13/novaos/internal/learning"
)

// ruleBlock is one independent decision generator. Blocks never fail a
// cycle: a block that cannot read its inputs returns nothing.
type ruleBlock struct {
	name    string
	enabled func() bool
	run     func(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision
}

// generate runs every enabled rule block, classifies tiers, and returns the
// most urgent candidates up to the per-cycle cap.
func (e *Engine) generate(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision {
	blocks := []ruleBlock{
		{"stop_loss", e.reg.HasPerps, e.stopLossRule},
		{"hedge", func() bool { return e.cfg.HedgeEnabled && e.reg.HasPerps() }, e.hedgeRule},
		{"stake_idle", func() bool { return e.cfg.StakeEnabled && e.reg.HasStaking() }, e.stakeIdleRule},
		{"emergency_unstake", e.reg.HasStaking, e.emergencyUnstakeRule},
		{"prediction_bets", func() bool { return e.cfg.PolyEnabled && e.reg.HasPredictions() }, e.predictionRule},
		{"collateral_loops", func() bool { return e.cfg.LendEnabled && e.reg.HasLending() }, e.collateralLoopRule},
		{"loop_health", e.reg.HasLending, e.loopHealthRule},
		{"liquidity", func() bool { return e.cfg.LpEnabled }, e.liquidityRule},
		{"flash_arb", func() bool { return e.cfg.ArbEnabled && e.reg.HasBridge() }, e.flashArbRule},
	}

	var candidates []Decision
	for _, block := range blocks {
		if ctx.Err() != nil {
			break
		}
		if !block.enabled() {
			e.log.Debug().Str("rule", block.name).Msg("Rule disabled")
			continue
		}
		produced := block.run(ctx, snap, intel, params)
		for i := range produced {
			produced[i].Tier = e.assignTier(&produced[i], intel)
		}
		candidates = append(candidates, produced...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Urgency.Rank(), candidates[j].Urgency.Rank()
		if ri != rj {
			return ri < rj
		}
		return abs(candidates[i].EstimatedImpactUsd) > abs(candidates[j].EstimatedImpactUsd)
	})

	if max := e.cfg.MaxDecisionsPerCycle; len(candidates) > max {
		for _, dropped := range candidates[max:] {
			e.log.Debug().
				Str("type", string(dropped.Type)).
				Str("urgency", string(dropped.Urgency)).
				Msg("Candidate dropped by per-cycle cap")
		}
		candidates = candidates[:max]
	}
	return candidates
}

// assignTier classifies one candidate. Collateral loops deploy borrowed
// capital, so they always require an operator regardless of size.
func (e *Engine) assignTier(d *Decision, intel *SwarmIntel) Tier {
	switch d.Type {
	case TypeOpenLstLoop, TypeOpenBorrowLoop:
		return TierApproval
	}
	return ClassifyTier(e.cfg, d.Type, d.Urgency, d.EstimatedImpactUsd, intel.MarketCondition)
}

// ready checks the cooldown gate for one keyed decision kind, logging the
// skip at debug when blocked.
func (e *Engine) ready(key string, windowKind Type) bool {
	if e.cooldowns.Ready(key, e.windowFor(windowKind)) {
		return true
	}
	e.log.Debug().Str("cooldown", key).Msg("Rule skipped inside cooldown window")
	return false
}

// windowFor maps a decision kind to its configured live cooldown window.
func (e *Engine) windowFor(t Type) time.Duration {
	switch t {
	case TypeOpenHedge, TypeCloseHedge:
		return e.cfg.HedgeCooldown
	case TypeStakeSol:
		return e.cfg.StakeCooldown
	case TypeCloseLosing, TypeUnstakeSol, TypeRepayLoan, TypeUnwindLoop, TypeCloseAll:
		return e.cfg.CloseCooldown
	case TypePlacePolyBet, TypeClosePolyBet:
		return e.cfg.BetCooldown
	case TypeOpenLstLoop, TypeOpenBorrowLoop:
		return e.cfg.LoopCooldown
	case TypeOpenLp, TypeRebalanceLp, TypeClaimLpFees:
		return e.cfg.LpCooldown
	case TypeFlashArb:
		return e.cfg.ArbCooldown
	}
	return e.cfg.CloseCooldown
}

// cooldownKeyFor derives the tracker key for a decision, scoping by the
// asset, market, venue, or loop target where one applies.
func cooldownKeyFor(d Decision) string {
	switch d.Type {
	case TypeOpenHedge, TypeCloseHedge, TypeCloseLosing:
		return CooldownKey(d.Type, d.Params.Coin)
	case TypePlacePolyBet:
		return CooldownKey(d.Type, d.Params.MarketID)
	case TypeOpenLstLoop, TypeUnwindLoop:
		return CooldownKey(d.Type, d.Params.Lst)
	case TypeRepayLoan:
		return CooldownKey(d.Type, d.Params.Asset)
	case TypeOpenLp, TypeRebalanceLp, TypeClaimLpFees:
		return CooldownKey(d.Type, d.Params.Venue)
	}
	return CooldownKey(d.Type, "")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
