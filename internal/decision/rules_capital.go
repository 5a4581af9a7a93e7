package decision

import (
	"context"
	"fmt"

	"github.com/MRT0B13/novaos/internal/learning"
)

// stakeIdleFraction of the idle balance above the reserve goes to stake;
// the rest stays liquid for fees and fast exits.
const stakeIdleFraction = 0.8

// stakeIdleRule puts idle SOL above the reserve to work in the staking
// collaborator, bounded by the configured position cap.
func (e *Engine) stakeIdleRule(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision {
	idle := snap.IdleSol
	if idle <= e.cfg.StakeReserve {
		return nil
	}
	if !e.ready(CooldownKey(TypeStakeSol, ""), TypeStakeSol) {
		return nil
	}

	amount := stakeIdleFraction * (idle - e.cfg.StakeReserve)
	var staked float64
	if snap.Stake != nil {
		staked = snap.Stake.StakedSol
	}
	if staked+amount > e.cfg.StakeMaxAmount {
		amount = e.cfg.StakeMaxAmount - staked
	}
	if amount < e.cfg.StakeMinAmount {
		e.log.Debug().Float64("amount_sol", amount).Msg("Stake below minimum; skipped")
		return nil
	}

	return []Decision{{
		Type: TypeStakeSol,
		Reasoning: fmt.Sprintf("%.2f SOL idle above the %.2f reserve; staking %.2f",
			idle, e.cfg.StakeReserve, amount),
		Urgency:            UrgencyLow,
		Params:             Params{AmountSol: amount},
		EstimatedImpactUsd: amount * snap.SolPriceUsd,
		IntelUsed:          intel.sources(),
	}}
}

// emergencyUnstakeRule refills the liquid balance when it falls under half
// the reserve, pulling from the staked pool at the instant-unstake fee. This
// runs even with staking disabled: capital already staked must stay
// reachable.
func (e *Engine) emergencyUnstakeRule(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision {
	if snap.IdleSol >= e.cfg.StakeReserve/2 {
		return nil
	}
	if snap.Stake == nil || snap.Stake.StakedSol <= 0 {
		return nil
	}
	if !e.ready(CooldownKey(TypeUnstakeSol, ""), TypeUnstakeSol) {
		return nil
	}

	amount := e.cfg.StakeReserve - snap.IdleSol
	if amount > snap.Stake.StakedSol {
		amount = snap.Stake.StakedSol
	}

	return []Decision{{
		Type: TypeUnstakeSol,
		Reasoning: fmt.Sprintf("Liquid SOL %.2f under half the %.2f reserve; instant-unstaking %.2f",
			snap.IdleSol, e.cfg.StakeReserve, amount),
		Urgency:            UrgencyHigh,
		Params:             Params{AmountSol: amount},
		EstimatedImpactUsd: amount * snap.SolPriceUsd,
		IntelUsed:          intel.sources(),
	}}
}
