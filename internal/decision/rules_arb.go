package decision

import (
	"context"
	"fmt"

	"github.com/MRT0B13/novaos/internal/learning"
)

// flashArbRule proposes the bridge scanner's best current opportunity when
// its net profit clears the configured floor. Flash arbs are atomic and
// capital-neutral, so sizing and Kelly scaling do not apply.
func (e *Engine) flashArbRule(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, _ *learning.AdaptiveParams) []Decision {
	if !e.ready(CooldownKey(TypeFlashArb, ""), TypeFlashArb) {
		return nil
	}

	opp, err := e.reg.Bridge.ScanForOpportunity(ctx)
	if err != nil {
		e.log.Debug().Err(err).Msg("Arb scan failed")
		return nil
	}
	if opp == nil {
		return nil
	}
	if opp.NetProfitUsd < e.cfg.ArbMinProfitUsd {
		e.log.Debug().
			Float64("net_profit_usd", opp.NetProfitUsd).
			Str("route", opp.Route).
			Msg("Arb below profit floor")
		return nil
	}
	if opp.RequiredUsd > snap.IdleUsd {
		e.log.Debug().
			Float64("required_usd", opp.RequiredUsd).
			Float64("idle_usd", snap.IdleUsd).
			Msg("Arb requires more capital than is idle")
		return nil
	}

	return []Decision{{
		Type:               TypeFlashArb,
		Reasoning:          fmt.Sprintf("Arb route %s nets $%.2f on $%.0f", opp.Route, opp.NetProfitUsd, opp.RequiredUsd),
		Urgency:            UrgencyHigh,
		Params:             Params{Arb: opp},
		EstimatedImpactUsd: opp.NetProfitUsd,
		IntelUsed:          intel.sources(),
	}}
}
