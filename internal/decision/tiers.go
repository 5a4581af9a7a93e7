package decision

import (
	"math"

	"github.com/MRT0B13/novaos/internal/config"
)

// ClassifyTier gates a decision by urgency, dollar impact, and market
// condition. Critical urgency bypasses approval entirely when configured; a
// danger condition bumps every non-critical decision one tier toward
// approval. Losing-position closes follow the impact ladder but go to
// approval at the notify threshold already, and the reporting path always
// notifies the operator about them regardless of tier.
func ClassifyTier(cfg *config.Config, decisionType Type, urgency Urgency, impactUsd float64, condition MarketCondition) Tier {
	if urgency == UrgencyCritical && cfg.CriticalBypassApproval {
		return TierAuto
	}

	impact := math.Abs(impactUsd)

	var tier Tier
	switch {
	case decisionType == TypeCloseLosing && impact >= cfg.NotifyTierUsd:
		tier = TierApproval
	case impact < cfg.AutoTierUsd:
		tier = TierAuto
	case impact < cfg.NotifyTierUsd:
		tier = TierNotify
	default:
		tier = TierApproval
	}

	if condition == ConditionDanger {
		tier = bumpTier(tier)
	}
	return tier
}

// AlwaysNotify reports whether results of this decision type are pushed to
// the operator even when the tier was AUTO.
func AlwaysNotify(decisionType Type) bool {
	switch decisionType {
	case TypeCloseLosing, TypeUnwindLoop, TypeCloseAll:
		return true
	default:
		return false
	}
}

// bumpTier moves one step toward approval.
func bumpTier(t Tier) Tier {
	switch t {
	case TierAuto:
		return TierNotify
	case TierNotify:
		return TierApproval
	default:
		return TierApproval
	}
}
