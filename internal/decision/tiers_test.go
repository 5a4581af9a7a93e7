package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MRT0B13/novaos/internal/config"
)

func tierConfig() *config.Config {
	return &config.Config{
		AutoTierUsd:            50,
		NotifyTierUsd:          200,
		CriticalBypassApproval: true,
	}
}

func TestClassifyTier_ImpactLadder(t *testing.T) {
	cfg := tierConfig()

	assert.Equal(t, TierAuto, ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, 49.99, ConditionNeutral))
	assert.Equal(t, TierNotify, ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, 50, ConditionNeutral))
	assert.Equal(t, TierNotify, ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, 199.99, ConditionNeutral))
	assert.Equal(t, TierApproval, ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, 200, ConditionNeutral))
	assert.Equal(t, TierApproval, ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, 5000, ConditionNeutral))
}

func TestClassifyTier_MonotoneInImpact(t *testing.T) {
	cfg := tierConfig()
	rank := map[Tier]int{TierAuto: 0, TierNotify: 1, TierApproval: 2}

	for _, cond := range []MarketCondition{ConditionBullish, ConditionNeutral, ConditionBearish, ConditionDanger} {
		prev := -1
		for _, impact := range []float64{0, 10, 49, 51, 150, 250, 1000} {
			tier := ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, impact, cond)
			assert.GreaterOrEqual(t, rank[tier], prev,
				"tier must never relax as impact grows (impact %.0f, condition %s)", impact, cond)
			prev = rank[tier]
		}
	}
}

func TestClassifyTier_NegativeImpactUsesMagnitude(t *testing.T) {
	cfg := tierConfig()
	assert.Equal(t, TierApproval, ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, -300, ConditionNeutral))
}

func TestClassifyTier_CriticalBypass(t *testing.T) {
	cfg := tierConfig()

	// Any amount, any condition.
	assert.Equal(t, TierAuto, ClassifyTier(cfg, TypeCloseLosing, UrgencyCritical, 10000, ConditionDanger))
	assert.Equal(t, TierAuto, ClassifyTier(cfg, TypeCloseAll, UrgencyCritical, 999999, ConditionBearish))

	cfg.CriticalBypassApproval = false
	assert.Equal(t, TierApproval, ClassifyTier(cfg, TypeCloseLosing, UrgencyCritical, 10000, ConditionDanger))
}

func TestClassifyTier_DangerBumpsOneTier(t *testing.T) {
	cfg := tierConfig()

	assert.Equal(t, TierNotify, ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, 10, ConditionDanger))
	assert.Equal(t, TierApproval, ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, 100, ConditionDanger))
	assert.Equal(t, TierApproval, ClassifyTier(cfg, TypeOpenHedge, UrgencyMedium, 300, ConditionDanger))
}

func TestClassifyTier_CloseLosingEscalatesAtNotifyThreshold(t *testing.T) {
	cfg := tierConfig()

	// Below the notify threshold the normal ladder applies.
	assert.Equal(t, TierAuto, ClassifyTier(cfg, TypeCloseLosing, UrgencyHigh, -40, ConditionNeutral))
	assert.Equal(t, TierNotify, ClassifyTier(cfg, TypeCloseLosing, UrgencyHigh, -100, ConditionNeutral))

	// At the notify threshold a losing close already needs an operator.
	assert.Equal(t, TierApproval, ClassifyTier(cfg, TypeCloseLosing, UrgencyHigh, -200, ConditionNeutral))
}

func TestAlwaysNotify(t *testing.T) {
	assert.True(t, AlwaysNotify(TypeCloseLosing))
	assert.True(t, AlwaysNotify(TypeUnwindLoop))
	assert.True(t, AlwaysNotify(TypeCloseAll))
	assert.False(t, AlwaysNotify(TypeOpenHedge))
	assert.False(t, AlwaysNotify(TypeStakeSol))
}
