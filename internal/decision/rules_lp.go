package decision

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/learning"
)

const (
	// lpIntelStaleAfter is the analyst-freshness gate on pool discovery.
	// Past it, the selector falls back to the safe pair instead of trusting
	// stale scoring inputs.
	lpIntelStaleAfter = 6 * time.Hour

	// diversityPenaltyWeight scales the rotation penalty against the pool
	// score.
	diversityPenaltyWeight = 5.0

	minLpOpenUsd     = 25.0
	minClaimUsd      = 5.0
	baseLpRangePct   = 10.0
	lpDiscoverMinTvl = 100_000.0
	lpDiscoverMax    = 12
)

// liquidityRule manages concentrated-liquidity positions on both venues:
// claim accrued fees, recenter out-of-range positions, and open a new
// position in the best discovered pool when capital allows.
func (e *Engine) liquidityRule(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision {
	rangePct := learning.ApplyAdaptive(baseLpRangePct, params.LpRangeMultiplier, params.Confidence)

	var out []Decision
	var totalLpUsd float64
	for _, p := range snap.LpPositions {
		totalLpUsd += p.ValueUsd

		if p.FeesOwedUsd >= minClaimUsd && e.ready(CooldownKey(TypeClaimLpFees, p.Venue), TypeClaimLpFees) {
			out = append(out, Decision{
				Type:               TypeClaimLpFees,
				Reasoning:          fmt.Sprintf("%s %s has $%.2f unclaimed fees", p.Venue, p.Pair, p.FeesOwedUsd),
				Urgency:            UrgencyLow,
				Params:             Params{Venue: p.Venue, PositionID: p.ID, Pair: p.Pair},
				EstimatedImpactUsd: p.FeesOwedUsd,
				IntelUsed:          intel.sources(),
			})
		}

		if !p.InRange && e.ready(CooldownKey(TypeRebalanceLp, p.Venue), TypeRebalanceLp) {
			out = append(out, Decision{
				Type:               TypeRebalanceLp,
				Reasoning:          fmt.Sprintf("%s %s out of range (price %.4f outside [%.4f, %.4f])", p.Venue, p.Pair, p.CurrentPrice, p.LowerPrice, p.UpperPrice),
				Urgency:            UrgencyMedium,
				Params:             Params{Venue: p.Venue, PositionID: p.ID, Pair: p.Pair, RangePct: rangePct},
				EstimatedImpactUsd: p.ValueUsd,
				IntelUsed:          intel.sources(),
			})
		}
	}

	if d := e.lpOpenDecision(ctx, snap, intel, totalLpUsd, rangePct); d != nil {
		out = append(out, *d)
	}
	return out
}

// lpOpenDecision discovers and scores candidate pools across the wired
// venues, applies the diversity rotation, and proposes one open.
func (e *Engine) lpOpenDecision(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, totalLpUsd, rangePct float64) *Decision {
	headroom := e.cfg.LpMaxPositionUsd - totalLpUsd
	amount := math.Min(headroom, snap.IdleUsd*0.5)
	if amount < minLpOpenUsd {
		e.log.Debug().Float64("amount_usd", amount).Msg("No LP headroom; open skipped")
		return nil
	}

	// Stale analyst intel means the scoring inputs (TVL, volume) cannot be
	// trusted; park new capital in the safe pair instead.
	stale := intel.AnalystAt.IsZero() || e.now().Sub(intel.AnalystAt) > lpIntelStaleAfter

	best := e.selectPool(ctx, stale)
	if best == nil {
		return nil
	}
	if !e.ready(CooldownKey(TypeOpenLp, best.Venue), TypeOpenLp) {
		return nil
	}

	reason := fmt.Sprintf("Best discovered pool %s %s (%.1f%% APR, $%.0f TVL)",
		best.Venue, best.Pair, best.AprPct, best.TvlUsd)
	if stale {
		reason = fmt.Sprintf("Analyst intel stale; parking in safe pair %s on %s", best.Pair, best.Venue)
	}
	return &Decision{
		Type:      TypeOpenLp,
		Reasoning: reason,
		Urgency:   UrgencyLow,
		Params: Params{
			Venue:       best.Venue,
			Pool:        best.Address,
			Pair:        best.Pair,
			RangePct:    rangePct,
			TickSpacing: best.TickSpacing,
			SizeUsd:     amount,
		},
		EstimatedImpactUsd: amount,
		IntelUsed:          intel.sources(),
	}
}

// selectPool discovers candidates on every wired venue and returns the top
// scorer, or the safe pair when intel is stale.
func (e *Engine) selectPool(ctx context.Context, stale bool) *collab.PoolCandidate {
	var candidates []collab.PoolCandidate
	for name, venue := range e.reg.LpVenues {
		if venue == nil {
			continue
		}
		found, err := venue.DiscoverPools(ctx, collab.DiscoverRequest{
			MinTvlUsd: lpDiscoverMinTvl,
			MaxPools:  lpDiscoverMax,
		})
		if err != nil {
			e.log.Debug().Err(err).Str("venue", name).Msg("Pool discovery failed")
			continue
		}
		candidates = append(candidates, found...)
	}
	if len(candidates) == 0 {
		return nil
	}

	if stale {
		for i := range candidates {
			if candidates[i].Pair == collab.VenueSafePair {
				return preferTickSpacing(candidates, &candidates[i])
			}
		}
		// No safe pair listed anywhere; better to sit out the cycle.
		e.log.Debug().Msg("Stale intel and no safe pair candidate; LP open skipped")
		return nil
	}

	var best *collab.PoolCandidate
	var bestScore float64
	for i := range candidates {
		score := e.scorePool(&candidates[i])
		if best == nil || score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	return preferTickSpacing(candidates, best)
}

// scorePool combines yield, turnover, and depth, then subtracts the
// diversity-rotation penalty for pools picked within the window.
func (e *Engine) scorePool(c *collab.PoolCandidate) float64 {
	var turnover float64
	if c.TvlUsd > 0 {
		turnover = c.VolumeUsd24h / c.TvlUsd
	}
	depth := math.Min(c.TvlUsd/1_000_000, 1)

	score := c.AprPct*0.5 + turnover*10*0.3 + depth*10*0.2
	score -= e.diversity.Penalty(c.Address) * diversityPenaltyWeight
	return score
}

// preferTickSpacing resolves among candidates sharing the chosen pool's
// venue and pair: stablecoin pairs take the tightest spacing, volatile
// pairs the highest fee rate.
func preferTickSpacing(candidates []collab.PoolCandidate, chosen *collab.PoolCandidate) *collab.PoolCandidate {
	if chosen == nil {
		return nil
	}
	best := chosen
	for i := range candidates {
		c := &candidates[i]
		if c.Venue != chosen.Venue || c.Pair != chosen.Pair || c.Address == best.Address {
			continue
		}
		if chosen.Stable {
			if c.TickSpacing > 0 && (best.TickSpacing == 0 || c.TickSpacing < best.TickSpacing) {
				best = c
			}
		} else if c.FeeRatePct > best.FeeRatePct {
			best = c
		}
	}
	return best
}
