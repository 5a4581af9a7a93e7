package decision

import (
	"context"
	"fmt"
	"strings"

	"github.com/MRT0B13/novaos/internal/learning"
)

const (
	// minBetUsd drops bets not worth the gas and slippage.
	minBetUsd = 5.0

	// trendEdgeBonus is added per trending topic matched in the question.
	trendEdgeBonus = 0.02

	// dangerEdgePenalty is subtracted from every edge while the guardian
	// reports a critical condition.
	dangerEdgePenalty = 0.05
)

// predictionRule sizes Kelly bets over scanned prediction markets. The raw
// model edge is adjusted by swarm intel, then gated by the learned minimum
// edge before sizing.
func (e *Engine) predictionRule(ctx context.Context, snap *TreasurySnapshot, intel *SwarmIntel, params *learning.AdaptiveParams) []Decision {
	var deployed float64
	for _, p := range snap.Predictions {
		deployed += p.ValueUsd
	}
	headroom := e.cfg.PolyMaxPositionUsd - deployed
	if headroom < minBetUsd {
		e.log.Debug().Float64("headroom_usd", headroom).Msg("Prediction book full; skipped")
		return nil
	}

	opportunities, err := e.reg.Predictions.ScanOpportunities(ctx, headroom, intel.ScoutSummary)
	if err != nil {
		e.log.Debug().Err(err).Msg("Prediction scan failed")
		return nil
	}

	minEdge := learning.ApplyAdaptive(e.cfg.PolyMinEdge, params.MinEdgeMultiplier, params.Confidence)

	var out []Decision
	for _, opp := range opportunities {
		edge := e.adjustEdge(opp.Edge, opp.Market.Question, intel)
		if edge < minEdge {
			e.log.Debug().
				Str("market", opp.Market.ID).
				Float64("edge", edge).
				Float64("min_edge", minEdge).
				Msg("Edge under learned minimum; skipped")
			continue
		}
		if !e.ready(CooldownKey(TypePlacePolyBet, opp.Market.ID), TypePlacePolyBet) {
			continue
		}

		size := kellySize(edge, opp.ImpliedProb, headroom)
		size = learning.ApplyAdaptive(size, params.KellyMultiplier, params.Confidence)
		if opp.MaxSizeUsd > 0 && size > opp.MaxSizeUsd {
			size = opp.MaxSizeUsd
		}
		if size > headroom {
			size = headroom
		}
		if size < minBetUsd {
			continue
		}

		out = append(out, Decision{
			Type: TypePlacePolyBet,
			Reasoning: fmt.Sprintf("%.0f%% edge on %q at implied %.2f",
				edge*100, opp.Market.Question, opp.ImpliedProb),
			Urgency: UrgencyMedium,
			Params: Params{
				MarketID: opp.Market.ID,
				Token:    opp.Token,
				Question: opp.Market.Question,
				SizeUsd:  size,
			},
			EstimatedImpactUsd: size,
			IntelUsed:          intel.sources(),
		})
		headroom -= size
		if headroom < minBetUsd {
			break
		}
	}
	return out
}

// adjustEdge biases the model edge with swarm intel: trending topics in the
// question add conviction, a guardian-critical market subtracts it.
func (e *Engine) adjustEdge(edge float64, question string, intel *SwarmIntel) float64 {
	q := strings.ToLower(question)
	for _, topic := range intel.Trending {
		if topic != "" && strings.Contains(q, strings.ToLower(topic)) {
			edge += trendEdgeBonus
		}
	}
	if intel.GuardianCritical {
		edge -= dangerEdgePenalty
	}
	return edge
}

// kellySize returns the bet size for a binary market: the Kelly fraction of
// the bankroll, with the fraction capped so a mispriced model probability
// cannot bet the whole headroom.
func kellySize(edge, impliedProb, bankrollUsd float64) float64 {
	if impliedProb <= 0 || impliedProb >= 1 {
		return 0
	}
	// f = edge / (odds paid on a win).
	fraction := edge / (1 - impliedProb)
	if fraction > 0.25 {
		fraction = 0.25
	}
	if fraction <= 0 {
		return 0
	}
	return fraction * bankrollUsd
}
