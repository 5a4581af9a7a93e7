package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
)

const (
	// intelWindow bounds how far back the consult phase reads.
	intelWindow     = 4 * time.Hour
	intelBatchLimit = 200

	// Freshness gates on the risk-multiplier adjustments.
	scoutBullishFresh = 4 * time.Hour
	volumeSpikeFresh  = 2 * time.Hour

	maxNarratives  = 5
	maxPriceAlerts = 5
)

// Sentiment lexicons for narrative text without an explicit signal. Matching
// is substring-based, so "bullish" also hits "bull".
var (
	bullishWords = []string{"bull", "pump", "rally", "moon", "surge", "breakout", "accumulat", "ath", "euphori", "strength"}
	bearishWords = []string{"bear", "dump", "crash", "selloff", "sell-off", "capitulat", "liquidat", "fear", "collapse", "weakness"}
)

// InferSentiment classifies free text as bullish (true), bearish (false), or
// unreadable (nil) by counting lexicon hits. Ties stay nil rather than
// guessing a direction.
func InferSentiment(text string) *bool {
	lower := strings.ToLower(text)

	var bull, bear int
	for _, w := range bullishWords {
		bull += strings.Count(lower, w)
	}
	for _, w := range bearishWords {
		bear += strings.Count(lower, w)
	}

	if bull == bear {
		return nil
	}
	v := bull > bear
	return &v
}

// consultSwarm reads recent CFO-addressed bus traffic and folds it into one
// classified intel view. Rows are newest first, so the first message of each
// category wins and older duplicates only accumulate into the list fields.
// A bus read failure degrades to neutral intel rather than blocking the
// cycle.
func (e *Engine) consultSwarm(ctx context.Context, now time.Time) *SwarmIntel {
	intel := &SwarmIntel{
		GatheredAt:      now,
		TokenPrices:     make(map[string]float64),
		RiskMultiplier:  1.0,
		MarketCondition: ConditionNeutral,
	}

	msgs, err := e.messages.ListRecentFor(ctx, agent.CFOName, now.Add(-intelWindow), intelBatchLimit)
	if err != nil {
		e.log.Warn().Err(err).Msg("Swarm consult failed; proceeding on neutral intel")
		return intel
	}

	for i := range msgs {
		e.classifyIntel(intel, &msgs[i])
	}

	e.scoreRiskPosture(intel, now)
	return intel
}

// intelSender resolves who originated a message. The supervisor relays
// worker traffic to the CFO under its own name with the source stashed in
// the payload, so the relay tag wins over the envelope sender.
func intelSender(m *bus.Message) string {
	if from := bus.PayloadString(m.Payload, "relayedFrom"); from != "" {
		return from
	}
	return m.From
}

// classifyIntel folds one bus message into the intel view.
func (e *Engine) classifyIntel(intel *SwarmIntel, m *bus.Message) {
	switch data := bus.Decode(m).(type) {
	case *bus.NarrativeShift:
		if intelSender(m) != agent.ScoutName {
			return
		}
		if intel.ScoutAt.IsZero() {
			intel.ScoutAt = m.CreatedAt
			intel.ScoutSummary = data.Summary
			if data.CryptoBullish != nil {
				intel.ScoutBullish = data.CryptoBullish
			} else {
				intel.ScoutBullish = InferSentiment(data.Summary)
			}
		}
		if len(intel.Narratives) < maxNarratives && data.Summary != "" {
			intel.Narratives = append(intel.Narratives, data.Summary)
		}

	case *bus.SafetyAlert:
		if intelSender(m) != agent.GuardianName {
			return
		}
		if intel.GuardianAt.IsZero() {
			intel.GuardianAt = m.CreatedAt
		}
		if m.Priority == bus.PriorityCritical {
			intel.GuardianCritical = true
		}
		if data.Details != "" {
			intel.GuardianAlerts = append(intel.GuardianAlerts, data.Details)
		}
		if data.Token != "" {
			intel.WatchlistTokens = appendUnique(intel.WatchlistTokens, data.Token)
		}

	case *bus.DefiSnapshot:
		if intel.AnalystAt.IsZero() {
			intel.AnalystAt = m.CreatedAt
			intel.AnalystTvlUsd = data.TotalTvlUsd
		}

	case *bus.VolumeSpike:
		if intel.VolumeSpikeAt.IsZero() {
			intel.AnalystVolumeSpike = true
			intel.VolumeSpikeAt = m.CreatedAt
		}

	case *bus.PriceAlert:
		if len(intel.PriceAlerts) < maxPriceAlerts {
			intel.PriceAlerts = append(intel.PriceAlerts,
				fmt.Sprintf("%s $%.2f (%+.1f%%)", data.Symbol, data.PriceUsd, data.ChangePct))
		}

	case *bus.TokenPrices:
		if len(intel.TokenPrices) == 0 {
			for sym, price := range data.Prices {
				intel.TokenPrices[sym] = price
			}
			for _, mv := range data.Movers {
				intel.Movers = append(intel.Movers, fmt.Sprintf("%s %+.1f%%", mv.Symbol, mv.ChangePct))
			}
			intel.Trending = append(intel.Trending, data.Trending...)
		}

	case *bus.AdminCommand:
		// The supervisor relays guardian-critical findings as market_crash.
		if data.Command == "market_crash" {
			intel.GuardianCritical = true
		}
	}
}

// scoreRiskPosture derives the risk multiplier and market condition from the
// classified intel. The multiplier scales position sizing down as conditions
// worsen and is clamped so one noisy signal can never zero the book.
func (e *Engine) scoreRiskPosture(intel *SwarmIntel, now time.Time) {
	mult := 1.0

	if intel.ScoutBullish != nil {
		if *intel.ScoutBullish {
			if now.Sub(intel.ScoutAt) < scoutBullishFresh {
				mult -= 0.2
			}
		} else {
			mult += 0.3
		}
	}

	if intel.GuardianCritical {
		mult += 0.5
	} else if len(intel.GuardianAlerts) > 0 {
		mult += 0.2
	}

	if intel.AnalystVolumeSpike && now.Sub(intel.VolumeSpikeAt) < volumeSpikeFresh {
		mult += 0.15
	}

	if mult < 0.5 {
		mult = 0.5
	}
	if mult > 2.0 {
		mult = 2.0
	}
	intel.RiskMultiplier = mult

	switch {
	case intel.GuardianCritical:
		intel.MarketCondition = ConditionDanger
	case mult >= 1.3:
		intel.MarketCondition = ConditionBearish
	case mult <= 0.7:
		intel.MarketCondition = ConditionBullish
	default:
		intel.MarketCondition = ConditionNeutral
	}

	e.log.Debug().
		Float64("risk_multiplier", intel.RiskMultiplier).
		Str("condition", string(intel.MarketCondition)).
		Bool("guardian_critical", intel.GuardianCritical).
		Msg("Swarm consult complete")
}

// appendUnique appends s unless already present.
func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
