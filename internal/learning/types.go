// Package learning runs the retrospective over closed positions and turns
// realized performance into adaptive multipliers the decision engine blends
// into its rules. Multipliers move slowly (EMA against the persisted prior)
// and only with enough samples, so one lucky or unlucky week cannot swing
// position sizing.
package learning

import "time"

// StrategyStats grades one strategy over the rolling review window.
type StrategyStats struct {
	Strategy       string  `json:"strategy"`
	TotalTrades    int     `json:"totalTrades"`
	WinRate        float64 `json:"winRate"`
	AvgPnlUsd      float64 `json:"avgPnlUsd"`
	SharpeApprox   float64 `json:"sharpeApprox"`
	MaxDrawdownUsd float64 `json:"maxDrawdownUsd"`
	RecentWinRate  float64 `json:"recentWinRate"` // last 10 trades
	AvgHoldHours   float64 `json:"avgHoldHours"`
	TotalPnlUsd    float64 `json:"totalPnlUsd"`
}

// VenuePerformance ranks one grouping key (chain or pair) by realized PnL
// normalised to position-days.
type VenuePerformance struct {
	Key        string  `json:"key"`
	Positions  int     `json:"positions"`
	PnlUsd     float64 `json:"pnlUsd"`
	PnlPerDay  float64 `json:"pnlPerDay"`
	TotalHours float64 `json:"totalHours"`
}

// LpInsights is the LP-specific slice of the retrospective.
type LpInsights struct {
	OutOfRangeRate float64            `json:"outOfRangeRate"`
	RebalanceCount int                `json:"rebalanceCount"`
	ByChain        []VenuePerformance `json:"byChain"`
	ByPair         []VenuePerformance `json:"byPair"`
}

// PolyCalibration measures how well prediction-market entries were priced.
// Brier is mean squared error between the entry probability and the binary
// outcome; the gap is mean(predicted) - mean(outcome), positive when the
// model systematically overestimates.
type PolyCalibration struct {
	Samples            int     `json:"samples"`
	BrierScore         float64 `json:"brierScore"`
	OverconfidenceRate float64 `json:"overconfidenceRate"`
	CalibrationGap     float64 `json:"calibrationGap"`
}

// AdaptiveParams is the learning output the decision rules consume. All
// multipliers default to 1.0 (no change); Confidence scales how hard a
// multiplier is applied, so a thin sample barely moves the base value.
type AdaptiveParams struct {
	Confidence float64 `json:"confidence"`

	KellyMultiplier    float64 `json:"kellyMultiplier"`
	StopLossMultiplier float64 `json:"stopLossMultiplier"`
	LpRangeMultiplier  float64 `json:"lpRangeMultiplier"`
	MinEdgeMultiplier  float64 `json:"minEdgeMultiplier"`

	StrategyScores map[string]float64 `json:"strategyScores"`
	SampleSizes    map[string]int     `json:"sampleSizes"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultParams returns the neutral parameter set used before any trade has
// closed.
func DefaultParams() *AdaptiveParams {
	return &AdaptiveParams{
		Confidence:         0,
		KellyMultiplier:    1.0,
		StopLossMultiplier: 1.0,
		LpRangeMultiplier:  1.0,
		MinEdgeMultiplier:  1.0,
		StrategyScores:     make(map[string]float64),
		SampleSizes:        make(map[string]int),
	}
}

// ApplyAdaptive scales a base value by a learned multiplier, weighted by
// confidence. Zero confidence returns the base unchanged; full confidence
// returns base x mult.
func ApplyAdaptive(base, mult, confidence float64) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return base * (1 + (mult-1)*confidence)
}

// Report is one full retrospective: the inputs the multipliers were derived
// from plus the blended output. Served by the admin API for inspection.
type Report struct {
	GeneratedAt time.Time                 `json:"generatedAt"`
	WindowDays  int                       `json:"windowDays"`
	Strategies  map[string]*StrategyStats `json:"strategies"`
	Lp          *LpInsights               `json:"lp,omitempty"`
	Poly        *PolyCalibration          `json:"poly,omitempty"`
	Params      *AdaptiveParams           `json:"params"`
}
