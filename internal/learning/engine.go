package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/ledger"
)

const (
	// paramsKey is the KV row the blended parameters persist under.
	paramsKey = "learning.adaptive_params"

	// reviewWindowDays bounds the retrospective.
	reviewWindowDays = 90

	// cacheTTL is how long a computed retrospective is reused before the
	// ledger is re-read.
	cacheTTL = 15 * time.Minute

	// minSamples is the floor below which a strategy's multipliers stay at
	// 1.0. Five trades is not a track record.
	minSamples = 5

	// emaAlpha weights the fresh retrospective against the persisted prior.
	emaAlpha = 0.3

	// confidenceFullSamples is the total sample count at which confidence
	// saturates at 1.0.
	confidenceFullSamples = 50
)

// Engine computes the retrospective and serves the blended adaptive
// parameters to the decision rules. Safe for concurrent use.
type Engine struct {
	closed *ledger.ClosedPositionRepository
	state  *bus.StateRepository
	log    zerolog.Logger

	mu       sync.Mutex
	cached   *AdaptiveParams
	report   *Report
	cachedAt time.Time
	now      func() time.Time
}

// NewEngine creates a learning engine over the closed-position ledger, with
// the KV store holding the persisted prior.
func NewEngine(closed *ledger.ClosedPositionRepository, state *bus.StateRepository, log zerolog.Logger) *Engine {
	return &Engine{
		closed: closed,
		state:  state,
		log:    log.With().Str("component", "learning").Logger(),
		now:    time.Now,
	}
}

// Current returns the adaptive parameters for this cycle. A fresh cache is
// served as-is; otherwise the retrospective reruns. When the ledger cannot be
// read the persisted prior is served, and with no prior either the neutral
// defaults, so the decision engine always gets usable parameters.
func (e *Engine) Current(ctx context.Context) *AdaptiveParams {
	e.mu.Lock()
	if e.cached != nil && e.now().Sub(e.cachedAt) < cacheTTL {
		params := e.cached
		e.mu.Unlock()
		return params
	}
	e.mu.Unlock()

	report, err := e.Refresh(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Retrospective failed; falling back to persisted prior")
		if prior := e.loadPrior(); prior != nil {
			return prior
		}
		return DefaultParams()
	}
	return report.Params
}

// LatestReport returns the most recent retrospective, or nil before the
// first refresh. Served by the admin API.
func (e *Engine) LatestReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// Refresh reruns the retrospective: grade each strategy over the review
// window, derive multipliers, EMA-blend them with the persisted prior, then
// persist and cache the result.
func (e *Engine) Refresh(ctx context.Context) (*Report, error) {
	since := e.now().Add(-reviewWindowDays * 24 * time.Hour)
	positions, err := e.closed.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read closed positions: %w", err)
	}

	byStrategy := make(map[string][]ledger.ClosedPosition)
	for _, p := range positions {
		byStrategy[p.Strategy] = append(byStrategy[p.Strategy], p)
	}

	report := &Report{
		GeneratedAt: e.now().UTC(),
		WindowDays:  reviewWindowDays,
		Strategies:  make(map[string]*StrategyStats, len(byStrategy)),
	}
	for strategy, ps := range byStrategy {
		report.Strategies[strategy] = computeStrategyStats(strategy, ps)
	}
	if lp := byStrategy[ledger.StrategyLp]; len(lp) > 0 {
		report.Lp = computeLpInsights(lp)
	}
	if poly := byStrategy[ledger.StrategyPolymarket]; len(poly) > 0 {
		report.Poly = computePolyCalibration(poly)
	}

	fresh := deriveParams(report, len(positions))
	blended := blendWithPrior(fresh, e.loadPrior())
	blended.UpdatedAt = e.now().UTC()
	report.Params = blended

	if err := e.persist(blended); err != nil {
		e.log.Warn().Err(err).Msg("Failed to persist adaptive params")
	}

	e.mu.Lock()
	e.cached = blended
	e.report = report
	e.cachedAt = e.now()
	e.mu.Unlock()

	e.log.Info().
		Int("positions", len(positions)).
		Int("strategies", len(report.Strategies)).
		Float64("confidence", blended.Confidence).
		Float64("kelly_mult", blended.KellyMultiplier).
		Msg("Retrospective complete")
	return report, nil
}

// Invalidate drops the cache so the next Current rereads the ledger. Called
// after a position closes.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.cachedAt = time.Time{}
	e.mu.Unlock()
}

func (e *Engine) persist(p *AdaptiveParams) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode adaptive params: %w", err)
	}
	return e.state.Set(paramsKey, string(raw))
}

// loadPrior reads the persisted parameter blob, nil when absent or corrupt.
func (e *Engine) loadPrior() *AdaptiveParams {
	raw, err := e.state.Get(paramsKey)
	if err != nil || raw == nil {
		return nil
	}
	var p AdaptiveParams
	if err := json.Unmarshal([]byte(*raw), &p); err != nil {
		e.log.Warn().Err(err).Msg("Discarding unreadable adaptive params blob")
		return nil
	}
	if p.StrategyScores == nil {
		p.StrategyScores = make(map[string]float64)
	}
	if p.SampleSizes == nil {
		p.SampleSizes = make(map[string]int)
	}
	return &p
}

// computeStrategyStats grades one strategy's closed positions.
func computeStrategyStats(strategy string, positions []ledger.ClosedPosition) *StrategyStats {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].ClosedAt.Before(positions[j].ClosedAt)
	})

	pnls := make([]float64, len(positions))
	var wins int
	var totalPnl, totalHold float64
	var holdSamples int
	for i, p := range positions {
		pnls[i] = p.PnlUsd
		totalPnl += p.PnlUsd
		if p.PnlUsd > 0 {
			wins++
		}
		if d := p.HoldingDuration(); d > 0 {
			totalHold += d.Hours()
			holdSamples++
		}
	}

	s := &StrategyStats{
		Strategy:    strategy,
		TotalTrades: len(positions),
		WinRate:     float64(wins) / float64(len(positions)),
		AvgPnlUsd:   stat.Mean(pnls, nil),
		TotalPnlUsd: totalPnl,
	}
	if sigma := stat.StdDev(pnls, nil); sigma > 0 && !math.IsNaN(sigma) {
		s.SharpeApprox = s.AvgPnlUsd / sigma
	}
	s.MaxDrawdownUsd = maxDrawdown(pnls)
	s.RecentWinRate = recentWinRate(pnls, 10)
	if holdSamples > 0 {
		s.AvgHoldHours = totalHold / float64(holdSamples)
	}
	return s
}

// maxDrawdown walks the cumulative PnL curve and returns the deepest
// peak-to-trough fall as a positive number.
func maxDrawdown(pnls []float64) float64 {
	var cum, peak, worst float64
	for _, v := range pnls {
		cum += v
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > worst {
			worst = dd
		}
	}
	return worst
}

// recentWinRate looks at the last n closes only.
func recentWinRate(pnls []float64, n int) float64 {
	if len(pnls) == 0 {
		return 0
	}
	start := len(pnls) - n
	if start < 0 {
		start = 0
	}
	recent := pnls[start:]
	var wins int
	for _, v := range recent {
		if v > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(recent))
}

// computeLpInsights derives the LP-specific view: how often positions drifted
// out of range, how many closes were rebalances, and PnL-per-day rankings by
// chain and pair.
func computeLpInsights(positions []ledger.ClosedPosition) *LpInsights {
	insights := &LpInsights{}

	var outOfRange int
	for _, p := range positions {
		if v, ok := p.Metadata["outOfRange"].(bool); ok && v {
			outOfRange++
		}
		if v, _ := p.Metadata["event"].(string); v == "rebalance" {
			insights.RebalanceCount++
		}
	}
	insights.OutOfRangeRate = float64(outOfRange) / float64(len(positions))

	insights.ByChain = rankPerformance(positions, func(p *ledger.ClosedPosition) string { return p.Chain })
	insights.ByPair = rankPerformance(positions, func(p *ledger.ClosedPosition) string { return p.Pair })
	return insights
}

// rankPerformance groups positions by a key and ranks groups by PnL per
// position-day, best first. Positions without a recorded open time count
// their PnL but contribute no hold time.
func rankPerformance(positions []ledger.ClosedPosition, keyOf func(*ledger.ClosedPosition) string) []VenuePerformance {
	groups := make(map[string]*VenuePerformance)
	for i := range positions {
		p := &positions[i]
		key := keyOf(p)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &VenuePerformance{Key: key}
			groups[key] = g
		}
		g.Positions++
		g.PnlUsd += p.PnlUsd
		g.TotalHours += p.HoldingDuration().Hours()
	}

	out := make([]VenuePerformance, 0, len(groups))
	for _, g := range groups {
		if g.TotalHours > 0 {
			g.PnlPerDay = g.PnlUsd / (g.TotalHours / 24)
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PnlPerDay > out[j].PnlPerDay })
	return out
}

// computePolyCalibration measures prediction-market pricing quality from the
// entry probability and binary outcome recorded on each close.
func computePolyCalibration(positions []ledger.ClosedPosition) *PolyCalibration {
	var predicted, outcomes []float64
	var overconfident int
	for _, p := range positions {
		prob, ok := p.Metadata["predictedProb"].(float64)
		if !ok {
			continue
		}
		outcome := 0.0
		if p.PnlUsd > 0 {
			outcome = 1.0
		}
		if v, ok := p.Metadata["outcome"].(float64); ok {
			outcome = v
		}
		predicted = append(predicted, prob)
		outcomes = append(outcomes, outcome)
		if prob >= 0.7 && outcome == 0 {
			overconfident++
		}
	}
	if len(predicted) == 0 {
		return &PolyCalibration{}
	}

	var brier float64
	for i := range predicted {
		brier += (predicted[i] - outcomes[i]) * (predicted[i] - outcomes[i])
	}
	return &PolyCalibration{
		Samples:            len(predicted),
		BrierScore:         brier / float64(len(predicted)),
		OverconfidenceRate: float64(overconfident) / float64(len(predicted)),
		CalibrationGap:     stat.Mean(predicted, nil) - stat.Mean(outcomes, nil),
	}
}

// deriveParams turns the retrospective into raw (unblended) multipliers using
// piecewise rules. Strategies under the sample floor stay at 1.0.
func deriveParams(report *Report, totalSamples int) *AdaptiveParams {
	p := DefaultParams()
	p.Confidence = math.Min(1, float64(totalSamples)/confidenceFullSamples)

	for strategy, s := range report.Strategies {
		p.SampleSizes[strategy] = s.TotalTrades
		p.StrategyScores[strategy] = strategyScore(s)
		if s.TotalTrades < minSamples {
			continue
		}

		switch strategy {
		case ledger.StrategyPolymarket:
			switch {
			case s.WinRate < 0.4:
				p.KellyMultiplier = 0.5
				p.MinEdgeMultiplier = 1.5
			case s.WinRate > 0.6 && s.SharpeApprox > 0.5:
				p.KellyMultiplier = 1.25
			}
		case ledger.StrategyHedge:
			switch {
			case s.WinRate < 0.4:
				p.StopLossMultiplier = 0.8 // cut losers sooner
			case s.WinRate > 0.6:
				p.StopLossMultiplier = 1.15
			}
		}
	}

	if report.Lp != nil && lpSamples(report) >= minSamples {
		switch {
		case report.Lp.OutOfRangeRate > 0.4:
			p.LpRangeMultiplier = 1.3 // widen ranges
		case report.Lp.OutOfRangeRate < 0.1:
			p.LpRangeMultiplier = 0.9
		}
	}
	if report.Poly != nil && report.Poly.Samples >= minSamples && report.Poly.CalibrationGap > 0.1 {
		// The model systematically overestimates: demand more edge.
		p.MinEdgeMultiplier = math.Max(p.MinEdgeMultiplier, 1.25)
	}
	return p
}

func lpSamples(report *Report) int {
	if s, ok := report.Strategies[ledger.StrategyLp]; ok {
		return s.TotalTrades
	}
	return 0
}

// strategyScore is a single -1..1 grade combining win rate and risk-adjusted
// return, used for the per-strategy score map in the briefing.
func strategyScore(s *StrategyStats) float64 {
	score := (s.WinRate-0.5)*2*0.6 + math.Tanh(s.SharpeApprox)*0.4
	return math.Max(-1, math.Min(1, score))
}

// blendWithPrior applies the EMA so parameters drift rather than jump. With
// no prior, the fresh values pass through.
func blendWithPrior(fresh, prior *AdaptiveParams) *AdaptiveParams {
	if prior == nil {
		return fresh
	}
	ema := func(new, old float64) float64 { return emaAlpha*new + (1-emaAlpha)*old }

	fresh.Confidence = ema(fresh.Confidence, prior.Confidence)
	fresh.KellyMultiplier = ema(fresh.KellyMultiplier, prior.KellyMultiplier)
	fresh.StopLossMultiplier = ema(fresh.StopLossMultiplier, prior.StopLossMultiplier)
	fresh.LpRangeMultiplier = ema(fresh.LpRangeMultiplier, prior.LpRangeMultiplier)
	fresh.MinEdgeMultiplier = ema(fresh.MinEdgeMultiplier, prior.MinEdgeMultiplier)

	for strategy, old := range prior.StrategyScores {
		if newScore, ok := fresh.StrategyScores[strategy]; ok {
			fresh.StrategyScores[strategy] = ema(newScore, old)
		} else {
			fresh.StrategyScores[strategy] = old
		}
	}
	return fresh
}
