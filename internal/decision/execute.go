package decision

import (
	"context"
	"fmt"

	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/ledger"
	"github.com/MRT0B13/novaos/internal/metrics"
)

// execute dispatches one classified decision. AUTO and NOTIFY run in-line;
// APPROVAL queues the deferred action and returns without side effects. A
// dry-run process simulates everything except the approval queueing, which
// carries no side effect either way.
func (e *Engine) execute(ctx context.Context, traceID string, d Decision, intel *SwarmIntel) DecisionResult {
	result := DecisionResult{Decision: d, TraceID: traceID}
	log := e.log.With().Str("trace_id", traceID).Str("type", string(d.Type)).Logger()

	action := e.actionFor(d)
	if action == nil {
		result.Error = "no collaborator wired for decision type"
		log.Warn().Msg("Decision skipped; no executor available")
		e.record(ctx, traceID, d, intel, ledger.StatusSkipped, "", result.Error)
		return result
	}

	key := cooldownKeyFor(d)

	// Dry run wins over the approval queue: a queued closure would reach the
	// real venue on approve.
	if e.cfg.DryRun {
		result.DryRun = true
		result.Success = true
		e.cooldowns.MarkDryRun(key)
		log.Info().
			Str("tier", string(d.Tier)).
			Float64("impact_usd", d.EstimatedImpactUsd).
			Str("reason", d.Reasoning).
			Msg("DRY RUN: execution simulated")
		e.record(ctx, traceID, d, intel, ledger.StatusDryRun, "", "")
		e.publishExecution(&result)
		return result
	}

	if d.Tier == TierApproval {
		desc := fmt.Sprintf("[%s] %s", d.Type, d.Reasoning)
		pending := e.approvals.Queue(traceID, d, desc, action)
		result.PendingApproval = true
		result.Success = true
		result.ApprovalID = pending.ID
		metrics.ApprovalsPending.Set(float64(e.approvals.Len()))
		if e.events != nil {
			e.events.Publish(events.ApprovalQueued, "decision", &events.ApprovalQueuedData{
				ID:          pending.ID,
				Description: pending.Description,
				AmountUsd:   pending.AmountUsd,
				ExpiresAt:   pending.ExpiresAt,
			})
		}
		e.record(ctx, traceID, d, intel, ledger.StatusQueued, "", "")
		e.publishExecution(&result)
		return result
	}

	res, err := action(ctx)
	result.Executed = true
	if err != nil {
		result.Error = err.Error()
		log.Error().Err(err).Float64("impact_usd", d.EstimatedImpactUsd).Msg("Decision execution failed")
		e.record(ctx, traceID, d, intel, ledger.StatusFailed, "", result.Error)
		e.publishExecution(&result)
		return result
	}

	result.Success = true
	if res != nil {
		result.TxID = res.TxID
	}
	e.cooldowns.Mark(key)
	log.Info().
		Str("tier", string(d.Tier)).
		Str("tx_id", result.TxID).
		Float64("impact_usd", d.EstimatedImpactUsd).
		Msg("Decision executed")
	e.record(ctx, traceID, d, intel, ledger.StatusExecuted, result.TxID, "")
	e.publishExecution(&result)
	return result
}

// actionFor builds the deferred venue call for one decision. Returns nil
// when the required collaborator is not wired; the caller records a skip.
// The closure owns any realized-pnl bookkeeping so the outcome is captured
// whether it runs in-cycle or later through an approval.
func (e *Engine) actionFor(d Decision) ApprovalAction {
	p := d.Params
	switch d.Type {

	case TypeOpenHedge:
		if !e.reg.HasPerps() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			return e.reg.Perps.HedgeTreasury(ctx, collab.HedgeRequest{
				Coin:        p.Coin,
				NotionalUsd: p.NotionalUsd,
				Leverage:    p.Leverage,
			})
		}

	case TypeCloseHedge, TypeCloseLosing:
		if !e.reg.HasPerps() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			res, err := e.reg.Perps.ClosePosition(ctx, p.Coin, p.NotionalUsd, p.IsBuy)
			if err != nil {
				return nil, err
			}
			e.recordClosed(ctx, &ledger.ClosedPosition{
				Strategy: ledger.StrategyHedge,
				Symbol:   p.Coin,
				PnlUsd:   d.EstimatedImpactUsd,
				ClosedAt: e.now(),
				Metadata: map[string]interface{}{"event": string(d.Type)},
			})
			return res, nil
		}

	case TypeCloseAll:
		if !e.reg.HasPerps() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			return e.closeAllPerps(ctx)
		}

	case TypeStakeSol:
		if !e.reg.HasStaking() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			return e.reg.Staking.StakeSol(ctx, p.AmountSol)
		}

	case TypeUnstakeSol:
		if !e.reg.HasStaking() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			return e.reg.Staking.InstantUnstake(ctx, p.AmountSol)
		}

	case TypePlacePolyBet:
		if !e.reg.HasPredictions() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			market, err := e.reg.Predictions.FetchMarket(ctx, p.MarketID)
			if err != nil {
				return nil, fmt.Errorf("fetch market %s: %w", p.MarketID, err)
			}
			return e.reg.Predictions.PlaceBuyOrder(ctx, market, p.Token, p.SizeUsd)
		}

	case TypeClosePolyBet:
		if !e.reg.HasPredictions() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			return e.exitPrediction(ctx, p)
		}

	case TypeOpenLstLoop:
		if !e.reg.HasLending() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			return e.reg.Lending.LoopLst(ctx, p.Lst, p.Amount, p.TargetLtv)
		}

	case TypeOpenBorrowLoop:
		if !e.reg.HasLending() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			return e.borrowAndDeploy(ctx, p)
		}

	case TypeUnwindLoop:
		if !e.reg.HasLending() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			return e.reg.Lending.UnwindLstLoop(ctx, p.Lst)
		}

	case TypeRepayLoan:
		if !e.reg.HasLending() {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			return e.reg.Lending.Repay(ctx, p.Asset, p.Amount)
		}

	case TypeOpenLp:
		venue := e.reg.LpVenue(p.Venue)
		if venue == nil {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			res, err := venue.OpenPosition(ctx, collab.OpenLpRequest{
				Venue:       p.Venue,
				Pool:        p.Pool,
				Pair:        p.Pair,
				AmountUsd:   p.SizeUsd,
				RangePct:    p.RangePct,
				TickSpacing: p.TickSpacing,
			})
			if err == nil {
				e.diversity.MarkPicked(p.Pool)
			}
			return res, err
		}

	case TypeRebalanceLp:
		venue := e.reg.LpVenue(p.Venue)
		if venue == nil {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			res, err := venue.RebalancePosition(ctx, collab.RebalanceLpRequest{
				PositionID: p.PositionID,
				RangePct:   p.RangePct,
			})
			if err != nil {
				return nil, err
			}
			e.recordClosed(ctx, &ledger.ClosedPosition{
				Strategy: ledger.StrategyLp,
				Venue:    p.Venue,
				Pair:     p.Pair,
				ClosedAt: e.now(),
				Metadata: map[string]interface{}{"event": "rebalance", "outOfRange": true},
			})
			return res, nil
		}

	case TypeClaimLpFees:
		venue := e.reg.LpVenue(p.Venue)
		if venue == nil {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			res, err := venue.ClaimFees(ctx, p.PositionID)
			if err != nil {
				return nil, err
			}
			claimed := d.EstimatedImpactUsd
			if res != nil && res.FilledUsd > 0 {
				claimed = res.FilledUsd
			}
			e.recordClosed(ctx, &ledger.ClosedPosition{
				Strategy: ledger.StrategyLp,
				Venue:    p.Venue,
				Pair:     p.Pair,
				PnlUsd:   claimed,
				ClosedAt: e.now(),
				Metadata: map[string]interface{}{"event": "claim", "outOfRange": false},
			})
			return res, nil
		}

	case TypeFlashArb:
		if !e.reg.HasBridge() || p.Arb == nil {
			return nil
		}
		return func(ctx context.Context) (*collab.OrderResult, error) {
			res, err := e.reg.Bridge.ExecuteFlashArb(ctx, p.Arb)
			if err != nil {
				return nil, err
			}
			profit := p.Arb.NetProfitUsd
			if res != nil && res.FilledUsd > 0 {
				profit = res.FilledUsd
			}
			e.recordClosed(ctx, &ledger.ClosedPosition{
				Strategy: ledger.StrategyArb,
				Symbol:   p.Arb.Route,
				EntryUsd: p.Arb.RequiredUsd,
				ExitUsd:  p.Arb.RequiredUsd + profit,
				PnlUsd:   profit,
				ClosedAt: e.now(),
			})
			return res, nil
		}
	}
	return nil
}

// borrowAndDeploy draws the stable and re-deposits it. A failed deposit
// leaves naked borrow exposure, so it is repaid best-effort before the error
// propagates.
func (e *Engine) borrowAndDeploy(ctx context.Context, p Params) (*collab.OrderResult, error) {
	if _, err := e.reg.Lending.Borrow(ctx, p.BorrowAsset, p.Amount); err != nil {
		return nil, fmt.Errorf("borrow %s: %w", p.BorrowAsset, err)
	}
	res, err := e.reg.Lending.Deposit(ctx, p.BorrowAsset, p.Amount)
	if err != nil {
		if _, repayErr := e.reg.Lending.Repay(ctx, p.BorrowAsset, p.Amount); repayErr != nil {
			e.log.Error().Err(repayErr).
				Str("asset", p.BorrowAsset).
				Float64("amount", p.Amount).
				Msg("Rollback repay failed after deploy error; naked borrow open")
		}
		return nil, fmt.Errorf("deploy borrowed %s: %w", p.BorrowAsset, err)
	}
	return res, nil
}

// exitPrediction sells the fraction and books the realized slice of the
// position.
func (e *Engine) exitPrediction(ctx context.Context, p Params) (*collab.OrderResult, error) {
	positions, err := e.reg.Predictions.FetchPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	for _, pos := range positions {
		if pos.MarketID != p.MarketID || pos.Token != p.Token {
			continue
		}
		res, err := e.reg.Predictions.ExitPosition(ctx, pos, p.Fraction)
		if err != nil {
			return nil, err
		}
		exited := pos.Shares * p.Fraction
		e.recordClosed(ctx, &ledger.ClosedPosition{
			Strategy: ledger.StrategyPolymarket,
			Symbol:   pos.Token,
			EntryUsd: exited * pos.AvgPriceUsd,
			ExitUsd:  exited * pos.CurrentPriceUsd,
			PnlUsd:   exited * (pos.CurrentPriceUsd - pos.AvgPriceUsd),
			ClosedAt: e.now(),
			Metadata: map[string]interface{}{"marketId": pos.MarketID, "fraction": p.Fraction},
		})
		return res, nil
	}
	return nil, fmt.Errorf("no open position for market %s token %s", p.MarketID, p.Token)
}

// closeAllPerps flattens every open perp position and reports the combined
// fill. Partial failures return an error after attempting every position.
func (e *Engine) closeAllPerps(ctx context.Context) (*collab.OrderResult, error) {
	summary, err := e.reg.Perps.GetAccountSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("account summary: %w", err)
	}

	var filled float64
	var failed int
	var lastTx string
	for _, pos := range summary.Positions {
		res, err := e.reg.Perps.ClosePosition(ctx, pos.Coin, pos.SizeUsd, pos.IsShort)
		if err != nil {
			failed++
			e.log.Error().Err(err).Str("coin", pos.Coin).Msg("Close-all: position close failed")
			continue
		}
		if res != nil {
			filled += res.FilledUsd
			lastTx = res.TxID
		}
		e.recordClosed(ctx, &ledger.ClosedPosition{
			Strategy: ledger.StrategyHedge,
			Symbol:   pos.Coin,
			PnlUsd:   pos.UnrealizedPnlUsd,
			ClosedAt: e.now(),
			Metadata: map[string]interface{}{"event": "close_all"},
		})
	}
	if failed > 0 {
		return nil, fmt.Errorf("close-all left %d of %d positions open", failed, len(summary.Positions))
	}
	return &collab.OrderResult{TxID: lastTx, FilledUsd: filled}, nil
}

// record appends the full audit row including the cycle's risk posture.
func (e *Engine) record(ctx context.Context, traceID string, d Decision, intel *SwarmIntel, status, txID, errMsg string) {
	rec := &ledger.DecisionRecord{
		TraceID:      traceID,
		DecisionType: string(d.Type),
		Tier:         string(d.Tier),
		Urgency:      string(d.Urgency),
		Status:       status,
		ImpactUsd:    d.EstimatedImpactUsd,
		Reason:       d.Reasoning,
		TxID:         txID,
		Error:        errMsg,
		DryRun:       status == ledger.StatusDryRun,
	}
	if intel != nil {
		rec.RiskMultiplier = intel.RiskMultiplier
		rec.MarketCondition = string(intel.MarketCondition)
	}
	if err := e.decisionLog.Append(ctx, rec); err != nil {
		e.log.Warn().Err(err).Str("type", string(d.Type)).Msg("Failed to append decision record")
	}
}

// recordClosed books one realized outcome for the learning window.
// Best-effort: the venue call already succeeded.
func (e *Engine) recordClosed(ctx context.Context, p *ledger.ClosedPosition) {
	if e.closed == nil {
		return
	}
	if err := e.closed.Record(ctx, p); err != nil {
		e.log.Warn().Err(err).Str("strategy", p.Strategy).Msg("Failed to record closed position")
	}
}
