package ledger

import "time"

// Decision statuses as stored in decision_log.status. A decision normally
// moves queued -> approved -> executed for the approval tier, or lands
// directly on executed / dry_run / skipped for the auto tiers.
const (
	StatusExecuted = "executed"
	StatusQueued   = "queued"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
	StatusDryRun   = "dry_run"
)

// DecisionRecord is one row of the decision audit trail. Tier, urgency and
// status are stored as plain strings so the ledger does not depend on the
// engine's enums; the table CHECK constraints enforce the value sets.
type DecisionRecord struct {
	ID              int64     `json:"id"`
	TraceID         string    `json:"traceId"`
	DecisionType    string    `json:"decisionType"`
	Tier            string    `json:"tier"`
	Urgency         string    `json:"urgency"`
	Status          string    `json:"status"`
	ImpactUsd       float64   `json:"impactUsd"`
	Reason          string    `json:"reason"`
	TxID            string    `json:"txId,omitempty"`
	Error           string    `json:"error,omitempty"`
	RiskMultiplier  float64   `json:"riskMultiplier"`
	MarketCondition string    `json:"marketCondition"`
	DryRun          bool      `json:"dryRun"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Strategy labels recorded in closed_positions.strategy.
const (
	StrategyHedge      = "hedge"
	StrategyPolymarket = "polymarket"
	StrategyStaking    = "staking"
	StrategyLp         = "lp"
	StrategyLending    = "lending"
	StrategyArb        = "arb"
)

// ClosedPosition is the realized outcome of one position. The learning
// engine reads a rolling window of these to grade each strategy.
type ClosedPosition struct {
	ID       int64                  `json:"id"`
	TraceID  string                 `json:"traceId,omitempty"`
	Strategy string                 `json:"strategy"`
	Venue    string                 `json:"venue,omitempty"`
	Symbol   string                 `json:"symbol,omitempty"`
	Chain    string                 `json:"chain,omitempty"`
	Pair     string                 `json:"pair,omitempty"`
	EntryUsd float64                `json:"entryUsd"`
	ExitUsd  float64                `json:"exitUsd"`
	PnlUsd   float64                `json:"pnlUsd"`
	OpenedAt *time.Time             `json:"openedAt,omitempty"`
	ClosedAt time.Time              `json:"closedAt"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HoldingDuration returns how long the position was open, or zero when the
// open time was never recorded.
func (p *ClosedPosition) HoldingDuration() time.Duration {
	if p.OpenedAt == nil || p.OpenedAt.IsZero() {
		return 0
	}
	return p.ClosedAt.Sub(*p.OpenedAt)
}

// PnlSummary aggregates closed positions over a window.
type PnlSummary struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	TotalPnlUsd float64 `json:"totalPnlUsd"`
	BestPnlUsd  float64 `json:"bestPnlUsd"`
	WorstPnlUsd float64 `json:"worstPnlUsd"`
}

// WinRate returns the fraction of winning trades, zero when empty.
func (s *PnlSummary) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}
