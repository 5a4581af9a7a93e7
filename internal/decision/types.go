// Package decision implements the CFO's autonomous decision engine: one
// cycle gathers treasury state, consults swarm intel, generates candidate
// decisions from independent rule blocks, classifies each into an execution
// tier, and dispatches them against the external collaborators.
package decision

import (
	"time"

	"github.com/MRT0B13/novaos/internal/collab"
)

// Type identifies one kind of treasury action.
type Type string

// Decision types.
const (
	TypeCloseLosing    Type = "CLOSE_LOSING"
	TypeOpenHedge      Type = "OPEN_HEDGE"
	TypeCloseHedge     Type = "CLOSE_HEDGE"
	TypeStakeSol       Type = "STAKE_SOL"
	TypeUnstakeSol     Type = "UNSTAKE_SOL"
	TypePlacePolyBet   Type = "PLACE_POLY_BET"
	TypeClosePolyBet   Type = "CLOSE_POLY_BET"
	TypeOpenLstLoop    Type = "OPEN_LST_LOOP"
	TypeOpenBorrowLoop Type = "OPEN_BORROW_LOOP"
	TypeUnwindLoop     Type = "UNWIND_LOOP"
	TypeRepayLoan      Type = "REPAY_LOAN"
	TypeOpenLp         Type = "OPEN_LP"
	TypeRebalanceLp    Type = "REBALANCE_LP"
	TypeClaimLpFees    Type = "CLAIM_LP_FEES"
	TypeFlashArb       Type = "FLASH_ARB"
	TypeCloseAll       Type = "CLOSE_ALL_POSITIONS"
)

// Urgency orders decisions within a cycle; critical executes first.
type Urgency string

// Urgency levels.
const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// Rank maps urgency to a sortable rank; lower runs first. Unknown values
// sort last.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 0
	case UrgencyHigh:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 3
	default:
		return 4
	}
}

// Tier is the execution gate a decision must pass.
type Tier string

// Execution tiers. AUTO executes immediately, NOTIFY executes and reports,
// APPROVAL queues for an operator.
const (
	TierAuto     Tier = "AUTO"
	TierNotify   Tier = "NOTIFY"
	TierApproval Tier = "APPROVAL"
)

// Params carries the type-specific inputs of a decision. Only the fields the
// decision type needs are set; the executor reads the ones it expects.
type Params struct {
	Coin        string  // perp coin (hedge, close)
	NotionalUsd float64 // hedge notional / close size
	Leverage    float64
	IsBuy       bool // close direction on the perp venue

	AmountSol float64 // staking
	Asset     string  // lending deposit/repay asset
	Amount    float64 // lending amount in asset units

	MarketID string  // prediction market
	Token    string  // outcome token
	Question string  // market question, for reports
	SizeUsd  float64 // bet size
	Fraction float64 // exit fraction (0..1]

	Lst         string  // LST loop target
	TargetLtv   float64 // loop LTV cap
	BorrowAsset string  // borrow-deploy loop

	Venue       string  // lp venue name
	Pool        string  // lp pool address
	Pair        string  // lp pair label
	RangePct    float64 // lp range width
	TickSpacing int
	PositionID  string // lp rebalance / claim target

	Arb *collab.ArbOpportunity // scanned arb, passed through to execution
}

// Decision is one candidate action produced by a rule block.
type Decision struct {
	Type               Type
	Reasoning          string
	Params             Params
	Urgency            Urgency
	EstimatedImpactUsd float64
	Tier               Tier
	IntelUsed          []string
}

// DecisionResult is the outcome of dispatching one decision.
type DecisionResult struct {
	Decision        Decision
	TraceID         string
	Executed        bool
	Success         bool
	TxID            string
	Error           string
	DryRun          bool
	PendingApproval bool
	ApprovalID      string
}

// AssetExposure is one hedgeable treasury holding after LST folding.
type AssetExposure struct {
	Symbol   string
	Balance  float64 // SOL-equivalent units for the folded SOL entry
	UsdValue float64
	HlListed bool
}

// TreasurySnapshot is the gathered portfolio state for one cycle. Sources
// that failed to read are zero-valued and listed in Errors.
type TreasurySnapshot struct {
	TakenAt     time.Time
	SolPriceUsd float64

	Balances  []collab.TokenBalance
	Exposures []AssetExposure // >= min exposure, perp-listed, LSTs folded
	TotalUsd  float64
	IdleSol   float64 // liquid SOL available for staking
	IdleUsd   float64 // stables + liquid SOL value

	Perp        *collab.PerpAccountSummary
	Stake       *collab.StakePosition
	Lending     *collab.LendingPosition
	LpPositions []collab.LpPosition
	Predictions []collab.PredictionPosition

	Errors []string
}

// ShortUsdFor sums open short notional on one coin.
func (s *TreasurySnapshot) ShortUsdFor(coin string) float64 {
	if s.Perp == nil {
		return 0
	}
	var total float64
	for _, p := range s.Perp.Positions {
		if p.Coin == coin && p.IsShort {
			total += p.SizeUsd
		}
	}
	return total
}

// MarketCondition is the engine's read of the market for one cycle.
type MarketCondition string

// Market conditions.
const (
	ConditionBullish MarketCondition = "bullish"
	ConditionNeutral MarketCondition = "neutral"
	ConditionBearish MarketCondition = "bearish"
	ConditionDanger  MarketCondition = "danger"
)

// SwarmIntel is the classified view of recent worker messages addressed to
// the CFO, plus the derived risk posture.
type SwarmIntel struct {
	GatheredAt time.Time

	// Freshness per source agent; zero when nothing arrived in the window.
	ScoutAt    time.Time
	GuardianAt time.Time
	AnalystAt  time.Time

	ScoutBullish *bool
	ScoutSummary string
	Narratives   []string

	GuardianCritical bool
	GuardianAlerts   []string
	WatchlistTokens  []string

	AnalystTvlUsd      float64
	AnalystVolumeSpike bool
	VolumeSpikeAt      time.Time
	PriceAlerts        []string

	TokenPrices map[string]float64
	Movers      []string
	Trending    []string

	RiskMultiplier  float64
	MarketCondition MarketCondition
}

// Summary lines the intel contributed to a decision, for IntelUsed.
func (si *SwarmIntel) sources() []string {
	var out []string
	if si.ScoutSummary != "" {
		out = append(out, "scout:"+si.ScoutSummary)
	}
	if si.GuardianCritical {
		out = append(out, "guardian:critical")
	} else if len(si.GuardianAlerts) > 0 {
		out = append(out, "guardian:alerts")
	}
	if si.AnalystVolumeSpike {
		out = append(out, "analyst:volume_spike")
	}
	return out
}

// CycleOutcome is everything one engine cycle produced.
type CycleOutcome struct {
	TraceID   string
	StartedAt time.Time
	Duration  time.Duration
	Skipped   bool // an overlapping cycle was already running
	Snapshot  *TreasurySnapshot
	Intel     *SwarmIntel
	Results   []DecisionResult
}

// ExecutedCount returns how many decisions ran with success.
func (c *CycleOutcome) ExecutedCount() int {
	var n int
	for _, r := range c.Results {
		if r.Executed && r.Success {
			n++
		}
	}
	return n
}

// FailedCount returns how many decisions ran and failed.
func (c *CycleOutcome) FailedCount() int {
	var n int
	for _, r := range c.Results {
		if r.Executed && !r.Success {
			n++
		}
	}
	return n
}

// PendingApproval is one queued decision awaiting an operator.
type PendingApproval struct {
	ID          string
	Description string
	AmountUsd   float64
	Decision    Decision
	TraceID     string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}
