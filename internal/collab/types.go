// Package collab defines the contracts between the swarm and its external
// collaborators: market data, trading venues, publication sinks, and the
// worker input feeds. Everything here is an interface plus plain value types;
// concrete clients live outside this repository and are injected at wire
// time. A nil collaborator means the feature is off.
package collab

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// TokenBalance is one spot holding in the treasury wallet.
type TokenBalance struct {
	Symbol   string
	Mint     string
	Amount   float64
	PriceUsd float64
	ValueUsd float64
}

// PerpPosition is one open perpetual-futures position.
type PerpPosition struct {
	Coin             string
	SizeUsd          float64 // absolute notional
	IsShort          bool
	EntryPx          float64
	MarkPx           float64
	MarginUsd        float64
	UnrealizedPnlUsd float64
	LiquidationPx    float64
}

// LiquidationDistancePct returns how far the mark price sits from the
// liquidation price, as a percentage of mark. Returns 100 when no
// liquidation price is set.
func (p PerpPosition) LiquidationDistancePct() float64 {
	if p.LiquidationPx <= 0 || p.MarkPx <= 0 {
		return 100
	}
	dist := p.MarkPx - p.LiquidationPx
	if p.IsShort {
		dist = p.LiquidationPx - p.MarkPx
	}
	return dist / p.MarkPx * 100
}

// PerpAccountSummary is the full state of the perp venue account.
type PerpAccountSummary struct {
	EquityUsd     float64
	FreeMarginUsd float64
	TotalShortUsd float64
	Positions     []PerpPosition
}

// HedgeRequest opens or extends a short hedge.
type HedgeRequest struct {
	Coin        string
	NotionalUsd float64
	Leverage    float64
}

// OrderResult reports one executed venue operation.
type OrderResult struct {
	TxID      string
	FilledUsd float64
	Note      string
}

// PredictionMarket is one binary market on the prediction venue.
type PredictionMarket struct {
	ID           string
	Question     string
	YesToken     string
	NoToken      string
	YesPrice     float64
	NoPrice      float64
	LiquidityUsd float64
	EndDate      time.Time
}

// PredictionOpportunity is a scanned market with a model edge attached.
type PredictionOpportunity struct {
	Market      PredictionMarket
	Token       string
	Side        string // "yes" or "no"
	ImpliedProb float64
	ModelProb   float64
	Edge        float64 // ModelProb - ImpliedProb for the chosen side
	MaxSizeUsd  float64
}

// PredictionPosition is one held outcome-token position.
type PredictionPosition struct {
	MarketID        string
	Token           string
	Shares          float64
	AvgPriceUsd     float64
	CurrentPriceUsd float64
	ValueUsd        float64
}

// StakePosition is the treasury's liquid-staking position.
type StakePosition struct {
	StakedSol float64
	ValueUsd  float64
	ApyPct    float64
}

// AssetApy is the lending market rates for one asset.
type AssetApy struct {
	DepositApyPct float64
	BorrowApyPct  float64
}

// LendingLoop is one active levered position on the lending protocol.
// Kind is "lst_loop" for SOL->LST leverage or "borrow_deploy" for a plain
// deposit-borrow-deploy spread.
type LendingLoop struct {
	Kind         string
	Asset        string
	Ltv          float64
	HealthFactor float64
	ValueUsd     float64
}

// LendingPosition is the aggregate lending-protocol account state.
type LendingPosition struct {
	DepositsUsd  map[string]float64
	BorrowsUsd   map[string]float64
	HealthFactor float64
	Ltv          float64
	NetApyPct    float64
	ActiveLoops  []LendingLoop
}

// TotalDepositsUsd sums all deposit balances.
func (p LendingPosition) TotalDepositsUsd() float64 {
	var total float64
	for _, v := range p.DepositsUsd {
		total += v
	}
	return total
}

// TotalBorrowsUsd sums all borrow balances.
func (p LendingPosition) TotalBorrowsUsd() float64 {
	var total float64
	for _, v := range p.BorrowsUsd {
		total += v
	}
	return total
}

// LpPosition is one concentrated-liquidity position.
type LpPosition struct {
	ID           string
	Venue        string
	Pair         string
	Chain        string
	ValueUsd     float64
	FeesOwedUsd  float64
	InRange      bool
	LowerPrice   float64
	UpperPrice   float64
	CurrentPrice float64
	OpenedAt     time.Time
}

// OpenLpRequest opens a new liquidity position.
type OpenLpRequest struct {
	Venue       string
	Pool        string
	Pair        string
	AmountUsd   float64
	RangePct    float64
	TickSpacing int
}

// RebalanceLpRequest recenters an out-of-range position.
type RebalanceLpRequest struct {
	PositionID string
	RangePct   float64
}

// DiscoverRequest asks a venue for candidate pools.
type DiscoverRequest struct {
	MinTvlUsd float64
	MaxPools  int
}

// PoolCandidate is one discovered pool with its scoring inputs.
type PoolCandidate struct {
	Venue        string
	Address      string
	Pair         string
	Chain        string
	TvlUsd       float64
	VolumeUsd24h float64
	FeeRatePct   float64
	AprPct       float64
	TickSpacing  int
	Stable       bool // both sides are stablecoins
}

// BridgeRequest moves an asset across chains.
type BridgeRequest struct {
	FromChain string
	ToChain   string
	Asset     string
	Amount    float64
}

// SwapRequest swaps one asset for another on a single chain.
type SwapRequest struct {
	Chain     string
	FromAsset string
	ToAsset   string
	Amount    float64
}

// ArbOpportunity is a priced cross-venue arbitrage route.
type ArbOpportunity struct {
	ID           string
	Route        string
	RequiredUsd  float64
	NetProfitUsd float64
}

// Narrative is one trend-source finding for the scout.
type Narrative struct {
	Topic    string
	Summary  string
	Mentions int
	Bullish  *bool // nil when the source has no sentiment signal
}

// TokenSafetyReport is the guardian's scan result for one token.
type TokenSafetyReport struct {
	Address      string
	Symbol       string
	Safe         bool
	Honeypot     bool
	LpLockedPct  float64
	TopHolderPct float64
	Flags        []string
}

// BanEvent is one moderation action in the community feed.
type BanEvent struct {
	UserID int64
	At     time.Time
	Reason string
}

// CommunityActivity summarises the community feed over a window.
type CommunityActivity struct {
	Messages        int
	ActiveUsers     int
	EngagementDelta float64 // ratio vs the previous window, 1.0 = flat
	Bans            []BanEvent
	Highlights      []string
}

// LaunchpadEvent is one launchpad lifecycle change.
type LaunchpadEvent struct {
	Stage        string // "launched" or "graduated"
	TokenAddress string
	Name         string
	Symbol       string
	MarketCapUsd float64
	At           time.Time
}

// Threat severities reported by the content filter.
const (
	ThreatCritical = "critical"
	ThreatHigh     = "high"
	ThreatMedium   = "medium"
	ThreatLow      = "low"
)

// Threat is one finding from an outbound content scan.
type Threat struct {
	Severity    string
	Description string
}

// FilterResult is the outcome of an outbound content scan. Clean means no
// critical threat; lesser threats are reported but do not block.
type FilterResult struct {
	Clean   bool
	Threats []Threat
}

// HasCritical reports whether any threat is critical.
func (r FilterResult) HasCritical() bool {
	for _, t := range r.Threats {
		if t.Severity == ThreatCritical {
			return true
		}
	}
	return false
}
