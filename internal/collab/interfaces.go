package collab

import (
	"context"
	"time"
)

// MarketDataSource provides spot prices and OHLCV history.
type MarketDataSource interface {
	// GetPrice returns the current USD price for one symbol
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// GetPrices returns current USD prices for a batch of ids
	GetPrices(ctx context.Context, ids []string) (map[string]float64, error)

	// GetOHLCV returns up to limit bars for symbol at the given interval
	GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// WalletService reads the treasury wallet.
type WalletService interface {
	// GetBalance returns the spot balance of one asset in native units
	GetBalance(ctx context.Context, asset string) (float64, error)

	// GetWalletTokenBalances returns every token held with USD values
	GetWalletTokenBalances(ctx context.Context) ([]TokenBalance, error)
}

// PerpVenue abstracts the perpetual-futures exchange used for hedging.
type PerpVenue interface {
	// GetAccountSummary returns equity, free margin, and open positions
	GetAccountSummary(ctx context.Context) (*PerpAccountSummary, error)

	// HedgeTreasury opens or extends a short against treasury exposure
	HedgeTreasury(ctx context.Context, req HedgeRequest) (*OrderResult, error)

	// ClosePosition reduces a position; reduce-only on the venue side
	ClosePosition(ctx context.Context, coin string, sizeUsd float64, isBuy bool) (*OrderResult, error)

	// GetListedCoins returns the coins the venue can trade
	GetListedCoins(ctx context.Context) ([]string, error)
}

// PredictionVenue abstracts the prediction-market venue.
type PredictionVenue interface {
	// ScanOpportunities returns priced markets within the USD headroom.
	// scoutContext carries the latest narrative summary so the venue's
	// model can bias probabilities.
	ScanOpportunities(ctx context.Context, headroomUsd float64, scoutContext string) ([]PredictionOpportunity, error)

	// FetchMarket returns one market by id
	FetchMarket(ctx context.Context, id string) (*PredictionMarket, error)

	// PlaceBuyOrder buys sizeUsd of an outcome token
	PlaceBuyOrder(ctx context.Context, market *PredictionMarket, token string, sizeUsd float64) (*OrderResult, error)

	// FetchPositions returns all held outcome-token positions
	FetchPositions(ctx context.Context) ([]PredictionPosition, error)

	// ExitPosition sells a fraction (0..1] of one position
	ExitPosition(ctx context.Context, pos PredictionPosition, fraction float64) (*OrderResult, error)
}

// StakingService abstracts SOL liquid staking.
type StakingService interface {
	// StakeSol stakes the given SOL amount
	StakeSol(ctx context.Context, amount float64) (*OrderResult, error)

	// InstantUnstake unstakes immediately, paying the instant fee
	InstantUnstake(ctx context.Context, amount float64) (*OrderResult, error)

	// GetStakePosition returns the current stake valued at priceUsd
	GetStakePosition(ctx context.Context, priceUsd float64) (*StakePosition, error)
}

// LendingProtocol abstracts the lending market used for yield loops.
type LendingProtocol interface {
	// GetPosition returns the aggregate account state
	GetPosition(ctx context.Context) (*LendingPosition, error)

	// GetApys returns deposit/borrow rates per asset
	GetApys(ctx context.Context) (map[string]AssetApy, error)

	// Deposit supplies an asset
	Deposit(ctx context.Context, asset string, amount float64) (*OrderResult, error)

	// Borrow draws an asset against collateral
	Borrow(ctx context.Context, asset string, amount float64) (*OrderResult, error)

	// Repay pays down a borrow
	Repay(ctx context.Context, asset string, amount float64) (*OrderResult, error)

	// LoopLst levers SOL into an LST up to the target LTV
	LoopLst(ctx context.Context, lst string, amount, targetLtv float64) (*OrderResult, error)

	// UnwindLstLoop fully unwinds one LST loop
	UnwindLstLoop(ctx context.Context, lst string) (*OrderResult, error)

	// GetLstAssets returns the LSTs the protocol supports
	GetLstAssets(ctx context.Context) ([]string, error)
}

// LiquidityVenue abstracts one concentrated-liquidity DEX. The engine runs
// against two named venues; both satisfy this interface.
type LiquidityVenue interface {
	// GetPositions returns all open positions on this venue
	GetPositions(ctx context.Context) ([]LpPosition, error)

	// OpenPosition opens a new range position
	OpenPosition(ctx context.Context, req OpenLpRequest) (*OrderResult, error)

	// RebalancePosition recenters an out-of-range position
	RebalancePosition(ctx context.Context, req RebalanceLpRequest) (*OrderResult, error)

	// ClaimFees collects accrued fees on one position
	ClaimFees(ctx context.Context, id string) (*OrderResult, error)

	// DiscoverPools returns scored pool candidates
	DiscoverPools(ctx context.Context, req DiscoverRequest) ([]PoolCandidate, error)
}

// Named liquidity venues.
const (
	VenueOrca     = "orca"
	VenueRaydium  = "raydium"
	VenueSafePair = "SOL/USDC" // fallback pair when discovery intel is stale
)

// BridgeService abstracts cross-chain movement and flash arbitrage.
type BridgeService interface {
	// Bridge moves an asset across chains
	Bridge(ctx context.Context, req BridgeRequest) (*OrderResult, error)

	// Swap exchanges assets on one chain
	Swap(ctx context.Context, req SwapRequest) (*OrderResult, error)

	// ScanForOpportunity returns the best current arb, or nil when none
	ScanForOpportunity(ctx context.Context) (*ArbOpportunity, error)

	// ExecuteFlashArb runs a scanned opportunity atomically
	ExecuteFlashArb(ctx context.Context, opp *ArbOpportunity) (*OrderResult, error)
}

// Publisher fans content out to the external channels. Implementations are
// expected to be safe for concurrent use.
type Publisher interface {
	// PostToX publishes to the public X account
	PostToX(ctx context.Context, content string) error

	// PostToChannel publishes to the community broadcast channel
	PostToChannel(ctx context.Context, content string) error

	// PostToAdmin sends an operator-only notice
	PostToAdmin(ctx context.Context, content string) error

	// PostToFarcaster publishes to a Farcaster channel
	PostToFarcaster(ctx context.Context, content, channel string) error

	// PostToTelegram sends to a specific Telegram chat
	PostToTelegram(ctx context.Context, chatID int64, content string) error
}

// ContentFilter scans outbound text before publication. The supervisor
// fails open: a nil filter passes everything.
type ContentFilter interface {
	// ScanOutbound checks text bound for a destination
	ScanOutbound(text, destination string) FilterResult
}

// TrendSource feeds the scout with market narratives.
type TrendSource interface {
	// FetchNarratives returns the currently trending narratives
	FetchNarratives(ctx context.Context) ([]Narrative, error)
}

// TokenSafetyScanner feeds the guardian with token risk reports.
type TokenSafetyScanner interface {
	// ScanToken inspects one token address
	ScanToken(ctx context.Context, address string) (*TokenSafetyReport, error)
}

// CommunityFeed feeds the community agent with activity summaries.
type CommunityFeed interface {
	// RecentActivity summarises the feed over the trailing window
	RecentActivity(ctx context.Context, window time.Duration) (*CommunityActivity, error)
}

// LaunchpadSource feeds the launcher with token lifecycle events.
type LaunchpadSource interface {
	// RecentEvents returns launches and graduations since the given time
	RecentEvents(ctx context.Context, since time.Time) ([]LaunchpadEvent, error)
}
