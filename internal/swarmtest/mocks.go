package swarmtest

import (
	"context"
	"sync"
	"time"

	"github.com/MRT0B13/novaos/internal/collab"
)

// MockPublisher records everything posted per destination.
type MockPublisher struct {
	mu    sync.Mutex
	posts map[string][]string
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{posts: make(map[string][]string)}
}

func (p *MockPublisher) record(dest, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts[dest] = append(p.posts[dest], content)
}

// Sent returns the posts recorded for one destination.
func (p *MockPublisher) Sent(dest string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posts[dest]...)
}

func (p *MockPublisher) PostToX(ctx context.Context, content string) error {
	p.record("x", content)
	return nil
}

func (p *MockPublisher) PostToChannel(ctx context.Context, content string) error {
	p.record("channel", content)
	return nil
}

func (p *MockPublisher) PostToAdmin(ctx context.Context, content string) error {
	p.record("admin", content)
	return nil
}

func (p *MockPublisher) PostToFarcaster(ctx context.Context, content, channel string) error {
	p.record("farcaster", content)
	return nil
}

func (p *MockPublisher) PostToTelegram(ctx context.Context, chatID int64, content string) error {
	p.record("telegram", content)
	return nil
}

// MockWallet serves fixed treasury balances.
type MockWallet struct {
	Balances []collab.TokenBalance
	Sol      float64
	Err      error
}

func (m *MockWallet) GetBalance(ctx context.Context, asset string) (float64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Sol, nil
}

func (m *MockWallet) GetWalletTokenBalances(ctx context.Context) ([]collab.TokenBalance, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Balances, nil
}

// MockPerps is an in-memory perp venue that counts calls.
type MockPerps struct {
	Summary    *collab.PerpAccountSummary
	Err        error
	HedgeCalls int
	CloseCalls int
	LastHedge  collab.HedgeRequest
}

func (m *MockPerps) GetAccountSummary(ctx context.Context) (*collab.PerpAccountSummary, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Summary == nil {
		return &collab.PerpAccountSummary{}, nil
	}
	return m.Summary, nil
}

func (m *MockPerps) HedgeTreasury(ctx context.Context, req collab.HedgeRequest) (*collab.OrderResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.HedgeCalls++
	m.LastHedge = req
	return &collab.OrderResult{TxID: "tx-hedge", FilledUsd: req.NotionalUsd}, nil
}

func (m *MockPerps) ClosePosition(ctx context.Context, coin string, sizeUsd float64, isBuy bool) (*collab.OrderResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.CloseCalls++
	return &collab.OrderResult{TxID: "tx-close", FilledUsd: sizeUsd}, nil
}

func (m *MockPerps) GetListedCoins(ctx context.Context) ([]string, error) {
	return []string{"SOL", "ETH", "BTC"}, nil
}

// MockPredictions is an in-memory prediction venue.
type MockPredictions struct {
	Positions []collab.PredictionPosition
	Err       error
	ExitCalls int
}

func (m *MockPredictions) ScanOpportunities(ctx context.Context, headroomUsd float64, scoutContext string) ([]collab.PredictionOpportunity, error) {
	return nil, m.Err
}

func (m *MockPredictions) FetchMarket(ctx context.Context, id string) (*collab.PredictionMarket, error) {
	return &collab.PredictionMarket{ID: id}, m.Err
}

func (m *MockPredictions) PlaceBuyOrder(ctx context.Context, market *collab.PredictionMarket, token string, sizeUsd float64) (*collab.OrderResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &collab.OrderResult{TxID: "tx-buy", FilledUsd: sizeUsd}, nil
}

func (m *MockPredictions) FetchPositions(ctx context.Context) ([]collab.PredictionPosition, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Positions, nil
}

func (m *MockPredictions) ExitPosition(ctx context.Context, pos collab.PredictionPosition, fraction float64) (*collab.OrderResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.ExitCalls++
	return &collab.OrderResult{TxID: "tx-exit", FilledUsd: pos.ValueUsd * fraction}, nil
}

// MockStaking is an in-memory staking service.
type MockStaking struct {
	Position   *collab.StakePosition
	Err        error
	StakeCalls int
	LastAmount float64
}

func (m *MockStaking) StakeSol(ctx context.Context, amount float64) (*collab.OrderResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.StakeCalls++
	m.LastAmount = amount
	return &collab.OrderResult{TxID: "tx-stake"}, nil
}

func (m *MockStaking) InstantUnstake(ctx context.Context, amount float64) (*collab.OrderResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &collab.OrderResult{TxID: "tx-unstake"}, nil
}

func (m *MockStaking) GetStakePosition(ctx context.Context, priceUsd float64) (*collab.StakePosition, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Position == nil {
		return &collab.StakePosition{}, nil
	}
	return m.Position, nil
}

// MockLending is an in-memory lending protocol.
type MockLending struct {
	Position     *collab.LendingPosition
	Err          error
	DepositCalls int
	UnwindCalls  int
}

func (m *MockLending) GetPosition(ctx context.Context) (*collab.LendingPosition, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Position == nil {
		return &collab.LendingPosition{}, nil
	}
	return m.Position, nil
}

func (m *MockLending) GetApys(ctx context.Context) (map[string]collab.AssetApy, error) {
	return map[string]collab.AssetApy{}, m.Err
}

func (m *MockLending) Deposit(ctx context.Context, asset string, amount float64) (*collab.OrderResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.DepositCalls++
	return &collab.OrderResult{TxID: "tx-deposit", FilledUsd: amount}, nil
}

func (m *MockLending) Borrow(ctx context.Context, asset string, amount float64) (*collab.OrderResult, error) {
	return &collab.OrderResult{TxID: "tx-borrow"}, m.Err
}

func (m *MockLending) Repay(ctx context.Context, asset string, amount float64) (*collab.OrderResult, error) {
	return &collab.OrderResult{TxID: "tx-repay"}, m.Err
}

func (m *MockLending) LoopLst(ctx context.Context, lst string, amount, targetLtv float64) (*collab.OrderResult, error) {
	return &collab.OrderResult{TxID: "tx-loop"}, m.Err
}

func (m *MockLending) UnwindLstLoop(ctx context.Context, lst string) (*collab.OrderResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.UnwindCalls++
	return &collab.OrderResult{TxID: "tx-unwind"}, nil
}

func (m *MockLending) GetLstAssets(ctx context.Context) ([]string, error) {
	return []string{"JitoSOL", "mSOL"}, m.Err
}

// MockLiquidityVenue is an in-memory concentrated-liquidity venue.
type MockLiquidityVenue struct {
	Positions []collab.LpPosition
	Pools     []collab.PoolCandidate
	Err       error
}

func (m *MockLiquidityVenue) GetPositions(ctx context.Context) ([]collab.LpPosition, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Positions, nil
}

func (m *MockLiquidityVenue) OpenPosition(ctx context.Context, req collab.OpenLpRequest) (*collab.OrderResult, error) {
	return &collab.OrderResult{TxID: "tx-open-lp"}, m.Err
}

func (m *MockLiquidityVenue) RebalancePosition(ctx context.Context, req collab.RebalanceLpRequest) (*collab.OrderResult, error) {
	return &collab.OrderResult{TxID: "tx-rebalance"}, m.Err
}

func (m *MockLiquidityVenue) ClaimFees(ctx context.Context, id string) (*collab.OrderResult, error) {
	return &collab.OrderResult{TxID: "tx-claim"}, m.Err
}

func (m *MockLiquidityVenue) DiscoverPools(ctx context.Context, req collab.DiscoverRequest) ([]collab.PoolCandidate, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if req.MaxPools > 0 && len(m.Pools) > req.MaxPools {
		return m.Pools[:req.MaxPools], nil
	}
	return m.Pools, nil
}

// MockMarketData serves fixed prices and candles.
type MockMarketData struct {
	Prices  map[string]float64
	Candles map[string][]collab.Candle
	Err     error
}

func (m *MockMarketData) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Prices[symbol], nil
}

func (m *MockMarketData) GetPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		if px, ok := m.Prices[id]; ok {
			out[id] = px
		}
	}
	return out, nil
}

func (m *MockMarketData) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]collab.Candle, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Candles[symbol], nil
}

// MockTrends serves a fixed narrative list.
type MockTrends struct {
	Narratives []collab.Narrative
	Err        error
	Calls      int
}

func (m *MockTrends) FetchNarratives(ctx context.Context) ([]collab.Narrative, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Narratives, nil
}

// MockTokenSafety serves canned safety reports per address.
type MockTokenSafety struct {
	Reports map[string]*collab.TokenSafetyReport
	Err     error
}

func (m *MockTokenSafety) ScanToken(ctx context.Context, address string) (*collab.TokenSafetyReport, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if r, ok := m.Reports[address]; ok {
		return r, nil
	}
	return &collab.TokenSafetyReport{Address: address, Safe: true, LpLockedPct: 100}, nil
}

// MockCommunityFeed serves one fixed activity summary.
type MockCommunityFeed struct {
	Activity *collab.CommunityActivity
	Err      error
}

func (m *MockCommunityFeed) RecentActivity(ctx context.Context, window time.Duration) (*collab.CommunityActivity, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Activity == nil {
		return &collab.CommunityActivity{}, nil
	}
	return m.Activity, nil
}

// MockLaunchpad serves fixed lifecycle events, filtered by the since cut.
type MockLaunchpad struct {
	Events []collab.LaunchpadEvent
	Err    error
}

func (m *MockLaunchpad) RecentEvents(ctx context.Context, since time.Time) ([]collab.LaunchpadEvent, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []collab.LaunchpadEvent
	for _, e := range m.Events {
		if e.At.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
