package collab

// Registry holds the wired collaborators. Any field may be nil; a nil
// collaborator disables the features that depend on it. Callers check the
// Has* helpers instead of touching fields directly, which also keeps a nil
// *Registry safe to pass around.
type Registry struct {
	MarketData  MarketDataSource
	Wallet      WalletService
	Perps       PerpVenue
	Predictions PredictionVenue
	Staking     StakingService
	Lending     LendingProtocol
	LpVenues    map[string]LiquidityVenue
	Bridge      BridgeService
	Publisher   Publisher
	Filter      ContentFilter
	Trends      TrendSource
	TokenSafety TokenSafetyScanner
	Community   CommunityFeed
	Launchpad   LaunchpadSource
}

// HasMarketData reports whether a market data source is wired.
func (r *Registry) HasMarketData() bool { return r != nil && r.MarketData != nil }

// HasWallet reports whether the treasury wallet is wired.
func (r *Registry) HasWallet() bool { return r != nil && r.Wallet != nil }

// HasPerps reports whether the perp venue is wired.
func (r *Registry) HasPerps() bool { return r != nil && r.Perps != nil }

// HasPredictions reports whether the prediction venue is wired.
func (r *Registry) HasPredictions() bool { return r != nil && r.Predictions != nil }

// HasStaking reports whether the staking service is wired.
func (r *Registry) HasStaking() bool { return r != nil && r.Staking != nil }

// HasLending reports whether the lending protocol is wired.
func (r *Registry) HasLending() bool { return r != nil && r.Lending != nil }

// HasBridge reports whether the bridge service is wired.
func (r *Registry) HasBridge() bool { return r != nil && r.Bridge != nil }

// HasPublisher reports whether any publication sink is wired.
func (r *Registry) HasPublisher() bool { return r != nil && r.Publisher != nil }

// HasFilter reports whether an outbound content filter is wired.
func (r *Registry) HasFilter() bool { return r != nil && r.Filter != nil }

// HasTrends reports whether the trend source is wired.
func (r *Registry) HasTrends() bool { return r != nil && r.Trends != nil }

// HasTokenSafety reports whether the token safety scanner is wired.
func (r *Registry) HasTokenSafety() bool { return r != nil && r.TokenSafety != nil }

// HasCommunity reports whether the community feed is wired.
func (r *Registry) HasCommunity() bool { return r != nil && r.Community != nil }

// HasLaunchpad reports whether the launchpad source is wired.
func (r *Registry) HasLaunchpad() bool { return r != nil && r.Launchpad != nil }

// LpVenue returns a named liquidity venue, or nil when not wired.
func (r *Registry) LpVenue(name string) LiquidityVenue {
	if r == nil {
		return nil
	}
	return r.LpVenues[name]
}

// HasLpVenue reports whether the named liquidity venue is wired.
func (r *Registry) HasLpVenue(name string) bool { return r.LpVenue(name) != nil }
