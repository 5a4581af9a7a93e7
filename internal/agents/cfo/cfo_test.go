package cfo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/decision"
	"github.com/MRT0B13/novaos/internal/learning"
	"github.com/MRT0B13/novaos/internal/swarmtest"
)

type staticAdaptive struct{}

func (staticAdaptive) Current(context.Context) *learning.AdaptiveParams {
	return learning.DefaultParams()
}

func cfoConfig() *config.Config {
	return &config.Config{
		PollInterval:            5 * time.Second,
		DecisionInterval:        30 * time.Minute,
		AutoDecisions:           true,
		AutoTierUsd:             50,
		NotifyTierUsd:           200,
		ApprovalExpiry:          15 * time.Minute,
		CriticalBypassApproval:  true,
		MaxDecisionsPerCycle:    3,
		HedgeEnabled:            true,
		HedgeTargetRatio:        0.50,
		HedgeMinExposureUsd:     50,
		HedgeRebalanceThreshold: 0.15,
		HlStopLossPct:           25,
		HlLiquidationWarningPct: 15,
		HedgeCooldown:           4 * time.Hour,
		StakeCooldown:           6 * time.Hour,
		CloseCooldown:           time.Hour,
		BetCooldown:             6 * time.Hour,
		LoopCooldown:            24 * time.Hour,
		LpCooldown:              12 * time.Hour,
		ArbCooldown:             time.Hour,
		DryRunCooldown:          2 * time.Hour,
	}
}

func newCFO(t *testing.T, cfg *config.Config, reg *collab.Registry) (*CFO, agent.Deps) {
	t.Helper()

	deps := swarmtest.AgentDeps(t)
	decisionLog, closed := swarmtest.LedgerRepos(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	engine := decision.NewEngine(decision.Deps{
		Config:      cfg,
		Registry:    reg,
		Messages:    deps.Messages,
		DecisionLog: decisionLog,
		Closed:      closed,
		Adaptive:    staticAdaptive{},
		Log:         log,
	})

	c := New(Deps{
		Agent:    deps,
		Config:   cfg,
		Registry: reg,
		Engine:   engine,
		Log:      log,
	})
	return c, deps
}

// reports drains the supervisor inbox and decodes every cycle report.
func reports(t *testing.T, deps agent.Deps) []*bus.CycleReport {
	t.Helper()
	msgs, err := deps.Messages.Poll(context.Background(), agent.SupervisorName, 20)
	require.NoError(t, err)

	var out []*bus.CycleReport
	for i := range msgs {
		require.NoError(t, deps.Messages.Acknowledge(context.Background(), msgs[i].ID))
		rep, ok := bus.Decode(&msgs[i]).(*bus.CycleReport)
		require.True(t, ok, "CFO output is always a cycle report")
		out = append(out, rep)
	}
	return out
}

func lastSummary(t *testing.T, deps agent.Deps) string {
	t.Helper()
	reps := reports(t, deps)
	require.NotEmpty(t, reps)
	return reps[len(reps)-1].Summary
}

func TestHandleCommand_StopAndStartPersist(t *testing.T) {
	cfg := cfoConfig()
	c, deps := newCFO(t, cfg, &collab.Registry{})
	ctx := context.Background()

	c.handleCommand(ctx, &bus.AdminCommand{Command: "cfo_stop"})
	assert.False(t, cfg.AutoDecisions)
	on, err := deps.State.GetBool("config.auto_decisions")
	require.NoError(t, err)
	require.NotNil(t, on)
	assert.False(t, *on)
	assert.Contains(t, lastSummary(t, deps), "stopped")

	c.handleCommand(ctx, &bus.AdminCommand{Command: "cfo_start"})
	assert.True(t, cfg.AutoDecisions)
	on, err = deps.State.GetBool("config.auto_decisions")
	require.NoError(t, err)
	require.NotNil(t, on)
	assert.True(t, *on)
}

func TestHandleCommand_Status(t *testing.T) {
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{})

	c.handleCommand(context.Background(), &bus.AdminCommand{Command: "cfo_status"})

	summary := lastSummary(t, deps)
	assert.Contains(t, summary, "💼 CFO running")
	assert.Contains(t, summary, "Portfolio:")
}

func TestHandleCommand_CloseHl(t *testing.T) {
	perps := &swarmtest.MockPerps{Summary: &collab.PerpAccountSummary{
		Positions: []collab.PerpPosition{
			{Coin: "SOL", SizeUsd: 300, IsShort: true},
			{Coin: "ETH", SizeUsd: 200, IsShort: true},
		},
	}}
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{Perps: perps})

	c.handleCommand(context.Background(), &bus.AdminCommand{Command: "cfo_close_hl"})

	assert.Equal(t, 2, perps.CloseCalls)
	assert.Contains(t, lastSummary(t, deps), "Closed 2 of 2 perp position(s)")
}

func TestHandleCommand_CloseHlDryRunTouchesNothing(t *testing.T) {
	cfg := cfoConfig()
	cfg.DryRun = true
	perps := &swarmtest.MockPerps{Summary: &collab.PerpAccountSummary{
		Positions: []collab.PerpPosition{{Coin: "SOL", SizeUsd: 300, IsShort: true}},
	}}
	c, deps := newCFO(t, cfg, &collab.Registry{Perps: perps})

	c.handleCommand(context.Background(), &bus.AdminCommand{Command: "cfo_close_hl"})

	assert.Zero(t, perps.CloseCalls)
	assert.Contains(t, lastSummary(t, deps), "[DRY RUN]")
}

func TestHandleCommand_ClosePoly(t *testing.T) {
	preds := &swarmtest.MockPredictions{Positions: []collab.PredictionPosition{
		{MarketID: "m1", Token: "YES", ValueUsd: 40},
		{MarketID: "m2", Token: "NO", ValueUsd: 25},
	}}
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{Predictions: preds})

	c.handleCommand(context.Background(), &bus.AdminCommand{Command: "cfo_close_poly"})

	assert.Equal(t, 2, preds.ExitCalls)
	assert.Contains(t, lastSummary(t, deps), "2 of 2 prediction position(s)")
}

func TestHandleCommand_Stake(t *testing.T) {
	staking := &swarmtest.MockStaking{}
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{Staking: staking})
	ctx := context.Background()

	c.handleCommand(ctx, &bus.AdminCommand{Command: "cfo_stake", Args: []string{"2.5"}})
	assert.Equal(t, 1, staking.StakeCalls)
	assert.InDelta(t, 2.5, staking.LastAmount, 1e-9)
	assert.Contains(t, lastSummary(t, deps), "Staked 2.50 SOL")

	// Garbage amounts never reach the venue.
	c.handleCommand(ctx, &bus.AdminCommand{Command: "cfo_stake", Args: []string{"lots"}})
	assert.Equal(t, 1, staking.StakeCalls)
	assert.Contains(t, lastSummary(t, deps), "Usage:")
}

func TestHandleCommand_Hedge(t *testing.T) {
	perps := &swarmtest.MockPerps{}
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{Perps: perps})

	c.handleCommand(context.Background(), &bus.AdminCommand{Command: "cfo_hedge", Args: []string{"500", "2"}})

	assert.Equal(t, 1, perps.HedgeCalls)
	assert.Equal(t, "SOL", perps.LastHedge.Coin)
	assert.InDelta(t, 500, perps.LastHedge.NotionalUsd, 1e-9)
	assert.InDelta(t, 2, perps.LastHedge.Leverage, 1e-9)
	assert.Contains(t, lastSummary(t, deps), "Hedged $500.00 at 2.0x")
}

func TestHandleCommand_Deposit(t *testing.T) {
	lending := &swarmtest.MockLending{}
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{Lending: lending})

	c.handleCommand(context.Background(), &bus.AdminCommand{Command: "cfo_deposit", Args: []string{"USDC", "100"}})

	assert.Equal(t, 1, lending.DepositCalls)
	assert.Contains(t, lastSummary(t, deps), "Deposited 100.00 USDC")
}

func TestHandleCommand_EmergencyExitFlattensEverything(t *testing.T) {
	perps := &swarmtest.MockPerps{Summary: &collab.PerpAccountSummary{
		Positions: []collab.PerpPosition{{Coin: "SOL", SizeUsd: 300, IsShort: true}},
	}}
	preds := &swarmtest.MockPredictions{Positions: []collab.PredictionPosition{
		{MarketID: "m1", ValueUsd: 50},
	}}
	lending := &swarmtest.MockLending{Position: &collab.LendingPosition{
		ActiveLoops: []collab.LendingLoop{{Kind: "lst_loop", Asset: "JitoSOL"}},
	}}
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{
		Perps: perps, Predictions: preds, Lending: lending,
	})

	c.handleCommand(context.Background(), &bus.AdminCommand{Command: "emergency_exit"})

	assert.Equal(t, 1, perps.CloseCalls)
	assert.Equal(t, 1, preds.ExitCalls)
	assert.Equal(t, 1, lending.UnwindCalls)

	var all []string
	for _, rep := range reports(t, deps) {
		all = append(all, rep.Summary)
	}
	joined := strings.Join(all, "\n")
	assert.Contains(t, joined, "Emergency exit started")
	assert.Contains(t, joined, "Emergency exit complete")
}

func TestHandleCommand_ScoutIntelForwardsRequest(t *testing.T) {
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{})

	c.handleCommand(context.Background(), &bus.AdminCommand{Command: "scout_intel"})

	msgs, err := deps.Messages.Poll(context.Background(), agent.ScoutName, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.TypeRequest, msgs[0].Type)
	cmd, ok := bus.Decode(&msgs[0]).(*bus.AdminCommand)
	require.True(t, ok)
	assert.Equal(t, "scout_intel", cmd.Command)
}

func TestPollInbox_HandlesAndAcksCommands(t *testing.T) {
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{})

	payload, err := bus.Encode(&bus.AdminCommand{Command: "cfo_status"})
	require.NoError(t, err)
	sender := agent.NewBase(agent.SupervisorName, "supervisor", deps)
	require.NoError(t, sender.SendMessage(context.Background(), agent.CFOName,
		bus.TypeCommand, bus.PriorityHigh, payload, 0))

	require.NoError(t, c.pollInbox(context.Background()))

	assert.Contains(t, lastSummary(t, deps), "💼 CFO")
	inbox, err := c.ReadMessages(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestScheduledCycle_GatedOnAutoDecisions(t *testing.T) {
	cfg := cfoConfig()
	cfg.AutoDecisions = false
	c, deps := newCFO(t, cfg, &collab.Registry{})

	require.NoError(t, c.scheduledCycle(context.Background()))
	assert.Empty(t, reports(t, deps))
}

func TestRunCycle_ApprovalNoticeThenApprove(t *testing.T) {
	wallet := &swarmtest.MockWallet{Balances: []collab.TokenBalance{
		{Symbol: "SOL", Amount: 10, PriceUsd: 100, ValueUsd: 1000},
	}}
	perps := &swarmtest.MockPerps{Summary: &collab.PerpAccountSummary{FreeMarginUsd: 1000}}
	md := &swarmtest.MockMarketData{Prices: map[string]float64{"SOL": 100}}
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{
		Wallet: wallet, Perps: perps, MarketData: md,
	})
	ctx := context.Background()

	require.NoError(t, c.runCycle(ctx))

	reps := reports(t, deps)
	require.Len(t, reps, 2, "cycle digest plus one approval notice")
	assert.Contains(t, reps[0].Summary, "Decision cycle")
	assert.Contains(t, reps[1].Summary, "Approval needed")
	assert.Zero(t, perps.HedgeCalls, "queued hedge must not reach the venue")
	assert.Equal(t, 1, c.state.CyclesRun)

	pending := c.engine.Approvals().List()
	require.Len(t, pending, 1)

	c.handleCommand(ctx, &bus.AdminCommand{Command: "cfo_approve", Args: []string{pending[0].ID}})
	assert.Equal(t, 1, perps.HedgeCalls)
	assert.Contains(t, lastSummary(t, deps), "Approved and executed")

	// The same id cannot run twice.
	c.handleCommand(ctx, &bus.AdminCommand{Command: "cfo_approve", Args: []string{pending[0].ID}})
	assert.Equal(t, 1, perps.HedgeCalls)
	assert.Contains(t, lastSummary(t, deps), "Approval failed")
}

func TestHandleCommand_MissingVenueIsReportedNotFatal(t *testing.T) {
	c, deps := newCFO(t, cfoConfig(), &collab.Registry{})
	ctx := context.Background()

	c.handleCommand(ctx, &bus.AdminCommand{Command: "cfo_close_hl"})
	assert.Contains(t, lastSummary(t, deps), "No perp venue wired")

	c.handleCommand(ctx, &bus.AdminCommand{Command: "cfo_stake", Args: []string{"1"}})
	assert.Contains(t, lastSummary(t, deps), "No staking service wired")
}
