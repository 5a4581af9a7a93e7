// Package cfo is the treasury operator agent: it runs the decision engine
// on a schedule, executes operator commands from the bus, sweeps the
// approval queue, and refreshes the learning engine.
package cfo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/decision"
	"github.com/MRT0B13/novaos/internal/learning"
	"github.com/MRT0B13/novaos/internal/report"
)

const (
	approvalSweepEvery  = 2 * time.Minute
	learningRefreshEvery = 6 * time.Hour
)

// State is the CFO's persisted memory.
type State struct {
	LastCycleAt time.Time `msgpack:"lastCycleAt"`
	CyclesRun   int       `msgpack:"cyclesRun"`
}

// Deps bundles the CFO's construction inputs.
type Deps struct {
	Agent    agent.Deps
	Config   *config.Config
	Registry *collab.Registry
	Engine   *decision.Engine
	Learner  *learning.Engine
	Log      zerolog.Logger
}

// CFO is the treasury operator.
type CFO struct {
	*agent.Base

	cfg     *config.Config
	reg     *collab.Registry
	engine  *decision.Engine
	learner *learning.Engine
	store   *bus.StateRepository
	log     zerolog.Logger

	state State
}

func New(d Deps) *CFO {
	return &CFO{
		Base:    agent.NewBase(agent.CFOName, "cfo", d.Agent),
		cfg:     d.Config,
		reg:     d.Registry,
		engine:  d.Engine,
		learner: d.Learner,
		store:   d.Agent.State,
		log:     d.Log.With().Str("component", "cfo").Logger(),
	}
}

// Start restores state, warms the cooldown tracker from the audit log, and
// arms the four loops.
func (c *CFO) Start(ctx context.Context) error {
	if err := c.Base.Start(ctx); err != nil {
		return err
	}
	if _, err := c.RestoreState(&c.state); err != nil {
		c.log.Warn().Err(err).Msg("CFO state restore failed; starting fresh")
	}
	c.engine.RestoreCooldowns(ctx)

	if err := c.AddInterval("inbox", c.cfg.PollInterval, c.pollInbox); err != nil {
		return err
	}
	if err := c.AddInterval("decide", c.cfg.DecisionInterval, c.scheduledCycle); err != nil {
		return err
	}
	if err := c.AddInterval("sweep", approvalSweepEvery, c.sweep); err != nil {
		return err
	}
	return c.AddInterval("learn", learningRefreshEvery, c.refreshLearning)
}

// scheduledCycle runs the decision engine when automatic decisions are on.
func (c *CFO) scheduledCycle(ctx context.Context) error {
	if !c.cfg.AutoDecisions {
		return nil
	}
	return c.runCycle(ctx)
}

func (c *CFO) runCycle(ctx context.Context) error {
	c.SetTask("decision cycle")
	defer c.SetTask("")

	outcome := c.engine.RunCycle(ctx)
	if outcome.Skipped {
		return nil
	}

	c.state.LastCycleAt = time.Now()
	c.state.CyclesRun++
	_ = c.SaveState(c.state)

	c.reportCycle(ctx, outcome)
	return nil
}

// reportCycle sends the cycle summary upstream and a separate approval
// prompt for every queued decision.
func (c *CFO) reportCycle(ctx context.Context, outcome *decision.CycleOutcome) {
	var failed int
	for _, r := range outcome.Results {
		if r.Executed && !r.Success {
			failed++
		}
	}

	c.tell(ctx, &bus.CycleReport{
		TraceID:   outcome.TraceID,
		Summary:   report.Cycle(outcome),
		Decisions: len(outcome.Results),
		Executed:  outcome.ExecutedCount(),
		Failed:    failed,
	})

	for _, r := range outcome.Results {
		if !r.PendingApproval {
			continue
		}
		for _, p := range c.engine.Approvals().List() {
			if p.ID == r.ApprovalID {
				c.say(ctx, report.ApprovalNotice(&p))
				break
			}
		}
	}
}

// sweep drops expired approvals.
func (c *CFO) sweep(ctx context.Context) error {
	c.engine.SweepApprovals(ctx)
	return nil
}

// refreshLearning recomputes the adaptive parameters from closed positions.
func (c *CFO) refreshLearning(ctx context.Context) error {
	if c.learner == nil {
		return nil
	}
	c.SetTask("learning refresh")
	defer c.SetTask("")

	if _, err := c.learner.Refresh(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Learning refresh failed; keeping prior parameters")
	}
	return nil
}

// pollInbox consumes operator commands. Intel-type traffic is left to the
// consult phase, which reads the inbox history directly; commands are acked
// here so they run exactly once.
func (c *CFO) pollInbox(ctx context.Context) error {
	msgs, err := c.ReadMessages(ctx, 10)
	if err != nil {
		return err
	}

	for i := range msgs {
		m := &msgs[i]
		if cmd, ok := bus.Decode(m).(*bus.AdminCommand); ok && m.Type == bus.TypeCommand {
			c.handleCommand(ctx, cmd)
		}
		if err := c.AcknowledgeMessage(ctx, m.ID); err != nil {
			c.log.Warn().Err(err).Str("id", m.ID).Msg("Failed to ack message")
		}
	}
	return nil
}

func (c *CFO) handleCommand(ctx context.Context, cmd *bus.AdminCommand) {
	c.log.Info().Str("command", cmd.Command).Strs("args", cmd.Args).Msg("Operator command received")

	switch cmd.Command {
	case "cfo_stop":
		c.setAuto(ctx, false)
	case "cfo_start":
		c.setAuto(ctx, true)
	case "cfo_status":
		c.sendStatus(ctx)
	case "cfo_scan":
		snap := c.engine.Snapshot(ctx)
		c.say(ctx, report.Portfolio(snap))
	case "cfo_decide":
		if err := c.runCycle(ctx); err != nil {
			c.say(ctx, "❌ Decision cycle failed: "+err.Error())
		}
	case "cfo_approve":
		c.approve(ctx, cmd.Args)
	case "cfo_close_poly":
		c.closePredictions(ctx)
	case "cfo_close_hl", "cfo_close_all":
		c.closePerps(ctx)
	case "cfo_stake":
		c.stake(ctx, cmd.Args)
	case "cfo_deposit":
		c.deposit(ctx, cmd.Args)
	case "cfo_hedge":
		c.hedge(ctx, cmd.Args)
	case "scout_intel":
		c.requestScoutIntel(ctx)
	case "market_crash":
		// The crash signal itself feeds the consult phase from the inbox
		// history; react immediately instead of waiting for the ticker.
		if err := c.runCycle(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Crash-triggered cycle failed")
		}
	case "emergency_exit":
		c.emergencyExit(ctx)
	default:
		c.log.Debug().Str("command", cmd.Command).Msg("Unknown command ignored")
	}
}

func (c *CFO) setAuto(ctx context.Context, on bool) {
	if err := c.store.SetBool("config.auto_decisions", on); err != nil {
		c.say(ctx, "❌ Failed to persist setting: "+err.Error())
		return
	}
	c.cfg.AutoDecisions = on
	if on {
		c.say(ctx, "▶️ Automatic decisions enabled.")
	} else {
		c.say(ctx, "⏹️ Automatic decisions stopped. Manual commands still work.")
	}
}

func (c *CFO) sendStatus(ctx context.Context) {
	c.say(ctx, report.Status(&report.StatusInput{
		Running:          c.cfg.AutoDecisions,
		DryRun:           c.cfg.DryRun,
		Snapshot:         c.engine.Snapshot(ctx),
		PendingApprovals: c.engine.Approvals().List(),
		Cooldowns:        c.engine.Cooldowns().Snapshot(),
		LastCycleAt:      c.state.LastCycleAt,
		Now:              time.Now(),
	}))
}

func (c *CFO) approve(ctx context.Context, args []string) {
	if len(args) == 0 {
		c.say(ctx, "Usage: cfo_approve <id>")
		return
	}

	result, err := c.engine.Approve(ctx, args[0])
	if err != nil {
		c.say(ctx, "❌ Approval failed: "+err.Error())
		return
	}
	if result.Success {
		note := "✅ Approved and executed."
		if result.TxID != "" {
			note += " Tx: " + result.TxID
		}
		c.say(ctx, note)
		return
	}
	c.say(ctx, "❌ Approved but execution failed: "+result.Error)
}

// closePredictions exits every prediction position in full.
func (c *CFO) closePredictions(ctx context.Context) {
	if !c.reg.HasPredictions() {
		c.say(ctx, "No prediction venue wired.")
		return
	}
	positions, err := c.reg.Predictions.FetchPositions(ctx)
	if err != nil {
		c.say(ctx, "❌ Could not read prediction positions: "+err.Error())
		return
	}
	if len(positions) == 0 {
		c.say(ctx, "No prediction positions open.")
		return
	}

	var closed int
	for _, pos := range positions {
		if c.cfg.DryRun {
			closed++
			continue
		}
		if _, err := c.reg.Predictions.ExitPosition(ctx, pos, 1.0); err != nil {
			c.log.Warn().Err(err).Str("market", pos.MarketID).Msg("Prediction exit failed")
			continue
		}
		closed++
	}
	c.say(ctx, fmt.Sprintf("%s Closed %d of %d prediction position(s).", dryTag(c.cfg.DryRun), closed, len(positions)))
}

// closePerps flattens the perp book.
func (c *CFO) closePerps(ctx context.Context) {
	if !c.reg.HasPerps() {
		c.say(ctx, "No perp venue wired.")
		return
	}
	summary, err := c.reg.Perps.GetAccountSummary(ctx)
	if err != nil {
		c.say(ctx, "❌ Could not read perp account: "+err.Error())
		return
	}
	if len(summary.Positions) == 0 {
		c.say(ctx, "No perp positions open.")
		return
	}

	var closed int
	for _, pos := range summary.Positions {
		if c.cfg.DryRun {
			closed++
			continue
		}
		if _, err := c.reg.Perps.ClosePosition(ctx, pos.Coin, pos.SizeUsd, pos.IsShort); err != nil {
			c.log.Warn().Err(err).Str("coin", pos.Coin).Msg("Perp close failed")
			continue
		}
		closed++
	}
	c.say(ctx, fmt.Sprintf("%s Closed %d of %d perp position(s).", dryTag(c.cfg.DryRun), closed, len(summary.Positions)))
}

func (c *CFO) stake(ctx context.Context, args []string) {
	if !c.reg.HasStaking() {
		c.say(ctx, "No staking service wired.")
		return
	}
	amount, err := floatArg(args, 0)
	if err != nil {
		c.say(ctx, "Usage: cfo_stake <amountSol>")
		return
	}
	if c.cfg.DryRun {
		c.say(ctx, fmt.Sprintf("[DRY RUN] Would stake %.2f SOL.", amount))
		return
	}
	res, err := c.reg.Staking.StakeSol(ctx, amount)
	if err != nil {
		c.say(ctx, "❌ Stake failed: "+err.Error())
		return
	}
	c.say(ctx, fmt.Sprintf("✅ Staked %.2f SOL. Tx: %s", amount, res.TxID))
}

func (c *CFO) deposit(ctx context.Context, args []string) {
	if !c.reg.HasLending() {
		c.say(ctx, "No lending protocol wired.")
		return
	}
	if len(args) < 2 {
		c.say(ctx, "Usage: cfo_deposit <asset> <amount>")
		return
	}
	amount, err := floatArg(args, 1)
	if err != nil {
		c.say(ctx, "Usage: cfo_deposit <asset> <amount>")
		return
	}
	asset := args[0]
	if c.cfg.DryRun {
		c.say(ctx, fmt.Sprintf("[DRY RUN] Would deposit %.2f %s.", amount, asset))
		return
	}
	res, err := c.reg.Lending.Deposit(ctx, asset, amount)
	if err != nil {
		c.say(ctx, "❌ Deposit failed: "+err.Error())
		return
	}
	c.say(ctx, fmt.Sprintf("✅ Deposited %.2f %s. Tx: %s", amount, asset, res.TxID))
}

func (c *CFO) hedge(ctx context.Context, args []string) {
	if !c.reg.HasPerps() {
		c.say(ctx, "No perp venue wired.")
		return
	}
	exposure, err := floatArg(args, 0)
	if err != nil {
		c.say(ctx, "Usage: cfo_hedge <exposureUsd> <leverage>")
		return
	}
	leverage, err := floatArg(args, 1)
	if err != nil {
		leverage = 1
	}
	if c.cfg.DryRun {
		c.say(ctx, fmt.Sprintf("[DRY RUN] Would short $%.2f SOL at %.1fx.", exposure, leverage))
		return
	}
	res, err := c.reg.Perps.HedgeTreasury(ctx, collab.HedgeRequest{
		Coin:        "SOL",
		NotionalUsd: exposure,
		Leverage:    leverage,
	})
	if err != nil {
		c.say(ctx, "❌ Hedge failed: "+err.Error())
		return
	}
	c.say(ctx, fmt.Sprintf("✅ Hedged $%.2f at %.1fx. Tx: %s", exposure, leverage, res.TxID))
}

func (c *CFO) requestScoutIntel(ctx context.Context) {
	payload, err := bus.Encode(&bus.AdminCommand{Command: "scout_intel"})
	if err != nil {
		return
	}
	if err := c.SendMessage(ctx, agent.ScoutName, bus.TypeRequest, bus.PriorityMedium, payload, time.Hour); err != nil {
		c.say(ctx, "❌ Could not reach the scout: "+err.Error())
		return
	}
	c.say(ctx, "🔭 Asked the scout for fresh intel.")
}

// emergencyExit flattens everything that can be flattened immediately:
// perps, predictions, and lending loops. Dry-run mode only narrates.
func (c *CFO) emergencyExit(ctx context.Context) {
	c.say(ctx, "🚨 Emergency exit started.")
	c.closePerps(ctx)
	c.closePredictions(ctx)

	if c.reg.HasLending() {
		pos, err := c.reg.Lending.GetPosition(ctx)
		if err != nil {
			c.say(ctx, "❌ Could not read lending position: "+err.Error())
			return
		}
		for _, loop := range pos.ActiveLoops {
			if c.cfg.DryRun {
				continue
			}
			if _, err := c.reg.Lending.UnwindLstLoop(ctx, loop.Asset); err != nil {
				c.log.Warn().Err(err).Str("lst", loop.Asset).Msg("Loop unwind failed")
			}
		}
		if n := len(pos.ActiveLoops); n > 0 {
			c.say(ctx, fmt.Sprintf("%s Unwound %d lending loop(s).", dryTag(c.cfg.DryRun), n))
		}
	}
	c.say(ctx, "🚨 Emergency exit complete.")
}

// tell sends a structured cycle report to the supervisor.
func (c *CFO) tell(ctx context.Context, rep *bus.CycleReport) {
	payload, err := bus.Encode(rep)
	if err != nil {
		return
	}
	if err := c.ReportToSupervisor(ctx, bus.TypeReport, bus.PriorityMedium, payload); err != nil {
		c.log.Warn().Err(err).Msg("Failed to send cycle report")
	}
}

// say routes free-text operator feedback through the supervisor, which owns
// the admin sink.
func (c *CFO) say(ctx context.Context, text string) {
	c.tell(ctx, &bus.CycleReport{Summary: text})
}

func dryTag(dry bool) string {
	if dry {
		return "[DRY RUN]"
	}
	return "✅"
}

func floatArg(args []string, i int) (float64, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	v, err := strconv.ParseFloat(args[i], 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid argument %q", args[i])
	}
	return v, nil
}
