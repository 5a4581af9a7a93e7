// Package guardian runs the swarm's safety watch: token scans on a
// watchlist, TVL drain detection on pools the treasury sits in, and a
// liquidation-distance check on the perp account.
package guardian

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
)

const (
	patrolInterval = 10 * time.Minute

	// tvlDrainWarnPct and tvlDrainCriticalPct are drops versus the last
	// observed TVL of a pool the treasury provides liquidity to.
	tvlDrainWarnPct     = 20.0
	tvlDrainCriticalPct = 40.0

	// Token safety thresholds.
	minLpLockedPct  = 50.0
	maxTopHolderPct = 30.0

	// Repeat alerts for the same finding are suppressed for this long.
	alertRepeatWindow = time.Hour
)

// State persists the watchlist and the TVL baseline between restarts.
type State struct {
	Watchlist    []string             `msgpack:"watchlist"`
	PoolTvl      map[string]float64   `msgpack:"poolTvl"`      // pair -> last observed TVL
	LastAlertAt  map[string]time.Time `msgpack:"lastAlertAt"`  // alert key -> time
	AlertsRaised int                  `msgpack:"alertsRaised"`
}

// Guardian is the safety agent.
type Guardian struct {
	*agent.Base

	cfg *config.Config
	reg *collab.Registry
	log zerolog.Logger

	state State
	now   func() time.Time
}

func New(cfg *config.Config, reg *collab.Registry, deps agent.Deps) *Guardian {
	return &Guardian{
		Base: agent.NewBase(agent.GuardianName, "guardian", deps),
		cfg:  cfg,
		reg:  reg,
		log:  deps.Log.With().Str("component", "guardian").Logger(),
		now:  time.Now,
	}
}

func (g *Guardian) Start(ctx context.Context) error {
	if err := g.Base.Start(ctx); err != nil {
		return err
	}
	if _, err := g.RestoreState(&g.state); err != nil {
		g.log.Warn().Err(err).Msg("Guardian state restore failed; starting fresh")
	}
	if g.state.PoolTvl == nil {
		g.state.PoolTvl = make(map[string]float64)
	}
	if g.state.LastAlertAt == nil {
		g.state.LastAlertAt = make(map[string]time.Time)
	}

	if err := g.AddInterval("patrol", patrolInterval, g.patrol); err != nil {
		return err
	}
	return g.AddInterval("inbox", g.cfg.PollInterval, g.pollInbox)
}

// patrol runs all three checks; each degrades independently when its
// collaborator is missing or erroring.
func (g *Guardian) patrol(ctx context.Context) error {
	g.SetTask("patrolling")
	defer g.SetTask("")

	g.checkLiquidationDistance(ctx)
	g.checkTvlDrain(ctx)
	g.scanWatchlist(ctx)

	_ = g.SaveState(g.state)
	return nil
}

// checkLiquidationDistance alerts when any perp position sits inside the
// configured warning band. Inside half the band the alert goes critical.
func (g *Guardian) checkLiquidationDistance(ctx context.Context) {
	if !g.reg.HasPerps() {
		return
	}
	summary, err := g.reg.Perps.GetAccountSummary(ctx)
	if err != nil {
		g.log.Debug().Err(err).Msg("Perp summary unavailable; liquidation check skipped")
		return
	}

	for _, pos := range summary.Positions {
		dist := pos.LiquidationDistancePct()
		if dist >= g.cfg.HlLiquidationWarningPct {
			continue
		}

		priority := bus.PriorityHigh
		if dist < g.cfg.HlLiquidationWarningPct/2 {
			priority = bus.PriorityCritical
		}
		g.raise(ctx, "liq:"+pos.Coin, priority, &bus.SafetyAlert{
			Category:               "liquidation_risk",
			Token:                  pos.Coin,
			LiquidationDistancePct: dist,
			Details: fmt.Sprintf("%s position ($%.0f) is %.1f%% from liquidation at $%.2f",
				pos.Coin, pos.SizeUsd, dist, pos.LiquidationPx),
		})
	}
}

// checkTvlDrain compares the discovered TVL of every pool the treasury has
// an LP position in against the last patrol's baseline.
func (g *Guardian) checkTvlDrain(ctx context.Context) {
	pairs := g.treasuryPairs(ctx)
	if len(pairs) == 0 {
		return
	}

	for venueName, venue := range g.reg.LpVenues {
		if venue == nil {
			continue
		}
		pools, err := venue.DiscoverPools(ctx, collab.DiscoverRequest{MaxPools: 50})
		if err != nil {
			g.log.Debug().Err(err).Str("venue", venueName).Msg("Pool discovery failed; drain check skipped")
			continue
		}
		for _, pool := range pools {
			if _, held := pairs[pool.Pair]; !held {
				continue
			}
			g.compareTvl(ctx, pool.Pair, pool.TvlUsd)
		}
	}
}

func (g *Guardian) compareTvl(ctx context.Context, pair string, tvlUsd float64) {
	prev, seen := g.state.PoolTvl[pair]
	g.state.PoolTvl[pair] = tvlUsd
	if !seen || prev <= 0 {
		return
	}

	dropPct := (prev - tvlUsd) / prev * 100
	if dropPct < tvlDrainWarnPct {
		return
	}

	priority := bus.PriorityHigh
	if dropPct >= tvlDrainCriticalPct {
		priority = bus.PriorityCritical
	}
	g.raise(ctx, "tvl:"+pair, priority, &bus.SafetyAlert{
		Category:   "tvl_drain",
		Token:      pair,
		TvlDropPct: dropPct,
		Details:    fmt.Sprintf("%s pool TVL fell %.1f%% since last patrol ($%.0f -> $%.0f)", pair, dropPct, prev, tvlUsd),
	})
}

// treasuryPairs collects the pairs we currently provide liquidity to.
func (g *Guardian) treasuryPairs(ctx context.Context) map[string]struct{} {
	pairs := make(map[string]struct{})
	for venueName, venue := range g.reg.LpVenues {
		if venue == nil {
			continue
		}
		positions, err := venue.GetPositions(ctx)
		if err != nil {
			g.log.Debug().Err(err).Str("venue", venueName).Msg("LP positions unavailable")
			continue
		}
		for _, p := range positions {
			pairs[p.Pair] = struct{}{}
		}
	}
	return pairs
}

// scanWatchlist runs the token safety scanner over every watched address.
func (g *Guardian) scanWatchlist(ctx context.Context) {
	if !g.reg.HasTokenSafety() || len(g.state.Watchlist) == 0 {
		return
	}

	for _, addr := range g.state.Watchlist {
		report, err := g.reg.TokenSafety.ScanToken(ctx, addr)
		if err != nil {
			g.log.Debug().Err(err).Str("address", addr).Msg("Token scan failed")
			continue
		}
		if finding := assessToken(report); finding != "" {
			g.raise(ctx, "token:"+addr, bus.PriorityHigh, &bus.SafetyAlert{
				Category: "token_safety",
				Token:    report.Symbol,
				Details:  finding,
			})
		}
	}
}

// assessToken returns a human-readable finding, or "" when the token looks
// fine.
func assessToken(r *collab.TokenSafetyReport) string {
	switch {
	case r.Honeypot:
		return fmt.Sprintf("%s flagged as honeypot", r.Symbol)
	case !r.Safe:
		reason := "scanner marked unsafe"
		if len(r.Flags) > 0 {
			reason = strings.Join(r.Flags, ", ")
		}
		return fmt.Sprintf("%s: %s", r.Symbol, reason)
	case r.LpLockedPct < minLpLockedPct:
		return fmt.Sprintf("%s has only %.0f%% of LP locked", r.Symbol, r.LpLockedPct)
	case r.TopHolderPct > maxTopHolderPct:
		return fmt.Sprintf("%s top holder controls %.0f%% of supply", r.Symbol, r.TopHolderPct)
	}
	return ""
}

// raise sends one safety alert, suppressing repeats of the same finding
// inside the repeat window.
func (g *Guardian) raise(ctx context.Context, key string, priority bus.Priority, alert *bus.SafetyAlert) {
	if last, ok := g.state.LastAlertAt[key]; ok && g.now().Sub(last) < alertRepeatWindow {
		return
	}

	payload, err := bus.Encode(alert)
	if err != nil {
		return
	}
	if err := g.ReportToSupervisor(ctx, bus.TypeAlert, priority, payload); err != nil {
		g.log.Warn().Err(err).Str("category", alert.Category).Msg("Failed to send safety alert")
		return
	}

	g.state.LastAlertAt[key] = g.now()
	g.state.AlertsRaised++
	g.log.Info().
		Str("category", alert.Category).
		Str("priority", string(priority)).
		Str("details", alert.Details).
		Msg("Safety alert raised")
}

// pollInbox handles watchlist management commands.
func (g *Guardian) pollInbox(ctx context.Context) error {
	msgs, err := g.ReadMessages(ctx, 10)
	if err != nil {
		return err
	}

	for i := range msgs {
		m := &msgs[i]
		if cmd, ok := bus.Decode(m).(*bus.AdminCommand); ok {
			g.handleCommand(cmd)
		}
		if err := g.AcknowledgeMessage(ctx, m.ID); err != nil {
			g.log.Warn().Err(err).Str("id", m.ID).Msg("Failed to ack message")
		}
	}
	return nil
}

func (g *Guardian) handleCommand(cmd *bus.AdminCommand) {
	if len(cmd.Args) == 0 {
		return
	}
	addr := cmd.Args[0]

	switch cmd.Command {
	case "watch_token":
		for _, w := range g.state.Watchlist {
			if w == addr {
				return
			}
		}
		g.state.Watchlist = append(g.state.Watchlist, addr)
		_ = g.SaveState(g.state)
		g.log.Info().Str("address", addr).Msg("Token added to watchlist")
	case "unwatch_token":
		for i, w := range g.state.Watchlist {
			if w == addr {
				g.state.Watchlist = append(g.state.Watchlist[:i], g.state.Watchlist[i+1:]...)
				_ = g.SaveState(g.state)
				g.log.Info().Str("address", addr).Msg("Token removed from watchlist")
				return
			}
		}
	}
}
