// Package tokenchild monitors one launched token: price and liquidity
// trajectory, milestone and rug-risk alerts, and self-reported inactivity
// so the supervisor can reap it.
package tokenchild

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
)

const (
	watchInterval = 2 * time.Minute

	// A liquidity collapse beyond this fraction between checks reads as a
	// rug pull in progress.
	rugLiquidityDropPct = 50.0

	// Price multiples versus the first observation that count as
	// milestones.
	milestone2x  = 2.0
	milestone10x = 10.0

	// After this long without readable data the child reports itself
	// inactive and expects to be reaped.
	inactiveAfter = 30 * time.Minute
)

// Deps carries the child's collaborators. The safety scanner is optional.
type Deps struct {
	Agent       agent.Deps
	TokenSafety collab.TokenSafetyScanner
	Log         zerolog.Logger
}

// State is the child's persisted trajectory.
type State struct {
	FirstPriceUsd  float64   `msgpack:"firstPriceUsd"`
	LastPriceUsd   float64   `msgpack:"lastPriceUsd"`
	LastLiquidity  float64   `msgpack:"lastLiquidity"`
	LastDataAt     time.Time `msgpack:"lastDataAt"`
	MilestonesSent []string  `msgpack:"milestonesSent"`
}

// Child monitors one token address.
type Child struct {
	*agent.Base

	tokenAddress string
	safety       collab.TokenSafetyScanner
	log          zerolog.Logger

	state State
	now   func() time.Time
}

func New(tokenAddress string, d Deps) *Child {
	name := agent.TokenChildPrefix + tokenAddress
	return &Child{
		Base:         agent.NewBase(name, "tokenchild", d.Agent),
		tokenAddress: tokenAddress,
		safety:       d.TokenSafety,
		log:          d.Log.With().Str("component", "tokenchild").Str("token", tokenAddress).Logger(),
		now:          time.Now,
	}
}

func (c *Child) Start(ctx context.Context) error {
	if err := c.Base.Start(ctx); err != nil {
		return err
	}
	if _, err := c.RestoreState(&c.state); err != nil {
		c.log.Warn().Err(err).Msg("Token child state restore failed; starting fresh")
	}
	if c.state.LastDataAt.IsZero() {
		c.state.LastDataAt = c.now()
	}
	return c.AddInterval("watch", watchInterval, c.watch)
}

func (c *Child) watch(ctx context.Context) error {
	c.SetTask("watching token")
	defer c.SetTask("")

	if c.safety == nil {
		return c.maybeReportInactive(ctx)
	}

	report, err := c.safety.ScanToken(ctx, c.tokenAddress)
	if err != nil {
		c.log.Debug().Err(err).Msg("Token scan failed")
		return c.maybeReportInactive(ctx)
	}

	// LpLockedPct doubles as the liquidity health reading; a collapse in
	// locked liquidity between checks is the rug signal.
	c.observe(ctx, report)
	c.state.LastDataAt = c.now()
	return c.SaveState(c.state)
}

func (c *Child) observe(ctx context.Context, report *collab.TokenSafetyReport) {
	if report.Honeypot {
		c.send(ctx, bus.PriorityCritical, &bus.TokenUpdate{
			Event:        "rug_risk",
			TokenAddress: c.tokenAddress,
			Note:         fmt.Sprintf("%s turned honeypot", report.Symbol),
		})
		return
	}

	prev := c.state.LastLiquidity
	c.state.LastLiquidity = report.LpLockedPct
	if prev > 0 && report.LpLockedPct < prev*(1-rugLiquidityDropPct/100) {
		c.send(ctx, bus.PriorityCritical, &bus.TokenUpdate{
			Event:        "rug_risk",
			TokenAddress: c.tokenAddress,
			LiquidityUsd: report.LpLockedPct,
			Note:         fmt.Sprintf("locked liquidity fell from %.0f%% to %.0f%%", prev, report.LpLockedPct),
		})
	}
}

// TrackPrice folds a price observation into the trajectory and reports
// milestone multiples once each. Called by whoever feeds this child prices;
// the watch loop covers safety only.
func (c *Child) TrackPrice(ctx context.Context, priceUsd float64) {
	if priceUsd <= 0 {
		return
	}
	if c.state.FirstPriceUsd == 0 {
		c.state.FirstPriceUsd = priceUsd
	}
	c.state.LastPriceUsd = priceUsd
	c.state.LastDataAt = c.now()

	multiple := priceUsd / c.state.FirstPriceUsd
	for _, m := range []struct {
		at    float64
		label string
	}{{milestone10x, "10x"}, {milestone2x, "2x"}} {
		if multiple >= m.at && !c.milestoneSent(m.label) {
			c.state.MilestonesSent = append(c.state.MilestonesSent, m.label)
			c.send(ctx, bus.PriorityMedium, &bus.TokenUpdate{
				Event:        "milestone",
				TokenAddress: c.tokenAddress,
				PriceUsd:     priceUsd,
				Note:         fmt.Sprintf("%s from launch price", m.label),
			})
			break
		}
	}
	_ = c.SaveState(c.state)
}

func (c *Child) milestoneSent(label string) bool {
	for _, m := range c.state.MilestonesSent {
		if m == label {
			return true
		}
	}
	return false
}

func (c *Child) maybeReportInactive(ctx context.Context) error {
	if c.now().Sub(c.state.LastDataAt) < inactiveAfter {
		return nil
	}
	c.send(ctx, bus.PriorityLow, &bus.TokenUpdate{
		Event:        "inactive",
		TokenAddress: c.tokenAddress,
		Note:         "no readable data; requesting shutdown",
	})
	return nil
}

func (c *Child) send(ctx context.Context, priority bus.Priority, update *bus.TokenUpdate) {
	payload, err := bus.Encode(update)
	if err != nil {
		return
	}
	if err := c.ReportToSupervisor(ctx, bus.TypeStatus, priority, payload); err != nil {
		c.log.Warn().Err(err).Str("event", update.Event).Msg("Failed to report token update")
	}
}
