// Package community summarises community-feed activity for the supervisor.
package community

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
)

const (
	checkInterval = 30 * time.Minute

	// engagementSpikeRatio is activity versus the previous window that
	// counts as a spike.
	engagementSpikeRatio = 2.0

	// banBurstCount inside banBurstWindow triggers a moderation report.
	banBurstCount  = 3
	banBurstWindow = 30 * time.Minute
)

// Community watches the feed and reports engagement spikes and ban bursts.
type Community struct {
	*agent.Base

	cfg *config.Config
	reg *collab.Registry
	log zerolog.Logger
}

func New(cfg *config.Config, reg *collab.Registry, deps agent.Deps) *Community {
	return &Community{
		Base: agent.NewBase(agent.CommunityName, "community", deps),
		cfg:  cfg,
		reg:  reg,
		log:  deps.Log.With().Str("component", "community").Logger(),
	}
}

func (c *Community) Start(ctx context.Context) error {
	if err := c.Base.Start(ctx); err != nil {
		return err
	}
	return c.AddInterval("check", checkInterval, c.check)
}

func (c *Community) check(ctx context.Context) error {
	if !c.reg.HasCommunity() {
		return nil
	}
	c.SetTask("reading community feed")
	defer c.SetTask("")

	activity, err := c.reg.Community.RecentActivity(ctx, checkInterval)
	if err != nil {
		c.log.Debug().Err(err).Msg("Community feed unavailable; check skipped")
		return nil
	}

	report := BuildReport(activity, time.Now())
	if report == nil {
		return nil
	}

	payload, err := bus.Encode(report)
	if err != nil {
		return err
	}

	priority := bus.PriorityLow
	if report.EngagementSpike || report.Bans > banBurstCount {
		priority = bus.PriorityHigh
	}
	return c.ReportToSupervisor(ctx, bus.TypeReport, priority, payload)
}

// BuildReport folds feed activity into a bus report. Returns nil when there
// is nothing worth reporting.
func BuildReport(a *collab.CommunityActivity, now time.Time) *bus.CommunityReport {
	report := &bus.CommunityReport{
		WindowMinutes: int(banBurstWindow / time.Minute),
	}

	if a.EngagementDelta >= engagementSpikeRatio && a.Messages > 0 {
		report.EngagementSpike = true
		report.Highlights = strings.Join(a.Highlights, " · ")
	}

	for _, ban := range a.Bans {
		if now.Sub(ban.At) <= banBurstWindow {
			report.Bans++
		}
	}

	if !report.EngagementSpike && report.Bans == 0 && a.Messages == 0 {
		return nil
	}
	return report
}
