package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
)

// crashKeywords mark a high-priority guardian alert as treasury-relevant
// even below critical.
var crashKeywords = []string{"drain", "crash", "exploit", "depeg", "liquidat"}

func (s *Supervisor) registerDefaultHandlers() {
	s.RegisterHandler(agent.ScoutName, bus.TypeIntel, s.handleScoutIntel)
	s.RegisterHandler(agent.GuardianName, bus.TypeAlert, s.handleGuardianAlert)
	s.RegisterHandler(agent.AnalystName, bus.TypeIntel, s.handleAnalystIntel)
	s.RegisterHandler(agent.AnalystName, bus.TypeAlert, s.handleAnalystAlert)
	s.RegisterHandler(agent.LauncherName, bus.TypeStatus, s.handleLaunchEvent)
	s.RegisterHandler(agent.CommunityName, bus.TypeReport, s.handleCommunityReport)
	s.RegisterHandler(agent.HealthName, bus.TypeReport, s.handleHealthReport)
	s.RegisterHandler(agent.HealthName, bus.TypeCommand, s.handleHealthCommand)
	s.RegisterHandler(agent.CFOName, bus.TypeReport, s.handleCycleReport)

	// Token children have generated names; the wildcard catches them after
	// the exact launcher registration fails to match.
	s.RegisterHandler("*", bus.TypeStatus, s.handleTokenUpdate)
}

// handleScoutIntel runs narrative shifts through the outbound pipeline and
// forwards the raw intel to the CFO.
func (s *Supervisor) handleScoutIntel(ctx context.Context, m *bus.Message) error {
	data, ok := bus.Decode(m).(*bus.NarrativeShift)
	if !ok {
		s.log.Debug().Str("from", m.From).Msg("Unrecognised scout payload; ignored")
		return nil
	}

	if data.Summary != "" {
		s.publishNarrative(ctx, data.Summary)
	}
	return s.forwardToCFO(ctx, m)
}

// handleGuardianAlert escalates by priority: critical goes everywhere and
// reaches the CFO as a market_crash command; high with treasury-relevant
// keywords forwards quietly; the rest only log.
func (s *Supervisor) handleGuardianAlert(ctx context.Context, m *bus.Message) error {
	data, ok := bus.Decode(m).(*bus.SafetyAlert)
	if !ok {
		return nil
	}

	text := renderAlert(data)

	switch m.Priority {
	case bus.PriorityCritical:
		s.publishAdmin(ctx, "🚨 "+text)
		s.publishChannel(ctx, "🚨 "+text)

		cmd, err := bus.Encode(&bus.AdminCommand{Command: "market_crash"})
		if err != nil {
			return err
		}
		if err := s.SendMessage(ctx, agent.CFOName, bus.TypeCommand, bus.PriorityCritical, cmd, 0); err != nil {
			return fmt.Errorf("forward market_crash: %w", err)
		}
		return s.forwardToCFO(ctx, m)

	case bus.PriorityHigh:
		lower := strings.ToLower(data.Details)
		for _, kw := range crashKeywords {
			if strings.Contains(lower, kw) {
				s.publishAdmin(ctx, "⚠️ "+text)
				return s.forwardToCFO(ctx, m)
			}
		}
		s.log.Info().Str("details", data.Details).Msg("Guardian alert noted")
		return nil

	default:
		s.log.Debug().Str("details", data.Details).Msg("Low-priority guardian alert")
		return nil
	}
}

// renderAlert picks the renderer by alert category; a missing category uses
// the generic warning form.
func renderAlert(a *bus.SafetyAlert) string {
	switch a.Category {
	case "tvl_drain":
		return fmt.Sprintf("TVL drain: %s down %.1f%%. %s", a.Token, a.TvlDropPct, a.Details)
	case "liquidation_risk":
		return fmt.Sprintf("Liquidation risk: %s is %.1f%% from liquidation. %s", a.Token, a.LiquidationDistancePct, a.Details)
	case "token_safety":
		return fmt.Sprintf("Token safety: %s flagged. %s", a.Token, a.Details)
	default:
		if a.Token != "" {
			return fmt.Sprintf("Warning on %s: %s", a.Token, a.Details)
		}
		return "Warning: " + a.Details
	}
}

// handleAnalystIntel publishes a concise summary of snapshots and volume
// spikes to the channel and forwards the structured data to the CFO.
func (s *Supervisor) handleAnalystIntel(ctx context.Context, m *bus.Message) error {
	switch data := bus.Decode(m).(type) {
	case *bus.DefiSnapshot:
		s.publishChannel(ctx, fmt.Sprintf("📊 DeFi check: $%.0fM tracked TVL across %d pools.",
			data.TotalTvlUsd/1e6, data.PoolCount))
	case *bus.VolumeSpike:
		s.publishChannel(ctx, fmt.Sprintf("📈 %s volume running %.1fx its average.", data.Symbol, data.RatioToSma))
	case *bus.TokenPrices:
		// Price tables are CFO input, not channel content.
	default:
		s.log.Debug().Str("from", m.From).Msg("Unrecognised analyst intel; forwarded as-is")
	}
	return s.forwardToCFO(ctx, m)
}

// handleAnalystAlert publishes price alerts and forwards them.
func (s *Supervisor) handleAnalystAlert(ctx context.Context, m *bus.Message) error {
	if data, ok := bus.Decode(m).(*bus.PriceAlert); ok {
		arrow := "📈"
		if data.ChangePct < 0 {
			arrow = "📉"
		}
		s.publishChannel(ctx, fmt.Sprintf("%s %s moved %+.1f%% to $%.2f.", arrow, data.Symbol, data.ChangePct, data.PriceUsd))
	}
	return s.forwardToCFO(ctx, m)
}

// handleLaunchEvent announces launches and spawns a token child for each
// new mint.
func (s *Supervisor) handleLaunchEvent(ctx context.Context, m *bus.Message) error {
	data, ok := bus.Decode(m).(*bus.LaunchEvent)
	if !ok {
		return nil
	}

	switch data.Stage {
	case "graduated":
		s.publishChannel(ctx, fmt.Sprintf("🎓 %s (%s) graduated at $%.0f market cap.", data.Name, data.Symbol, data.MarketCapUsd))
	case "launched":
		s.publishChannel(ctx, fmt.Sprintf("🚀 New launch: %s (%s).", data.Name, data.Symbol))
	default:
		return nil
	}

	if data.TokenAddress == "" {
		return nil
	}
	return s.SpawnChild(ctx, data.TokenAddress)
}

// handleCommunityReport publishes engagement spikes; ban bursts get a
// moderation note.
func (s *Supervisor) handleCommunityReport(ctx context.Context, m *bus.Message) error {
	data, ok := bus.Decode(m).(*bus.CommunityReport)
	if !ok {
		return nil
	}

	if data.EngagementSpike && m.Priority == bus.PriorityHigh {
		text := "🔥 Community activity spiking."
		if data.Highlights != "" {
			text += " " + data.Highlights
		}
		s.publishChannel(ctx, text)
	}
	if data.Bans > 3 {
		s.publishAdmin(ctx, fmt.Sprintf("🛡️ Moderation: %d bans in the last %d minutes.", data.Bans, data.WindowMinutes))
	}
	return nil
}

// handleHealthReport surfaces degraded vitals to the admin channel.
func (s *Supervisor) handleHealthReport(ctx context.Context, m *bus.Message) error {
	data, ok := bus.Decode(m).(*bus.HealthReport)
	if !ok {
		return nil
	}

	if m.Priority == bus.PriorityHigh || m.Priority == bus.PriorityCritical {
		s.publishAdmin(ctx, fmt.Sprintf("🏥 Host under pressure: cpu %.0f%%, mem %.0f%%, disk %.0f%%, %d queued messages.",
			data.CpuPct, data.MemPct, data.DiskPct, data.BusPending))
	}
	if len(data.StaleAgents) > 0 {
		s.publishAdmin(ctx, "🏥 Stale agents: "+strings.Join(data.StaleAgents, ", "))
	}
	return nil
}

// handleHealthCommand executes swarm maintenance commands from the health
// agent, currently child deactivation.
func (s *Supervisor) handleHealthCommand(ctx context.Context, m *bus.Message) error {
	data, ok := bus.Decode(m).(*bus.AdminCommand)
	if !ok {
		return nil
	}

	if data.Command != "deactivate_child" || len(data.Args) == 0 {
		s.log.Debug().Str("command", data.Command).Msg("Unhandled health command")
		return nil
	}

	target := data.Args[0]
	// The health agent names agents, not mints; resolve through the child
	// map and fall back to treating the arg as an address.
	if addr, ok := s.childAddressFor(target); ok {
		target = addr
	}
	return s.DeactivateChild(ctx, target)
}

// handleCycleReport relays the CFO's cycle summary to the admin channel.
func (s *Supervisor) handleCycleReport(ctx context.Context, m *bus.Message) error {
	data, ok := bus.Decode(m).(*bus.CycleReport)
	if !ok {
		return nil
	}
	if data.Summary != "" {
		s.publishAdmin(ctx, data.Summary)
	}
	return nil
}

// handleTokenUpdate processes token-child observations: rug alerts escalate,
// milestones publish, inactivity deactivates the child.
func (s *Supervisor) handleTokenUpdate(ctx context.Context, m *bus.Message) error {
	if !strings.HasPrefix(m.From, agent.TokenChildPrefix) {
		s.log.Debug().Str("from", m.From).Msg("Status message from unknown sender; ignored")
		return nil
	}
	data, ok := bus.Decode(m).(*bus.TokenUpdate)
	if !ok {
		return nil
	}

	switch data.Event {
	case "rug_risk":
		s.publishAdmin(ctx, fmt.Sprintf("🚨 Rug risk on %s: %s", data.TokenAddress, data.Note))
	case "milestone":
		s.publishChannel(ctx, fmt.Sprintf("🏁 %s milestone: %s", data.TokenAddress, data.Note))
	case "inactive":
		s.log.Info().Str("token", data.TokenAddress).Msg("Token child reports inactivity; deactivating")
		return s.DeactivateChild(ctx, data.TokenAddress)
	}
	return nil
}

// forwardToCFO re-sends a worker message to the CFO so the decision engine
// sees the same intel the supervisor acted on.
func (s *Supervisor) forwardToCFO(ctx context.Context, m *bus.Message) error {
	if m.From == agent.CFOName {
		return nil
	}
	payload := make(map[string]interface{}, len(m.Payload)+1)
	for k, v := range m.Payload {
		payload[k] = v
	}
	payload["relayedFrom"] = m.From
	return s.SendMessage(ctx, agent.CFOName, m.Type, m.Priority, payload, 0)
}
