package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/report"
)

const (
	briefingMessageLimit = 200
	dedupPrefixLen       = 100
)

// sendBriefing assembles the periodic swarm digest from heartbeats and the
// intel received since the last briefing, then posts the detailed form to
// the admin channel and the public form to the community channel.
func (s *Supervisor) sendBriefing(ctx context.Context) error {
	s.mu.Lock()
	since := s.state.LastBriefingAt
	processed := s.state.MessagesProcessed
	s.mu.Unlock()

	now := s.now()
	if since.IsZero() {
		since = now.Add(-s.cfg.BriefingInterval)
	}

	in := &report.BriefingInput{}

	beats, err := s.Heartbeats().List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Heartbeat list failed; briefing without roster")
	}
	for _, hb := range beats {
		if hb.Status == bus.StatusAlive || hb.Status == bus.StatusDegraded {
			in.ActiveAgents = append(in.ActiveAgents, hb.Name)
		}
	}

	msgs, err := s.Messages().ListRecentFor(ctx, agent.SupervisorName, since, briefingMessageLimit)
	if err != nil {
		s.log.Warn().Err(err).Msg("Recent message list failed; briefing without intel")
	}

	trends := map[string]struct{}{}
	seen := map[string]struct{}{}
	for i := range msgs {
		m := &msgs[i]
		summary := summarizeForBriefing(m)
		if m.From == agent.ScoutName && summary != "" {
			trends[dedupKey(summary)] = struct{}{}
		}
		if m.Priority != bus.PriorityCritical && m.Priority != bus.PriorityHigh {
			in.RoutineCount++
			continue
		}
		if summary == "" {
			continue
		}

		key := m.From + "|" + dedupKey(summary)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		item := report.BriefingItem{From: m.From, Priority: string(m.Priority), Summary: summary}
		switch m.Priority {
		case bus.PriorityCritical:
			in.Critical = append(in.Critical, item)
		case bus.PriorityHigh:
			in.Notable = append(in.Notable, item)
		}
	}

	in.Stats = s.briefingStats(ctx, len(trends))

	s.publishAdmin(ctx, report.Briefing(in))
	s.publishChannel(ctx, report.CommunityBriefing(in))

	if s.events != nil {
		s.events.Publish(events.BriefingSent, "supervisor", &events.BriefingSentData{
			ActiveAgents: len(in.ActiveAgents),
			IntelItems:   len(in.Critical) + len(in.Notable),
			Processed:    processed,
		})
	}

	s.mu.Lock()
	s.state.LastBriefingAt = now
	s.state.MessagesProcessed = 0
	s.persistState()
	s.mu.Unlock()
	return nil
}

// briefingStats folds in realized PnL over the last day when a closed
// position ledger is wired. Zero stats render as nothing downstream.
func (s *Supervisor) briefingStats(ctx context.Context, trends int) *report.BriefingStats {
	stats := &report.BriefingStats{TrendsTracked: trends}
	if s.closed == nil {
		return stats
	}
	sum, err := s.closed.SummarizeSince(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		s.log.Warn().Err(err).Msg("PnL summary failed; briefing without trade stats")
		return stats
	}
	stats.PnlTrades = sum.Trades
	stats.PnlUsd = sum.TotalPnlUsd
	return stats
}

// summarizeForBriefing turns a bus message into one digest line.
func summarizeForBriefing(m *bus.Message) string {
	switch data := bus.Decode(m).(type) {
	case *bus.NarrativeShift:
		return data.Summary
	case *bus.SafetyAlert:
		return renderAlert(data)
	case *bus.PriceAlert:
		return fmt.Sprintf("%s %+.1f%% to $%.2f", data.Symbol, data.ChangePct, data.PriceUsd)
	case *bus.VolumeSpike:
		return fmt.Sprintf("%s volume at %.1fx average", data.Symbol, data.RatioToSma)
	case *bus.DefiSnapshot:
		return fmt.Sprintf("DeFi TVL tracked: $%.0fM", data.TotalTvlUsd/1e6)
	case *bus.LaunchEvent:
		return fmt.Sprintf("%s %s (%s)", data.Stage, data.Name, data.Symbol)
	case *bus.CycleReport:
		return fmt.Sprintf("cycle %s: %d decisions, %d executed", data.TraceID, data.Decisions, data.Executed)
	case *bus.HealthReport:
		return fmt.Sprintf("host cpu %.0f%% mem %.0f%%", data.CpuPct, data.MemPct)
	case *bus.TokenUpdate:
		return fmt.Sprintf("%s: %s", data.TokenAddress, data.Event)
	case *bus.Generic:
		if v, ok := data.Fields["summary"].(string); ok {
			return v
		}
		return ""
	default:
		return ""
	}
}

// dedupKey normalises a summary so restated intel collapses to one item.
func dedupKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > dedupPrefixLen {
		s = s[:dedupPrefixLen]
	}
	return s
}
