package report

import (
	"fmt"
	"strings"
)

// BriefingItem is one piece of recent intel bucketed for the briefing.
type BriefingItem struct {
	From     string
	Priority string
	Summary  string
}

// BriefingStats carries the optional live numbers folded into a briefing.
// A nil pointer or zero field is simply omitted from the output.
type BriefingStats struct {
	TrendsTracked  int
	PnlTrades      int
	PnlUsd         float64
	DecisionsToday int
}

// BriefingInput is everything the supervisor gathered for one briefing.
type BriefingInput struct {
	ActiveAgents []string
	Critical     []BriefingItem
	Notable      []BriefingItem
	RoutineCount int
	Stats        *BriefingStats
}

// Briefing renders the admin-detail digest: active swarm, critical and
// notable items in full, routine traffic as one counter line.
func Briefing(in *BriefingInput) string {
	var b strings.Builder
	b.WriteString("📋 Swarm briefing\n")

	if len(in.ActiveAgents) > 0 {
		fmt.Fprintf(&b, "Active agents: %s\n", strings.Join(in.ActiveAgents, ", "))
	}

	if len(in.Critical) > 0 {
		b.WriteString("🚨 Critical:\n")
		for _, item := range in.Critical {
			fmt.Fprintf(&b, "  [%s] %s\n", item.From, item.Summary)
		}
	}
	if len(in.Notable) > 0 {
		b.WriteString("Notable:\n")
		for _, item := range in.Notable {
			fmt.Fprintf(&b, "  [%s] %s\n", item.From, item.Summary)
		}
	}
	if in.RoutineCount > 0 {
		fmt.Fprintf(&b, "%d routine updates processed\n", in.RoutineCount)
	}

	if s := in.Stats; s != nil {
		var stats []string
		if s.TrendsTracked > 0 {
			stats = append(stats, fmt.Sprintf("%d trends tracked", s.TrendsTracked))
		}
		if s.PnlTrades > 0 {
			stats = append(stats, fmt.Sprintf("%d trades, $%.2f realized", s.PnlTrades, s.PnlUsd))
		}
		if s.DecisionsToday > 0 {
			stats = append(stats, fmt.Sprintf("%d decisions today", s.DecisionsToday))
		}
		if len(stats) > 0 {
			fmt.Fprintf(&b, "Stats: %s\n", strings.Join(stats, " | "))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// CommunityBriefing renders the public-friendly digest: no agent internals,
// just the headline numbers and any critical heads-up.
func CommunityBriefing(in *BriefingInput) string {
	var b strings.Builder
	b.WriteString("🤖 NovaOS update: ")

	var parts []string
	if len(in.ActiveAgents) > 0 {
		parts = append(parts, fmt.Sprintf("%d agents online", len(in.ActiveAgents)))
	}
	if total := len(in.Critical) + len(in.Notable) + in.RoutineCount; total > 0 {
		parts = append(parts, fmt.Sprintf("%d signals processed", total))
	}
	if s := in.Stats; s != nil && s.PnlTrades > 0 {
		parts = append(parts, fmt.Sprintf("$%.2f realized over %d trades", s.PnlUsd, s.PnlTrades))
	}
	if len(parts) == 0 {
		parts = append(parts, "all quiet")
	}
	b.WriteString(strings.Join(parts, ", "))

	if len(in.Critical) > 0 {
		fmt.Fprintf(&b, ". ⚠️ %d critical alert(s) under review.", len(in.Critical))
	}
	return b.String()
}
