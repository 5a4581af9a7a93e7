// Package report renders the swarm's human-facing text: cycle digests for
// the admin channel, approval notices, periodic briefings, and the status
// response. Everything here is a pure function over engine and agent state;
// callers own the I/O.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/MRT0B13/novaos/internal/decision"
)

// Outcome line markers.
const (
	markOk      = "✅"
	markFail    = "❌"
	markPending = "⏸️"
)

// Cycle renders one decision cycle for the admin channel: the portfolio
// summary followed by one outcome line per decision. An empty cycle renders
// a short no-action note so the operator still sees the heartbeat.
func Cycle(outcome *decision.CycleOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🧠 Decision cycle %s (%s)\n", shortTrace(outcome.TraceID), outcome.Duration.Round(time.Millisecond))
	if outcome.Snapshot != nil {
		b.WriteString(portfolioSummary(outcome.Snapshot))
	}

	if len(outcome.Results) == 0 {
		b.WriteString("No action needed this cycle.")
		return b.String()
	}

	fmt.Fprintf(&b, "Decisions (%d):\n", len(outcome.Results))
	for _, r := range outcome.Results {
		b.WriteString(decisionLine(&r))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// decisionLine renders one result with its outcome marker.
func decisionLine(r *decision.DecisionResult) string {
	var marker, note string
	switch {
	case r.PendingApproval:
		marker = markPending
		note = fmt.Sprintf("awaiting approval (id %s)", r.ApprovalID)
	case r.DryRun:
		marker = markPending
		note = "dry run"
	case r.Executed && r.Success:
		marker = markOk
		note = "executed"
		if r.TxID != "" {
			note = "executed " + r.TxID
		}
	case r.Executed:
		marker = markFail
		note = "failed: " + r.Error
	default:
		marker = markFail
		note = "skipped: " + r.Error
	}
	return fmt.Sprintf("%s %s $%.2f [%s] %s | %s",
		marker, r.Decision.Type, abs(r.Decision.EstimatedImpactUsd), r.Decision.Tier, r.Decision.Reasoning, note)
}

// Portfolio renders the treasury snapshot headline on its own, for the
// cfo_scan response.
func Portfolio(snap *decision.TreasurySnapshot) string {
	return strings.TrimRight(portfolioSummary(snap), "\n")
}

// portfolioSummary renders the treasury snapshot headline.
func portfolioSummary(snap *decision.TreasurySnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Portfolio: $%.2f total, $%.2f idle", snap.TotalUsd, snap.IdleUsd)
	if snap.Perp != nil && snap.Perp.TotalShortUsd > 0 {
		fmt.Fprintf(&b, ", $%.2f short", snap.Perp.TotalShortUsd)
	}
	if snap.Stake != nil && snap.Stake.StakedSol > 0 {
		fmt.Fprintf(&b, ", %.2f SOL staked", snap.Stake.StakedSol)
	}
	if n := len(snap.LpPositions); n > 0 {
		fmt.Fprintf(&b, ", %d LP position(s)", n)
	}
	if n := len(snap.Predictions); n > 0 {
		fmt.Fprintf(&b, ", %d prediction position(s)", n)
	}
	if len(snap.Errors) > 0 {
		fmt.Fprintf(&b, " (%d source(s) unreadable)", len(snap.Errors))
	}
	b.WriteByte('\n')
	return b.String()
}

// ApprovalNotice renders the operator prompt for one queued decision.
func ApprovalNotice(p *decision.PendingApproval) string {
	return fmt.Sprintf("🔐 Approval needed [%s]: %s ($%.2f)\nReply `cfo_approve %s` before %s.",
		p.ID, p.Description, p.AmountUsd, p.ID, p.ExpiresAt.Format("15:04 MST"))
}

// ApprovalExpired renders the notice for an unactioned approval.
func ApprovalExpired(p *decision.PendingApproval) string {
	return fmt.Sprintf("⌛ Approval %s expired unactioned: %s ($%.2f)", p.ID, p.Description, p.AmountUsd)
}

// StatusInput is what the CFO knows when asked for its status.
type StatusInput struct {
	Running          bool
	DryRun           bool
	Snapshot         *decision.TreasurySnapshot
	PendingApprovals []decision.PendingApproval
	Cooldowns        map[string]time.Time
	LastCycleAt      time.Time
	Now              time.Time
}

// Status renders the cfo_status response.
func Status(in *StatusInput) string {
	var b strings.Builder

	state := "running"
	if !in.Running {
		state = "stopped"
	}
	mode := "live"
	if in.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(&b, "💼 CFO %s (%s mode)\n", state, mode)

	if in.Snapshot != nil {
		b.WriteString(portfolioSummary(in.Snapshot))
	}
	if !in.LastCycleAt.IsZero() {
		fmt.Fprintf(&b, "Last cycle: %s ago\n", in.Now.Sub(in.LastCycleAt).Round(time.Second))
	}

	if len(in.PendingApprovals) > 0 {
		fmt.Fprintf(&b, "Pending approvals (%d):\n", len(in.PendingApprovals))
		for _, p := range in.PendingApprovals {
			fmt.Fprintf(&b, "  [%s] %s ($%.2f), expires %s\n",
				p.ID, p.Description, p.AmountUsd, p.ExpiresAt.Format("15:04"))
		}
	}

	if len(in.Cooldowns) > 0 {
		var active []string
		for key, at := range in.Cooldowns {
			active = append(active, fmt.Sprintf("%s (%s ago)", key, in.Now.Sub(at).Round(time.Minute)))
		}
		fmt.Fprintf(&b, "Active cooldowns: %s\n", strings.Join(active, ", "))
	}

	return strings.TrimRight(b.String(), "\n")
}

func shortTrace(traceID string) string {
	if len(traceID) > 8 {
		return traceID[:8]
	}
	return traceID
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
