package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/decision"
)

func TestCycle_MarksOutcomes(t *testing.T) {
	outcome := &decision.CycleOutcome{
		TraceID:  "abcdef1234567890",
		Duration: 1500 * time.Millisecond,
		Snapshot: &decision.TreasurySnapshot{TotalUsd: 12500, IdleUsd: 3000},
		Results: []decision.DecisionResult{
			{
				Decision: decision.Decision{Type: decision.TypeOpenHedge, Tier: decision.TierNotify, EstimatedImpactUsd: 150, Reasoning: "drift"},
				Executed: true, Success: true, TxID: "0xabc",
			},
			{
				Decision: decision.Decision{Type: decision.TypeStakeSol, Tier: decision.TierAuto, EstimatedImpactUsd: 40, Reasoning: "idle"},
				Executed: true, Success: false, Error: "rpc timeout",
			},
			{
				Decision:        decision.Decision{Type: decision.TypeOpenLstLoop, Tier: decision.TierApproval, EstimatedImpactUsd: 800, Reasoning: "spread"},
				PendingApproval: true, Success: true, ApprovalID: "ab12cd34",
			},
		},
	}

	text := Cycle(outcome)

	assert.Contains(t, text, "abcdef12")
	assert.Contains(t, text, "$12500.00 total")
	assert.Contains(t, text, "✅ OPEN_HEDGE $150.00 [NOTIFY]")
	assert.Contains(t, text, "executed 0xabc")
	assert.Contains(t, text, "❌ STAKE_SOL $40.00 [AUTO]")
	assert.Contains(t, text, "failed: rpc timeout")
	assert.Contains(t, text, "⏸️ OPEN_LST_LOOP $800.00 [APPROVAL]")
	assert.Contains(t, text, "awaiting approval (id ab12cd34)")
}

func TestCycle_EmptyCycle(t *testing.T) {
	outcome := &decision.CycleOutcome{TraceID: "t1", Snapshot: &decision.TreasurySnapshot{TotalUsd: 100}}
	assert.Contains(t, Cycle(outcome), "No action needed")
}

func TestCycle_DryRunMarkedPaused(t *testing.T) {
	outcome := &decision.CycleOutcome{
		TraceID: "t2",
		Results: []decision.DecisionResult{{
			Decision: decision.Decision{Type: decision.TypeOpenHedge, Tier: decision.TierAuto, EstimatedImpactUsd: 30},
			DryRun:   true, Success: true,
		}},
	}
	text := Cycle(outcome)
	assert.Contains(t, text, "⏸️")
	assert.Contains(t, text, "dry run")
}

func TestApprovalNotice(t *testing.T) {
	p := &decision.PendingApproval{
		ID:          "ab12cd34",
		Description: "[OPEN_HEDGE] SOL drift",
		AmountUsd:   300,
		ExpiresAt:   time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC),
	}
	text := ApprovalNotice(p)
	assert.Contains(t, text, "cfo_approve ab12cd34")
	assert.Contains(t, text, "$300.00")
	assert.Contains(t, text, "15:30")
}

func TestStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	text := Status(&StatusInput{
		Running: true,
		DryRun:  true,
		Snapshot: &decision.TreasurySnapshot{
			TotalUsd: 5000,
			IdleUsd:  1200,
			Stake:    &collab.StakePosition{StakedSol: 12.5},
		},
		PendingApprovals: []decision.PendingApproval{{ID: "x1", Description: "loop", AmountUsd: 500, ExpiresAt: now.Add(10 * time.Minute)}},
		Cooldowns:        map[string]time.Time{"OPEN_HEDGE_SOL": now.Add(-30 * time.Minute)},
		LastCycleAt:      now.Add(-5 * time.Minute),
		Now:              now,
	})

	assert.Contains(t, text, "running (dry run mode)")
	assert.Contains(t, text, "12.50 SOL staked")
	assert.Contains(t, text, "Last cycle: 5m0s ago")
	assert.Contains(t, text, "[x1] loop ($500.00)")
	assert.Contains(t, text, "OPEN_HEDGE_SOL (30m0s ago)")
}

func TestBriefing_CriticalListedRoutineCounted(t *testing.T) {
	in := &BriefingInput{
		ActiveAgents: []string{"nova-scout", "nova-guardian", "nova-cfo"},
		Critical: []BriefingItem{
			{From: "nova-guardian", Priority: "critical", Summary: "token XYZ liquidity pulled"},
			{From: "nova-guardian", Priority: "critical", Summary: "oracle deviation on SOL"},
		},
		RoutineCount: 10,
	}

	text := Briefing(in)

	assert.Contains(t, text, "token XYZ liquidity pulled")
	assert.Contains(t, text, "oracle deviation on SOL")
	assert.Contains(t, text, "10 routine updates processed")
	assert.Contains(t, text, "nova-scout, nova-guardian, nova-cfo")

	// Routine chatter stays aggregated, never itemised.
	assert.Equal(t, 1, strings.Count(text, "routine"))
}

func TestBriefing_StatsOptional(t *testing.T) {
	text := Briefing(&BriefingInput{
		RoutineCount: 3,
		Stats:        &BriefingStats{PnlTrades: 7, PnlUsd: 123.45},
	})
	assert.Contains(t, text, "7 trades, $123.45 realized")

	noStats := Briefing(&BriefingInput{RoutineCount: 3})
	assert.NotContains(t, noStats, "Stats:")
}

func TestCommunityBriefing(t *testing.T) {
	text := CommunityBriefing(&BriefingInput{
		ActiveAgents: []string{"a", "b"},
		Critical:     []BriefingItem{{Summary: "x"}},
		RoutineCount: 5,
	})
	assert.Contains(t, text, "2 agents online")
	assert.Contains(t, text, "6 signals processed")
	assert.Contains(t, text, "1 critical alert(s)")

	quiet := CommunityBriefing(&BriefingInput{})
	assert.Contains(t, quiet, "all quiet")
}
