package decision

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/ledger"
	"github.com/MRT0B13/novaos/internal/learning"
	"github.com/MRT0B13/novaos/internal/metrics"
)

// defaultExecDelay spaces sequential executions so the external venues never
// see a burst from one cycle.
const defaultExecDelay = 2 * time.Second

// AdaptiveSource serves the learned parameters each cycle consumes.
type AdaptiveSource interface {
	Current(ctx context.Context) *learning.AdaptiveParams
}

// Engine runs the gather -> consult -> assess -> decide -> execute cycle.
// One Engine exists per process; cycles are serialised by a non-blocking
// lock, so an overlapping trigger returns an empty, skipped outcome.
type Engine struct {
	cfg         *config.Config
	reg         *collab.Registry
	messages    *bus.MessageRepository
	decisionLog *ledger.DecisionLogRepository
	closed      *ledger.ClosedPositionRepository
	adaptive    AdaptiveSource
	events      *events.Bus
	log         zerolog.Logger

	cooldowns *CooldownTracker
	diversity *DiversityTracker
	approvals *ApprovalQueue

	cycleMu   sync.Mutex
	execDelay time.Duration
	now       func() time.Time
}

// Deps bundles what the engine needs at construction. Events may be nil.
type Deps struct {
	Config      *config.Config
	Registry    *collab.Registry
	Messages    *bus.MessageRepository
	DecisionLog *ledger.DecisionLogRepository
	Closed      *ledger.ClosedPositionRepository
	Adaptive    AdaptiveSource
	Events      *events.Bus
	Log         zerolog.Logger
}

// NewEngine wires a decision engine. The cooldown, diversity, and approval
// state all live inside the returned struct; nothing is package-global.
func NewEngine(d Deps) *Engine {
	log := d.Log.With().Str("component", "decision").Logger()
	return &Engine{
		cfg:         d.Config,
		reg:         d.Registry,
		messages:    d.Messages,
		decisionLog: d.DecisionLog,
		closed:      d.Closed,
		adaptive:    d.Adaptive,
		events:      d.Events,
		log:         log,
		cooldowns:   NewCooldownTracker(d.Config.DryRunCooldown),
		diversity:   NewDiversityTracker(72 * time.Hour),
		approvals:   NewApprovalQueue(d.Config.ApprovalExpiry, d.Log),
		execDelay:   defaultExecDelay,
		now:         time.Now,
	}
}

// Approvals exposes the pending-approval queue for the CFO agent and the
// admin API.
func (e *Engine) Approvals() *ApprovalQueue { return e.approvals }

// Cooldowns exposes the cooldown tracker for status reporting.
func (e *Engine) Cooldowns() *CooldownTracker { return e.cooldowns }

// Snapshot gathers a fresh portfolio view outside a cycle, for status and
// scan commands.
func (e *Engine) Snapshot(ctx context.Context) *TreasurySnapshot { return e.gather(ctx) }

// RunCycle executes one full decision cycle. Safe to call from a ticker and
// from admin commands at the same time: the second caller gets a skipped
// outcome immediately instead of blocking.
func (e *Engine) RunCycle(ctx context.Context) *CycleOutcome {
	if !e.cycleMu.TryLock() {
		e.log.Debug().Msg("Cycle already running; skipping overlapping trigger")
		return &CycleOutcome{Skipped: true, StartedAt: e.now()}
	}
	defer e.cycleMu.Unlock()

	started := e.now()
	outcome := &CycleOutcome{
		TraceID:   uuid.New().String(),
		StartedAt: started,
	}
	log := e.log.With().Str("trace_id", outcome.TraceID).Logger()
	log.Info().Msg("Decision cycle started")

	outcome.Snapshot = e.gather(ctx)
	outcome.Intel = e.consultSwarm(ctx, started)
	params := e.adaptive.Current(ctx)

	decisions := e.generate(ctx, outcome.Snapshot, outcome.Intel, params)
	for i, d := range decisions {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			e.sleep(ctx, e.execDelay)
		}
		result := e.execute(ctx, outcome.TraceID, d, outcome.Intel)
		outcome.Results = append(outcome.Results, result)
	}

	outcome.Duration = e.now().Sub(started)
	metrics.CycleDuration.Observe(outcome.Duration.Seconds())
	if e.events != nil {
		e.events.Publish(events.CycleCompleted, "decision", &events.CycleCompletedData{
			TraceID:    outcome.TraceID,
			Decisions:  len(outcome.Results),
			Executed:   outcome.ExecutedCount(),
			Failed:     outcome.FailedCount(),
			DurationMs: float64(outcome.Duration.Milliseconds()),
		})
	}

	log.Info().
		Int("decisions", len(outcome.Results)).
		Int("executed", outcome.ExecutedCount()).
		Int("failed", outcome.FailedCount()).
		Dur("duration", outcome.Duration).
		Msg("Decision cycle complete")
	return outcome
}

// Approve re-dispatches a queued decision with its tier forced to AUTO. The
// stored closure runs at most once.
func (e *Engine) Approve(ctx context.Context, id string) (*DecisionResult, error) {
	res, pending, err := e.approvals.Approve(ctx, id)
	metrics.ApprovalsPending.Set(float64(e.approvals.Len()))
	if err != nil {
		if pending == nil {
			return nil, err
		}
		// Expiry means the stored action never ran; any other error is a
		// venue failure after the action was dispatched.
		status, outcome := ledger.StatusFailed, "failed"
		if errors.Is(err, ErrApprovalExpired) {
			status, outcome = ledger.StatusExpired, "expired"
		}
		if e.events != nil {
			e.events.Publish(events.ApprovalResolved, "decision", &events.ApprovalResolvedData{ID: id, Outcome: outcome})
		}
		e.record(ctx, pending.TraceID, pending.Decision, nil, status, "", err.Error())
		return nil, err
	}
	if e.events != nil {
		e.events.Publish(events.ApprovalResolved, "decision", &events.ApprovalResolvedData{ID: id, Outcome: "approved"})
	}

	result := &DecisionResult{
		Decision: pending.Decision,
		TraceID:  pending.TraceID,
		Executed: true,
		Success:  true,
	}
	if res != nil {
		result.TxID = res.TxID
	}
	e.cooldowns.Mark(cooldownKeyFor(pending.Decision))
	e.record(ctx, pending.TraceID, pending.Decision, nil, ledger.StatusApproved, result.TxID, "")
	e.publishExecution(result)
	return result, nil
}

// Reject drops a queued decision without running it.
func (e *Engine) Reject(ctx context.Context, id string) (*PendingApproval, bool) {
	pending, ok := e.approvals.Reject(id)
	if !ok {
		return nil, false
	}
	if e.events != nil {
		e.events.Publish(events.ApprovalResolved, "decision", &events.ApprovalResolvedData{ID: id, Outcome: "rejected"})
	}
	metrics.ApprovalsPending.Set(float64(e.approvals.Len()))
	e.record(ctx, pending.TraceID, pending.Decision, nil, ledger.StatusRejected, "", "")
	return pending, true
}

// SweepApprovals expires stale queue entries. Armed as a 2-minute interval
// on the CFO agent.
func (e *Engine) SweepApprovals(ctx context.Context) {
	for _, p := range e.approvals.SweepExpired() {
		e.record(ctx, p.TraceID, p.Decision, nil, ledger.StatusExpired, "", "approval window elapsed")
		if e.events != nil {
			e.events.Publish(events.ApprovalResolved, "decision", &events.ApprovalResolvedData{ID: p.ID, Outcome: "expired"})
		}
	}
	metrics.ApprovalsPending.Set(float64(e.approvals.Len()))
}

// RestoreCooldowns seeds the live cooldown marks from the decision log so a
// restart cannot refire every strategy at once.
func (e *Engine) RestoreCooldowns(ctx context.Context) {
	for _, t := range []Type{
		TypeOpenHedge, TypeCloseHedge, TypeCloseLosing, TypeStakeSol, TypeUnstakeSol,
		TypePlacePolyBet, TypeOpenLstLoop, TypeOpenBorrowLoop, TypeOpenLp, TypeFlashArb,
	} {
		at, err := e.decisionLog.LastExecutedAt(ctx, string(t))
		if err != nil {
			e.log.Warn().Err(err).Str("type", string(t)).Msg("Cooldown restore query failed")
			continue
		}
		if at != nil {
			e.cooldowns.Seed(string(t), *at)
		}
	}
}

// sleep waits without outliving the context.
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// publishExecution emits the in-process event and counts the metric for one
// executed (or failed) decision.
func (e *Engine) publishExecution(r *DecisionResult) {
	outcome := "success"
	switch {
	case r.DryRun:
		outcome = "dry_run"
	case r.PendingApproval:
		outcome = "queued"
	case !r.Success:
		outcome = "failed"
	}
	metrics.DecisionsTotal.WithLabelValues(string(r.Decision.Type), string(r.Decision.Tier), outcome).Inc()

	if e.events != nil {
		e.events.Publish(events.DecisionExecuted, "decision", &events.DecisionExecutedData{
			TraceID:   r.TraceID,
			Type:      string(r.Decision.Type),
			Tier:      string(r.Decision.Tier),
			ImpactUsd: r.Decision.EstimatedImpactUsd,
			Success:   r.Success,
			DryRun:    r.DryRun,
			TxID:      r.TxID,
			Error:     r.Error,
		})
	}
}
