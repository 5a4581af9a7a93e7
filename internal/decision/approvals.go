package decision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/collab"
)

// ErrApprovalExpired marks an approval resolved after its expiry window.
// The stored action never ran; any other error out of Approve means it did.
var ErrApprovalExpired = errors.New("approval expired")

// ApprovalAction is the deferred execution of an approval-tier decision. It
// runs at most once, when the operator approves.
type ApprovalAction func(ctx context.Context) (*collab.OrderResult, error)

type approvalEntry struct {
	PendingApproval
	action ApprovalAction
}

// ApprovalQueue holds decisions waiting for an operator. Entries expire
// after the configured window; a sweeper drops them so stale intent can
// never execute against a market that has moved on.
type ApprovalQueue struct {
	mu      sync.Mutex
	entries map[string]*approvalEntry
	expiry  time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewApprovalQueue creates an empty queue with the given expiry window.
func NewApprovalQueue(expiry time.Duration, log zerolog.Logger) *ApprovalQueue {
	return &ApprovalQueue{
		entries: make(map[string]*approvalEntry),
		expiry:  expiry,
		now:     time.Now,
		log:     log.With().Str("component", "approval_queue").Logger(),
	}
}

// Queue stores a deferred decision and returns its pending record. The
// short id is what the operator passes back to cfo_approve.
func (q *ApprovalQueue) Queue(traceID string, d Decision, description string, action ApprovalAction) *PendingApproval {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	p := PendingApproval{
		ID:          uuid.New().String()[:8],
		Description: description,
		AmountUsd:   d.EstimatedImpactUsd,
		Decision:    d,
		TraceID:     traceID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(q.expiry),
	}
	q.entries[p.ID] = &approvalEntry{PendingApproval: p, action: action}

	q.log.Info().
		Str("id", p.ID).
		Str("type", string(d.Type)).
		Float64("amount_usd", p.AmountUsd).
		Time("expires_at", p.ExpiresAt).
		Msg("Decision queued for approval")
	return &p
}

// Approve removes the entry and runs its stored action exactly once.
// Unknown or expired ids return an error without side effects.
func (q *ApprovalQueue) Approve(ctx context.Context, id string) (*collab.OrderResult, *PendingApproval, error) {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if ok {
		delete(q.entries, id)
	}
	q.mu.Unlock()

	if !ok {
		return nil, nil, fmt.Errorf("no pending approval with id %s", id)
	}
	if q.now().After(entry.ExpiresAt) {
		q.log.Warn().Str("id", id).Msg("Approval arrived after expiry")
		return nil, &entry.PendingApproval, fmt.Errorf("approval %s expired at %s: %w", id, entry.ExpiresAt.Format(time.RFC3339), ErrApprovalExpired)
	}

	res, err := entry.action(ctx)
	return res, &entry.PendingApproval, err
}

// Reject removes an entry without running it.
func (q *ApprovalQueue) Reject(id string) (*PendingApproval, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[id]
	if !ok {
		return nil, false
	}
	delete(q.entries, id)
	q.log.Info().Str("id", id).Str("type", string(entry.Decision.Type)).Msg("Approval rejected")
	return &entry.PendingApproval, true
}

// List returns pending entries ordered oldest first.
func (q *ApprovalQueue) List() []PendingApproval {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]PendingApproval, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.PendingApproval)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of pending entries.
func (q *ApprovalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// SweepExpired drops entries past their deadline and returns them so the
// caller can log the expiry to the decision trail.
func (q *ApprovalQueue) SweepExpired() []PendingApproval {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var expired []PendingApproval
	for id, e := range q.entries {
		if now.After(e.ExpiresAt) {
			expired = append(expired, e.PendingApproval)
			delete(q.entries, id)
		}
	}
	for _, p := range expired {
		q.log.Info().
			Str("id", p.ID).
			Str("type", string(p.Decision.Type)).
			Float64("amount_usd", p.AmountUsd).
			Msg("Approval expired unactioned")
	}
	return expired
}
