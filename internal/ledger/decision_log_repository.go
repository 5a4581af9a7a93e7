package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// decisionLogColumns is the canonical column list for decision_log queries.
// Keep in sync with scanDecisionRecord.
const decisionLogColumns = "id, trace_id, decision_type, tier, urgency, status, impact_usd, reason, tx_id, error, risk_multiplier, market_condition, dry_run, created_at"

var validStatuses = map[string]bool{
	StatusExecuted: true,
	StatusQueued:   true,
	StatusApproved: true,
	StatusRejected: true,
	StatusExpired:  true,
	StatusFailed:   true,
	StatusSkipped:  true,
	StatusDryRun:   true,
}

// DecisionLogRepository handles the decision audit trail in the ledger
// database. Rows are appended when the engine takes a decision; queued
// approval rows have their status updated as the approval resolves so the
// trail records what actually happened to each trace.
//
// Timestamps are Unix seconds.
type DecisionLogRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDecisionLogRepository creates a new decision log repository.
//
// Parameters:
//   - db: Database connection to ledger.db
//   - log: Structured logger
//
// Returns:
//   - *DecisionLogRepository: Initialized repository instance
func NewDecisionLogRepository(db *sql.DB, log zerolog.Logger) *DecisionLogRepository {
	return &DecisionLogRepository{
		db:  db,
		log: log.With().Str("repository", "decision_log").Logger(),
	}
}

// Append writes one decision outcome row. CreatedAt is stamped when zero and
// the generated row ID is written back into the record.
func (r *DecisionLogRepository) Append(ctx context.Context, rec *DecisionRecord) error {
	if rec.TraceID == "" {
		return fmt.Errorf("decision record requires a trace id")
	}
	if rec.DecisionType == "" {
		return fmt.Errorf("decision record requires a decision type")
	}
	if !validStatuses[rec.Status] {
		return fmt.Errorf("invalid decision status: %s", rec.Status)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.MarketCondition == "" {
		rec.MarketCondition = "neutral"
	}
	if rec.RiskMultiplier == 0 {
		rec.RiskMultiplier = 1.0
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO decision_log (trace_id, decision_type, tier, urgency, status, impact_usd, reason, tx_id, error, risk_multiplier, market_condition, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.TraceID, rec.DecisionType, rec.Tier, rec.Urgency, rec.Status, rec.ImpactUsd,
		rec.Reason, rec.TxID, rec.Error, rec.RiskMultiplier, rec.MarketCondition,
		boolToInt(rec.DryRun), rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append decision %s (%s): %w", rec.DecisionType, rec.TraceID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}

	r.log.Debug().
		Str("trace_id", rec.TraceID).
		Str("type", rec.DecisionType).
		Str("tier", rec.Tier).
		Str("status", rec.Status).
		Float64("impact_usd", rec.ImpactUsd).
		Msg("Decision logged")
	return nil
}

// UpdateOutcome moves the most recent row for a trace and decision type to a
// new status. The approval flow calls this twice per approved decision, first
// to approved and then to executed or failed after the deferred action ran.
//
// Returns:
//   - bool: Whether a row was updated
//   - error: Error if the status is invalid or the update fails
func (r *DecisionLogRepository) UpdateOutcome(ctx context.Context, traceID, decisionType, status, txID, errMsg string) (bool, error) {
	if !validStatuses[status] {
		return false, fmt.Errorf("invalid decision status: %s", status)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE decision_log
		SET status = ?, tx_id = CASE WHEN ? != '' THEN ? ELSE tx_id END, error = ?
		WHERE id = (
			SELECT id FROM decision_log
			WHERE trace_id = ? AND decision_type = ?
			ORDER BY id DESC LIMIT 1
		)
	`, status, txID, txID, errMsg, traceID, decisionType)
	if err != nil {
		return false, fmt.Errorf("failed to update decision %s (%s) to %s: %w", decisionType, traceID, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		r.log.Warn().
			Str("trace_id", traceID).
			Str("type", decisionType).
			Str("status", status).
			Msg("No decision row matched outcome update")
	}
	return n > 0, nil
}

// ListRecent returns the newest decision rows for the admin API.
func (r *DecisionLogRepository) ListRecent(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+decisionLogColumns+`
		FROM decision_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent decisions: %w", err)
	}
	defer rows.Close()

	return r.collectRecords(rows)
}

// ListByTrace returns every row written under one cycle trace, oldest first.
func (r *DecisionLogRepository) ListByTrace(ctx context.Context, traceID string) ([]DecisionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+decisionLogColumns+`
		FROM decision_log
		WHERE trace_id = ?
		ORDER BY id ASC
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions for trace %s: %w", traceID, err)
	}
	defer rows.Close()

	return r.collectRecords(rows)
}

// CountByStatusSince returns how many decisions landed on each status after
// the cutoff. Used by the briefing and the system status endpoint.
func (r *DecisionLogRepository) CountByStatusSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM decision_log
		WHERE created_at >= ?
		GROUP BY status
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan status count row")
			continue
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// CountExecutedByTypeSince returns how many decisions of one type executed
// after the cutoff. Dry runs count; the learning retrospective treats them
// as practice repetitions of the same behaviour.
func (r *DecisionLogRepository) CountExecutedByTypeSince(ctx context.Context, decisionType string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM decision_log
		WHERE decision_type = ? AND status IN (?, ?) AND created_at >= ?
	`, decisionType, StatusExecuted, StatusDryRun, since.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions of %s: %w", decisionType, err)
	}
	return n, nil
}

// LastExecutedAt returns when a decision of the given type last executed, or
// nil when it never has. Cooldown bootstrap after a restart reads this.
func (r *DecisionLogRepository) LastExecutedAt(ctx context.Context, decisionType string) (*time.Time, error) {
	var unix int64
	err := r.db.QueryRowContext(ctx, `
		SELECT created_at
		FROM decision_log
		WHERE decision_type = ? AND status IN (?, ?)
		ORDER BY created_at DESC
		LIMIT 1
	`, decisionType, StatusExecuted, StatusDryRun).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up last execution of %s: %w", decisionType, err)
	}
	t := time.Unix(unix, 0).UTC()
	return &t, nil
}

// collectRecords drains a result set. Bad rows are logged and skipped.
func (r *DecisionLogRepository) collectRecords(rows *sql.Rows) ([]DecisionRecord, error) {
	var records []DecisionRecord
	for rows.Next() {
		rec, err := scanDecisionRecord(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan decision row")
			continue
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return records, nil
}

// scanDecisionRecord scans one row. Column order must match
// decisionLogColumns.
func scanDecisionRecord(rows *sql.Rows) (*DecisionRecord, error) {
	var rec DecisionRecord
	var dryRun int
	var createdAt int64

	err := rows.Scan(&rec.ID, &rec.TraceID, &rec.DecisionType, &rec.Tier, &rec.Urgency,
		&rec.Status, &rec.ImpactUsd, &rec.Reason, &rec.TxID, &rec.Error,
		&rec.RiskMultiplier, &rec.MarketCondition, &dryRun, &createdAt)
	if err != nil {
		return nil, err
	}

	rec.DryRun = dryRun != 0
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
