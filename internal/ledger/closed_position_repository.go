package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// closedPositionColumns is the canonical column list for closed_positions
// queries. Keep in sync with scanClosedPosition.
const closedPositionColumns = "id, trace_id, strategy, venue, symbol, chain, pair, entry_usd, exit_usd, pnl_usd, opened_at, closed_at, metadata"

// ClosedPositionRepository handles realized trade outcomes in the ledger
// database. Every executed close writes one row here; the learning engine
// reads a rolling window to compute per-strategy performance.
//
// Timestamps are Unix seconds.
type ClosedPositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewClosedPositionRepository creates a new closed position repository.
//
// Parameters:
//   - db: Database connection to ledger.db
//   - log: Structured logger
//
// Returns:
//   - *ClosedPositionRepository: Initialized repository instance
func NewClosedPositionRepository(db *sql.DB, log zerolog.Logger) *ClosedPositionRepository {
	return &ClosedPositionRepository{
		db:  db,
		log: log.With().Str("repository", "closed_positions").Logger(),
	}
}

// Record persists one realized outcome. ClosedAt is stamped when zero and
// PnlUsd is derived from exit minus entry when left at zero.
func (r *ClosedPositionRepository) Record(ctx context.Context, p *ClosedPosition) error {
	if p.Strategy == "" {
		return fmt.Errorf("closed position requires a strategy")
	}
	if p.ClosedAt.IsZero() {
		p.ClosedAt = time.Now().UTC()
	}
	if p.PnlUsd == 0 && (p.EntryUsd != 0 || p.ExitUsd != 0) {
		p.PnlUsd = p.ExitUsd - p.EntryUsd
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for %s close: %w", p.Strategy, err)
	}

	var openedAt sql.NullInt64
	if p.OpenedAt != nil && !p.OpenedAt.IsZero() {
		openedAt = sql.NullInt64{Int64: p.OpenedAt.Unix(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO closed_positions (trace_id, strategy, venue, symbol, chain, pair, entry_usd, exit_usd, pnl_usd, opened_at, closed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.TraceID, p.Strategy, p.Venue, p.Symbol, p.Chain, p.Pair,
		p.EntryUsd, p.ExitUsd, p.PnlUsd, openedAt, p.ClosedAt.Unix(), string(metadataJSON))
	if err != nil {
		return fmt.Errorf("failed to record %s close: %w", p.Strategy, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}

	r.log.Info().
		Str("strategy", p.Strategy).
		Str("symbol", p.Symbol).
		Float64("pnl_usd", p.PnlUsd).
		Msg("Closed position recorded")
	return nil
}

// ListSince returns positions closed after the cutoff, oldest first. This is
// the learning engine's retrospective window.
func (r *ClosedPositionRepository) ListSince(ctx context.Context, since time.Time) ([]ClosedPosition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+closedPositionColumns+`
		FROM closed_positions
		WHERE closed_at >= ?
		ORDER BY closed_at ASC, id ASC
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list closed positions: %w", err)
	}
	defer rows.Close()

	return r.collectPositions(rows)
}

// ListByStrategySince returns one strategy's closes after the cutoff, oldest
// first.
func (r *ClosedPositionRepository) ListByStrategySince(ctx context.Context, strategy string, since time.Time) ([]ClosedPosition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+closedPositionColumns+`
		FROM closed_positions
		WHERE strategy = ? AND closed_at >= ?
		ORDER BY closed_at ASC, id ASC
	`, strategy, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s closed positions: %w", strategy, err)
	}
	defer rows.Close()

	return r.collectPositions(rows)
}

// SummarizeSince aggregates realized PnL over a window for briefings and the
// status endpoint. Best and worst are zero on an empty window.
func (r *ClosedPositionRepository) SummarizeSince(ctx context.Context, since time.Time) (*PnlSummary, error) {
	summary := &PnlSummary{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN pnl_usd > 0 THEN 1 ELSE 0 END),
			COALESCE(SUM(pnl_usd), 0),
			COALESCE(MAX(pnl_usd), 0),
			COALESCE(MIN(pnl_usd), 0)
		FROM closed_positions
		WHERE closed_at >= ?
	`, since.Unix()).Scan(
		&summary.Trades,
		&nullableCount{&summary.Wins},
		&summary.TotalPnlUsd,
		&summary.BestPnlUsd,
		&summary.WorstPnlUsd,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize closed positions: %w", err)
	}
	return summary, nil
}

// collectPositions drains a result set. Bad rows are logged and skipped.
func (r *ClosedPositionRepository) collectPositions(rows *sql.Rows) ([]ClosedPosition, error) {
	var positions []ClosedPosition
	for rows.Next() {
		p, err := scanClosedPosition(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan closed position row")
			continue
		}
		positions = append(positions, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closed positions: %w", err)
	}
	return positions, nil
}

// scanClosedPosition scans one row. Column order must match
// closedPositionColumns.
func scanClosedPosition(rows *sql.Rows) (*ClosedPosition, error) {
	var p ClosedPosition
	var openedAt sql.NullInt64
	var closedAt int64
	var metadataJSON string

	err := rows.Scan(&p.ID, &p.TraceID, &p.Strategy, &p.Venue, &p.Symbol, &p.Chain, &p.Pair,
		&p.EntryUsd, &p.ExitUsd, &p.PnlUsd, &openedAt, &closedAt, &metadataJSON)
	if err != nil {
		return nil, err
	}

	if openedAt.Valid {
		t := time.Unix(openedAt.Int64, 0).UTC()
		p.OpenedAt = &t
	}
	p.ClosedAt = time.Unix(closedAt, 0).UTC()

	if metadataJSON != "" && metadataJSON != "{}" {
		p.Metadata = make(map[string]interface{})
		if err := json.Unmarshal([]byte(metadataJSON), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for close %d: %w", p.ID, err)
		}
	}

	return &p, nil
}

// nullableCount scans a SUM() result that is NULL on an empty table.
type nullableCount struct {
	dst *int
}

func (n *nullableCount) Scan(src interface{}) error {
	if src == nil {
		*n.dst = 0
		return nil
	}
	switch v := src.(type) {
	case int64:
		*n.dst = int(v)
	case float64:
		*n.dst = int(v)
	default:
		return fmt.Errorf("unsupported count type %T", src)
	}
	return nil
}
