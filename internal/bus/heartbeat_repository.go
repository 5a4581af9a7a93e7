package bus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HeartbeatRepository handles agent liveness rows. Each agent owns exactly
// one row, rewritten on every beat; the health agent and the admin API read
// the table to find stale or dead agents.
type HeartbeatRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHeartbeatRepository creates a new heartbeat repository.
func NewHeartbeatRepository(db *sql.DB, log zerolog.Logger) *HeartbeatRepository {
	return &HeartbeatRepository{
		db:  db,
		log: log.With().Str("repository", "heartbeats").Logger(),
	}
}

// Beat upserts the liveness row for an agent.
//
// Parameters:
//   - name: Agent name
//   - status: Lifecycle status (validated)
//   - task: Free-form label for what the agent is doing right now
func (r *HeartbeatRepository) Beat(ctx context.Context, name string, status HeartbeatStatus, task string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid heartbeat status: %s", status)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_heartbeats (name, status, current_task, last_beat)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = excluded.status,
			current_task = excluded.current_task,
			last_beat = excluded.last_beat
	`, name, string(status), task, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record heartbeat for %s: %w", name, err)
	}
	return nil
}

// Get returns the heartbeat row for one agent, or nil if the agent has never
// beaten.
func (r *HeartbeatRepository) Get(ctx context.Context, name string) (*Heartbeat, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, status, current_task, last_beat FROM agent_heartbeats WHERE name = ?
	`, name)

	hb, err := scanHeartbeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get heartbeat for %s: %w", name, err)
	}
	return hb, nil
}

// List returns all heartbeat rows ordered by agent name.
func (r *HeartbeatRepository) List(ctx context.Context) ([]Heartbeat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, status, current_task, last_beat FROM agent_heartbeats ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	defer rows.Close()

	var beats []Heartbeat
	for rows.Next() {
		var hb Heartbeat
		var status string
		var lastBeat int64
		if err := rows.Scan(&hb.Name, &status, &hb.CurrentTask, &lastBeat); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan heartbeat row")
			continue
		}
		hb.Status = HeartbeatStatus(status)
		hb.LastBeat = time.Unix(lastBeat, 0).UTC()
		beats = append(beats, hb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating heartbeats: %w", err)
	}
	return beats, nil
}

// Stale returns agents whose last beat is older than the cutoff and that are
// not deliberately disabled. Used by the health agent's liveness sweep.
func (r *HeartbeatRepository) Stale(ctx context.Context, cutoff time.Time) ([]Heartbeat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, status, current_task, last_beat
		FROM agent_heartbeats
		WHERE last_beat < ? AND status != ?
		ORDER BY last_beat ASC
	`, cutoff.Unix(), string(StatusDisabled))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale heartbeats: %w", err)
	}
	defer rows.Close()

	var beats []Heartbeat
	for rows.Next() {
		var hb Heartbeat
		var status string
		var lastBeat int64
		if err := rows.Scan(&hb.Name, &status, &hb.CurrentTask, &lastBeat); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan stale heartbeat row")
			continue
		}
		hb.Status = HeartbeatStatus(status)
		hb.LastBeat = time.Unix(lastBeat, 0).UTC()
		beats = append(beats, hb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale heartbeats: %w", err)
	}
	return beats, nil
}

// MarkStatus overwrites the status of an agent's row without touching the
// beat time. The health agent uses it to flag dead agents.
func (r *HeartbeatRepository) MarkStatus(ctx context.Context, name string, status HeartbeatStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid heartbeat status: %s", status)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE agent_heartbeats SET status = ? WHERE name = ?
	`, string(status), name)
	if err != nil {
		return fmt.Errorf("failed to mark %s as %s: %w", name, status, err)
	}
	return nil
}

// DeleteStoppedBefore removes rows of dead or disabled agents whose last
// beat is older than the cutoff. Garbage collection only; live rows are
// never touched.
func (r *HeartbeatRepository) DeleteStoppedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM agent_heartbeats
		WHERE status IN (?, ?) AND last_beat < ?
	`, string(StatusDead), string(StatusDisabled), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stopped heartbeats: %w", err)
	}
	return res.RowsAffected()
}

// scanHeartbeat scans a heartbeat from a single-row query.
func scanHeartbeat(row *sql.Row) (*Heartbeat, error) {
	var hb Heartbeat
	var status string
	var lastBeat int64
	if err := row.Scan(&hb.Name, &status, &hb.CurrentTask, &lastBeat); err != nil {
		return nil, err
	}
	hb.Status = HeartbeatStatus(status)
	hb.LastBeat = time.Unix(lastBeat, 0).UTC()
	return &hb, nil
}
