package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// messagesColumns is the canonical column list for message queries.
// Keep in sync with scanMessage and scanMessageFromRows.
const messagesColumns = "id, from_agent, to_agent, type, priority, payload, acknowledged, acknowledged_at, expires_at, created_at"

// MessageRepository handles message bus database operations.
// Messages live in the swarm database and are the only channel agents use to
// talk to each other. Rows are written once, delivered until acknowledged,
// then retained for the audit window before garbage collection.
//
// Timestamps on messages are stored as Unix milliseconds so that delivery
// order inside a burst of sends stays stable.
type MessageRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewMessageRepository creates a new message repository.
//
// Parameters:
//   - db: Database connection to swarm.db
//   - log: Structured logger
//
// Returns:
//   - *MessageRepository: Initialized repository instance
func NewMessageRepository(db *sql.DB, log zerolog.Logger) *MessageRepository {
	return &MessageRepository{
		db:  db,
		log: log.With().Str("repository", "messages").Logger(),
	}
}

// Send persists a message for delivery. The ID is generated when empty and
// CreatedAt is stamped when zero, so callers normally fill only From, To,
// Type, Priority, Payload, and ExpiresAt.
//
// Returns:
//   - error: Validation error for unknown type/priority, or database error
func (r *MessageRepository) Send(ctx context.Context, m *Message) error {
	if !m.Type.Valid() {
		return fmt.Errorf("invalid message type: %s", m.Type)
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("invalid message priority: %s", m.Priority)
	}
	if m.To == "" {
		return errors.New("message recipient is required")
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	payload := m.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", m.ID, err)
	}

	var expiresAt sql.NullInt64
	if m.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: m.ExpiresAt.UnixMilli(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages (id, from_agent, to_agent, type, priority, priority_rank, payload, acknowledged, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, m.ID, m.From, m.To, string(m.Type), string(m.Priority), m.Priority.Rank(), string(payloadJSON), expiresAt, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to send message %s -> %s: %w", m.From, m.To, err)
	}

	r.log.Debug().
		Str("id", m.ID).
		Str("from", m.From).
		Str("to", m.To).
		Str("type", string(m.Type)).
		Str("priority", string(m.Priority)).
		Msg("Message enqueued")
	return nil
}

// Poll returns up to limit unacknowledged, unexpired messages addressed to
// the given agent, ordered by priority rank then creation time. Polling does
// not mark anything; delivery is at-least-once until Acknowledge commits.
//
// Parameters:
//   - to: Recipient agent name
//   - limit: Maximum number of rows to return
//
// Returns:
//   - []Message: Pending messages in delivery order (possibly empty)
//   - error: Error if query fails
func (r *MessageRepository) Poll(ctx context.Context, to string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messagesColumns+`
		FROM messages
		WHERE to_agent = ?
		  AND acknowledged = 0
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY priority_rank ASC, created_at ASC, seq ASC
		LIMIT ?
	`, to, time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to poll messages for %s: %w", to, err)
	}
	defer rows.Close()

	return r.collectMessages(rows)
}

// ListRecentFor returns messages addressed to an agent created after the
// given instant, regardless of acknowledgement. The decision engine uses this
// to read intel that the normal poll loop has already consumed.
func (r *MessageRepository) ListRecentFor(ctx context.Context, to string, since time.Time, limit int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messagesColumns+`
		FROM messages
		WHERE to_agent = ?
		  AND created_at >= ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, to, since.UnixMilli(), time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages for %s: %w", to, err)
	}
	defer rows.Close()

	return r.collectMessages(rows)
}

// Acknowledge marks a message as handled. Idempotent: acknowledging an
// unknown or already-acknowledged ID is not an error.
func (r *MessageRepository) Acknowledge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET acknowledged = 1, acknowledged_at = ?
		WHERE id = ? AND acknowledged = 0
	`, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", id, err)
	}
	return nil
}

// CountPending returns the number of undelivered messages for one agent.
func (r *MessageRepository) CountPending(ctx context.Context, to string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE to_agent = ? AND acknowledged = 0 AND (expires_at IS NULL OR expires_at > ?)
	`, to, time.Now().UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages for %s: %w", to, err)
	}
	return count, nil
}

// GetStats returns an aggregate snapshot of the bus for the admin API.
func (r *MessageRepository) GetStats(ctx context.Context) (*Stats, error) {
	now := time.Now().UnixMilli()
	stats := &Stats{PerAgent: make(map[string]int)}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN acknowledged = 0 AND (expires_at IS NULL OR expires_at > ?) THEN 1 ELSE 0 END),
			SUM(CASE WHEN acknowledged = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN acknowledged = 0 AND expires_at IS NOT NULL AND expires_at <= ? THEN 1 ELSE 0 END)
		FROM messages
	`, now, now).Scan(
		&nullableCount{&stats.Pending},
		&nullableCount{&stats.Acknowledged},
		&nullableCount{&stats.Expired},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate bus stats: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT to_agent, COUNT(*)
		FROM messages
		WHERE acknowledged = 0 AND (expires_at IS NULL OR expires_at > ?)
		GROUP BY to_agent
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate per-agent stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var agent string
		var count int
		if err := rows.Scan(&agent, &count); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan per-agent stat row")
			continue
		}
		stats.PerAgent[agent] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating per-agent stats: %w", err)
	}

	return stats, nil
}

// DeleteAckedBefore removes acknowledged messages older than the cutoff.
// Used by garbage collection after the audit retention window.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: Error if delete fails
func (r *MessageRepository) DeleteAckedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE acknowledged = 1 AND created_at < ?
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete acknowledged messages: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes messages whose TTL passed without delivery.
func (r *MessageRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired messages: %w", err)
	}
	return res.RowsAffected()
}

// collectMessages drains a result set into message structs. Rows that fail
// to scan are logged and skipped so one bad row cannot wedge a poll loop.
func (r *MessageRepository) collectMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		m, err := scanMessageFromRows(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan message row")
			continue
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// scanMessageFromRows scans a message from a multi-row result set.
// Column order must match messagesColumns.
func scanMessageFromRows(rows *sql.Rows) (*Message, error) {
	var m Message
	var msgType, priority, payloadJSON string
	var acknowledged int
	var ackedAt, expiresAt sql.NullInt64
	var createdAt int64

	err := rows.Scan(&m.ID, &m.From, &m.To, &msgType, &priority, &payloadJSON, &acknowledged, &ackedAt, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}

	m.Type = MessageType(msgType)
	m.Priority = Priority(priority)
	m.Acknowledged = acknowledged != 0
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	if ackedAt.Valid {
		t := time.UnixMilli(ackedAt.Int64).UTC()
		m.AcknowledgedAt = &t
	}
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64).UTC()
		m.ExpiresAt = &t
	}

	m.Payload = make(map[string]interface{})
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &m.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", m.ID, err)
		}
	}

	return &m, nil
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
