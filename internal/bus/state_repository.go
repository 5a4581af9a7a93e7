package bus

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// StateRepository persists per-agent state blobs and the shared key/value
// store. Agent state (cooldowns, counters, dedup sets, recent post hashes) is
// msgpack-encoded so agents survive restarts with their working memory
// intact. The key/value side holds runtime overrides and audit entries as
// plain strings, taking precedence over environment variables.
type StateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStateRepository creates a new state repository.
func NewStateRepository(db *sql.DB, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		db:  db,
		log: log.With().Str("repository", "state").Logger(),
	}
}

// SaveState encodes the value with msgpack and upserts it under the agent's
// name. SaveState followed by RestoreState into the same type yields a
// structurally equal value.
func (r *StateRepository) SaveState(agentName string, v interface{}) error {
	blob, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", agentName, err)
	}

	_, err = r.db.Exec(`
		INSERT INTO agent_state (agent_name, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, agentName, blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", agentName, err)
	}
	return nil
}

// RestoreState decodes the stored blob into v. Returns false with no error
// when the agent has no saved state yet.
func (r *StateRepository) RestoreState(agentName string, v interface{}) (bool, error) {
	var blob []byte
	err := r.db.QueryRow(`SELECT state FROM agent_state WHERE agent_name = ?`, agentName).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load state for %s: %w", agentName, err)
	}

	if err := msgpack.Unmarshal(blob, v); err != nil {
		return false, fmt.Errorf("failed to decode state for %s: %w", agentName, err)
	}
	return true, nil
}

// DeleteState removes an agent's state blob. Used when token children are
// torn down for good.
func (r *StateRepository) DeleteState(agentName string) error {
	_, err := r.db.Exec(`DELETE FROM agent_state WHERE agent_name = ?`, agentName)
	if err != nil {
		return fmt.Errorf("failed to delete state for %s: %w", agentName, err)
	}
	return nil
}

// Get retrieves a key/value entry. Returns nil if the key doesn't exist
// (not an error).
func (r *StateRepository) Get(key string) (*string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return &value, nil
}

// Set upserts a key/value entry.
func (r *StateRepository) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// GetBool retrieves a key as a boolean. Returns nil when the key is absent
// so callers can distinguish "unset" from "false". Recognizes "true", "1",
// "yes", "on" as truthy.
func (r *StateRepository) GetBool(key string) (*bool, error) {
	value, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}

	truthy := *value == "true" || *value == "1" || *value == "yes" || *value == "on"
	return &truthy, nil
}

// SetBool stores a boolean as "true" or "false".
func (r *StateRepository) SetBool(key string, value bool) error {
	strVal := "false"
	if value {
		strVal = "true"
	}
	return r.Set(key, strVal)
}

// Delete removes a key. Idempotent.
func (r *StateRepository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM kv_store WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefixBefore removes keys under a prefix not updated since the
// cutoff. Garbage collection uses it to expire audit entries.
func (r *StateRepository) DeleteByPrefixBefore(prefix string, cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM kv_store WHERE key LIKE ? || '%' AND updated_at < ?
	`, prefix, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys under %s: %w", prefix, err)
	}
	return res.RowsAffected()
}
