package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RegistrationRepository handles the agent registry. Agents upsert their row
// on every start, so re-registering after a crash or redeploy is a no-op
// apart from the updated timestamp.
type RegistrationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRegistrationRepository creates a new registration repository.
func NewRegistrationRepository(db *sql.DB, log zerolog.Logger) *RegistrationRepository {
	return &RegistrationRepository{
		db:  db,
		log: log.With().Str("repository", "registrations").Logger(),
	}
}

// Upsert registers an agent, updating the existing row when the name is
// already known. Idempotent.
func (r *RegistrationRepository) Upsert(ctx context.Context, reg *AgentRegistration) error {
	if reg.Name == "" {
		return errors.New("registration name is required")
	}

	cfg := reg.Config
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config for %s: %w", reg.Name, err)
	}

	enabled := 0
	if reg.Enabled {
		enabled = 1
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agent_registrations (name, type, enabled, config, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type,
			enabled = excluded.enabled,
			config = excluded.config,
			updated_at = excluded.updated_at
	`, reg.Name, reg.Type, enabled, string(cfgJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to register agent %s: %w", reg.Name, err)
	}
	return nil
}

// Get returns the registration for one agent, or nil when unknown.
func (r *RegistrationRepository) Get(ctx context.Context, name string) (*AgentRegistration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, type, enabled, config, updated_at FROM agent_registrations WHERE name = ?
	`, name)

	reg, err := scanRegistration(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registration for %s: %w", name, err)
	}
	return reg, nil
}

// List returns all registrations ordered by name.
func (r *RegistrationRepository) List(ctx context.Context) ([]AgentRegistration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, type, enabled, config, updated_at FROM agent_registrations ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var regs []AgentRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows.Scan)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan registration row")
			continue
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registrations: %w", err)
	}
	return regs, nil
}

// SetEnabled flips the enabled flag for an agent.
func (r *RegistrationRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE agent_registrations SET enabled = ?, updated_at = ? WHERE name = ?
	`, val, time.Now().Unix(), name)
	if err != nil {
		return fmt.Errorf("failed to set enabled=%v for %s: %w", enabled, name, err)
	}
	return nil
}

// Delete removes a registration. Used when tearing down token children so
// the registry does not accumulate one row per dead mint.
func (r *RegistrationRepository) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM agent_registrations WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete registration for %s: %w", name, err)
	}
	return nil
}

// scanRegistration scans a registration using the given scan function so the
// same code serves both QueryRow and Query paths.
func scanRegistration(scan func(dest ...interface{}) error) (*AgentRegistration, error) {
	var reg AgentRegistration
	var enabled int
	var cfgJSON string
	var updatedAt int64

	if err := scan(&reg.Name, &reg.Type, &enabled, &cfgJSON, &updatedAt); err != nil {
		return nil, err
	}

	reg.Enabled = enabled != 0
	reg.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	reg.Config = make(map[string]interface{})
	if cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), &reg.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config for %s: %w", reg.Name, err)
		}
	}
	return &reg, nil
}
