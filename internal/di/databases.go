// Package di wires the application: databases, repositories, the decision
// engine, the agent swarm, the admin server, and housekeeping.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/database"
)

// InitializeDatabases opens and migrates the three databases. Profiles
// match each database's role: the ledger favors durability, the cache
// favors speed.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (swarm, ledger, cache *database.DB, err error) {
	swarm, err = database.New(database.Config{
		Path:    cfg.DataDir + "/swarm.db",
		Profile: database.ProfileStandard,
		Name:    "swarm",
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize swarm database: %w", err)
	}

	ledger, err = database.New(database.Config{
		Path:    cfg.DataDir + "/ledger.db",
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		swarm.Close()
		return nil, nil, nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}

	cache, err = database.New(database.Config{
		Path:    cfg.DataDir + "/cache.db",
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		swarm.Close()
		ledger.Close()
		return nil, nil, nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}

	for _, db := range []*database.DB{swarm, ledger, cache} {
		if err := db.Migrate(); err != nil {
			swarm.Close()
			ledger.Close()
			cache.Close()
			return nil, nil, nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
		log.Info().Str("database", db.Name()).Str("path", db.Path()).Msg("Database ready")
	}
	return swarm, ledger, cache, nil
}
