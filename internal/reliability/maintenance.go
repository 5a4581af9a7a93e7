package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/database"
)

// minFreeDiskBytes halts maintenance when the data volume is this low; a
// checkpoint or vacuum on a full disk can corrupt the WAL.
const minFreeDiskBytes = 500 * 1024 * 1024

// Maintenance runs the recurring database upkeep: integrity checks, WAL
// checkpoints, and periodic vacuums.
type Maintenance struct {
	databases map[string]*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenance creates a maintenance service over the given databases.
func NewMaintenance(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("component", "maintenance").Logger(),
	}
}

// Daily checks disk space, verifies each database, and truncates WALs.
// Integrity failures are returned; checkpoint failures are logged and
// skipped since the next pass retries them.
func (m *Maintenance) Daily(ctx context.Context) error {
	started := time.Now()
	m.log.Info().Msg("Starting daily maintenance")

	if err := m.checkDiskSpace(); err != nil {
		return err
	}

	for name, db := range m.databases {
		if err := db.QuickCheck(ctx); err != nil {
			m.log.Error().Err(err).Str("database", name).Msg("Integrity check failed")
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			m.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	m.log.Info().Dur("duration_ms", time.Since(started)).Msg("Daily maintenance completed")
	return nil
}

// Vacuum compacts every database. Run weekly; VACUUM rewrites the whole
// file and briefly doubles its disk footprint.
func (m *Maintenance) Vacuum(ctx context.Context) error {
	if err := m.checkDiskSpace(); err != nil {
		return err
	}
	for name, db := range m.databases {
		started := time.Now()
		if err := db.Vacuum(); err != nil {
			m.log.Warn().Err(err).Str("database", name).Msg("Vacuum failed")
			continue
		}
		m.log.Info().Str("database", name).Dur("duration_ms", time.Since(started)).Msg("Vacuum completed")
	}
	return nil
}

func (m *Maintenance) checkDiskSpace() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.dataDir, &stat); err != nil {
		m.log.Warn().Err(err).Msg("Could not stat data volume; skipping disk check")
		return nil
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFreeDiskBytes {
		return fmt.Errorf("insufficient disk space: %d MB free", free/1024/1024)
	}
	return nil
}
