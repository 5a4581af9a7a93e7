package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/database"
	"github.com/MRT0B13/novaos/internal/decision"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/housekeeping"
	"github.com/MRT0B13/novaos/internal/learning"
	"github.com/MRT0B13/novaos/internal/ledger"
	"github.com/MRT0B13/novaos/internal/server"
	"github.com/MRT0B13/novaos/internal/supervisor"
)

// Container holds every constructed component. Fields are exported so the
// entry point and tests can reach individual pieces.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	SwarmDB  *database.DB
	LedgerDB *database.DB
	CacheDB  *database.DB

	Messages      *bus.MessageRepository
	Heartbeats    *bus.HeartbeatRepository
	Registrations *bus.RegistrationRepository
	State         *bus.StateRepository
	DecisionLog   *ledger.DecisionLogRepository
	Closed        *ledger.ClosedPositionRepository

	Events   *events.Bus
	Registry *collab.Registry
	Learner  *learning.Engine
	Engine   *decision.Engine

	Supervisor *supervisor.Supervisor
	Workers    []agent.Agent

	Server       *server.Server
	Housekeeping *housekeeping.Scheduler
}

// StartAgents brings up the supervisor first so worker reports always have
// a live consumer, then every worker.
func (c *Container) StartAgents(ctx context.Context) error {
	if err := c.Supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}
	for _, w := range c.Workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", w.Name(), err)
		}
	}
	c.Log.Info().Int("workers", len(c.Workers)).Msg("Swarm started")
	return nil
}

// StopAgents stops workers before the supervisor so in-flight reports can
// still land, then the supervisor reaps its children.
func (c *Container) StopAgents(ctx context.Context) {
	for _, w := range c.Workers {
		if err := w.Stop(ctx); err != nil {
			c.Log.Warn().Err(err).Str("agent", w.Name()).Msg("Agent stop failed")
		}
	}
	if err := c.Supervisor.Stop(ctx); err != nil {
		c.Log.Warn().Err(err).Msg("Supervisor stop failed")
	}
}

// Close releases the databases. Call after everything that uses them has
// stopped.
func (c *Container) Close() {
	for _, db := range []*database.DB{c.CacheDB, c.LedgerDB, c.SwarmDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			c.Log.Warn().Err(err).Str("database", db.Name()).Msg("Database close failed")
		}
	}
}
