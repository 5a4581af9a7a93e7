package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/agents/analyst"
	"github.com/MRT0B13/novaos/internal/agents/cfo"
	"github.com/MRT0B13/novaos/internal/agents/community"
	"github.com/MRT0B13/novaos/internal/agents/guardian"
	"github.com/MRT0B13/novaos/internal/agents/health"
	"github.com/MRT0B13/novaos/internal/agents/launcher"
	"github.com/MRT0B13/novaos/internal/agents/scout"
	"github.com/MRT0B13/novaos/internal/agents/tokenchild"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/database"
	"github.com/MRT0B13/novaos/internal/decision"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/housekeeping"
	"github.com/MRT0B13/novaos/internal/learning"
	"github.com/MRT0B13/novaos/internal/ledger"
	"github.com/MRT0B13/novaos/internal/reliability"
	"github.com/MRT0B13/novaos/internal/server"
	"github.com/MRT0B13/novaos/internal/supervisor"
)

// Build constructs the full object graph. The registry carries whatever
// collaborators the deployment wires; nil fields disable their features.
func Build(ctx context.Context, cfg *config.Config, registry *collab.Registry, log zerolog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Log: log, Registry: registry}

	var err error
	c.SwarmDB, c.LedgerDB, c.CacheDB, err = InitializeDatabases(cfg, log)
	if err != nil {
		return nil, err
	}

	swarmConn := c.SwarmDB.Conn()
	c.Messages = bus.NewMessageRepository(swarmConn, log)
	c.Heartbeats = bus.NewHeartbeatRepository(swarmConn, log)
	c.Registrations = bus.NewRegistrationRepository(swarmConn, log)
	c.State = bus.NewStateRepository(swarmConn, log)

	ledgerConn := c.LedgerDB.Conn()
	c.DecisionLog = ledger.NewDecisionLogRepository(ledgerConn, log)
	c.Closed = ledger.NewClosedPositionRepository(ledgerConn, log)

	// Operator toggles persisted in the swarm database override the env.
	if err := cfg.UpdateFromState(c.State); err != nil {
		log.Warn().Err(err).Msg("Could not apply persisted config overrides")
	}

	c.Events = events.NewBus(log)
	agentDeps := agent.Deps{
		Messages:       c.Messages,
		Heartbeats:     c.Heartbeats,
		Registrations:  c.Registrations,
		State:          c.State,
		Events:         c.Events,
		HeartbeatEvery: cfg.HeartbeatInterval,
		Log:            log,
	}

	c.Learner = learning.NewEngine(c.Closed, c.State, log)
	c.Engine = decision.NewEngine(decision.Deps{
		Config:      cfg,
		Registry:    registry,
		Messages:    c.Messages,
		DecisionLog: c.DecisionLog,
		Closed:      c.Closed,
		Adaptive:    c.Learner,
		Events:      c.Events,
		Log:         log,
	})

	c.Workers = []agent.Agent{
		scout.New(cfg, registry, agentDeps),
		guardian.New(cfg, registry, agentDeps),
		analyst.New(cfg, registry, agentDeps),
		community.New(cfg, registry, agentDeps),
		launcher.New(cfg, registry, agentDeps),
		health.New(cfg, agentDeps),
		cfo.New(cfo.Deps{
			Agent:    agentDeps,
			Config:   cfg,
			Registry: registry,
			Engine:   c.Engine,
			Learner:  c.Learner,
			Log:      log,
		}),
	}

	childFactory := func(tokenAddress string) agent.Agent {
		return tokenchild.New(tokenAddress, tokenchild.Deps{
			Agent:       agentDeps,
			TokenSafety: registry.TokenSafety,
			Log:         log,
		})
	}
	c.Supervisor = supervisor.New(supervisor.Deps{
		Agent:        agentDeps,
		Config:       cfg,
		Registry:     registry,
		Closed:       c.Closed,
		ChildFactory: childFactory,
		Log:          log,
	})

	c.Server = server.New(server.Deps{
		Log:           log,
		Config:        cfg,
		Engine:        c.Engine,
		Messages:      c.Messages,
		Heartbeats:    c.Heartbeats,
		Registrations: c.Registrations,
		DecisionLog:   c.DecisionLog,
		Closed:        c.Closed,
		Events:        c.Events,
		Databases: map[string]*database.DB{
			"swarm":  c.SwarmDB,
			"ledger": c.LedgerDB,
			"cache":  c.CacheDB,
		},
	})

	if err := c.wireHousekeeping(ctx, cfg, log); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) wireHousekeeping(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	databases := map[string]*database.DB{
		"swarm":  c.SwarmDB,
		"ledger": c.LedgerDB,
		"cache":  c.CacheDB,
	}
	deps := housekeeping.Deps{
		Collector: bus.NewCollector(c.Messages, c.Heartbeats, c.State,
			time.Duration(cfg.AuditRetentionDays)*24*time.Hour, log),
		Maintenance:         reliability.NewMaintenance(databases, cfg.DataDir, log),
		BackupRetentionDays: cfg.BackupRetentionDays,
	}

	if cfg.BackupEnabled {
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Endpoint:    cfg.BackupEndpoint,
			AccessKeyID: cfg.BackupAccessKeyID,
			SecretKey:   cfg.BackupSecretKey,
			Bucket:      cfg.BackupBucket,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize backup store: %w", err)
		}
		// Backups snapshot the audit databases; the cache is rebuildable.
		deps.Backups = reliability.NewBackupService(map[string]*database.DB{
			"swarm":  c.SwarmDB,
			"ledger": c.LedgerDB,
		}, store, cfg.DataDir, cfg.BackupPrefix, log)
	}

	c.Housekeeping = housekeeping.New(log)
	return housekeeping.Wire(c.Housekeeping, deps)
}
