// Package launcher polls the launchpad source and reports token lifecycle
// events to the supervisor, which spawns monitoring children for them.
package launcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
)

const pollEvery = 5 * time.Minute

// State persists the poll high-water mark so restarts never re-announce.
type State struct {
	LastSeenAt  time.Time `msgpack:"lastSeenAt"`
	EventsSent  int       `msgpack:"eventsSent"`
}

// Launcher is the launchpad watcher.
type Launcher struct {
	*agent.Base

	cfg *config.Config
	reg *collab.Registry
	log zerolog.Logger

	state State
}

func New(cfg *config.Config, reg *collab.Registry, deps agent.Deps) *Launcher {
	return &Launcher{
		Base: agent.NewBase(agent.LauncherName, "launcher", deps),
		cfg:  cfg,
		reg:  reg,
		log:  deps.Log.With().Str("component", "launcher").Logger(),
	}
}

func (l *Launcher) Start(ctx context.Context) error {
	if err := l.Base.Start(ctx); err != nil {
		return err
	}
	if _, err := l.RestoreState(&l.state); err != nil {
		l.log.Warn().Err(err).Msg("Launcher state restore failed; starting fresh")
	}
	return l.AddInterval("poll", pollEvery, l.poll)
}

func (l *Launcher) poll(ctx context.Context) error {
	if !l.reg.HasLaunchpad() {
		return nil
	}
	l.SetTask("polling launchpad")
	defer l.SetTask("")

	since := l.state.LastSeenAt
	if since.IsZero() {
		since = time.Now().Add(-pollEvery)
	}

	eventsList, err := l.reg.Launchpad.RecentEvents(ctx, since)
	if err != nil {
		l.log.Debug().Err(err).Msg("Launchpad unavailable; poll skipped")
		return nil
	}

	for _, ev := range eventsList {
		if err := l.announce(ctx, ev); err != nil {
			l.log.Warn().Err(err).Str("token", ev.TokenAddress).Msg("Failed to announce launch event")
			continue
		}
		if ev.At.After(l.state.LastSeenAt) {
			l.state.LastSeenAt = ev.At
		}
		l.state.EventsSent++
	}
	if len(eventsList) > 0 {
		_ = l.SaveState(l.state)
	}
	return nil
}

func (l *Launcher) announce(ctx context.Context, ev collab.LaunchpadEvent) error {
	payload, err := bus.Encode(&bus.LaunchEvent{
		Stage:        ev.Stage,
		TokenAddress: ev.TokenAddress,
		Name:         ev.Name,
		Symbol:       ev.Symbol,
		MarketCapUsd: ev.MarketCapUsd,
	})
	if err != nil {
		return err
	}

	// Graduations matter more: they are the spawn trigger downstream.
	priority := bus.PriorityLow
	if ev.Stage == "graduated" {
		priority = bus.PriorityMedium
	}
	return l.ReportToSupervisor(ctx, bus.TypeStatus, priority, payload)
}
