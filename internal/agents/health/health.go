// Package health watches the host and the swarm itself: cpu/mem/disk
// pressure, bus backlog, and heartbeat staleness. Dead token children get a
// deactivation command sent to the supervisor.
package health

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/metrics"
)

const (
	checkInterval = 2 * time.Minute

	// Pressure thresholds that lift the report to high priority.
	cpuWarnPct  = 85.0
	memWarnPct  = 90.0
	diskWarnPct = 90.0

	// busBacklogWarn is queued supervisor-bound messages before the host
	// report escalates.
	busBacklogWarn = 200

	// staleAfter is how long without a beat before an agent counts as
	// stale; dead children get deactivated after deadAfter.
	staleAfter = 2 * time.Minute
	deadAfter  = 10 * time.Minute
)

// Health is the vitals agent.
type Health struct {
	*agent.Base

	cfg *config.Config
	log zerolog.Logger

	// cpuSample is swapped in tests; cpu.Percent blocks for its interval.
	cpuSample func() (float64, error)
}

func New(cfg *config.Config, deps agent.Deps) *Health {
	return &Health{
		Base:      agent.NewBase(agent.HealthName, "health", deps),
		cfg:       cfg,
		log:       deps.Log.With().Str("component", "health").Logger(),
		cpuSample: sampleCpu,
	}
}

func (h *Health) Start(ctx context.Context) error {
	if err := h.Base.Start(ctx); err != nil {
		return err
	}
	return h.AddInterval("check", checkInterval, h.check)
}

func (h *Health) check(ctx context.Context) error {
	h.SetTask("health check")
	defer h.SetTask("")

	report := h.buildReport(ctx)
	h.sweepStale(ctx, report)

	payload, err := bus.Encode(report)
	if err != nil {
		return err
	}
	priority := bus.PriorityLow
	if report.CpuPct >= cpuWarnPct || report.MemPct >= memWarnPct ||
		report.DiskPct >= diskWarnPct || report.BusPending >= busBacklogWarn {
		priority = bus.PriorityHigh
	}
	return h.ReportToSupervisor(ctx, bus.TypeReport, priority, payload)
}

func (h *Health) buildReport(ctx context.Context) *bus.HealthReport {
	report := &bus.HealthReport{}

	if pct, err := h.cpuSample(); err == nil {
		report.CpuPct = pct
	} else {
		h.log.Debug().Err(err).Msg("CPU sample failed")
	}
	if stat, err := mem.VirtualMemory(); err == nil {
		report.MemPct = stat.UsedPercent
	} else {
		h.log.Debug().Err(err).Msg("Memory sample failed")
	}
	if stat, err := disk.Usage(h.cfg.DataDir); err == nil {
		report.DiskPct = stat.UsedPercent
	} else {
		h.log.Debug().Err(err).Msg("Disk sample failed")
	}
	if pending, err := h.Messages().CountPending(ctx, agent.SupervisorName); err == nil {
		report.BusPending = pending
		metrics.BusPendingMessages.WithLabelValues(agent.SupervisorName).Set(float64(pending))
	}
	return report
}

// sweepStale fills StaleAgents, downgrades their status, and asks the
// supervisor to deactivate token children that went fully dead.
func (h *Health) sweepStale(ctx context.Context, report *bus.HealthReport) {
	stale, err := h.Heartbeats().Stale(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		h.log.Debug().Err(err).Msg("Stale sweep failed")
		return
	}

	deadCutoff := time.Now().Add(-deadAfter)
	for _, hb := range stale {
		if hb.Status == bus.StatusDisabled || hb.Name == agent.HealthName {
			continue
		}
		report.StaleAgents = append(report.StaleAgents, hb.Name)

		if hb.LastBeat.After(deadCutoff) {
			if hb.Status == bus.StatusAlive {
				_ = h.Heartbeats().MarkStatus(ctx, hb.Name, bus.StatusDegraded)
			}
			continue
		}

		if err := h.Heartbeats().MarkStatus(ctx, hb.Name, bus.StatusDead); err != nil {
			h.log.Warn().Err(err).Str("agent", hb.Name).Msg("Failed to mark agent dead")
		}
		if strings.HasPrefix(hb.Name, agent.TokenChildPrefix) {
			h.requestChildDeactivation(ctx, hb.Name)
		}
	}
}

func (h *Health) requestChildDeactivation(ctx context.Context, childName string) {
	payload, err := bus.Encode(&bus.AdminCommand{
		Command: "deactivate_child",
		Args:    []string{childName},
	})
	if err != nil {
		return
	}
	if err := h.SendMessage(ctx, agent.SupervisorName, bus.TypeCommand, bus.PriorityHigh, payload, time.Hour); err != nil {
		h.log.Warn().Err(err).Str("child", childName).Msg("Failed to request child deactivation")
		return
	}
	h.log.Info().Str("child", childName).Msg("Requested deactivation of dead token child")
}

func sampleCpu() (float64, error) {
	// 100ms sample keeps the check loop responsive; see the interval docs
	// on cpu.Percent.
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, nil
	}
	return pcts[0], nil
}
