// Package housekeeping schedules the swarm's recurring upkeep: bus garbage
// collection, database maintenance, and audit backups.
package housekeeping

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/metrics"
	"github.com/MRT0B13/novaos/internal/reliability"
)

// jobTimeout bounds every scheduled run; a wedged job must not hold its
// slot past the next tick.
const jobTimeout = 30 * time.Minute

// Job is one schedulable unit of upkeep.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler runs jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates an empty scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "housekeeping").Logger(),
	}
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Housekeeping started")
}

// Stop waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Housekeeping stopped")
}

// AddJob registers a job. Schedules use standard five-field cron syntax or
// descriptors like "@every 6h".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		s.log.Debug().Str("job", job.Name()).Msg("Running job")
		if err := job.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("Job registered")
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run(ctx)
}

// Deps holds the services the standard jobs act on. Backups is nil when no
// bucket is configured; its jobs are then skipped.
type Deps struct {
	Collector   *bus.Collector
	Maintenance *reliability.Maintenance
	Backups     *reliability.BackupService

	// BackupRetentionDays feeds rotation after each backup run.
	BackupRetentionDays int
}

// Wire registers the standard job set:
//   - bus GC every 6 hours
//   - daily maintenance (integrity + WAL checkpoint) at 02:00
//   - weekly vacuum on Sunday at 03:00
//   - audit backup and rotation daily at 02:30
func Wire(s *Scheduler, d Deps) error {
	if err := s.AddJob("@every 6h", &gcJob{collector: d.Collector}); err != nil {
		return err
	}
	if err := s.AddJob("0 2 * * *", &maintenanceJob{maintenance: d.Maintenance}); err != nil {
		return err
	}
	if err := s.AddJob("0 3 * * 0", &vacuumJob{maintenance: d.Maintenance}); err != nil {
		return err
	}
	if d.Backups != nil {
		if err := s.AddJob("30 2 * * *", &backupJob{
			backups:       d.Backups,
			retentionDays: d.BackupRetentionDays,
		}); err != nil {
			return err
		}
	}
	return nil
}

type gcJob struct {
	collector *bus.Collector
}

func (j *gcJob) Name() string { return "bus_gc" }

func (j *gcJob) Run(ctx context.Context) error {
	result, err := j.collector.Run(ctx)
	metrics.GCRowsRemoved.WithLabelValues("acked_messages").Add(float64(result.AckedMessages))
	metrics.GCRowsRemoved.WithLabelValues("expired_messages").Add(float64(result.ExpiredMessages))
	metrics.GCRowsRemoved.WithLabelValues("heartbeats").Add(float64(result.Heartbeats))
	metrics.GCRowsRemoved.WithLabelValues("audit_keys").Add(float64(result.AuditKeys))
	return err
}

type maintenanceJob struct {
	maintenance *reliability.Maintenance
}

func (j *maintenanceJob) Name() string { return "daily_maintenance" }

func (j *maintenanceJob) Run(ctx context.Context) error {
	return j.maintenance.Daily(ctx)
}

type vacuumJob struct {
	maintenance *reliability.Maintenance
}

func (j *vacuumJob) Name() string { return "weekly_vacuum" }

func (j *vacuumJob) Run(ctx context.Context) error {
	return j.maintenance.Vacuum(ctx)
}

type backupJob struct {
	backups       *reliability.BackupService
	retentionDays int
}

func (j *backupJob) Name() string { return "audit_backup" }

func (j *backupJob) Run(ctx context.Context) error {
	if err := j.backups.Run(ctx); err != nil {
		return err
	}
	_, err := j.backups.Rotate(ctx, j.retentionDays)
	return err
}
