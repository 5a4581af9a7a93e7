package bus

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// AuditKeyPrefix marks key/value entries that are kept for the audit window
// and then garbage collected.
const AuditKeyPrefix = "audit."

// GCResult reports what one garbage collection pass removed.
type GCResult struct {
	AckedMessages   int64
	ExpiredMessages int64
	Heartbeats      int64
	AuditKeys       int64
}

// Total returns the total number of rows removed.
func (r GCResult) Total() int64 {
	return r.AckedMessages + r.ExpiredMessages + r.Heartbeats + r.AuditKeys
}

// Collector garbage-collects the swarm database. Acknowledged messages and
// audit keys stay for the retention window (at least 7 days) before removal;
// expired undelivered messages and long-stopped heartbeat rows go as soon as
// a pass sees them.
type Collector struct {
	messages   *MessageRepository
	heartbeats *HeartbeatRepository
	state      *StateRepository
	retention  time.Duration
	log        zerolog.Logger
}

// NewCollector creates a garbage collector over the swarm repositories.
// Retention below 7 days is raised to 7 days.
func NewCollector(messages *MessageRepository, heartbeats *HeartbeatRepository, state *StateRepository, retention time.Duration, log zerolog.Logger) *Collector {
	if retention < 7*24*time.Hour {
		retention = 7 * 24 * time.Hour
	}
	return &Collector{
		messages:   messages,
		heartbeats: heartbeats,
		state:      state,
		retention:  retention,
		log:        log.With().Str("component", "bus-gc").Logger(),
	}
}

// Run executes one garbage collection pass. Each step is independent; a
// failing step is logged and the pass continues, returning the joined errors
// alongside whatever was removed.
func (c *Collector) Run(ctx context.Context) (GCResult, error) {
	cutoff := time.Now().Add(-c.retention)
	var result GCResult
	var errs []error

	n, err := c.messages.DeleteAckedBefore(ctx, cutoff)
	if err != nil {
		c.log.Warn().Err(err).Msg("GC of acknowledged messages failed")
		errs = append(errs, err)
	}
	result.AckedMessages = n

	n, err = c.messages.DeleteExpired(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("GC of expired messages failed")
		errs = append(errs, err)
	}
	result.ExpiredMessages = n

	n, err = c.heartbeats.DeleteStoppedBefore(ctx, cutoff)
	if err != nil {
		c.log.Warn().Err(err).Msg("GC of stopped heartbeats failed")
		errs = append(errs, err)
	}
	result.Heartbeats = n

	n, err = c.state.DeleteByPrefixBefore(AuditKeyPrefix, cutoff)
	if err != nil {
		c.log.Warn().Err(err).Msg("GC of audit keys failed")
		errs = append(errs, err)
	}
	result.AuditKeys = n

	c.log.Info().
		Int64("acked_messages", result.AckedMessages).
		Int64("expired_messages", result.ExpiredMessages).
		Int64("heartbeats", result.Heartbeats).
		Int64("audit_keys", result.AuditKeys).
		Msg("Bus garbage collection completed")

	return result, errors.Join(errs...)
}
