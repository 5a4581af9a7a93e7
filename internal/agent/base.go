// Package agent provides the runtime every swarm member embeds: lifecycle,
// registration, heartbeats, recurring intervals, bus access, and durable
// state. Workers embed *Base, wrap Start to arm their intervals, and get
// everything else for free.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/metrics"
)

// Well-known agent names.
const (
	SupervisorName = "nova-supervisor"
	ScoutName      = "nova-scout"
	GuardianName   = "nova-guardian"
	AnalystName    = "nova-analyst"
	CommunityName  = "nova-community"
	LauncherName   = "nova-launcher"
	HealthName     = "nova-health"
	CFOName        = "nova-cfo"

	// TokenChildPrefix + mint address names a spawned token child.
	TokenChildPrefix = "nova-token-"
)

// DefaultHeartbeatInterval is used when Deps does not set one.
const DefaultHeartbeatInterval = 30 * time.Second

// Agent is the lifecycle contract the supervisor manages children through.
type Agent interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Deps bundles the shared infrastructure a Base needs. Events may be nil.
type Deps struct {
	Messages       *bus.MessageRepository
	Heartbeats     *bus.HeartbeatRepository
	Registrations  *bus.RegistrationRepository
	State          *bus.StateRepository
	Events         *events.Bus
	HeartbeatEvery time.Duration
	Log            zerolog.Logger
}

// Base is the embedded agent runtime. All loops started through it share one
// cancellation scope, so Stop is a single cancel plus join.
type Base struct {
	name      string
	agentType string
	deps      Deps
	log       zerolog.Logger

	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	runCtx      context.Context
	wg          sync.WaitGroup
	currentTask string
}

// NewBase creates the runtime for one named agent.
func NewBase(name, agentType string, deps Deps) *Base {
	if deps.HeartbeatEvery <= 0 {
		deps.HeartbeatEvery = DefaultHeartbeatInterval
	}
	return &Base{
		name:      name,
		agentType: agentType,
		deps:      deps,
		log:       deps.Log.With().Str("component", "agent").Str("agent", name).Logger(),
	}
}

// Name returns the agent's bus address.
func (b *Base) Name() string { return b.name }

// Log returns the agent-scoped logger for embedding workers.
func (b *Base) Log() zerolog.Logger { return b.log }

// Start registers the agent and begins the heartbeat loop. Idempotent; a
// second Start while running is a no-op. The interval scope outlives the
// passed context, which only bounds the registration writes.
func (b *Base) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.runCtx, b.cancel = context.WithCancel(context.Background())
	b.started = true
	runCtx := b.runCtx
	b.mu.Unlock()

	err := b.deps.Registrations.Upsert(ctx, &bus.AgentRegistration{
		Name:    b.name,
		Type:    b.agentType,
		Enabled: true,
	})
	if err != nil {
		b.mu.Lock()
		b.started = false
		cancel := b.cancel
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to register %s: %w", b.name, err)
	}

	b.beat(ctx, bus.StatusAlive)
	b.publishStatus(string(bus.StatusAlive))
	b.startHeartbeat(runCtx, b.deps.HeartbeatEvery)

	b.log.Info().Str("type", b.agentType).Msg("Agent started")
	return nil
}

// Stop cancels the interval scope, waits for loops to drain, and writes the
// terminal disabled heartbeat. Safe to call more than once and safe when the
// agent never started.
func (b *Base) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()

	if err := b.deps.Heartbeats.Beat(ctx, b.name, bus.StatusDisabled, "stopped"); err != nil {
		b.log.Warn().Err(err).Msg("Failed to write terminal heartbeat")
	}
	b.publishStatus(string(bus.StatusDisabled))

	b.log.Info().Msg("Agent stopped")
	return nil
}

// SetTask updates the free-form label carried on the next heartbeat.
func (b *Base) SetTask(task string) {
	b.mu.Lock()
	b.currentTask = task
	b.mu.Unlock()
}

// AddInterval runs fn every period until the agent stops. The returned error
// from fn is logged, a panic is recovered, and the loop continues either
// way. Must be called after Start.
func (b *Base) AddInterval(name string, every time.Duration, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return fmt.Errorf("agent %s is not started", b.name)
	}

	ctx := b.runCtx
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.runInterval(ctx, name, fn)
			}
		}
	}()

	b.log.Debug().Str("interval", name).Dur("every", every).Msg("Interval armed")
	return nil
}

// runInterval executes one tick with panic recovery.
func (b *Base) runInterval(ctx context.Context, name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("interval", name).Msg("Interval panicked")
		}
	}()

	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		b.log.Warn().Err(err).Str("interval", name).Msg("Interval run failed")
	}
}

// startHeartbeat arms the heartbeat loop on the agent's run scope.
func (b *Base) startHeartbeat(ctx context.Context, every time.Duration) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.beat(ctx, bus.StatusAlive)
			}
		}
	}()
}

// beat writes one heartbeat row. Failures are logged and swallowed; a missed
// beat must never take an agent down.
func (b *Base) beat(ctx context.Context, status bus.HeartbeatStatus) {
	b.mu.Lock()
	task := b.currentTask
	b.mu.Unlock()

	if err := b.deps.Heartbeats.Beat(ctx, b.name, status, task); err != nil {
		b.log.Warn().Err(err).Msg("Heartbeat failed")
	}
}

// SendMessage enqueues a durable message. A ttl of zero means the message
// never expires.
func (b *Base) SendMessage(ctx context.Context, to string, msgType bus.MessageType, priority bus.Priority, payload map[string]interface{}, ttl time.Duration) error {
	msg := &bus.Message{
		From:     b.name,
		To:       to,
		Type:     msgType,
		Priority: priority,
		Payload:  payload,
	}
	if ttl > 0 {
		expires := time.Now().Add(ttl).UTC()
		msg.ExpiresAt = &expires
	}

	if err := b.deps.Messages.Send(ctx, msg); err != nil {
		return err
	}
	metrics.MessagesSent.WithLabelValues(string(msgType), string(priority)).Inc()
	return nil
}

// ReportToSupervisor sends to the supervisor with the source agent and a
// timestamp merged into the payload. Reports expire after a day; stale intel
// is worse than none.
func (b *Base) ReportToSupervisor(ctx context.Context, msgType bus.MessageType, priority bus.Priority, payload map[string]interface{}) error {
	merged := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		merged[k] = v
	}
	merged["source"] = b.name
	merged["timestamp"] = time.Now().Unix()

	return b.SendMessage(ctx, SupervisorName, msgType, priority, merged, 24*time.Hour)
}

// ReadMessages returns up to limit pending messages for this agent in
// delivery order.
func (b *Base) ReadMessages(ctx context.Context, limit int) ([]bus.Message, error) {
	return b.deps.Messages.Poll(ctx, b.name, limit)
}

// AcknowledgeMessage marks one message as handled. Idempotent.
func (b *Base) AcknowledgeMessage(ctx context.Context, id string) error {
	if err := b.deps.Messages.Acknowledge(ctx, id); err != nil {
		return err
	}
	metrics.MessagesDelivered.WithLabelValues(b.name).Inc()
	return nil
}

// SaveState persists the agent's working memory under its name.
func (b *Base) SaveState(v interface{}) error {
	return b.deps.State.SaveState(b.name, v)
}

// RestoreState loads previously saved working memory. Returns false when the
// agent has none.
func (b *Base) RestoreState(v interface{}) (bool, error) {
	return b.deps.State.RestoreState(b.name, v)
}

// Messages exposes the message repository for components that need queries
// beyond the inbox, such as the supervisor briefing.
func (b *Base) Messages() *bus.MessageRepository { return b.deps.Messages }

// Heartbeats exposes the heartbeat repository.
func (b *Base) Heartbeats() *bus.HeartbeatRepository { return b.deps.Heartbeats }

// Deps returns the dependency bundle so the supervisor can hand it to
// spawned children.
func (b *Base) Deps() Deps { return b.deps }

// publishStatus emits an in-process status event when an event bus is wired.
func (b *Base) publishStatus(status string) {
	if b.deps.Events == nil {
		return
	}
	b.mu.Lock()
	task := b.currentTask
	b.mu.Unlock()
	b.deps.Events.Publish(events.AgentStatusChanged, "agent", &events.AgentStatusChangedData{
		Name:   b.name,
		Status: status,
		Task:   task,
	})
}
