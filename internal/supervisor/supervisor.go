// Package supervisor implements the swarm's communication hub. It routes
// worker reports through a handler registry, gates everything that leaves
// the swarm (dedup, cooldowns, outbound content filter), manages spawned
// token-child agents, and sends the periodic briefings.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/agent"
	"github.com/MRT0B13/novaos/internal/bus"
	"github.com/MRT0B13/novaos/internal/collab"
	"github.com/MRT0B13/novaos/internal/config"
	"github.com/MRT0B13/novaos/internal/events"
	"github.com/MRT0B13/novaos/internal/ledger"
	"github.com/MRT0B13/novaos/internal/metrics"
)

const pollBatchSize = 10

// Handler processes one routed bus message. Errors are logged; the message
// is acknowledged either way so a poison message cannot wedge the loop.
type Handler func(ctx context.Context, m *bus.Message) error

type handlerKey struct {
	from    string // "*" matches any sender
	msgType bus.MessageType
}

// ChildFactory builds a stoppable token-child agent for one mint address.
// Injected at wire time so this package stays independent of the concrete
// worker implementations.
type ChildFactory func(tokenAddress string) agent.Agent

// State is the supervisor's persisted working memory.
type State struct {
	MessagesProcessed   int       `msgpack:"messagesProcessed"`
	LastBriefingAt      time.Time `msgpack:"lastBriefingAt"`
	LastNarrativePostAt time.Time `msgpack:"lastNarrativePostAt"`
	RecentXPostHashes   []string  `msgpack:"recentXPostHashes"`
}

// Deps bundles what the supervisor needs beyond the agent runtime.
type Deps struct {
	Agent        agent.Deps
	Config       *config.Config
	Registry     *collab.Registry
	Closed       *ledger.ClosedPositionRepository // optional, briefing PnL stats
	ChildFactory ChildFactory                     // optional, disables spawning when nil
	Log          zerolog.Logger
}

// Supervisor is the routing hub. It embeds the agent runtime for its poll
// and briefing loops and is addressed on the bus as nova-supervisor.
type Supervisor struct {
	*agent.Base

	cfg        *config.Config
	reg        *collab.Registry
	closed     *ledger.ClosedPositionRepository
	childMake  ChildFactory
	log        zerolog.Logger
	events     *events.Bus

	mu       sync.Mutex
	handlers map[handlerKey]Handler
	state    State
	children map[string]agent.Agent // token address -> running child

	now func() time.Time
}

// New creates the supervisor with the default handler set registered.
func New(d Deps) *Supervisor {
	s := &Supervisor{
		Base:      agent.NewBase(agent.SupervisorName, "supervisor", d.Agent),
		cfg:       d.Config,
		reg:       d.Registry,
		closed:    d.Closed,
		childMake: d.ChildFactory,
		log:       d.Log.With().Str("component", "supervisor").Logger(),
		events:    d.Agent.Events,
		handlers:  make(map[handlerKey]Handler),
		children:  make(map[string]agent.Agent),
		now:       time.Now,
	}
	s.registerDefaultHandlers()
	return s
}

// RegisterHandler routes messages from one sender and type. A from of "*"
// matches any sender not covered by an exact registration.
func (s *Supervisor) RegisterHandler(from string, msgType bus.MessageType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[handlerKey{from, msgType}] = h
}

// Start restores persisted state and arms the poll and briefing loops.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.Base.Start(ctx); err != nil {
		return err
	}

	var st State
	if ok, err := s.RestoreState(&st); err != nil {
		s.log.Warn().Err(err).Msg("Failed to restore supervisor state; starting fresh")
	} else if ok {
		s.mu.Lock()
		s.state = st
		s.mu.Unlock()
		s.log.Info().
			Int("messages_processed", st.MessagesProcessed).
			Time("last_briefing", st.LastBriefingAt).
			Msg("Supervisor state restored")
	}

	if err := s.AddInterval("poll", s.cfg.PollInterval, s.pollOnce); err != nil {
		return err
	}
	return s.AddInterval("briefing", s.cfg.BriefingInterval, s.sendBriefing)
}

// Stop tears down all children concurrently, then the supervisor itself.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	children := make([]agent.Agent, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.children = make(map[string]agent.Agent)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c agent.Agent) {
			defer wg.Done()
			if err := c.Stop(ctx); err != nil {
				s.log.Warn().Err(err).Str("child", c.Name()).Msg("Child stop failed")
			}
		}(c)
	}
	wg.Wait()

	return s.Base.Stop(ctx)
}

// pollOnce reads one batch of messages and dispatches each through the
// registry. Every message is acknowledged, handled or not; panics are
// contained per handler so the batch continues.
func (s *Supervisor) pollOnce(ctx context.Context) error {
	msgs, err := s.ReadMessages(ctx, pollBatchSize)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	var handled int
	for i := range msgs {
		m := &msgs[i]
		if s.dispatch(ctx, m) {
			handled++
		}
		if err := s.AcknowledgeMessage(ctx, m.ID); err != nil {
			s.log.Warn().Err(err).Str("id", m.ID).Msg("Failed to ack message")
		}
	}

	if handled > 0 {
		s.mu.Lock()
		s.state.MessagesProcessed += handled
		s.mu.Unlock()
		s.persistState()
	}
	return nil
}

// dispatch routes one message: exact (sender, type) first, then the
// wildcard sender. Returns whether a handler ran.
func (s *Supervisor) dispatch(ctx context.Context, m *bus.Message) bool {
	s.mu.Lock()
	h, ok := s.handlers[handlerKey{m.From, m.Type}]
	if !ok {
		h, ok = s.handlers[handlerKey{"*", m.Type}]
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug().Str("from", m.From).Str("type", string(m.Type)).Msg("No handler registered")
		return false
	}

	s.runHandler(ctx, m, h)
	return true
}

// runHandler executes one handler with panic containment.
func (s *Supervisor) runHandler(ctx context.Context, m *bus.Message, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(m.From + "/" + string(m.Type)).Inc()
			s.log.Error().
				Interface("panic", r).
				Str("from", m.From).
				Str("type", string(m.Type)).
				Msg("Handler panicked")
		}
	}()

	if err := h(ctx, m); err != nil {
		s.log.Warn().Err(err).Str("from", m.From).Str("type", string(m.Type)).Msg("Handler failed")
	}
}

// SpawnChild creates and starts a token child for the given mint. Spawning
// the same address twice is a no-op.
func (s *Supervisor) SpawnChild(ctx context.Context, tokenAddress string) error {
	if s.childMake == nil {
		s.log.Debug().Str("token", tokenAddress).Msg("No child factory wired; spawn skipped")
		return nil
	}

	s.mu.Lock()
	if _, exists := s.children[tokenAddress]; exists {
		s.mu.Unlock()
		return nil
	}
	child := s.childMake(tokenAddress)
	s.children[tokenAddress] = child
	s.mu.Unlock()

	if err := child.Start(ctx); err != nil {
		s.mu.Lock()
		delete(s.children, tokenAddress)
		s.mu.Unlock()
		return err
	}

	if s.events != nil {
		s.events.Publish(events.ChildSpawned, "supervisor", &events.ChildSpawnedData{
			TokenAddress: tokenAddress,
			AgentName:    child.Name(),
		})
	}
	s.log.Info().Str("child", child.Name()).Str("token", tokenAddress).Msg("Token child spawned")
	return nil
}

// DeactivateChild stops and removes one token child by address.
func (s *Supervisor) DeactivateChild(ctx context.Context, tokenAddress string) error {
	s.mu.Lock()
	child, ok := s.children[tokenAddress]
	delete(s.children, tokenAddress)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	err := child.Stop(ctx)
	if s.events != nil {
		s.events.Publish(events.ChildStopped, "supervisor", &events.ChildStoppedData{
			TokenAddress: tokenAddress,
			AgentName:    child.Name(),
		})
	}
	s.log.Info().Str("child", child.Name()).Str("token", tokenAddress).Msg("Token child deactivated")
	return err
}

// ChildCount returns how many token children are running.
func (s *Supervisor) ChildCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// childAddressFor resolves a child agent name back to its token address.
func (s *Supervisor) childAddressFor(agentName string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, c := range s.children {
		if c.Name() == agentName {
			return addr, true
		}
	}
	return "", false
}

// persistState writes the supervisor state; failures are non-fatal.
func (s *Supervisor) persistState() {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if err := s.SaveState(&st); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist supervisor state")
	}
}
